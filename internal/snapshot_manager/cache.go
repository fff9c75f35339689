package snapshot_manager

import "sync"

// listCache memoizes the snapshot list views. It has no TTL; write paths
// call invalidate before mutating store state, which is what keeps readers
// from ever observing a partially-applied update.
type listCache struct {
	mu          sync.Mutex
	detailList  []DetailSnapshot
	baseList    []BaseSnapshot
	detailValid bool
	baseValid   bool
}

func newListCache() *listCache {
	return &listCache{}
}

func (c *listCache) details() ([]DetailSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.detailValid {
		return nil, false
	}
	return c.detailList, true
}

func (c *listCache) setDetails(list []DetailSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detailList = list
	c.detailValid = true
}

func (c *listCache) bases() ([]BaseSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.baseValid {
		return nil, false
	}
	return c.baseList, true
}

func (c *listCache) setBases(list []BaseSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseList = list
	c.baseValid = true
}

func (c *listCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detailList = nil
	c.baseList = nil
	c.detailValid = false
	c.baseValid = false
}
