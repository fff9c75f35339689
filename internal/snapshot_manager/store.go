package snapshot_manager

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/lewisedginton/memory_chatbot/internal/storage_manager"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
)

const (
	detailsPrefix    = "details"
	basesPrefix      = "bases"
	associationsFile = "associations.json"
)

// associations is the bidirectional reference index persisted alongside
// the snapshot records.
type associations struct {
	MemoryToDetails map[string][]string `json:"memory_to_details"`
	DetailToBases   map[string][]string `json:"detail_to_bases"`
}

// SnapshotStore persists both snapshot tiers and the association tables
// between memories, detail snapshots and base snapshots. List reads are
// served from a cache that write paths invalidate before mutating, so a
// reader never sees a half-applied update.
type SnapshotStore struct {
	mu       sync.RWMutex
	details  map[string]DetailSnapshot
	bases    map[string]BaseSnapshot
	assoc    associations
	provider storage_manager.FileProvider
	cache    *listCache
	log      logger.Logger
}

// NewSnapshotStore creates an empty snapshot store.
func NewSnapshotStore(provider storage_manager.FileProvider, log logger.Logger) *SnapshotStore {
	return &SnapshotStore{
		details: make(map[string]DetailSnapshot),
		bases:   make(map[string]BaseSnapshot),
		assoc: associations{
			MemoryToDetails: make(map[string][]string),
			DetailToBases:   make(map[string][]string),
		},
		provider: provider,
		cache:    newListCache(),
		log:      log.WithFields(logger.StringField("component", "snapshot_store")),
	}
}

// SaveDetail persists a detail snapshot and indexes its memory refs.
func (s *SnapshotStore) SaveDetail(ctx context.Context, d DetailSnapshot) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal detail snapshot %s: %w", d.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.invalidate()

	if err := s.provider.Write(ctx, detailsPrefix+"/"+d.ID+".json", data); err != nil {
		return fmt.Errorf("write detail snapshot %s: %w", d.ID, err)
	}
	s.details[d.ID] = d
	for _, memID := range d.MemoryRefs {
		s.assoc.MemoryToDetails[memID] = appendUnique(s.assoc.MemoryToDetails[memID], d.ID)
	}
	return s.writeAssociationsLocked(ctx)
}

// SaveBase persists a base snapshot and indexes its detail refs.
func (s *SnapshotStore) SaveBase(ctx context.Context, b BaseSnapshot) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal base snapshot %s: %w", b.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.invalidate()

	if err := s.provider.Write(ctx, basesPrefix+"/"+b.ID+".json", data); err != nil {
		return fmt.Errorf("write base snapshot %s: %w", b.ID, err)
	}
	s.bases[b.ID] = b
	for _, detailID := range b.DetailSnapshotIDs {
		s.assoc.DetailToBases[detailID] = appendUnique(s.assoc.DetailToBases[detailID], b.ID)
	}
	return s.writeAssociationsLocked(ctx)
}

// GetDetail returns a detail snapshot by id.
func (s *SnapshotStore) GetDetail(id string) (DetailSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.details[id]
	return d, ok
}

// GetBase returns a base snapshot by id.
func (s *SnapshotStore) GetBase(id string) (BaseSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bases[id]
	return b, ok
}

// HasDetail reports whether a detail snapshot id resolves.
func (s *SnapshotStore) HasDetail(id string) bool {
	_, ok := s.GetDetail(id)
	return ok
}

// ListDetails returns all detail snapshots ordered by timestamp, newest
// first. Served from cache until the next write.
func (s *SnapshotStore) ListDetails() []DetailSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cached, ok := s.cache.details(); ok {
		return cached
	}
	list := make([]DetailSnapshot, 0, len(s.details))
	for _, d := range s.details {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Timestamp.Equal(list[j].Timestamp) {
			return list[i].ID < list[j].ID
		}
		return list[i].Timestamp.After(list[j].Timestamp)
	})
	s.cache.setDetails(list)
	return list
}

// ListBases returns all base snapshots ordered by timestamp, newest first.
func (s *SnapshotStore) ListBases() []BaseSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cached, ok := s.cache.bases(); ok {
		return cached
	}
	list := make([]BaseSnapshot, 0, len(s.bases))
	for _, b := range s.bases {
		list = append(list, b)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Timestamp.Equal(list[j].Timestamp) {
			return list[i].ID < list[j].ID
		}
		return list[i].Timestamp.After(list[j].Timestamp)
	})
	s.cache.setBases(list)
	return list
}

// DetailsForMemory returns ids of detail snapshots referencing a memory.
func (s *SnapshotStore) DetailsForMemory(memoryID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.assoc.MemoryToDetails[memoryID]...)
}

// BasesForDetail returns ids of base snapshots referencing a detail
// snapshot.
func (s *SnapshotStore) BasesForDetail(detailID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.assoc.DetailToBases[detailID]...)
}

// DeleteDetail removes a detail snapshot and detaches it from any base
// snapshots. A base left with no details is removed too.
func (s *SnapshotStore) DeleteDetail(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteDetailLocked(ctx, id)
}

func (s *SnapshotStore) deleteDetailLocked(ctx context.Context, id string) error {
	d, ok := s.details[id]
	if !ok {
		return nil
	}
	s.cache.invalidate()

	if err := s.provider.Delete(ctx, detailsPrefix+"/"+id+".json"); err != nil {
		return fmt.Errorf("delete detail snapshot file %s: %w", id, err)
	}
	delete(s.details, id)
	for _, memID := range d.MemoryRefs {
		s.assoc.MemoryToDetails[memID] = removeString(s.assoc.MemoryToDetails[memID], id)
		if len(s.assoc.MemoryToDetails[memID]) == 0 {
			delete(s.assoc.MemoryToDetails, memID)
		}
	}

	var result error
	for _, baseID := range s.assoc.DetailToBases[id] {
		base, ok := s.bases[baseID]
		if !ok {
			continue
		}
		base.DetailSnapshotIDs = removeString(base.DetailSnapshotIDs, id)
		if len(base.DetailSnapshotIDs) == 0 {
			if err := s.deleteBaseLocked(ctx, baseID); err != nil {
				result = multierror.Append(result, err)
			}
			continue
		}
		data, err := json.Marshal(base)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := s.provider.Write(ctx, basesPrefix+"/"+baseID+".json", data); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		s.bases[baseID] = base
	}
	delete(s.assoc.DetailToBases, id)

	if err := s.writeAssociationsLocked(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

// DeleteBase removes a base snapshot.
func (s *SnapshotStore) DeleteBase(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteBaseLocked(ctx, id)
}

func (s *SnapshotStore) deleteBaseLocked(ctx context.Context, id string) error {
	b, ok := s.bases[id]
	if !ok {
		return nil
	}
	s.cache.invalidate()

	if err := s.provider.Delete(ctx, basesPrefix+"/"+id+".json"); err != nil {
		return fmt.Errorf("delete base snapshot file %s: %w", id, err)
	}
	delete(s.bases, id)
	for _, detailID := range b.DetailSnapshotIDs {
		s.assoc.DetailToBases[detailID] = removeString(s.assoc.DetailToBases[detailID], id)
		if len(s.assoc.DetailToBases[detailID]) == 0 {
			delete(s.assoc.DetailToBases, detailID)
		}
	}
	return s.writeAssociationsLocked(ctx)
}

// Clear removes all snapshots and associations.
func (s *SnapshotStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.invalidate()

	var result error
	for id := range s.details {
		if err := s.provider.Delete(ctx, detailsPrefix+"/"+id+".json"); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for id := range s.bases {
		if err := s.provider.Delete(ctx, basesPrefix+"/"+id+".json"); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := s.provider.Delete(ctx, associationsFile); err != nil {
		result = multierror.Append(result, err)
	}

	s.details = make(map[string]DetailSnapshot)
	s.bases = make(map[string]BaseSnapshot)
	s.assoc = associations{
		MemoryToDetails: make(map[string][]string),
		DetailToBases:   make(map[string][]string),
	}
	return result
}

// Load reads all persisted snapshots and associations.
func (s *SnapshotStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.invalidate()

	detailFiles, err := s.provider.List(ctx, detailsPrefix)
	if err != nil {
		return fmt.Errorf("list detail snapshots: %w", err)
	}
	for _, file := range detailFiles {
		if !strings.HasSuffix(file, ".json") {
			continue
		}
		data, err := s.provider.Read(ctx, file)
		if err != nil {
			return fmt.Errorf("read detail snapshot %s: %w", file, err)
		}
		var d DetailSnapshot
		if err := json.Unmarshal(data, &d); err != nil {
			s.log.Warn("Skipping unreadable detail snapshot",
				logger.StringField("file", file), logger.ErrorField(err))
			continue
		}
		s.details[d.ID] = d
	}

	baseFiles, err := s.provider.List(ctx, basesPrefix)
	if err != nil {
		return fmt.Errorf("list base snapshots: %w", err)
	}
	for _, file := range baseFiles {
		if !strings.HasSuffix(file, ".json") {
			continue
		}
		data, err := s.provider.Read(ctx, file)
		if err != nil {
			return fmt.Errorf("read base snapshot %s: %w", file, err)
		}
		var b BaseSnapshot
		if err := json.Unmarshal(data, &b); err != nil {
			s.log.Warn("Skipping unreadable base snapshot",
				logger.StringField("file", file), logger.ErrorField(err))
			continue
		}
		s.bases[b.ID] = b
	}

	exists, err := s.provider.Exists(ctx, associationsFile)
	if err != nil {
		return fmt.Errorf("check associations file: %w", err)
	}
	if exists {
		data, err := s.provider.Read(ctx, associationsFile)
		if err != nil {
			return fmt.Errorf("read associations: %w", err)
		}
		if err := json.Unmarshal(data, &s.assoc); err != nil {
			return fmt.Errorf("parse associations: %w", err)
		}
	} else {
		// Rebuild from the snapshots themselves.
		for id, d := range s.details {
			for _, memID := range d.MemoryRefs {
				s.assoc.MemoryToDetails[memID] = appendUnique(s.assoc.MemoryToDetails[memID], id)
			}
		}
		for id, b := range s.bases {
			for _, detailID := range b.DetailSnapshotIDs {
				s.assoc.DetailToBases[detailID] = appendUnique(s.assoc.DetailToBases[detailID], id)
			}
		}
	}

	s.log.Info("Snapshot store loaded",
		logger.IntField("details", len(s.details)),
		logger.IntField("bases", len(s.bases)))
	return nil
}

func (s *SnapshotStore) writeAssociationsLocked(ctx context.Context) error {
	data, err := json.Marshal(s.assoc)
	if err != nil {
		return fmt.Errorf("marshal associations: %w", err)
	}
	if err := s.provider.Write(ctx, associationsFile, data); err != nil {
		return fmt.Errorf("write associations: %w", err)
	}
	return nil
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

// removeString returns a fresh slice so callers holding the input, such
// as snapshots previously handed out by Get or List, never see it change
// underneath them.
func removeString(list []string, item string) []string {
	out := make([]string, 0, len(list))
	for _, existing := range list {
		if existing != item {
			out = append(out, existing)
		}
	}
	return out
}
