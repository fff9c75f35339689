package snapshot_manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/memory_chatbot/internal/config"
	"github.com/lewisedginton/memory_chatbot/internal/embedding"
	"github.com/lewisedginton/memory_chatbot/internal/memory_store"
	"github.com/lewisedginton/memory_chatbot/internal/oracle"
	"github.com/lewisedginton/memory_chatbot/internal/storage_manager"
	"github.com/lewisedginton/memory_chatbot/internal/vector_index"
	"github.com/lewisedginton/memory_chatbot/pkg/metrics"
)

const validBaseJSON = `{"category":"lifestyle","keywords":["habits"],"description":"user habits"}`

type managerFixture struct {
	manager  *Manager
	memories *memory_store.Store
	store    *SnapshotStore
	oracle   *fakeOracle
}

func newManagerFixture(t *testing.T, o *fakeOracle) *managerFixture {
	t.Helper()
	log := testLog(t)
	m := metrics.NewMetrics()
	embedder := embedding.NewMockEmbedder(384)
	root := storage_manager.NewLocalFileProvider(t.TempDir())

	memIndex, err := vector_index.New("memories", embedder, log)
	require.NoError(t, err)
	memories := memory_store.New(
		storage_manager.NewPrefixedFileProvider(root, storage_manager.NamespaceMemories),
		memIndex,
		config.MemoryConfig{ImportanceDecay: 0.995, MinImportance: 0.1},
		log, m,
	)

	baseIndex, err := vector_index.New("snapshots", embedder, log)
	require.NoError(t, err)
	store := NewSnapshotStore(storage_manager.NewPrefixedFileProvider(root, storage_manager.NamespaceSnapshots), log)

	manager := NewManager(store, NewGenerator(o, log, m), memories, embedder, baseIndex, config.SnapshotConfig{
		UpdateInterval:      24 * time.Hour,
		ClusterSimilarity:   0.8,
		MaxMemoriesPerBatch: 20,
	}, log, m)

	return &managerFixture{manager: manager, memories: memories, store: store, oracle: o}
}

func (f *managerFixture) addMemory(t *testing.T, content string) memory_store.MemoryEntry {
	t.Helper()
	entry, err := memory_store.NewEntry(content, 0.8, memory_store.TurnContext{UserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, f.memories.Save(context.Background(), entry))
	return entry
}

func TestManager_CycleWithNoMemoriesIsNoOp(t *testing.T) {
	f := newManagerFixture(t, &fakeOracle{})

	require.NoError(t, f.manager.RunCycle(context.Background()))

	assert.Equal(t, 0, f.oracle.calls)
	assert.Empty(t, f.store.ListDetails())
	assert.Empty(t, f.store.ListBases())
}

func TestManager_CycleGeneratesDetailAndBase(t *testing.T) {
	f := newManagerFixture(t, &fakeOracle{responses: []string{validDetailJSON, validBaseJSON}})
	ctx := context.Background()

	f.addMemory(t, "user likes coffee")
	f.addMemory(t, "user switched to tea")

	require.NoError(t, f.manager.RunCycle(ctx))

	details := f.store.ListDetails()
	require.Len(t, details, 1)
	assert.Len(t, details[0].MemoryRefs, 2)

	bases := f.store.ListBases()
	require.Len(t, bases, 1)
	assert.Equal(t, []string{details[0].ID}, bases[0].DetailSnapshotIDs)

	// One detail call and one base call.
	assert.Equal(t, 2, f.oracle.calls)

	// Base index is searchable.
	hits, err := f.manager.BaseIndex().Search(ctx, "lifestyle habits", 1, 0.1)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, bases[0].ID, hits[0].Record.ID)
}

func TestManager_CycleIsIdempotent(t *testing.T) {
	f := newManagerFixture(t, &fakeOracle{responses: []string{validDetailJSON, validBaseJSON}})
	ctx := context.Background()

	f.addMemory(t, "user likes coffee")
	require.NoError(t, f.manager.RunCycle(ctx))

	callsAfterFirst := f.oracle.calls
	detailsAfterFirst := f.store.ListDetails()
	basesAfterFirst := f.store.ListBases()

	// No new memories: the fresh covering snapshot is reused and the
	// matching base cluster is skipped, so the oracle is not called.
	require.NoError(t, f.manager.RunCycle(ctx))

	assert.Equal(t, callsAfterFirst, f.oracle.calls)
	assert.Equal(t, detailsAfterFirst, f.store.ListDetails())
	assert.Equal(t, basesAfterFirst, f.store.ListBases())
}

func TestManager_GroupFailureDoesNotAbortCycle(t *testing.T) {
	// First group's generation fails with malformed JSON; second group
	// succeeds. Both days must be attempted.
	f := newManagerFixture(t, &fakeOracle{responses: []string{"garbage", validDetailJSON, validBaseJSON}})
	ctx := context.Background()

	yesterday := f.addMemory(t, "old memory about books")
	yesterday.CreatedAt = time.Now().UTC().Add(-24 * time.Hour)
	require.NoError(t, f.memories.Save(ctx, yesterday))
	f.addMemory(t, "new memory about coffee")

	err := f.manager.RunCycle(ctx)
	require.Error(t, err)

	// The failing group was skipped, the other produced a snapshot.
	assert.Len(t, f.store.ListDetails(), 1)
}

func TestManager_MaybeRunCycleRespectsInterval(t *testing.T) {
	f := newManagerFixture(t, &fakeOracle{responses: []string{validDetailJSON, validBaseJSON}})
	ctx := context.Background()

	f.addMemory(t, "user likes coffee")
	require.NoError(t, f.manager.MaybeRunCycle(ctx))
	calls := f.oracle.calls
	assert.Positive(t, calls)

	// Interval has not elapsed: no cycle, no calls.
	require.NoError(t, f.manager.MaybeRunCycle(ctx))
	assert.Equal(t, calls, f.oracle.calls)
}

// gateOracle parks its first Generate call until released, so a test can
// hold a consolidation cycle mid-flight.
type gateOracle struct {
	started  chan struct{}
	release  chan struct{}
	response string

	mu   sync.Mutex
	n    int
	once sync.Once
}

func (g *gateOracle) Name() string { return "gate" }

func (g *gateOracle) Generate(ctx context.Context, req oracle.Request) (string, error) {
	g.mu.Lock()
	g.n++
	g.mu.Unlock()
	g.once.Do(func() { close(g.started) })
	<-g.release
	return g.response, nil
}

func (g *gateOracle) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

func TestManager_ConcurrentTriggerIsCoalesced(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	o := &gateOracle{started: started, release: release, response: validDetailJSON}
	f := newManagerFixture(t, nil)
	f.manager.generator = NewGenerator(o, testLog(t), metrics.NewMetrics())

	f.addMemory(t, "user likes coffee")

	done := make(chan error, 1)
	go func() {
		done <- f.manager.RunCycle(context.Background())
	}()
	<-started

	// A second trigger while the first cycle is mid-flight is a no-op.
	require.NoError(t, f.manager.RunCycle(context.Background()))
	assert.Equal(t, 1, o.calls())

	close(release)
	<-done
}

func TestManager_CleanupCascadesToSnapshots(t *testing.T) {
	f := newManagerFixture(t, &fakeOracle{responses: []string{validDetailJSON, validBaseJSON}})
	ctx := context.Background()

	entry := f.addMemory(t, "expiring memory")
	entry.CreatedAt = time.Now().UTC().Add(-40 * 24 * time.Hour)
	require.NoError(t, f.memories.Save(ctx, entry))

	require.NoError(t, f.manager.RunCycle(ctx))
	require.Len(t, f.store.ListDetails(), 1)
	require.Len(t, f.store.ListBases(), 1)

	require.NoError(t, f.manager.CleanupOlderThan(ctx, time.Now().UTC().Add(-30*24*time.Hour)))

	// Memory, its detail snapshot and the emptied base are all gone.
	assert.Equal(t, 0, f.memories.Len())
	assert.Empty(t, f.store.ListDetails())
	assert.Empty(t, f.store.ListBases())
	assert.Equal(t, 0, f.manager.BaseIndex().Len())
}

func TestManager_ClearAll(t *testing.T) {
	f := newManagerFixture(t, &fakeOracle{responses: []string{validDetailJSON, validBaseJSON}})
	ctx := context.Background()

	f.addMemory(t, "user likes coffee")
	require.NoError(t, f.manager.RunCycle(ctx))
	require.NotEmpty(t, f.store.ListDetails())

	require.NoError(t, f.manager.ClearAll(ctx))
	assert.Empty(t, f.store.ListDetails())
	assert.Empty(t, f.store.ListBases())
	assert.Equal(t, 0, f.manager.BaseIndex().Len())
}

func TestManager_LoadRestoresState(t *testing.T) {
	log := testLog(t)
	m := metrics.NewMetrics()
	embedder := embedding.NewMockEmbedder(384)
	dir := t.TempDir()
	root := storage_manager.NewLocalFileProvider(dir)

	build := func() *managerFixture {
		memIndex, err := vector_index.New("memories", embedder, log)
		require.NoError(t, err)
		memories := memory_store.New(
			storage_manager.NewPrefixedFileProvider(root, storage_manager.NamespaceMemories),
			memIndex, config.MemoryConfig{}, log, m,
		)
		baseIndex, err := vector_index.New("snapshots", embedder, log)
		require.NoError(t, err)
		store := NewSnapshotStore(storage_manager.NewPrefixedFileProvider(root, storage_manager.NamespaceSnapshots), log)
		o := &fakeOracle{responses: []string{validDetailJSON, validBaseJSON}}
		manager := NewManager(store, NewGenerator(o, log, m), memories, embedder, baseIndex, config.SnapshotConfig{
			UpdateInterval:    24 * time.Hour,
			ClusterSimilarity: 0.8,
		}, log, m)
		return &managerFixture{manager: manager, memories: memories, store: store, oracle: o}
	}

	f := build()
	ctx := context.Background()
	f.addMemory(t, "durable memory")
	require.NoError(t, f.manager.RunCycle(ctx))
	detailID := f.store.ListDetails()[0].ID

	f2 := build()
	require.NoError(t, f2.memories.Load(ctx))
	require.NoError(t, f2.manager.Load(ctx))

	require.Len(t, f2.store.ListDetails(), 1)
	assert.Equal(t, detailID, f2.store.ListDetails()[0].ID)
	assert.Len(t, f2.store.ListBases(), 1)
	assert.Equal(t, 1, f2.manager.BaseIndex().Len())
}

func TestSnapshotStore_AssociationsAreBidirectional(t *testing.T) {
	log := testLog(t)
	store := NewSnapshotStore(storage_manager.NewLocalFileProvider(t.TempDir()), log)
	ctx := context.Background()

	d, err := NewDetailSnapshot("s", nil, nil, []string{"mem_1", "mem_2"}, "cat", 0.5, allResolve)
	require.NoError(t, err)
	require.NoError(t, store.SaveDetail(ctx, d))

	b, err := NewBaseSnapshot("cat", nil, []string{d.ID}, "", store.HasDetail)
	require.NoError(t, err)
	require.NoError(t, store.SaveBase(ctx, b))

	assert.Equal(t, []string{d.ID}, store.DetailsForMemory("mem_1"))
	assert.Equal(t, []string{d.ID}, store.DetailsForMemory("mem_2"))
	assert.Equal(t, []string{b.ID}, store.BasesForDetail(d.ID))

	// Deleting the detail empties and removes the base.
	require.NoError(t, store.DeleteDetail(ctx, d.ID))
	assert.Empty(t, store.DetailsForMemory("mem_1"))
	_, exists := store.GetBase(b.ID)
	assert.False(t, exists)
}

// ageDetail backdates a stored snapshot so reuse-freshness paths can be
// exercised without sleeping.
func ageDetail(f *managerFixture, id string, age time.Duration) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.cache.invalidate()
	d := f.store.details[id]
	d.Timestamp = d.Timestamp.Add(-age)
	f.store.details[id] = d
}

func TestManager_GrowingDayReusesFreshSnapshot(t *testing.T) {
	f := newManagerFixture(t, &fakeOracle{responses: []string{validDetailJSON, validBaseJSON}})
	ctx := context.Background()

	f.addMemory(t, "user likes coffee")
	require.NoError(t, f.manager.RunCycle(ctx))
	require.Equal(t, 2, f.oracle.calls)

	// A memory arriving right after a cycle joins the day's group, but
	// the seconds-old snapshot covering part of it is reused: no oracle
	// calls and no second snapshot for the same day.
	f.addMemory(t, "user switched to tea")
	require.NoError(t, f.manager.RunCycle(ctx))

	assert.Equal(t, 2, f.oracle.calls)
	details := f.store.ListDetails()
	require.Len(t, details, 1)
	assert.Len(t, details[0].MemoryRefs, 1)
}

func TestManager_RegenerationReplacesSupersededSnapshot(t *testing.T) {
	f := newManagerFixture(t, &fakeOracle{responses: []string{validDetailJSON, validBaseJSON, validDetailJSON, validBaseJSON}})
	ctx := context.Background()

	f.addMemory(t, "user likes coffee")
	require.NoError(t, f.manager.RunCycle(ctx))
	staleID := f.store.ListDetails()[0].ID
	ageDetail(f, staleID, 25*time.Hour)

	f.addMemory(t, "user switched to tea")
	require.NoError(t, f.manager.RunCycle(ctx))

	// The aged snapshot is regenerated over the whole group and the
	// superseded one is removed rather than retained as a subset.
	details := f.store.ListDetails()
	require.Len(t, details, 1)
	assert.NotEqual(t, staleID, details[0].ID)
	assert.Len(t, details[0].MemoryRefs, 2)
	assert.Equal(t, 4, f.oracle.calls)

	bases := f.store.ListBases()
	require.Len(t, bases, 1)
	assert.Equal(t, []string{details[0].ID}, bases[0].DetailSnapshotIDs)
}

func TestSnapshotStore_DeleteDetailDoesNotMutateReturnedBase(t *testing.T) {
	log := testLog(t)
	store := NewSnapshotStore(storage_manager.NewLocalFileProvider(t.TempDir()), log)
	ctx := context.Background()

	var detailIDs []string
	for _, summary := range []string{"a", "b", "c"} {
		d, err := NewDetailSnapshot(summary, nil, nil, []string{"mem_" + summary}, "cat", 0.5, allResolve)
		require.NoError(t, err)
		require.NoError(t, store.SaveDetail(ctx, d))
		detailIDs = append(detailIDs, d.ID)
	}
	b, err := NewBaseSnapshot("cat", nil, detailIDs, "", store.HasDetail)
	require.NoError(t, err)
	require.NoError(t, store.SaveBase(ctx, b))

	held, ok := store.GetBase(b.ID)
	require.True(t, ok)
	heldIDs := held.DetailSnapshotIDs

	require.NoError(t, store.DeleteDetail(ctx, detailIDs[0]))

	// The copy handed out before the delete keeps its ids; the stored
	// base shrinks.
	assert.Equal(t, detailIDs, heldIDs)
	current, ok := store.GetBase(b.ID)
	require.True(t, ok)
	assert.Equal(t, detailIDs[1:], current.DetailSnapshotIDs)
}
