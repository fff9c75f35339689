package memory_retriever

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/memory_chatbot/internal/config"
	"github.com/lewisedginton/memory_chatbot/internal/embedding"
	"github.com/lewisedginton/memory_chatbot/internal/memory_store"
	"github.com/lewisedginton/memory_chatbot/internal/snapshot_manager"
	"github.com/lewisedginton/memory_chatbot/internal/storage_manager"
	"github.com/lewisedginton/memory_chatbot/internal/vector_index"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
	"github.com/lewisedginton/memory_chatbot/pkg/metrics"
)

func testRetrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		TopK:                5,
		Threshold:           0.3,
		UseBaseSnapshots:    true,
		SnapshotDiscount:    0.9,
		CandidateRelaxation: 0.8,
		SameUserBoost:       1.2,
		SameSessionBoost:    1.3,
		SameTopicBoost:      1.1,
		WeightImportant:     1.5,
		WeightConcept:       1.3,
		WeightExample:       1.2,
		WeightGeneral:       1.0,
		JudgeScanLimit:      50,
		JudgeEnabled:        false,
		JudgeThreshold:      0.5,
		CacheTTL:            time.Hour,
		CacheMaxCost:        1 << 20,
	}
}

type retrieverFixture struct {
	store       *memory_store.Store
	manager     *snapshot_manager.Manager
	snapOracle  *fixedOracle
	judgeOracle *fixedOracle
	retriever   *Retriever
}

func newRetrieverFixture(t *testing.T, cfg config.RetrievalConfig) *retrieverFixture {
	t.Helper()

	log := judgeLog(t)
	m := metrics.NewMetrics()
	root := storage_manager.NewLocalFileProvider(t.TempDir())
	embedder := embedding.NewMockEmbedder(384)

	memIndex, err := vector_index.New("memories", embedder, log)
	require.NoError(t, err)
	store := memory_store.New(
		storage_manager.NewPrefixedFileProvider(root, storage_manager.NamespaceMemories),
		memIndex,
		config.MemoryConfig{RetentionWindow: 720 * time.Hour, ImportanceDecay: 0.995, MinImportance: 0.1, RebuildThreshold: 10000},
		log, m,
	)

	baseIndex, err := vector_index.New("bases", embedder, log)
	require.NoError(t, err)
	snapOracle := &fixedOracle{response: `{"relevant_memories":[]}`}
	manager := snapshot_manager.NewManager(
		snapshot_manager.NewSnapshotStore(storage_manager.NewPrefixedFileProvider(root, storage_manager.NamespaceSnapshots), log),
		snapshot_manager.NewGenerator(snapOracle, log, m),
		store, embedder, baseIndex,
		config.SnapshotConfig{UpdateInterval: 24 * time.Hour, ClusterSimilarity: 0.8, MaxMemoriesPerBatch: 20},
		log, m,
	)

	judgeOracle := &fixedOracle{response: `{"relevant_memories":[]}`}
	judge := NewJudge(judgeOracle, cfg.JudgeThreshold, log)

	retriever, err := New(store, manager, judge, cfg, log, m)
	require.NoError(t, err)
	t.Cleanup(retriever.Close)

	return &retrieverFixture{
		store:       store,
		manager:     manager,
		snapOracle:  snapOracle,
		judgeOracle: judgeOracle,
		retriever:   retriever,
	}
}

func (f *retrieverFixture) addMemory(t *testing.T, content string, age time.Duration, turnCtx memory_store.TurnContext) memory_store.MemoryEntry {
	t.Helper()
	entry, err := memory_store.NewEntry(content, 0.7, turnCtx)
	require.NoError(t, err)
	entry.CreatedAt = time.Now().Add(-age)
	entry.LastAccessed = entry.CreatedAt
	require.NoError(t, f.store.Save(context.Background(), entry))
	return entry
}

func resultIDs(results []ScoredMemory) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Memory.ID
	}
	return ids
}

func TestSearchPrefersRecentMemories(t *testing.T) {
	f := newRetrieverFixture(t, testRetrievalConfig())
	ctx := context.Background()

	coffee := f.addMemory(t, "user likes coffee", 200*time.Hour, memory_store.TurnContext{UserID: "u1"})
	tea := f.addMemory(t, "user switched to tea", time.Minute, memory_store.TurnContext{UserID: "u1"})

	results := f.retriever.Search(ctx, "what does the user drink?", 5, 0.3, &memory_store.TurnContext{})
	require.Len(t, results, 2)
	assert.Equal(t, tea.ID, results[0].Memory.ID)
	assert.Equal(t, coffee.ID, results[1].Memory.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchSameUserBoost(t *testing.T) {
	f := newRetrieverFixture(t, testRetrievalConfig())
	ctx := context.Background()

	mine := f.addMemory(t, "enjoys hiking in the mountains", time.Hour, memory_store.TurnContext{UserID: "u1"})
	f.addMemory(t, "enjoys hiking in the mountains", time.Hour, memory_store.TurnContext{UserID: "u2"})

	results := f.retriever.Search(ctx, "hiking mountains", 5, 0.3, &memory_store.TurnContext{UserID: "u1"})
	require.Len(t, results, 2)
	assert.Equal(t, mine.ID, results[0].Memory.ID)
}

func TestSearchKindWeighting(t *testing.T) {
	f := newRetrieverFixture(t, testRetrievalConfig())
	ctx := context.Background()

	important := f.addMemory(t, "user is allergic to peanuts", time.Hour,
		memory_store.TurnContext{UserID: "u1", Kind: memory_store.KindImportant})
	f.addMemory(t, "user is allergic to peanuts", time.Hour,
		memory_store.TurnContext{UserID: "u1", Kind: memory_store.KindGeneral})

	results := f.retriever.Search(ctx, "peanut allergy", 5, 0.3, &memory_store.TurnContext{})
	require.Len(t, results, 2)
	assert.Equal(t, important.ID, results[0].Memory.ID)
}

func TestSearchRespectsTopK(t *testing.T) {
	f := newRetrieverFixture(t, testRetrievalConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.addMemory(t, fmt.Sprintf("gardening note number %d about tomatoes", i), time.Hour,
			memory_store.TurnContext{UserID: "u1"})
	}

	results := f.retriever.Search(ctx, "tomatoes gardening", 2, 0.3, nil)
	assert.Len(t, results, 2)
}

func TestSearchThresholdFiltersAll(t *testing.T) {
	f := newRetrieverFixture(t, testRetrievalConfig())
	ctx := context.Background()

	f.addMemory(t, "user likes coffee", time.Hour, memory_store.TurnContext{UserID: "u1"})

	results := f.retriever.Search(ctx, "completely unrelated zebra query", 5, 0.99, nil)
	assert.Empty(t, results)
}

func TestSearchEmptyQueryReturnsNil(t *testing.T) {
	f := newRetrieverFixture(t, testRetrievalConfig())

	assert.Nil(t, f.retriever.Search(context.Background(), "", 5, 0.3, nil))
	assert.Nil(t, f.retriever.Search(context.Background(), "coffee", 0, 0.3, nil))
}

func TestSearchCachesResultsUntilInvalidated(t *testing.T) {
	f := newRetrieverFixture(t, testRetrievalConfig())
	ctx := context.Background()

	f.addMemory(t, "user likes coffee", time.Hour, memory_store.TurnContext{UserID: "u1"})

	first := f.retriever.Search(ctx, "coffee", 5, 0.3, nil)
	require.Len(t, first, 1)

	// A new memory does not appear until the cache is invalidated.
	fresh := f.addMemory(t, "user ordered coffee beans online", time.Minute, memory_store.TurnContext{UserID: "u1"})
	cached := f.retriever.Search(ctx, "coffee", 5, 0.3, nil)
	assert.Equal(t, resultIDs(first), resultIDs(cached))

	f.retriever.Invalidate()
	after := f.retriever.Search(ctx, "coffee", 5, 0.3, nil)
	assert.Contains(t, resultIDs(after), fresh.ID)
}

func TestSearchCacheKeyIncludesContext(t *testing.T) {
	f := newRetrieverFixture(t, testRetrievalConfig())
	ctx := context.Background()

	f.addMemory(t, "enjoys hiking in the mountains", time.Hour, memory_store.TurnContext{UserID: "u1"})
	f.addMemory(t, "enjoys hiking in the mountains", time.Hour, memory_store.TurnContext{UserID: "u2"})

	asU1 := f.retriever.Search(ctx, "hiking", 5, 0.3, &memory_store.TurnContext{UserID: "u1"})
	asU2 := f.retriever.Search(ctx, "hiking", 5, 0.3, &memory_store.TurnContext{UserID: "u2"})
	require.Len(t, asU1, 2)
	require.Len(t, asU2, 2)
	assert.NotEqual(t, asU1[0].Memory.ID, asU2[0].Memory.ID)
}

func TestSearchJudgeFiltersResults(t *testing.T) {
	cfg := testRetrievalConfig()
	cfg.JudgeEnabled = true
	f := newRetrieverFixture(t, cfg)
	ctx := context.Background()

	tea := f.addMemory(t, "user switched to tea", time.Hour, memory_store.TurnContext{UserID: "u1"})
	f.addMemory(t, "user likes coffee", time.Hour, memory_store.TurnContext{UserID: "u1"})

	f.judgeOracle.response = fmt.Sprintf(
		`{"relevant_memories":[{"memory_id":"%s","relevance_score":0.9,"reason":"current preference"}]}`, tea.ID)

	results := f.retriever.Search(ctx, "what does the user drink?", 5, 0.3, nil)
	require.Len(t, results, 1)
	assert.Equal(t, tea.ID, results[0].Memory.ID)
}

func TestSearchJudgeFailureKeepsVectorRanking(t *testing.T) {
	cfg := testRetrievalConfig()
	cfg.JudgeEnabled = true
	f := newRetrieverFixture(t, cfg)
	ctx := context.Background()

	f.addMemory(t, "user likes coffee", time.Hour, memory_store.TurnContext{UserID: "u1"})
	f.judgeOracle.err = assert.AnError

	results := f.retriever.Search(ctx, "coffee", 5, 0.3, nil)
	require.Len(t, results, 1)
}

func TestSearchFullScanFallback(t *testing.T) {
	cfg := testRetrievalConfig()
	cfg.JudgeEnabled = true
	f := newRetrieverFixture(t, cfg)
	ctx := context.Background()

	entry := f.addMemory(t, "user plays the violin", time.Hour, memory_store.TurnContext{UserID: "u1"})
	f.judgeOracle.response = fmt.Sprintf(
		`{"relevant_memories":[{"memory_id":"%s","relevance_score":0.8,"reason":"instrument"}]}`, entry.ID)

	// A threshold above every vector score forces the judge-only scan.
	results := f.retriever.Search(ctx, "musical instruments", 5, 0.99, nil)
	require.Len(t, results, 1)
	assert.Equal(t, entry.ID, results[0].Memory.ID)
	assert.Equal(t, 0.8, results[0].Score)
}

func TestSearchBaseSnapshotExpansion(t *testing.T) {
	f := newRetrieverFixture(t, testRetrievalConfig())
	ctx := context.Background()

	entry := f.addMemory(t, "user trains for a marathon every morning", time.Hour,
		memory_store.TurnContext{UserID: "u1"})

	f.snapOracle.responses = []string{
		`{"summary":"user trains for a marathon","key_elements":["marathon","running"],"emotion_tags":["motivated"],"category":"fitness","importance":0.7}`,
		`{"category":"fitness","keywords":["marathon","running","training"],"description":"the user's running habits"}`,
	}
	require.NoError(t, f.manager.RunCycle(ctx))

	// Drop the raw entry from the memory index so only the snapshot path
	// can surface it.
	require.NoError(t, f.store.Index().Delete(ctx, entry.ID))

	results := f.retriever.Search(ctx, "marathon running training", 5, 0.3, nil)
	require.Len(t, results, 1)
	assert.Equal(t, entry.ID, results[0].Memory.ID)
}

func TestSearchEmptyStoreReturnsEmpty(t *testing.T) {
	f := newRetrieverFixture(t, testRetrievalConfig())

	results := f.retriever.Search(context.Background(), "anything at all", 5, 0.3, nil)
	assert.Empty(t, results)
}

func TestRetriever_CandidatePassUsesCallerThreshold(t *testing.T) {
	cfg := testRetrievalConfig()
	cfg.Threshold = 0.99
	f := newRetrieverFixture(t, cfg)

	f.addMemory(t, "user likes coffee", time.Minute, memory_store.TurnContext{UserID: "u1"})

	// A caller passing a permissive threshold must not be bound by the
	// configured default during the candidate pass.
	results := f.retriever.Search(context.Background(), "coffee", 5, 0.3, nil)
	assert.NotEmpty(t, results)
}
