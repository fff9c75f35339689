// Package memory_retriever turns a query into a ranked list of relevant
// memories. Retrieval is advisory: every failure inside the pipeline
// degrades to an empty or partial result instead of propagating, so the
// chat turn always completes.
package memory_retriever //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/lewisedginton/memory_chatbot/internal/config"
	"github.com/lewisedginton/memory_chatbot/internal/memory_store"
	"github.com/lewisedginton/memory_chatbot/internal/snapshot_manager"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
	"github.com/lewisedginton/memory_chatbot/pkg/metrics"
)

// ScoredMemory is one retrieval result.
type ScoredMemory struct {
	Memory memory_store.MemoryEntry
	Score  float64
}

// Retriever runs the retrieval pipeline: vector search over raw memories,
// optional base-snapshot expansion, context re-ranking, then the oracle
// relevance judge.
type Retriever struct {
	store     *memory_store.Store
	snapshots *snapshot_manager.Manager
	judge     *Judge
	cache     *ristretto.Cache
	cfg       config.RetrievalConfig
	log       logger.Logger
	metrics   *metrics.Metrics
}

// New creates a retriever. judge may be nil when judging is disabled.
func New(store *memory_store.Store, snapshots *snapshot_manager.Manager, judge *Judge, cfg config.RetrievalConfig, log logger.Logger, m *metrics.Metrics) (*Retriever, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     cfg.CacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create retrieval cache: %w", err)
	}

	return &Retriever{
		store:     store,
		snapshots: snapshots,
		judge:     judge,
		cache:     cache,
		cfg:       cfg,
		log:       log.WithFields(logger.StringField("component", "memory_retriever")),
		metrics:   m,
	}, nil
}

// Search returns up to topK memories relevant to the query, scored and
// sorted descending. It never returns an error; failures degrade to fewer
// or no results.
func (r *Retriever) Search(ctx context.Context, query string, topK int, threshold float64, turnCtx *memory_store.TurnContext) []ScoredMemory {
	started := time.Now()
	defer func() {
		r.metrics.RetrievalDurationHistogram.Observe(time.Since(started).Seconds())
	}()

	if query == "" || topK <= 0 {
		return nil
	}

	key := r.cacheKey(query, topK, threshold, turnCtx)
	if cached, ok := r.cache.Get(key); ok {
		r.metrics.RetrievalCacheHitsCounter.Inc()
		return cached.([]ScoredMemory)
	}
	r.metrics.RetrievalCacheMissCounter.Inc()

	scores := r.collectCandidates(ctx, query, topK, threshold)
	results := r.rank(ctx, scores, topK, threshold, turnCtx)
	results = r.applyJudge(ctx, query, results)

	if len(results) == 0 && r.judgeEnabled() {
		results = r.fullScanFallback(ctx, query)
	}

	r.cache.SetWithTTL(key, results, 1, r.cfg.CacheTTL)
	r.cache.Wait()
	return results
}

// Invalidate drops all cached query results. Called whenever a memory is
// added; a stale retrieval result is worse than a cache miss.
func (r *Retriever) Invalidate() {
	r.cache.Clear()
}

// Close releases the cache.
func (r *Retriever) Close() {
	r.cache.Close()
}

// collectCandidates merges the raw-memory search path with the
// base-snapshot expansion path, keeping the max score per memory id.
// The candidate pass relaxes the caller's threshold so context boosts can
// still lift borderline hits over it.
func (r *Retriever) collectCandidates(ctx context.Context, query string, topK int, threshold float64) map[string]float64 {
	relaxed := threshold * r.cfg.CandidateRelaxation
	scores := make(map[string]float64)

	hits, err := r.store.Index().Search(ctx, query, topK*2, relaxed)
	if err != nil {
		r.log.Warn("Raw memory search failed, continuing without it", logger.ErrorField(err))
	}
	for _, hit := range hits {
		if hit.Score > scores[hit.Record.ID] {
			scores[hit.Record.ID] = hit.Score
		}
	}

	if !r.cfg.UseBaseSnapshots || r.snapshots == nil {
		return scores
	}

	baseHits, err := r.snapshots.BaseIndex().Search(ctx, query, topK, relaxed)
	if err != nil {
		r.log.Warn("Base snapshot search failed, continuing without it", logger.ErrorField(err))
		return scores
	}
	for _, hit := range baseHits {
		base, ok := r.snapshots.Store().GetBase(hit.Record.ID)
		if !ok {
			continue
		}
		inherited := hit.Score * r.cfg.SnapshotDiscount
		for _, detailID := range base.DetailSnapshotIDs {
			detail, ok := r.snapshots.Store().GetDetail(detailID)
			if !ok {
				continue
			}
			for _, memID := range detail.MemoryRefs {
				if inherited > scores[memID] {
					scores[memID] = inherited
				}
			}
		}
	}
	return scores
}

// rank resolves candidate ids, applies context re-ranking, then
// thresholds, sorts and truncates.
func (r *Retriever) rank(ctx context.Context, scores map[string]float64, topK int, threshold float64, turnCtx *memory_store.TurnContext) []ScoredMemory {
	results := make([]ScoredMemory, 0, len(scores))
	for id, score := range scores {
		entry, err := r.store.Get(ctx, id)
		if err != nil {
			// The index can briefly know ids the store already dropped.
			continue
		}
		if turnCtx != nil {
			score = r.contextScore(score, entry, turnCtx)
		}
		if score < threshold {
			continue
		}
		results = append(results, ScoredMemory{Memory: entry, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Memory.ID < results[j].Memory.ID
		}
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// contextScore folds recency decay, affinity boosts and kind weights into
// the similarity score.
func (r *Retriever) contextScore(score float64, entry memory_store.MemoryEntry, turnCtx *memory_store.TurnContext) float64 {
	hours := time.Since(entry.CreatedAt).Hours()
	if hours < 0 {
		hours = 0
	}
	decay := 1 / (1 + math.Log1p(hours))
	score *= 0.8 + 0.2*decay

	if turnCtx.UserID != "" && turnCtx.UserID == entry.Context.UserID {
		score *= r.cfg.SameUserBoost
	}
	if turnCtx.SessionID != "" && turnCtx.SessionID == entry.Context.SessionID {
		score *= r.cfg.SameSessionBoost
	}
	if turnCtx.Topic != "" && turnCtx.Topic == entry.Context.Topic {
		score *= r.cfg.SameTopicBoost
	}

	return score * r.kindWeight(entry.Context.Kind)
}

func (r *Retriever) kindWeight(kind memory_store.MemoryKind) float64 {
	switch kind {
	case memory_store.KindImportant:
		return r.cfg.WeightImportant
	case memory_store.KindConcept:
		return r.cfg.WeightConcept
	case memory_store.KindExample:
		return r.cfg.WeightExample
	default:
		return r.cfg.WeightGeneral
	}
}

// applyJudge filters the ranked list through the relevance judge. A judge
// transport failure keeps the unjudged ranking (partial degradation); a
// judge that answers but retains nothing means nothing was relevant.
func (r *Retriever) applyJudge(ctx context.Context, query string, ranked []ScoredMemory) []ScoredMemory {
	if !r.judgeEnabled() || len(ranked) == 0 {
		return ranked
	}

	candidates := make([]Candidate, len(ranked))
	byID := make(map[string]ScoredMemory, len(ranked))
	for i, sm := range ranked {
		candidates[i] = Candidate{ID: sm.Memory.ID, Content: sm.Memory.Content, Timestamp: sm.Memory.CreatedAt}
		byID[sm.Memory.ID] = sm
	}

	judgments, err := r.judge.Evaluate(ctx, query, candidates)
	if err != nil {
		r.log.Warn("Relevance judge unavailable, keeping vector ranking", logger.ErrorField(err))
		return ranked
	}

	filtered := make([]ScoredMemory, 0, len(judgments))
	for _, j := range judgments {
		sm, ok := byID[j.MemoryID]
		if !ok {
			continue
		}
		filtered = append(filtered, sm)
	}
	return filtered
}

// fullScanFallback judges the newest memories directly when the snapshot
// and vector paths produced nothing, e.g. right after startup before any
// consolidation has run.
func (r *Retriever) fullScanFallback(ctx context.Context, query string) []ScoredMemory {
	entries, err := r.store.List(ctx, nil)
	if err != nil || len(entries) == 0 {
		return nil
	}
	if r.cfg.JudgeScanLimit > 0 && len(entries) > r.cfg.JudgeScanLimit {
		entries = entries[:r.cfg.JudgeScanLimit]
	}

	candidates := make([]Candidate, len(entries))
	byID := make(map[string]memory_store.MemoryEntry, len(entries))
	for i, entry := range entries {
		candidates[i] = Candidate{ID: entry.ID, Content: entry.Content, Timestamp: entry.CreatedAt}
		byID[entry.ID] = entry
	}

	judgments, err := r.judge.Evaluate(ctx, query, candidates)
	if err != nil {
		r.log.Warn("Full-scan judge fallback failed", logger.ErrorField(err))
		return nil
	}

	results := make([]ScoredMemory, 0, len(judgments))
	for _, j := range judgments {
		entry, ok := byID[j.MemoryID]
		if !ok {
			continue
		}
		results = append(results, ScoredMemory{Memory: entry, Score: j.Score})
	}
	return results
}

func (r *Retriever) judgeEnabled() bool {
	return r.cfg.JudgeEnabled && r.judge != nil
}

// cacheKey hashes the query parameters and the context fields that affect
// ranking.
func (r *Retriever) cacheKey(query string, topK int, threshold float64, turnCtx *memory_store.TurnContext) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%v", query, topK, threshold)
	if turnCtx != nil {
		fmt.Fprintf(h, "|%s|%s|%s", turnCtx.UserID, turnCtx.SessionID, turnCtx.Topic)
	}
	return fmt.Sprintf("q%x", h.Sum64())
}
