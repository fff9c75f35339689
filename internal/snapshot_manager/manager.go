// Package snapshot_manager owns the two-tier snapshot hierarchy over raw
// memories and the consolidation cycle that maintains it.
package snapshot_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/lewisedginton/memory_chatbot/internal/config"
	"github.com/lewisedginton/memory_chatbot/internal/embedding"
	"github.com/lewisedginton/memory_chatbot/internal/memory_store"
	"github.com/lewisedginton/memory_chatbot/internal/vector_index"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
	"github.com/lewisedginton/memory_chatbot/pkg/metrics"
)

// Manager orchestrates consolidation: grouping memories, generating and
// reusing detail snapshots, clustering them into base snapshots, and
// keeping the base-snapshot search index current.
type Manager struct {
	updateMu sync.Mutex // held for the duration of one cycle

	store     *SnapshotStore
	generator *Generator
	memories  *memory_store.Store
	embedder  embedding.Embedder
	baseIndex *vector_index.Index
	cfg       config.SnapshotConfig
	log       logger.Logger
	metrics   *metrics.Metrics

	lastMu     sync.Mutex
	lastUpdate time.Time
}

// NewManager wires a consolidation manager. baseIndex is the search index
// over base-snapshot text used by retrieval; the manager keeps it in sync
// with the snapshot store.
func NewManager(store *SnapshotStore, generator *Generator, memories *memory_store.Store, embedder embedding.Embedder, baseIndex *vector_index.Index, cfg config.SnapshotConfig, log logger.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		store:     store,
		generator: generator,
		memories:  memories,
		embedder:  embedder,
		baseIndex: baseIndex,
		cfg:       cfg,
		log:       log.WithFields(logger.StringField("component", "snapshot_manager")),
		metrics:   m,
	}
}

// Store exposes the snapshot store for retrieval.
func (m *Manager) Store() *SnapshotStore {
	return m.store
}

// BaseIndex exposes the base-snapshot search index for retrieval.
func (m *Manager) BaseIndex() *vector_index.Index {
	return m.baseIndex
}

// MaybeRunCycle runs a cycle only if the update interval has elapsed since
// the last completed one.
func (m *Manager) MaybeRunCycle(ctx context.Context) error {
	m.lastMu.Lock()
	due := m.lastUpdate.IsZero() || time.Since(m.lastUpdate) >= m.cfg.UpdateInterval
	m.lastMu.Unlock()
	if !due {
		return nil
	}
	return m.RunCycle(ctx)
}

// RunCycle performs one consolidation cycle. Only one cycle runs at a
// time; a trigger arriving while one is in flight is coalesced into a
// no-op rather than queued. Per-group failures are logged and skipped so
// one bad batch cannot abort the rest of the cycle.
func (m *Manager) RunCycle(ctx context.Context) error {
	if !m.updateMu.TryLock() {
		m.metrics.ConsolidationSkippedCounter.Inc()
		m.log.Debug("Consolidation already running, trigger coalesced")
		return nil
	}
	defer m.updateMu.Unlock()

	entries, err := m.memories.List(ctx, nil)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		m.log.Debug("No memories, consolidation is a no-op")
		return nil
	}

	m.metrics.ConsolidationCyclesCounter.Inc()
	started := time.Now()

	var result error
	generated := 0
	for _, group := range m.groupMemories(entries) {
		snapshot, reused, err := m.consolidateGroup(ctx, group)
		if err != nil {
			m.log.Warn("Skipping memory group",
				logger.IntField("group_size", len(group)),
				logger.ErrorField(err))
			result = multierror.Append(result, err)
			continue
		}
		if !reused {
			if err := m.store.SaveDetail(ctx, snapshot); err != nil {
				result = multierror.Append(result, err)
				continue
			}
			generated++
		}
	}

	baseErr := m.consolidateBases(ctx)
	if baseErr != nil {
		result = multierror.Append(result, baseErr)
	}

	if err := m.syncBaseIndex(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	m.lastMu.Lock()
	m.lastUpdate = time.Now()
	m.lastMu.Unlock()

	m.log.Info("Consolidation cycle finished",
		logger.IntField("memories", len(entries)),
		logger.IntField("details_generated", generated),
		logger.DurationField("elapsed", time.Since(started)))
	return result
}

// CleanupOlderThan removes memories created before the cutoff and
// cascade-deletes any detail snapshots left with dangling refs. Bases that
// lose their last detail are removed by the store.
func (m *Manager) CleanupOlderThan(ctx context.Context, cutoff time.Time) error {
	removed, err := m.memories.DeleteOlderThan(ctx, cutoff)
	var result error
	if err != nil {
		result = multierror.Append(result, err)
	}

	for _, memID := range removed {
		for _, detailID := range m.store.DetailsForMemory(memID) {
			if err := m.store.DeleteDetail(ctx, detailID); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}

	if len(removed) > 0 {
		if err := m.syncBaseIndex(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// ClearAll drops every snapshot and the base index.
func (m *Manager) ClearAll(ctx context.Context) error {
	var result error
	if err := m.store.Clear(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := m.baseIndex.Clear(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

// Load restores persisted snapshots and rebuilds the base index.
func (m *Manager) Load(ctx context.Context) error {
	if err := m.store.Load(ctx); err != nil {
		return err
	}
	return m.syncBaseIndex(ctx)
}

// groupMemories buckets entries by UTC day of creation, chunked to the
// configured batch cap. Grouping is deterministic and exhaustive: entries
// are sorted by creation time within a day and every entry lands in
// exactly one chunk.
func (m *Manager) groupMemories(entries []memory_store.MemoryEntry) [][]memory_store.MemoryEntry {
	byDay := make(map[string][]memory_store.MemoryEntry)
	for _, entry := range entries {
		day := entry.CreatedAt.UTC().Format("2006-01-02")
		byDay[day] = append(byDay[day], entry)
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	var groups [][]memory_store.MemoryEntry
	for _, day := range days {
		group := byDay[day]
		sort.Slice(group, func(i, j int) bool {
			if group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].ID < group[j].ID
			}
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})
		if m.cfg.MaxMemoriesPerBatch <= 0 {
			groups = append(groups, group)
			continue
		}
		for start := 0; start < len(group); start += m.cfg.MaxMemoriesPerBatch {
			end := start + m.cfg.MaxMemoriesPerBatch
			if end > len(group) {
				end = len(group)
			}
			groups = append(groups, group[start:end])
		}
	}
	return groups
}

// consolidateGroup reuses the newest snapshot already covering part of
// the group, as long as it is younger than the update interval. This is
// what bounds oracle calls on an active day: memories arriving after a
// fresh snapshot wait until it ages out. Snapshots superseded by a
// regeneration are deleted only after the regeneration succeeds.
func (m *Manager) consolidateGroup(ctx context.Context, group []memory_store.MemoryEntry) (DetailSnapshot, bool, error) {
	ids := make([]string, len(group))
	for i, entry := range group {
		ids[i] = entry.ID
	}

	overlapping := m.overlappingDetails(ids)
	if len(overlapping) > 0 && time.Since(overlapping[0].Timestamp) < m.cfg.UpdateInterval {
		return overlapping[0], true, nil
	}

	resolver := func(id string) bool {
		_, err := m.memories.Get(ctx, id)
		return err == nil
	}
	snapshot, err := m.generator.GenerateDetailSnapshot(ctx, group, resolver)
	if err != nil {
		return DetailSnapshot{}, false, err
	}

	for _, stale := range overlapping {
		if err := m.store.DeleteDetail(ctx, stale.ID); err != nil {
			return DetailSnapshot{}, false, err
		}
	}
	return snapshot, false, nil
}

// overlappingDetails returns the detail snapshots referencing any of the
// given memory ids, newest first.
func (m *Manager) overlappingDetails(ids []string) []DetailSnapshot {
	seen := make(map[string]bool)
	var out []DetailSnapshot
	for _, memID := range ids {
		for _, detailID := range m.store.DetailsForMemory(memID) {
			if seen[detailID] {
				continue
			}
			seen[detailID] = true
			if d, ok := m.store.GetDetail(detailID); ok {
				out = append(out, d)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// consolidateBases clusters the current detail snapshots and generates a
// base snapshot for each cluster that lacks one.
func (m *Manager) consolidateBases(ctx context.Context) error {
	details := m.store.ListDetails()
	if len(details) == 0 {
		return nil
	}

	clusters, err := m.clusterDetails(ctx, details)
	if err != nil {
		return err
	}

	var result error
	for _, cluster := range clusters {
		ids := make([]string, len(cluster))
		for i, d := range cluster {
			ids[i] = d.ID
		}
		if m.hasMatchingBase(ids) {
			continue
		}

		base, err := m.generator.GenerateBaseSnapshot(ctx, cluster, m.store.HasDetail)
		if err != nil {
			m.log.Warn("Skipping base snapshot cluster",
				logger.IntField("cluster_size", len(cluster)),
				logger.ErrorField(err))
			result = multierror.Append(result, err)
			continue
		}
		if err := m.store.SaveBase(ctx, base); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// clusterDetails runs greedy single-link clustering over snapshot
// embeddings: walk snapshots in fixed order, open a cluster at each
// unassigned snapshot and absorb every later unassigned snapshot whose
// similarity to the opener exceeds the threshold.
func (m *Manager) clusterDetails(ctx context.Context, details []DetailSnapshot) ([][]DetailSnapshot, error) {
	vectors := make([][]float32, len(details))
	for i, d := range details {
		vec, err := m.embedder.Embed(ctx, d.EmbeddingText())
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}

	assigned := make([]bool, len(details))
	var clusters [][]DetailSnapshot
	for i := range details {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		cluster := []DetailSnapshot{details[i]}
		for j := i + 1; j < len(details); j++ {
			if assigned[j] {
				continue
			}
			if cosineSimilarity(vectors[i], vectors[j]) > m.cfg.ClusterSimilarity {
				assigned[j] = true
				cluster = append(cluster, details[j])
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters, nil
}

func (m *Manager) hasMatchingBase(detailIDs []string) bool {
	want := toSet(detailIDs)
	for _, b := range m.store.ListBases() {
		if sameSet(want, toSet(b.DetailSnapshotIDs)) {
			return true
		}
	}
	return false
}

// syncBaseIndex rebuilds the base-snapshot search index from the store.
// The base tier is small, so a full rebuild is cheaper than tracking
// incremental deltas through cascade deletes.
func (m *Manager) syncBaseIndex(ctx context.Context) error {
	if err := m.baseIndex.Clear(ctx); err != nil {
		return err
	}
	for _, b := range m.store.ListBases() {
		rec := vector_index.Record{
			ID:       b.ID,
			Content:  b.SearchText(),
			Metadata: map[string]string{"category": b.Category},
		}
		if err := m.baseIndex.Add(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func sameSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if !b[id] {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
