// Package memory_store is the durable record of raw memory entries. Each
// entry is persisted as its own JSON file and mirrored into the vector
// index; a save is atomic across the pair, so readers never see an entry
// that cannot be searched or a search hit that cannot be fetched.
package memory_store //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/lewisedginton/memory_chatbot/internal/config"
	"github.com/lewisedginton/memory_chatbot/internal/storage_manager"
	"github.com/lewisedginton/memory_chatbot/internal/vector_index"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
	"github.com/lewisedginton/memory_chatbot/pkg/metrics"
)

const entriesPrefix = "entries"

// ErrNotFound is returned when an entry id does not exist.
var ErrNotFound = vector_index.ErrNotFound

// Store owns all MemoryEntry records. The in-memory map is the runtime
// source of truth; the file provider holds the durable copy and the vector
// index holds the searchable copy.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]MemoryEntry
	provider storage_manager.FileProvider
	index    *vector_index.Index
	cfg      config.MemoryConfig
	log      logger.Logger
	metrics  *metrics.Metrics
}

// New creates an empty store. Call Load to pick up persisted entries.
func New(provider storage_manager.FileProvider, index *vector_index.Index, cfg config.MemoryConfig, log logger.Logger, m *metrics.Metrics) *Store {
	return &Store{
		entries:  make(map[string]MemoryEntry),
		provider: provider,
		index:    index,
		cfg:      cfg,
		log:      log.WithFields(logger.StringField("component", "memory_store")),
		metrics:  m,
	}
}

// Index exposes the backing vector index for retrieval.
func (s *Store) Index() *vector_index.Index {
	return s.index
}

// Save persists an entry and indexes it. If indexing fails the record file
// is removed again, so the entry either fully exists or not at all.
func (s *Store) Save(ctx context.Context, entry MemoryEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("entry id is required")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry %s: %w", entry.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.entryPath(entry.ID)
	if err := s.provider.Write(ctx, path, data); err != nil {
		return fmt.Errorf("write entry %s: %w", entry.ID, err)
	}

	rec := vector_index.Record{
		ID:      entry.ID,
		Content: entry.Content,
		Metadata: map[string]string{
			"user_id":    entry.Context.UserID,
			"session_id": entry.Context.SessionID,
			"kind":       string(entry.Context.Kind),
		},
	}
	if err := s.index.Add(ctx, rec); err != nil {
		if delErr := s.provider.Delete(ctx, path); delErr != nil {
			s.log.Error("Failed to roll back entry file after index failure",
				logger.StringField("id", entry.ID), logger.ErrorField(delErr))
		}
		return fmt.Errorf("index entry %s: %w", entry.ID, err)
	}

	s.entries[entry.ID] = entry
	s.metrics.MemoriesStoredCounter.Inc()
	return nil
}

// SaveBatch saves several entries, collecting per-entry failures instead of
// stopping at the first one.
func (s *Store) SaveBatch(ctx context.Context, entries []MemoryEntry) error {
	var result error
	for _, entry := range entries {
		if err := s.Save(ctx, entry); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// Get returns an entry by id, refreshing its access time and applying
// importance decay. The decayed state is persisted best-effort; a failed
// write never fails the read.
func (s *Store) Get(ctx context.Context, id string) (MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return MemoryEntry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	now := time.Now().UTC()
	decayed := s.decayedImportance(entry, now)
	if decayed != entry.Importance {
		entry.Importance = decayed
		entry.LastAccessed = now
		s.entries[id] = entry
		if data, err := json.Marshal(entry); err == nil {
			if err := s.provider.Write(ctx, s.entryPath(id), data); err != nil {
				s.log.Warn("Failed to persist importance decay",
					logger.StringField("id", id), logger.ErrorField(err))
			}
		}
	}
	return entry, nil
}

// List returns entries passing the filter, newest first. A nil filter
// returns everything.
func (s *Store) List(ctx context.Context, filter *ListFilter) ([]MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]MemoryEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		if filter.Matches(entry) {
			result = append(result, entry)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Delete removes an entry from the map, the file store and the index.
// Deleting a missing id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(ctx, id)
}

// DeleteOlderThan removes every entry created before the cutoff and
// returns the removed ids so callers can prune dependent snapshots.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	var result error
	for id, entry := range s.entries {
		if entry.CreatedAt.Before(cutoff) {
			if err := s.deleteLocked(ctx, id); err != nil {
				result = multierror.Append(result, err)
				continue
			}
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		s.log.Info("Retention cleanup removed entries",
			logger.IntField("removed", len(removed)),
			logger.TimeField("cutoff", cutoff))
	}
	return removed, result
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result error
	for id := range s.entries {
		if err := s.provider.Delete(ctx, s.entryPath(id)); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := s.index.Clear(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	s.entries = make(map[string]MemoryEntry)
	return result
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats summarizes the store for diagnostics.
type Stats struct {
	Entries        int       `json:"entries"`
	Indexed        int       `json:"indexed"`
	OldestEntry    time.Time `json:"oldest_entry,omitzero"`
	NewestEntry    time.Time `json:"newest_entry,omitzero"`
	MeanImportance float64   `json:"mean_importance"`
}

// GetStats returns current store statistics.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Entries: len(s.entries), Indexed: s.index.Len()}
	var sum float64
	for _, entry := range s.entries {
		sum += entry.Importance
		if stats.OldestEntry.IsZero() || entry.CreatedAt.Before(stats.OldestEntry) {
			stats.OldestEntry = entry.CreatedAt
		}
		if entry.CreatedAt.After(stats.NewestEntry) {
			stats.NewestEntry = entry.CreatedAt
		}
	}
	if len(s.entries) > 0 {
		stats.MeanImportance = sum / float64(len(s.entries))
	}
	return stats
}

// Load reads all persisted entries and reindexes any that are missing from
// the vector index. Past the rebuild threshold the index is compacted once
// at the end instead of patched per entry.
func (s *Store) Load(ctx context.Context) error {
	files, err := s.provider.List(ctx, entriesPrefix)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reindexed := 0
	for _, file := range files {
		if !strings.HasSuffix(file, ".json") {
			continue
		}
		data, err := s.provider.Read(ctx, file)
		if err != nil {
			return fmt.Errorf("read entry file %s: %w", file, err)
		}
		var entry MemoryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			s.log.Warn("Skipping unreadable entry file",
				logger.StringField("file", file), logger.ErrorField(err))
			continue
		}
		s.entries[entry.ID] = entry

		if _, err := s.index.Get(entry.ID); err != nil {
			rec := vector_index.Record{
				ID:      entry.ID,
				Content: entry.Content,
				Metadata: map[string]string{
					"user_id":    entry.Context.UserID,
					"session_id": entry.Context.SessionID,
					"kind":       string(entry.Context.Kind),
				},
			}
			if err := s.index.Add(ctx, rec); err != nil {
				return fmt.Errorf("reindex entry %s: %w", entry.ID, err)
			}
			reindexed++
		}
	}

	if s.cfg.RebuildThreshold > 0 && reindexed > 0 && s.index.Len() > s.cfg.RebuildThreshold {
		if err := s.index.Rebuild(ctx); err != nil {
			return fmt.Errorf("rebuild index after load: %w", err)
		}
	}

	s.log.Info("Memory store loaded",
		logger.IntField("entries", len(s.entries)),
		logger.IntField("reindexed", reindexed))
	return nil
}

func (s *Store) deleteLocked(ctx context.Context, id string) error {
	if _, ok := s.entries[id]; !ok {
		return nil
	}
	if err := s.provider.Delete(ctx, s.entryPath(id)); err != nil {
		return fmt.Errorf("delete entry file %s: %w", id, err)
	}
	if err := s.index.Delete(ctx, id); err != nil {
		return fmt.Errorf("unindex entry %s: %w", id, err)
	}
	delete(s.entries, id)
	s.metrics.MemoriesEvictedCounter.Inc()
	return nil
}

// decayedImportance applies exponential decay per hour since last access,
// floored at the configured minimum.
func (s *Store) decayedImportance(entry MemoryEntry, now time.Time) float64 {
	if s.cfg.ImportanceDecay <= 0 || s.cfg.ImportanceDecay >= 1 {
		return entry.Importance
	}
	hours := now.Sub(entry.LastAccessed).Hours()
	if hours <= 0 {
		return entry.Importance
	}
	decayed := entry.Importance * math.Pow(s.cfg.ImportanceDecay, hours)
	if decayed < s.cfg.MinImportance {
		decayed = s.cfg.MinImportance
	}
	return decayed
}

func (s *Store) entryPath(id string) string {
	return entriesPrefix + "/" + id + ".json"
}
