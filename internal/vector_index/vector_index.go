// Package vector_index provides similarity search over embedded text.
// chromem-go does the nearest-neighbor work in memory; the index owns the
// id-to-record mapping and the persisted copy of records and embeddings.
package vector_index //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/lewisedginton/memory_chatbot/internal/embedding"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
)

// ErrNotFound is returned when a record id is not in the index.
var ErrNotFound = errors.New("record not found in index")

// Record is one indexed item. Content is the text that was embedded;
// Metadata carries whatever the caller wants back with search results.
type Record struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ScoredRecord is a search hit with its normalized similarity score.
type ScoredRecord struct {
	Record Record
	Score  float64
}

// Index maps text records to embeddings and answers top-k similarity
// queries. All scores are normalized into (0, 1] so thresholds stay
// comparable if the underlying metric ever changes.
type Index struct {
	mu         sync.RWMutex
	name       string
	embedder   embedding.Embedder
	db         *chromem.DB
	collection *chromem.Collection
	records    map[string]Record
	embeddings map[string][]float32
	log        logger.Logger
}

// New creates an empty index. The name scopes the underlying collection so
// several indexes (raw memories, snapshot text) can coexist.
func New(name string, embedder embedding.Embedder, log logger.Logger) (*Index, error) {
	db := chromem.NewDB()
	collection, err := db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}

	return &Index{
		name:       name,
		embedder:   embedder,
		db:         db,
		collection: collection,
		records:    make(map[string]Record),
		embeddings: make(map[string][]float32),
		log:        log.WithFields(logger.StringField("component", "vector_index"), logger.StringField("index", name)),
	}, nil
}

// Add embeds the record's content and inserts it. Adding an existing id
// replaces the previous entry.
func (ix *Index) Add(ctx context.Context, rec Record) error {
	vec, err := ix.embedder.Embed(ctx, rec.Content)
	if err != nil {
		return fmt.Errorf("embed record %s: %w", rec.ID, err)
	}
	return ix.AddWithEmbedding(ctx, rec, vec)
}

// AddWithEmbedding inserts a record with a precomputed embedding.
func (ix *Index) AddWithEmbedding(ctx context.Context, rec Record, vec []float32) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, exists := ix.records[rec.ID]; exists {
		if err := ix.collection.Delete(ctx, nil, nil, rec.ID); err != nil {
			return fmt.Errorf("replace record %s: %w", rec.ID, err)
		}
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Content,
		Embedding: vec,
		Metadata:  rec.Metadata,
	}
	if err := ix.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document %s: %w", rec.ID, err)
	}

	ix.records[rec.ID] = rec
	ix.embeddings[rec.ID] = vec
	return nil
}

// Get returns the record stored under id.
func (ix *Index) Get(id string) (Record, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	rec, ok := ix.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

// Embedding returns the stored vector for id, or ErrNotFound.
func (ix *Index) Embedding(id string) ([]float32, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	vec, ok := ix.embeddings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return vec, nil
}

// Search embeds the query and returns up to topK records whose normalized
// similarity is at least threshold, sorted by descending score.
func (ix *Index) Search(ctx context.Context, query string, topK int, threshold float64) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	queryVec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return ix.SearchEmbedding(ctx, queryVec, topK, threshold)
}

// SearchEmbedding runs a similarity query with a precomputed vector.
func (ix *Index) SearchEmbedding(ctx context.Context, queryVec []float32, topK int, threshold float64) ([]ScoredRecord, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	count := ix.collection.Count()
	if count == 0 {
		return nil, nil
	}

	// chromem rejects nResults larger than the collection.
	n := topK
	if n > count {
		n = count
	}

	results, err := ix.collection.QueryEmbedding(ctx, queryVec, n, nil, nil)
	if err != nil {
		if isInsufficientDocsError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query index %s: %w", ix.name, err)
	}

	scored := make([]ScoredRecord, 0, len(results))
	for _, res := range results {
		rec, ok := ix.records[res.ID]
		if !ok {
			// Should not happen; the maps and the collection move together.
			ix.log.Warn("Query returned unknown id", logger.StringField("id", res.ID))
			continue
		}
		score := normalizeSimilarity(res.Similarity)
		if score < threshold {
			continue
		}
		scored = append(scored, ScoredRecord{Record: rec, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored, nil
}

// Delete removes a record. Deleting a missing id is a no-op.
func (ix *Index) Delete(ctx context.Context, id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.records[id]; !ok {
		return nil
	}
	if err := ix.collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	delete(ix.records, id)
	delete(ix.embeddings, id)
	return nil
}

// Clear removes all records.
func (ix *Index) Clear(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.resetLocked()
}

// Len returns the number of indexed records.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records)
}

// Rebuild reconstructs the underlying collection from the stored records
// and embeddings. Ids, content and scores are unchanged; this exists so
// bulk deletes don't leave the collection fragmented.
func (ix *Index) Rebuild(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	records := ix.records
	embeddings := ix.embeddings
	if err := ix.resetLocked(); err != nil {
		return err
	}

	for id, rec := range records {
		doc := chromem.Document{
			ID:        id,
			Content:   rec.Content,
			Embedding: embeddings[id],
			Metadata:  rec.Metadata,
		}
		if err := ix.collection.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("rebuild: add document %s: %w", id, err)
		}
	}
	ix.records = records
	ix.embeddings = embeddings

	ix.log.Info("Index rebuilt", logger.IntField("records", len(records)))
	return nil
}

// resetLocked drops and recreates the collection. Caller holds the lock.
func (ix *Index) resetLocked() error {
	if err := ix.db.DeleteCollection(ix.name); err != nil {
		return fmt.Errorf("delete collection %s: %w", ix.name, err)
	}
	collection, err := ix.db.CreateCollection(ix.name, nil, nil)
	if err != nil {
		return fmt.Errorf("recreate collection %s: %w", ix.name, err)
	}
	ix.collection = collection
	ix.records = make(map[string]Record)
	ix.embeddings = make(map[string][]float32)
	return nil
}

// normalizeSimilarity maps chromem's cosine similarity into (0, 1] via
// 1/(1+distance) with distance = 1 - similarity. Monotonic in the raw
// similarity, so result ordering is preserved.
func normalizeSimilarity(sim float32) float64 {
	return 1 / (2 - float64(sim))
}

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
