package vector_index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	chromem "github.com/philippgille/chromem-go"

	"github.com/lewisedginton/memory_chatbot/internal/storage_manager"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
)

// ErrIndexCorrupt is returned by Load when the persisted records and
// embeddings disagree. That state means a write was torn or a file was
// edited by hand; retrying won't fix it, the index must be rebuilt from
// the memory store.
var ErrIndexCorrupt = errors.New("persisted index is corrupt")

const (
	recordsFile    = "records.json"
	embeddingsFile = "embeddings.json"
)

// Save persists the records and embeddings as a pair of JSON files. The
// provider's writes are individually atomic; Load cross-checks the pair.
func (ix *Index) Save(ctx context.Context, provider storage_manager.FileProvider) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	recData, err := json.Marshal(ix.records)
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	embData, err := json.Marshal(ix.embeddings)
	if err != nil {
		return fmt.Errorf("marshal embeddings: %w", err)
	}

	if err := provider.Write(ctx, ix.path(recordsFile), recData); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	if err := provider.Write(ctx, ix.path(embeddingsFile), embData); err != nil {
		return fmt.Errorf("write embeddings: %w", err)
	}
	return nil
}

// Load replaces the index contents with the persisted state. A missing
// pair of files leaves the index empty. A mismatched pair returns
// ErrIndexCorrupt without modifying the index.
func (ix *Index) Load(ctx context.Context, provider storage_manager.FileProvider) error {
	recExists, err := provider.Exists(ctx, ix.path(recordsFile))
	if err != nil {
		return fmt.Errorf("check records file: %w", err)
	}
	embExists, err := provider.Exists(ctx, ix.path(embeddingsFile))
	if err != nil {
		return fmt.Errorf("check embeddings file: %w", err)
	}
	if !recExists && !embExists {
		return nil
	}
	if recExists != embExists {
		return fmt.Errorf("%w: only one of %s/%s present", ErrIndexCorrupt, recordsFile, embeddingsFile)
	}

	recData, err := provider.Read(ctx, ix.path(recordsFile))
	if err != nil {
		return fmt.Errorf("read records: %w", err)
	}
	embData, err := provider.Read(ctx, ix.path(embeddingsFile))
	if err != nil {
		return fmt.Errorf("read embeddings: %w", err)
	}

	var records map[string]Record
	if err := json.Unmarshal(recData, &records); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}
	var embeddings map[string][]float32
	if err := json.Unmarshal(embData, &embeddings); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}

	if len(records) != len(embeddings) {
		return fmt.Errorf("%w: %d records but %d embeddings", ErrIndexCorrupt, len(records), len(embeddings))
	}
	for id := range records {
		if _, ok := embeddings[id]; !ok {
			return fmt.Errorf("%w: record %s has no embedding", ErrIndexCorrupt, id)
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

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
			return fmt.Errorf("load: add document %s: %w", id, err)
		}
	}
	ix.records = records
	ix.embeddings = embeddings

	ix.log.Info("Index loaded", logger.IntField("records", len(records)))
	return nil
}

func (ix *Index) path(file string) string {
	return ix.name + "/" + file
}
