// Package embedding converts text into vectors for the memory engine.
// The vector index and the snapshot clustering both depend on the same
// Embedder so that similarities are comparable across the system.
package embedding

import (
	"context"
	"errors"
)

// ErrEmptyText is returned when an empty string is submitted for embedding.
var ErrEmptyText = errors.New("cannot embed empty text")

// ErrUnavailable wraps backend failures: unreachable API, empty or
// malformed responses. Callers treat it as transient and degrade.
var ErrUnavailable = errors.New("embedding backend unavailable")

// Embedder converts a single text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed length of vectors produced by Embed.
	Dimensions() int
}
