package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// MockEmbedder is a deterministic, offline embedder. Each token is hashed
// into a handful of buckets, and the resulting vector is normalized to unit
// length. Texts that share words get similar vectors, which is enough
// signal for tests and for running the engine without API credentials.
type MockEmbedder struct {
	dims int
}

// NewMockEmbedder creates a mock embedder producing vectors of the given
// dimensionality.
func NewMockEmbedder(dims int) *MockEmbedder {
	return &MockEmbedder{dims: dims}
}

// Embed converts text into a deterministic pseudo-embedding.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	vec := make([]float32, m.dims)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		seed := h.Sum64()
		// Spread each token over three buckets so overlap is graded
		// rather than all-or-nothing.
		for i := 0; i < 3; i++ {
			bucket := int((seed >> (i * 16)) % uint64(m.dims)) //nolint:gosec // G115: dims is small and positive
			sign := float32(1)
			if (seed>>(i*16+8))&1 == 1 {
				sign = -1
			}
			vec[bucket] += sign
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

// Dimensions returns the configured vector length.
func (m *MockEmbedder) Dimensions() int {
	return m.dims
}
