package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestMockEmbedder_Deterministic(t *testing.T) {
	e := NewMockEmbedder(384)
	ctx := context.Background()

	v1, err := e.Embed(ctx, "the cat sat on the mat")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "the cat sat on the mat")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 384)
}

func TestMockEmbedder_UnitNorm(t *testing.T) {
	e := NewMockEmbedder(128)

	v, err := e.Embed(context.Background(), "normalize me please")
	require.NoError(t, err)

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestMockEmbedder_SharedWordsAreCloser(t *testing.T) {
	e := NewMockEmbedder(384)
	ctx := context.Background()

	base, err := e.Embed(ctx, "user enjoys hiking in the mountains")
	require.NoError(t, err)
	near, err := e.Embed(ctx, "user enjoys hiking near the lake")
	require.NoError(t, err)
	far, err := e.Embed(ctx, "quarterly revenue projections spreadsheet")
	require.NoError(t, err)

	assert.Greater(t, cosine(base, near), cosine(base, far))
}

func TestMockEmbedder_EmptyTextRejected(t *testing.T) {
	e := NewMockEmbedder(64)

	_, err := e.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)
}
