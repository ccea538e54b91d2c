package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestHashEmbedderDeterministic(t *testing.T) {
	ctx := context.Background()
	h := NewHashEmbedder(64)

	a, err := h.Embed(ctx, "What's your favorite food?")
	require.NoError(t, err)
	b, err := h.Embed(ctx, "what's your FAVORITE food")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b, "case and punctuation should not change the vector")
}

func TestHashEmbedderUnitLength(t *testing.T) {
	v, err := NewHashEmbedder(128).Embed(context.Background(), "the gate of Tempest")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, math.Sqrt(cosine(v, v)), 1e-5)
}

func TestHashEmbedderSharedWordsAreCloser(t *testing.T) {
	ctx := context.Background()
	h := NewHashEmbedder(256)

	query, _ := h.Embed(ctx, "favorite food")
	near, _ := h.Embed(ctx, "my favorite food is ramen")
	far, _ := h.Embed(ctx, "the dwarves forged a sword")

	assert.Greater(t, cosine(query, near), cosine(query, far))
}

func TestHashEmbedderBatch(t *testing.T) {
	h := NewHashEmbedder(0)
	assert.Equal(t, 384, h.Dimension())

	vecs, err := h.EmbedBatch(context.Background(), []string{"a", "b", "a"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, vecs[0], vecs[2])
}

func TestHashEmbedderCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashEmbedder(8).Embed(ctx, "hi")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeZero(t *testing.T) {
	v := []float32{0, 0, 0}
	assert.Equal(t, v, Normalize(v))
}
