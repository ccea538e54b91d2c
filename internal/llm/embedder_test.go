package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/tempest/internal/config"
	"github.com/raphaelgruber/tempest/internal/metrics"
)

type countingEmbedder struct {
	calls int
	dim   int
	err   error
}

func (c *countingEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, c.dim)
		out[i][0] = float32(len(texts[i]))
	}
	return out, nil
}

func (c *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func TestEmbedderCachesRepeatedText(t *testing.T) {
	inner := &countingEmbedder{dim: 4}
	mc := metrics.NewCollector()
	e, err := newEmbedder(inner, "test", 4, 8, mc)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := e.Embed(ctx, "Rimuru, what's your favorite food?")
	require.NoError(t, err)
	second, err := e.Embed(ctx, "Rimuru, what's your favorite food?")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, int64(1), mc.Snapshot().EmbeddingCacheHits)
}

func TestEmbedderDimensionMismatch(t *testing.T) {
	e, err := newEmbedder(&countingEmbedder{dim: 3}, "test", 4, 8, nil)
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestEmbedderWrapsFatalErrors(t *testing.T) {
	e, err := newEmbedder(&countingEmbedder{dim: 4, err: errors.New("HTTP 401: invalid api key")}, "test", 4, 8, nil)
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrFatalAPI)
}

func TestEmbedBatchFillsCache(t *testing.T) {
	inner := &countingEmbedder{dim: 2}
	e, err := newEmbedder(inner, "test", 2, 8, nil)
	require.NoError(t, err)

	ctx := context.Background()
	vecs, err := e.EmbedBatch(ctx, []string{"a", "bb"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)

	_, err = e.Embed(ctx, "bb")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestNewEmbeddingHashProvider(t *testing.T) {
	e, err := NewEmbedding(config.Config{EmbedProvider: config.ProviderHash, EmbedDimension: 16}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hash", e.Model())
	assert.Equal(t, 16, e.Dimension())
}

func TestNewEmbedderUnsupportedProvider(t *testing.T) {
	_, err := NewEmbedder(config.Config{EmbedProvider: config.ProviderAnthropic}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported embedding provider")
}
