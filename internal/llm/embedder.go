// Package llm provides chat, generation and embedding services using langchaingo.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/tempest/internal/config"
	"github.com/raphaelgruber/tempest/internal/embedding"
	"github.com/raphaelgruber/tempest/internal/metrics"
)

var _ embedding.Embedder = (*Embedder)(nil)

// Embedder wraps langchaingo embeddings with dimension validation and an LRU cache.
// A turn embeds the prompt for retrieval and again when persisting it, so the cache
// saves one model call per turn.
type Embedder struct {
	model     embeddings.Embedder
	dimension int
	modelName string
	cache     *lru.Cache[string, []float32]
	metrics   *metrics.Collector
}

// NewEmbedding returns the embedder selected by configuration. mc may be nil.
func NewEmbedding(cfg config.Config, mc *metrics.Collector) (embedding.Embedder, error) {
	if cfg.EmbedProvider == config.ProviderHash {
		return embedding.NewHashEmbedder(cfg.EmbedDimension), nil
	}
	return NewEmbedder(cfg, mc)
}

// NewEmbedder creates a model-backed embedder based on configuration.
func NewEmbedder(cfg config.Config, mc *metrics.Collector) (*Embedder, error) {
	var model embeddings.Embedder
	var err error

	switch cfg.EmbedProvider {
	case config.ProviderOllama:
		opts := []ollama.Option{
			ollama.WithModel(cfg.EmbedModel),
			ollama.WithServerURL(cfg.OllamaHost),
		}
		if cfg.KeepAlive != "" {
			opts = append(opts, ollama.WithKeepAlive(cfg.KeepAlive))
		}
		llm, ollamaErr := ollama.New(opts...)
		if ollamaErr != nil {
			return nil, fmt.Errorf("create ollama client: %w", ollamaErr)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedder: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		llm, openaiErr := openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithEmbeddingModel(cfg.EmbedModel),
		)
		if openaiErr != nil {
			return nil, fmt.Errorf("create openai client: %w", openaiErr)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create openai embedder: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.EmbedProvider)
	}

	return newEmbedder(model, cfg.EmbedModel, cfg.EmbedDimension, cfg.EmbedCacheSize, mc)
}

func newEmbedder(model embeddings.Embedder, name string, dimension, cacheSize int, mc *metrics.Collector) (*Embedder, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Embedder{
		model:     model,
		dimension: dimension,
		modelName: name,
		cache:     cache,
		metrics:   mc,
	}, nil
}

// Embed generates an embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		if e.metrics != nil {
			e.metrics.RecordCacheHit()
		}
		return cached, nil
	}

	textLen := len(text)
	slog.Debug("embedding text", "model", e.modelName, "text_len", textLen)

	start := time.Now()
	vectors, err := e.model.EmbedDocuments(ctx, []string{text})
	duration := time.Since(start)

	if err != nil {
		slog.Warn("embedding failed", "model", e.modelName, "text_len", textLen, "duration_ms", duration.Milliseconds(), "error", err)
		return nil, fmt.Errorf("embed: %w", wrapFatalError(err))
	}
	if e.metrics != nil {
		e.metrics.RecordTiming(metrics.OpEmbedding, duration)
	}

	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	vec := vectors[0]
	if len(vec) != e.dimension {
		return nil, fmt.Errorf("dimension mismatch: got %d, want %d", len(vec), e.dimension)
	}

	e.cache.Add(text, vec)
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors, err := e.model.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", wrapFatalError(err))
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("count mismatch: got %d, want %d", len(vectors), len(texts))
	}

	for i, v := range vectors {
		if len(v) != e.dimension {
			return nil, fmt.Errorf("embedding %d dimension mismatch: got %d, want %d", i, len(v), e.dimension)
		}
		e.cache.Add(texts[i], v)
	}

	return vectors, nil
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.modelName
}

// Dimension returns the expected embedding dimension.
func (e *Embedder) Dimension() int {
	return e.dimension
}
