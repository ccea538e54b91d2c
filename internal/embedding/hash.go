package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

var _ Embedder = (*HashEmbedder)(nil)

// HashEmbedder builds deterministic bag-of-words vectors without a model server.
// Each lower-cased word seeds a pseudo-random vector; the text vector is their normalized sum,
// so texts that share words land near each other.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder returns a hash embedder producing vectors of the given dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 384
	}
	return &HashEmbedder{dimension: dimension}
}

// Embed returns the vector for text.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, h.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		words = []string{text}
	}

	for _, w := range words {
		hf := fnv.New64a()
		hf.Write([]byte(w))
		seed := hf.Sum64()
		for i := range vec {
			seed = seed*6364136223846793005 + 1442695040888963407
			vec[i] += float32(int64(seed)) / float32(math.MaxInt64)
		}
	}

	return Normalize(vec), nil
}

// EmbedBatch embeds each text in order.
func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Model returns "hash".
func (h *HashEmbedder) Model() string { return "hash" }

// Dimension returns the vector size.
func (h *HashEmbedder) Dimension() int { return h.dimension }
