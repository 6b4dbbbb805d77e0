package embedding

import (
	"context"
	"hash/fnv"
	"strings"
)

const defaultLocalDimension = 256

// LocalClient is a deterministic, dependency-free embedding client.
// It projects token hashes into a fixed-size vector, which preserves
// enough lexical overlap for ranking while needing no external
// service. Used when no embedding API is configured and in tests.
type LocalClient struct {
	dimension int
}

// NewLocalClient creates a LocalClient with the configured dimension.
func NewLocalClient(cfg Config) *LocalClient {
	dim := cfg.Dimension
	if dim <= 0 {
		dim = defaultLocalDimension
	}
	return &LocalClient{dimension: dim}
}

// Embed produces one normalized vector per input text. The same text
// always yields the same vector.
func (c *LocalClient) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = c.embedOne(text)
	}
	return out, nil
}

func (c *LocalClient) embedOne(text string) []float32 {
	vec := make([]float32, c.dimension)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(c.dimension))
		// Second hash bit decides the sign so common tokens don't all
		// accumulate in the same direction.
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	return Normalize(vec)
}

func (c *LocalClient) Dimension() int { return c.dimension }
