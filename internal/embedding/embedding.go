// Package embedding converts text into fixed-length vectors for the
// retrieval layer.
package embedding

import (
	"context"
	"math"
)

// Client generates vector embeddings from text.
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding client configuration.
type Config struct {
	Provider  string `json:"provider"` // "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// Normalize scales vec to unit length in place and returns it.
// Index vectors are normalized at build time so inner product equals
// cosine similarity at query time.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
