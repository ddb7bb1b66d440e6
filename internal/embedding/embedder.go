// Package embedding turns text into vectors through pluggable providers.
package embedding

import "context"

// Embedder produces vector embeddings for text.
// EmbedBatch returns exactly one vector per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// ModelInfo identifies the model. Indexes built under a different
	// ModelInfo are not reused.
	ModelInfo() string
	Close() error
}
