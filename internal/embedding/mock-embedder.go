package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/hyperjump/stitch/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and offline use. The
// vector is derived from the text hash, so equal texts get equal embeddings.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns a mock embedder of the given dimensions (default 384).
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a unit-length embedding derived from the text hash.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := HashString(text)
	emb := make([]float32, e.dimensions)
	for i := range emb {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch embeds each text in order.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelInfo returns "mock-<dimensions>".
func (e *MockEmbedder) ModelInfo() string {
	return fmt.Sprintf("mock-%d", e.dimensions)
}

// Close is a no-op.
func (e *MockEmbedder) Close() error {
	return nil
}
