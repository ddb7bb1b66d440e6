package embedding

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperjump/stitch/pkg/utils"
)

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint. The same
// client serves Ollama through its /v1 compatibility API.
type OpenAIEmbedder struct {
	client     *openai.Client
	provider   string
	model      string
	dimensions int
}

// NewOpenAIEmbedder creates an embedder for model. An empty baseURL uses the
// public OpenAI API. Responses whose length differs from dimensions are rejected.
func NewOpenAIEmbedder(provider, apiKey, baseURL, model string, dimensions int) (*OpenAIEmbedder, error) {
	if model == "" {
		return nil, errors.New("embedding model is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if provider == "" {
		provider = "openai"
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(cfg),
		provider:   provider,
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Embed returns the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends all texts in one request and returns unit-length vectors
// ordered like texts.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	input := make([]string, len(texts))
	for i, t := range texts {
		// The API rejects empty strings.
		if t == "" {
			t = " "
		}
		input[i] = t
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: input,
	})
	if err != nil {
		return nil, fmt.Errorf("%s embeddings request: %w", e.provider, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%s returned %d embeddings for %d texts", e.provider, len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, fmt.Errorf("%s returned invalid embedding index %d", e.provider, d.Index)
		}
		if len(d.Embedding) != e.dimensions {
			return nil, fmt.Errorf("%s model %s returned %d dimensions, configured %d",
				e.provider, e.model, len(d.Embedding), e.dimensions)
		}
		v := make([]float32, len(d.Embedding))
		for i, x := range d.Embedding {
			v[i] = float32(x)
		}
		utils.NormalizeL2(v)
		out[d.Index] = v
	}
	return out, nil
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelInfo returns "<provider>-<model>".
func (e *OpenAIEmbedder) ModelInfo() string {
	return e.provider + "-" + e.model
}

// Close is a no-op.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
