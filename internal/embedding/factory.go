package embedding

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/stitch/internal/config"
	"github.com/hyperjump/stitch/pkg/utils"
)

// Provider names accepted in embedding.provider.
const (
	ProviderONNX   = "onnx"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderMock   = "mock"
)

// New builds the embedder selected by cfg.Provider, wrapped in an LRU cache
// when cfg.CacheSize is positive. If the ONNX model cannot be loaded the mock
// embedder is used instead and a warning is logged.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	logger = utils.OrNop(logger)

	var emb Embedder
	switch strings.ToLower(cfg.Provider) {
	case ProviderONNX, "":
		onnx, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			logger.Warn("ONNX embedder unavailable, falling back to mock embeddings",
				zap.String("model_path", cfg.ModelPath), zap.Error(err))
			emb = NewMockEmbedder(cfg.Dimensions)
		} else {
			emb = onnx
		}
	case ProviderOpenAI:
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
		oa, err := NewOpenAIEmbedder(ProviderOpenAI, key, os.Getenv("OPENAI_BASE_URL"), cfg.Model, cfg.Dimensions)
		if err != nil {
			return nil, err
		}
		emb = oa
	case ProviderOllama:
		baseURL := strings.TrimRight(cfg.Host, "/") + "/v1"
		ol, err := NewOpenAIEmbedder(ProviderOllama, "ollama", baseURL, cfg.Model, cfg.Dimensions)
		if err != nil {
			return nil, err
		}
		emb = ol
	case ProviderMock:
		emb = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: onnx, openai, ollama, mock)", cfg.Provider)
	}

	logger.Debug("embedder ready",
		zap.String("model", emb.ModelInfo()),
		zap.Int("dimensions", emb.Dimensions()),
		zap.Int("cache_size", cfg.CacheSize))

	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(emb, cfg.CacheSize), nil
	}
	return emb, nil
}
