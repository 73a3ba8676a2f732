package embedding

import (
	"fmt"

	"github.com/hyperjump/kakunin/internal/config"
)

// New builds the configured embedder, wrapped in an LRU cache when CacheSize > 0.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	var base Embedder
	switch cfg.Provider {
	case "", "mock":
		base = NewMockEmbedder(cfg.Dimensions)
	case "onnx":
		onnx, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		base = onnx
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
	if cfg.CacheSize <= 0 {
		return base, nil
	}
	return NewCachedEmbedder(base, cfg.CacheSize)
}
