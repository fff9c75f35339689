package embedding

import (
	"fmt"

	"github.com/lewisedginton/memory_chatbot/internal/config"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
	"github.com/lewisedginton/memory_chatbot/pkg/metrics"
)

// NewFromConfig constructs the embedder selected by configuration.
func NewFromConfig(cfg *config.AppConfig, log logger.Logger, m *metrics.Metrics) (Embedder, error) {
	switch cfg.Embedding.Provider {
	case config.EmbeddingProviderOpenAI:
		return NewOpenAIEmbedder(cfg.Embedding, cfg.OpenAI.APIKey, log, m), nil
	case config.EmbeddingProviderMock:
		return NewMockEmbedder(cfg.Embedding.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Embedding.Provider)
	}
}
