package oracle

import (
	"fmt"

	"github.com/lewisedginton/memory_chatbot/internal/config"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
)

// NewFromConfig constructs the oracle selected by configuration.
func NewFromConfig(cfg *config.AppConfig, log logger.Logger) (Oracle, error) {
	switch cfg.Oracle.Provider {
	case config.ProviderClaude:
		return NewClaudeOracle(cfg.Anthropic, cfg.Oracle.MaxTokens, log)
	case config.ProviderOpenAI:
		return NewOpenAIOracle(cfg.OpenAI, cfg.Oracle.MaxTokens, log)
	default:
		return nil, fmt.Errorf("unknown oracle provider: %s", cfg.Oracle.Provider)
	}
}
