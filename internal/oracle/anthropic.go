package oracle

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lewisedginton/memory_chatbot/internal/config"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
)

// ClaudeOracle implements Oracle using the Anthropic API.
type ClaudeOracle struct {
	client    anthropic.Client
	modelName string
	maxTokens int
	timeout   config.AnthropicConfig
	log       logger.Logger
}

// NewClaudeOracle creates a Claude-backed oracle.
func NewClaudeOracle(cfg config.AnthropicConfig, maxTokens int, log logger.Logger) (*ClaudeOracle, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = string(anthropic.ModelClaudeSonnet4_5_20250929)
	}

	return &ClaudeOracle{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		modelName: modelName,
		maxTokens: maxTokens,
		timeout:   cfg,
		log:       log.WithFields(logger.StringField("component", "claude_oracle"), logger.StringField("model", modelName)),
	}, nil
}

// Name identifies the provider and model.
func (o *ClaudeOracle) Name() string {
	return "claude/" + o.modelName
}

// Generate sends a single-turn request to the Anthropic API.
func (o *ClaudeOracle) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout.Timeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(o.modelName),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := o.client.Messages.New(ctx, params)
	if err != nil {
		o.log.Error("Claude request failed", logger.ErrorField(err))
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
