package oracle

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lewisedginton/memory_chatbot/internal/config"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
)

// OpenAIOracle implements Oracle using the OpenAI chat completions API.
type OpenAIOracle struct {
	client    openai.Client
	modelName string
	maxTokens int
	timeout   config.OpenAIConfig
	log       logger.Logger
}

// NewOpenAIOracle creates an OpenAI-backed oracle.
func NewOpenAIOracle(cfg config.OpenAIConfig, maxTokens int, log logger.Logger) (*OpenAIOracle, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	return &OpenAIOracle{
		client:    openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		modelName: cfg.Model,
		maxTokens: maxTokens,
		timeout:   cfg,
		log:       log.WithFields(logger.StringField("component", "openai_oracle"), logger.StringField("model", cfg.Model)),
	}, nil
}

// Name identifies the provider and model.
func (o *OpenAIOracle) Name() string {
	return "openai/" + o.modelName
}

// Generate sends a single-turn request to the chat completions API.
func (o *OpenAIOracle) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout.Timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.modelName),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	} else if o.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(o.maxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		o.log.Error("OpenAI request failed", logger.ErrorField(err))
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
