package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lewisedginton/memory_chatbot/internal/config"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
	"github.com/lewisedginton/memory_chatbot/pkg/metrics"
)

// OpenAIEmbedder implements Embedder using the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
	timeout    config.EmbeddingConfig
	log        logger.Logger
	metrics    *metrics.Metrics
}

// NewOpenAIEmbedder creates an embedder backed by the OpenAI API.
func NewOpenAIEmbedder(cfg config.EmbeddingConfig, apiKey string, log logger.Logger, m *metrics.Metrics) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client:     openai.NewClient(option.WithAPIKey(apiKey)),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		timeout:    cfg,
		log:        log,
		metrics:    m,
	}
}

// Embed converts text into an embedding vector.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout.Timeout)
	defer cancel()

	e.metrics.EmbeddingCallsCounter.Inc()

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{text},
		},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		e.metrics.EmbeddingFailuresCounter.Inc()
		e.log.Error("Embedding request failed", logger.ErrorField(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Data) == 0 {
		e.metrics.EmbeddingFailuresCounter.Inc()
		return nil, fmt.Errorf("%w: response contained no data", ErrUnavailable)
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}

	if len(vec) != e.dimensions {
		return nil, fmt.Errorf("%w: got %d dimensions, expected %d", ErrUnavailable, len(vec), e.dimensions)
	}
	return vec, nil
}

// Dimensions returns the configured vector length.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}
