// Package oracle wraps the language-model providers used by the memory
// engine. Everything that needs generated text (chat replies, snapshot
// summaries, relevance judging) goes through the Oracle interface so the
// provider can be swapped by configuration.
package oracle

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the provider could not be reached or returned a
// non-retryable failure.
var ErrUnavailable = errors.New("oracle unavailable")

// ErrEmptyResponse indicates the provider answered with no usable text.
var ErrEmptyResponse = errors.New("oracle returned empty response")

// Request is a single generation request.
type Request struct {
	// System is the system prompt, optional.
	System string

	// Prompt is the user-role content.
	Prompt string

	// MaxTokens caps the response length. Zero uses the client default.
	MaxTokens int
}

// Oracle generates text from a prompt. Implementations must honor context
// cancellation and return the response as a single string; callers that
// expect JSON parse and validate it themselves.
type Oracle interface {
	Generate(ctx context.Context, req Request) (string, error)

	// Name identifies the backing provider and model, for logs.
	Name() string
}
