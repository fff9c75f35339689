// Package prompt_manager provides access to the assistant persona and
// operator-supplied documents stored via a FileProvider backend, so
// prompts can be changed without a rebuild.
package prompt_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"fmt"
	"path"

	"github.com/lewisedginton/memory_chatbot/internal/storage_manager"
)

const (
	personaPath = "persona.md"
	docsPrefix  = "docs"
)

// PromptManager provides methods to retrieve the persona and documents.
type PromptManager struct {
	provider storage_manager.FileProvider
}

// New creates a PromptManager with the given file provider.
func New(provider storage_manager.FileProvider) *PromptManager {
	if provider == nil {
		panic("file provider cannot be nil")
	}
	return &PromptManager{
		provider: provider,
	}
}

// GetPersona retrieves the assistant persona from persona.md.
func (m *PromptManager) GetPersona(ctx context.Context) (string, error) {
	data, err := m.provider.Read(ctx, personaPath)
	if err != nil {
		return "", fmt.Errorf("failed to read persona: %w", err)
	}
	return string(data), nil
}

// GetPersonaOrDefault retrieves the persona, falling back to the given
// default when no override has been stored.
func (m *PromptManager) GetPersonaOrDefault(ctx context.Context, fallback string) string {
	exists, err := m.provider.Exists(ctx, personaPath)
	if err != nil || !exists {
		return fallback
	}
	persona, err := m.GetPersona(ctx)
	if err != nil || persona == "" {
		return fallback
	}
	return persona
}

// GetDocument retrieves a document from the docs directory. The path is
// relative to the docs directory.
func (m *PromptManager) GetDocument(ctx context.Context, docPath string) (string, error) {
	if docPath == "" {
		return "", fmt.Errorf("document path cannot be empty")
	}

	fullPath := path.Join(docsPrefix, docPath)
	data, err := m.provider.Read(ctx, fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to read document %s: %w", docPath, err)
	}
	return string(data), nil
}

// ListDocuments lists available document paths under the docs directory.
func (m *PromptManager) ListDocuments(ctx context.Context) ([]string, error) {
	docs, err := m.provider.List(ctx, docsPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}
