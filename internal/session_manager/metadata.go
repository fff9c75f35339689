package session_manager

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/lewisedginton/memory_chatbot/internal/chat_engine"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
)

const historiesPrefix = "histories"

// loadMetadata loads session metadata from the JSON file.
func (sm *sessionManager) loadMetadata(ctx context.Context) error {
	sm.fileMutex.Lock()
	defer sm.fileMutex.Unlock()

	exists, err := sm.config.FileProvider.Exists(ctx, sm.config.MetadataFile)
	if err != nil {
		return fmt.Errorf("failed to check metadata file existence: %w", err)
	}
	if !exists {
		sm.config.Logger.Debug("Metadata file does not exist, starting with empty index")
		sm.index = make(map[string][]SessionInfo)
		return nil
	}

	data, err := sm.config.FileProvider.Read(ctx, sm.config.MetadataFile)
	if err != nil {
		return fmt.Errorf("failed to read metadata file: %w", err)
	}

	var store metadataStore
	if err := json.Unmarshal(data, &store); err != nil {
		return fmt.Errorf("failed to parse metadata JSON: %w", err)
	}

	sm.index = store.Sessions
	if sm.index == nil {
		sm.index = make(map[string][]SessionInfo)
	}

	sm.config.Logger.Info("Loaded session metadata", logger.StringField("file", sm.config.MetadataFile))
	return nil
}

// saveMetadata persists session metadata. Callers hold sm.mutex.
func (sm *sessionManager) saveMetadata(ctx context.Context) error {
	sm.fileMutex.Lock()
	defer sm.fileMutex.Unlock()

	data, err := json.MarshalIndent(metadataStore{Sessions: sm.index}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := sm.config.FileProvider.Write(ctx, sm.config.MetadataFile, data); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// SaveHistory persists a session's conversation history.
func (sm *sessionManager) SaveHistory(ctx context.Context, sessionID string, messages []chat_engine.Message) error {
	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := sm.config.FileProvider.Write(ctx, historyPath(sessionID), data); err != nil {
		return fmt.Errorf("failed to write history for %s: %w", sessionID, err)
	}
	return nil
}

// LoadHistory restores a session's conversation history.
func (sm *sessionManager) LoadHistory(ctx context.Context, sessionID string) ([]chat_engine.Message, error) {
	p := historyPath(sessionID)
	exists, err := sm.config.FileProvider.Exists(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to check history for %s: %w", sessionID, err)
	}
	if !exists {
		return nil, nil
	}

	data, err := sm.config.FileProvider.Read(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to read history for %s: %w", sessionID, err)
	}

	var messages []chat_engine.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to parse history for %s: %w", sessionID, err)
	}
	return messages, nil
}

func historyPath(sessionID string) string {
	return path.Join(historiesPrefix, sessionID+".json")
}
