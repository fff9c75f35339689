// Package session_manager tracks chat sessions and persists their
// conversation histories so the CLI can resume a conversation across
// runs.
package session_manager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lewisedginton/memory_chatbot/internal/chat_engine"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
	"github.com/lewisedginton/memory_chatbot/pkg/prefixed_uuid"
)

// Manager provides session tracking and lifecycle management.
type Manager interface {
	// GetLatestSession returns the most recent session ID for a user.
	// Returns empty string if no sessions exist.
	GetLatestSession(ctx context.Context, userID string) (string, error)

	// GetOrCreateSession returns the latest session or creates a new one.
	GetOrCreateSession(ctx context.Context, userID, topic string) (string, error)

	// CreateNewSession always creates a new session.
	CreateNewSession(ctx context.Context, userID, topic string) (string, error)

	// TouchSession bumps the last-active timestamp and turn count.
	TouchSession(ctx context.Context, sessionID string) error

	// ListUserSessions returns all sessions for a user, most recent first.
	ListUserSessions(ctx context.Context, userID string) ([]SessionInfo, error)

	// SaveHistory persists a session's conversation history.
	SaveHistory(ctx context.Context, sessionID string, messages []chat_engine.Message) error

	// LoadHistory restores a session's conversation history. Missing
	// history is not an error; a fresh session has none.
	LoadHistory(ctx context.Context, sessionID string) ([]chat_engine.Message, error)
}

type sessionManager struct {
	config    Config
	mutex     sync.RWMutex
	index     map[string][]SessionInfo
	fileMutex sync.Mutex
}

// New creates a session manager and loads existing metadata.
func New(config Config) (Manager, error) {
	if config.MetadataFile == "" {
		return nil, fmt.Errorf("metadata file path is required")
	}
	if config.FileProvider == nil {
		return nil, fmt.Errorf("file provider is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	sm := &sessionManager{
		config: config,
		index:  make(map[string][]SessionInfo),
	}

	if err := sm.loadMetadata(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}

	return sm, nil
}

func (sm *sessionManager) GetLatestSession(_ context.Context, userID string) (string, error) {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	sessions, ok := sm.index[userID]
	if !ok || len(sessions) == 0 {
		return "", nil
	}

	latest := sessions[0]
	for _, s := range sessions[1:] {
		if s.LastActive.After(latest.LastActive) {
			latest = s
		}
	}
	return latest.SessionID, nil
}

func (sm *sessionManager) GetOrCreateSession(ctx context.Context, userID, topic string) (string, error) {
	sessionID, err := sm.GetLatestSession(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to get latest session: %w", err)
	}
	if sessionID != "" {
		if err := sm.TouchSession(ctx, sessionID); err != nil {
			sm.config.Logger.Warn("Failed to touch session",
				logger.StringField("session_id", sessionID),
				logger.ErrorField(err))
		}
		return sessionID, nil
	}
	return sm.CreateNewSession(ctx, userID, topic)
}

func (sm *sessionManager) CreateNewSession(ctx context.Context, userID, topic string) (string, error) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	sessionID := prefixed_uuid.New("session").String()
	now := time.Now()
	sm.index[userID] = append(sm.index[userID], SessionInfo{
		SessionID:  sessionID,
		UserID:     userID,
		Topic:      topic,
		CreatedAt:  now,
		LastActive: now,
	})

	if err := sm.saveMetadata(ctx); err != nil {
		// Session exists in memory regardless.
		sm.config.Logger.Error("Failed to save metadata after creating session",
			logger.StringField("session_id", sessionID),
			logger.ErrorField(err))
	}

	sm.config.Logger.Info("Created new session",
		logger.StringField("session_id", sessionID),
		logger.StringField("user_id", userID))

	return sessionID, nil
}

func (sm *sessionManager) TouchSession(ctx context.Context, sessionID string) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	found := false
	for userID, sessions := range sm.index {
		for i, s := range sessions {
			if s.SessionID == sessionID {
				sm.index[userID][i].LastActive = time.Now()
				sm.index[userID][i].Turns++
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	if err := sm.saveMetadata(ctx); err != nil {
		sm.config.Logger.Warn("Failed to save metadata after touching session",
			logger.StringField("session_id", sessionID),
			logger.ErrorField(err))
	}
	return nil
}

func (sm *sessionManager) ListUserSessions(_ context.Context, userID string) ([]SessionInfo, error) {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	sessions, ok := sm.index[userID]
	if !ok {
		return []SessionInfo{}, nil
	}

	result := make([]SessionInfo, len(sessions))
	copy(result, sessions)
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastActive.After(result[j].LastActive)
	})
	return result, nil
}
