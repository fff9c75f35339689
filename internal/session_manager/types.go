package session_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"time"

	"github.com/lewisedginton/memory_chatbot/internal/storage_manager"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
)

// SessionInfo represents metadata about a chat session.
type SessionInfo struct {
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	Topic      string    `json:"topic,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Turns      int       `json:"turns"`
}

// Config holds configuration for the session manager.
type Config struct {
	MetadataFile string                       // Path to metadata JSON file (relative to FileProvider root)
	FileProvider storage_manager.FileProvider // Provider for metadata and conversation histories
	Logger       logger.Logger
}

// metadataStore is the on-disk structure of the metadata file.
type metadataStore struct {
	// userID -> []SessionInfo
	Sessions map[string][]SessionInfo `json:"sessions"`
}
