package memory_store //nolint:revive // var-naming: using underscores for domain clarity

import (
	"fmt"
	"strings"
	"time"

	"github.com/lewisedginton/memory_chatbot/pkg/prefixed_uuid"
)

// MemoryKind classifies an entry for retrieval weighting.
type MemoryKind string

const (
	KindGeneral   MemoryKind = "general"
	KindConcept   MemoryKind = "concept"
	KindExample   MemoryKind = "example"
	KindImportant MemoryKind = "important"
)

// TurnContext carries the metadata recorded alongside a memory entry.
// The well-known fields are closed; anything else goes in Extra.
type TurnContext struct {
	UserID        string            `json:"user_id,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
	Topic         string            `json:"topic,omitempty"`
	Kind          MemoryKind        `json:"kind,omitempty"`
	EnableAPICall bool              `json:"enable_api_call,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// MemoryEntry is one atomic unit of remembered conversation. Content is
// immutable after creation; importance decays as the entry ages.
type MemoryEntry struct {
	ID           string      `json:"id"`
	Content      string      `json:"content"`
	CreatedAt    time.Time   `json:"created_at"`
	LastAccessed time.Time   `json:"last_accessed"`
	Importance   float64     `json:"importance"`
	Context      TurnContext `json:"context"`
}

// NewEntry creates a memory entry with a fresh id and timestamps.
func NewEntry(content string, importance float64, turnCtx TurnContext) (MemoryEntry, error) {
	if strings.TrimSpace(content) == "" {
		return MemoryEntry{}, fmt.Errorf("memory content cannot be empty")
	}
	if importance < 0 || importance > 1 {
		return MemoryEntry{}, fmt.Errorf("importance must be in [0, 1], got %v", importance)
	}
	if turnCtx.Kind == "" {
		turnCtx.Kind = KindGeneral
	}

	now := time.Now().UTC()
	return MemoryEntry{
		ID:           prefixed_uuid.New("mem").String(),
		Content:      content,
		CreatedAt:    now,
		LastAccessed: now,
		Importance:   importance,
		Context:      turnCtx,
	}, nil
}

// ListFilter narrows a List call. All set conditions are combined with
// logical AND; within Keywords a single match suffices.
type ListFilter struct {
	// Keywords matches entries whose content or topic contains at least
	// one of the given words, case-insensitively.
	Keywords []string

	// After and Before bound the creation time, exclusive on both ends
	// when set.
	After  time.Time
	Before time.Time

	// MinImportance drops entries below the given importance.
	MinImportance float64
}

// Matches reports whether the entry passes every set condition.
func (f *ListFilter) Matches(e MemoryEntry) bool {
	if f == nil {
		return true
	}
	if len(f.Keywords) > 0 {
		content := strings.ToLower(e.Content)
		topic := strings.ToLower(e.Context.Topic)
		found := false
		for _, kw := range f.Keywords {
			kw = strings.ToLower(kw)
			if kw == "" {
				continue
			}
			if strings.Contains(content, kw) || strings.Contains(topic, kw) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.After.IsZero() && !e.CreatedAt.After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !e.CreatedAt.Before(f.Before) {
		return false
	}
	if e.Importance < f.MinImportance {
		return false
	}
	return true
}
