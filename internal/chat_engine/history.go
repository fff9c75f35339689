package chat_engine //nolint:revive // var-naming: using underscores for domain clarity

import (
	"sync"
	"time"
)

// Role identifies who produced a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one half of a conversation turn.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationHistory is a bounded FIFO of recent messages. A turn is a
// user message plus the assistant reply, so the message capacity is twice
// the configured turn capacity.
type ConversationHistory struct {
	mu       sync.Mutex
	capacity int
	messages []Message
}

// NewConversationHistory creates a history holding up to turns turns.
func NewConversationHistory(turns int) *ConversationHistory {
	if turns < 1 {
		turns = 1
	}
	return &ConversationHistory{capacity: turns * 2}
}

// Append adds a message, evicting the oldest when over capacity.
func (h *ConversationHistory) Append(role Role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, Message{Role: role, Content: content, Timestamp: time.Now()})
	if len(h.messages) > h.capacity {
		h.messages = h.messages[len(h.messages)-h.capacity:]
	}
}

// Messages returns a copy of the retained messages, oldest first.
func (h *ConversationHistory) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of retained messages.
func (h *ConversationHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// Restore replaces the retained messages, keeping only the newest ones
// that fit the capacity. Used when resuming a persisted session.
func (h *ConversationHistory) Restore(messages []Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(messages) > h.capacity {
		messages = messages[len(messages)-h.capacity:]
	}
	h.messages = make([]Message, len(messages))
	copy(h.messages, messages)
}

// Clear drops all retained messages.
func (h *ConversationHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}
