// Package chat_engine composes retrieval, memory persistence and the
// oracle into the conversational surface consumed by the CLI and server.
package chat_engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/lewisedginton/memory_chatbot/internal/config"
	"github.com/lewisedginton/memory_chatbot/internal/memory_retriever"
	"github.com/lewisedginton/memory_chatbot/internal/memory_store"
	"github.com/lewisedginton/memory_chatbot/internal/oracle"
	"github.com/lewisedginton/memory_chatbot/internal/snapshot_manager"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
	"github.com/lewisedginton/memory_chatbot/pkg/utils"
)

const basePersona = `You are a helpful assistant with long-term memory of past conversations.
Use the provided memories when they are relevant, but do not mention the memory system itself.`

const (
	defaultTurnImportance   = 0.5
	importantTurnImportance = 0.9
)

// Result is the outcome of one chat turn.
type Result struct {
	Reply         string
	ThinkingSteps []string
	Memories      []memory_retriever.ScoredMemory
}

// Stats summarizes engine state.
type Stats struct {
	Turns    int                `json:"turns"`
	History  int                `json:"history_messages"`
	Memories memory_store.Stats `json:"memories"`
}

// Engine ties the memory subsystem to the reply oracle. Retrieval and
// persistence degrade quietly; only a reply-path oracle failure surfaces
// to the caller.
type Engine struct {
	oracle    oracle.Oracle
	retriever *memory_retriever.Retriever
	store     *memory_store.Store
	snapshots *snapshot_manager.Manager
	history   *ConversationHistory

	chatCfg   config.ChatConfig
	retCfg    config.RetrievalConfig
	memCfg    config.MemoryConfig
	maxTokens int
	persona   string
	log       logger.Logger

	mu        sync.Mutex
	turnCount int

	consolidation *taskQueue
	maintenance   *taskQueue
	cancel        context.CancelFunc
	drained       chan struct{}
}

// Options collects the engine's dependencies.
type Options struct {
	Oracle    oracle.Oracle
	Retriever *memory_retriever.Retriever
	Store     *memory_store.Store
	Snapshots *snapshot_manager.Manager
	ChatCfg   config.ChatConfig
	RetCfg    config.RetrievalConfig
	MemCfg    config.MemoryConfig
	MaxTokens int
	Persona   string // Optional persona override; empty uses the default
	Logger    logger.Logger
}

// New creates an engine and starts its background workers.
func New(opts Options) *Engine {
	log := opts.Logger.WithFields(logger.StringField("component", "chat_engine"))

	persona := opts.Persona
	if persona == "" {
		persona = basePersona
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		oracle:        opts.Oracle,
		retriever:     opts.Retriever,
		store:         opts.Store,
		snapshots:     opts.Snapshots,
		history:       NewConversationHistory(opts.ChatCfg.HistoryCapacity),
		chatCfg:       opts.ChatCfg,
		retCfg:        opts.RetCfg,
		memCfg:        opts.MemCfg,
		maxTokens:     opts.MaxTokens,
		persona:       persona,
		log:           log,
		consolidation: newTaskQueue("consolidation", opts.ChatCfg.ConsolidationQueueSize, opts.ChatCfg.ConsolidationRetries, log),
		maintenance:   newTaskQueue("maintenance", opts.ChatCfg.ConsolidationQueueSize, opts.ChatCfg.ConsolidationRetries, log),
		cancel:        cancel,
		drained:       make(chan struct{}),
	}

	e.consolidation.start(ctx)
	e.maintenance.start(ctx)

	merged := utils.MergeErrorChans(e.consolidation.errors(), e.maintenance.errors())
	go func() {
		defer close(e.drained)
		for err := range merged {
			e.log.Error("Background task exhausted retries", logger.ErrorField(err))
		}
	}()

	return e
}

// Chat runs a full turn: retrieve memories, generate a reply, persist the
// exchange and trigger consolidation when due.
func (e *Engine) Chat(ctx context.Context, query string, turnCtx *memory_store.TurnContext) (Result, error) {
	if strings.TrimSpace(query) == "" {
		return Result{}, fmt.Errorf("query cannot be empty")
	}

	steps := make([]string, 0, 4)

	memories := e.ProcessTurn(ctx, query, turnCtx)
	steps = append(steps, fmt.Sprintf("recalled %d relevant memories", len(memories)))

	reply, err := e.oracle.Generate(ctx, oracle.Request{
		System:    e.buildSystemPrompt(memories, turnCtx),
		Prompt:    e.buildPrompt(query),
		MaxTokens: e.maxTokens,
	})
	if err != nil {
		return Result{}, fmt.Errorf("generate reply: %w", err)
	}
	steps = append(steps, fmt.Sprintf("generated reply with %s", e.oracle.Name()))

	// Persist only after a reply exists so a failed turn leaves no
	// half-recorded memory.
	if err := e.RecordTurn(ctx, query, reply, turnCtx); err != nil {
		e.log.Warn("Failed to record turn", logger.ErrorField(err))
		steps = append(steps, "memory write failed, continuing")
	} else {
		steps = append(steps, "recorded turn to long-term memory")
	}

	e.history.Append(RoleUser, query)
	e.history.Append(RoleAssistant, reply)
	e.maybeTriggerConsolidation()

	return Result{Reply: reply, ThinkingSteps: steps, Memories: memories}, nil
}

// ProcessTurn returns the candidate memories for a query without
// generating a reply or persisting anything.
func (e *Engine) ProcessTurn(ctx context.Context, query string, turnCtx *memory_store.TurnContext) []memory_retriever.ScoredMemory {
	return e.retriever.Search(ctx, query, e.retCfg.TopK, e.retCfg.Threshold, turnCtx)
}

// RecordTurn stores a completed exchange as one memory entry and drops
// the retrieval cache.
func (e *Engine) RecordTurn(ctx context.Context, query, reply string, turnCtx *memory_store.TurnContext) error {
	var tc memory_store.TurnContext
	if turnCtx != nil {
		tc = *turnCtx
	}

	importance := defaultTurnImportance
	if tc.Kind == memory_store.KindImportant {
		importance = importantTurnImportance
	}

	content := fmt.Sprintf("User: %s\nAssistant: %s", query, reply)
	entry, err := memory_store.NewEntry(content, importance, tc)
	if err != nil {
		return fmt.Errorf("build memory entry: %w", err)
	}
	if err := e.store.Save(ctx, entry); err != nil {
		return fmt.Errorf("save memory entry: %w", err)
	}

	e.retriever.Invalidate()
	return nil
}

// RunConsolidationCycle runs a consolidation cycle synchronously.
func (e *Engine) RunConsolidationCycle(ctx context.Context) error {
	return e.snapshots.RunCycle(ctx)
}

// ClearAll wipes memories, snapshots, the retrieval cache and the
// conversation history.
func (e *Engine) ClearAll(ctx context.Context) error {
	var result *multierror.Error

	if err := e.snapshots.ClearAll(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("clear snapshots: %w", err))
	}
	if err := e.store.Clear(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("clear memories: %w", err))
	}
	e.retriever.Invalidate()
	e.history.Clear()

	e.mu.Lock()
	e.turnCount = 0
	e.mu.Unlock()

	return result.ErrorOrNil()
}

// History exposes the rolling conversation history.
func (e *Engine) History() *ConversationHistory {
	return e.history
}

// GetStats returns a point-in-time summary of the engine.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	turns := e.turnCount
	e.mu.Unlock()

	return Stats{
		Turns:    turns,
		History:  e.history.Len(),
		Memories: e.store.GetStats(),
	}
}

// Close stops the background workers and waits for queued work to drain.
func (e *Engine) Close() {
	e.consolidation.stop()
	e.maintenance.stop()
	<-e.drained
	e.cancel()
}

func (e *Engine) maybeTriggerConsolidation() {
	e.mu.Lock()
	e.turnCount++
	due := e.chatCfg.ConsolidationEvery > 0 && e.turnCount%e.chatCfg.ConsolidationEvery == 0
	e.mu.Unlock()

	if !due {
		return
	}

	e.consolidation.enqueue(task{name: "consolidation cycle", run: func(ctx context.Context) error {
		return e.snapshots.RunCycle(ctx)
	}})
	e.maintenance.enqueue(task{name: "retention cleanup", run: func(ctx context.Context) error {
		cutoff := time.Now().Add(-e.memCfg.RetentionWindow)
		return e.snapshots.CleanupOlderThan(ctx, cutoff)
	}})
}

func (e *Engine) buildSystemPrompt(memories []memory_retriever.ScoredMemory, turnCtx *memory_store.TurnContext) string {
	var b strings.Builder
	b.WriteString(e.persona)

	if len(memories) > 0 {
		b.WriteString("\n\nRelevant memories from past conversations:\n")
		for _, m := range memories {
			fmt.Fprintf(&b, "- [%s] %s\n", m.Memory.CreatedAt.Format("2006-01-02"), m.Memory.Content)
		}
	}

	if turnCtx != nil && turnCtx.EnableAPICall {
		if docs := turnCtx.Extra["api_docs"]; docs != "" {
			b.WriteString("\n\nYou may call the following external APIs when helpful:\n")
			b.WriteString(docs)
		}
	}

	return b.String()
}

func (e *Engine) buildPrompt(query string) string {
	messages := e.history.Messages()
	if len(messages) == 0 {
		return query
	}

	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			fmt.Fprintf(&b, "User: %s\n", m.Content)
		case RoleAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n", m.Content)
		}
	}
	fmt.Fprintf(&b, "User: %s", query)
	return b.String()
}
