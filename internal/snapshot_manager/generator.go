package snapshot_manager

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lewisedginton/memory_chatbot/internal/memory_store"
	"github.com/lewisedginton/memory_chatbot/internal/oracle"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
	"github.com/lewisedginton/memory_chatbot/pkg/metrics"
)

// GenerationError wraps an oracle or schema failure during snapshot
// generation. Callers skip the affected batch; they never substitute a
// low-quality default, since that would pollute the hierarchy.
type GenerationError struct {
	Stage string // "detail" or "base"
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("snapshot generation failed at %s stage: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

const detailSystemPrompt = `You summarize conversation memories into structured snapshots.
Respond with a single JSON object and nothing else:
{"summary": "<one paragraph>", "key_elements": ["<short phrase>", ...], "emotion_tags": ["<label>", ...], "category": "<topic label>", "importance": <number 0..1>}`

const baseSystemPrompt = `You abstract groups of memory summaries into a single topical snapshot.
Respond with a single JSON object and nothing else:
{"category": "<topic label>", "keywords": ["<keyword>", ...], "description": "<one or two sentences>"}`

// Generator turns memory batches into snapshots via the oracle profile,
// validating the response structure strictly.
type Generator struct {
	oracle  oracle.Oracle
	log     logger.Logger
	metrics *metrics.Metrics
}

// NewGenerator creates a snapshot generator.
func NewGenerator(o oracle.Oracle, log logger.Logger, m *metrics.Metrics) *Generator {
	return &Generator{
		oracle:  o,
		log:     log.WithFields(logger.StringField("component", "snapshot_generator")),
		metrics: m,
	}
}

type rawDetail struct {
	Summary     string   `json:"summary"`
	KeyElements []string `json:"key_elements"`
	EmotionTags []string `json:"emotion_tags"`
	Category    string   `json:"category"`
	Importance  float64  `json:"importance"`
}

type rawBase struct {
	Category    string   `json:"category"`
	Keywords    []string `json:"keywords"`
	Description string   `json:"description"`
}

// GenerateDetailSnapshot summarizes a non-empty batch of memories into a
// detail snapshot. Every input memory id becomes a ref.
func (g *Generator) GenerateDetailSnapshot(ctx context.Context, memories []memory_store.MemoryEntry, resolves Resolver) (DetailSnapshot, error) {
	if len(memories) == 0 {
		return DetailSnapshot{}, &GenerationError{Stage: "detail", Err: fmt.Errorf("memory batch is empty")}
	}

	var sb strings.Builder
	sb.WriteString("Summarize the following conversation memories:\n\n")
	for i, mem := range memories {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, mem.CreatedAt.Format("2006-01-02 15:04"), mem.Content)
	}

	raw, err := g.oracle.Generate(ctx, oracle.Request{System: detailSystemPrompt, Prompt: sb.String()})
	if err != nil {
		return DetailSnapshot{}, &GenerationError{Stage: "detail", Err: err}
	}

	var parsed rawDetail
	if err := json.Unmarshal([]byte(oracle.CleanJSONResponse(raw)), &parsed); err != nil {
		g.log.Warn("Detail snapshot response is not valid JSON",
			logger.StringField("payload", truncateForLog(raw)), logger.ErrorField(err))
		return DetailSnapshot{}, &GenerationError{Stage: "detail", Err: fmt.Errorf("unparseable response: %w", err)}
	}

	refs := make([]string, len(memories))
	for i, mem := range memories {
		refs[i] = mem.ID
	}

	snapshot, err := NewDetailSnapshot(parsed.Summary, parsed.KeyElements, parsed.EmotionTags, refs, parsed.Category, parsed.Importance, resolves)
	if err != nil {
		g.log.Warn("Detail snapshot response failed validation",
			logger.StringField("payload", truncateForLog(raw)), logger.ErrorField(err))
		return DetailSnapshot{}, &GenerationError{Stage: "detail", Err: err}
	}

	g.metrics.SnapshotsGeneratedCounter.WithLabelValues("detail").Inc()
	return snapshot, nil
}

// GenerateBaseSnapshot abstracts a non-empty cluster of detail snapshots
// into a base snapshot.
func (g *Generator) GenerateBaseSnapshot(ctx context.Context, details []DetailSnapshot, resolves Resolver) (BaseSnapshot, error) {
	if len(details) == 0 {
		return BaseSnapshot{}, &GenerationError{Stage: "base", Err: fmt.Errorf("detail batch is empty")}
	}

	var sb strings.Builder
	sb.WriteString("Abstract the following memory summaries into one topic:\n\n")
	for i, d := range details {
		fmt.Fprintf(&sb, "%d. (%s) %s\n", i+1, d.Category, d.Summary)
	}

	raw, err := g.oracle.Generate(ctx, oracle.Request{System: baseSystemPrompt, Prompt: sb.String()})
	if err != nil {
		return BaseSnapshot{}, &GenerationError{Stage: "base", Err: err}
	}

	var parsed rawBase
	if err := json.Unmarshal([]byte(oracle.CleanJSONResponse(raw)), &parsed); err != nil {
		g.log.Warn("Base snapshot response is not valid JSON",
			logger.StringField("payload", truncateForLog(raw)), logger.ErrorField(err))
		return BaseSnapshot{}, &GenerationError{Stage: "base", Err: fmt.Errorf("unparseable response: %w", err)}
	}

	ids := make([]string, len(details))
	for i, d := range details {
		ids[i] = d.ID
	}

	snapshot, err := NewBaseSnapshot(parsed.Category, parsed.Keywords, ids, parsed.Description, resolves)
	if err != nil {
		g.log.Warn("Base snapshot response failed validation",
			logger.StringField("payload", truncateForLog(raw)), logger.ErrorField(err))
		return BaseSnapshot{}, &GenerationError{Stage: "base", Err: err}
	}

	g.metrics.SnapshotsGeneratedCounter.WithLabelValues("base").Inc()
	return snapshot, nil
}

func truncateForLog(s string) string {
	const limit = 500
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
