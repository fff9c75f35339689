package memory_retriever //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lewisedginton/memory_chatbot/internal/oracle"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
)

// Candidate is one memory offered to the relevance judge.
type Candidate struct {
	ID        string
	Content   string
	Timestamp time.Time
}

// Judgment is one retained, validated judge verdict.
type Judgment struct {
	MemoryID string
	Score    float64
	Reason   string
}

const judgeSystemPrompt = `You judge which stored memories are relevant to a user query.
Respond with a single JSON object and nothing else:
{"relevant_memories": [{"memory_id": "<id from the input>", "relevance_score": <number 0..1>, "reason": "<short justification>"}]}
Omit memories that are not relevant.`

// Judge scores candidate memories against a query via the oracle. The
// oracle's output is treated as hostile: every field is validated and
// malformed elements are dropped individually. This is the single shared
// implementation; no call site parses judge output on its own.
type Judge struct {
	oracle oracle.Oracle
	retain float64
	log    logger.Logger
}

// NewJudge creates a relevance judge. retain is the hard score threshold
// below which verdicts are discarded.
func NewJudge(o oracle.Oracle, retain float64, log logger.Logger) *Judge {
	return &Judge{
		oracle: o,
		retain: retain,
		log:    log.WithFields(logger.StringField("component", "relevance_judge")),
	}
}

// Evaluate asks the oracle to score the candidates. A transport failure is
// returned as an error so callers can fall back; a malformed response is
// not an error, it is an empty result.
func (j *Judge) Evaluate(ctx context.Context, query string, candidates []Candidate) ([]Judgment, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nCandidate memories:\n", query)
	for _, c := range candidates {
		fmt.Fprintf(&sb, "- id: %s (%s)\n  content: %s\n", c.ID, c.Timestamp.Format("2006-01-02 15:04"), c.Content)
	}

	raw, err := j.oracle.Generate(ctx, oracle.Request{System: judgeSystemPrompt, Prompt: sb.String()})
	if err != nil {
		return nil, fmt.Errorf("judge oracle call: %w", err)
	}
	return j.parse(raw, candidates), nil
}

// parse applies the validation discipline to a raw oracle response.
func (j *Judge) parse(raw string, candidates []Candidate) []Judgment {
	known := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		known[c.ID] = true
	}

	var envelope struct {
		RelevantMemories []json.RawMessage `json:"relevant_memories"`
	}
	if err := json.Unmarshal([]byte(oracle.CleanJSONResponse(raw)), &envelope); err != nil {
		j.log.Warn("Judge response is not a JSON object, treating as empty",
			logger.StringField("payload", truncatePayload(raw)), logger.ErrorField(err))
		return nil
	}
	if envelope.RelevantMemories == nil {
		j.log.Warn("Judge response missing relevant_memories, treating as empty",
			logger.StringField("payload", truncatePayload(raw)))
		return nil
	}

	var judgments []Judgment
	for _, element := range envelope.RelevantMemories {
		var entry struct {
			MemoryID       *string `json:"memory_id"`
			RelevanceScore any     `json:"relevance_score"`
			Reason         *string `json:"reason"`
		}
		if err := json.Unmarshal(element, &entry); err != nil {
			j.log.Debug("Dropping unparseable judge element", logger.ErrorField(err))
			continue
		}
		if entry.MemoryID == nil || entry.RelevanceScore == nil || entry.Reason == nil {
			j.log.Debug("Dropping judge element with missing fields")
			continue
		}
		if !known[*entry.MemoryID] {
			j.log.Debug("Dropping judge element with unknown id",
				logger.StringField("memory_id", *entry.MemoryID))
			continue
		}
		score, ok := coerceScore(entry.RelevanceScore)
		if !ok || score < 0 || score > 1 {
			// Out-of-range is dropped, not clamped. A judge claiming 1.7
			// is malfunctioning, not indicating extra relevance.
			j.log.Debug("Dropping judge element with invalid score",
				logger.StringField("memory_id", *entry.MemoryID))
			continue
		}
		if score < j.retain {
			continue
		}
		judgments = append(judgments, Judgment{
			MemoryID: *entry.MemoryID,
			Score:    score,
			Reason:   *entry.Reason,
		})
	}

	sort.SliceStable(judgments, func(a, b int) bool {
		return judgments[a].Score > judgments[b].Score
	})
	return judgments
}

// coerceScore accepts a JSON number or a numeric string.
func coerceScore(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func truncatePayload(s string) string {
	const limit = 500
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
