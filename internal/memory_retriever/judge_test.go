package memory_retriever

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/memory_chatbot/internal/oracle"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
)

type fixedOracle struct {
	response  string
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (f *fixedOracle) Generate(_ context.Context, req oracle.Request) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, req.Prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) > 0 {
		next := f.responses[0]
		f.responses = f.responses[1:]
		return next, nil
	}
	return f.response, nil
}

func (f *fixedOracle) Name() string { return "fixed" }

func judgeLog(t *testing.T) logger.Logger {
	t.Helper()
	return logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Format: "json", Service: "test"})
}

func judgeCandidates() []Candidate {
	now := time.Now()
	return []Candidate{
		{ID: "mem_a", Content: "user likes coffee", Timestamp: now.Add(-2 * time.Hour)},
		{ID: "mem_b", Content: "user owns a bicycle", Timestamp: now.Add(-time.Hour)},
		{ID: "mem_c", Content: "user works remotely", Timestamp: now},
	}
}

func TestJudgeEvaluateRetainsAndSorts(t *testing.T) {
	o := &fixedOracle{response: `{"relevant_memories":[
		{"memory_id":"mem_a","relevance_score":0.7,"reason":"mentions coffee"},
		{"memory_id":"mem_c","relevance_score":0.9,"reason":"mentions work"},
		{"memory_id":"mem_b","relevance_score":0.3,"reason":"unrelated"}
	]}`}
	judge := NewJudge(o, 0.5, judgeLog(t))

	judgments, err := judge.Evaluate(context.Background(), "what does the user drink at work?", judgeCandidates())
	require.NoError(t, err)
	require.Len(t, judgments, 2)

	assert.Equal(t, "mem_c", judgments[0].MemoryID)
	assert.Equal(t, 0.9, judgments[0].Score)
	assert.Equal(t, "mem_a", judgments[1].MemoryID)
	assert.Equal(t, "mentions coffee", judgments[1].Reason)
}

func TestJudgeEvaluateIncludesCandidatesInPrompt(t *testing.T) {
	o := &fixedOracle{response: `{"relevant_memories":[]}`}
	judge := NewJudge(o, 0.5, judgeLog(t))

	_, err := judge.Evaluate(context.Background(), "coffee", judgeCandidates())
	require.NoError(t, err)
	require.Len(t, o.prompts, 1)
	assert.Contains(t, o.prompts[0], "mem_a")
	assert.Contains(t, o.prompts[0], "user likes coffee")
	assert.Contains(t, o.prompts[0], "coffee")
}

func TestJudgeMissingArrayReturnsEmpty(t *testing.T) {
	o := &fixedOracle{response: `{"memories":[{"memory_id":"mem_a"}]}`}
	judge := NewJudge(o, 0.5, judgeLog(t))

	judgments, err := judge.Evaluate(context.Background(), "coffee", judgeCandidates())
	require.NoError(t, err)
	assert.Empty(t, judgments)
}

func TestJudgeMalformedJSONReturnsEmpty(t *testing.T) {
	o := &fixedOracle{response: `the most relevant memory is mem_a`}
	judge := NewJudge(o, 0.5, judgeLog(t))

	judgments, err := judge.Evaluate(context.Background(), "coffee", judgeCandidates())
	require.NoError(t, err)
	assert.Empty(t, judgments)
}

func TestJudgeOutOfRangeScoreDroppedNotClamped(t *testing.T) {
	o := &fixedOracle{response: `{"relevant_memories":[
		{"memory_id":"mem_a","relevance_score":1.7,"reason":"very relevant"},
		{"memory_id":"mem_b","relevance_score":0.8,"reason":"relevant"}
	]}`}
	judge := NewJudge(o, 0.5, judgeLog(t))

	judgments, err := judge.Evaluate(context.Background(), "coffee", judgeCandidates())
	require.NoError(t, err)
	require.Len(t, judgments, 1)
	assert.Equal(t, "mem_b", judgments[0].MemoryID)
}

func TestJudgeDropsInvalidElements(t *testing.T) {
	o := &fixedOracle{response: `{"relevant_memories":[
		{"memory_id":"mem_zz","relevance_score":0.9,"reason":"hallucinated"},
		{"relevance_score":0.9,"reason":"no id"},
		{"memory_id":"mem_b","reason":"no score"},
		{"memory_id":"mem_c","relevance_score":-0.4,"reason":"negative"},
		{"memory_id":"mem_a","relevance_score":0.8,"reason":"valid"}
	]}`}
	judge := NewJudge(o, 0.5, judgeLog(t))

	judgments, err := judge.Evaluate(context.Background(), "coffee", judgeCandidates())
	require.NoError(t, err)
	require.Len(t, judgments, 1)
	assert.Equal(t, "mem_a", judgments[0].MemoryID)
}

func TestJudgeAcceptsStringScores(t *testing.T) {
	o := &fixedOracle{response: `{"relevant_memories":[
		{"memory_id":"mem_a","relevance_score":"0.75","reason":"string score"}
	]}`}
	judge := NewJudge(o, 0.5, judgeLog(t))

	judgments, err := judge.Evaluate(context.Background(), "coffee", judgeCandidates())
	require.NoError(t, err)
	require.Len(t, judgments, 1)
	assert.Equal(t, 0.75, judgments[0].Score)
}

func TestJudgeBelowRetainThresholdDropped(t *testing.T) {
	o := &fixedOracle{response: `{"relevant_memories":[
		{"memory_id":"mem_a","relevance_score":0.49,"reason":"borderline"},
		{"memory_id":"mem_b","relevance_score":0.5,"reason":"at threshold"}
	]}`}
	judge := NewJudge(o, 0.5, judgeLog(t))

	judgments, err := judge.Evaluate(context.Background(), "coffee", judgeCandidates())
	require.NoError(t, err)
	require.Len(t, judgments, 1)
	assert.Equal(t, "mem_b", judgments[0].MemoryID)
}

func TestJudgeStripsCodeFences(t *testing.T) {
	o := &fixedOracle{response: "```json\n{\"relevant_memories\":[{\"memory_id\":\"mem_a\",\"relevance_score\":0.8,\"reason\":\"fenced\"}]}\n```"}
	judge := NewJudge(o, 0.5, judgeLog(t))

	judgments, err := judge.Evaluate(context.Background(), "coffee", judgeCandidates())
	require.NoError(t, err)
	require.Len(t, judgments, 1)
	assert.Equal(t, "mem_a", judgments[0].MemoryID)
}

func TestJudgeTransportErrorReturned(t *testing.T) {
	o := &fixedOracle{err: oracle.ErrUnavailable}
	judge := NewJudge(o, 0.5, judgeLog(t))

	judgments, err := judge.Evaluate(context.Background(), "coffee", judgeCandidates())
	require.Error(t, err)
	assert.True(t, errors.Is(err, oracle.ErrUnavailable))
	assert.Nil(t, judgments)
}

func TestJudgeNoCandidatesSkipsOracle(t *testing.T) {
	o := &fixedOracle{response: `{"relevant_memories":[]}`}
	judge := NewJudge(o, 0.5, judgeLog(t))

	judgments, err := judge.Evaluate(context.Background(), "coffee", nil)
	require.NoError(t, err)
	assert.Nil(t, judgments)
	assert.Zero(t, o.calls)
}
