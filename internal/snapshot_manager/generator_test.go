package snapshot_manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/memory_chatbot/internal/memory_store"
	"github.com/lewisedginton/memory_chatbot/internal/oracle"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
	"github.com/lewisedginton/memory_chatbot/pkg/metrics"
)

// fakeOracle returns queued responses in order, then repeats the last one.
type fakeOracle struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (f *fakeOracle) Name() string { return "fake" }

func (f *fakeOracle) Generate(ctx context.Context, req oracle.Request) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, req.Prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", oracle.ErrEmptyResponse
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func testLog(t *testing.T) logger.Logger {
	t.Helper()
	return logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Format: "json", Service: "test"})
}

func testMemories(contents ...string) []memory_store.MemoryEntry {
	entries := make([]memory_store.MemoryEntry, len(contents))
	for i, content := range contents {
		entries[i] = memory_store.MemoryEntry{
			ID:        "mem_" + string(rune('a'+i)),
			Content:   content,
			CreatedAt: time.Now().UTC(),
		}
	}
	return entries
}

const validDetailJSON = `{"summary":"user discussed beverages","key_elements":["coffee","tea"],"emotion_tags":["neutral"],"category":"preferences","importance":0.6}`

func TestGenerator_GenerateDetailSnapshot(t *testing.T) {
	o := &fakeOracle{responses: []string{validDetailJSON}}
	g := NewGenerator(o, testLog(t), metrics.NewMetrics())

	memories := testMemories("likes coffee", "switched to tea")
	d, err := g.GenerateDetailSnapshot(context.Background(), memories, allResolve)
	require.NoError(t, err)

	assert.Equal(t, "user discussed beverages", d.Summary)
	assert.Equal(t, []string{"coffee", "tea"}, d.KeyElements)
	assert.Equal(t, []string{"mem_a", "mem_b"}, d.MemoryRefs)
	assert.Equal(t, 0.6, d.Importance)
	assert.Contains(t, o.prompts[0], "likes coffee")
}

func TestGenerator_DetailSnapshotStripsCodeFence(t *testing.T) {
	o := &fakeOracle{responses: []string{"```json\n" + validDetailJSON + "\n```"}}
	g := NewGenerator(o, testLog(t), metrics.NewMetrics())

	d, err := g.GenerateDetailSnapshot(context.Background(), testMemories("a"), allResolve)
	require.NoError(t, err)
	assert.Equal(t, "preferences", d.Category)
}

func TestGenerator_DetailSnapshotMalformedJSON(t *testing.T) {
	o := &fakeOracle{responses: []string{"I cannot produce JSON today."}}
	g := NewGenerator(o, testLog(t), metrics.NewMetrics())

	_, err := g.GenerateDetailSnapshot(context.Background(), testMemories("a"), allResolve)
	require.Error(t, err)
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "detail", genErr.Stage)
}

func TestGenerator_DetailSnapshotOracleFailure(t *testing.T) {
	o := &fakeOracle{err: oracle.ErrUnavailable}
	g := NewGenerator(o, testLog(t), metrics.NewMetrics())

	_, err := g.GenerateDetailSnapshot(context.Background(), testMemories("a"), allResolve)
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.True(t, errors.Is(err, oracle.ErrUnavailable))
}

func TestGenerator_DetailSnapshotInvalidSchema(t *testing.T) {
	// Importance out of range fails validation, not silently clamped.
	o := &fakeOracle{responses: []string{`{"summary":"s","key_elements":[],"category":"c","importance":3.0}`}}
	g := NewGenerator(o, testLog(t), metrics.NewMetrics())

	_, err := g.GenerateDetailSnapshot(context.Background(), testMemories("a"), allResolve)
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
}

func TestGenerator_DetailSnapshotEmptyBatch(t *testing.T) {
	g := NewGenerator(&fakeOracle{}, testLog(t), metrics.NewMetrics())

	_, err := g.GenerateDetailSnapshot(context.Background(), nil, allResolve)
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
}

func TestGenerator_GenerateBaseSnapshot(t *testing.T) {
	o := &fakeOracle{responses: []string{`{"category":"lifestyle","keywords":["coffee","hiking"],"description":"daily habits"}`}}
	g := NewGenerator(o, testLog(t), metrics.NewMetrics())

	details := []DetailSnapshot{
		{ID: "snap_1", Summary: "coffee habits", Category: "preferences"},
		{ID: "snap_2", Summary: "weekend hikes", Category: "hobbies"},
	}
	b, err := g.GenerateBaseSnapshot(context.Background(), details, allResolve)
	require.NoError(t, err)

	assert.Equal(t, "lifestyle", b.Category)
	assert.Equal(t, []string{"snap_1", "snap_2"}, b.DetailSnapshotIDs)
	assert.Equal(t, "daily habits", b.Description)
}

func TestGenerator_BaseSnapshotMalformed(t *testing.T) {
	o := &fakeOracle{responses: []string{`["not","an","object"]`}}
	g := NewGenerator(o, testLog(t), metrics.NewMetrics())

	_, err := g.GenerateBaseSnapshot(context.Background(), []DetailSnapshot{{ID: "snap_1", Summary: "s"}}, allResolve)
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "base", genErr.Stage)
}
