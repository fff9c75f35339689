package chat_engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/memory_chatbot/pkg/logger"
)

func queueLog(t *testing.T) logger.Logger {
	t.Helper()
	return logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Format: "json", Service: "test"})
}

func TestTaskQueueRunsTask(t *testing.T) {
	q := newTaskQueue("test", 4, 0, queueLog(t))
	q.start(context.Background())

	done := make(chan struct{})
	ok := q.enqueue(task{name: "noop", run: func(context.Context) error {
		close(done)
		return nil
	}})
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task never ran")
	}

	q.stop()
	for range q.errors() {
		t.Fatal("unexpected error from successful task")
	}
}

func TestTaskQueueRetriesThenSurfacesError(t *testing.T) {
	q := newTaskQueue("test", 4, 2, queueLog(t))
	q.start(context.Background())

	var attempts atomic.Int32
	boom := errors.New("boom")
	q.enqueue(task{name: "failing", run: func(context.Context) error {
		attempts.Add(1)
		return boom
	}})
	q.stop()

	var drained []error
	for err := range q.errors() {
		drained = append(drained, err)
	}
	require.Len(t, drained, 1)
	assert.True(t, errors.Is(drained[0], boom))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestTaskQueueRetrySucceedsEventually(t *testing.T) {
	q := newTaskQueue("test", 4, 2, queueLog(t))
	q.start(context.Background())

	var attempts atomic.Int32
	q.enqueue(task{name: "flaky", run: func(context.Context) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}})
	q.stop()

	for range q.errors() {
		t.Fatal("task eventually succeeded, no error expected")
	}
	assert.Equal(t, int32(3), attempts.Load())
}

func TestTaskQueueFullDropsTask(t *testing.T) {
	q := newTaskQueue("test", 1, 0, queueLog(t))

	// Worker not started, so the buffer fills immediately.
	assert.True(t, q.enqueue(task{name: "first", run: func(context.Context) error { return nil }}))
	assert.False(t, q.enqueue(task{name: "second", run: func(context.Context) error { return nil }}))

	q.start(context.Background())
	q.stop()
	for range q.errors() {
	}
}

func TestTaskQueueRejectsAfterStop(t *testing.T) {
	q := newTaskQueue("test", 4, 0, queueLog(t))
	q.start(context.Background())
	q.stop()

	assert.False(t, q.enqueue(task{name: "late", run: func(context.Context) error { return nil }}))
}

func TestConversationHistoryEviction(t *testing.T) {
	h := NewConversationHistory(2)

	h.Append(RoleUser, "one")
	h.Append(RoleAssistant, "two")
	h.Append(RoleUser, "three")
	h.Append(RoleAssistant, "four")
	h.Append(RoleUser, "five")

	messages := h.Messages()
	require.Len(t, messages, 4)
	assert.Equal(t, "two", messages[0].Content)
	assert.Equal(t, "five", messages[3].Content)

	h.Clear()
	assert.Zero(t, h.Len())
}

func TestTaskQueueConcurrentEnqueueAndStop(t *testing.T) {
	q := newTaskQueue("race", 4, 0, queueLog(t))
	q.start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				q.enqueue(task{name: "noop", run: func(context.Context) error { return nil }})
			}
		}()
	}

	// Stopping mid-stream must reject late enqueues, never panic on a
	// closed channel.
	q.stop()
	wg.Wait()

	for range q.errors() {
	}
	assert.False(t, q.enqueue(task{name: "late", run: func(context.Context) error { return nil }}))
}
