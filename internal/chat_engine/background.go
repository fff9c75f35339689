package chat_engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/lewisedginton/memory_chatbot/pkg/logger"
)

// task is a unit of background work. It is retried on failure up to the
// queue's retry budget.
type task struct {
	name string
	run  func(ctx context.Context) error
}

// taskQueue runs tasks on a single worker goroutine. The queue is bounded;
// enqueueing into a full queue is rejected rather than blocking the chat
// path.
type taskQueue struct {
	name    string
	tasks   chan task
	errs    chan error
	retries int
	log     logger.Logger

	mu      sync.Mutex // serializes enqueue against stop's channel close
	stopped bool
}

func newTaskQueue(name string, size, retries int, log logger.Logger) *taskQueue {
	if size < 1 {
		size = 1
	}
	if retries < 0 {
		retries = 0
	}
	return &taskQueue{
		name:    name,
		tasks:   make(chan task, size),
		errs:    make(chan error, size),
		retries: retries,
		log:     log.WithFields(logger.StringField("queue", name)),
	}
}

// start launches the worker. The worker drains remaining tasks after stop
// is called, then closes the error channel.
func (q *taskQueue) start(ctx context.Context) {
	go func() {
		defer close(q.errs)
		for t := range q.tasks {
			if ctx.Err() != nil {
				return
			}
			q.execute(ctx, t)
		}
	}()
}

// enqueue submits a task. It returns false when the queue is full or
// already stopped. The mutex keeps the send ordered before stop's close
// of the task channel.
func (q *taskQueue) enqueue(t task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}

	select {
	case q.tasks <- t:
		return true
	default:
		q.log.Warn("Background queue full, dropping task",
			logger.StringField("task", t.name))
		return false
	}
}

// errors exposes the worker's failure channel for merging.
func (q *taskQueue) errors() chan error {
	return q.errs
}

// stop rejects further tasks and lets the worker finish what is queued.
// Safe to call more than once.
func (q *taskQueue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	close(q.tasks)
}

func (q *taskQueue) execute(ctx context.Context, t task) {
	var err error
	for attempt := 0; attempt <= q.retries; attempt++ {
		if err = t.run(ctx); err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		q.log.Warn("Background task failed",
			logger.StringField("task", t.name),
			logger.IntField("attempt", attempt+1),
			logger.ErrorField(err))
	}

	select {
	case q.errs <- fmt.Errorf("%s: %w", t.name, err):
	default:
	}
}
