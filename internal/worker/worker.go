// Package worker implements the task execution loop fed by the queue.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
)

// Executor runs one task to a terminal state.
type Executor interface {
	Execute(ctx context.Context, taskID string) error
}

// Worker consumes queue items and executes them one at a time.
type Worker struct {
	id       int
	queue    crawler.Queue
	executor Executor
	clock    crawler.Clock
	logger   *zap.Logger
}

// New constructs a Worker.
func New(id int, queue crawler.Queue, executor Executor, clock crawler.Clock, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:       id,
		queue:    queue,
		executor: executor,
		clock:    clock,
		logger:   logger.Named("worker").With(zap.Int("worker_id", id)),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, crawler.ErrQueueClosed) {
				w.logger.Info("queue closed, worker exiting")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task", zap.String("task_id", item.TaskID), zap.Int("attempt", item.Attempt))
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item crawler.QueueItem) {
	if w.executor == nil {
		w.logger.Error("no executor configured", zap.String("task_id", item.TaskID))
		return
	}
	fields := []zap.Field{zap.String("task_id", item.TaskID)}
	if item.Submitted > 0 && w.clock != nil {
		wait := w.clock.Now().Sub(time.Unix(0, item.Submitted))
		fields = append(fields, zap.Duration("queued_for", wait))
	}

	err := w.executor.Execute(ctx, item.TaskID)
	switch {
	case err == nil:
		w.logger.Info("task executed", fields...)
	case errors.Is(err, crawler.ErrTaskNotPending):
		w.logger.Warn("skipping task that is not pending", append(fields, zap.Error(err))...)
	default:
		w.logger.Error("task execution failed", append(fields, zap.Error(err))...)
	}
}
