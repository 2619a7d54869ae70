// Package dispatcher fans queued tasks out to a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
	"github.com/JakeFAU/melody-hunter/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
	clock   crawler.Clock
}

// New creates a Dispatcher over existing workers.
func New(queue crawler.Queue, workers []*worker.Worker, clock crawler.Clock) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		clock:   clock,
	}
}

// NewPool builds concurrency workers that share one executor.
func NewPool(
	queue crawler.Queue,
	executor worker.Executor,
	clock crawler.Clock,
	concurrency int,
	logger *zap.Logger,
) *Dispatcher {
	concurrency = max(concurrency, 1)
	workers := make([]*worker.Worker, 0, concurrency)
	for i := range concurrency {
		workers = append(workers, worker.New(i+1, queue, executor, clock, logger))
	}
	return New(queue, workers, clock)
}

// Run starts all workers and blocks until the context finishes and every
// in-flight task has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Size reports the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Submit enqueues a task for execution.
func (d *Dispatcher) Submit(ctx context.Context, taskID string) error {
	item := crawler.QueueItem{TaskID: taskID, Attempt: 1}
	if d.clock != nil {
		item.Submitted = d.clock.Now().UnixNano()
	}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
