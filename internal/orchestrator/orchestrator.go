// Package orchestrator executes crawl tasks. It owns every status, progress
// and counter write on a task for the length of one execution.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
	"github.com/JakeFAU/melody-hunter/internal/metrics"
	"github.com/JakeFAU/melody-hunter/internal/reconcile"
	"github.com/JakeFAU/melody-hunter/internal/strategy"
	"github.com/JakeFAU/melody-hunter/internal/tasklog"
)

// completeProgress is written only by the completion transition.
const completeProgress = 100

// Resolver maps a platform name to its catalog row and strategy factory.
type Resolver interface {
	Resolve(ctx context.Context, name string) (crawler.Platform, strategy.Factory, error)
}

// Config tunes the orchestrator.
type Config struct {
	BatchSize int
	// Topic receives a TaskEvent after every terminal transition. Empty disables publishing.
	Topic string
}

// Orchestrator runs tasks through the claim, execute and finalize steps.
type Orchestrator struct {
	store     crawler.Store
	registry  Resolver
	fetchers  crawler.FetcherFactory
	publisher crawler.Publisher
	ids       crawler.IDGenerator
	clock     crawler.Clock
	logs      *tasklog.Recorder
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Orchestrator. publisher may be nil.
func New(
	store crawler.Store,
	registry Resolver,
	fetchers crawler.FetcherFactory,
	publisher crawler.Publisher,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = strategy.DefaultBatchSize
	}
	return &Orchestrator{
		store:     store,
		registry:  registry,
		fetchers:  fetchers,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		logs:      tasklog.New(store, ids, clock, logger),
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
	}
}

// Execute claims a pending task, runs its strategy and records the outcome.
// It returns ErrTaskNotPending without side effects when the task cannot be
// claimed. A cancelled run is not an error.
func (o *Orchestrator) Execute(ctx context.Context, taskID string) error {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task.Status != crawler.TaskStatusPending {
		return fmt.Errorf("%w: task %s is %s", crawler.ErrTaskNotPending, taskID, task.Status)
	}

	started := o.clock.Now()
	err = o.store.Transition(ctx, taskID, crawler.TaskStatusPending, crawler.TaskStatusRunning, crawler.TaskUpdate{
		StartedAt: &started,
	})
	if errors.Is(err, crawler.ErrConflict) {
		return fmt.Errorf("%w: task %s was claimed elsewhere", crawler.ErrTaskNotPending, taskID)
	}
	if err != nil {
		return fmt.Errorf("claim task %s: %w", taskID, err)
	}
	task.Status = crawler.TaskStatusRunning
	task.StartedAt = &started

	metrics.IncActiveTasks()
	defer metrics.DecActiveTasks()

	log := o.logs.For(taskID)
	log.Log(ctx, crawler.LogLevelInfo, "task started: "+task.Name)
	o.logger.Info("task started",
		zap.String("task_id", taskID),
		zap.String("platform", task.Platform),
		zap.String("kind", string(task.Kind)),
	)

	tally, runErr := o.run(ctx, task, log)
	return o.finish(context.WithoutCancel(ctx), task, log, tally, runErr)
}

func (o *Orchestrator) run(ctx context.Context, task crawler.Task, log crawler.TaskLog) (crawler.Tally, error) {
	platform, factory, err := o.registry.Resolve(ctx, task.Platform)
	if err != nil {
		return crawler.Tally{}, fmt.Errorf("resolve platform: %w", err)
	}
	s := factory(strategy.Deps{
		Platform:   platform,
		Fetcher:    o.fetchers.NewSession(task.ID, task.DelaySeconds, log),
		Reconciler: reconcile.New(o.store, o.ids, o.clock, platform.Name, log),
		Log:        log,
		Progress:   o.progressFunc(task.ID),
		BatchSize:  o.cfg.BatchSize,
	})
	return runStrategy(ctx, s, task)
}

func runStrategy(ctx context.Context, s crawler.Strategy, task crawler.Task) (tally crawler.Tally, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panic: %v", r)
		}
	}()
	return s.Run(ctx, task)
}

// progressFunc persists strategy progress. The guarded write fails once the
// task leaves running; a cancelled task surfaces as ErrTaskCancelled.
func (o *Orchestrator) progressFunc(taskID string) crawler.ProgressFunc {
	return func(ctx context.Context, percent int) error {
		percent = max(0, min(percent, completeProgress-1))
		err := o.store.UpdateProgress(ctx, taskID, percent)
		if err == nil || !errors.Is(err, crawler.ErrConflict) {
			return err
		}
		if o.cancelled(ctx, taskID) {
			return fmt.Errorf("record progress: %w", crawler.ErrTaskCancelled)
		}
		return err
	}
}

func (o *Orchestrator) finish(
	ctx context.Context,
	task crawler.Task,
	log crawler.TaskLog,
	tally crawler.Tally,
	runErr error,
) error {
	if errors.Is(runErr, crawler.ErrTaskCancelled) {
		o.recordCancelled(ctx, task, log, tally)
		return nil
	}
	if runErr != nil {
		return o.recordFailed(ctx, task, log, tally, runErr)
	}

	now := o.clock.Now()
	err := o.store.Transition(ctx, task.ID, crawler.TaskStatusRunning, crawler.TaskStatusCompleted, crawler.TaskUpdate{
		CompletedAt: &now,
		Progress:    crawler.IntPtr(completeProgress),
		Counters:    &tally,
	})
	if err != nil {
		if errors.Is(err, crawler.ErrConflict) && o.cancelled(ctx, task.ID) {
			o.recordCancelled(ctx, task, log, tally)
			return nil
		}
		return o.recordFailed(ctx, task, log, tally, fmt.Errorf("record completion: %w", err))
	}
	log.Log(ctx, crawler.LogLevelInfo, fmt.Sprintf(
		"task completed: found %d, saved %d, failed %d", tally.Found, tally.Saved, tally.Failed))
	o.emit(ctx, task, crawler.TaskStatusCompleted, tally, "", now)
	return nil
}

// recordFailed stores the partial tally and leaves progress where the
// strategy last reported it.
func (o *Orchestrator) recordFailed(
	ctx context.Context,
	task crawler.Task,
	log crawler.TaskLog,
	tally crawler.Tally,
	cause error,
) error {
	now := o.clock.Now()
	err := o.store.Transition(ctx, task.ID, crawler.TaskStatusRunning, crawler.TaskStatusFailed, crawler.TaskUpdate{
		CompletedAt: &now,
		Counters:    &tally,
	})
	if errors.Is(err, crawler.ErrConflict) && o.cancelled(ctx, task.ID) {
		o.recordCancelled(ctx, task, log, tally)
		return nil
	}
	if err != nil {
		o.logger.Error("record task failure", zap.String("task_id", task.ID), zap.Error(err))
	}
	log.Log(ctx, crawler.LogLevelError, fmt.Sprintf("task failed: %v", cause))
	o.emit(ctx, task, crawler.TaskStatusFailed, tally, cause.Error(), now)
	return fmt.Errorf("execute task %s: %w", task.ID, cause)
}

// recordCancelled keeps the cancelled status and stores the partial tally.
func (o *Orchestrator) recordCancelled(ctx context.Context, task crawler.Task, log crawler.TaskLog, tally crawler.Tally) {
	err := o.store.Transition(ctx, task.ID, crawler.TaskStatusCancelled, crawler.TaskStatusCancelled, crawler.TaskUpdate{
		Counters: &tally,
	})
	if err != nil {
		o.logger.Error("record cancelled tally", zap.String("task_id", task.ID), zap.Error(err))
	}
	log.Log(ctx, crawler.LogLevelInfo, fmt.Sprintf(
		"task cancelled: found %d, saved %d, failed %d", tally.Found, tally.Saved, tally.Failed))
	o.emit(ctx, task, crawler.TaskStatusCancelled, tally, "", o.clock.Now())
}

func (o *Orchestrator) cancelled(ctx context.Context, taskID string) bool {
	current, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		o.logger.Warn("reload task", zap.String("task_id", taskID), zap.Error(err))
		return false
	}
	return current.Status == crawler.TaskStatusCancelled
}

func (o *Orchestrator) emit(
	ctx context.Context,
	task crawler.Task,
	status crawler.TaskStatus,
	tally crawler.Tally,
	errText string,
	at time.Time,
) {
	metrics.ObserveTask(task.Platform, string(status))
	o.logger.Info("task finished",
		zap.String("task_id", task.ID),
		zap.String("status", string(status)),
		zap.Int("found", tally.Found),
		zap.Int("saved", tally.Saved),
		zap.Int("failed", tally.Failed),
	)
	if o.publisher == nil || o.cfg.Topic == "" {
		return
	}
	event := crawler.TaskEvent{
		TaskID:      task.ID,
		Platform:    task.Platform,
		Kind:        task.Kind,
		Status:      status,
		Counters:    tally,
		Error:       errText,
		CompletedAt: at,
	}
	if _, err := o.publisher.Publish(ctx, o.cfg.Topic, event); err != nil {
		o.logger.Error("publish task event", zap.String("task_id", task.ID), zap.Error(err))
	}
}
