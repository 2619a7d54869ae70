// Package tasklog writes the per-task audit trail. The stored entry is the
// record of truth; every entry is mirrored to zap for operators.
package tasklog

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
	"github.com/JakeFAU/melody-hunter/internal/logging"
)

// Recorder creates task-scoped logs backed by a LogStore.
type Recorder struct {
	store  crawler.LogStore
	ids    crawler.IDGenerator
	clock  crawler.Clock
	logger *zap.Logger
}

// New constructs a Recorder.
func New(store crawler.LogStore, ids crawler.IDGenerator, clock crawler.Clock, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, ids: ids, clock: clock, logger: logger.Named("tasklog")}
}

// For returns the log of one task.
func (r *Recorder) For(taskID string) *Log {
	return &Log{recorder: r, taskID: taskID, logger: r.logger.With(zap.String("task_id", taskID))}
}

// Log appends entries for a single task.
type Log struct {
	recorder *Recorder
	taskID   string
	logger   *zap.Logger
}

var _ crawler.TaskLog = (*Log)(nil)

// Log appends an entry. A failed store write is reported through zap only.
func (l *Log) Log(ctx context.Context, level crawler.LogLevel, message string) {
	if ce := l.logger.Check(logging.Level(level), message); ce != nil {
		ce.Write(zap.String("level_name", string(level)))
	}
	id, err := l.recorder.ids.NewID()
	if err != nil {
		l.logger.Error("generate log id", zap.Error(err))
		return
	}
	entry := crawler.LogEntry{
		ID:        id,
		TaskID:    l.taskID,
		Level:     level,
		Message:   message,
		CreatedAt: l.recorder.clock.Now(),
	}
	if err := l.recorder.store.AppendLog(context.WithoutCancel(ctx), entry); err != nil {
		l.logger.Error("append task log", zap.Error(err))
	}
}
