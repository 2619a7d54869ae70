package tasklog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
	"github.com/JakeFAU/melody-hunter/internal/storage/memory"
)

func TestLogAppendsAndMirrors(t *testing.T) {
	t.Parallel()

	core, observed := observer.New(zapcore.DebugLevel)
	store := memory.NewStore()
	rec := New(store, &seqIDs{}, fixedClock{}, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	log := rec.For("task-1")
	log.Log(ctx, crawler.LogLevelInfo, "task started: demo")
	log.Log(ctx, crawler.LogLevelWarning, "slow page")

	entries, err := store.ListLogs(context.Background(), "task-1", crawler.LogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "slow page", entries[0].Message)
	require.Equal(t, crawler.LogLevelWarning, entries[0].Level)
	require.Equal(t, "id-1", entries[1].ID)

	mirrored := observed.FilterField(zap.String("task_id", "task-1")).All()
	require.Len(t, mirrored, 2)
	require.Equal(t, zapcore.WarnLevel, mirrored[1].Level)
}

func TestLogSurvivesStoreFailure(t *testing.T) {
	t.Parallel()

	core, observed := observer.New(zapcore.InfoLevel)
	rec := New(failingLogStore{}, &seqIDs{}, fixedClock{}, zap.New(core))
	rec.For("task-1").Log(context.Background(), crawler.LogLevelInfo, "hello")

	require.Equal(t, 1, observed.FilterMessage("append task log").Len())
}

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }

type failingLogStore struct{}

func (failingLogStore) AppendLog(context.Context, crawler.LogEntry) error {
	return errors.New("disk full")
}

func (failingLogStore) ListLogs(context.Context, string, crawler.LogFilter) ([]crawler.LogEntry, error) {
	return nil, nil
}
