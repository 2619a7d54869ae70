package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestLevelMapping(t *testing.T) {
	t.Parallel()

	cases := map[crawler.LogLevel]zapcore.Level{
		crawler.LogLevelDebug:    zapcore.DebugLevel,
		crawler.LogLevelInfo:     zapcore.InfoLevel,
		crawler.LogLevelWarning:  zapcore.WarnLevel,
		crawler.LogLevelError:    zapcore.ErrorLevel,
		crawler.LogLevelCritical: zapcore.ErrorLevel,
		"bogus":                  zapcore.InfoLevel,
	}
	for in, want := range cases {
		require.Equal(t, want, Level(in), "level %s", in)
	}
}
