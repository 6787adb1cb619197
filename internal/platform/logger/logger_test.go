package logger_test

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/phrazzld/scry-feedback-api/internal/config"
	"github.com/phrazzld/scry-feedback-api/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLevels(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	tests := []struct {
		level     string
		debugSeen bool
		infoSeen  bool
	}{
		{"debug", true, true},
		{"INFO", false, true},
		{"warn", false, false},
		{"bogus", false, true},
	}

	for _, tc := range tests {
		t.Run(tc.level, func(t *testing.T) {
			buf := &logger.TestLogBuffer{}
			l, err := logger.SetupWithWriter(config.ServerConfig{LogLevel: tc.level}, buf)
			require.NoError(t, err)
			require.NotNil(t, l)

			l.Debug("debug message")
			l.Info("info message")

			assert.Equal(t, tc.debugSeen, strings.Contains(buf.String(), "debug message"))
			assert.Equal(t, tc.infoSeen, strings.Contains(buf.String(), "info message"))
			assert.Same(t, l, slog.Default())
		})
	}
}

func TestSetupWritesJSON(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	buf := &logger.TestLogBuffer{}
	l, err := logger.SetupWithWriter(config.ServerConfig{LogLevel: "info"}, buf)
	require.NoError(t, err)

	l.Info("task completed", "task_id", "t-1", "status", "succeeded")

	entries, err := buf.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "task completed", entries[0]["msg"])
	assert.Equal(t, "t-1", entries[0]["task_id"])
	assert.Equal(t, "INFO", entries[0]["level"])
}

func TestFromContext(t *testing.T) {
	assert.Same(t, slog.Default(), logger.FromContext(context.Background()))

	l, buf := logger.NewTestLogger(t)
	ctx := logger.WithLogger(context.Background(), l.With("trace_id", "abc"))

	logger.FromContext(ctx).Info("scoped")

	logger.AssertLogContains(t, buf, `"trace_id":"abc"`)
}

func TestFromContextOrDefault(t *testing.T) {
	fallback, fallbackBuf := logger.NewTestLogger(t)
	logger.FromContextOrDefault(context.Background(), fallback).Info("from fallback")
	logger.AssertLogContains(t, fallbackBuf, "from fallback")

	scoped, scopedBuf := logger.NewTestLogger(t)
	ctx := logger.WithLogger(context.Background(), scoped)
	logger.FromContextOrDefault(ctx, fallback).Info("from context")
	logger.AssertLogContains(t, scopedBuf, "from context")
	assert.NotContains(t, fallbackBuf.String(), "from context")

	assert.Same(t, slog.Default(), logger.FromContextOrDefault(context.Background(), nil))
}
