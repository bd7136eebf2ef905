package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, level zapcore.Level, cats map[string]bool) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(level)
	SetLogger(zap.New(core), cats)
	t.Cleanup(func() { SetLogger(nil, nil) })
	return logs
}

func TestCategoryLoggersAreNamed(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel, nil)

	Batch("batch %s started", "b1")
	ExecutorDebug("unit %d done", 3)
	RetrievalWarn("fallback for %q", "query")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "batch", entries[0].LoggerName)
	assert.Equal(t, "batch b1 started", entries[0].Message)
	assert.Equal(t, "executor", entries[1].LoggerName)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, "retrieval", entries[2].LoggerName)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
}

func TestDisabledCategoryIsSilent(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel, map[string]bool{"knowledge": false, "batch": true})

	Knowledge("should not appear")
	Batch("should appear")
	Simulator("unlisted categories default to enabled")

	assert.Equal(t, 0, logs.FilterLoggerName("knowledge").Len())
	assert.Equal(t, 1, logs.FilterLoggerName("batch").Len())
	assert.Equal(t, 1, logs.FilterLoggerName("simulator").Len())
	assert.False(t, IsCategoryEnabled(CategoryKnowledge))
	assert.True(t, IsCategoryEnabled(CategoryStore))
}

func TestLevelFiltering(t *testing.T) {
	logs := observe(t, zapcore.InfoLevel, nil)

	BackendDebug("hidden")
	Backend("visible")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "visible", logs.All()[0].Message)
}

func TestWithAddsFields(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel, nil)

	Get(CategoryBatch).With("batch_id", "b-42").Info("progress %.2f", 0.5)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "b-42", entries[0].ContextMap()["batch_id"])
}

func TestStopWithThresholdWarnsOnSlowOps(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel, nil)

	timer := StartTimer(CategoryExecutor, "judge")
	time.Sleep(2 * time.Millisecond)
	timer.StopWithThreshold(time.Nanosecond)

	assert.Equal(t, 1, logs.FilterLoggerName("performance").Len())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
		err  bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"WARNING", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestInitializeWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "labval.log")
	require.NoError(t, Initialize(Config{Level: "debug", Format: "json", File: path}))
	t.Cleanup(func() { SetLogger(nil, nil) })

	Batch("hello from %s", "test")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "hello from test"))
	assert.True(t, strings.Contains(string(data), `"logger":"batch"`))
}
