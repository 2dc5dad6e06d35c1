package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmbish04/gh-stars-sink/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"ERROR", ErrorLevel},
		{"invalid", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestNewLoggerOutputs(t *testing.T) {
	for _, output := range []string{"stdout", "stderr"} {
		logger, err := NewLogger(config.LoggingConfig{Level: "info", Format: "text", Output: output})
		require.NoError(t, err)
		assert.NoError(t, logger.Close())
	}

	_, err := NewLogger(config.LoggingConfig{Level: "info", Output: "syslog"})
	require.Error(t, err)

	_, err = NewLogger(config.LoggingConfig{Level: "info", Output: "file"})
	require.Error(t, err)
}

func TestNewLoggerFileRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sync.log")

	logger, err := NewLogger(config.LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "file",
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 1,
	})
	require.NoError(t, err)

	logger.Info("written to file")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "warn", "text")

	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Errorf("e %d", 1)

	out := buf.String()
	assert.NotContains(t, out, "DEBUG")
	assert.NotContains(t, out, "INFO")
	assert.Contains(t, out, "WARN w")
	assert.Contains(t, out, "ERROR e 1")
	assert.True(t, logger.Enabled(ErrorLevel))
	assert.False(t, logger.Enabled(InfoLevel))
}

func TestLoggerFieldsAreIsolated(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriterLogger(&buf, "info", "text")

	child := base.WithField("repo_id", 42).WithFields(map[string]interface{}{"job": "abc"})
	child.Info("child")
	base.Info("base")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "{job=abc repo_id=42}")
	assert.NotContains(t, lines[1], "repo_id")
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "info", "json")

	logger.WithField("source", "readme").ErrorWithErr("embed failed", errors.New("timeout"))

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry.Level)
	assert.Equal(t, "embed failed", entry.Message)
	assert.Equal(t, "timeout", entry.Error)
	assert.Equal(t, "readme", entry.Fields["source"])
}

func TestLoggerWithErrorNil(t *testing.T) {
	logger := NewWriterLogger(&bytes.Buffer{}, "info", "text")
	assert.Same(t, logger, logger.WithError(nil))
}

func TestLoggerConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "info", "text")

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()
			logger.WithField("worker", n).Info("tick")
		}(i)
	}

	wg.Wait()

	assert.Len(t, strings.Split(strings.TrimSpace(buf.String()), "\n"), 20)
}

func TestGlobalLogger(t *testing.T) {
	previous := GetLogger()
	t.Cleanup(func() { SetLogger(previous) })

	var buf bytes.Buffer
	SetLogger(NewWriterLogger(&buf, "debug", "text"))

	Infof("synced %d", 3)
	WithField("k", "v").Warn("careful")

	out := buf.String()
	assert.Contains(t, out, "synced 3")
	assert.Contains(t, out, "k=v")
}

func TestLoggerMiddleware(t *testing.T) {
	previous := GetLogger()
	t.Cleanup(func() { SetLogger(previous) })

	var buf bytes.Buffer
	SetLogger(NewWriterLogger(&buf, "debug", "text"))

	require.NoError(t, LoggerMiddleware("ok-op", func() error { return nil }))

	failure := errors.New("boom")
	err := LoggerMiddleware("bad-op", func() error { return failure })
	assert.ErrorIs(t, err, failure)

	out := buf.String()
	assert.Contains(t, out, "operation completed")
	assert.Contains(t, out, "operation failed")
	assert.Contains(t, out, "error=boom")
}
