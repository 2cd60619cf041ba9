package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJSON(t *testing.T, buf *bytes.Buffer, level string) *slog.Logger {
	t.Helper()
	logger, closer, err := New(Config{Output: buf, Level: level, Format: "json"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = closer.Close() })
	return logger
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	_, _, err := New(Config{Level: "chatty"})
	assert.Error(t, err)
}

func TestNew_JSONOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newJSON(t, &buf, "info")

	logger.Info("test message", "key", "value")

	entry := decode(t, &buf)
	assert.Contains(t, entry, "ts")
	assert.NotContains(t, entry, "time")
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "value", entry["key"])
}

func TestNew_TextOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, _, err := New(Config{Output: &buf})
	require.NoError(t, err)

	logger.Info("hello", "resource", "alice")

	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "resource=alice")
}

func TestNew_InfoLevelHidesDebug(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newJSON(t, &buf, "info")

	logger.Debug("debug message")

	assert.Empty(t, buf.String())
}

func TestNew_WritesRotatingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "prizmd.log")
	var buf bytes.Buffer
	logger, closer, err := New(Config{File: path, Output: &buf, Level: "debug"})
	require.NoError(t, err)

	logger.Debug("to both")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}

func TestLogStartup(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newJSON(t, &buf, "info")

	LogStartup(logger, StartupInfo{
		Version:       "1.2.0",
		ConfigPath:    "/etc/prizm/config.yaml",
		DatabasePath:  "/var/lib/prizm/prizm.db",
		SchemaVersion: 1,
		HTTPAddr:      "127.0.0.1:7733",
		PID:           12345,
	})

	entry := decode(t, &buf)
	assert.Equal(t, "daemon started", entry["msg"])
	assert.Equal(t, "1.2.0", entry["version"])
	assert.Equal(t, "/var/lib/prizm/prizm.db", entry["database_path"])
	assert.Equal(t, float64(1), entry["schema_version"])
	assert.Equal(t, "127.0.0.1:7733", entry["http_addr"])
	assert.Equal(t, float64(12345), entry["pid"])
}

func TestLogShutdownAndReload(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newJSON(t, &buf, "info")

	LogShutdown(logger, "signal")
	LogConfigReload(logger, "/etc/prizm/config.yaml", "sighup")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"reason":"signal"`)
	assert.Contains(t, lines[1], `"trigger":"sighup"`)
}

func TestLogEventDropped(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newJSON(t, &buf, "warn")

	LogEventDropped(logger, "nats", "invalid json")

	entry := decode(t, &buf)
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "nats", entry["source"])
	assert.Equal(t, "invalid json", entry["reason"])
}
