// Package logging builds the daemon's slog logger. Output goes to a rotating
// file and, optionally, stderr.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the log file.
const (
	MaxSizeMB  = 10
	MaxBackups = 3
	MaxAgeDays = 28
)

// Config configures the logger.
type Config struct {
	// File is the log file path. Empty disables file output.
	File string

	// Output is an additional writer, typically os.Stderr. When both File and
	// Output are empty, logs go to stderr.
	Output io.Writer

	// Level is one of debug, info, warn, error (default info).
	Level string

	// Format is text or json (default text).
	Format string
}

// ParseLevel converts a level name into a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New creates the logger described by cfg. The returned closer releases the
// log file and must be called on shutdown.
//
// JSON output uses "ts" for the timestamp key:
//
//	{"ts":"2026-01-15T10:30:00Z","level":"INFO","msg":"daemon started","pid":12345}
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var writers []io.Writer
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    MaxSizeMB,
			MaxBackups: MaxBackups,
			MaxAge:     MaxAgeDays,
			Compress:   true,
		}
		writers = append(writers, rotator)
		closer = rotator
	}
	if cfg.Output != nil {
		writers = append(writers, cfg.Output)
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	var out io.Writer = writers[0]
	if len(writers) > 1 {
		out = io.MultiWriter(writers...)
	}

	return slog.New(newHandler(out, level, cfg.Format)), closer, nil
}

func newHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				a.Key = "ts"
			}
			return a
		}
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// StartupInfo holds information to log at daemon startup.
type StartupInfo struct {
	Version       string
	ConfigPath    string
	DatabasePath  string
	SchemaVersion int
	HTTPAddr      string
	GRPCAddr      string
	NATSURL       string
	PID           int
}

// LogStartup logs daemon startup information.
func LogStartup(logger *slog.Logger, info StartupInfo) {
	logger.Info("daemon started",
		"version", info.Version,
		"config_path", info.ConfigPath,
		"database_path", info.DatabasePath,
		"schema_version", info.SchemaVersion,
		"http_addr", info.HTTPAddr,
		"grpc_addr", info.GRPCAddr,
		"nats_url", info.NATSURL,
		"pid", info.PID,
	)
}

// LogShutdown logs daemon shutdown.
func LogShutdown(logger *slog.Logger, reason string) {
	logger.Info("daemon shutting down", "reason", reason)
}

// LogConfigReload logs a configuration reload.
func LogConfigReload(logger *slog.Logger, configPath, trigger string) {
	logger.Info("configuration reloaded", "config_path", configPath, "trigger", trigger)
}

// LogEventDropped logs an inbound event that could not be applied.
func LogEventDropped(logger *slog.Logger, source, reason string) {
	logger.Warn("event dropped", "source", source, "reason", reason)
}
