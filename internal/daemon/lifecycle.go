package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/runger/prizm/internal/config"
	"github.com/runger/prizm/internal/logging"
	"github.com/runger/prizm/internal/suggestions/db"
)

// Run starts the daemon and blocks until shutdown.
// It handles signals for lifecycle management:
//   - SIGTERM/SIGINT: graceful shutdown (drain queued events, close DB, remove lock file)
//   - SIGHUP: reload configuration from disk
func Run(ctx context.Context, cfg *ServerConfig) error {
	if cfg == nil || cfg.Config == nil {
		return fmt.Errorf("config is required")
	}
	paths := cfg.Paths
	if paths == nil {
		paths = config.DefaultPaths()
	}

	if err := EnsurePrivateDir(paths.RuntimeDir); err != nil {
		return fmt.Errorf("prepare runtime directory: %w", err)
	}
	if err := EnsurePrivateDir(paths.DataDir); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}

	lockFile := NewLockFile(LockPath(cfg.Config, paths))
	if err := lockFile.Acquire(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lockFile.Release()

	server, err := NewServer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signal.Ignore(syscall.SIGPIPE)

	sigChan := make(chan os.Signal, 4)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	go func() {
		for {
			select {
			case sig := <-sigChan:
				switch sig {
				case syscall.SIGTERM, syscall.SIGINT:
					logging.LogShutdown(server.logger, sig.String())
					cancel()
					return

				case syscall.SIGHUP:
					if err := server.Reload(ctx, "sighup"); err != nil {
						server.logger.Error("failed to reload configuration", "error", err)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	schema, _ := db.CurrentVersion(ctx, server.sqlDB)
	logging.LogStartup(server.logger, logging.StartupInfo{
		Version:       Version,
		ConfigPath:    cfg.ConfigPath,
		DatabasePath:  databasePath(cfg.Config, paths),
		SchemaVersion: schema,
		HTTPAddr:      cfg.Config.Daemon.HTTPAddr,
		GRPCAddr:      cfg.Config.Daemon.GRPCAddr,
		NATSURL:       natsURL(cfg.Config),
		PID:           os.Getpid(),
	})

	return server.Run(ctx)
}

// LockPath returns the configured lock file, or the default one.
func LockPath(cfg *config.Config, paths *config.Paths) string {
	if cfg != nil && cfg.Daemon.LockFile != "" {
		return cfg.Daemon.LockFile
	}
	return paths.LockFile()
}

func databasePath(cfg *config.Config, paths *config.Paths) string {
	if cfg.Storage.DBPath != "" {
		return cfg.Storage.DBPath
	}
	return paths.DatabaseFile()
}

func natsURL(cfg *config.Config) string {
	if !cfg.Events.Enabled {
		return ""
	}
	return cfg.Events.NATSURL
}

// RunningPID returns the PID of the daemon holding the lock file, or 0 if
// none is running.
func RunningPID(lockPath string) int {
	pid, held, err := ReadHeldPID(lockPath)
	if err != nil || !held || !isProcessAlive(pid) {
		return 0
	}
	return pid
}

// Stop asks the daemon holding lockPath to shut down and waits up to
// timeout for it to exit.
func Stop(lockPath string, timeout time.Duration) error {
	pid := RunningPID(lockPath)
	if pid == 0 {
		return fmt.Errorf("daemon not running")
	}
	if err := signalTerminate(pid); err != nil {
		return fmt.Errorf("failed to signal daemon (PID %d): %w", pid, err)
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return fmt.Errorf("daemon (PID %d) did not exit within %v", pid, timeout)
		case <-ticker.C:
			if !isProcessAlive(pid) {
				return nil
			}
		}
	}
}
