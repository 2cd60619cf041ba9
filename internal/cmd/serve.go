package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/runger/prizm/internal/config"
	"github.com/runger/prizm/internal/daemon"
	"github.com/runger/prizm/internal/logging"
)

var (
	serveConfigPath string
	serveLogStderr  bool
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the recommendation daemon in the foreground",
	GroupID: groupSetup,
	Long: `Run the recommendation daemon in the foreground.

The daemon serves the HTTP API on daemon.http_addr and a gRPC health
service on daemon.grpc_addr. With events.enabled it also consumes
world-state events from NATS. SIGHUP, or saving the config file, reloads
the scoring, learning, lifecycle and explain sections.

Logs go to the daemon log file; use --log-stderr to also print them.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "config file (default: ~/.config/prizm/config.yaml)")
	serveCmd.Flags().BoolVar(&serveLogStderr, "log-stderr", false, "also write logs to stderr")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	paths := config.DefaultPaths()
	configPath := serveConfigPath
	if configPath == "" {
		configPath = paths.ConfigFile()
	}

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, closer, err := NewDaemonLogger(cfg, paths, serveLogStderr, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(logger)

	daemon.Version = Version
	return daemon.Run(cmd.Context(), &daemon.ServerConfig{
		Config:     cfg,
		ConfigPath: configPath,
		Paths:      paths,
		Logger:     logger,
	})
}

// NewDaemonLogger builds the daemon logger from the daemon config section.
func NewDaemonLogger(cfg *config.Config, paths *config.Paths, toStderr bool, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	file := cfg.Daemon.LogFile
	if file == "" {
		file = paths.LogFile()
	}
	lc := logging.Config{
		File:   file,
		Level:  cfg.Daemon.LogLevel,
		Format: cfg.Daemon.LogFormat,
	}
	if toStderr || cfg.Daemon.LogStderr {
		lc.Output = stderr
	}
	logger, closer, err := logging.New(lc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return logger, closer, nil
}
