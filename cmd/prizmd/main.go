// prizmd is the prizm recommendation daemon. It is equivalent to
// "prizm serve" and is meant for service managers and containers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/runger/prizm/internal/cmd"
	"github.com/runger/prizm/internal/config"
	"github.com/runger/prizm/internal/daemon"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "prizmd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "config file (default: ~/.config/prizm/config.yaml)")
	logStderr := flag.Bool("log-stderr", true, "also write logs to stderr")
	flag.Parse()

	paths := config.DefaultPaths()
	if *configPath == "" {
		*configPath = paths.ConfigFile()
	}

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, closer, err := cmd.NewDaemonLogger(cfg, paths, *logStderr, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	daemon.Version = cmd.Version
	return daemon.Run(context.Background(), &daemon.ServerConfig{
		Config:     cfg,
		ConfigPath: *configPath,
		Paths:      paths,
		Logger:     logger,
	})
}
