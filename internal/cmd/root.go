package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/runger/prizm/internal/config"
	"github.com/runger/prizm/internal/daemon"
)

const (
	groupCore  = "core"
	groupSetup = "setup"
)

var (
	// daemonAddr overrides daemon.http_addr for client commands.
	daemonAddr    string
	clientTimeout time.Duration
	colorMode     string
)

var rootCmd = &cobra.Command{
	Use:   "prizm",
	Short: "ranked, self-calibrating work recommendations",
	Long: `prizm - ranked, self-calibrating work recommendations
  - who should take this task, how to resolve this conflict, who needs coaching
  - every ranking explained factor by factor
  - accepted and rejected suggestions tune future rankings`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		applyColorMode()
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: groupCore, Title: "Recommendations:"},
		&cobra.Group{ID: groupSetup, Title: "Daemon and setup:"},
	)
	rootCmd.PersistentFlags().StringVar(&daemonAddr, "addr", "", "daemon HTTP address (default: daemon.http_addr)")
	rootCmd.PersistentFlags().DurationVar(&clientTimeout, "timeout", daemon.DefaultClientTimeout, "request timeout")
	rootCmd.PersistentFlags().StringVar(&colorMode, "color", "auto", "color output: auto, always, or never")

	rootCmd.AddCommand(versionCmd)
}

// newClient returns a client for the daemon named by --addr or the config.
func newClient() *daemon.Client {
	addr := daemonAddr
	if addr == "" {
		cfg, err := config.Load()
		if err != nil {
			cfg = config.DefaultConfig()
		}
		addr = cfg.Daemon.HTTPAddr
	}
	return daemon.NewClient(addr, clientTimeout)
}
