package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/runger/prizm/internal/config"
	"github.com/runger/prizm/internal/daemon"
)

const stopTimeout = 10 * time.Second

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show daemon status",
	GroupID: groupSetup,
	Long: `Show the current status of prizm, including:
- Daemon process and API reachability
- Configuration file location
- Database location`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var stopCmd = &cobra.Command{
	Use:     "stop",
	Short:   "Stop a running daemon",
	GroupID: groupSetup,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := config.DefaultPaths()
		cfg, _ := config.Load() // Ignore error, use defaults
		if cfg == nil {
			cfg = config.DefaultConfig()
		}
		if err := daemon.Stop(daemon.LockPath(cfg, paths), stopTimeout); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, stopCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	paths := config.DefaultPaths()
	cfg, _ := config.Load() // Ignore error, use defaults
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "%sprizm Status%s\n", colorBold, colorReset)
	fmt.Fprintln(out, strings.Repeat("-", 40))

	fmt.Fprintf(out, "\n%sDaemon:%s\n", colorBold, colorReset)
	if pid := daemon.RunningPID(daemon.LockPath(cfg, paths)); pid > 0 {
		fmt.Fprintf(out, "  Process: %srunning%s (PID %d)\n", colorGreen, colorReset, pid)
	} else {
		fmt.Fprintf(out, "  Process: %snot running%s\n", colorDim, colorReset)
	}
	addr := daemonAddr
	if addr == "" {
		addr = cfg.Daemon.HTTPAddr
	}
	if err := daemon.NewClient(addr, clientTimeout).Health(cmd.Context()); err == nil {
		fmt.Fprintf(out, "  API:     %sreachable%s at %s\n", colorGreen, colorReset, addr)
	} else {
		fmt.Fprintf(out, "  API:     %sunreachable%s at %s\n", colorDim, colorReset, addr)
	}
	fmt.Fprintf(out, "  Events:  %s\n", formatBool(cfg.Events.Enabled))
	fmt.Fprintf(out, "  Prose:   %s\n", cfg.Explain.Provider)

	fmt.Fprintf(out, "\n%sConfiguration:%s\n", colorBold, colorReset)
	configFile := paths.ConfigFile()
	if _, err := os.Stat(configFile); err == nil {
		fmt.Fprintf(out, "  File:     %s\n", configFile)
	} else {
		fmt.Fprintf(out, "  File:     %s (not found, using defaults)\n", configFile)
	}

	fmt.Fprintf(out, "\n%sStorage:%s\n", colorBold, colorReset)
	dbFile := cfg.Storage.DBPath
	if dbFile == "" {
		dbFile = paths.DatabaseFile()
	}
	if info, err := os.Stat(dbFile); err == nil {
		fmt.Fprintf(out, "  Database: %s (%s)\n", dbFile, formatSize(info.Size()))
	} else {
		fmt.Fprintf(out, "  Database: %s (not created)\n", dbFile)
	}
	fmt.Fprintf(out, "  Logs:     %s\n", paths.LogFile())

	return nil
}

func formatBool(b bool) string {
	if b {
		return colorGreen + "enabled" + colorReset
	}
	return colorDim + "disabled" + colorReset
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
