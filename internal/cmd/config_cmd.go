package cmd

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runger/prizm/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Get or set configuration values",
	GroupID: groupSetup,
	Long: `Get or set prizm configuration values.

Without a subcommand, lists all configuration keys.

Configuration is stored in ~/.config/prizm/config.yaml (XDG compliant).
A running daemon picks up scoring, learning, lifecycle and explain
changes when the file is saved.

Keys are in the format: section.key
Sections: daemon, storage, events, scoring, lifecycle, learning, explain
Scoring weights use: weights.<category>.<factor>

Examples:
  prizm config                                      # List all keys
  prizm config get scoring.utilization_ceiling
  prizm config set lifecycle.suggestion_ttl 12h
  prizm config set weights.coaching.reliability_gap 0.5`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return listConfig(cmd.OutOrStdout(), cfg, config.DefaultPaths())
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show one configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return getConfig(cmd.OutOrStdout(), cfg, args[0])
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set and save one configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := config.DefaultPaths()
		cfg, err := config.LoadFromFile(paths.ConfigFile())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return setConfig(cmd.OutOrStdout(), cfg, paths.ConfigFile(), args[0], args[1])
	},
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}

// configKeys returns every listable key: the fixed keys followed by the
// weight keys of cfg in sorted order.
func configKeys(cfg *config.Config) []string {
	keys := config.ListKeys()
	for _, category := range slices.Sorted(maps.Keys(cfg.Scoring.Weights)) {
		for _, factor := range slices.Sorted(maps.Keys(cfg.Scoring.Weights[category])) {
			keys = append(keys, "weights."+category+"."+factor)
		}
	}
	return keys
}

// listConfig prints every key with its value. Values that differ from the
// built-in default are marked with "*".
func listConfig(w io.Writer, cfg *config.Config, paths *config.Paths) error {
	defaults := config.DefaultConfig()

	var rows [][]string
	var failed []string
	for _, key := range configKeys(cfg) {
		value, err := cfg.Get(key)
		if err != nil {
			failed = append(failed, key)
			continue
		}
		if strings.HasPrefix(key, "weights.") {
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				value = formatWeight(v)
			}
		}
		mark := ""
		if def, err := defaults.Get(key); err != nil || !sameValue(def, value) {
			mark = "*"
		}
		if value == "" {
			value = "(not set)"
		}
		rows = append(rows, []string{key, value, mark})
	}

	renderTable(w, []string{"KEY", "VALUE", ""}, rows)
	if len(failed) > 0 {
		fmt.Fprintln(w, warnStyle.Render("Could not read: "+strings.Join(failed, ", ")))
	}
	fmt.Fprintf(w, "\nConfig file: %s\n", paths.ConfigFile())
	return nil
}

func sameValue(def, value string) bool {
	if def == value {
		return true
	}
	a, errA := strconv.ParseFloat(def, 64)
	b, errB := strconv.ParseFloat(value, 64)
	return errA == nil && errB == nil && a == b
}

func getConfig(w io.Writer, cfg *config.Config, key string) error {
	value, err := cfg.Get(key)
	if err != nil {
		return err
	}

	if value == "" {
		fmt.Fprintf(w, "%s(not set)%s\n", colorDim, colorReset)
	} else {
		fmt.Fprintln(w, value)
	}

	return nil
}

func setConfig(w io.Writer, cfg *config.Config, path, key, value string) error {
	if err := cfg.Set(key, value); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.SaveToFile(path); err != nil {
		return err
	}

	fmt.Fprintf(w, "%s%s%s = %s\n", colorCyan, key, colorReset, value)
	fmt.Fprintf(w, "Saved to: %s\n", path)

	return nil
}

func formatWeight(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}
