package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/runger/prizm/internal/config"
	"github.com/runger/prizm/internal/daemon"
	"github.com/runger/prizm/internal/suggestions/replay"
)

var (
	replayPersist  bool
	replayDefaults bool
)

var replayCmd = &cobra.Command{
	Use:     "replay <scenarios.yaml>",
	Short:   "Replay scripted scenarios and check the rankings",
	GroupID: groupSetup,
	Long: `Replay scripted scenarios through a private, in-process engine and compare
the rankings against each scenario's expectations. The daemon is not used.

Scoring and learning settings come from the config file unless --defaults
is given. The command fails when any expectation diverges.

Examples:
  prizm replay scenarios.yaml
  prizm replay --persist --defaults scenarios.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&replayPersist, "persist", false, "run each scenario against an in-memory SQLite database")
	replayCmd.Flags().BoolVar(&replayDefaults, "defaults", false, "ignore the config file and use built-in settings")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	scenarios, err := replay.LoadFile(args[0])
	if err != nil {
		return err
	}

	rcfg := replay.DefaultRunnerConfig()
	rcfg.Persist = replayPersist
	if !replayDefaults {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		settings, err := daemon.EngineSettings(cfg, nil)
		if err != nil {
			return err
		}
		rcfg.Scoring, rcfg.Learning = settings.Scoring, settings.Learning
	}

	results, err := replay.NewRunner(rcfg).ReplayAll(cmd.Context(), scenarios)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), replay.FormatAllDiffs(results))

	diverged := 0
	for _, diffs := range results {
		if len(diffs) > 0 {
			diverged++
		}
	}
	if diverged > 0 {
		return fmt.Errorf("%d of %d scenario(s) diverged", diverged, len(scenarios))
	}
	return nil
}
