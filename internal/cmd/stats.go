package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/runger/prizm/internal/suggestions/model"
)

var (
	statsJSON       bool
	resetCategory   string
	resetOptionType string
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show suggestion effectiveness statistics",
	GroupID: groupCore,
	Long: `Show how often each option type was found helpful and acted on, and the
ranking multiplier learned from that feedback.

Examples:
  prizm stats
  prizm stats --json
  prizm stats reset -c coaching`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

var statsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear effectiveness statistics",
	Long: `Clear learned statistics. Without flags every statistic is cleared.
Pending suggestions ranked with the old multipliers are expired.`,
	Args: cobra.NoArgs,
	RunE: runStatsReset,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output statistics as JSON")
	statsResetCmd.Flags().StringVarP(&resetCategory, "category", "c", "", "only this category")
	statsResetCmd.Flags().StringVar(&resetOptionType, "option-type", "", "only this option type")
	statsCmd.AddCommand(statsResetCmd)
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	resp, err := newClient().Stats(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if statsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	renderStats(out, resp)
	return nil
}

func runStatsReset(cmd *cobra.Command, args []string) error {
	var category model.Category
	if resetCategory != "" {
		c, err := model.ParseCategory(resetCategory)
		if err != nil {
			return err
		}
		category = c
	}
	if err := newClient().ResetStats(cmd.Context(), category, resetOptionType); err != nil {
		return err
	}

	scope := "all statistics"
	switch {
	case category != "" && resetOptionType != "":
		scope = fmt.Sprintf("%s/%s", category, resetOptionType)
	case category != "":
		scope = string(category)
	case resetOptionType != "":
		scope = resetOptionType
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", scope)
	return nil
}
