package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/runger/prizm/internal/suggestions/model"
)

var (
	suggestCategory string
	suggestFresh    bool
	suggestExplain  bool
	suggestJSON     bool
)

var suggestCmd = &cobra.Command{
	Use:     "suggest <action>",
	Short:   "Show the ranked suggestion for an action",
	GroupID: groupCore,
	Long: `Show the ranked suggestion for an action in one category.

A still-valid pending suggestion is returned as is; otherwise the daemon
ranks the candidate options afresh. Use --fresh to force a new ranking.

Categories: assignment, conflict-resolution (or conflict), coaching

Examples:
  prizm suggest task-42                  # Who should take task-42
  prizm suggest task-42 -c coaching      # Coaching options for task-42
  prizm suggest task-42 --explain        # Include factor breakdowns
  prizm suggest task-42 --fresh --json   # Force re-ranking, print JSON`,
	Args: cobra.ExactArgs(1),
	RunE: runSuggest,
}

func init() {
	suggestCmd.Flags().StringVarP(&suggestCategory, "category", "c", string(model.CategoryAssignment), "suggestion category")
	suggestCmd.Flags().BoolVar(&suggestFresh, "fresh", false, "discard any pending suggestion and rank again")
	suggestCmd.Flags().BoolVar(&suggestExplain, "explain", false, "show factor breakdowns and the full rationale")
	suggestCmd.Flags().BoolVar(&suggestJSON, "json", false, "output the suggestion as JSON")
	rootCmd.AddCommand(suggestCmd)
}

func runSuggest(cmd *cobra.Command, args []string) error {
	category, err := model.ParseCategory(suggestCategory)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	client := newClient()
	s, err := client.Suggest(ctx, args[0], category, suggestFresh)
	if err != nil {
		return err
	}

	if suggestExplain && len(s.Ranked) > 0 {
		// The stored rationale may still be the template while prose is
		// generated in the background; ask for the best available.
		if exp, err := client.Explain(ctx, s.ID); err == nil && exp.Rationale != "" {
			s.Rationale = exp.Rationale
			s.RationaleSource = exp.Source
		}
	}

	out := cmd.OutOrStdout()
	if suggestJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	renderSuggestion(out, s, suggestExplain, time.Now())
	if len(s.Ranked) > 0 {
		fmt.Fprintf(out, "\n%sRespond with: prizm feedback %s accepted|rejected%s\n", colorDim, s.ID, colorReset)
	}
	return nil
}
