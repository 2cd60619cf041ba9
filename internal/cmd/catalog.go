package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/runger/prizm/internal/config"
	"github.com/runger/prizm/internal/suggestions/api"
)

var (
	resourceCapacity float64
	resourceSkills   []string

	actionTitle    string
	actionSkills   []string
	actionEffort   float64
	actionDeadline string
	actionEligible []string
)

var resourceCmd = &cobra.Command{
	Use:     "resource",
	Short:   "Register and list resources",
	GroupID: groupCore,
}

var resourceSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Register or update a resource",
	Example: `  prizm resource set alice --capacity 32 --skill go --skill sql
  prizm resource set bob --skill frontend`,
	Args: cobra.ExactArgs(1),
	RunE: runResourceSet,
}

var resourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resource profiles",
	Args:  cobra.NoArgs,
	RunE:  runResourceList,
}

var actionCmd = &cobra.Command{
	Use:     "action",
	Short:   "Register actions",
	GroupID: groupCore,
}

var actionSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Register or update an action",
	Example: `  prizm action set task-42 --title "Fix login" --skill go --effort 6
  prizm action set task-43 --deadline 2026-11-01T17:00:00Z --eligible alice,bob`,
	Args: cobra.ExactArgs(1),
	RunE: runActionSet,
}

func init() {
	resourceSetCmd.Flags().Float64Var(&resourceCapacity, "capacity", 0, "weekly capacity in hours (default: scoring.default_capacity_hours)")
	resourceSetCmd.Flags().StringSliceVar(&resourceSkills, "skill", nil, "skill (repeatable)")
	resourceCmd.AddCommand(resourceSetCmd, resourceListCmd)

	actionSetCmd.Flags().StringVar(&actionTitle, "title", "", "title")
	actionSetCmd.Flags().StringSliceVar(&actionSkills, "skill", nil, "required skill (repeatable)")
	actionSetCmd.Flags().Float64Var(&actionEffort, "effort", 0, "estimated effort in hours")
	actionSetCmd.Flags().StringVar(&actionDeadline, "deadline", "", "deadline (RFC 3339)")
	actionSetCmd.Flags().StringSliceVar(&actionEligible, "eligible", nil, "restrict assignment to these resources")
	actionCmd.AddCommand(actionSetCmd)

	rootCmd.AddCommand(resourceCmd, actionCmd)
}

func runResourceSet(cmd *cobra.Command, args []string) error {
	p, err := newClient().PutResource(cmd.Context(), args[0], api.ResourceRequest{
		CapacityHours: resourceCapacity,
		Skills:        resourceSkills,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s%s%s capacity %.0fh, utilization %.0f%%\n",
		colorCyan, p.ResourceID, colorReset, p.CapacityHours, p.Utilization)
	return nil
}

func runResourceList(cmd *cobra.Command, args []string) error {
	profiles, err := newClient().Resources(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(profiles) == 0 {
		fmt.Fprintln(out, "No resources registered.")
		return nil
	}
	ceiling := config.DefaultConfig().Scoring.UtilizationCeiling
	if cfg, err := config.Load(); err == nil {
		ceiling = cfg.Scoring.UtilizationCeiling
	}
	for _, p := range profiles {
		util := fmt.Sprintf("%5.1f%%", p.Utilization)
		if c := utilizationColor(p.Utilization, ceiling); c != "" {
			util = c + util + colorReset
		}
		fmt.Fprintf(out, "  %s%-16s%s %s  %2d active  %.1f/wk  on-time %s\n",
			colorCyan, p.ResourceID, colorReset, util, p.ActiveItems, p.Throughput, formatPct(p.OnTimeRate))
	}
	return nil
}

func runActionSet(cmd *cobra.Command, args []string) error {
	req := api.ActionRequest{
		Title:       actionTitle,
		Skills:      actionSkills,
		EffortHours: actionEffort,
		Eligible:    actionEligible,
	}
	if actionDeadline != "" {
		d, err := time.Parse(time.RFC3339, actionDeadline)
		if err != nil {
			return fmt.Errorf("invalid --deadline: %w", err)
		}
		req.Deadline = &d
	}
	if err := newClient().PutAction(cmd.Context(), args[0], req); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s%s%s registered\n", colorCyan, args[0], colorReset)
	return nil
}
