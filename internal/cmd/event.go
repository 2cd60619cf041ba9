package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runger/prizm/internal/suggestions/event"
)

var (
	eventResource string
	eventAction   string
	eventEffort   float64
	eventPct      float64
	eventOnTime   bool
	eventRework   bool
)

var eventCmd = &cobra.Command{
	Use:     "event <type>",
	Short:   "Send a world-state event to the daemon",
	GroupID: groupCore,
	Long: `Send a world-state event. Pending suggestions the event makes stale are
expired before the profiles are updated.

Types: resource_assigned, resource_unassigned, action_completed,
       utilization_changed

Examples:
  prizm event resource_assigned --resource alice --action task-42 --effort 6
  prizm event action_completed --action task-42 --on-time
  prizm event utilization_changed --resource bob --pct 92`,
	Args: cobra.ExactArgs(1),
	RunE: runEvent,
}

func init() {
	eventCmd.Flags().StringVar(&eventResource, "resource", "", "resource id")
	eventCmd.Flags().StringVar(&eventAction, "action", "", "action id")
	eventCmd.Flags().Float64Var(&eventEffort, "effort", 0, "committed hours (resource_assigned)")
	eventCmd.Flags().Float64Var(&eventPct, "pct", 0, "utilization percent (utilization_changed)")
	eventCmd.Flags().BoolVar(&eventOnTime, "on-time", false, "completed on time (action_completed)")
	eventCmd.Flags().BoolVar(&eventRework, "rework", false, "completion needed rework (action_completed)")
	rootCmd.AddCommand(eventCmd)
}

func runEvent(cmd *cobra.Command, args []string) error {
	ev, err := buildEvent(cmd, args[0])
	if err != nil {
		return err
	}
	if err := newClient().Event(cmd.Context(), ev); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", ev)
	return nil
}

func buildEvent(cmd *cobra.Command, typ string) (event.Event, error) {
	if !event.ValidType(typ) || event.Type(typ) == event.TypeThresholdCrossed {
		return event.Event{}, fmt.Errorf("unknown event type %q (want one of resource_assigned, resource_unassigned, action_completed, utilization_changed)", typ)
	}

	ev := event.Event{
		Type:       event.Type(typ),
		ResourceID: strings.TrimSpace(eventResource),
		ActionID:   strings.TrimSpace(eventAction),
		Effort:     eventEffort,
		Pct:        eventPct,
	}
	if cmd.Flags().Changed("on-time") {
		v := eventOnTime
		ev.OnTime = &v
	}
	if cmd.Flags().Changed("rework") {
		v := eventRework
		ev.Rework = &v
	}
	if err := ev.Validate(); err != nil {
		return event.Event{}, err
	}
	return ev, nil
}
