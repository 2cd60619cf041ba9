package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/runger/prizm/internal/suggestions/api"
	"github.com/runger/prizm/internal/suggestions/model"
)

var (
	feedbackRating  int
	feedbackNote    string
	feedbackOption  string
	feedbackActedOn bool
)

var feedbackCmd = &cobra.Command{
	Use:     "feedback <suggestion-id> accepted|rejected",
	Short:   "Accept or reject a suggestion",
	GroupID: groupCore,
	Long: `Record the outcome of a pending suggestion.

Feedback is accepted once per suggestion and tunes how future rankings
weigh the option type that was chosen.

Examples:
  prizm feedback 0f8c... accepted
  prizm feedback 0f8c... accepted -r 5 --option assign-bob
  prizm feedback 0f8c... rejected -n "alice is on leave"`,
	Args: cobra.ExactArgs(2),
	RunE: runFeedback,
}

func init() {
	feedbackCmd.Flags().IntVarP(&feedbackRating, "rating", "r", 0, "rating from 1 to 5")
	feedbackCmd.Flags().StringVarP(&feedbackNote, "note", "n", "", "free-text note")
	feedbackCmd.Flags().StringVar(&feedbackOption, "option", "", "option acted on (default: the top-ranked option)")
	feedbackCmd.Flags().BoolVar(&feedbackActedOn, "acted-on", true, "whether the suggestion was acted on")
	rootCmd.AddCommand(feedbackCmd)
}

func runFeedback(cmd *cobra.Command, args []string) error {
	req, err := feedbackRequest(cmd, args[1])
	if err != nil {
		return err
	}

	resp, err := newClient().Feedback(cmd.Context(), args[0], req)
	if err != nil {
		return err
	}

	rec := resp.Feedback
	color := colorGreen
	if rec.Outcome == model.OutcomeRejected {
		color = colorYellow
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s%s%s %s (%s)\n", color, rec.Outcome, colorReset, rec.SuggestionID, rec.OptionType)
	return nil
}

func feedbackRequest(cmd *cobra.Command, outcome string) (api.FeedbackRequest, error) {
	o := model.Outcome(outcome)
	if !o.IsValid() {
		return api.FeedbackRequest{}, fmt.Errorf("outcome must be accepted or rejected, got %q", outcome)
	}

	req := api.FeedbackRequest{
		Outcome:  o,
		OptionID: feedbackOption,
		Note:     feedbackNote,
	}
	if cmd.Flags().Changed("rating") {
		if feedbackRating < 1 || feedbackRating > 5 {
			return api.FeedbackRequest{}, fmt.Errorf("rating must be between 1 and 5, got %d", feedbackRating)
		}
		r := feedbackRating
		req.Rating = &r
	}
	if cmd.Flags().Changed("acted-on") {
		acted := feedbackActedOn
		req.ActedOn = &acted
	}
	return req, nil
}
