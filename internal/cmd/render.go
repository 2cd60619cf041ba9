package cmd

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/runger/prizm/internal/suggestions/api"
	"github.com/runger/prizm/internal/suggestions/model"
)

var (
	titleStyle    lipgloss.Style
	topStyle      lipgloss.Style
	optionStyle   lipgloss.Style
	dimStyle      lipgloss.Style
	warnStyle     lipgloss.Style
	tableHeader   lipgloss.Style
	tableBorder   lipgloss.Style
	rationaleWrap lipgloss.Style
)

func setStylesEnabled(on bool) {
	rationaleWrap = lipgloss.NewStyle().PaddingLeft(2)
	if !on {
		plain := lipgloss.NewStyle()
		titleStyle, topStyle, optionStyle, dimStyle, warnStyle = plain, plain, plain, plain, plain
		tableHeader = plain.Bold(true)
		tableBorder = plain
		return
	}
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	topStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	optionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	tableHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	tableBorder = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
}

// optionLabel names an option by the resource it would load, if any.
func optionLabel(o model.Option) string {
	if o.ResourceID != "" && o.ResourceID != o.ID {
		return o.ResourceID + " (" + o.Type + ")"
	}
	return o.ID + " (" + o.Type + ")"
}

// renderSuggestion prints a ranking. With factors set, every option's
// weighted breakdown is printed under it.
func renderSuggestion(w io.Writer, s *model.Suggestion, factors bool, now time.Time) {
	header := fmt.Sprintf("%s · %s", s.ActionID, s.Category)
	fmt.Fprintln(w, titleStyle.Render(header))

	status := string(s.State)
	if s.State == model.StatePending && !s.ExpiresAt.IsZero() {
		status += ", expires in " + s.ExpiresAt.Sub(now).Round(time.Minute).String()
	}
	if s.Reason != "" {
		status += ", " + s.Reason
	}
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("id %s (%s)", s.ID, status)))
	fmt.Fprintln(w)

	if len(s.Ranked) == 0 {
		fmt.Fprintln(w, warnStyle.Render("No eligible options."))
	}
	for _, r := range s.Ranked {
		line := fmt.Sprintf("#%d  %-32s score %.3f  confidence %.2f", r.Rank, optionLabel(r.Option), r.Score, r.Confidence)
		if r.Rank == 1 {
			fmt.Fprintln(w, topStyle.Render(line))
		} else {
			fmt.Fprintln(w, optionStyle.Render(line))
		}
		if factors {
			renderFactors(w, r.Factors)
		}
	}

	for _, ex := range s.Excluded {
		label := ex.OptionID
		if ex.ResourceID != "" {
			label = ex.ResourceID
		}
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("    excluded %s (%s): %s", label, ex.OptionType, ex.Reason)))
	}

	if s.Rationale != "" {
		fmt.Fprintln(w)
		width := terminalWidth() - 4
		fmt.Fprintln(w, rationaleWrap.Width(width).Render(s.Rationale))
		if s.RationaleSource != "" {
			fmt.Fprintln(w, dimStyle.Render("  ("+s.RationaleSource+")"))
		}
	}
}

func renderFactors(w io.Writer, factors []model.Factor) {
	for _, f := range factors {
		note := ""
		if f.Defaulted {
			note = " (default)"
		}
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("      %-18s %.2f x %.2f = %.3f  %3.0f%%%s",
			f.Name, f.Value, f.Weight, f.Contribution, f.Percent, note)))
	}
}

// renderStats prints effectiveness statistics as a table, then counters.
func renderStats(w io.Writer, resp api.StatsResponse) {
	if len(resp.Stats) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No feedback recorded yet."))
	} else {
		rows := make([][]string, 0, len(resp.Stats))
		for _, s := range resp.Stats {
			rating := "-"
			if s.AvgRating != nil {
				rating = strconv.FormatFloat(*s.AvgRating, 'f', 1, 64)
			}
			var flags []string
			if !s.Trusted {
				flags = append(flags, "untrusted")
			}
			if s.Suppressed {
				flags = append(flags, "suppressed")
			}
			rows = append(rows, []string{
				string(s.Category),
				s.OptionType,
				strconv.Itoa(s.Samples),
				formatPct(s.HelpfulRate),
				formatPct(s.ActionRate),
				rating,
				strconv.FormatFloat(s.Multiplier, 'f', 2, 64),
				strings.Join(flags, ","),
			})
		}
		renderTable(w, []string{"CATEGORY", "OPTION TYPE", "SAMPLES", "HELPFUL", "ACTED", "RATING", "MULT", ""}, rows)
	}

	if len(resp.Counters) > 0 {
		keys := make([]string, 0, len(resp.Counters))
		for k := range resp.Counters {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		fmt.Fprintln(w)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s%-18s%s %d\n", colorCyan, k, colorReset, resp.Counters[k])
		}
	}
}

// renderTable prints rows under a bordered header.
func renderTable(w io.Writer, headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(tableBorder).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeader.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(w, t.Render())
}

func formatPct(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 0, 64) + "%"
}
