// Package explain turns a ranked suggestion into human-readable reasons.
//
// The factor breakdown and the template rationale are derived from the
// stored scores alone, so they are always available and deterministic.
// Prose from a text provider is optional decoration: it is rate limited,
// bounded by a timeout, and any failure falls back to the template.
package explain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/runger/prizm/internal/provider"
	"github.com/runger/prizm/internal/sanitize"
	"github.com/runger/prizm/internal/suggestions/model"
)

// SourceTemplate marks a rationale produced without a provider.
const SourceTemplate = "template"

// Defaults.
const (
	DefaultTimeout    = 3 * time.Second
	DefaultMaxReasons = 5
	// MinPercent drops factors that contributed less than this share.
	MinPercent = 1.0
)

// ErrRateLimited is returned when prose is skipped by the rate limiter.
var ErrRateLimited = errors.New("explain: provider rate limit reached")

// Reason is one factor's share of an option's score.
type Reason struct {
	Factor      string  `json:"factor"`
	Description string  `json:"description"`
	Value       float64 `json:"value"`
	Weight      float64 `json:"weight"`
	Percent     float64 `json:"percent"`
	Defaulted   bool    `json:"defaulted,omitempty"`
}

// Breakdown returns the factors of r with a meaningful share, largest first.
func Breakdown(r model.RankedOption, maxReasons int) []Reason {
	if maxReasons <= 0 {
		maxReasons = DefaultMaxReasons
	}
	reasons := make([]Reason, 0, len(r.Factors))
	for _, f := range r.Factors {
		if f.Percent < MinPercent {
			continue
		}
		reasons = append(reasons, Reason{
			Factor:      f.Name,
			Description: describe(f.Name),
			Value:       f.Value,
			Weight:      f.Weight,
			Percent:     f.Percent,
			Defaulted:   f.Defaulted,
		})
	}
	sort.SliceStable(reasons, func(i, j int) bool {
		if reasons[i].Percent != reasons[j].Percent {
			return reasons[i].Percent > reasons[j].Percent
		}
		return reasons[i].Factor < reasons[j].Factor
	})
	if len(reasons) > maxReasons {
		reasons = reasons[:maxReasons]
	}
	return reasons
}

// Template renders the deterministic rationale of a suggestion, e.g.
// "Ranked #1 assign:alice due to: skill match 35%, availability 30%".
func Template(s *model.Suggestion) string {
	top, ok := s.Top()
	if !ok {
		if len(s.Excluded) == 0 {
			return "No candidate options."
		}
		return fmt.Sprintf("No eligible options: %s.", summarizeExclusions(s.Excluded))
	}

	reasons := Breakdown(top, DefaultMaxReasons)
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = fmt.Sprintf("%s %d%%", r.Description, int(math.Round(r.Percent)))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Ranked #1 %s", top.Option.ID)
	if len(parts) > 0 {
		fmt.Fprintf(&sb, " due to: %s", strings.Join(parts, ", "))
	}
	sb.WriteString(".")
	if len(s.Excluded) > 0 {
		fmt.Fprintf(&sb, " Excluded: %s.", summarizeExclusions(s.Excluded))
	}
	return sb.String()
}

func summarizeExclusions(ex []model.Exclusion) string {
	counts := map[string]int{}
	for _, e := range ex {
		counts[e.Reason]++
	}
	reasons := make([]string, 0, len(counts))
	for r := range counts {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = fmt.Sprintf("%d %s", counts[r], strings.ReplaceAll(r, "_", " "))
	}
	return strings.Join(parts, ", ")
}

func describe(factor string) string {
	switch factor {
	case "skill_match":
		return "skill match"
	case "workload_pressure":
		return "workload pressure"
	case "reliability_gap":
		return "reliability gap"
	default:
		return strings.ReplaceAll(factor, "_", " ")
	}
}

// Config configures an Explainer.
type Config struct {
	// Provider generates prose. Nil disables prose.
	Provider provider.Provider

	// Timeout bounds each provider call.
	Timeout time.Duration

	// RatePerMinute limits provider calls. Zero means unlimited.
	RatePerMinute int

	MaxTokens int64
	Sanitizer *sanitize.Sanitizer
	Logger    *slog.Logger
}

// Explainer attaches rationales to suggestions.
type Explainer struct {
	cfg     Config
	limiter *rate.Limiter
}

// New creates an explainer.
func New(cfg Config) *Explainer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = provider.DefaultMaxTokens
	}
	if cfg.Sanitizer == nil {
		cfg.Sanitizer = sanitize.New(sanitize.WithMaxLength(500))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := &Explainer{cfg: cfg}
	if cfg.RatePerMinute > 0 {
		burst := cfg.RatePerMinute / 6
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60), burst)
	}
	return e
}

// HasProvider reports whether prose can be generated.
func (e *Explainer) HasProvider() bool {
	return e.cfg.Provider != nil
}

// Subject describes the action a suggestion is about, for the prompt.
type Subject struct {
	Title          string
	RequiredSkills []string
}

// Prose asks the provider for a short rationale. ctx should be cancelled
// when the suggestion is no longer pending.
func (e *Explainer) Prose(ctx context.Context, s *model.Suggestion, subj Subject) (string, string, error) {
	p := e.cfg.Provider
	if p == nil {
		return "", "", provider.ErrUnavailable
	}
	if e.limiter != nil && !e.limiter.Allow() {
		return "", "", ErrRateLimited
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	resp, err := p.Complete(ctx, &provider.CompletionRequest{
		System:    systemPrompt,
		Prompt:    e.Prompt(s, subj),
		MaxTokens: e.cfg.MaxTokens,
	})
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", "", fmt.Errorf("explain: %s returned empty text", p.Name())
	}
	return resp.Text, resp.ProviderName, nil
}

// Explain returns the best available rationale and its source. It never
// fails: provider problems are logged and the template is returned.
func (e *Explainer) Explain(ctx context.Context, s *model.Suggestion, subj Subject) (string, string) {
	tmpl := Template(s)
	if e.cfg.Provider == nil || len(s.Ranked) == 0 {
		return tmpl, SourceTemplate
	}
	text, source, err := e.Prose(ctx, s, subj)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, context.Canceled) || errors.Is(err, ErrRateLimited) || errors.Is(err, provider.ErrBreakerOpen) {
			level = slog.LevelDebug
		}
		e.cfg.Logger.Log(ctx, level, "rationale provider failed, using template",
			"suggestion", s.ID, "error", err)
		return tmpl, SourceTemplate
	}
	return text, source
}

const systemPrompt = "You explain project-management recommendations to a manager. " +
	"Answer in at most three plain sentences. Do not change the ranking or invent facts."

// Prompt builds the provider prompt from the stored ranking. Free text is
// sanitized before it leaves the process.
func (e *Explainer) Prompt(s *model.Suggestion, subj Subject) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Recommendation category: %s\n", s.Category)
	if subj.Title != "" {
		fmt.Fprintf(&sb, "Action: %s\n", e.cfg.Sanitizer.Sanitize(subj.Title))
	}
	if len(subj.RequiredSkills) > 0 {
		fmt.Fprintf(&sb, "Required skills: %s\n", strings.Join(e.cfg.Sanitizer.SanitizeAll(subj.RequiredSkills), ", "))
	}

	sb.WriteString("\nRanked options:\n")
	for i, r := range s.Ranked {
		if i == 3 {
			break
		}
		fmt.Fprintf(&sb, "%d. %s (%s) score %.2f confidence %.2f\n",
			r.Rank, e.cfg.Sanitizer.Sanitize(r.Option.ID), r.Option.Type, r.Score, r.Confidence)
		for _, reason := range Breakdown(r, DefaultMaxReasons) {
			fmt.Fprintf(&sb, "   - %s: %d%%\n", reason.Description, int(math.Round(reason.Percent)))
		}
	}
	if len(s.Excluded) > 0 {
		fmt.Fprintf(&sb, "\nExcluded: %s\n", summarizeExclusions(s.Excluded))
	}
	sb.WriteString("\nExplain why the first option is recommended.")
	return sb.String()
}
