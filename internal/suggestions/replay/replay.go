// Package replay provides deterministic replay validation for the
// recommendation core. It replays scripted scenarios (roster changes, catalog
// updates, world-state events and feedback) through a fresh engine and
// compares the resulting rankings against expected top-k lists.
//
// Replay runs with a fixed clock and sequential suggestion ids, so the same
// scenario always produces the same output.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/runger/prizm/internal/suggestions/catalog"
	"github.com/runger/prizm/internal/suggestions/db"
	"github.com/runger/prizm/internal/suggestions/engine"
	"github.com/runger/prizm/internal/suggestions/event"
	"github.com/runger/prizm/internal/suggestions/feedback"
	"github.com/runger/prizm/internal/suggestions/learning"
	"github.com/runger/prizm/internal/suggestions/model"
	"github.com/runger/prizm/internal/suggestions/score"
)

// Mismatch types.
const (
	MismatchMissing   = "missing"
	MismatchExtra     = "extra"
	MismatchReordered = "reordered"
)

// Scenario is a scripted sequence of steps with expected rankings.
type Scenario struct {
	// ID is a human-readable identifier for the scenario.
	ID string `yaml:"id"`

	// Steps are applied in order.
	Steps []Step `yaml:"steps"`

	// Expected defines the expected top-k at specific points in the scenario.
	Expected []ExpectedTopK `yaml:"expected"`
}

// Step is one scripted change. Exactly one field is set.
type Step struct {
	Resource *ResourceStep `yaml:"resource,omitempty"`
	Action   *ActionStep   `yaml:"action,omitempty"`
	Options  *OptionsStep  `yaml:"options,omitempty"`
	Event    *EventStep    `yaml:"event,omitempty"`
	Feedback *FeedbackStep `yaml:"feedback,omitempty"`
}

// ResourceStep registers or updates a resource.
type ResourceStep struct {
	ID       string   `yaml:"id"`
	Capacity float64  `yaml:"capacity"`
	Skills   []string `yaml:"skills"`
}

// ActionStep registers or updates an action.
type ActionStep struct {
	ID       string     `yaml:"id"`
	Title    string     `yaml:"title"`
	Skills   []string   `yaml:"skills"`
	Effort   float64    `yaml:"effort"`
	Deadline *time.Time `yaml:"deadline"`
	Eligible []string   `yaml:"eligible"`
}

// OptionsStep registers candidate options for a conflict or coaching key.
type OptionsStep struct {
	Action   string       `yaml:"action"`
	Category string       `yaml:"category"`
	Options  []OptionSpec `yaml:"options"`
}

// OptionSpec is a candidate option in a scenario.
type OptionSpec struct {
	ID       string             `yaml:"id"`
	Type     string             `yaml:"type"`
	Resource string             `yaml:"resource"`
	Signals  map[string]float64 `yaml:"signals"`
}

// EventStep delivers a world-state event.
type EventStep struct {
	Type     string  `yaml:"type"`
	Resource string  `yaml:"resource"`
	Action   string  `yaml:"action"`
	Effort   float64 `yaml:"effort"`
	Pct      float64 `yaml:"pct"`
	OnTime   *bool   `yaml:"on_time"`
	Rework   *bool   `yaml:"rework"`
}

// FeedbackStep records an outcome for the current suggestion of a key.
// Repeat submits the same outcome several times, each against a freshly
// issued suggestion.
type FeedbackStep struct {
	Action   string `yaml:"action"`
	Category string `yaml:"category"`
	Outcome  string `yaml:"outcome"`
	Option   string `yaml:"option"`
	Rating   *int   `yaml:"rating"`
	ActedOn  *bool  `yaml:"acted_on"`
	Repeat   int    `yaml:"repeat"`
}

// ExpectedTopK defines the expected leading options for a key after a step.
// Entries are resource ids for options that assign work, option ids
// otherwise. An empty Top expects no ranked options at all.
type ExpectedTopK struct {
	AfterStep int      `yaml:"after_step"`
	Action    string   `yaml:"action"`
	Category  string   `yaml:"category"`
	Top       []string `yaml:"top"`
}

// DiffResult captures the difference between expected and actual top-k at one step.
type DiffResult struct {
	Key        model.Key
	Expected   []string
	Got        []string
	Mismatches []Mismatch
	// StepIndex is the index into Scenario.Expected.
	StepIndex int
	AfterStep int
}

// Mismatch describes a single difference between expected and actual top-k.
type Mismatch struct {
	Expected string
	Got      string
	Type     string
	Position int
}

// RunnerConfig configures the replay runner.
type RunnerConfig struct {
	Scoring  score.Config
	Learning learning.Config

	// BaseTime is the clock reading before the first step.
	BaseTime time.Time

	// StepIncrement advances the clock before each step.
	StepIncrement time.Duration

	// Persist runs each scenario against a fresh in-memory SQLite database
	// instead of the in-memory repositories.
	Persist bool

	Logger *slog.Logger
}

// DefaultRunnerConfig returns a RunnerConfig with deterministic defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Scoring:       score.DefaultConfig(),
		Learning:      learning.DefaultConfig(),
		BaseTime:      time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		StepIncrement: time.Minute,
	}
}

// Runner replays scenarios through the recommendation core.
type Runner struct {
	cfg RunnerConfig
}

// NewRunner creates a replay runner, filling unset fields from
// DefaultRunnerConfig.
func NewRunner(cfg RunnerConfig) *Runner {
	d := DefaultRunnerConfig()
	if cfg.Scoring.Weights == nil {
		cfg.Scoring = d.Scoring
	}
	if cfg.BaseTime.IsZero() {
		cfg.BaseTime = d.BaseTime
	}
	if cfg.StepIncrement < 0 {
		cfg.StepIncrement = d.StepIncrement
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{cfg: cfg}
}

// clock is a manually advanced time source shared with the engine.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("replay-%04d", n)
	}
}

// Replay runs one scenario and returns any diffs. An empty result means the
// scenario matched every expectation.
func (r *Runner) Replay(ctx context.Context, sc Scenario) ([]DiffResult, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	if len(sc.Steps) == 0 {
		return nil, nil
	}

	eng, cleanup, err := r.newEngine(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	expectations := buildExpectationMap(sc.Expected)
	var diffs []DiffResult
	for i, step := range sc.Steps {
		eng.clock.advance(r.cfg.StepIncrement)
		if err := applyStep(ctx, eng.Engine, step); err != nil {
			return nil, fmt.Errorf("scenario %q step %d: %w", sc.ID, i, err)
		}
		for _, idx := range expectations[i] {
			diff, err := evaluate(ctx, eng.Engine, sc.Expected[idx])
			if err != nil {
				return nil, fmt.Errorf("scenario %q expectation %d: %w", sc.ID, idx, err)
			}
			if diff != nil {
				diff.StepIndex = idx
				diffs = append(diffs, *diff)
			}
		}
	}
	return diffs, nil
}

// ReplayAll runs every scenario and returns the diffs keyed by scenario id.
func (r *Runner) ReplayAll(ctx context.Context, scenarios []Scenario) (map[string][]DiffResult, error) {
	results := make(map[string][]DiffResult, len(scenarios))
	for _, sc := range scenarios {
		diffs, err := r.Replay(ctx, sc)
		if err != nil {
			return nil, err
		}
		results[sc.ID] = diffs
	}
	return results, nil
}

type replayEngine struct {
	*engine.Engine
	clock *clock
}

func (r *Runner) newEngine(ctx context.Context) (*replayEngine, func(), error) {
	clk := &clock{now: r.cfg.BaseTime}
	cfg := engine.Config{
		Scoring:  r.cfg.Scoring,
		Learning: r.cfg.Learning,
		Now:      clk.Now,
		NewID:    sequentialIDs(),
		Logger:   r.cfg.Logger,
	}

	closers := []func(){}
	if r.cfg.Persist {
		sqlDB, err := db.OpenMemory(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("open replay database: %w", err)
		}
		cfg.DB = sqlDB
		closers = append(closers, func() { _ = sqlDB.Close() })
	}

	eng, err := engine.New(ctx, cfg)
	if err != nil {
		for _, c := range closers {
			c()
		}
		return nil, nil, fmt.Errorf("create engine: %w", err)
	}
	cleanup := func() {
		eng.Close()
		for _, c := range closers {
			c()
		}
	}
	return &replayEngine{Engine: eng, clock: clk}, cleanup, nil
}

func buildExpectationMap(expected []ExpectedTopK) map[int][]int {
	m := make(map[int][]int, len(expected))
	for i, exp := range expected {
		m[exp.AfterStep] = append(m[exp.AfterStep], i)
	}
	return m
}

func parseKey(action, category string) (model.Key, error) {
	c := model.CategoryAssignment
	if category != "" {
		var err error
		if c, err = model.ParseCategory(category); err != nil {
			return model.Key{}, err
		}
	}
	return model.Key{ActionID: action, Category: c}, nil
}

func applyStep(ctx context.Context, e *engine.Engine, step Step) error {
	switch {
	case step.Resource != nil:
		rs := step.Resource
		_, err := e.RegisterResource(ctx, rs.ID, rs.Capacity, rs.Skills)
		return err
	case step.Action != nil:
		as := step.Action
		return e.RegisterAction(ctx, catalog.Action{
			ID:             as.ID,
			Title:          as.Title,
			RequiredSkills: as.Skills,
			EffortHours:    as.Effort,
			Deadline:       as.Deadline,
			Eligible:       as.Eligible,
		})
	case step.Options != nil:
		return applyOptions(ctx, e, step.Options)
	case step.Event != nil:
		es := step.Event
		return e.HandleEvent(ctx, event.Event{
			Type:       event.Type(es.Type),
			ResourceID: es.Resource,
			ActionID:   es.Action,
			Effort:     es.Effort,
			Pct:        es.Pct,
			OnTime:     es.OnTime,
			Rework:     es.Rework,
		})
	case step.Feedback != nil:
		return applyFeedback(ctx, e, step.Feedback)
	default:
		return errors.New("empty step")
	}
}

func applyOptions(ctx context.Context, e *engine.Engine, step *OptionsStep) error {
	key, err := parseKey(step.Action, step.Category)
	if err != nil {
		return err
	}
	opts := make([]model.Option, 0, len(step.Options))
	for _, o := range step.Options {
		opts = append(opts, model.Option{
			ID:         o.ID,
			Type:       o.Type,
			ResourceID: o.Resource,
			Signals:    o.Signals,
		})
	}
	return e.RegisterOptions(ctx, key, opts)
}

func applyFeedback(ctx context.Context, e *engine.Engine, fs *FeedbackStep) error {
	key, err := parseKey(fs.Action, fs.Category)
	if err != nil {
		return err
	}
	n := max(fs.Repeat, 1)
	for i := 0; i < n; i++ {
		s, err := e.GetSuggestions(ctx, key)
		if err != nil {
			return err
		}
		_, err = e.SubmitFeedback(ctx, feedback.Submission{
			SuggestionID: s.ID,
			Outcome:      model.Outcome(fs.Outcome),
			OptionID:     fs.Option,
			Rating:       fs.Rating,
			ActedOn:      fs.ActedOn,
		})
		if err != nil {
			return fmt.Errorf("feedback %d on %s: %w", i+1, key, err)
		}
	}
	return nil
}

func evaluate(ctx context.Context, e *engine.Engine, exp ExpectedTopK) (*DiffResult, error) {
	key, err := parseKey(exp.Action, exp.Category)
	if err != nil {
		return nil, err
	}
	s, err := e.GetSuggestions(ctx, key)
	if err != nil {
		return nil, err
	}

	got := Labels(s)
	if len(exp.Top) > 0 && len(got) > len(exp.Top) {
		got = got[:len(exp.Top)]
	}
	mismatches := computeMismatches(exp.Top, got)
	if len(mismatches) == 0 {
		return nil, nil
	}
	return &DiffResult{
		Key:        key,
		Expected:   exp.Top,
		Got:        got,
		Mismatches: mismatches,
		AfterStep:  exp.AfterStep,
	}, nil
}

// Labels returns the ranked options of s as expectation labels: the resource
// id for options that assign work, the option id otherwise.
func Labels(s *model.Suggestion) []string {
	out := make([]string, 0, len(s.Ranked))
	for _, r := range s.Ranked {
		if r.Option.ResourceID != "" {
			out = append(out, r.Option.ResourceID)
		} else {
			out = append(out, r.Option.ID)
		}
	}
	return out
}

// Validate checks that every step sets exactly one field and that every
// expectation refers to an existing step.
func (sc Scenario) Validate() error {
	if sc.ID == "" {
		return errors.New("scenario id is required")
	}
	for i, st := range sc.Steps {
		n := 0
		for _, set := range []bool{st.Resource != nil, st.Action != nil, st.Options != nil, st.Event != nil, st.Feedback != nil} {
			if set {
				n++
			}
		}
		if n != 1 {
			return fmt.Errorf("scenario %q step %d: exactly one of resource, action, options, event, feedback must be set", sc.ID, i)
		}
	}
	for i, exp := range sc.Expected {
		if exp.AfterStep < 0 || exp.AfterStep >= len(sc.Steps) {
			return fmt.Errorf("scenario %q expectation %d: after_step %d out of range", sc.ID, i, exp.AfterStep)
		}
		if exp.Action == "" {
			return fmt.Errorf("scenario %q expectation %d: action is required", sc.ID, i)
		}
	}
	return nil
}

func computeMismatches(expected, got []string) []Mismatch {
	var mismatches []Mismatch

	gotSet := toPositionSet(got)
	expectedSet := toPositionSet(expected)

	for i := 0; i < max(len(expected), len(got)); i++ {
		expVal := valueAt(expected, i)
		gotVal := valueAt(got, i)
		if expVal == gotVal {
			continue
		}
		if m, ok := mismatchAtPosition(i, expVal, gotVal, gotSet, expectedSet); ok {
			mismatches = append(mismatches, m)
		}
	}
	return mismatches
}

func toPositionSet(values []string) map[string]int {
	set := make(map[string]int, len(values))
	for i, value := range values {
		set[value] = i
	}
	return set
}

func valueAt(values []string, index int) string {
	if index >= 0 && index < len(values) {
		return values[index]
	}
	return ""
}

func mismatchAtPosition(position int, expectedVal, gotVal string, gotSet, expectedSet map[string]int) (Mismatch, bool) {
	switch {
	case expectedVal != "" && gotVal == "":
		return Mismatch{Position: position, Expected: expectedVal, Type: MismatchMissing}, true
	case expectedVal == "" && gotVal != "":
		if _, inExpected := expectedSet[gotVal]; !inExpected {
			return Mismatch{Position: position, Got: gotVal, Type: MismatchExtra}, true
		}
		return Mismatch{}, false
	case expectedVal != "" && gotVal != "":
		typ := MismatchMissing
		if _, inGot := gotSet[expectedVal]; inGot {
			typ = MismatchReordered
		}
		return Mismatch{Position: position, Expected: expectedVal, Got: gotVal, Type: typ}, true
	default:
		return Mismatch{}, false
	}
}

// FormatDiffs produces human-readable output showing expected vs actual top-k.
func FormatDiffs(scenarioID string, diffs []DiffResult) string {
	if len(diffs) == 0 {
		return fmt.Sprintf("Scenario %q: all expectations matched.\n", scenarioID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Scenario %q: %d diff(s) found:\n", scenarioID, len(diffs))

	for _, diff := range diffs {
		fmt.Fprintf(&b, "\n  Expectation %d (%s after step #%d):\n", diff.StepIndex, diff.Key, diff.AfterStep)
		fmt.Fprintf(&b, "    Expected: %s\n", formatTopK(diff.Expected))
		fmt.Fprintf(&b, "    Got:      %s\n", formatTopK(diff.Got))

		for _, m := range diff.Mismatches {
			switch m.Type {
			case MismatchMissing:
				fmt.Fprintf(&b, "    [%d] MISSING: expected %q, got %q\n", m.Position, m.Expected, m.Got)
			case MismatchExtra:
				fmt.Fprintf(&b, "    [%d] EXTRA: unexpected %q\n", m.Position, m.Got)
			case MismatchReordered:
				fmt.Fprintf(&b, "    [%d] REORDERED: expected %q, got %q\n", m.Position, m.Expected, m.Got)
			}
		}
	}
	return b.String()
}

// FormatAllDiffs produces human-readable output for multiple scenarios,
// ordered by scenario id.
func FormatAllDiffs(results map[string][]DiffResult) string {
	var b strings.Builder
	for _, id := range slices.Sorted(maps.Keys(results)) {
		b.WriteString(FormatDiffs(id, results[id]))
	}
	return b.String()
}

func formatTopK(topK []string) string {
	if len(topK) == 0 {
		return "(empty)"
	}
	parts := make([]string, len(topK))
	for i, v := range topK {
		parts[i] = fmt.Sprintf("%d:%q", i+1, v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
