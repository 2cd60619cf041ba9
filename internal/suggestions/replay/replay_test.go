package replay

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runger/prizm/internal/suggestions/model"
)

func twoPersonTeam() []Step {
	return []Step{
		{Resource: &ResourceStep{ID: "alice", Capacity: 40, Skills: []string{"go", "sql"}}},
		{Resource: &ResourceStep{ID: "bob", Capacity: 40, Skills: []string{"go"}}},
		{Action: &ActionStep{ID: "task-1", Skills: []string{"go", "sql"}, Effort: 4}},
	}
}

func TestReplay_CorpusMatches(t *testing.T) {
	scenarios, err := LoadFile("testdata/scenarios.yaml")
	require.NoError(t, err)
	require.Len(t, scenarios, 3)

	for _, persist := range []bool{false, true} {
		cfg := DefaultRunnerConfig()
		cfg.Persist = persist
		results, err := NewRunner(cfg).ReplayAll(context.Background(), scenarios)
		require.NoError(t, err)
		require.Len(t, results, len(scenarios))
		for id, diffs := range results {
			assert.Empty(t, diffs, "persist=%v\n%s", persist, FormatDiffs(id, diffs))
		}
	}
}

func TestReplay_MatchingExpectations(t *testing.T) {
	sc := Scenario{
		ID:    "match",
		Steps: twoPersonTeam(),
		Expected: []ExpectedTopK{
			{AfterStep: 2, Action: "task-1", Top: []string{"alice", "bob"}},
		},
	}
	diffs, err := NewRunner(RunnerConfig{}).Replay(context.Background(), sc)
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestReplay_DiffDetection(t *testing.T) {
	sc := Scenario{
		ID:    "diff",
		Steps: twoPersonTeam(),
		Expected: []ExpectedTopK{
			{AfterStep: 2, Action: "task-1", Top: []string{"bob", "alice"}},
			{AfterStep: 2, Action: "task-1", Top: []string{"alice", "dave"}},
		},
	}
	diffs, err := NewRunner(RunnerConfig{}).Replay(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, diffs, 2)

	assert.Equal(t, 0, diffs[0].StepIndex)
	assert.Equal(t, model.Key{ActionID: "task-1", Category: model.CategoryAssignment}, diffs[0].Key)
	assert.Equal(t, []string{"alice", "bob"}, diffs[0].Got)
	require.Len(t, diffs[0].Mismatches, 2)
	for _, m := range diffs[0].Mismatches {
		assert.Equal(t, MismatchReordered, m.Type)
	}

	assert.Equal(t, 1, diffs[1].StepIndex)
	require.Len(t, diffs[1].Mismatches, 1)
	assert.Equal(t, Mismatch{Position: 1, Expected: "dave", Got: "bob", Type: MismatchMissing}, diffs[1].Mismatches[0])
}

func TestReplay_Deterministic(t *testing.T) {
	sc := Scenario{
		ID:    "determinism",
		Steps: twoPersonTeam(),
		Expected: []ExpectedTopK{
			{AfterStep: 2, Action: "task-1", Top: []string{"carol"}},
		},
	}
	r := NewRunner(RunnerConfig{})
	first, err := r.Replay(context.Background(), sc)
	require.NoError(t, err)
	second, err := r.Replay(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.Len(t, first, 1)
}

func TestReplay_EmptyScenario(t *testing.T) {
	diffs, err := NewRunner(RunnerConfig{}).Replay(context.Background(), Scenario{ID: "empty"})
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestReplay_StepErrors(t *testing.T) {
	tests := []struct {
		name string
		step Step
	}{
		{"unknown event", Step{Event: &EventStep{Type: "exploded", Resource: "alice"}}},
		{"bad outcome", Step{Feedback: &FeedbackStep{Action: "task-1", Outcome: "maybe"}}},
		{"bad category", Step{Options: &OptionsStep{Action: "task-1", Category: "mentoring"}}},
		{"negative capacity", Step{Resource: &ResourceStep{ID: "erin", Capacity: -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := Scenario{ID: tt.name, Steps: append(twoPersonTeam(), tt.step)}
			_, err := NewRunner(RunnerConfig{}).Replay(context.Background(), sc)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "step 3")
		})
	}
}

func TestScenario_Validate(t *testing.T) {
	tests := []struct {
		name    string
		sc      Scenario
		wantErr string
	}{
		{"missing id", Scenario{}, "id is required"},
		{"empty step", Scenario{ID: "x", Steps: []Step{{}}}, "exactly one"},
		{"two kinds", Scenario{ID: "x", Steps: []Step{{
			Resource: &ResourceStep{ID: "a"},
			Action:   &ActionStep{ID: "t"},
		}}}, "exactly one"},
		{"out of range", Scenario{ID: "x", Steps: twoPersonTeam(), Expected: []ExpectedTopK{
			{AfterStep: 3, Action: "task-1"},
		}}, "out of range"},
		{"no action", Scenario{ID: "x", Steps: twoPersonTeam(), Expected: []ExpectedTopK{
			{AfterStep: 0},
		}}, "action is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sc.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
	assert.NoError(t, Scenario{ID: "ok", Steps: twoPersonTeam()}.Validate())
}

func TestDecode(t *testing.T) {
	t.Run("multiple documents", func(t *testing.T) {
		in := `
id: one
steps:
  - resource: {id: alice, capacity: 40}
---
id: two
steps:
  - action:
      id: task-1
      deadline: 2026-03-01T17:00:00Z
`
		got, err := Decode(strings.NewReader(in))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "alice", got[0].Steps[0].Resource.ID)
		require.NotNil(t, got[1].Steps[0].Action.Deadline)
		assert.Equal(t, time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC), got[1].Steps[0].Action.Deadline.UTC())
	})

	t.Run("duplicate id", func(t *testing.T) {
		in := "id: a\n---\nid: a\n"
		_, err := Decode(strings.NewReader(in))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := Decode(strings.NewReader("id: a\nstepz: []\n"))
		assert.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		got, err := Decode(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile("testdata/nope.yaml")
	assert.Error(t, err)
}

func TestComputeMismatches(t *testing.T) {
	tests := []struct {
		name     string
		expected []string
		got      []string
		want     []Mismatch
	}{
		{"identical", []string{"a", "b"}, []string{"a", "b"}, nil},
		{"empty", nil, nil, nil},
		{"missing", []string{"a", "b"}, []string{"a"}, []Mismatch{
			{Position: 1, Expected: "b", Type: MismatchMissing},
		}},
		{"extra", nil, []string{"a"}, []Mismatch{
			{Position: 0, Got: "a", Type: MismatchExtra},
		}},
		{"reordered", []string{"a", "b"}, []string{"b", "a"}, []Mismatch{
			{Position: 0, Expected: "a", Got: "b", Type: MismatchReordered},
			{Position: 1, Expected: "b", Got: "a", Type: MismatchReordered},
		}},
		{"replaced", []string{"a"}, []string{"z"}, []Mismatch{
			{Position: 0, Expected: "a", Got: "z", Type: MismatchMissing},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, computeMismatches(tt.expected, tt.got))
		})
	}
}

func TestFormatDiffs(t *testing.T) {
	assert.Equal(t, "Scenario \"s\": all expectations matched.\n", FormatDiffs("s", nil))

	out := FormatDiffs("s", []DiffResult{{
		Key:       model.Key{ActionID: "task-1", Category: model.CategoryAssignment},
		Expected:  []string{"a", "b"},
		Got:       []string{"b", "c"},
		AfterStep: 2,
		Mismatches: []Mismatch{
			{Position: 0, Expected: "a", Got: "b", Type: MismatchMissing},
			{Position: 1, Expected: "b", Got: "c", Type: MismatchReordered},
			{Position: 2, Got: "d", Type: MismatchExtra},
		},
	}})
	assert.Contains(t, out, "1 diff(s) found")
	assert.Contains(t, out, "after step #2")
	assert.Contains(t, out, `Expected: [1:"a", 2:"b"]`)
	assert.Contains(t, out, "MISSING")
	assert.Contains(t, out, "REORDERED")
	assert.Contains(t, out, `EXTRA: unexpected "d"`)

	all := FormatAllDiffs(map[string][]DiffResult{"b": nil, "a": nil})
	assert.Less(t, strings.Index(all, `"a"`), strings.Index(all, `"b"`))
	assert.Equal(t, "(empty)", formatTopK(nil))
}

func TestNewRunner_Defaults(t *testing.T) {
	r := NewRunner(RunnerConfig{StepIncrement: -1})
	d := DefaultRunnerConfig()
	assert.Equal(t, d.BaseTime, r.cfg.BaseTime)
	assert.Equal(t, d.StepIncrement, r.cfg.StepIncrement)
	assert.NotNil(t, r.cfg.Scoring.Weights)
	assert.NotNil(t, r.cfg.Logger)
}
