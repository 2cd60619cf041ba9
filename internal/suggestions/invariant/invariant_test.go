package invariant

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/runger/prizm/internal/suggestions/db"
	"github.com/runger/prizm/internal/suggestions/model"
)

// recorder captures Errorf calls so violations can be asserted on.
type recorder struct {
	testing.TB
	errors []string
}

func (r *recorder) Helper() {}

func (r *recorder) Errorf(format string, args ...any) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func createTestDB(t *testing.T) *sql.DB {
	t.Helper()
	sqlDB, err := db.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("failed to open test DB: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return sqlDB
}

func insertSuggestion(t *testing.T, sqlDB *sql.DB, id, action string, state model.State) {
	t.Helper()
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC).UnixMilli()
	_, err := sqlDB.Exec(`
		INSERT INTO suggestion (id, action_id, category, state, ranked_json, created_ts, expires_ts)
		VALUES (?, ?, 'assignment', ?, '[]', ?, ?)`,
		id, action, string(state), ts, ts+int64(time.Hour/time.Millisecond))
	if err != nil {
		t.Fatalf("failed to insert suggestion %q: %v", id, err)
	}
}

func insertFeedback(t *testing.T, sqlDB *sql.DB, suggestionID string, outcome model.Outcome) {
	t.Helper()
	_, err := sqlDB.Exec(`
		INSERT INTO feedback_record (id, suggestion_id, action_id, category, outcome, created_ts)
		VALUES (?, ?, 'task-1', 'assignment', ?, 0)`,
		"fb-"+suggestionID, suggestionID, string(outcome))
	if err != nil {
		t.Fatalf("failed to insert feedback: %v", err)
	}
}

func ranked(ids ...string) []model.RankedOption {
	out := make([]model.RankedOption, len(ids))
	for i, id := range ids {
		out[i] = model.RankedOption{
			Rank:   i + 1,
			Option: model.Option{ID: id},
			Score:  1 - float64(i)*0.1,
			Factors: []model.Factor{
				{Name: "skill_match", Percent: 60},
				{Name: "availability", Percent: 40},
			},
		}
	}
	return out
}

func TestAssertRankingOrdered(t *testing.T) {
	s := &model.Suggestion{Ranked: ranked("a", "b", "c")}
	AssertRankingOrdered(t, s)
}

func TestAssertRankingOrdered_DetectsViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *model.Suggestion)
	}{
		{"rank gap", func(s *model.Suggestion) { s.Ranked[1].Rank = 3 }},
		{"score increases", func(s *model.Suggestion) { s.Ranked[2].Score = 2 }},
		{"duplicate option", func(s *model.Suggestion) { s.Ranked[1].Option.ID = "a" }},
		{"ranked and excluded", func(s *model.Suggestion) {
			s.Excluded = []model.Exclusion{{OptionID: "b", Reason: model.ExcludedOverCeiling}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &model.Suggestion{Ranked: ranked("a", "b", "c")}
			tt.mutate(s)
			r := &recorder{TB: t}
			AssertRankingOrdered(r, s)
			if len(r.errors) == 0 {
				t.Error("expected a violation")
			}
		})
	}
}

func TestAssertFactorShares(t *testing.T) {
	s := &model.Suggestion{Ranked: ranked("a", "b")}
	s.Ranked = append(s.Ranked, model.RankedOption{Rank: 3, Option: model.Option{ID: "zero"}})
	AssertFactorShares(t, s)

	s.Ranked[0].Factors[0].Percent = 70
	r := &recorder{TB: t}
	AssertFactorShares(r, s)
	if len(r.errors) != 1 {
		t.Errorf("expected 1 violation, got %v", r.errors)
	}
}

func TestAssertSameRanking(t *testing.T) {
	a := &model.Suggestion{ID: "s1", ActionID: "task-1", Ranked: ranked("a", "b")}
	b := &model.Suggestion{ID: "s2", ActionID: "task-1", State: model.StateExpired, Ranked: ranked("a", "b")}
	AssertSameRanking(t, a, b)

	b.Ranked[1].Score = 0.5
	r := &recorder{TB: t}
	AssertSameRanking(r, a, b)
	if len(r.errors) == 0 {
		t.Error("expected a difference to be reported")
	}
}

func TestAssertSinglePending(t *testing.T) {
	sqlDB := createTestDB(t)
	insertSuggestion(t, sqlDB, "s1", "task-1", model.StatePending)
	insertSuggestion(t, sqlDB, "s2", "task-1", model.StateExpired)
	insertSuggestion(t, sqlDB, "s3", "task-2", model.StatePending)
	AssertSinglePending(t, sqlDB)
}

func TestAssertSinglePending_DetectsDuplicate(t *testing.T) {
	sqlDB := createTestDB(t)
	if _, err := sqlDB.Exec("DROP INDEX idx_suggestion_one_pending"); err != nil {
		t.Fatalf("failed to drop index: %v", err)
	}
	insertSuggestion(t, sqlDB, "s1", "task-1", model.StatePending)
	insertSuggestion(t, sqlDB, "s2", "task-1", model.StatePending)

	r := &recorder{TB: t}
	AssertSinglePending(r, sqlDB)
	if len(r.errors) != 1 {
		t.Errorf("expected 1 violation, got %v", r.errors)
	}
}

func TestAssertFeedbackConsistent(t *testing.T) {
	sqlDB := createTestDB(t)
	insertSuggestion(t, sqlDB, "s1", "task-1", model.StateAccepted)
	insertSuggestion(t, sqlDB, "s2", "task-2", model.StateRejected)
	insertFeedback(t, sqlDB, "s1", model.OutcomeAccepted)
	insertFeedback(t, sqlDB, "s2", model.OutcomeRejected)
	AssertFeedbackConsistent(t, sqlDB)
}

func TestAssertFeedbackConsistent_DetectsMismatch(t *testing.T) {
	sqlDB := createTestDB(t)
	insertSuggestion(t, sqlDB, "s1", "task-1", model.StatePending)
	insertFeedback(t, sqlDB, "s1", model.OutcomeAccepted)

	r := &recorder{TB: t}
	AssertFeedbackConsistent(r, sqlDB)
	if len(r.errors) != 1 {
		t.Errorf("expected 1 violation, got %v", r.errors)
	}
}
