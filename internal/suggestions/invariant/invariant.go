// Package invariant provides test helpers for the correctness invariants of
// the recommendation core: ranking order, factor shares, one pending
// suggestion per (action, category) and exactly-once feedback.
package invariant

import (
	"context"
	"database/sql"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/runger/prizm/internal/suggestions/model"
)

// percentTolerance absorbs float rounding when factor shares are summed.
const percentTolerance = 1e-6

// AssertRankingOrdered checks that ranks are 1..n in order, scores never
// increase down the list, and no option appears twice.
func AssertRankingOrdered(t testing.TB, s *model.Suggestion) {
	t.Helper()

	seen := make(map[string]bool, len(s.Ranked))
	for i, r := range s.Ranked {
		if r.Rank != i+1 {
			t.Errorf("ranking violation: position %d has rank %d", i, r.Rank)
		}
		if seen[r.Option.ID] {
			t.Errorf("ranking violation: option %q ranked twice", r.Option.ID)
		}
		seen[r.Option.ID] = true
		if i > 0 && r.Score > s.Ranked[i-1].Score {
			t.Errorf("ranking violation: %q (%.4f) ranked below %q (%.4f)",
				r.Option.ID, r.Score, s.Ranked[i-1].Option.ID, s.Ranked[i-1].Score)
		}
	}
	for _, x := range s.Excluded {
		if seen[x.OptionID] {
			t.Errorf("ranking violation: option %q is both ranked and excluded (%s)", x.OptionID, x.Reason)
		}
	}
}

// AssertFactorShares checks that every ranked option's scores and confidences
// lie in [0, 1] and that factor percentages of a positive score add up to 100.
func AssertFactorShares(t testing.TB, s *model.Suggestion) {
	t.Helper()

	for _, r := range s.Ranked {
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("score of %q out of range: %v", r.Option.ID, r.Score)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			t.Errorf("confidence of %q out of range: %v", r.Option.ID, r.Confidence)
		}
		if r.Score == 0 {
			continue
		}
		var sum float64
		for _, f := range r.Factors {
			sum += f.Percent
		}
		if math.Abs(sum-100) > percentTolerance {
			t.Errorf("factor shares of %q sum to %.6f, want 100", r.Option.ID, sum)
		}
	}
}

// AssertSameRanking checks that two suggestions computed from identical state
// rank the same options with the same scores and breakdowns. Identity and
// timestamps are ignored.
func AssertSameRanking(t testing.TB, a, b *model.Suggestion) {
	t.Helper()

	opts := cmpopts.IgnoreFields(model.Suggestion{},
		"ID", "State", "Reason", "CreatedAt", "ExpiresAt", "ResolvedAt",
		"Rationale", "RationaleSource")
	if diff := cmp.Diff(a, b, opts, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("ranking not deterministic (-first +second):\n%s", diff)
	}
}

// AssertSinglePending checks the persisted suggestion history for more than
// one pending suggestion per (action, category).
func AssertSinglePending(t testing.TB, db *sql.DB) {
	t.Helper()

	rows, err := db.QueryContext(context.Background(), `
		SELECT action_id, category, COUNT(*)
		FROM suggestion
		WHERE state = 'pending'
		GROUP BY action_id, category
		HAVING COUNT(*) > 1
	`)
	if err != nil {
		t.Fatalf("failed to query pending suggestions: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var action, category string
		var n int
		if err := rows.Scan(&action, &category, &n); err != nil {
			t.Fatalf("failed to scan pending suggestion: %v", err)
		}
		t.Errorf("pending violation: %d pending suggestions for %s/%s", n, action, category)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("failed to iterate pending suggestions: %v", err)
	}
}

// AssertFeedbackConsistent checks that every feedback record belongs to a
// suggestion whose state matches the recorded outcome.
func AssertFeedbackConsistent(t testing.TB, db *sql.DB) {
	t.Helper()

	rows, err := db.QueryContext(context.Background(), `
		SELECT f.suggestion_id, f.outcome, COALESCE(s.state, '')
		FROM feedback_record f
		LEFT JOIN suggestion s ON s.id = f.suggestion_id
	`)
	if err != nil {
		t.Fatalf("failed to query feedback: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, outcome, state string
		if err := rows.Scan(&id, &outcome, &state); err != nil {
			t.Fatalf("failed to scan feedback: %v", err)
		}
		if state == "" {
			t.Errorf("feedback violation: record for unknown suggestion %q", id)
			continue
		}
		if want := model.Outcome(outcome).State(); model.State(state) != want {
			t.Errorf("feedback violation: suggestion %q is %s but feedback says %s", id, state, outcome)
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("failed to iterate feedback: %v", err)
	}
}
