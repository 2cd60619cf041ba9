package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runger/prizm/internal/suggestions/db"
	"github.com/runger/prizm/internal/suggestions/model"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func testSuggestion() *model.Suggestion {
	return &model.Suggestion{
		ID:       "s1",
		ActionID: "task-1",
		Category: model.CategoryAssignment,
		State:    model.StatePending,
		Ranked: []model.RankedOption{
			{Rank: 1, Option: model.Option{ID: "alice", Type: "skill-based-assignment", ResourceID: "alice"}},
			{Rank: 2, Option: model.Option{ID: "specialist", Type: "reassign-to-specialist", ResourceID: "bob"}},
		},
	}
}

func TestSubmission_Validate(t *testing.T) {
	tests := []struct {
		name  string
		sub   Submission
		field string
	}{
		{"ok", Submission{SuggestionID: "s1", Outcome: model.OutcomeAccepted, Rating: intPtr(5)}, ""},
		{"missing id", Submission{Outcome: model.OutcomeAccepted}, "suggestion_id"},
		{"bad outcome", Submission{SuggestionID: "s1", Outcome: "maybe"}, "outcome"},
		{"rating low", Submission{SuggestionID: "s1", Outcome: model.OutcomeRejected, Rating: intPtr(0)}, "rating"},
		{"rating high", Submission{SuggestionID: "s1", Outcome: model.OutcomeRejected, Rating: intPtr(6)}, "rating"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sub.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalid)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestBuild_DefaultsToTopOption(t *testing.T) {
	rec, err := Build(Submission{SuggestionID: "s1", Outcome: model.OutcomeAccepted}, testSuggestion(), "f1", now)
	require.NoError(t, err)

	assert.Equal(t, "alice", rec.OptionID)
	assert.Equal(t, "skill-based-assignment", rec.OptionType)
	assert.Equal(t, model.CategoryAssignment, rec.Category)
	assert.Equal(t, "task-1", rec.ActionID)
	assert.Equal(t, now, rec.CreatedAt)
}

func TestBuild_NamedOption(t *testing.T) {
	rec, err := Build(Submission{SuggestionID: "s1", Outcome: model.OutcomeRejected, OptionID: "specialist"}, testSuggestion(), "f1", now)
	require.NoError(t, err)
	assert.Equal(t, "reassign-to-specialist", rec.OptionType)

	_, err = Build(Submission{SuggestionID: "s1", Outcome: model.OutcomeRejected, OptionID: "nobody"}, testSuggestion(), "f1", now)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "option_id", verr.Field)
}

func TestBuild_EmptyRanking(t *testing.T) {
	sg := testSuggestion()
	sg.Ranked = nil
	rec, err := Build(Submission{SuggestionID: "s1", Outcome: model.OutcomeRejected}, sg, "f1", now)
	require.NoError(t, err)
	assert.Empty(t, rec.OptionType)
}

func TestLog_ExactlyOnceInMemory(t *testing.T) {
	l := NewLog(Config{Now: func() time.Time { return now }})
	ctx := context.Background()

	rec, err := l.Build(Submission{SuggestionID: "s1", Outcome: model.OutcomeAccepted}, testSuggestion())
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)

	require.NoError(t, l.Record(ctx, rec))
	assert.ErrorIs(t, l.Record(ctx, rec), ErrAlreadyRecorded)

	got, err := l.Lookup(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)
}

func TestSQLStore_ExactlyOnce(t *testing.T) {
	sqlDB, err := db.OpenMemory(context.Background())
	require.NoError(t, err)
	defer sqlDB.Close()
	ctx := context.Background()

	// feedback_record references suggestion(id)
	_, err = sqlDB.ExecContext(ctx, `
		INSERT INTO suggestion (id, action_id, category, state, ranked_json, created_ts, expires_ts)
		VALUES ('s1', 'task-1', 'assignment', 'accepted', '[]', 0, 0)
	`)
	require.NoError(t, err)

	l := NewLog(Config{Repository: NewSQLStore(sqlDB), Now: func() time.Time { return now }})
	no := false
	rec, err := l.Build(Submission{
		SuggestionID: "s1",
		Outcome:      model.OutcomeAccepted,
		Rating:       intPtr(4),
		Note:         "good call",
		ActedOn:      &no,
	}, testSuggestion())
	require.NoError(t, err)

	require.NoError(t, l.Record(ctx, rec))
	assert.ErrorIs(t, l.Record(ctx, rec), ErrAlreadyRecorded)

	got, err := l.Lookup(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.Rating)
	assert.Equal(t, 4, *got.Rating)
	require.NotNil(t, got.ActedOn)
	assert.False(t, *got.ActedOn)
	assert.Equal(t, "good call", got.Note)
	assert.Equal(t, now.UnixMilli(), got.CreatedAt.UnixMilli())

	missing, err := l.Lookup(ctx, "s2")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := l.List(ctx, model.CategoryAssignment, "", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = l.List(ctx, model.CategoryCoaching, "", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}
