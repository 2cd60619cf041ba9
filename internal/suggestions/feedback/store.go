package feedback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/runger/prizm/internal/suggestions/model"
)

// SQLStore persists feedback in SQLite. The unique suggestion_id column
// enforces exactly-once recording.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a feedback store backed by db.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Insert stores rec.
func (s *SQLStore) Insert(ctx context.Context, rec model.FeedbackRecord) error {
	var rating sql.NullInt64
	if rec.Rating != nil {
		rating = sql.NullInt64{Int64: int64(*rec.Rating), Valid: true}
	}
	var actedOn sql.NullBool
	if rec.ActedOn != nil {
		actedOn = sql.NullBool{Bool: *rec.ActedOn, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback_record
		  (id, suggestion_id, action_id, category, option_id, option_type,
		   outcome, rating, note, acted_on, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.SuggestionID, rec.ActionID, string(rec.Category), rec.OptionID, rec.OptionType,
		string(rec.Outcome), rating, rec.Note, actedOn, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyRecorded, rec.SuggestionID)
		}
		return fmt.Errorf("insert feedback for %s: %w", rec.SuggestionID, err)
	}
	return nil
}

// BySuggestion returns the record for a suggestion, or nil.
func (s *SQLStore) BySuggestion(ctx context.Context, suggestionID string) (*model.FeedbackRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+feedbackColumns+` FROM feedback_record WHERE suggestion_id = ?`, suggestionID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get feedback for %s: %w", suggestionID, err)
	}
	return &rec, nil
}

// List returns records newest first; empty filters match all.
func (s *SQLStore) List(ctx context.Context, category model.Category, optionType string, limit int) ([]model.FeedbackRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+feedbackColumns+` FROM feedback_record
		WHERE (? = '' OR category = ?) AND (? = '' OR option_type = ?)
		ORDER BY created_ts DESC, rowid DESC
		LIMIT ?
	`, string(category), string(category), optionType, optionType, limit)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var out []model.FeedbackRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const feedbackColumns = `id, suggestion_id, action_id, category, option_id, option_type,
	outcome, rating, note, acted_on, created_ts`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (model.FeedbackRecord, error) {
	var (
		rec                        model.FeedbackRecord
		category, outcome          string
		optionID, optionType, note sql.NullString
		rating                     sql.NullInt64
		actedOn                    sql.NullBool
		createdMs                  int64
	)
	if err := sc.Scan(&rec.ID, &rec.SuggestionID, &rec.ActionID, &category, &optionID, &optionType,
		&outcome, &rating, &note, &actedOn, &createdMs); err != nil {
		return model.FeedbackRecord{}, err
	}
	rec.Category = model.Category(category)
	rec.Outcome = model.Outcome(outcome)
	rec.OptionID = optionID.String
	rec.OptionType = optionType.String
	rec.Note = note.String
	rec.CreatedAt = time.UnixMilli(createdMs)
	if rating.Valid {
		r := int(rating.Int64)
		rec.Rating = &r
	}
	if actedOn.Valid {
		a := actedOn.Bool
		rec.ActedOn = &a
	}
	return rec, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func sortNewestFirst(recs []model.FeedbackRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID > recs[j].ID
	})
}
