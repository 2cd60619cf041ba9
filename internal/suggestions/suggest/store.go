package suggest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/runger/prizm/internal/suggestions/model"
)

// SQLStore persists suggestions in SQLite.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a suggestion store backed by db.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const suggestionColumns = `id, action_id, category, state, reason, ranked_json, excluded_json,
	rationale, rationale_source, created_ts, expires_ts, resolved_ts`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Insert stores a new suggestion.
func (s *SQLStore) Insert(ctx context.Context, sg *model.Suggestion) error {
	return insertSuggestion(ctx, s.db, sg)
}

// Update writes the mutable fields of a suggestion.
func (s *SQLStore) Update(ctx context.Context, sg *model.Suggestion) error {
	return updateSuggestion(ctx, s.db, sg)
}

// Supersede writes old's terminal state and inserts sg in one transaction.
// On error neither row changes.
func (s *SQLStore) Supersede(ctx context.Context, old, sg *model.Suggestion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin supersede: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := updateSuggestion(ctx, tx, old); err != nil {
		return err
	}
	if err := insertSuggestion(ctx, tx, sg); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit supersede: %w", err)
	}
	return nil
}

func insertSuggestion(ctx context.Context, ex execer, sg *model.Suggestion) error {
	ranked, excluded, err := encodeRanking(sg)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO suggestion (`+suggestionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sg.ID, sg.ActionID, string(sg.Category), string(sg.State), nullString(sg.Reason),
		ranked, excluded, nullString(sg.Rationale), nullString(sg.RationaleSource),
		sg.CreatedAt.UnixMilli(), sg.ExpiresAt.UnixMilli(), nullTime(sg.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("insert suggestion %s: %w", sg.ID, err)
	}
	return nil
}

func updateSuggestion(ctx context.Context, ex execer, sg *model.Suggestion) error {
	res, err := ex.ExecContext(ctx, `
		UPDATE suggestion
		SET state = ?, reason = ?, rationale = ?, rationale_source = ?, resolved_ts = ?
		WHERE id = ?
	`, string(sg.State), nullString(sg.Reason), nullString(sg.Rationale),
		nullString(sg.RationaleSource), nullTime(sg.ResolvedAt), sg.ID,
	)
	if err != nil {
		return fmt.Errorf("update suggestion %s: %w", sg.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update suggestion %s: %w", sg.ID, ErrNotFound)
	}
	return nil
}

// Get returns a suggestion by id, or nil if it does not exist.
func (s *SQLStore) Get(ctx context.Context, id string) (*model.Suggestion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM suggestion WHERE id = ?`, id)
	sg, err := scanSuggestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get suggestion %s: %w", id, err)
	}
	return sg, nil
}

// LoadPending returns every suggestion still marked pending.
func (s *SQLStore) LoadPending(ctx context.Context) ([]*model.Suggestion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+suggestionColumns+` FROM suggestion WHERE state = ? ORDER BY created_ts
	`, string(model.StatePending))
	if err != nil {
		return nil, fmt.Errorf("query pending suggestions: %w", err)
	}
	return collect(rows)
}

// History returns up to limit suggestions for key, newest first.
func (s *SQLStore) History(ctx context.Context, key model.Key, limit int) ([]*model.Suggestion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+suggestionColumns+` FROM suggestion
		WHERE action_id = ? AND category = ?
		ORDER BY created_ts DESC, rowid DESC
		LIMIT ?
	`, key.ActionID, string(key.Category), limit)
	if err != nil {
		return nil, fmt.Errorf("query suggestion history: %w", err)
	}
	return collect(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSuggestion(sc scanner) (*model.Suggestion, error) {
	var (
		sg                        model.Suggestion
		category, state           string
		reason, rationale, source sql.NullString
		rankedJSON, excludedJSON  string
		createdMs, expiresMs      int64
		resolvedMs                sql.NullInt64
	)
	if err := sc.Scan(&sg.ID, &sg.ActionID, &category, &state, &reason, &rankedJSON, &excludedJSON,
		&rationale, &source, &createdMs, &expiresMs, &resolvedMs); err != nil {
		return nil, err
	}
	sg.Category = model.Category(category)
	sg.State = model.State(state)
	sg.Reason = reason.String
	sg.Rationale = rationale.String
	sg.RationaleSource = source.String
	sg.CreatedAt = time.UnixMilli(createdMs)
	sg.ExpiresAt = time.UnixMilli(expiresMs)
	if resolvedMs.Valid {
		t := time.UnixMilli(resolvedMs.Int64)
		sg.ResolvedAt = &t
	}
	if err := json.Unmarshal([]byte(rankedJSON), &sg.Ranked); err != nil {
		return nil, fmt.Errorf("decode ranking of %s: %w", sg.ID, err)
	}
	if err := json.Unmarshal([]byte(excludedJSON), &sg.Excluded); err != nil {
		return nil, fmt.Errorf("decode exclusions of %s: %w", sg.ID, err)
	}
	return &sg, nil
}

func collect(rows *sql.Rows) ([]*model.Suggestion, error) {
	defer rows.Close()
	var out []*model.Suggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

func encodeRanking(sg *model.Suggestion) (ranked, excluded string, err error) {
	r := sg.Ranked
	if r == nil {
		r = []model.RankedOption{}
	}
	rb, err := json.Marshal(r)
	if err != nil {
		return "", "", fmt.Errorf("encode ranking: %w", err)
	}
	e := sg.Excluded
	if e == nil {
		e = []model.Exclusion{}
	}
	eb, err := json.Marshal(e)
	if err != nil {
		return "", "", fmt.Errorf("encode exclusions: %w", err)
	}
	return string(rb), string(eb), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
