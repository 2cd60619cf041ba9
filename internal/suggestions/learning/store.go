package learning

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/runger/prizm/internal/suggestions/model"
)

// Store persists effectiveness statistics in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a new statistics store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// LoadStats returns every persisted stat.
func (s *Store) LoadStats(ctx context.Context) ([]Stat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, option_type, sample_count, helpful_count, acted_on_count,
		       issued_count, rating_sum, rating_count, updated_ts
		FROM effectiveness_stat
	`)
	if err != nil {
		return nil, fmt.Errorf("query effectiveness stats: %w", err)
	}
	defer rows.Close()

	var out []Stat
	for rows.Next() {
		var (
			st        Stat
			category  string
			updatedMs int64
		)
		if err := rows.Scan(&category, &st.OptionType, &st.Samples, &st.Helpful, &st.ActedOn,
			&st.Issued, &st.RatingSum, &st.RatingCount, &updatedMs); err != nil {
			return nil, fmt.Errorf("scan effectiveness stat: %w", err)
		}
		st.Category = model.Category(category)
		st.Updated = time.UnixMilli(updatedMs)
		out = append(out, st)
	}
	return out, rows.Err()
}

// SaveStat upserts a stat keyed by (category, option_type).
func (s *Store) SaveStat(ctx context.Context, st Stat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO effectiveness_stat
		  (category, option_type, sample_count, helpful_count, acted_on_count,
		   issued_count, rating_sum, rating_count, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(category, option_type) DO UPDATE SET
		  sample_count = excluded.sample_count,
		  helpful_count = excluded.helpful_count,
		  acted_on_count = excluded.acted_on_count,
		  issued_count = excluded.issued_count,
		  rating_sum = excluded.rating_sum,
		  rating_count = excluded.rating_count,
		  updated_ts = excluded.updated_ts
	`, string(st.Category), st.OptionType, st.Samples, st.Helpful, st.ActedOn,
		st.Issued, st.RatingSum, st.RatingCount, st.Updated.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save stat %s/%s: %w", st.Category, st.OptionType, err)
	}
	return nil
}

// DeleteStats removes stats matching the filter; empty values match all.
func (s *Store) DeleteStats(ctx context.Context, category model.Category, optionType string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM effectiveness_stat
		WHERE (? = '' OR category = ?) AND (? = '' OR option_type = ?)
	`, string(category), string(category), optionType, optionType)
	if err != nil {
		return fmt.Errorf("delete stats: %w", err)
	}
	return nil
}
