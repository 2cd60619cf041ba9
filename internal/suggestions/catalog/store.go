package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/runger/prizm/internal/suggestions/model"
)

// SQLStore persists the catalog in SQLite.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a catalog repository over db.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// LoadCatalog returns every action and option set.
func (s *SQLStore) LoadCatalog(ctx context.Context) ([]Action, map[model.Key][]model.Option, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT action_json FROM catalog_action ORDER BY action_id`)
	if err != nil {
		return nil, nil, fmt.Errorf("query actions: %w", err)
	}
	var actions []Action
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("scan action: %w", err)
		}
		var a Action
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("decode action: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Close(); err != nil {
		return nil, nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT action_id, category, options_json FROM catalog_option`)
	if err != nil {
		return nil, nil, fmt.Errorf("query options: %w", err)
	}
	defer rows.Close()

	options := make(map[model.Key][]model.Option)
	for rows.Next() {
		var actionID, category, raw string
		if err := rows.Scan(&actionID, &category, &raw); err != nil {
			return nil, nil, fmt.Errorf("scan options: %w", err)
		}
		var opts []model.Option
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			return nil, nil, fmt.Errorf("decode options for %s/%s: %w", actionID, category, err)
		}
		options[model.Key{ActionID: actionID, Category: model.Category(category)}] = opts
	}
	return actions, options, rows.Err()
}

// SaveAction upserts an action.
func (s *SQLStore) SaveAction(ctx context.Context, a Action) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode action: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO catalog_action (action_id, action_json, updated_ts)
		VALUES (?, ?, ?)
		ON CONFLICT(action_id) DO UPDATE SET
		  action_json = excluded.action_json,
		  updated_ts = excluded.updated_ts
	`, a.ID, string(raw), time.Now().UnixMilli())
	return err
}

// SaveOptions upserts the option set of one key.
func (s *SQLStore) SaveOptions(ctx context.Context, key model.Key, opts []model.Option) error {
	if opts == nil {
		opts = []model.Option{}
	}
	raw, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO catalog_option (action_id, category, options_json, updated_ts)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(action_id, category) DO UPDATE SET
		  options_json = excluded.options_json,
		  updated_ts = excluded.updated_ts
	`, key.ActionID, string(key.Category), string(raw), time.Now().UnixMilli())
	return err
}
