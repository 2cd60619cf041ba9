package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLStore persists profile records in the resource_profile table.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a profile repository over db.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// LoadProfiles returns every persisted record.
func (s *SQLStore) LoadProfiles(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_id, capacity_hours, skills_json, assignments_json,
		       completions_json, external_hours, completed_total,
		       on_time_total, on_time_known, rework_total, rework_known, updated_ts
		FROM resource_profile
		ORDER BY resource_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                         Record
			skills, assigns, complete string
			completionsMs             []int64
			updatedMs                 int64
		)
		if err := rows.Scan(&r.ResourceID, &r.CapacityHours, &skills, &assigns,
			&complete, &r.ExternalHours, &r.Completed,
			&r.OnTime, &r.OnTimeKnown, &r.Rework, &r.ReworkKnown, &updatedMs); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		if err := json.Unmarshal([]byte(skills), &r.Skills); err != nil {
			return nil, fmt.Errorf("decode skills for %s: %w", r.ResourceID, err)
		}
		if err := json.Unmarshal([]byte(assigns), &r.Assignments); err != nil {
			return nil, fmt.Errorf("decode assignments for %s: %w", r.ResourceID, err)
		}
		if err := json.Unmarshal([]byte(complete), &completionsMs); err != nil {
			return nil, fmt.Errorf("decode completions for %s: %w", r.ResourceID, err)
		}
		for _, ms := range completionsMs {
			r.Completions = append(r.Completions, time.UnixMilli(ms))
		}
		r.Updated = time.UnixMilli(updatedMs)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveProfile upserts one record.
func (s *SQLStore) SaveProfile(ctx context.Context, r Record) error {
	skills, err := json.Marshal(nonNil(r.Skills))
	if err != nil {
		return fmt.Errorf("encode skills: %w", err)
	}
	if r.Assignments == nil {
		r.Assignments = map[string]float64{}
	}
	assigns, err := json.Marshal(r.Assignments)
	if err != nil {
		return fmt.Errorf("encode assignments: %w", err)
	}
	completionsMs := make([]int64, 0, len(r.Completions))
	for _, t := range r.Completions {
		completionsMs = append(completionsMs, t.UnixMilli())
	}
	complete, err := json.Marshal(completionsMs)
	if err != nil {
		return fmt.Errorf("encode completions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resource_profile
		  (resource_id, capacity_hours, skills_json, assignments_json,
		   completions_json, external_hours, completed_total,
		   on_time_total, on_time_known, rework_total, rework_known, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET
		  capacity_hours = excluded.capacity_hours,
		  skills_json = excluded.skills_json,
		  assignments_json = excluded.assignments_json,
		  completions_json = excluded.completions_json,
		  external_hours = excluded.external_hours,
		  completed_total = excluded.completed_total,
		  on_time_total = excluded.on_time_total,
		  on_time_known = excluded.on_time_known,
		  rework_total = excluded.rework_total,
		  rework_known = excluded.rework_known,
		  updated_ts = excluded.updated_ts
	`, r.ResourceID, r.CapacityHours, string(skills), string(assigns),
		string(complete), r.ExternalHours, r.Completed,
		r.OnTime, r.OnTimeKnown, r.Rework, r.ReworkKnown, r.Updated.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save profile %q: %w", r.ResourceID, err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
