// Package db provides SQLite storage for the recommendation core: resource
// profiles, suggestion history, feedback records, effectiveness statistics
// and the candidate catalog.
package db

// SchemaVersion is the current supported schema version.
// The daemon refuses to run if the database schema version exceeds this.
const SchemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version       INTEGER PRIMARY KEY,
  applied_ts    INTEGER NOT NULL
);

-- One row per resource; never deleted.
CREATE TABLE IF NOT EXISTS resource_profile (
  resource_id       TEXT PRIMARY KEY,
  capacity_hours    REAL NOT NULL,
  skills_json       TEXT NOT NULL DEFAULT '[]',
  assignments_json  TEXT NOT NULL DEFAULT '{}',  -- action_id -> committed hours
  completions_json  TEXT NOT NULL DEFAULT '[]',  -- completion times (ms) inside the throughput window
  completed_total   INTEGER NOT NULL DEFAULT 0,
  on_time_total     INTEGER NOT NULL DEFAULT 0,
  on_time_known     INTEGER NOT NULL DEFAULT 0,
  rework_total      INTEGER NOT NULL DEFAULT 0,
  rework_known      INTEGER NOT NULL DEFAULT 0,
  external_hours    REAL NOT NULL DEFAULT 0,    -- load reported by utilization_changed
  updated_ts        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS suggestion (
  id                TEXT PRIMARY KEY,
  action_id         TEXT NOT NULL,
  category          TEXT NOT NULL,
  state             TEXT NOT NULL,
  reason            TEXT,
  ranked_json       TEXT NOT NULL,
  excluded_json     TEXT NOT NULL DEFAULT '[]',
  rationale         TEXT,
  rationale_source  TEXT,
  created_ts        INTEGER NOT NULL,
  expires_ts        INTEGER NOT NULL,
  resolved_ts       INTEGER
);

CREATE INDEX IF NOT EXISTS idx_suggestion_key_ts ON suggestion(action_id, category, created_ts);
CREATE INDEX IF NOT EXISTS idx_suggestion_state ON suggestion(state);
CREATE UNIQUE INDEX IF NOT EXISTS idx_suggestion_one_pending
  ON suggestion(action_id, category) WHERE state = 'pending';

-- Written exactly once per suggestion.
CREATE TABLE IF NOT EXISTS feedback_record (
  id             TEXT PRIMARY KEY,
  suggestion_id  TEXT NOT NULL UNIQUE REFERENCES suggestion(id),
  action_id      TEXT NOT NULL,
  category       TEXT NOT NULL,
  option_id      TEXT,
  option_type    TEXT,
  outcome        TEXT NOT NULL CHECK(outcome IN ('accepted', 'rejected')),
  rating         INTEGER CHECK(rating IS NULL OR rating BETWEEN 1 AND 5),
  note           TEXT,
  acted_on       INTEGER,
  created_ts     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feedback_category_type ON feedback_record(category, option_type);

CREATE TABLE IF NOT EXISTS effectiveness_stat (
  category        TEXT NOT NULL,
  option_type     TEXT NOT NULL,
  sample_count    INTEGER NOT NULL DEFAULT 0,
  helpful_count   INTEGER NOT NULL DEFAULT 0,
  acted_on_count  INTEGER NOT NULL DEFAULT 0,
  issued_count    INTEGER NOT NULL DEFAULT 0,
  rating_sum      INTEGER NOT NULL DEFAULT 0,
  rating_count    INTEGER NOT NULL DEFAULT 0,
  updated_ts      INTEGER NOT NULL,
  PRIMARY KEY (category, option_type)
);

CREATE TABLE IF NOT EXISTS catalog_action (
  action_id    TEXT PRIMARY KEY,
  action_json  TEXT NOT NULL,
  updated_ts   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS catalog_option (
  action_id     TEXT NOT NULL,
  category      TEXT NOT NULL,
  options_json  TEXT NOT NULL,
  updated_ts    INTEGER NOT NULL,
  PRIMARY KEY (action_id, category)
);
`

// AllTables lists all tables in the schema for validation purposes.
var AllTables = []string{
	"schema_migrations",
	"resource_profile",
	"suggestion",
	"feedback_record",
	"effectiveness_stat",
	"catalog_action",
	"catalog_option",
}

// AllIndexes lists all explicit indexes in the schema.
var AllIndexes = []string{
	"idx_suggestion_key_ts",
	"idx_suggestion_state",
	"idx_suggestion_one_pending",
	"idx_feedback_category_type",
}
