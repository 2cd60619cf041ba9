// Package maintenance keeps the suggestion history bounded. A Runner ticks
// inside the daemon and, on each pass, deletes resolved suggestions nobody
// can give feedback on anymore. On idle passes it also refreshes the query
// planner statistics and compacts a database file that has grown.
//
// Accepted and rejected suggestions are never pruned: their feedback records
// reference them and they are the audit trail of what the learner was told.
package maintenance

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultInterval     = time.Hour
	DefaultRetention    = 90 * 24 * time.Hour
	DefaultBatchSize    = 1000
	DefaultBatchPause   = 100 * time.Millisecond
	DefaultIdleEvents   = 5
	DefaultVacuumGrowth = 2.0
)

// Config configures a Runner. Zero values select the defaults above, except
// Retention where zero disables pruning and a negative value selects
// DefaultRetention.
type Config struct {
	Interval time.Duration

	// Retention is how long an expired or superseded suggestion is kept
	// after it was resolved.
	Retention time.Duration

	// BatchSize bounds each DELETE; BatchPause separates consecutive batches
	// so request handlers are not starved of the connection.
	BatchSize  int
	BatchPause time.Duration

	// IdleEvents is the number of world-state events per interval below
	// which a pass counts as idle.
	IdleEvents int

	// VacuumGrowth is the factor by which the database file must have grown
	// since the last VACUUM before another one runs.
	VacuumGrowth float64

	// DBPath is the database file. Without it VACUUM never runs.
	DBPath string

	Now    func() time.Time
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Retention < 0 {
		c.Retention = DefaultRetention
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchPause <= 0 {
		c.BatchPause = DefaultBatchPause
	}
	if c.IdleEvents <= 0 {
		c.IdleEvents = DefaultIdleEvents
	}
	if c.VacuumGrowth <= 1 {
		c.VacuumGrowth = DefaultVacuumGrowth
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Report describes one maintenance pass.
type Report struct {
	Events    int64
	Idle      bool
	Pruned    int64
	Optimized bool
	Vacuumed  bool
}

// Stats accumulates reports over the life of a Runner.
type Stats struct {
	Ticks    int64
	Pruned   int64
	Vacuums  int64
	LastTick time.Time
	Last     Report
}

// Runner executes periodic maintenance over a migrated database.
type Runner struct {
	db     *sql.DB
	cfg    Config
	events atomic.Int64

	mu    sync.Mutex
	stats Stats
	// baseline is the file size after the last VACUUM, or at the first idle
	// pass when none has run yet.
	baseline int64
}

// NewRunner creates a Runner. Call Run to start ticking.
func NewRunner(db *sql.DB, cfg Config) *Runner {
	cfg.applyDefaults()
	return &Runner{db: db, cfg: cfg}
}

// RecordEvent counts one world-state event towards the idle check.
func (r *Runner) RecordEvent() {
	r.events.Add(1)
}

// Stats returns a snapshot of the accumulated statistics.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Run ticks every Interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.cfg.Logger.Info("maintenance started", "interval", r.cfg.Interval, "retention", r.cfg.Retention)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick performs one maintenance pass and returns what it did.
func (r *Runner) Tick(ctx context.Context) Report {
	rep := Report{Events: r.events.Swap(0)}
	rep.Idle = rep.Events < int64(r.cfg.IdleEvents)

	if r.cfg.Retention > 0 {
		rep.Pruned = r.prune(ctx, r.cfg.Now().Add(-r.cfg.Retention))
	}
	if rep.Idle && ctx.Err() == nil {
		rep.Optimized = r.optimize(ctx)
		rep.Vacuumed = r.maybeVacuum(ctx)
	}

	r.mu.Lock()
	r.stats.Ticks++
	r.stats.LastTick = r.cfg.Now()
	r.stats.Pruned += rep.Pruned
	if rep.Vacuumed {
		r.stats.Vacuums++
	}
	r.stats.Last = rep
	r.mu.Unlock()

	r.cfg.Logger.Debug("maintenance pass",
		"events", rep.Events,
		"idle", rep.Idle,
		"pruned", rep.Pruned,
		"vacuumed", rep.Vacuumed,
	)
	return rep
}

const pruneBatch = `
	DELETE FROM suggestion
	WHERE id IN (
		SELECT s.id FROM suggestion s
		WHERE s.state IN ('expired', 'superseded')
		  AND COALESCE(s.resolved_ts, s.created_ts) < ?
		  AND NOT EXISTS (SELECT 1 FROM feedback_record f WHERE f.suggestion_id = s.id)
		LIMIT ?
	)`

// prune deletes expired and superseded suggestions resolved before cutoff,
// one batch at a time, and returns how many it removed.
func (r *Runner) prune(ctx context.Context, cutoff time.Time) int64 {
	var total int64
	for ctx.Err() == nil {
		res, err := r.db.ExecContext(ctx, pruneBatch, cutoff.UnixMilli(), r.cfg.BatchSize)
		if err != nil {
			if ctx.Err() == nil {
				r.cfg.Logger.Warn("suggestion prune failed", "error", err)
			}
			break
		}
		n, err := res.RowsAffected()
		if err != nil {
			r.cfg.Logger.Warn("suggestion prune failed", "error", err)
			break
		}
		total += n
		if n < int64(r.cfg.BatchSize) {
			break
		}

		timer := time.NewTimer(r.cfg.BatchPause)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	if total > 0 {
		r.cfg.Logger.Info("pruned resolved suggestions", "deleted", total, "resolved_before", cutoff)
	}
	return total
}

// optimize lets SQLite refresh planner statistics for tables whose contents
// changed substantially.
func (r *Runner) optimize(ctx context.Context) bool {
	if _, err := r.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		r.cfg.Logger.Warn("PRAGMA optimize failed", "error", err)
		return false
	}
	return true
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// maybeVacuum rewrites the database file once it has grown by VacuumGrowth
// over the baseline. The first call only records the baseline.
func (r *Runner) maybeVacuum(ctx context.Context) bool {
	if r.cfg.DBPath == "" {
		return false
	}
	size, err := fileSize(r.cfg.DBPath)
	if err != nil {
		r.cfg.Logger.Warn("database size check failed", "error", err)
		return false
	}

	r.mu.Lock()
	baseline := r.baseline
	if baseline == 0 {
		r.baseline = size
	}
	r.mu.Unlock()
	if baseline == 0 || float64(size) < float64(baseline)*r.cfg.VacuumGrowth {
		return false
	}

	r.cfg.Logger.Info("compacting database", "size", size, "baseline", baseline)
	if _, err := r.db.ExecContext(ctx, "VACUUM"); err != nil {
		r.cfg.Logger.Warn("VACUUM failed", "error", err)
		return false
	}
	if after, err := fileSize(r.cfg.DBPath); err == nil {
		r.mu.Lock()
		r.baseline = after
		r.mu.Unlock()
	}
	return true
}
