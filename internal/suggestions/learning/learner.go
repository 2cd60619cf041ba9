// Package learning calibrates suggestion confidence from human feedback.
//
// Feedback is aggregated per (category, option-type), never per suggestion.
// Each pair keeps an EffectivenessStat from which a bounded confidence
// multiplier is derived:
//
//	helpful_rate  = helpful / samples
//	action_rate   = acted_on / issued
//	effectiveness = 0.4*helpful_rate + 0.4*action_rate + 0.2*(avg_rating/5)
//	multiplier    = clamp(0.5 + effectiveness, 0.5, 1.5)
//
// The multiplier is neutral (1.0) until MinSamples feedback records exist.
// Once SuppressMinSamples is reached, a pair whose helpful and action rates
// both stay low is suppressed: the scorer stops proposing that option-type.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/runger/prizm/internal/suggestions/model"
)

// Multiplier bounds.
const (
	MinMultiplier     = 0.5
	MaxMultiplier     = 1.5
	NeutralMultiplier = 1.0
)

// Effectiveness blend weights.
const (
	helpfulWeight = 0.4
	actionWeight  = 0.4
	ratingWeight  = 0.2

	// neutralRatingScore stands in for avg_rating/5 when nothing was rated.
	neutralRatingScore = 0.5
)

// Config holds learner thresholds.
type Config struct {
	// MinSamples is the feedback count at which the multiplier is trusted.
	// Default 5.
	MinSamples int

	// SuppressMinSamples is the feedback count at which suppression may
	// apply. Default 20.
	SuppressMinSamples int

	// SuppressHelpfulBelow: suppress only when helpful_rate is strictly
	// below this. Zero disables suppression; negative selects 0.30.
	SuppressHelpfulBelow float64

	// SuppressActionAtMost: suppress only when action_rate is at or below
	// this. Negative selects 0.20.
	SuppressActionAtMost float64

	Now    func() time.Time
	Logger *slog.Logger
}

// DefaultConfig returns the default learner configuration.
func DefaultConfig() Config {
	return Config{
		MinSamples:           5,
		SuppressMinSamples:   20,
		SuppressHelpfulBelow: 0.30,
		SuppressActionAtMost: 0.20,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
	if c.SuppressMinSamples <= 0 {
		c.SuppressMinSamples = d.SuppressMinSamples
	}
	if c.SuppressHelpfulBelow < 0 {
		c.SuppressHelpfulBelow = d.SuppressHelpfulBelow
	}
	if c.SuppressActionAtMost < 0 {
		c.SuppressActionAtMost = d.SuppressActionAtMost
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Key identifies an effectiveness statistic.
type Key struct {
	Category   model.Category `json:"category"`
	OptionType string         `json:"option_type"`
}

// Stat is the raw aggregate for one key.
type Stat struct {
	Key
	Samples     int       `json:"samples"`
	Helpful     int       `json:"helpful"`
	ActedOn     int       `json:"acted_on"`
	Issued      int       `json:"issued"`
	RatingSum   int       `json:"rating_sum"`
	RatingCount int       `json:"rating_count"`
	Updated     time.Time `json:"updated"`
}

// valid reports whether the counters are mutually consistent. Invalid stats
// are treated as having no samples.
func (s Stat) valid() bool {
	return s.Samples >= 0 && s.Helpful >= 0 && s.ActedOn >= 0 && s.Issued >= 0 &&
		s.Helpful <= s.Samples && s.RatingCount >= 0 && s.RatingCount <= s.Samples &&
		s.RatingSum >= s.RatingCount && s.RatingSum <= 5*s.RatingCount
}

// HelpfulRate is helpful / samples.
func (s Stat) HelpfulRate() float64 {
	if s.Samples == 0 {
		return 0
	}
	return float64(s.Helpful) / float64(s.Samples)
}

// ActionRate is acted_on / issued. Suggestions resolved without a recorded
// issuance still count toward the denominator.
func (s Stat) ActionRate() float64 {
	total := max(s.Issued, s.Samples)
	if total == 0 {
		return 0
	}
	return math.Min(1, float64(s.ActedOn)/float64(total))
}

// AvgRating returns the mean 1-5 rating and whether any rating exists.
func (s Stat) AvgRating() (float64, bool) {
	if s.RatingCount == 0 {
		return 0, false
	}
	return float64(s.RatingSum) / float64(s.RatingCount), true
}

// Effectiveness blends helpful, action and rating rates into [0,1].
func (s Stat) Effectiveness() float64 {
	rating := neutralRatingScore
	if avg, ok := s.AvgRating(); ok {
		rating = avg / 5
	}
	return helpfulWeight*s.HelpfulRate() + actionWeight*s.ActionRate() + ratingWeight*rating
}

// RawMultiplier is the bounded multiplier regardless of sample count.
func (s Stat) RawMultiplier() float64 {
	return clamp(0.5+s.Effectiveness(), MinMultiplier, MaxMultiplier)
}

// Summary is a Stat with its derived values, for reporting.
type Summary struct {
	Stat
	HelpfulRate   float64  `json:"helpful_rate"`
	ActionRate    float64  `json:"action_rate"`
	AvgRating     *float64 `json:"avg_rating,omitempty"`
	Effectiveness float64  `json:"effectiveness"`
	Multiplier    float64  `json:"multiplier"`
	Trusted       bool     `json:"trusted"`
	Suppressed    bool     `json:"suppressed"`
}

// Repository persists statistics.
type Repository interface {
	LoadStats(ctx context.Context) ([]Stat, error)
	SaveStat(ctx context.Context, s Stat) error
	DeleteStats(ctx context.Context, category model.Category, optionType string) error
}

// Learner tracks effectiveness statistics. It is safe for concurrent use.
type Learner struct {
	cfg   Config
	repo  Repository
	mu    sync.RWMutex
	stats map[Key]*Stat

	// saveMu guards saving, which holds one lock per key so writes of the
	// same stat reach the repository in order.
	saveMu sync.Mutex
	saving map[Key]*sync.Mutex
}

// NewLearner creates a learner. repo may be nil for in-memory use.
func NewLearner(cfg Config, repo Repository) *Learner {
	cfg.applyDefaults()
	return &Learner{
		cfg:    cfg,
		repo:   repo,
		stats:  make(map[Key]*Stat),
		saving: make(map[Key]*sync.Mutex),
	}
}

// Load restores persisted statistics. Inconsistent rows are skipped and
// therefore behave as zero samples.
func (l *Learner) Load(ctx context.Context) error {
	if l.repo == nil {
		return nil
	}
	stats, err := l.repo.LoadStats(ctx)
	if err != nil {
		return fmt.Errorf("load effectiveness stats: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range stats {
		s := stats[i]
		if !s.valid() {
			l.cfg.Logger.Warn("ignoring inconsistent effectiveness stat",
				"category", s.Category, "option_type", s.OptionType)
			continue
		}
		l.stats[s.Key] = &s
	}
	return nil
}

// SetConfig replaces thresholds, keeping accumulated statistics.
func (l *Learner) SetConfig(cfg Config) {
	if cfg.Logger == nil {
		cfg.Logger = l.cfg.Logger
	}
	if cfg.Now == nil {
		cfg.Now = l.cfg.Now
	}
	cfg.applyDefaults()
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
}

// Ingest folds one feedback record into its (category, option-type) stat.
func (l *Learner) Ingest(ctx context.Context, rec model.FeedbackRecord) error {
	if !rec.Category.IsValid() {
		return fmt.Errorf("invalid category %q", rec.Category)
	}
	if rec.OptionType == "" {
		return fmt.Errorf("option_type is required")
	}
	if !rec.Outcome.IsValid() {
		return fmt.Errorf("invalid outcome %q", rec.Outcome)
	}

	l.mu.Lock()
	s := l.statLocked(Key{Category: rec.Category, OptionType: rec.OptionType})
	s.Samples++
	if rec.Helpful() {
		s.Helpful++
	}
	if rec.WasActedOn() {
		s.ActedOn++
	}
	if rec.Rating != nil {
		s.RatingSum += *rec.Rating
		s.RatingCount++
	}
	s.Updated = l.cfg.Now()
	snapshot := *s
	l.mu.Unlock()

	l.cfg.Logger.Debug("feedback ingested",
		"category", rec.Category,
		"option_type", rec.OptionType,
		"samples", snapshot.Samples,
		"multiplier", snapshot.RawMultiplier(),
	)
	l.persist(ctx, snapshot.Key)
	return nil
}

// RecordIssued counts one presented suggestion for each distinct option-type
// in its ranking.
func (l *Learner) RecordIssued(ctx context.Context, category model.Category, optionTypes []string) {
	if len(optionTypes) == 0 {
		return
	}
	now := l.cfg.Now()

	l.mu.Lock()
	keys := make([]Key, 0, len(optionTypes))
	seen := make(map[string]struct{}, len(optionTypes))
	for _, t := range optionTypes {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		s := l.statLocked(Key{Category: category, OptionType: t})
		s.Issued++
		s.Updated = now
		keys = append(keys, s.Key)
	}
	l.mu.Unlock()

	for _, k := range keys {
		l.persist(ctx, k)
	}
}

// MultiplierFor returns the confidence multiplier for a pair: neutral below
// MinSamples or when no stat exists, otherwise the bounded multiplier.
func (l *Learner) MultiplierFor(category model.Category, optionType string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.stats[Key{Category: category, OptionType: optionType}]
	if !ok || s.Samples < l.cfg.MinSamples {
		return NeutralMultiplier
	}
	return s.RawMultiplier()
}

// Suppressed reports whether the option-type must not be proposed.
func (l *Learner) Suppressed(category model.Category, optionType string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.stats[Key{Category: category, OptionType: optionType}]
	if !ok {
		return false
	}
	return l.suppressedLocked(s)
}

func (l *Learner) suppressedLocked(s *Stat) bool {
	return s.Samples >= l.cfg.SuppressMinSamples &&
		s.HelpfulRate() < l.cfg.SuppressHelpfulBelow &&
		s.ActionRate() <= l.cfg.SuppressActionAtMost
}

// Stat returns the raw stat for a pair.
func (l *Learner) Stat(category model.Category, optionType string) (Stat, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.stats[Key{Category: category, OptionType: optionType}]
	if !ok {
		return Stat{}, false
	}
	return *s, true
}

// Summaries returns every stat with derived values, sorted by key.
func (l *Learner) Summaries() []Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Summary, 0, len(l.stats))
	for _, s := range l.stats {
		sum := Summary{
			Stat:          *s,
			HelpfulRate:   s.HelpfulRate(),
			ActionRate:    s.ActionRate(),
			Effectiveness: s.Effectiveness(),
			Trusted:       s.Samples >= l.cfg.MinSamples,
			Suppressed:    l.suppressedLocked(s),
			Multiplier:    NeutralMultiplier,
		}
		if avg, ok := s.AvgRating(); ok {
			sum.AvgRating = &avg
		}
		if sum.Trusted {
			sum.Multiplier = s.RawMultiplier()
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].OptionType < out[j].OptionType
	})
	return out
}

// Reset clears statistics. Empty category resets everything; empty
// optionType resets every option-type of the category.
func (l *Learner) Reset(ctx context.Context, category model.Category, optionType string) error {
	l.mu.Lock()
	for k := range l.stats {
		if category != "" && k.Category != category {
			continue
		}
		if optionType != "" && k.OptionType != optionType {
			continue
		}
		delete(l.stats, k)
	}
	l.mu.Unlock()

	if l.repo == nil {
		return nil
	}
	if err := l.repo.DeleteStats(ctx, category, optionType); err != nil {
		return fmt.Errorf("reset effectiveness stats: %w", err)
	}
	return nil
}

func (l *Learner) statLocked(k Key) *Stat {
	s, ok := l.stats[k]
	if !ok {
		s = &Stat{Key: k}
		l.stats[k] = s
	}
	return s
}

// persist saves the current stat for k. The stat is read again under the
// key's save lock, so whichever save runs last writes the newest counts.
func (l *Learner) persist(ctx context.Context, k Key) {
	if l.repo == nil {
		return
	}
	mu := l.saveLock(k)
	mu.Lock()
	defer mu.Unlock()

	l.mu.RLock()
	cur, ok := l.stats[k]
	var s Stat
	if ok {
		s = *cur
	}
	l.mu.RUnlock()
	if !ok {
		return // reset since the update
	}

	if err := l.repo.SaveStat(ctx, s); err != nil {
		l.cfg.Logger.Warn("failed to persist effectiveness stat",
			"category", s.Category, "option_type", s.OptionType, "error", err)
	}
}

func (l *Learner) saveLock(k Key) *sync.Mutex {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()
	mu, ok := l.saving[k]
	if !ok {
		mu = &sync.Mutex{}
		l.saving[k] = mu
	}
	return mu
}

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
