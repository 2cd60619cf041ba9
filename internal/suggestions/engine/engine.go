// Package engine wires the recommendation core together.
//
// Data flows event -> invalidation -> profile update, and on read
// candidates -> scoring -> suggestion lifecycle -> rationale. Feedback
// resolves a suggestion and updates the effectiveness statistics that
// calibrate later rankings.
//
// World-state writes (events, roster and catalog changes, config reloads)
// take the epoch lock exclusively; generation holds it shared from
// computing a ranking until the suggestion is stored. A suggestion is
// therefore never stored from inputs that an already-applied event has
// invalidated.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/runger/prizm/internal/suggestions/catalog"
	"github.com/runger/prizm/internal/suggestions/event"
	"github.com/runger/prizm/internal/suggestions/explain"
	"github.com/runger/prizm/internal/suggestions/feedback"
	"github.com/runger/prizm/internal/suggestions/invalidate"
	"github.com/runger/prizm/internal/suggestions/learning"
	"github.com/runger/prizm/internal/suggestions/metrics"
	"github.com/runger/prizm/internal/suggestions/model"
	"github.com/runger/prizm/internal/suggestions/profile"
	"github.com/runger/prizm/internal/suggestions/score"
	"github.com/runger/prizm/internal/suggestions/suggest"
)

// Expiry reasons for changes that do not arrive as events.
const (
	ReasonProfileUpdated = "profile_updated"
	ReasonRosterChanged  = "roster_changed"
	ReasonActionUpdated  = "action_updated"
	ReasonOptionsUpdated = "options_updated"
	ReasonStatsReset     = "stats_reset"
	ReasonSuppressed     = "suppressed"
)

// ErrInvalid wraps rejected input: malformed events, actions or options.
var ErrInvalid = errors.New("invalid input")

// Config configures an Engine.
type Config struct {
	// DB persists all state. Nil keeps everything in memory.
	DB *sql.DB

	Scoring  score.Config
	Learning learning.Config

	TTL                  time.Duration
	ThresholdPcts        []float64
	DefaultCapacityHours float64

	// Explainer attaches rationales. Nil uses templates only.
	Explainer *explain.Explainer

	Metrics *metrics.Metrics

	// OnTransition observes every suggestion state change.
	OnTransition func(ctx context.Context, t event.Transition)

	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger
}

// Engine is the recommendation core. It is safe for concurrent use.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	epoch sync.RWMutex

	events      *event.Bus[event.Event]
	transitions *event.Bus[event.Transition]

	profiles    *profile.Store
	learner     *learning.Learner
	scorer      *score.Engine
	catalog     *catalog.Catalog
	suggestions *suggest.Manager
	feedback    *feedback.Log
	watcher     *invalidate.Watcher
	explainer   atomic.Pointer[explain.Explainer]
	metrics     *metrics.Metrics

	bgMu       sync.Mutex
	background sync.WaitGroup
	closed     bool
}

// New builds an engine, restores persisted state and expires suggestions
// left pending by a previous process.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Explainer == nil {
		cfg.Explainer = explain.New(explain.Config{Logger: cfg.Logger})
	}

	e := &Engine{
		cfg:         cfg,
		logger:      cfg.Logger,
		events:      event.NewBus[event.Event](0, cfg.Logger),
		transitions: event.NewBus[event.Transition](0, cfg.Logger),
		metrics:     cfg.Metrics,
	}
	e.explainer.Store(cfg.Explainer)

	var (
		profileRepo  profile.Repository
		statRepo     learning.Repository
		catalogRepo  catalog.Repository
		suggestRepo  suggest.Repository
		feedbackRepo feedback.Repository
	)
	if cfg.DB != nil {
		profileRepo = profile.NewSQLStore(cfg.DB)
		statRepo = learning.NewStore(cfg.DB)
		catalogRepo = catalog.NewSQLStore(cfg.DB)
		suggestRepo = suggest.NewSQLStore(cfg.DB)
		feedbackRepo = feedback.NewSQLStore(cfg.DB)
	}

	e.profiles = profile.NewStore(profile.Config{
		Logger:               cfg.Logger,
		Now:                  cfg.Now,
		Repository:           profileRepo,
		DefaultCapacityHours: cfg.DefaultCapacityHours,
		ThresholdPcts:        cfg.ThresholdPcts,
	})

	lcfg := cfg.Learning
	lcfg.Now, lcfg.Logger = cfg.Now, cfg.Logger
	e.learner = learning.NewLearner(lcfg, statRepo)

	scfg := cfg.Scoring
	scfg.Now, scfg.Logger = cfg.Now, cfg.Logger
	scorer, err := score.NewEngine(e.profiles, e.learner, scfg)
	if err != nil {
		return nil, fmt.Errorf("scoring config: %w", err)
	}
	e.scorer = scorer

	e.catalog = catalog.New(e.profiles, catalogRepo, cfg.Logger)
	e.feedback = feedback.NewLog(feedback.Config{
		Repository: feedbackRepo,
		Now:        cfg.Now,
		NewID:      cfg.NewID,
		Logger:     cfg.Logger,
	})
	e.suggestions = suggest.NewManager(suggest.Config{
		TTL:          cfg.TTL,
		Repository:   suggestRepo,
		OnTransition: e.onTransition,
		Annotate:     e.annotate,
		Now:          cfg.Now,
		NewID:        cfg.NewID,
		Logger:       cfg.Logger,
	})
	e.watcher = invalidate.NewWatcher(e.suggestions, invalidate.Config{
		Holders: e.profiles,
		Logger:  cfg.Logger,
	})
	e.watcher.Attach(e.events)

	if err := e.profiles.Load(ctx); err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	if err := e.learner.Load(ctx); err != nil {
		return nil, fmt.Errorf("load effectiveness stats: %w", err)
	}
	if err := e.catalog.Load(ctx); err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if _, err := e.suggestions.Recover(ctx); err != nil {
		return nil, err
	}
	e.publishMultipliers()
	return e, nil
}

// Close waits for background rationale work to finish. Background prose
// generation is not started after Close.
func (e *Engine) Close() {
	e.bgMu.Lock()
	e.closed = true
	e.bgMu.Unlock()
	e.background.Wait()
}

// Events is the bus world-state events are published on, after validation
// and before they are applied to profiles.
func (e *Engine) Events() *event.Bus[event.Event] {
	return e.events
}

// Transitions is the bus suggestion lifecycle changes are published on.
func (e *Engine) Transitions() *event.Bus[event.Transition] {
	return e.transitions
}

// Metrics returns the engine metrics.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

func (e *Engine) onTransition(ctx context.Context, t event.Transition) {
	// Issuance is counted when a suggestion leaves pending, so regenerating
	// a ranking does not itself move the statistics it was computed from.
	if t.To.IsTerminal() && t.To != model.StateSuperseded {
		e.learner.RecordIssued(ctx, t.Category, t.OptionTypes)
		for _, ot := range t.OptionTypes {
			e.metrics.SetMultiplier(t.Category, ot, e.learner.MultiplierFor(t.Category, ot))
		}
	}
	e.metrics.ObserveTransition(t)
	e.transitions.Publish(ctx, t)
	if e.cfg.OnTransition != nil {
		e.cfg.OnTransition(ctx, t)
	}
}

func (e *Engine) annotate(s *model.Suggestion) {
	s.Rationale = explain.Template(s)
	s.RationaleSource = explain.SourceTemplate
	e.metrics.ObserveRationale(explain.SourceTemplate)
}

func (e *Engine) publishMultipliers() {
	e.metrics.ResetMultipliers()
	for _, s := range e.learner.Summaries() {
		e.metrics.SetMultiplier(s.Category, s.OptionType, s.Multiplier)
	}
}

func (e *Engine) refreshPending() {
	e.metrics.SetPending(e.suggestions.PendingCount())
}

// HandleEvent validates a world-state event, invalidates the suggestions it
// affects and then applies it to resource profiles. Threshold crossings the
// event causes are published afterwards as events of their own.
func (e *Engine) HandleEvent(ctx context.Context, ev event.Event) error {
	if err := ev.Validate(); err != nil {
		e.metrics.ObserveEvent(ev.Type, false)
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if ev.Time.IsZero() {
		ev.Time = e.cfg.Now()
	}

	e.epoch.Lock()
	e.events.Publish(ctx, ev)
	res := e.profiles.Apply(ctx, ev)
	if ev.Type == event.TypeActionCompleted {
		e.catalog.Close(ctx, ev.ActionID)
	}
	for _, c := range res.Crossings {
		e.logger.Info("utilization threshold crossed",
			"resource", c.ResourceID, "threshold", c.Threshold, "direction", c.Direction, "pct", c.Pct)
		e.events.Publish(ctx, c)
	}
	e.epoch.Unlock()

	e.metrics.ObserveEvent(ev.Type, true)
	for _, c := range res.Crossings {
		e.metrics.ObserveEvent(c.Type, true)
	}
	e.refreshPending()
	return nil
}

// GetSuggestions returns the valid pending suggestion for key, generating a
// fresh one when there is none.
func (e *Engine) GetSuggestions(ctx context.Context, key model.Key) (*model.Suggestion, error) {
	return e.suggest(ctx, key, false)
}

// Generate always computes a fresh suggestion for key, superseding any
// pending one.
func (e *Engine) Generate(ctx context.Context, key model.Key) (*model.Suggestion, error) {
	return e.suggest(ctx, key, true)
}

func (e *Engine) suggest(ctx context.Context, key model.Key, fresh bool) (*model.Suggestion, error) {
	if !key.Category.IsValid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalid, key.Category)
	}
	if key.ActionID == "" {
		return nil, fmt.Errorf("%w: action id is required", ErrInvalid)
	}
	start := time.Now()

	var (
		s       *model.Suggestion
		created = true
		err     error
	)
	e.epoch.RLock()
	if fresh {
		s, err = e.suggestions.Generate(ctx, key, e.compute(key))
	} else {
		s, created, err = e.suggestions.GetOrGenerate(ctx, key, e.compute(key))
	}
	e.epoch.RUnlock()

	if err != nil {
		e.metrics.ObserveSuggest(key.Category, metrics.ResultError, false, time.Since(start))
		return nil, err
	}
	result := metrics.ResultReused
	if created {
		result = metrics.ResultGenerated
		e.explainAsync(s)
	}
	e.metrics.ObserveSuggest(key.Category, result, len(s.Ranked) == 0, time.Since(start))
	e.refreshPending()
	return s, nil
}

func (e *Engine) compute(key model.Key) suggest.ComputeFunc {
	return func(context.Context) (score.Result, error) {
		target, opts, err := e.catalog.Candidates(key)
		if err != nil {
			return score.Result{}, err
		}
		return e.scorer.Score(score.Request{Category: key.Category, Target: target, Options: opts})
	}
}

// explainAsync asks the text provider for prose in the background. The
// call is abandoned as soon as the suggestion leaves pending.
func (e *Engine) explainAsync(s *model.Suggestion) {
	ex := e.explainer.Load()
	if !ex.HasProvider() || len(s.Ranked) == 0 {
		return
	}

	e.bgMu.Lock()
	if e.closed {
		e.bgMu.Unlock()
		return
	}
	e.background.Add(1)
	e.bgMu.Unlock()

	subj := e.subject(s.ActionID)
	go func() {
		defer e.background.Done()
		ctx, done := e.suggestions.Track(context.Background(), s.ID)
		defer done()

		text, source, err := ex.Prose(ctx, s, subj)
		if err != nil {
			e.logger.Debug("prose rationale unavailable", "suggestion", s.ID, "error", err)
			return
		}
		if e.suggestions.AttachRationale(ctx, s.ID, text, source) {
			e.metrics.ObserveRationale(source)
		}
	}()
}

func (e *Engine) subject(actionID string) explain.Subject {
	a, ok := e.catalog.Action(actionID)
	if !ok {
		return explain.Subject{}
	}
	return explain.Subject{Title: a.Title, RequiredSkills: a.RequiredSkills}
}

// Explain returns a rationale for a stored suggestion, asking the text
// provider synchronously. It falls back to the template on any failure.
func (e *Engine) Explain(ctx context.Context, id string) (string, string, error) {
	s, err := e.suggestions.Get(ctx, id)
	if err != nil {
		return "", "", err
	}
	text, source := e.explainer.Load().Explain(ctx, s, e.subject(s.ActionID))
	e.metrics.ObserveRationale(source)
	return text, source, nil
}

// Get returns a suggestion by id in any state.
func (e *Engine) Get(ctx context.Context, id string) (*model.Suggestion, error) {
	return e.suggestions.Get(ctx, id)
}

// History returns recent suggestions for key, newest first.
func (e *Engine) History(ctx context.Context, key model.Key, limit int) ([]*model.Suggestion, error) {
	return e.suggestions.History(ctx, key, limit)
}

// SubmitFeedback resolves a pending suggestion with a human outcome and
// folds the outcome into the effectiveness statistics. Nothing changes when
// the submission is rejected.
func (e *Engine) SubmitFeedback(ctx context.Context, sub feedback.Submission) (model.FeedbackRecord, error) {
	if err := sub.Validate(); err != nil {
		e.metrics.ObserveInvalidFeedback()
		return model.FeedbackRecord{}, err
	}

	var rec model.FeedbackRecord
	_, err := e.suggestions.Resolve(ctx, sub.SuggestionID, sub.Outcome, func(s *model.Suggestion) error {
		r, err := e.feedback.Build(sub, s)
		if err != nil {
			return err
		}
		if err := e.feedback.Record(ctx, r); err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		e.metrics.ObserveInvalidFeedback()
		if errors.Is(err, suggest.ErrNotPending) {
			if prev, lerr := e.feedback.Lookup(ctx, sub.SuggestionID); lerr == nil && prev != nil {
				return model.FeedbackRecord{}, fmt.Errorf("%w: %s", feedback.ErrAlreadyRecorded, sub.SuggestionID)
			}
		}
		return model.FeedbackRecord{}, err
	}

	e.metrics.ObserveFeedback(rec)
	e.refreshPending()
	if rec.OptionType == "" {
		return rec, nil
	}

	wasSuppressed := e.learner.Suppressed(rec.Category, rec.OptionType)
	if err := e.learner.Ingest(ctx, rec); err != nil {
		e.logger.Warn("failed to ingest feedback", "suggestion", rec.SuggestionID, "error", err)
		return rec, nil
	}
	e.metrics.SetMultiplier(rec.Category, rec.OptionType, e.learner.MultiplierFor(rec.Category, rec.OptionType))

	if !wasSuppressed && e.learner.Suppressed(rec.Category, rec.OptionType) {
		e.logger.Info("option type suppressed", "category", rec.Category, "option_type", rec.OptionType)
		e.epoch.Lock()
		e.suggestions.ExpireWhere(ctx, ReasonSuppressed, func(s *model.Suggestion) bool {
			return s.Category == rec.Category && slices.Contains(s.OptionTypes(), rec.OptionType)
		})
		e.epoch.Unlock()
		e.refreshPending()
	}
	return rec, nil
}

// Feedback returns the feedback recorded for a suggestion, or nil.
func (e *Engine) Feedback(ctx context.Context, suggestionID string) (*model.FeedbackRecord, error) {
	return e.feedback.Lookup(ctx, suggestionID)
}

// RegisterResource creates or updates a resource profile. A new resource
// changes the assignment roster, so every pending assignment suggestion is
// expired; an update expires suggestions that reference the resource.
func (e *Engine) RegisterResource(ctx context.Context, id string, capacityHours float64, skills []string) (profile.Profile, error) {
	if id == "" {
		return profile.Profile{}, fmt.Errorf("%w: resource id is required", ErrInvalid)
	}
	if capacityHours < 0 {
		return profile.Profile{}, fmt.Errorf("%w: capacity_hours must be non-negative, got %v", ErrInvalid, capacityHours)
	}

	e.epoch.Lock()
	_, existed := e.profiles.Get(id)
	p := e.profiles.Upsert(ctx, id, capacityHours, skills)
	if existed {
		e.suggestions.ExpireWhere(ctx, ReasonProfileUpdated, func(s *model.Suggestion) bool {
			return s.ReferencesResource(id)
		})
	} else {
		e.suggestions.ExpireWhere(ctx, ReasonRosterChanged, func(s *model.Suggestion) bool {
			return s.Category == model.CategoryAssignment
		})
	}
	e.epoch.Unlock()

	e.refreshPending()
	return p, nil
}

// Profile returns a resource profile. Unknown resources report ok=false.
func (e *Engine) Profile(id string) (profile.Profile, bool) {
	return e.profiles.Get(id)
}

// Profiles returns every known resource profile.
func (e *Engine) Profiles() []profile.Profile {
	return e.profiles.List()
}

// RegisterAction creates or replaces an action and expires its pending
// suggestions.
func (e *Engine) RegisterAction(ctx context.Context, a catalog.Action) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	e.epoch.Lock()
	defer e.epoch.Unlock()
	if err := e.catalog.PutAction(ctx, a); err != nil {
		return err
	}
	e.suggestions.ExpireWhere(ctx, ReasonActionUpdated, func(s *model.Suggestion) bool {
		return s.ActionID == a.ID
	})
	return nil
}

// Actions returns every registered action.
func (e *Engine) Actions() []catalog.Action {
	return e.catalog.Actions()
}

// RegisterOptions replaces the candidate options of key and expires its
// pending suggestion.
func (e *Engine) RegisterOptions(ctx context.Context, key model.Key, opts []model.Option) error {
	if !key.Category.IsValid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalid, key.Category)
	}
	seen := make(map[string]struct{}, len(opts))
	for _, o := range opts {
		if err := o.Validate(key.Category); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if _, dup := seen[o.ID]; dup {
			return fmt.Errorf("%w: duplicate option id %q", ErrInvalid, o.ID)
		}
		seen[o.ID] = struct{}{}
	}

	e.epoch.Lock()
	defer e.epoch.Unlock()
	if err := e.catalog.PutOptions(ctx, key, opts); err != nil {
		return err
	}
	e.suggestions.ExpireWhere(ctx, ReasonOptionsUpdated, func(s *model.Suggestion) bool {
		return s.Key() == key
	})
	return nil
}

// Stats returns the effectiveness statistics with derived values.
func (e *Engine) Stats() []learning.Summary {
	return e.learner.Summaries()
}

// ResetStats clears effectiveness statistics and expires pending
// suggestions whose confidences were calibrated from them. Empty category
// resets everything.
func (e *Engine) ResetStats(ctx context.Context, category model.Category, optionType string) error {
	if category != "" && !category.IsValid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalid, category)
	}

	// Expire before resetting: expiry counts as an issuance and would
	// otherwise repopulate the cleared statistics.
	e.epoch.Lock()
	e.suggestions.ExpireWhere(ctx, ReasonStatsReset, func(s *model.Suggestion) bool {
		if category != "" && s.Category != category {
			return false
		}
		return optionType == "" || slices.Contains(s.OptionTypes(), optionType)
	})
	err := e.learner.Reset(ctx, category, optionType)
	e.epoch.Unlock()

	e.publishMultipliers()
	e.refreshPending()
	return err
}

// Settings are the parameters that can be replaced while running.
type Settings struct {
	Scoring   score.Config
	Learning  learning.Config
	TTL       time.Duration
	Explainer *explain.Explainer
}

// Reload replaces scoring, learning and rationale settings. Every pending
// suggestion is expired since it was computed under the old settings. On a
// scoring validation error nothing changes.
func (e *Engine) Reload(ctx context.Context, s Settings) error {
	scfg := s.Scoring
	scfg.Now, scfg.Logger = e.cfg.Now, e.logger
	lcfg := s.Learning
	lcfg.Now, lcfg.Logger = e.cfg.Now, e.logger

	e.epoch.Lock()
	defer e.epoch.Unlock()

	if err := e.scorer.SetConfig(scfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	e.learner.SetConfig(lcfg)
	e.suggestions.SetTTL(s.TTL)
	if s.Explainer != nil {
		e.explainer.Store(s.Explainer)
	}
	n := len(e.suggestions.ExpireWhere(ctx, suggest.ReasonConfig, func(*model.Suggestion) bool { return true }))
	e.logger.Info("settings reloaded", "expired", n)

	e.publishMultipliers()
	e.metrics.SetPending(e.suggestions.PendingCount())
	return nil
}

// SweepExpired expires pending suggestions whose TTL elapsed.
func (e *Engine) SweepExpired(ctx context.Context) int {
	n := e.suggestions.SweepExpired(ctx)
	e.refreshPending()
	return n
}
