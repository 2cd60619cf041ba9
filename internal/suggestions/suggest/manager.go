// Package suggest manages the lifecycle of suggestions.
//
// At most one suggestion per (action, category) key is pending at any time.
// Every operation on a key (generate, resolve, expire) runs under that key's
// lock, so two pending suggestions for one key can never coexist, while
// operations on different keys proceed in parallel.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runger/prizm/internal/suggestions/event"
	"github.com/runger/prizm/internal/suggestions/model"
	"github.com/runger/prizm/internal/suggestions/score"
)

// Default configuration.
const (
	DefaultTTL          = 24 * time.Hour
	DefaultHistoryLimit = 20
)

// Terminal reasons recorded on suggestions.
const (
	ReasonTTL         = "ttl"
	ReasonSuperseded  = "superseded"
	ReasonRestart     = "restart"
	ReasonConfig      = "config_reload"
	ReasonHumanAccept = "accepted"
	ReasonHumanReject = "rejected"
)

var (
	// ErrNotFound is returned for unknown suggestion ids.
	ErrNotFound = errors.New("suggestion not found")

	// ErrNotPending is returned when resolving a suggestion that already
	// reached a terminal state.
	ErrNotPending = errors.New("suggestion is not pending")
)

// ComputeFunc produces a fresh ranking for a key.
type ComputeFunc func(ctx context.Context) (score.Result, error)

// Repository persists suggestion history.
type Repository interface {
	Insert(ctx context.Context, s *model.Suggestion) error
	Update(ctx context.Context, s *model.Suggestion) error
	// Supersede stores old's terminal state and inserts s atomically.
	Supersede(ctx context.Context, old, s *model.Suggestion) error
	Get(ctx context.Context, id string) (*model.Suggestion, error)
	LoadPending(ctx context.Context) ([]*model.Suggestion, error)
	History(ctx context.Context, key model.Key, limit int) ([]*model.Suggestion, error)
}

// Config configures a Manager.
type Config struct {
	TTL time.Duration

	// HistoryLimit bounds the terminal suggestions kept in memory per key.
	HistoryLimit int

	Repository Repository

	// OnTransition is called for every state change, including creation.
	// It runs under the key lock and must not call back into the Manager.
	OnTransition func(ctx context.Context, t event.Transition)

	// Annotate is called on every new suggestion before it is stored, for
	// example to attach a deterministic rationale.
	Annotate func(s *model.Suggestion)

	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type slot struct {
	mu      sync.Mutex
	pending *model.Suggestion
	history []*model.Suggestion // terminal, newest last
}

// Manager owns suggestion state. It is safe for concurrent use.
type Manager struct {
	cfg Config

	mu    sync.Mutex
	slots map[model.Key]*slot
	byID  map[string]model.Key

	inflightMu sync.Mutex
	inflight   map[string]context.CancelFunc
}

// NewManager creates a suggestion manager.
func NewManager(cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:      cfg,
		slots:    make(map[model.Key]*slot),
		byID:     make(map[string]model.Key),
		inflight: make(map[string]context.CancelFunc),
	}
}

// SetTTL changes the TTL applied to suggestions generated from now on.
func (m *Manager) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	m.cfg.TTL = ttl
	m.mu.Unlock()
}

func (m *Manager) ttl() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.TTL
}

// Recover expires every suggestion left pending by a previous process. The
// world state those rankings were computed from is unknown.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	if m.cfg.Repository == nil {
		return 0, nil
	}
	stale, err := m.cfg.Repository.LoadPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("load pending suggestions: %w", err)
	}
	now := m.cfg.Now()
	for _, s := range stale {
		from := s.State
		markTerminal(s, model.StateExpired, ReasonRestart, now)
		if err := m.cfg.Repository.Update(ctx, s); err != nil {
			return 0, fmt.Errorf("expire stale suggestion %s: %w", s.ID, err)
		}
		m.emit(ctx, s, from)
	}
	if len(stale) > 0 {
		m.cfg.Logger.Info("expired suggestions left pending at shutdown", "count", len(stale))
	}
	return len(stale), nil
}

func (m *Manager) slot(key model.Key) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl, ok := m.slots[key]
	if !ok {
		sl = &slot{}
		m.slots[key] = sl
	}
	return sl
}

// Generate always computes a fresh ranking and supersedes any pending
// suggestion for the key.
func (m *Manager) Generate(ctx context.Context, key model.Key, compute ComputeFunc) (*model.Suggestion, error) {
	sl := m.slot(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return m.generateLocked(ctx, key, sl, compute)
}

// GetOrGenerate returns the valid pending suggestion for the key, or
// generates one. Concurrent callers for the same key wait for the first one
// and receive its result. The bool reports whether a new suggestion was made.
func (m *Manager) GetOrGenerate(ctx context.Context, key model.Key, compute ComputeFunc) (*model.Suggestion, bool, error) {
	sl := m.slot(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if p := sl.pending; p != nil {
		if !p.TTLElapsed(m.cfg.Now()) {
			return p.Clone(), false, nil
		}
		m.terminateLocked(ctx, sl, model.StateExpired, ReasonTTL)
	}
	s, err := m.generateLocked(ctx, key, sl, compute)
	return s, err == nil, err
}

func (m *Manager) generateLocked(ctx context.Context, key model.Key, sl *slot, compute ComputeFunc) (*model.Suggestion, error) {
	res, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	now := m.cfg.Now()
	s := &model.Suggestion{
		ID:        m.cfg.NewID(),
		ActionID:  key.ActionID,
		Category:  key.Category,
		Ranked:    res.Ranked,
		Excluded:  res.Excluded,
		State:     model.StatePending,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl()),
	}
	if s.Ranked == nil {
		s.Ranked = []model.RankedOption{}
	}
	if m.cfg.Annotate != nil {
		m.cfg.Annotate(s)
	}

	if m.cfg.Repository != nil {
		var err error
		if prev := sl.pending; prev != nil {
			old := prev.Clone()
			markTerminal(old, model.StateSuperseded, ReasonSuperseded, now)
			err = m.cfg.Repository.Supersede(ctx, old, s)
		} else {
			err = m.cfg.Repository.Insert(ctx, s)
		}
		if err != nil {
			return nil, fmt.Errorf("store suggestion: %w", err)
		}
	}
	if sl.pending != nil {
		m.retireLocked(ctx, sl, model.StateSuperseded, ReasonSuperseded, now)
	}

	sl.pending = s
	m.mu.Lock()
	m.byID[s.ID] = key
	m.mu.Unlock()

	m.cfg.Logger.Debug("suggestion generated",
		"id", s.ID, "action", key.ActionID, "category", key.Category,
		"ranked", len(s.Ranked), "excluded", len(s.Excluded))
	m.emit(ctx, s, "")
	return s.Clone(), nil
}

// terminateLocked moves the slot's pending suggestion to a terminal state.
// The caller holds sl.mu and has checked sl.pending != nil.
func (m *Manager) terminateLocked(ctx context.Context, sl *slot, to model.State, reason string) *model.Suggestion {
	s := sl.pending
	markTerminal(s, to, reason, m.cfg.Now())
	if m.cfg.Repository != nil {
		if err := m.cfg.Repository.Update(ctx, s); err != nil {
			m.cfg.Logger.Warn("failed to persist suggestion transition",
				"id", s.ID, "state", to, "error", err)
		}
	}
	return m.retireLocked(ctx, sl, to, reason, *s.ResolvedAt)
}

// retireLocked moves the pending suggestion into history without writing it
// to the repository.
func (m *Manager) retireLocked(ctx context.Context, sl *slot, to model.State, reason string, at time.Time) *model.Suggestion {
	s := sl.pending
	sl.pending = nil
	markTerminal(s, to, reason, at)
	m.cancelInflight(s.ID)

	sl.history = append(sl.history, s)
	if over := len(sl.history) - m.cfg.HistoryLimit; over > 0 {
		m.mu.Lock()
		for _, old := range sl.history[:over] {
			delete(m.byID, old.ID)
		}
		m.mu.Unlock()
		sl.history = append([]*model.Suggestion(nil), sl.history[over:]...)
	}

	m.emit(ctx, s, model.StatePending)
	return s
}

func markTerminal(s *model.Suggestion, to model.State, reason string, now time.Time) {
	s.State = to
	s.Reason = reason
	s.ResolvedAt = &now
}

// Resolve records a human outcome on a pending suggestion. onResolve runs
// under the key lock before any state changes; if it fails, nothing is
// mutated. It receives a copy of the suggestion.
func (m *Manager) Resolve(ctx context.Context, id string, outcome model.Outcome,
	onResolve func(s *model.Suggestion) error) (*model.Suggestion, error) {
	if !outcome.IsValid() {
		return nil, fmt.Errorf("invalid outcome %q", outcome)
	}
	key, ok := m.keyOf(id)
	if !ok {
		return nil, m.unknownResolve(ctx, id)
	}

	sl := m.slot(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.pending == nil || sl.pending.ID != id {
		return nil, fmt.Errorf("%w: %s", ErrNotPending, id)
	}
	if sl.pending.TTLElapsed(m.cfg.Now()) {
		m.terminateLocked(ctx, sl, model.StateExpired, ReasonTTL)
		return nil, fmt.Errorf("%w: %s expired", ErrNotPending, id)
	}
	if onResolve != nil {
		if err := onResolve(sl.pending.Clone()); err != nil {
			return nil, err
		}
	}

	reason := ReasonHumanAccept
	if outcome == model.OutcomeRejected {
		reason = ReasonHumanReject
	}
	s := m.terminateLocked(ctx, sl, outcome.State(), reason)
	return s.Clone(), nil
}

// unknownResolve classifies a resolve for an id the manager no longer holds
// in memory. A suggestion that exists in the repository can only be
// terminal, since pending ones are always in memory.
func (m *Manager) unknownResolve(ctx context.Context, id string) error {
	if m.cfg.Repository != nil {
		s, err := m.cfg.Repository.Get(ctx, id)
		if err != nil {
			return err
		}
		if s != nil {
			return fmt.Errorf("%w: %s is %s", ErrNotPending, id, s.State)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Get returns a suggestion by id, checking memory first and then the
// repository.
func (m *Manager) Get(ctx context.Context, id string) (*model.Suggestion, error) {
	if key, ok := m.keyOf(id); ok {
		sl := m.slot(key)
		sl.mu.Lock()
		defer sl.mu.Unlock()
		if sl.pending != nil && sl.pending.ID == id {
			if sl.pending.TTLElapsed(m.cfg.Now()) {
				return m.terminateLocked(ctx, sl, model.StateExpired, ReasonTTL).Clone(), nil
			}
			return sl.pending.Clone(), nil
		}
		for _, h := range sl.history {
			if h.ID == id {
				return h.Clone(), nil
			}
		}
	}
	if m.cfg.Repository != nil {
		s, err := m.cfg.Repository.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if s != nil {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Pending returns the valid pending suggestion for key, if any.
func (m *Manager) Pending(key model.Key) (*model.Suggestion, bool) {
	sl := m.slot(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.pending == nil || sl.pending.TTLElapsed(m.cfg.Now()) {
		return nil, false
	}
	return sl.pending.Clone(), true
}

// History returns up to limit suggestions for key, newest first. The
// repository is consulted when configured.
func (m *Manager) History(ctx context.Context, key model.Key, limit int) ([]*model.Suggestion, error) {
	if limit <= 0 {
		limit = m.cfg.HistoryLimit
	}
	if m.cfg.Repository != nil {
		return m.cfg.Repository.History(ctx, key, limit)
	}

	sl := m.slot(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	var out []*model.Suggestion
	if sl.pending != nil {
		out = append(out, sl.pending.Clone())
	}
	for i := len(sl.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, sl.history[i].Clone())
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ExpireWhere expires every pending suggestion matching pred and returns
// copies of the expired suggestions.
func (m *Manager) ExpireWhere(ctx context.Context, reason string, pred func(s *model.Suggestion) bool) []*model.Suggestion {
	var expired []*model.Suggestion
	for _, key := range m.pendingKeys() {
		sl := m.slot(key)
		sl.mu.Lock()
		if sl.pending != nil && pred(sl.pending) {
			expired = append(expired, m.terminateLocked(ctx, sl, model.StateExpired, reason).Clone())
		}
		sl.mu.Unlock()
	}
	return expired
}

// SweepExpired expires pending suggestions whose TTL has elapsed.
func (m *Manager) SweepExpired(ctx context.Context) int {
	now := m.cfg.Now()
	return len(m.ExpireWhere(ctx, ReasonTTL, func(s *model.Suggestion) bool {
		return s.TTLElapsed(now)
	}))
}

// PendingCount returns the number of keys with a pending suggestion.
func (m *Manager) PendingCount() int {
	return len(m.pendingKeys())
}

func (m *Manager) pendingKeys() []model.Key {
	m.mu.Lock()
	keys := make([]model.Key, 0, len(m.slots))
	slots := make([]*slot, 0, len(m.slots))
	for k, sl := range m.slots {
		keys = append(keys, k)
		slots = append(slots, sl)
	}
	m.mu.Unlock()

	var out []model.Key
	for i, sl := range slots {
		sl.mu.Lock()
		if sl.pending != nil {
			out = append(out, keys[i])
		}
		sl.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (m *Manager) keyOf(id string) (model.Key, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.byID[id]
	return k, ok
}

// AttachRationale sets the rationale of a suggestion if it is still pending.
// It reports whether the rationale was attached.
func (m *Manager) AttachRationale(ctx context.Context, id, text, source string) bool {
	key, ok := m.keyOf(id)
	if !ok {
		return false
	}
	sl := m.slot(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.pending == nil || sl.pending.ID != id {
		return false
	}
	sl.pending.Rationale = text
	sl.pending.RationaleSource = source
	if m.cfg.Repository != nil {
		if err := m.cfg.Repository.Update(ctx, sl.pending); err != nil {
			m.cfg.Logger.Warn("failed to persist rationale", "id", id, "error", err)
		}
	}
	return true
}

// Track returns a context that is cancelled when the suggestion leaves the
// pending state, for work such as prose generation that becomes irrelevant
// once the suggestion is retracted. done must be called when the work ends.
func (m *Manager) Track(ctx context.Context, id string) (context.Context, func()) {
	tctx, cancel := context.WithCancel(ctx)

	m.inflightMu.Lock()
	if prev, ok := m.inflight[id]; ok {
		prev()
	}
	m.inflight[id] = cancel
	m.inflightMu.Unlock()

	if s, ok := m.pendingByID(id); !ok || s == nil {
		cancel()
	}

	return tctx, func() {
		m.inflightMu.Lock()
		delete(m.inflight, id)
		m.inflightMu.Unlock()
		cancel()
	}
}

func (m *Manager) pendingByID(id string) (*model.Suggestion, bool) {
	key, ok := m.keyOf(id)
	if !ok {
		return nil, false
	}
	sl := m.slot(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.pending == nil || sl.pending.ID != id {
		return nil, false
	}
	return sl.pending, true
}

func (m *Manager) cancelInflight(id string) {
	m.inflightMu.Lock()
	cancel, ok := m.inflight[id]
	delete(m.inflight, id)
	m.inflightMu.Unlock()
	if ok {
		cancel()
	}
}

func (m *Manager) emit(ctx context.Context, s *model.Suggestion, from model.State) {
	if m.cfg.OnTransition == nil {
		return
	}
	at := s.CreatedAt
	if s.ResolvedAt != nil {
		at = *s.ResolvedAt
	}
	m.cfg.OnTransition(ctx, event.Transition{
		SuggestionID: s.ID,
		ActionID:     s.ActionID,
		Category:     s.Category,
		From:         from,
		To:           s.State,
		Reason:       s.Reason,
		OptionTypes:  s.OptionTypes(),
		Time:         at,
	})
}
