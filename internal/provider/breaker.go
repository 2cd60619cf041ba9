package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the state of a Breaker.
type BreakerState int

const (
	// BreakerClosed passes calls through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen lets one probe call through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned while the breaker rejects calls.
var ErrBreakerOpen = errors.New("provider circuit open")

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	// Default: 5
	Threshold int

	// Cooldown is how long the breaker stays open before a probe.
	// Default: 30s
	Cooldown time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// Breaker stops calling a failing provider for a cooldown period so a dead
// collaborator does not add its timeout to every request.
type Breaker struct {
	mu sync.Mutex

	threshold int
	cooldown  time.Duration
	now       func() time.Time
	logger    *slog.Logger

	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool

	totalCalls    int64
	totalFailures int64
	totalRejected int64
}

// NewBreaker creates a breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Breaker{
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		now:       cfg.Now,
		logger:    cfg.Logger,
	}
}

// Allow reports whether a call may proceed. Every allowed call must be
// followed by Record.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.totalRejected++
			return false
		}
		b.state = BreakerHalfOpen
		b.probing = true
		b.totalCalls++
		return true
	case BreakerHalfOpen:
		if b.probing {
			b.totalRejected++
			return false
		}
		b.probing = true
	}
	b.totalCalls++
	return true
}

// Record reports the outcome of an allowed call.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != BreakerClosed {
			b.logger.Info("provider circuit closed", "after_failures", b.failures)
		}
		b.state = BreakerClosed
		b.failures = 0
		b.probing = false
		return
	}

	b.totalFailures++
	b.failures++
	b.probing = false
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		if b.state != BreakerOpen {
			b.logger.Warn("provider circuit opened",
				"consecutive_failures", b.failures,
				"cooldown", b.cooldown,
				"error", err,
			)
		}
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// Release ends an allowed call without counting it either way.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerStats holds breaker counters.
type BreakerStats struct {
	State         BreakerState
	Consecutive   int
	TotalCalls    int64
	TotalFailures int64
	TotalRejected int64
}

// Stats returns breaker counters.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:         b.state,
		Consecutive:   b.failures,
		TotalCalls:    b.totalCalls,
		TotalFailures: b.totalFailures,
		TotalRejected: b.totalRejected,
	}
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
}

// Guarded wraps a provider with a breaker.
type Guarded struct {
	Provider
	breaker *Breaker
}

// Guard wraps p so calls are rejected while b is open.
func Guard(p Provider, b *Breaker) *Guarded {
	return &Guarded{Provider: p, breaker: b}
}

// Complete calls the wrapped provider if the breaker allows it. Caller
// cancellation is not counted as a provider failure.
func (g *Guarded) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if !g.breaker.Allow() {
		return nil, fmt.Errorf("%s: %w", g.Name(), ErrBreakerOpen)
	}
	resp, err := g.Provider.Complete(ctx, req)
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		g.breaker.Release()
		return nil, err
	}
	g.breaker.Record(err)
	return resp, err
}

// Breaker returns the guard's breaker.
func (g *Guarded) Breaker() *Breaker {
	return g.breaker
}
