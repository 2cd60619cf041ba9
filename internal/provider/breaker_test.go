package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var errBoom = errors.New("boom")

func TestBreaker_Defaults(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{})
	if b.threshold != 5 {
		t.Errorf("expected default threshold 5, got %d", b.threshold)
	}
	if b.cooldown != 30*time.Second {
		t.Errorf("expected default cooldown 30s, got %v", b.cooldown)
	}
	if b.State() != BreakerClosed {
		t.Errorf("expected initial state closed, got %s", b.State())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: time.Unix(1000, 0)}
	b := NewBreaker(BreakerConfig{Threshold: 3, Cooldown: time.Minute, Now: clk.Now})

	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("call %d rejected while closed", i)
		}
		b.Record(errBoom)
	}
	if b.State() != BreakerOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}
	if b.Allow() {
		t.Error("expected rejection while open")
	}
	if got := b.Stats().TotalRejected; got != 1 {
		t.Errorf("expected 1 rejected call, got %d", got)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Threshold: 2})
	b.Allow()
	b.Record(errBoom)
	b.Allow()
	b.Record(nil)
	b.Allow()
	b.Record(errBoom)

	if b.State() != BreakerClosed {
		t.Errorf("non-consecutive failures must not open the breaker, got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: time.Unix(1000, 0)}
	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Minute, Now: clk.Now})
	b.Allow()
	b.Record(errBoom)

	clk.Advance(time.Minute)
	if !b.Allow() {
		t.Fatal("expected probe after cooldown")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}
	if b.Allow() {
		t.Error("only one probe may run at a time")
	}

	b.Record(errBoom)
	if b.State() != BreakerOpen {
		t.Fatalf("failed probe must reopen, got %s", b.State())
	}

	clk.Advance(time.Minute)
	b.Allow()
	b.Record(nil)
	if b.State() != BreakerClosed {
		t.Errorf("successful probe must close, got %s", b.State())
	}
}

type stubProvider struct {
	name  string
	avail bool
	text  string
	err   error
	calls int
}

func (p *stubProvider) Name() string { return p.name }
func (p *stubProvider) Available() bool { return p.avail }

func (p *stubProvider) Complete(ctx context.Context, _ *CompletionRequest) (*CompletionResponse, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &CompletionResponse{Text: p.text, ProviderName: p.name}, nil
}

func TestGuarded_StopsCallingFailingProvider(t *testing.T) {
	t.Parallel()

	stub := &stubProvider{name: "stub", avail: true, err: errBoom}
	g := Guard(stub, NewBreaker(BreakerConfig{Threshold: 2, Cooldown: time.Hour}))

	for i := 0; i < 5; i++ {
		_, _ = g.Complete(context.Background(), &CompletionRequest{Prompt: "x"})
	}
	if stub.calls != 2 {
		t.Errorf("expected provider called twice before opening, got %d", stub.calls)
	}
	_, err := g.Complete(context.Background(), &CompletionRequest{Prompt: "x"})
	if !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("expected ErrBreakerOpen, got %v", err)
	}
}

func TestGuarded_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()

	stub := &stubProvider{name: "stub", avail: true}
	g := Guard(stub, NewBreaker(BreakerConfig{Threshold: 1}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Complete(ctx, &CompletionRequest{Prompt: "x"}); err == nil {
		t.Fatal("expected error from cancelled call")
	}
	if g.Breaker().State() != BreakerClosed {
		t.Errorf("cancelled call opened the breaker")
	}
}
