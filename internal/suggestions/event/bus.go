package event

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultHistorySize is the number of recent messages a Bus remembers.
const DefaultHistorySize = 256

// Handler receives a published message. Handlers run synchronously on the
// publisher's goroutine, in subscription order.
type Handler[T any] func(ctx context.Context, msg T)

type subscriber[T any] struct {
	id      int
	name    string
	handler Handler[T]
}

// Bus is a synchronous in-process publish/subscribe hub. Publish returns only
// after every subscriber has handled the message, so a publisher can rely on
// side effects (for example suggestion expiry) having happened.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   []subscriber[T]
	nextID int
	logger *slog.Logger

	histMu sync.Mutex
	recent []T
	idx    int
	count  int
}

// NewBus creates a bus that remembers the last historySize messages.
func NewBus[T any](historySize int, logger *slog.Logger) *Bus[T] {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus[T]{
		recent: make([]T, historySize),
		logger: logger,
	}
}

// Subscribe registers h under name and returns a function that removes it.
func (b *Bus[T]) Subscribe(name string, h Handler[T]) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber[T]{id: id, name: name, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers msg to every subscriber. A panicking handler is logged and
// does not prevent delivery to the remaining subscribers.
func (b *Bus[T]) Publish(ctx context.Context, msg T) {
	b.record(msg)

	b.mu.RLock()
	subs := make([]subscriber[T], len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(ctx, s, msg)
	}
}

func (b *Bus[T]) deliver(ctx context.Context, s subscriber[T], msg T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "subscriber", s.name, "panic", r)
		}
	}()
	s.handler(ctx, msg)
}

func (b *Bus[T]) record(msg T) {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	b.recent[b.idx] = msg
	b.idx = (b.idx + 1) % len(b.recent)
	if b.count < len(b.recent) {
		b.count++
	}
}

// Recent returns up to limit of the most recently published messages, oldest
// first. A limit <= 0 returns everything remembered.
func (b *Bus[T]) Recent(limit int) []T {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	n := b.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, 0, n)
	start := (b.idx - n + len(b.recent)) % len(b.recent)
	for i := 0; i < n; i++ {
		out = append(out, b.recent[(start+i)%len(b.recent)])
	}
	return out
}

// Subscribers returns the number of registered handlers.
func (b *Bus[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
