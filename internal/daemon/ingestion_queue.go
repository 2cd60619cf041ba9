package daemon

import (
	"log/slog"
	"sync"
	"time"

	"github.com/runger/prizm/internal/suggestions/event"
)

// DefaultQueueSize is the ingestion queue capacity when none is configured.
const DefaultQueueSize = 8192

// QueuedEvent is a world-state event waiting to be applied.
type QueuedEvent struct {
	Event    event.Event
	Source   string
	Received time.Time
}

// QueueStats describes an IngestionQueue.
type QueueStats struct {
	Len       int
	Cap       int
	HighWater int // largest Len seen
	Pushed    int64
	Dropped   int64
}

// IngestionQueue is a fixed-size ring between the message bus callback and
// the goroutine applying events. A push into a full ring overwrites the
// oldest event. Crossing three quarters of capacity logs one warning until
// the ring drains below that mark again.
type IngestionQueue struct {
	logger *slog.Logger
	ready  chan struct{}

	mu     sync.Mutex
	ring   []QueuedEvent
	head   int // index of the oldest event
	n      int
	warnAt int
	warned bool
	stats  QueueStats
}

// NewIngestionQueue returns a queue of the given capacity, or
// DefaultQueueSize when size is not positive.
func NewIngestionQueue(size int, logger *slog.Logger) *IngestionQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestionQueue{
		logger: logger,
		ready:  make(chan struct{}, 1),
		ring:   make([]QueuedEvent, size),
		warnAt: max(1, size*3/4),
	}
}

// Push appends ev and reports whether the oldest event was overwritten.
func (q *IngestionQueue) Push(ev QueuedEvent) (dropped bool) {
	q.mu.Lock()
	size := len(q.ring)
	if q.n == size {
		lost := q.ring[q.head]
		q.ring[q.head] = ev
		q.head = (q.head + 1) % size
		q.stats.Dropped++
		dropped = true
		q.logger.Warn("ingestion queue full, dropping oldest event",
			"capacity", size,
			"dropped_total", q.stats.Dropped,
			"event", lost.Event.String(),
		)
	} else {
		q.ring[(q.head+q.n)%size] = ev
		q.n++
	}
	q.stats.Pushed++
	q.stats.HighWater = max(q.stats.HighWater, q.n)

	if q.n >= q.warnAt && !q.warned {
		q.warned = true
		q.logger.Warn("ingestion queue above 75% of capacity", "len", q.n, "capacity", size)
	}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped
}

// Ready receives after a Push. One signal can stand for several pushes, so a
// receiver pops until the queue is empty.
func (q *IngestionQueue) Ready() <-chan struct{} {
	return q.ready
}

// Pop removes up to limit events, oldest first. It returns nil when the queue
// is empty.
func (q *IngestionQueue) Pop(limit int) []QueuedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	k := min(limit, q.n)
	if k <= 0 {
		return nil
	}
	out := make([]QueuedEvent, k)
	for i := range out {
		j := (q.head + i) % len(q.ring)
		out[i] = q.ring[j]
		q.ring[j] = QueuedEvent{}
	}
	q.head = (q.head + k) % len(q.ring)
	q.n -= k
	if q.n < q.warnAt {
		q.warned = false
	}
	return out
}

// Len returns the number of queued events.
func (q *IngestionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Stats returns a snapshot of the queue counters.
func (q *IngestionQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Len, s.Cap = q.n, len(q.ring)
	return s
}
