package daemon

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/runger/prizm/internal/suggestions/event"
)

func completed(id string) QueuedEvent {
	return QueuedEvent{
		Event:    event.Event{Type: event.TypeActionCompleted, ActionID: id},
		Source:   "test",
		Received: time.Now(),
	}
}

func actionIDs(batch []QueuedEvent) string {
	ids := make([]string, len(batch))
	for i, q := range batch {
		ids[i] = q.Event.ActionID
	}
	return strings.Join(ids, ",")
}

func TestIngestionQueue_Defaults(t *testing.T) {
	t.Parallel()

	q := NewIngestionQueue(0, nil)
	if s := q.Stats(); s.Cap != DefaultQueueSize || s.Len != 0 {
		t.Errorf("Stats() = %+v, want empty queue of %d", s, DefaultQueueSize)
	}
}

func TestIngestionQueue_FIFO(t *testing.T) {
	t.Parallel()

	q := NewIngestionQueue(4, nil)
	for _, id := range []string{"t1", "t2", "t3"} {
		if q.Push(completed(id)) {
			t.Errorf("Push(%s) dropped with room left", id)
		}
	}
	if got := actionIDs(q.Pop(2)); got != "t1,t2" {
		t.Errorf("Pop(2) = %s, want t1,t2", got)
	}

	// Wrap around the end of the ring.
	q.Push(completed("t4"))
	q.Push(completed("t5"))
	q.Push(completed("t6"))
	if got := actionIDs(q.Pop(10)); got != "t3,t4,t5,t6" {
		t.Errorf("Pop(10) = %s, want t3,t4,t5,t6", got)
	}
	if batch := q.Pop(1); batch != nil {
		t.Errorf("Pop on empty queue = %v, want nil", batch)
	}
}

func TestIngestionQueue_OverwritesOldest(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	q := NewIngestionQueue(3, slog.New(slog.NewTextHandler(&buf, nil)))

	for _, id := range []string{"t1", "t2", "t3"} {
		q.Push(completed(id))
	}
	if !q.Push(completed("t4")) {
		t.Error("Push into a full queue should report a drop")
	}
	if got := actionIDs(q.Pop(10)); got != "t2,t3,t4" {
		t.Errorf("Pop = %s, want t2,t3,t4", got)
	}
	if !strings.Contains(buf.String(), "dropping oldest event") {
		t.Errorf("missing drop warning in %q", buf.String())
	}

	s := q.Stats()
	if s.Dropped != 1 || s.Pushed != 4 || s.HighWater != 3 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestIngestionQueue_ThresholdWarning(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	q := NewIngestionQueue(4, slog.New(slog.NewTextHandler(&buf, nil)))

	q.Push(completed("t1"))
	q.Push(completed("t2"))
	if strings.Contains(buf.String(), "75%") {
		t.Fatal("warned below the threshold")
	}
	q.Push(completed("t3"))
	q.Push(completed("t4"))
	if n := strings.Count(buf.String(), "75%"); n != 1 {
		t.Errorf("got %d threshold warnings, want 1", n)
	}

	q.Pop(3)
	q.Push(completed("t5"))
	q.Push(completed("t6"))
	if n := strings.Count(buf.String(), "75%"); n != 2 {
		t.Errorf("got %d threshold warnings after draining, want 2", n)
	}
}

func TestIngestionQueue_ReadyCoalesces(t *testing.T) {
	t.Parallel()

	q := NewIngestionQueue(10, nil)
	select {
	case <-q.Ready():
		t.Fatal("ready before any push")
	default:
	}

	q.Push(completed("t1"))
	q.Push(completed("t2"))
	select {
	case <-q.Ready():
	case <-time.After(time.Second):
		t.Fatal("no ready signal")
	}
	if n := len(q.Pop(10)); n != 2 {
		t.Errorf("popped %d events after one signal, want 2", n)
	}
}

func TestIngestionQueue_Concurrent(t *testing.T) {
	t.Parallel()

	q := NewIngestionQueue(1000, nil)
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				q.Push(completed("t"))
			}
		}()
	}
	wg.Wait()

	if s := q.Stats(); s.Len != 500 || s.Dropped != 0 {
		t.Errorf("Stats() = %+v, want 500 queued and none dropped", s)
	}
}
