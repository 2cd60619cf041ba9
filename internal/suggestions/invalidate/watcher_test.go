package invalidate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/runger/prizm/internal/suggestions/event"
	"github.com/runger/prizm/internal/suggestions/model"
	"github.com/runger/prizm/internal/suggestions/score"
	"github.com/runger/prizm/internal/suggestions/suggest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type holders map[string][]string

func (h holders) ResourcesFor(actionID string) []string { return h[actionID] }

func assignment(resources ...string) suggest.ComputeFunc {
	return func(context.Context) (score.Result, error) {
		var res score.Result
		for i, r := range resources {
			res.Ranked = append(res.Ranked, model.RankedOption{
				Rank:   i + 1,
				Option: model.Option{ID: "assign:" + r, Type: "skill-based-assignment", ResourceID: r},
			})
		}
		return res, nil
	}
}

func setup(t *testing.T, h holders) (*suggest.Manager, *Watcher, *event.Bus[event.Event]) {
	t.Helper()
	n := 0
	m := suggest.NewManager(suggest.Config{
		TTL:   time.Hour,
		NewID: func() string { n++; return fmt.Sprintf("s%d", n) },
	})
	w := NewWatcher(m, Config{Holders: h})
	bus := event.NewBus[event.Event](0, nil)
	t.Cleanup(w.Attach(bus))
	return m, w, bus
}

func generate(t *testing.T, m *suggest.Manager, action string, resources ...string) *model.Suggestion {
	t.Helper()
	s, err := m.Generate(context.Background(), model.Key{ActionID: action, Category: model.CategoryAssignment}, assignment(resources...))
	require.NoError(t, err)
	return s
}

func pending(m *suggest.Manager, action string) bool {
	_, ok := m.Pending(model.Key{ActionID: action, Category: model.CategoryAssignment})
	return ok
}

func TestWatcher_ResourceAssignedExpiresReferencingSuggestions(t *testing.T) {
	m, _, bus := setup(t, nil)
	generate(t, m, "task-1", "alice", "bob")
	generate(t, m, "task-2", "carol")

	bus.Publish(context.Background(), event.Event{
		Type: event.TypeResourceAssigned, ResourceID: "bob", ActionID: "task-9", Effort: 4,
	})

	assert.False(t, pending(m, "task-1"))
	assert.True(t, pending(m, "task-2"))
}

func TestWatcher_ActionCompletedExpiresActionAndHolders(t *testing.T) {
	m, _, bus := setup(t, holders{"task-1": {"dave"}})
	generate(t, m, "task-1", "alice")
	generate(t, m, "task-2", "dave")
	generate(t, m, "task-3", "erin")

	bus.Publish(context.Background(), event.Event{Type: event.TypeActionCompleted, ActionID: "task-1"})

	assert.False(t, pending(m, "task-1"), "completed action")
	assert.False(t, pending(m, "task-2"), "holder dave was released")
	assert.True(t, pending(m, "task-3"))
}

func TestWatcher_ExpiredReasonIsEventType(t *testing.T) {
	m, _, bus := setup(t, nil)
	s := generate(t, m, "task-1", "alice")

	bus.Publish(context.Background(), event.Event{Type: event.TypeUtilizationChanged, ResourceID: "alice", Pct: 90})

	got, err := m.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateExpired, got.State)
	assert.Equal(t, "utilization_changed", got.Reason)
}

func TestWatcher_ExcludedResourceAlsoInvalidates(t *testing.T) {
	m, w, _ := setup(t, nil)
	_, err := m.Generate(context.Background(), model.Key{ActionID: "task-1", Category: model.CategoryAssignment},
		func(context.Context) (score.Result, error) {
			return score.Result{Excluded: []model.Exclusion{{OptionID: "assign:bob", ResourceID: "bob", Reason: model.ExcludedOverCeiling}}}, nil
		})
	require.NoError(t, err)

	// bob dropping under the ceiling must make him eligible again
	expired := w.Handle(context.Background(), event.Event{Type: event.TypeUtilizationChanged, ResourceID: "bob", Pct: 40})
	assert.Len(t, expired, 1)
}

func TestWatcher_OnExpiredCallback(t *testing.T) {
	n := 0
	m := suggest.NewManager(suggest.Config{NewID: func() string { n++; return fmt.Sprintf("s%d", n) }})
	var got []string
	w := NewWatcher(m, Config{OnExpired: func(_ context.Context, ev event.Event, expired []*model.Suggestion) {
		for _, s := range expired {
			got = append(got, string(ev.Type)+":"+s.ID)
		}
	}})
	generate(t, m, "task-1", "alice")

	w.Handle(context.Background(), event.Event{Type: event.TypeResourceUnassigned, ResourceID: "alice", ActionID: "task-7"})
	assert.Equal(t, []string{"resource_unassigned:s1"}, got)

	w.Handle(context.Background(), event.Event{Type: event.TypeResourceUnassigned, ResourceID: "alice", ActionID: "task-7"})
	assert.Len(t, got, 1, "nothing left to expire")
}

func TestWatcher_ScopeOf(t *testing.T) {
	w := NewWatcher(nil, Config{Holders: holders{"task-1": {"bob", "alice"}}})

	sc := w.ScopeOf(event.Event{Type: event.TypeResourceAssigned, ResourceID: "carol", ActionID: "task-1"})
	assert.Equal(t, []string{"alice", "bob", "carol"}, sc.Resources)
	assert.Equal(t, []string{"task-1"}, sc.Actions)

	sc = w.ScopeOf(event.Event{Type: event.TypeThresholdCrossed, ResourceID: "carol", Pct: 86})
	assert.Equal(t, []string{"carol"}, sc.Resources)
	assert.Empty(t, sc.Actions)
}

func TestWatcher_UnrelatedEventKeepsSuggestion(t *testing.T) {
	m, _, bus := setup(t, nil)
	generate(t, m, "task-1", "alice")

	bus.Publish(context.Background(), event.Event{Type: event.TypeUtilizationChanged, ResourceID: "zed", Pct: 10})
	assert.True(t, pending(m, "task-1"))
}
