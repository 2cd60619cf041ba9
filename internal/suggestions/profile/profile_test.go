package profile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runger/prizm/internal/suggestions/db"
	"github.com/runger/prizm/internal/suggestions/event"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, thresholds ...float64) (*Store, *time.Time) {
	t.Helper()
	now := t0
	s := NewStore(Config{
		Now:           func() time.Time { return now },
		ThresholdPcts: thresholds,
	})
	return s, &now
}

func assign(resource, action string, effort float64) event.Event {
	return event.Event{Type: event.TypeResourceAssigned, ResourceID: resource, ActionID: action, Effort: effort}
}

func TestStore_CreatedOnFirstEventNotOnRead(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, ok := s.Get("alice")
	assert.False(t, ok)

	p := s.Lookup("alice")
	assert.False(t, p.Known)
	assert.Equal(t, "alice", p.ResourceID)

	_, ok = s.Get("alice")
	assert.False(t, ok, "Lookup must not create a profile")

	s.Apply(ctx, assign("alice", "t1", 8))
	p, ok = s.Get("alice")
	require.True(t, ok)
	assert.True(t, p.Known)
	assert.Equal(t, 1, p.ActiveItems)
	assert.InDelta(t, 8, p.CommittedHours, 1e-9)
	assert.InDelta(t, 20, p.Utilization, 1e-9)
}

func TestStore_UtilizationRecomputedFromCommittedHours(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.Upsert(ctx, "alice", 40, []string{"go"})
	s.Apply(ctx, assign("alice", "t1", 20))
	s.Apply(ctx, assign("alice", "t2", 16))

	p, _ := s.Get("alice")
	assert.InDelta(t, 90, p.Utilization, 1e-9)

	s.Apply(ctx, event.Event{Type: event.TypeResourceUnassigned, ResourceID: "alice", ActionID: "t1"})
	p, _ = s.Get("alice")
	assert.InDelta(t, 40, p.Utilization, 1e-9)
	assert.Equal(t, 1, p.ActiveItems)

	s.Upsert(ctx, "alice", 20, nil)
	p, _ = s.Get("alice")
	assert.InDelta(t, 80, p.Utilization, 1e-9)
	assert.Equal(t, []string{"go"}, p.Skills)
}

func TestStore_ReassignmentMovesEffort(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.Apply(ctx, assign("alice", "t1", 10))
	res := s.Apply(ctx, assign("bob", "t1", 10))

	assert.Equal(t, []string{"alice", "bob"}, res.Touched)
	a, _ := s.Get("alice")
	b, _ := s.Get("bob")
	assert.Zero(t, a.CommittedHours)
	assert.InDelta(t, 10, b.CommittedHours, 1e-9)
	assert.Equal(t, []string{"bob"}, s.ResourcesFor("t1"))
}

func TestStore_ActionCompletedUpdatesRates(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	yes, no := true, false

	s.Apply(ctx, assign("alice", "t1", 8))
	s.Apply(ctx, assign("alice", "t2", 8))
	res := s.Apply(ctx, event.Event{Type: event.TypeActionCompleted, ActionID: "t1", OnTime: &yes, Rework: &no})
	assert.Equal(t, []string{"alice"}, res.Touched)
	s.Apply(ctx, event.Event{Type: event.TypeActionCompleted, ActionID: "t2", OnTime: &no, Rework: &yes})

	p, _ := s.Get("alice")
	assert.Equal(t, 0, p.ActiveItems)
	assert.Zero(t, p.CommittedHours)
	assert.Equal(t, 2, p.Completed)
	assert.InDelta(t, 0.5, p.OnTimeRate, 1e-9)
	assert.InDelta(t, 0.5, p.ReworkRate, 1e-9)
	assert.InDelta(t, 0.5, p.Throughput, 1e-9) // 2 completions over a 4-week window
	assert.False(t, p.RatesDefaulted)
	assert.Empty(t, s.ResourcesFor("t1"))
}

func TestStore_ThroughputWindowSlides(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	s.Apply(ctx, event.Event{Type: event.TypeActionCompleted, ActionID: "t1", ResourceID: "alice"})
	p, _ := s.Get("alice")
	assert.InDelta(t, 0.25, p.Throughput, 1e-9)

	*now = now.Add(DefaultThroughputWindow + time.Hour)
	p, _ = s.Get("alice")
	assert.Zero(t, p.Throughput)
	assert.Equal(t, 1, p.Completed)
}

func TestStore_UtilizationChangedSetsExternalLoad(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.Apply(ctx, assign("alice", "t1", 10))
	s.Apply(ctx, event.Event{Type: event.TypeUtilizationChanged, ResourceID: "alice", Pct: 75})

	p, _ := s.Get("alice")
	assert.InDelta(t, 75, p.Utilization, 1e-9)

	s.Apply(ctx, assign("alice", "t2", 4))
	p, _ = s.Get("alice")
	assert.InDelta(t, 85, p.Utilization, 1e-9)
}

func TestStore_ThresholdCrossingsBothDirections(t *testing.T) {
	s, _ := newTestStore(t, 85)
	ctx := context.Background()

	res := s.Apply(ctx, assign("alice", "t1", 30))
	assert.Empty(t, res.Crossings)

	res = s.Apply(ctx, assign("alice", "t2", 6))
	require.Len(t, res.Crossings, 1)
	assert.Equal(t, event.TypeThresholdCrossed, res.Crossings[0].Type)
	assert.Equal(t, event.DirectionUp, res.Crossings[0].Direction)
	assert.InDelta(t, 90, res.Crossings[0].Pct, 1e-9)

	res = s.Apply(ctx, event.Event{Type: event.TypeActionCompleted, ActionID: "t2"})
	require.Len(t, res.Crossings, 1)
	assert.Equal(t, event.DirectionDown, res.Crossings[0].Direction)
}

func TestStore_PopulationAverage(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	yes, no := true, false

	p := s.PopulationAverage()
	assert.InDelta(t, DefaultOnTimeRate, p.OnTimeRate, 1e-9)
	assert.InDelta(t, DefaultReworkRate, p.ReworkRate, 1e-9)

	s.Apply(ctx, event.Event{Type: event.TypeActionCompleted, ActionID: "t1", ResourceID: "alice", OnTime: &yes})
	s.Apply(ctx, event.Event{Type: event.TypeActionCompleted, ActionID: "t2", ResourceID: "bob", OnTime: &no})

	p = s.PopulationAverage()
	assert.InDelta(t, 0.5, p.OnTimeRate, 1e-9)

	// carol has no on-time samples, so she inherits the population rate.
	s.Apply(ctx, assign("carol", "t3", 4))
	c, _ := s.Get("carol")
	assert.True(t, c.RatesDefaulted)
	assert.InDelta(t, 0.5, c.OnTimeRate, 1e-9)
}

func TestSQLStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	sqlDB, err := db.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	repo := NewSQLStore(sqlDB)
	now := t0
	s := NewStore(Config{Now: func() time.Time { return now }, Repository: repo})
	yes := true

	s.Upsert(ctx, "alice", 32, []string{"sql", "go"})
	s.Apply(ctx, assign("alice", "t1", 16))
	s.Apply(ctx, event.Event{Type: event.TypeActionCompleted, ActionID: "t0", ResourceID: "alice", OnTime: &yes})

	restored := NewStore(Config{Now: func() time.Time { return now }, Repository: repo})
	require.NoError(t, restored.Load(ctx))

	p, ok := restored.Get("alice")
	require.True(t, ok)
	assert.InDelta(t, 32, p.CapacityHours, 1e-9)
	assert.Equal(t, []string{"go", "sql"}, p.Skills)
	assert.InDelta(t, 50, p.Utilization, 1e-9)
	assert.Equal(t, 1, p.Completed)
	assert.InDelta(t, 1.0, p.OnTimeRate, 1e-9)
	assert.Equal(t, []string{"alice"}, restored.ResourcesFor("t1"))
}
