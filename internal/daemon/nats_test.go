package daemon

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runger/prizm/internal/suggestions/catalog"
	"github.com/runger/prizm/internal/suggestions/engine"
	"github.com/runger/prizm/internal/suggestions/event"
	"github.com/runger/prizm/internal/suggestions/learning"
	"github.com/runger/prizm/internal/suggestions/model"
	"github.com/runger/prizm/internal/suggestions/score"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{subject: subject, data: data})
	return nil
}

func (p *fakePublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.subject
	}
	return out
}

func (p *fakePublisher) first() published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.msgs[0]
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.New(context.Background(), engine.Config{
		Scoring:  score.DefaultConfig(),
		Learning: learning.DefaultConfig(),
		Logger:   discardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func runBridge(t *testing.T, b *Bridge) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func TestBridge_AppliesEvents(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.RegisterResource(context.Background(), "alice", 40, nil)
	require.NoError(t, err)

	b := NewBridge(nil, nil, e, BridgeConfig{Subject: "prizm.events.>", Logger: discardLogger()})
	runBridge(t, b)

	data, err := json.Marshal(event.Event{
		Type:       event.TypeResourceAssigned,
		ResourceID: "alice",
		ActionID:   "task-1",
		Effort:     10,
	})
	require.NoError(t, err)
	b.Receive(&nats.Msg{Subject: "prizm.events", Data: data})

	require.Eventually(t, func() bool { return b.Stats().Applied == 1 }, 2*time.Second, 10*time.Millisecond)
	p, ok := e.Profile("alice")
	require.True(t, ok)
	assert.InDelta(t, 25.0, p.Utilization, 1e-9)
}

func TestBridge_TypeFromSubject(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.RegisterResource(context.Background(), "alice", 40, nil)
	require.NoError(t, err)

	b := NewBridge(nil, nil, e, BridgeConfig{Logger: discardLogger()})
	runBridge(t, b)

	b.Receive(&nats.Msg{
		Subject: "prizm.events.utilization_changed",
		Data:    []byte(`{"resource_id":"alice","pct":60}`),
	})

	require.Eventually(t, func() bool { return b.Stats().Applied == 1 }, 2*time.Second, 10*time.Millisecond)
	p, _ := e.Profile("alice")
	assert.InDelta(t, 60.0, p.Utilization, 1e-9)
}

func TestBridge_RejectsBadPayloads(t *testing.T) {
	e := newTestEngine(t)
	b := NewBridge(nil, nil, e, BridgeConfig{Logger: discardLogger()})
	runBridge(t, b)

	b.Receive(&nats.Msg{Subject: "prizm.events", Data: []byte("{not json")})
	// No type in payload or subject.
	b.Receive(&nats.Msg{Subject: "prizm.events.unknown", Data: []byte(`{"resource_id":"alice"}`)})

	require.Eventually(t, func() bool { return b.Stats().Rejected == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), b.Stats().Applied)
}

func TestBridge_PublishesTransitions(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	_, err := e.RegisterResource(ctx, "alice", 40, []string{"go"})
	require.NoError(t, err)
	require.NoError(t, e.RegisterAction(ctx, catalog.Action{ID: "task-1", RequiredSkills: []string{"go"}, EffortHours: 4}))

	pub := &fakePublisher{}
	before := e.Transitions().Subscribers()
	b := NewBridge(nil, pub, e, BridgeConfig{NotifySubject: "prizm.suggestions", Logger: discardLogger()})
	runBridge(t, b)
	require.Eventually(t, func() bool { return e.Transitions().Subscribers() > before }, 2*time.Second, 10*time.Millisecond)

	s, err := e.GetSuggestions(ctx, model.Key{ActionID: "task-1", Category: model.CategoryAssignment})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(pub.subjects()) > 0 }, 2*time.Second, 10*time.Millisecond)
	msg := pub.first()
	assert.Equal(t, "prizm.suggestions.pending", msg.subject)

	var tr event.Transition
	require.NoError(t, json.Unmarshal(msg.data, &tr))
	assert.Equal(t, s.ID, tr.SuggestionID)
	assert.Equal(t, model.StatePending, tr.To)
}
