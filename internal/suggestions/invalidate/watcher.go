// Package invalidate expires pending suggestions made stale by world-state
// events.
//
// A suggestion is stale when an event changes an input of its ranking: the
// profile of a resource it names (ranked or excluded), or the action it is
// about or names. Stale suggestions are expired, never patched; the next
// read for the key computes a fresh ranking.
package invalidate

import (
	"context"
	"log/slog"
	"sort"

	"github.com/runger/prizm/internal/suggestions/event"
	"github.com/runger/prizm/internal/suggestions/model"
)

// Suggestions is the subset of the suggestion manager the watcher needs.
type Suggestions interface {
	ExpireWhere(ctx context.Context, reason string, pred func(s *model.Suggestion) bool) []*model.Suggestion
}

// Holders reports the resources currently committed to an action.
type Holders interface {
	ResourcesFor(actionID string) []string
}

// Config configures a Watcher.
type Config struct {
	// Holders resolves the resources whose load changes when an action is
	// completed or reassigned. Events must reach the watcher before they are
	// applied to the holders' source.
	Holders Holders

	// OnExpired is called after each event that expired suggestions.
	OnExpired func(ctx context.Context, ev event.Event, expired []*model.Suggestion)

	Logger *slog.Logger
}

// Watcher applies the invalidation rules to incoming events.
type Watcher struct {
	suggestions Suggestions
	cfg         Config
}

// NewWatcher creates a watcher over the given suggestions.
func NewWatcher(s Suggestions, cfg Config) *Watcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Watcher{suggestions: s, cfg: cfg}
}

// Attach subscribes the watcher to bus and returns the unsubscribe function.
func (w *Watcher) Attach(bus *event.Bus[event.Event]) func() {
	return bus.Subscribe("invalidate", func(ctx context.Context, ev event.Event) {
		w.Handle(ctx, ev)
	})
}

// Scope is the set of entities an event changes.
type Scope struct {
	Resources []string
	Actions   []string
}

// Empty reports whether the scope matches nothing.
func (s Scope) Empty() bool {
	return len(s.Resources) == 0 && len(s.Actions) == 0
}

// Matches reports whether sg depends on anything in the scope.
func (s Scope) Matches(sg *model.Suggestion) bool {
	for _, id := range s.Resources {
		if sg.ReferencesResource(id) {
			return true
		}
	}
	for _, id := range s.Actions {
		if sg.ReferencesAction(id) {
			return true
		}
	}
	return false
}

// ScopeOf returns the entities ev changes.
func (w *Watcher) ScopeOf(ev event.Event) Scope {
	var sc Scope
	resources := map[string]bool{}
	add := func(id string) {
		if id != "" {
			resources[id] = true
		}
	}

	switch ev.Type {
	case event.TypeResourceAssigned, event.TypeResourceUnassigned, event.TypeActionCompleted:
		add(ev.ResourceID)
		if w.cfg.Holders != nil {
			for _, id := range w.cfg.Holders.ResourcesFor(ev.ActionID) {
				add(id)
			}
		}
		if ev.ActionID != "" {
			sc.Actions = []string{ev.ActionID}
		}
	case event.TypeUtilizationChanged, event.TypeThresholdCrossed:
		add(ev.ResourceID)
	}

	for id := range resources {
		sc.Resources = append(sc.Resources, id)
	}
	sort.Strings(sc.Resources)
	return sc
}

// Handle expires every pending suggestion that depends on what ev changes
// and returns the expired suggestions.
func (w *Watcher) Handle(ctx context.Context, ev event.Event) []*model.Suggestion {
	sc := w.ScopeOf(ev)
	if sc.Empty() {
		return nil
	}

	expired := w.suggestions.ExpireWhere(ctx, string(ev.Type), sc.Matches)
	if len(expired) == 0 {
		return nil
	}

	ids := make([]string, len(expired))
	for i, s := range expired {
		ids[i] = s.ID
	}
	w.cfg.Logger.Info("expired stale suggestions",
		"event", ev.String(), "count", len(expired), "suggestions", ids)

	if w.cfg.OnExpired != nil {
		w.cfg.OnExpired(ctx, ev, expired)
	}
	return expired
}
