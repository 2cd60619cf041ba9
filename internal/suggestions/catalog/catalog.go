// Package catalog holds the actions recommendations are made for and the
// candidate options registered for each (action, category).
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/runger/prizm/internal/suggestions/model"
	"github.com/runger/prizm/internal/suggestions/profile"
	"github.com/runger/prizm/internal/suggestions/score"
)

// DefaultAssignmentType is the option-type of roster-derived assignment options.
const DefaultAssignmentType = "skill-based-assignment"

// ErrUnknownAction is returned for actions that were never registered.
var ErrUnknownAction = errors.New("unknown action")

// Action is a unit of work suggestions are made for.
type Action struct {
	ID             string     `json:"id"`
	Title          string     `json:"title,omitempty"`
	RequiredSkills []string   `json:"required_skills,omitempty"`
	EffortHours    float64    `json:"effort_hours,omitempty"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	// Eligible restricts roster-derived assignment options to these resources.
	Eligible []string `json:"eligible,omitempty"`
	Closed   bool     `json:"closed,omitempty"`
}

// Validate checks required fields.
func (a Action) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("action id is required")
	}
	if a.EffortHours < 0 {
		return fmt.Errorf("effort_hours must be non-negative, got %v", a.EffortHours)
	}
	return nil
}

// Roster lists resources and current assignments.
type Roster interface {
	List() []profile.Profile
	ResourcesFor(actionID string) []string
}

// Repository persists catalog entries.
type Repository interface {
	LoadCatalog(ctx context.Context) ([]Action, map[model.Key][]model.Option, error)
	SaveAction(ctx context.Context, a Action) error
	SaveOptions(ctx context.Context, key model.Key, opts []model.Option) error
}

// Catalog is safe for concurrent use.
type Catalog struct {
	roster Roster
	repo   Repository
	logger *slog.Logger

	mu      sync.RWMutex
	actions map[string]Action
	options map[model.Key][]model.Option
}

// New creates a catalog. repo may be nil.
func New(roster Roster, repo Repository, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		roster:  roster,
		repo:    repo,
		logger:  logger,
		actions: make(map[string]Action),
		options: make(map[model.Key][]model.Option),
	}
}

// Load restores persisted entries.
func (c *Catalog) Load(ctx context.Context) error {
	if c.repo == nil {
		return nil
	}
	actions, options, err := c.repo.LoadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range actions {
		c.actions[a.ID] = a
	}
	for k, opts := range options {
		c.options[k] = opts
	}
	return nil
}

// PutAction registers or replaces an action. The closed flag is preserved.
func (c *Catalog) PutAction(ctx context.Context, a Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	a.RequiredSkills = slices.Clone(a.RequiredSkills)
	a.Eligible = slices.Clone(a.Eligible)

	c.mu.Lock()
	if prev, ok := c.actions[a.ID]; ok && prev.Closed {
		a.Closed = true
	}
	c.actions[a.ID] = a
	c.mu.Unlock()

	return c.saveAction(ctx, a)
}

// PutOptions replaces the candidate options of (action, category).
func (c *Catalog) PutOptions(ctx context.Context, key model.Key, opts []model.Option) error {
	if !key.Category.IsValid() {
		return fmt.Errorf("invalid category %q", key.Category)
	}
	seen := make(map[string]struct{}, len(opts))
	for _, o := range opts {
		if err := o.Validate(key.Category); err != nil {
			return err
		}
		if _, dup := seen[o.ID]; dup {
			return fmt.Errorf("duplicate option id %q", o.ID)
		}
		seen[o.ID] = struct{}{}
	}

	c.mu.Lock()
	if _, ok := c.actions[key.ActionID]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAction, key.ActionID)
	}
	c.options[key] = slices.Clone(opts)
	c.mu.Unlock()

	if c.repo == nil {
		return nil
	}
	if err := c.repo.SaveOptions(ctx, key, opts); err != nil {
		return fmt.Errorf("save options for %s: %w", key, err)
	}
	return nil
}

// Action returns a registered action.
func (c *Catalog) Action(id string) (Action, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.actions[id]
	return a, ok
}

// Actions returns all registered actions sorted by id.
func (c *Catalog) Actions() []Action {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Action, 0, len(c.actions))
	for _, a := range c.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close marks an action completed. Unknown actions are ignored.
func (c *Catalog) Close(ctx context.Context, id string) {
	c.mu.Lock()
	a, ok := c.actions[id]
	if !ok || a.Closed {
		c.mu.Unlock()
		return
	}
	a.Closed = true
	c.actions[id] = a
	c.mu.Unlock()

	if err := c.saveAction(ctx, a); err != nil {
		c.logger.Warn("failed to persist closed action", "action", id, "error", err)
	}
}

// Candidates returns the scoring target and options for (action, category).
// A closed action has no candidates. Assignment options default to one per
// roster resource not already holding the action.
func (c *Catalog) Candidates(key model.Key) (score.Target, []model.Option, error) {
	c.mu.RLock()
	a, ok := c.actions[key.ActionID]
	registered, hasOptions := c.options[key]
	c.mu.RUnlock()

	if !ok {
		return score.Target{}, nil, fmt.Errorf("%w: %s", ErrUnknownAction, key.ActionID)
	}
	target := score.Target{
		ActionID:       a.ID,
		RequiredSkills: slices.Clone(a.RequiredSkills),
		EffortHours:    a.EffortHours,
	}
	if a.Closed {
		return target, nil, nil
	}
	if hasOptions {
		return target, cloneOptions(registered), nil
	}
	if key.Category == model.CategoryAssignment && c.roster != nil {
		return target, c.rosterOptions(a), nil
	}
	return target, nil, nil
}

func (c *Catalog) rosterOptions(a Action) []model.Option {
	holders := c.roster.ResourcesFor(a.ID)
	from := ""
	if len(holders) > 0 {
		from = holders[0]
	}

	var opts []model.Option
	for _, p := range c.roster.List() {
		if slices.Contains(holders, p.ResourceID) {
			continue
		}
		if len(a.Eligible) > 0 && !slices.Contains(a.Eligible, p.ResourceID) {
			continue
		}
		opt := model.Option{
			ID:         "assign:" + p.ResourceID,
			Type:       DefaultAssignmentType,
			ResourceID: p.ResourceID,
			Detail:     model.Detail{Assignment: &model.AssignmentDetail{FromResourceID: from}},
		}
		opts = append(opts, opt)
	}
	return opts
}

func (c *Catalog) saveAction(ctx context.Context, a Action) error {
	if c.repo == nil {
		return nil
	}
	if err := c.repo.SaveAction(ctx, a); err != nil {
		return fmt.Errorf("save action %s: %w", a.ID, err)
	}
	return nil
}

func cloneOptions(opts []model.Option) []model.Option {
	out := make([]model.Option, len(opts))
	for i, o := range opts {
		o.Resources = slices.Clone(o.Resources)
		o.Actions = slices.Clone(o.Actions)
		if o.Signals != nil {
			sig := make(map[string]float64, len(o.Signals))
			for k, v := range o.Signals {
				sig[k] = v
			}
			o.Signals = sig
		}
		out[i] = o
	}
	return out
}
