// Package model defines the shared types of the recommendation core.
//
// A Suggestion is the ranked answer for one (action, category) pair. It moves
// through a small lifecycle:
//
//	pending -> accepted    (human accepts)
//	pending -> rejected    (human rejects)
//	pending -> expired     (TTL elapsed or a world-state event invalidated it)
//	pending -> superseded  (a fresher suggestion was generated for the same key)
//
// Every state except pending is terminal.
package model

import (
	"fmt"
	"slices"
	"time"
)

// Category is the domain a suggestion belongs to.
type Category string

const (
	CategoryAssignment Category = "assignment"
	CategoryConflict   Category = "conflict-resolution"
	CategoryCoaching   Category = "coaching"
)

// Categories returns every known category in a stable order.
func Categories() []Category {
	return []Category{CategoryAssignment, CategoryConflict, CategoryCoaching}
}

// IsValid returns true if c is a recognized category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryAssignment, CategoryConflict, CategoryCoaching:
		return true
	}
	return false
}

// ParseCategory converts s into a Category. The short alias "conflict" is
// accepted for conflict-resolution.
func ParseCategory(s string) (Category, error) {
	if s == "conflict" {
		return CategoryConflict, nil
	}
	c := Category(s)
	if !c.IsValid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// State is the lifecycle state of a suggestion.
type State string

const (
	StatePending    State = "pending"
	StateAccepted   State = "accepted"
	StateRejected   State = "rejected"
	StateExpired    State = "expired"
	StateSuperseded State = "superseded"
)

// IsValid returns true if s is a recognized state.
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateAccepted, StateRejected, StateExpired, StateSuperseded:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s.
func (s State) IsTerminal() bool {
	return s != StatePending
}

// Outcome is the human decision on a suggestion.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// IsValid returns true if o is a recognized outcome.
func (o Outcome) IsValid() bool {
	return o == OutcomeAccepted || o == OutcomeRejected
}

// State returns the terminal state an outcome resolves a suggestion into.
func (o Outcome) State() State {
	if o == OutcomeAccepted {
		return StateAccepted
	}
	return StateRejected
}

// Key identifies the (action, category) slot that holds at most one pending
// suggestion.
type Key struct {
	ActionID string   `json:"action_id"`
	Category Category `json:"category"`
}

func (k Key) String() string {
	return k.ActionID + "/" + string(k.Category)
}

// AssignmentDetail describes an assignment option. FromResourceID is set when
// the option moves the action away from a current assignee.
type AssignmentDetail struct {
	FromResourceID string `json:"from_resource_id,omitempty"`
}

// ConflictDetail describes a conflict-resolution option.
type ConflictDetail struct {
	Kind      string `json:"kind"` // resource, schedule, dependency
	Strategy  string `json:"strategy"`
	ShiftDays int    `json:"shift_days,omitempty"`
}

// CoachingDetail describes a coaching nudge.
type CoachingDetail struct {
	Topic    string `json:"topic"`
	Audience string `json:"audience,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// Detail is the per-category payload of an Option. Exactly one field is set,
// and it must match the category the option is offered under.
type Detail struct {
	Assignment *AssignmentDetail `json:"assignment,omitempty"`
	Conflict   *ConflictDetail   `json:"conflict,omitempty"`
	Coaching   *CoachingDetail   `json:"coaching,omitempty"`
}

// Category returns the category of the populated variant, or "" when the
// detail is empty or ambiguous.
func (d Detail) Category() Category {
	var c Category
	n := 0
	if d.Assignment != nil {
		c = CategoryAssignment
		n++
	}
	if d.Conflict != nil {
		c = CategoryConflict
		n++
	}
	if d.Coaching != nil {
		c = CategoryCoaching
		n++
	}
	if n != 1 {
		return ""
	}
	return c
}

// Option is one candidate resolution for an action.
type Option struct {
	ID string `json:"id"`
	// Type is the option-type used to key effectiveness statistics,
	// e.g. "skill-based-assignment" or "reassign-to-specialist".
	Type string `json:"type"`
	// ResourceID is the resource that would take on work if the option is
	// chosen. It is subject to the utilization ceiling.
	ResourceID string `json:"resource_id,omitempty"`
	// Resources and Actions are other world-state entities the option
	// references; events touching them invalidate the suggestion.
	Resources []string `json:"resources,omitempty"`
	Actions   []string `json:"actions,omitempty"`
	// Signals holds pre-normalized [0,1] inputs for factors that are not
	// derived from resource profiles.
	Signals map[string]float64 `json:"signals,omitempty"`
	Detail  Detail             `json:"detail"`
}

// Validate checks the option against the category it is offered under.
func (o Option) Validate(c Category) error {
	if o.ID == "" {
		return fmt.Errorf("option id is required")
	}
	if o.Type == "" {
		return fmt.Errorf("option %s: type is required", o.ID)
	}
	if got := o.Detail.Category(); got != "" && got != c {
		return fmt.Errorf("option %s: %s detail offered under %s", o.ID, got, c)
	}
	if c == CategoryAssignment && o.ResourceID == "" {
		return fmt.Errorf("option %s: assignment options need a resource", o.ID)
	}
	for name, v := range o.Signals {
		if v < 0 || v > 1 {
			return fmt.Errorf("option %s: signal %s=%v outside [0,1]", o.ID, name, v)
		}
	}
	return nil
}

// ReferencesResource reports whether the option names resource id.
func (o Option) ReferencesResource(id string) bool {
	if id == "" {
		return false
	}
	if o.ResourceID == id {
		return true
	}
	if o.Detail.Assignment != nil && o.Detail.Assignment.FromResourceID == id {
		return true
	}
	return slices.Contains(o.Resources, id)
}

// ReferencesAction reports whether the option names action id.
func (o Option) ReferencesAction(id string) bool {
	return id != "" && slices.Contains(o.Actions, id)
}

// Factor is one weighted term of an option's score.
type Factor struct {
	Name         string  `json:"name"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	// Percent is this factor's share of the total score, 0-100.
	Percent float64 `json:"percent"`
	// Defaulted is set when Value came from a fallback instead of data.
	Defaulted bool `json:"defaulted,omitempty"`
}

// RankedOption is an option with its score and breakdown.
type RankedOption struct {
	Rank       int      `json:"rank"`
	Option     Option   `json:"option"`
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Factors    []Factor `json:"factors"`
}

// Exclusion reasons.
const (
	ExcludedOverCeiling = "utilization_ceiling"
	ExcludedSuppressed  = "suppressed"
)

// Exclusion records an option removed from ranking by a hard constraint.
type Exclusion struct {
	OptionID   string `json:"option_id"`
	OptionType string `json:"option_type"`
	ResourceID string `json:"resource_id,omitempty"`
	Reason     string `json:"reason"`
}

// Suggestion is a ranked recommendation for one action in one category.
type Suggestion struct {
	ID         string         `json:"id"`
	ActionID   string         `json:"action_id"`
	Category   Category       `json:"category"`
	Ranked     []RankedOption `json:"ranked"`
	Excluded   []Exclusion    `json:"excluded,omitempty"`
	State      State          `json:"state"`
	Reason     string         `json:"reason,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
	Rationale  string         `json:"rationale,omitempty"`
	// RationaleSource is "template" or the name of the text provider.
	RationaleSource string `json:"rationale_source,omitempty"`
}

// Key returns the (action, category) slot of s.
func (s *Suggestion) Key() Key {
	return Key{ActionID: s.ActionID, Category: s.Category}
}

// TTLElapsed reports whether a pending suggestion has outlived its TTL at now.
func (s *Suggestion) TTLElapsed(now time.Time) bool {
	return s.State == StatePending && !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Top returns the first ranked option, if any.
func (s *Suggestion) Top() (RankedOption, bool) {
	if len(s.Ranked) == 0 {
		return RankedOption{}, false
	}
	return s.Ranked[0], true
}

// Option returns the ranked option with the given id.
func (s *Suggestion) Option(id string) (RankedOption, bool) {
	for _, r := range s.Ranked {
		if r.Option.ID == id {
			return r, true
		}
	}
	return RankedOption{}, false
}

// OptionTypes returns the distinct option-types of the ranking, in rank order.
func (s *Suggestion) OptionTypes() []string {
	var types []string
	for _, r := range s.Ranked {
		if !slices.Contains(types, r.Option.Type) {
			types = append(types, r.Option.Type)
		}
	}
	return types
}

// ReferencesResource reports whether any ranked or excluded option names id.
func (s *Suggestion) ReferencesResource(id string) bool {
	for _, r := range s.Ranked {
		if r.Option.ReferencesResource(id) {
			return true
		}
	}
	for _, e := range s.Excluded {
		if e.ResourceID == id {
			return true
		}
	}
	return false
}

// ReferencesAction reports whether s is about action id or any ranked option
// names it.
func (s *Suggestion) ReferencesAction(id string) bool {
	if s.ActionID == id {
		return true
	}
	for _, r := range s.Ranked {
		if r.Option.ReferencesAction(id) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to callers.
func (s *Suggestion) Clone() *Suggestion {
	if s == nil {
		return nil
	}
	c := *s
	c.Ranked = make([]RankedOption, len(s.Ranked))
	for i, r := range s.Ranked {
		r.Factors = slices.Clone(r.Factors)
		r.Option = r.Option.clone()
		c.Ranked[i] = r
	}
	c.Excluded = slices.Clone(s.Excluded)
	if s.ResolvedAt != nil {
		t := *s.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

func (o Option) clone() Option {
	o.Resources = slices.Clone(o.Resources)
	o.Actions = slices.Clone(o.Actions)
	if o.Signals != nil {
		sig := make(map[string]float64, len(o.Signals))
		for k, v := range o.Signals {
			sig[k] = v
		}
		o.Signals = sig
	}
	return o
}

// FeedbackRecord is the immutable human outcome of a suggestion.
type FeedbackRecord struct {
	ID           string    `json:"id"`
	SuggestionID string    `json:"suggestion_id"`
	ActionID     string    `json:"action_id"`
	Category     Category  `json:"category"`
	OptionID     string    `json:"option_id,omitempty"`
	OptionType   string    `json:"option_type,omitempty"`
	Outcome      Outcome   `json:"outcome"`
	Rating       *int      `json:"rating,omitempty"`
	Note         string    `json:"note,omitempty"`
	ActedOn      *bool     `json:"acted_on,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Helpful reports whether the record counts as helpful: accepted, and not
// rated below 3.
func (r FeedbackRecord) Helpful() bool {
	if r.Outcome != OutcomeAccepted {
		return false
	}
	return r.Rating == nil || *r.Rating >= 3
}

// WasActedOn reports whether the human acted on the suggestion. An explicit
// ActedOn wins; otherwise acceptance implies action.
func (r FeedbackRecord) WasActedOn() bool {
	if r.ActedOn != nil {
		return *r.ActedOn
	}
	return r.Outcome == OutcomeAccepted
}
