// Package event defines the world-state events consumed by the recommendation
// core and the lifecycle transitions it emits. Events arrive from the
// surrounding CRUD system over HTTP or NATS and are fanned out on a Bus.
package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/runger/prizm/internal/suggestions/model"
)

// Type is the kind of world-state change.
type Type string

const (
	TypeResourceAssigned   Type = "resource_assigned"
	TypeResourceUnassigned Type = "resource_unassigned"
	TypeActionCompleted    Type = "action_completed"
	TypeUtilizationChanged Type = "utilization_changed"
	// TypeThresholdCrossed is derived by the profile store when utilization
	// moves across a configured threshold in either direction.
	TypeThresholdCrossed Type = "threshold_crossed"
)

// Direction of a threshold crossing.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// ValidType returns true if s is a recognized event type.
func ValidType(s string) bool {
	switch Type(s) {
	case TypeResourceAssigned, TypeResourceUnassigned, TypeActionCompleted,
		TypeUtilizationChanged, TypeThresholdCrossed:
		return true
	default:
		return false
	}
}

var errMissingResource = errors.New("resource_id is required")

// Event is a world-state change. Fields not meaningful for a type are zero.
type Event struct {
	Type       Type   `json:"type"`
	ResourceID string `json:"resource_id,omitempty"`
	ActionID   string `json:"action_id,omitempty"`

	// Effort is committed hours for resource_assigned.
	Effort float64 `json:"effort,omitempty"`

	// Pct is the new utilization for utilization_changed and threshold_crossed.
	Pct float64 `json:"pct,omitempty"`

	// OnTime and Rework qualify action_completed.
	OnTime *bool `json:"on_time,omitempty"`
	Rework *bool `json:"rework,omitempty"`

	Threshold float64 `json:"threshold,omitempty"`
	Direction string  `json:"direction,omitempty"`

	Time time.Time `json:"ts"`
}

// Validate checks that the fields required by the event type are present.
func (e Event) Validate() error {
	switch e.Type {
	case TypeResourceAssigned:
		if e.ResourceID == "" {
			return errMissingResource
		}
		if e.ActionID == "" {
			return fmt.Errorf("action_id is required")
		}
		if e.Effort < 0 {
			return fmt.Errorf("effort must be non-negative, got %v", e.Effort)
		}
	case TypeResourceUnassigned:
		if e.ResourceID == "" {
			return errMissingResource
		}
		if e.ActionID == "" {
			return fmt.Errorf("action_id is required")
		}
	case TypeActionCompleted:
		if e.ActionID == "" {
			return fmt.Errorf("action_id is required")
		}
	case TypeUtilizationChanged, TypeThresholdCrossed:
		if e.ResourceID == "" {
			return errMissingResource
		}
		if e.Pct < 0 {
			return fmt.Errorf("pct must be non-negative, got %v", e.Pct)
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

func (e Event) String() string {
	switch {
	case e.ResourceID != "" && e.ActionID != "":
		return fmt.Sprintf("%s(resource=%s action=%s)", e.Type, e.ResourceID, e.ActionID)
	case e.ResourceID != "":
		return fmt.Sprintf("%s(resource=%s)", e.Type, e.ResourceID)
	default:
		return fmt.Sprintf("%s(action=%s)", e.Type, e.ActionID)
	}
}

// Transition is emitted whenever a suggestion changes state, including its
// creation as pending.
type Transition struct {
	SuggestionID string         `json:"suggestion_id"`
	ActionID     string         `json:"action_id"`
	Category     model.Category `json:"category"`
	From         model.State    `json:"from,omitempty"`
	To           model.State    `json:"to"`
	Reason       string         `json:"reason,omitempty"`
	// OptionTypes are the distinct option-types the suggestion ranked.
	OptionTypes []string  `json:"option_types,omitempty"`
	Time        time.Time `json:"ts"`
}
