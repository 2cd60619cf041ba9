package score

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/runger/prizm/internal/suggestions/model"
)

// Profile-derived factors. Any other factor name is read from the option's
// Signals.
const (
	FactorSkillMatch       = "skill_match"
	FactorAvailability     = "availability"
	FactorVelocity         = "velocity"
	FactorReliability      = "reliability"
	FactorQuality          = "quality"
	FactorWorkloadPressure = "workload_pressure"
	FactorReliabilityGap   = "reliability_gap"
)

// ErrInvalidWeights is returned when a weight set is empty, has a negative
// weight, or does not sum to 1.
var ErrInvalidWeights = errors.New("invalid scoring weights")

const weightSumTolerance = 1e-6

// Weights maps factor name to weight for one category.
type Weights map[string]float64

// Validate checks that weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	if len(w) == 0 {
		return fmt.Errorf("%w: no factors", ErrInvalidWeights)
	}
	var sum float64
	for name, v := range w {
		if name == "" {
			return fmt.Errorf("%w: empty factor name", ErrInvalidWeights)
		}
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: %s=%v must be non-negative", ErrInvalidWeights, name, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > weightSumTolerance {
		return fmt.Errorf("%w: weights sum to %.4f, want 1.0", ErrInvalidWeights, sum)
	}
	return nil
}

// Ordered returns factor names by descending weight, then name.
func (w Weights) Ordered() []string {
	names := make([]string, 0, len(w))
	for name := range w {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if w[names[i]] != w[names[j]] {
			return w[names[i]] > w[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

// Clone returns a copy of w.
func (w Weights) Clone() Weights {
	c := make(Weights, len(w))
	for k, v := range w {
		c[k] = v
	}
	return c
}

// DefaultWeights returns the built-in weight set for each category.
func DefaultWeights() map[model.Category]Weights {
	return map[model.Category]Weights{
		model.CategoryAssignment: {
			FactorSkillMatch:   0.30,
			FactorAvailability: 0.25,
			FactorVelocity:     0.20,
			FactorReliability:  0.15,
			FactorQuality:      0.10,
		},
		model.CategoryConflict: {
			"impact":           0.35,
			FactorAvailability: 0.30,
			"feasibility":      0.20,
			"disruption":       0.15,
		},
		model.CategoryCoaching: {
			"severity":             0.40,
			FactorWorkloadPressure: 0.30,
			FactorReliabilityGap:   0.20,
			"timeliness":           0.10,
		},
	}
}

func isProfileFactor(name string) bool {
	switch name {
	case FactorSkillMatch, FactorAvailability, FactorVelocity, FactorReliability,
		FactorQuality, FactorWorkloadPressure, FactorReliabilityGap:
		return true
	}
	return false
}
