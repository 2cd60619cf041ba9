// Package score ranks candidate options for an action.
//
// Each option's score is the weighted sum of factors normalized to [0,1].
// Options whose resource is above the utilization ceiling, and option-types
// the learner has suppressed, are excluded outright rather than down-weighted.
// Confidence is derived from the amount and recency of supporting data, then
// scaled by the learner's multiplier for the (category, option-type) pair.
package score

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/runger/prizm/internal/suggestions/model"
	"github.com/runger/prizm/internal/suggestions/profile"
)

// Default configuration values.
const (
	DefaultUtilizationCeiling    = 85.0
	DefaultVelocityReference     = 5.0
	DefaultConfidenceFloor       = 0.3
	DefaultMissingProfilePenalty = 0.25
	DefaultMissingSignalPenalty  = 0.1
	DefaultDataVolumeReference   = 10
	DefaultRecencyHalfLife       = 14 * 24 * time.Hour
	DefaultSkillMatch            = 0.5
	neutralSignal                = 0.5
)

// Profiles supplies resource profiles. Lookup must return a population
// stand-in with Known=false for unknown resources.
type Profiles interface {
	Lookup(id string) profile.Profile
}

// Calibrator supplies feedback-derived adjustments.
type Calibrator interface {
	MultiplierFor(category model.Category, optionType string) float64
	Suppressed(category model.Category, optionType string) bool
}

// Config configures an Engine.
type Config struct {
	Weights map[model.Category]Weights

	// UtilizationCeiling is the percent above which a resource is excluded.
	UtilizationCeiling float64

	// VelocityReference is the throughput (items/week) that maps to a
	// velocity factor of 0.5.
	VelocityReference float64

	ConfidenceFloor       float64
	MissingProfilePenalty float64
	MissingSignalPenalty  float64

	// DataVolumeReference is the completion count at which history is
	// considered complete for confidence purposes.
	DataVolumeReference int
	RecencyHalfLife     time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// DefaultConfig returns the default scoring configuration.
func DefaultConfig() Config {
	return Config{
		Weights:               DefaultWeights(),
		UtilizationCeiling:    DefaultUtilizationCeiling,
		VelocityReference:     DefaultVelocityReference,
		ConfidenceFloor:       DefaultConfidenceFloor,
		MissingProfilePenalty: DefaultMissingProfilePenalty,
		MissingSignalPenalty:  DefaultMissingSignalPenalty,
		DataVolumeReference:   DefaultDataVolumeReference,
		RecencyHalfLife:       DefaultRecencyHalfLife,
	}
}

// Validate checks every category's weights and the numeric bounds.
func (c Config) Validate() error {
	for _, cat := range model.Categories() {
		w, ok := c.Weights[cat]
		if !ok {
			return fmt.Errorf("%w: no weights for %s", ErrInvalidWeights, cat)
		}
		if err := w.Validate(); err != nil {
			return fmt.Errorf("%s: %w", cat, err)
		}
	}
	if c.UtilizationCeiling <= 0 {
		return fmt.Errorf("utilization ceiling must be positive, got %v", c.UtilizationCeiling)
	}
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence floor must be in [0,1], got %v", c.ConfidenceFloor)
	}
	return nil
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Weights == nil {
		c.Weights = d.Weights
	}
	if c.UtilizationCeiling <= 0 {
		c.UtilizationCeiling = d.UtilizationCeiling
	}
	if c.VelocityReference <= 0 {
		c.VelocityReference = d.VelocityReference
	}
	if c.DataVolumeReference <= 0 {
		c.DataVolumeReference = d.DataVolumeReference
	}
	if c.RecencyHalfLife <= 0 {
		c.RecencyHalfLife = d.RecencyHalfLife
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Target is the action being decided.
type Target struct {
	ActionID       string
	RequiredSkills []string
	EffortHours    float64
}

// Request asks for a ranking of options for one action.
type Request struct {
	Category model.Category
	Target   Target
	Options  []model.Option
}

// Result is a ranking plus the options removed by hard constraints.
type Result struct {
	Ranked   []model.RankedOption
	Excluded []model.Exclusion
}

// Engine scores options. It holds no per-request state and is safe for
// concurrent use.
type Engine struct {
	profiles   Profiles
	calibrator Calibrator

	mu  sync.RWMutex
	cfg Config
}

// NewEngine creates a scoring engine. calibrator may be nil, in which case
// every multiplier is neutral and nothing is suppressed.
func NewEngine(profiles Profiles, calibrator Calibrator, cfg Config) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{profiles: profiles, calibrator: calibrator, cfg: cfg}, nil
}

// SetConfig swaps the configuration after validating it.
func (e *Engine) SetConfig(cfg Config) error {
	e.mu.RLock()
	if cfg.Now == nil {
		cfg.Now = e.cfg.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = e.cfg.Logger
	}
	e.mu.RUnlock()

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	return nil
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Score ranks req.Options. It never fails because of missing profile data;
// an error means the request itself is malformed.
func (e *Engine) Score(req Request) (Result, error) {
	cfg := e.Config()

	weights, ok := cfg.Weights[req.Category]
	if !ok {
		return Result{}, fmt.Errorf("no weights configured for category %q", req.Category)
	}
	order := weights.Ordered()
	now := cfg.Now()

	var res Result
	seen := make(map[string]struct{}, len(req.Options))
	for _, opt := range req.Options {
		if err := opt.Validate(req.Category); err != nil {
			return Result{}, err
		}
		if _, dup := seen[opt.ID]; dup {
			return Result{}, fmt.Errorf("duplicate option id %q", opt.ID)
		}
		seen[opt.ID] = struct{}{}

		if e.calibrator != nil && e.calibrator.Suppressed(req.Category, opt.Type) {
			res.Excluded = append(res.Excluded, model.Exclusion{
				OptionID: opt.ID, OptionType: opt.Type, ResourceID: opt.ResourceID,
				Reason: model.ExcludedSuppressed,
			})
			continue
		}

		var prof *profile.Profile
		if opt.ResourceID != "" {
			p := e.profiles.Lookup(opt.ResourceID)
			if p.Known && p.Utilization > cfg.UtilizationCeiling {
				res.Excluded = append(res.Excluded, model.Exclusion{
					OptionID: opt.ID, OptionType: opt.Type, ResourceID: opt.ResourceID,
					Reason: model.ExcludedOverCeiling,
				})
				cfg.Logger.Debug("option over utilization ceiling",
					"action", req.Target.ActionID, "option", opt.ID,
					"resource", opt.ResourceID, "utilization", p.Utilization)
				continue
			}
			prof = &p
		}

		res.Ranked = append(res.Ranked, e.rank(cfg, req, opt, prof, order, weights, now))
	}

	sortRanked(res.Ranked, order)
	for i := range res.Ranked {
		res.Ranked[i].Rank = i + 1
	}
	return res, nil
}

func (e *Engine) rank(cfg Config, req Request, opt model.Option, prof *profile.Profile,
	order []string, weights Weights, now time.Time) model.RankedOption {
	factors := make([]model.Factor, 0, len(order))
	var total float64
	defaulted := 0
	for _, name := range order {
		v, isDefault := factorValue(cfg, name, req.Target, opt, prof)
		v = clamp(v, 0, 1)
		f := model.Factor{
			Name:         name,
			Value:        v,
			Weight:       weights[name],
			Contribution: v * weights[name],
			Defaulted:    isDefault,
		}
		if isDefault {
			defaulted++
		}
		total += f.Contribution
		factors = append(factors, f)
	}
	total = clamp(total, 0, 1)
	for i := range factors {
		if total > 0 {
			factors[i].Percent = factors[i].Contribution / total * 100
		}
	}

	conf := baseConfidence(cfg, prof, now) * dataPenalty(cfg, prof, defaulted)
	if e.calibrator != nil {
		conf *= e.calibrator.MultiplierFor(req.Category, opt.Type)
	}

	return model.RankedOption{
		Option:     opt,
		Score:      total,
		Confidence: clamp(conf, 0, 1),
		Factors:    factors,
	}
}

// baseConfidence is floor + (1-floor) * volume * recency. Options not backed
// by a resource rely on their signals only and get full data credit.
func baseConfidence(cfg Config, prof *profile.Profile, now time.Time) float64 {
	if prof == nil {
		return 1
	}
	if !prof.Known {
		return cfg.ConfidenceFloor
	}
	volume := math.Min(1, float64(prof.Completed)/float64(cfg.DataVolumeReference))
	recency := 1.0
	if !prof.LastActivity.IsZero() {
		age := now.Sub(prof.LastActivity)
		if age > 0 {
			recency = math.Exp2(-float64(age) / float64(cfg.RecencyHalfLife))
		}
	}
	return cfg.ConfidenceFloor + (1-cfg.ConfidenceFloor)*volume*recency
}

// dataPenalty is the factor applied to base confidence for missing data. An
// unknown profile is penalized once as a whole; otherwise each defaulted
// factor compounds MissingSignalPenalty.
func dataPenalty(cfg Config, prof *profile.Profile, defaulted int) float64 {
	if prof != nil && !prof.Known {
		return clamp(1-cfg.MissingProfilePenalty, 0, 1)
	}
	return math.Pow(clamp(1-cfg.MissingSignalPenalty, 0, 1), float64(defaulted))
}

// factorValue returns the raw value of a factor and whether it came from a
// fallback.
func factorValue(cfg Config, name string, target Target, opt model.Option, prof *profile.Profile) (float64, bool) {
	if !isProfileFactor(name) || prof == nil {
		if v, ok := opt.Signals[name]; ok {
			return v, false
		}
		return neutralSignal, true
	}

	p := *prof
	switch name {
	case FactorSkillMatch:
		if len(target.RequiredSkills) == 0 {
			return 1, false
		}
		if !p.Known {
			return DefaultSkillMatch, true
		}
		matched := 0
		for _, s := range target.RequiredSkills {
			if p.HasSkill(s) {
				matched++
			}
		}
		return float64(matched) / float64(len(target.RequiredSkills)), false
	case FactorAvailability:
		projected := p.Utilization
		if p.CapacityHours > 0 {
			projected += target.EffortHours / p.CapacityHours * 100
		}
		return 1 - projected/100, !p.Known
	case FactorVelocity:
		return p.Throughput / (p.Throughput + cfg.VelocityReference), !p.Known
	case FactorReliability:
		return p.OnTimeRate, !p.Known || p.RatesDefaulted
	case FactorQuality:
		return 1 - p.ReworkRate, !p.Known || p.RatesDefaulted
	case FactorWorkloadPressure:
		return p.Utilization / cfg.UtilizationCeiling, !p.Known
	case FactorReliabilityGap:
		return 1 - p.OnTimeRate, !p.Known || p.RatesDefaulted
	}
	return neutralSignal, true
}

// sortRanked orders by score, then by each factor in descending weight order
// starting from the second-highest, then by the highest-weight factor, then
// by option id.
func sortRanked(ranked []model.RankedOption, order []string) {
	tieBreak := order
	if len(order) > 1 {
		tieBreak = append(append([]string{}, order[1:]...), order[0])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		for _, name := range tieBreak {
			va, vb := factorOf(a, name), factorOf(b, name)
			if va != vb {
				return va > vb
			}
		}
		return a.Option.ID < b.Option.ID
	})
}

func factorOf(r model.RankedOption, name string) float64 {
	for _, f := range r.Factors {
		if f.Name == name {
			return f.Value
		}
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
