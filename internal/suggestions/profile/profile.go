// Package profile maintains a performance profile per resource: committed
// work, throughput, on-time and rework rates, and utilization.
//
// Profiles are created the first time an event references a resource and are
// never deleted. Utilization is not stored; it is recomputed from committed
// hours on every read, so it can never lag an applied event.
package profile

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/runger/prizm/internal/suggestions/event"
)

// Defaults used when no population data exists yet.
const (
	DefaultCapacityHours    = 40.0
	DefaultThroughputWindow = 28 * 24 * time.Hour
	DefaultOnTimeRate       = 0.8
	DefaultReworkRate       = 0.1
	DefaultThroughput       = 1.0 // items per week
)

// Profile is a read-only view of a resource.
type Profile struct {
	ResourceID     string    `json:"resource_id"`
	ActiveItems    int       `json:"active_items"`
	CommittedHours float64   `json:"committed_hours"`
	CapacityHours  float64   `json:"capacity_hours"`
	Skills         []string  `json:"skills,omitempty"`
	Throughput     float64   `json:"throughput"` // completions per week over the window
	OnTimeRate     float64   `json:"on_time_rate"`
	ReworkRate     float64   `json:"rework_rate"`
	Utilization    float64   `json:"utilization"` // percent of capacity
	Completed      int       `json:"completed"`
	LastActivity   time.Time `json:"last_activity"`
	// Known is false when the profile is a population-average stand-in.
	Known bool `json:"known"`
	// RatesDefaulted is set when on-time or rework rates had no samples and
	// were taken from the population.
	RatesDefaulted bool `json:"rates_defaulted,omitempty"`
}

// HasSkill reports whether the resource lists skill s.
func (p Profile) HasSkill(s string) bool {
	return slices.Contains(p.Skills, s)
}

// Record is the persisted state of a resource.
type Record struct {
	ResourceID    string
	CapacityHours float64
	Skills        []string
	Assignments   map[string]float64 // action id -> committed hours
	Completions   []time.Time        // inside the throughput window
	ExternalHours float64            // load reported by utilization_changed
	Completed     int
	OnTime        int
	OnTimeKnown   int
	Rework        int
	ReworkKnown   int
	Updated       time.Time
}

func (r *Record) committed() float64 {
	total := r.ExternalHours
	for _, h := range r.Assignments {
		total += h
	}
	return total
}

func (r *Record) utilization() float64 {
	if r.CapacityHours <= 0 {
		return 0
	}
	return r.committed() / r.CapacityHours * 100
}

// Repository persists records. Implementations must be safe for concurrent use.
type Repository interface {
	LoadProfiles(ctx context.Context) ([]Record, error)
	SaveProfile(ctx context.Context, r Record) error
}

// Config configures a Store.
type Config struct {
	Logger               *slog.Logger
	Now                  func() time.Time
	Repository           Repository
	DefaultCapacityHours float64
	ThroughputWindow     time.Duration
	// ThresholdPcts are utilization levels whose crossing, in either
	// direction, produces a threshold_crossed event.
	ThresholdPcts []float64
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.DefaultCapacityHours <= 0 {
		c.DefaultCapacityHours = DefaultCapacityHours
	}
	if c.ThroughputWindow <= 0 {
		c.ThroughputWindow = DefaultThroughputWindow
	}
}

// Store is the in-memory authority for resource profiles, optionally backed
// by a Repository. All methods are safe for concurrent use.
type Store struct {
	cfg Config

	mu       sync.RWMutex
	records  map[string]*Record
	byAction map[string]map[string]struct{} // action id -> assigned resources
}

// NewStore creates a store. Call Load to restore persisted records.
func NewStore(cfg Config) *Store {
	cfg.applyDefaults()
	return &Store{
		cfg:      cfg,
		records:  make(map[string]*Record),
		byAction: make(map[string]map[string]struct{}),
	}
}

// Load restores records from the repository, if one is configured.
func (s *Store) Load(ctx context.Context) error {
	if s.cfg.Repository == nil {
		return nil
	}
	recs, err := s.cfg.Repository.LoadProfiles(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range recs {
		r := recs[i]
		if r.Assignments == nil {
			r.Assignments = make(map[string]float64)
		}
		s.records[r.ResourceID] = &r
		for action := range r.Assignments {
			s.index(action, r.ResourceID)
		}
	}
	s.cfg.Logger.Debug("profiles loaded", "count", len(recs))
	return nil
}

// Upsert sets capacity and skills for a resource, creating it if needed.
// A non-positive capacity keeps the current (or default) capacity.
func (s *Store) Upsert(ctx context.Context, id string, capacityHours float64, skills []string) Profile {
	s.mu.Lock()
	r := s.getOrCreate(id)
	if capacityHours > 0 {
		r.CapacityHours = capacityHours
	}
	if skills != nil {
		r.Skills = slices.Clone(skills)
		sort.Strings(r.Skills)
	}
	r.Updated = s.cfg.Now()
	snapshot := s.snapshotRecord(r)
	p := s.view(r)
	s.mu.Unlock()

	s.persist(ctx, snapshot)
	return p
}

// ApplyResult describes the effect of one event.
type ApplyResult struct {
	// Touched lists resources whose profile changed.
	Touched []string
	// Crossings are derived threshold_crossed events.
	Crossings []event.Event
}

// Apply mutates profiles for a world-state event.
func (s *Store) Apply(ctx context.Context, ev event.Event) ApplyResult {
	now := s.cfg.Now()
	if ev.Time.IsZero() {
		ev.Time = now
	}

	s.mu.Lock()
	before := make(map[string]float64)
	touch := func(id string) *Record {
		r := s.getOrCreate(id)
		if _, ok := before[id]; !ok {
			before[id] = r.utilization()
		}
		r.Updated = now
		return r
	}

	switch ev.Type {
	case event.TypeResourceAssigned:
		// Reassigning an action moves it off its previous holders.
		for prev := range s.byAction[ev.ActionID] {
			if prev != ev.ResourceID {
				s.release(touch(prev), ev.ActionID)
			}
		}
		r := touch(ev.ResourceID)
		r.Assignments[ev.ActionID] = ev.Effort
		s.index(ev.ActionID, ev.ResourceID)

	case event.TypeResourceUnassigned:
		s.release(touch(ev.ResourceID), ev.ActionID)

	case event.TypeActionCompleted:
		holders := s.holders(ev.ActionID)
		if ev.ResourceID != "" && !slices.Contains(holders, ev.ResourceID) {
			holders = append(holders, ev.ResourceID)
		}
		for _, id := range holders {
			r := touch(id)
			s.release(r, ev.ActionID)
			s.recordCompletion(r, ev)
		}

	case event.TypeUtilizationChanged:
		r := touch(ev.ResourceID)
		var tracked float64
		for _, h := range r.Assignments {
			tracked += h
		}
		r.ExternalHours = math.Max(0, ev.Pct/100*r.CapacityHours-tracked)
	}

	var res ApplyResult
	var snapshots []Record
	for id := range before {
		res.Touched = append(res.Touched, id)
	}
	sort.Strings(res.Touched)
	for _, id := range res.Touched {
		r := s.records[id]
		res.Crossings = append(res.Crossings, s.crossings(id, before[id], r.utilization(), ev.Time)...)
		snapshots = append(snapshots, s.snapshotRecord(r))
	}
	s.mu.Unlock()

	for _, r := range snapshots {
		s.persist(ctx, r)
	}
	return res
}

func (s *Store) recordCompletion(r *Record, ev event.Event) {
	r.Completed++
	r.Completions = append(r.Completions, ev.Time)
	r.Completions = s.prune(r.Completions, ev.Time)
	if ev.OnTime != nil {
		r.OnTimeKnown++
		if *ev.OnTime {
			r.OnTime++
		}
	}
	if ev.Rework != nil {
		r.ReworkKnown++
		if *ev.Rework {
			r.Rework++
		}
	}
}

func (s *Store) crossings(id string, was, now float64, at time.Time) []event.Event {
	var out []event.Event
	for _, t := range s.cfg.ThresholdPcts {
		dir := ""
		switch {
		case was <= t && now > t:
			dir = event.DirectionUp
		case was > t && now <= t:
			dir = event.DirectionDown
		}
		if dir == "" {
			continue
		}
		out = append(out, event.Event{
			Type:       event.TypeThresholdCrossed,
			ResourceID: id,
			Pct:        now,
			Threshold:  t,
			Direction:  dir,
			Time:       at,
		})
	}
	return out
}

// Get returns the profile of a known resource. Unknown resources are not
// created by reads.
func (s *Store) Get(id string) (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return Profile{}, false
	}
	return s.view(r), true
}

// Lookup returns the profile for id, or a population-average stand-in with
// Known=false when the resource has never been referenced.
func (s *Store) Lookup(id string) Profile {
	if p, ok := s.Get(id); ok {
		return p
	}
	p := s.PopulationAverage()
	p.ResourceID = id
	return p
}

// PopulationAverage returns mean utilization over known resources and mean
// rates over resources that have history.
func (s *Store) PopulationAverage() Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.population()
}

func (s *Store) population() Profile {
	p := Profile{
		CapacityHours: s.cfg.DefaultCapacityHours,
		Throughput:    DefaultThroughput,
		OnTimeRate:    DefaultOnTimeRate,
		ReworkRate:    DefaultReworkRate,
	}

	var tp, ot, rw, util float64
	var ntp, not, nrw int
	now := s.cfg.Now()
	for _, r := range s.records {
		util += r.utilization()
		if r.Completed > 0 {
			tp += s.throughput(r, now)
			ntp++
		}
		if r.OnTimeKnown > 0 {
			ot += float64(r.OnTime) / float64(r.OnTimeKnown)
			not++
		}
		if r.ReworkKnown > 0 {
			rw += float64(r.Rework) / float64(r.ReworkKnown)
			nrw++
		}
	}
	if ntp > 0 {
		p.Throughput = tp / float64(ntp)
	}
	if not > 0 {
		p.OnTimeRate = ot / float64(not)
	}
	if nrw > 0 {
		p.ReworkRate = rw / float64(nrw)
	}
	if len(s.records) > 0 {
		p.Utilization = util / float64(len(s.records))
	}
	return p
}

// List returns all known profiles sorted by resource id.
func (s *Store) List() []Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Profile, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, s.view(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out
}

// ResourcesFor returns the resources currently assigned to action id.
func (s *Store) ResourcesFor(actionID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.holders(actionID)
}

// view must be called with s.mu held for writing since it prunes the window.
func (s *Store) view(r *Record) Profile {
	now := s.cfg.Now()
	r.Completions = s.prune(r.Completions, now)

	p := Profile{
		ResourceID:     r.ResourceID,
		ActiveItems:    len(r.Assignments),
		CommittedHours: r.committed(),
		CapacityHours:  r.CapacityHours,
		Skills:         slices.Clone(r.Skills),
		Throughput:     s.throughput(r, now),
		Utilization:    r.utilization(),
		Completed:      r.Completed,
		LastActivity:   r.Updated,
		Known:          true,
	}

	var pop *Profile
	population := func() Profile {
		if pop == nil {
			v := s.population()
			pop = &v
		}
		return *pop
	}
	if r.OnTimeKnown > 0 {
		p.OnTimeRate = float64(r.OnTime) / float64(r.OnTimeKnown)
	} else {
		p.OnTimeRate = population().OnTimeRate
		p.RatesDefaulted = true
	}
	if r.ReworkKnown > 0 {
		p.ReworkRate = float64(r.Rework) / float64(r.ReworkKnown)
	} else {
		p.ReworkRate = population().ReworkRate
		p.RatesDefaulted = true
	}
	return p
}

func (s *Store) throughput(r *Record, now time.Time) float64 {
	cutoff := now.Add(-s.cfg.ThroughputWindow)
	n := 0
	for _, t := range r.Completions {
		if t.After(cutoff) {
			n++
		}
	}
	weeks := s.cfg.ThroughputWindow.Hours() / (7 * 24)
	return float64(n) / weeks
}

func (s *Store) prune(ts []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-s.cfg.ThroughputWindow)
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (s *Store) getOrCreate(id string) *Record {
	r, ok := s.records[id]
	if !ok {
		r = &Record{
			ResourceID:    id,
			CapacityHours: s.cfg.DefaultCapacityHours,
			Assignments:   make(map[string]float64),
		}
		s.records[id] = r
		s.cfg.Logger.Debug("profile created", "resource", id)
	}
	return r
}

func (s *Store) release(r *Record, actionID string) {
	delete(r.Assignments, actionID)
	if set, ok := s.byAction[actionID]; ok {
		delete(set, r.ResourceID)
		if len(set) == 0 {
			delete(s.byAction, actionID)
		}
	}
}

func (s *Store) index(actionID, resourceID string) {
	set, ok := s.byAction[actionID]
	if !ok {
		set = make(map[string]struct{})
		s.byAction[actionID] = set
	}
	set[resourceID] = struct{}{}
}

func (s *Store) holders(actionID string) []string {
	set := s.byAction[actionID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) snapshotRecord(r *Record) Record {
	c := *r
	c.Skills = slices.Clone(r.Skills)
	c.Completions = slices.Clone(r.Completions)
	c.Assignments = make(map[string]float64, len(r.Assignments))
	for k, v := range r.Assignments {
		c.Assignments[k] = v
	}
	return c
}

func (s *Store) persist(ctx context.Context, r Record) {
	if s.cfg.Repository == nil {
		return
	}
	if err := s.cfg.Repository.SaveProfile(ctx, r); err != nil {
		s.cfg.Logger.Warn("failed to persist profile", "resource", r.ResourceID, "error", err)
	}
}
