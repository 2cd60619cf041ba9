// Package metrics provides observability for the recommendation core:
// lock-free in-process counters for status output and Prometheus
// collectors for scraping.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/runger/prizm/internal/suggestions/event"
	"github.com/runger/prizm/internal/suggestions/model"
)

// Counters holds atomic counters. All fields are safe for concurrent use.
type Counters struct {
	SuggestRequests  atomic.Int64 // total get/generate calls
	SuggestGenerated atomic.Int64 // fresh computations
	SuggestReused    atomic.Int64 // valid pending suggestion returned
	SuggestEmpty     atomic.Int64 // rankings with no eligible option
	FeedbackAccepted atomic.Int64
	FeedbackRejected atomic.Int64
	FeedbackInvalid  atomic.Int64
	EventsIngested   atomic.Int64
	EventsInvalid    atomic.Int64
	Expired          atomic.Int64 // suggestions expired for any reason
	Superseded       atomic.Int64
	RationaleProse   atomic.Int64
	LatencySumMs     atomic.Int64 // cumulative generate latency
}

// Snapshot returns a point-in-time copy of all counters. It is consistent
// per field but not across fields.
func (c *Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		"suggest_requests":  c.SuggestRequests.Load(),
		"suggest_generated": c.SuggestGenerated.Load(),
		"suggest_reused":    c.SuggestReused.Load(),
		"suggest_empty":     c.SuggestEmpty.Load(),
		"feedback_accepted": c.FeedbackAccepted.Load(),
		"feedback_rejected": c.FeedbackRejected.Load(),
		"feedback_invalid":  c.FeedbackInvalid.Load(),
		"events_ingested":   c.EventsIngested.Load(),
		"events_invalid":    c.EventsInvalid.Load(),
		"expired":           c.Expired.Load(),
		"superseded":        c.Superseded.Load(),
		"rationale_prose":   c.RationaleProse.Load(),
		"latency_sum_ms":    c.LatencySumMs.Load(),
	}
}

// AverageGenerateLatencyMs returns the mean latency of fresh computations.
func (c *Counters) AverageGenerateLatencyMs() float64 {
	n := c.SuggestGenerated.Load()
	if n == 0 {
		return 0
	}
	return float64(c.LatencySumMs.Load()) / float64(n)
}

// Metrics combines the counters with Prometheus collectors.
type Metrics struct {
	Counters

	registry *prometheus.Registry

	suggestRequests  *prometheus.CounterVec
	generateDuration *prometheus.HistogramVec
	transitions      *prometheus.CounterVec
	feedback         *prometheus.CounterVec
	events           *prometheus.CounterVec
	rationale        *prometheus.CounterVec
	multiplier       *prometheus.GaugeVec
	pending          prometheus.Gauge
}

// New creates metrics registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		suggestRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prizm_suggest_requests_total",
				Help: "Suggestion requests by category and result (generated, reused, error)",
			},
			[]string{"category", "result"},
		),
		generateDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prizm_generate_duration_seconds",
				Help:    "Time to compute a fresh ranking",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
			},
			[]string{"category"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prizm_suggestion_transitions_total",
				Help: "Suggestion state transitions by target state and reason",
			},
			[]string{"to", "reason"},
		),
		feedback: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prizm_feedback_total",
				Help: "Feedback records by category and outcome",
			},
			[]string{"category", "outcome"},
		),
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prizm_events_total",
				Help: "World-state events by type and status (applied, invalid)",
			},
			[]string{"type", "status"},
		),
		rationale: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prizm_rationale_total",
				Help: "Rationales attached by source",
			},
			[]string{"source"},
		),
		multiplier: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "prizm_confidence_multiplier",
				Help: "Current learned confidence multiplier per category and option-type",
			},
			[]string{"category", "option_type"},
		),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "prizm_pending_suggestions",
			Help: "Number of (action, category) keys with a pending suggestion",
		}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Suggest result labels.
const (
	ResultGenerated = "generated"
	ResultReused    = "reused"
	ResultError     = "error"
)

// ObserveSuggest records a suggestion request.
func (m *Metrics) ObserveSuggest(c model.Category, result string, empty bool, d time.Duration) {
	m.SuggestRequests.Add(1)
	m.suggestRequests.WithLabelValues(string(c), result).Inc()
	switch result {
	case ResultGenerated:
		m.SuggestGenerated.Add(1)
		m.LatencySumMs.Add(d.Milliseconds())
		m.generateDuration.WithLabelValues(string(c)).Observe(d.Seconds())
	case ResultReused:
		m.SuggestReused.Add(1)
	}
	if empty && result != ResultError {
		m.SuggestEmpty.Add(1)
	}
}

// ObserveTransition records a lifecycle transition.
func (m *Metrics) ObserveTransition(t event.Transition) {
	switch t.To {
	case model.StateExpired:
		m.Expired.Add(1)
	case model.StateSuperseded:
		m.Superseded.Add(1)
	}
	m.transitions.WithLabelValues(string(t.To), t.Reason).Inc()
}

// ObserveFeedback records an ingested feedback record.
func (m *Metrics) ObserveFeedback(rec model.FeedbackRecord) {
	if rec.Outcome == model.OutcomeAccepted {
		m.FeedbackAccepted.Add(1)
	} else {
		m.FeedbackRejected.Add(1)
	}
	m.feedback.WithLabelValues(string(rec.Category), string(rec.Outcome)).Inc()
}

// ObserveInvalidFeedback records a rejected submission.
func (m *Metrics) ObserveInvalidFeedback() {
	m.FeedbackInvalid.Add(1)
}

// ObserveEvent records an inbound event.
func (m *Metrics) ObserveEvent(t event.Type, valid bool) {
	status := "applied"
	if valid {
		m.EventsIngested.Add(1)
	} else {
		m.EventsInvalid.Add(1)
		status = "invalid"
	}
	m.events.WithLabelValues(string(t), status).Inc()
}

// ObserveRationale records an attached rationale.
func (m *Metrics) ObserveRationale(source string) {
	if source != "template" {
		m.RationaleProse.Add(1)
	}
	m.rationale.WithLabelValues(source).Inc()
}

// SetMultiplier publishes a learned multiplier.
func (m *Metrics) SetMultiplier(c model.Category, optionType string, v float64) {
	m.multiplier.WithLabelValues(string(c), optionType).Set(v)
}

// ResetMultipliers clears all published multipliers.
func (m *Metrics) ResetMultipliers() {
	m.multiplier.Reset()
}

// SetPending publishes the number of pending suggestions.
func (m *Metrics) SetPending(n int) {
	m.pending.Set(float64(n))
}

// TrackQueue exports the depth and overflow count of the inbound event
// queue. Call it once per registry.
func (m *Metrics) TrackQueue(depth, dropped func() float64) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "prizm_ingest_queue_depth",
			Help: "World-state events waiting to be applied",
		}, depth),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "prizm_ingest_dropped_total",
			Help: "World-state events overwritten because the ingestion queue was full",
		}, dropped),
	)
}
