// Package metrics exposes Prometheus collectors for CoachPipe's dialogue engine.
//
// Metrics:
//   - coachpipe_turns_total{flow,outcome} - Count of processed parent turns
//   - coachpipe_decisions_total{decision} - Count of classifier decisions
//   - coachpipe_blocked_turns_total - Count of turns whose parent message was blocked
//   - coachpipe_scenarios_completed_total - Count of turns that produced a summary
//   - coachpipe_turn_duration_seconds{flow} - Histogram of turn processing time
//   - coachpipe_generation_duration_seconds{capability,outcome} - Histogram of model call time
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/BTreeMap/CoachPipe/internal/flow"
	"github.com/BTreeMap/CoachPipe/internal/models"
)

const (
	outcomeOK       = "ok"
	outcomeError    = "error"
	outcomeFinished = "finished"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	TurnsTotal              *prometheus.CounterVec
	DecisionsTotal          *prometheus.CounterVec
	BlockedTurnsTotal       prometheus.Counter
	ScenariosCompletedTotal prometheus.Counter
	TurnDuration            *prometheus.HistogramVec
	GenerationDuration      *prometheus.HistogramVec
}

var _ flow.TurnObserver = (*Metrics)(nil)

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachpipe_turns_total",
				Help: "Total number of processed parent turns",
			},
			[]string{"flow", "outcome"},
		),
		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachpipe_decisions_total",
				Help: "Total number of classifier decisions by code",
			},
			[]string{"decision"},
		),
		BlockedTurnsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "coachpipe_blocked_turns_total",
				Help: "Total number of turns where only the facilitator answered",
			},
		),
		ScenariosCompletedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "coachpipe_scenarios_completed_total",
				Help: "Total number of turns that produced a closing summary",
			},
		),
		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coachpipe_turn_duration_seconds",
				Help:    "Duration of turn processing in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
			[]string{"flow"},
		),
		GenerationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coachpipe_generation_duration_seconds",
				Help:    "Duration of model calls in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"capability", "outcome"},
		),
	}
}

// ObserveTurn records one processed turn.
func (m *Metrics) ObserveTurn(o flow.TurnOutcome) {
	flowLabel := string(o.Flow)
	if flowLabel == "" {
		flowLabel = "none"
	}

	switch {
	case errors.Is(o.Err, models.ErrConversationFinished):
		m.TurnsTotal.WithLabelValues(flowLabel, outcomeFinished).Inc()
		return
	case o.Err != nil:
		m.TurnsTotal.WithLabelValues(flowLabel, outcomeError).Inc()
		return
	}

	m.TurnsTotal.WithLabelValues(flowLabel, outcomeOK).Inc()
	m.TurnDuration.WithLabelValues(flowLabel).Observe(o.Duration.Seconds())
	if o.Record == nil || o.Flow == flow.FlowReplay {
		return
	}
	if o.Record.Decision != nil {
		m.DecisionsTotal.WithLabelValues(o.Record.Decision.String()).Inc()
	}
	if o.Record.BlockedMessage {
		m.BlockedTurnsTotal.Inc()
	}
	if o.Record.Summary != "" {
		m.ScenariosCompletedTotal.Inc()
	}
}

// ObserveGeneration records the latency of one model call.
func (m *Metrics) ObserveGeneration(capability string, elapsed time.Duration, err error) {
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
	}
	m.GenerationDuration.WithLabelValues(capability, outcome).Observe(elapsed.Seconds())
}
