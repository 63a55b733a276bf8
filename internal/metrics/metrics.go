package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dukerupert/homeboard/internal/reconcile"
)

// Run outcomes.
const (
	OutcomeSuccess        = "success"
	OutcomePartial        = "partial"
	OutcomeNeedsReconnect = "needs_reconnect"
	OutcomeNoop           = "noop"
	OutcomeThrottled      = "throttled"
	OutcomeBusy           = "busy"
)

// Sync holds the calendar sync instruments.
type Sync struct {
	runs          *prometheus.CounterVec
	events        *prometheus.CounterVec
	duration      prometheus.Histogram
	lastCompleted *prometheus.GaugeVec
	running       prometheus.Gauge
}

// NewSync registers the calendar sync instruments on reg. A nil reg
// registers nothing, for tests that don't care about metrics.
func NewSync(reg prometheus.Registerer) *Sync {
	f := promauto.With(reg)
	return &Sync{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "homeboard_calendar_sync_runs_total",
			Help: "Calendar sync triggers by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "homeboard_calendar_sync_events_total",
			Help: "Events processed by calendar sync by result",
		}, []string{"result"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "homeboard_calendar_sync_duration_seconds",
			Help:    "Duration of calendar reconciliation runs",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		lastCompleted: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "homeboard_calendar_sync_last_completed_timestamp_seconds",
			Help: "Unix time of the last completed calendar sync per household",
		}, []string{"household"}),
		running: f.NewGauge(prometheus.GaugeOpts{
			Name: "homeboard_calendar_sync_running",
			Help: "Calendar syncs currently running",
		}),
	}
}

// Outcome classifies a finished run.
func Outcome(res *reconcile.Result) string {
	switch {
	case res == nil:
		return OutcomeNoop
	case res.NeedsReconnect:
		return OutcomeNeedsReconnect
	case len(res.Failures) > 0:
		return OutcomePartial
	default:
		return OutcomeSuccess
	}
}

// ObserveRun records a run that reached the engine.
func (s *Sync) ObserveRun(trigger string, res *reconcile.Result) {
	if s == nil || res == nil {
		return
	}
	s.runs.WithLabelValues(trigger, Outcome(res)).Inc()
	s.events.WithLabelValues("created").Add(float64(res.Created))
	s.events.WithLabelValues("updated").Add(float64(res.Updated))
	s.events.WithLabelValues("skipped").Add(float64(res.Skipped))
	s.events.WithLabelValues("failed").Add(float64(res.Failed))
	s.duration.Observe(res.Duration().Seconds())
	s.lastCompleted.WithLabelValues(strconv.FormatInt(res.HouseholdID, 10)).Set(float64(res.CompletedAt.Unix()))
}

// ObserveTrigger records a trigger that never reached the engine.
func (s *Sync) ObserveTrigger(trigger, outcome string) {
	if s == nil {
		return
	}
	s.runs.WithLabelValues(trigger, outcome).Inc()
}

func (s *Sync) RunStarted() {
	if s != nil {
		s.running.Inc()
	}
}

func (s *Sync) RunFinished() {
	if s != nil {
		s.running.Dec()
	}
}
