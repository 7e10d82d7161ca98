package domain

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report workflow activity.
type Metrics struct {
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	steps         *prometheus.CounterVec
	planRevisions prometheus.Counter
	tokensUsed    prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. Created once so repeated construction
// (e.g. in unit tests) does not panic on duplicate registration.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Registration errors panic, mirroring promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pma",
			Subsystem: "workflow",
			Name:      "runs_total",
			Help:      "Workflow runs, by stop reason.",
		},
		[]string{"stop_reason"},
	)
	runDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pma",
			Subsystem: "workflow",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of one workflow run.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
	steps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pma",
			Subsystem: "workflow",
			Name:      "steps_total",
			Help:      "Executed steps, by type and final status.",
		},
		[]string{"type", "status"},
	)
	planRevisions := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pma",
			Subsystem: "workflow",
			Name:      "plan_revisions_total",
			Help:      "Replans triggered by the validator.",
		},
	)
	tokensUsed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pma",
			Subsystem: "workflow",
			Name:      "tokens_estimated_total",
			Help:      "Estimated tokens exchanged with the LLM.",
		},
	)

	collectors := []prometheus.Collector{runs, runDuration, steps, planRevisions, tokensUsed}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch collector {
				case runs:
					runs = already.ExistingCollector.(*prometheus.CounterVec)
				case runDuration:
					runDuration = already.ExistingCollector.(prometheus.Histogram)
				case steps:
					steps = already.ExistingCollector.(*prometheus.CounterVec)
				case planRevisions:
					planRevisions = already.ExistingCollector.(prometheus.Counter)
				case tokensUsed:
					tokensUsed = already.ExistingCollector.(prometheus.Counter)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		runs:          runs,
		runDuration:   runDuration,
		steps:         steps,
		planRevisions: planRevisions,
		tokensUsed:    tokensUsed,
	}
}

// ObserveRun records a completed run.
func (m *Metrics) ObserveRun(stopReason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(stopReason).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

// ObserveStep records a finished step.
func (m *Metrics) ObserveStep(stepType StepType, status StepStatus) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(stepType.String(), string(status)).Inc()
}

// IncPlanRevision records a replan.
func (m *Metrics) IncPlanRevision() {
	if m == nil {
		return
	}
	m.planRevisions.Inc()
}

// AddTokens records estimated token usage.
func (m *Metrics) AddTokens(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tokensUsed.Add(float64(n))
}
