package stream

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report queue activity.
type Metrics struct {
	eventsEnqueued *prometheus.CounterVec
	eventsDropped  *prometheus.CounterVec
	activeThreads  prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. The collectors are created only once to
// avoid duplicate registration panics when multiple registries are built
// (e.g. in unit tests).
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
	eventsEnqueued := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pma",
			Subsystem: "stream",
			Name:      "events_enqueued_total",
			Help:      "Events accepted into a thread queue, by kind.",
		},
		[]string{"kind"},
	)
	eventsDropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pma",
			Subsystem: "stream",
			Name:      "events_dropped_total",
			Help:      "Events dropped because a thread queue was full, by kind.",
		},
		[]string{"kind"},
	)
	activeThreads := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pma",
			Subsystem: "stream",
			Name:      "threads_active",
			Help:      "Number of live conversation threads.",
		},
	)

	collectors := []prometheus.Collector{eventsEnqueued, eventsDropped, activeThreads}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch collector {
				case eventsEnqueued:
					eventsEnqueued = already.ExistingCollector.(*prometheus.CounterVec)
				case eventsDropped:
					eventsDropped = already.ExistingCollector.(*prometheus.CounterVec)
				case activeThreads:
					activeThreads = already.ExistingCollector.(prometheus.Gauge)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		eventsEnqueued: eventsEnqueued,
		eventsDropped:  eventsDropped,
		activeThreads:  activeThreads,
	}
}

// IncEnqueued records an accepted event.
func (m *Metrics) IncEnqueued(kind string) {
	if m == nil || m.eventsEnqueued == nil {
		return
	}
	m.eventsEnqueued.WithLabelValues(kind).Inc()
}

// IncDropped records a dropped event.
func (m *Metrics) IncDropped(kind string) {
	if m == nil || m.eventsDropped == nil {
		return
	}
	m.eventsDropped.WithLabelValues(kind).Inc()
}

// SetActiveThreads updates the live thread gauge.
func (m *Metrics) SetActiveThreads(n int) {
	if m == nil || m.activeThreads == nil {
		return
	}
	m.activeThreads.Set(float64(n))
}
