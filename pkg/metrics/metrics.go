// Package metrics exposes Prometheus instrumentation for the tracker core.
//
// The Metrics value is constructed explicitly and passed to the components
// that need it; there is no package-level registry so tests can run several
// instances side by side.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "retrotrack"

type Metrics struct {
	registry *prometheus.Registry

	apiCalls    prometheus.Counter
	apiRetries  prometheus.Counter
	apiFailures *prometheus.CounterVec
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	inconsistentFetches *prometheus.CounterVec
	eventsEmitted       *prometheus.CounterVec

	notificationsSent      prometheus.Counter
	notificationsThrottled prometheus.Counter
	notificationsDuplicate prometheus.Counter
	notificationsFailed    prometheus.Counter

	cycleDuration prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		apiCalls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "api",
			Name: "calls_total", Help: "Outbound API calls released by the gateway.",
		}),
		apiRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "api",
			Name: "retries_total", Help: "Retry attempts after transient or rate-limited failures.",
		}),
		apiFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "api",
			Name: "failures_total", Help: "Calls that failed after exhausting their retry budget.",
		}, []string{"kind"}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache",
			Name: "hits_total", Help: "Response cache hits.",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache",
			Name: "misses_total", Help: "Response cache misses (absent or expired).",
		}),

		inconsistentFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "diff",
			Name: "inconsistent_fetches_total", Help: "Fetches rejected by the consistency gate, per entity.",
		}, []string{"entity"}),
		eventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "diff",
			Name: "events_total", Help: "Transition events emitted, per kind.",
		}, []string{"kind"}),

		notificationsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch",
			Name: "sent_total", Help: "Notifications handed to the sink.",
		}),
		notificationsThrottled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch",
			Name: "throttled_total", Help: "Notifications dropped by the per-entity alert interval.",
		}),
		notificationsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch",
			Name: "duplicate_total", Help: "Notifications dropped as already-announced duplicates.",
		}),
		notificationsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch",
			Name: "failed_total", Help: "Sink deliveries that returned an error.",
		}),

		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "poll",
			Name:    "cycle_duration_seconds",
			Help:    "Wall-clock duration of a full poll cycle.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

func (m *Metrics) APICall()          { m.apiCalls.Inc() }
func (m *Metrics) APIRetry()         { m.apiRetries.Inc() }
func (m *Metrics) APIFailure(kind string) {
	m.apiFailures.WithLabelValues(kind).Inc()
}
func (m *Metrics) CacheHit()  { m.cacheHits.Inc() }
func (m *Metrics) CacheMiss() { m.cacheMisses.Inc() }

func (m *Metrics) InconsistentFetch(entity string) {
	m.inconsistentFetches.WithLabelValues(entity).Inc()
}
func (m *Metrics) EventEmitted(kind string) {
	m.eventsEmitted.WithLabelValues(kind).Inc()
}

func (m *Metrics) NotificationSent()      { m.notificationsSent.Inc() }
func (m *Metrics) NotificationThrottled() { m.notificationsThrottled.Inc() }
func (m *Metrics) NotificationDuplicate() { m.notificationsDuplicate.Inc() }
func (m *Metrics) NotificationFailed()    { m.notificationsFailed.Inc() }

func (m *Metrics) ObserveCycle(seconds float64) { m.cycleDuration.Observe(seconds) }

// Handler serves the metrics in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
