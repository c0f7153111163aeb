// Package metrics defines the narrow observability surface the runtime
// records into, plus a prometheus-backed implementation. The interface
// keeps the metrics backend a construction-time choice rather than a
// process-wide global.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call outcome labels recorded on the latency histogram.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

// Recorder receives the runtime's call lifecycle measurements.
// Implementations must be safe for concurrent use.
type Recorder interface {
	// InFlightChanged moves the in-flight call gauge by delta.
	InFlightChanged(delta int)

	// TimeoutExpired counts one per-call timeout firing.
	TimeoutExpired()

	// CallLatency records one completed call with its outcome label.
	CallLatency(outcome string, d time.Duration)

	// DrainDuration records how long one graceful drain took.
	DrainDuration(d time.Duration)
}

// Noop is a Recorder that discards every measurement. It is the default
// when a system is constructed without a metrics backend.
type Noop struct{}

// InFlightChanged discards the measurement.
func (Noop) InFlightChanged(int) {}

// TimeoutExpired discards the measurement.
func (Noop) TimeoutExpired() {}

// CallLatency discards the measurement.
func (Noop) CallLatency(string, time.Duration) {}

// DrainDuration discards the measurement.
func (Noop) DrainDuration(time.Duration) {}

// PromRecorder implements Recorder on top of prometheus collectors.
type PromRecorder struct {
	inFlight prometheus.Gauge
	timeouts prometheus.Counter
	latency  *prometheus.HistogramVec
	drain    prometheus.Histogram
}

// NewPromRecorder creates a prometheus-backed recorder, registering its
// collectors with reg under the given namespace. A nil registerer falls
// back to the default prometheus registry.
func NewPromRecorder(namespace string,
	reg prometheus.Registerer) *PromRecorder {

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PromRecorder{
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_in_flight",
			Help:      "Number of outstanding remote calls.",
		}),
		timeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_timeouts_total",
			Help:      "Number of per-call timeouts fired.",
		}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Remote call latency by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		drain: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "drain_duration_seconds",
			Help:      "Graceful drain duration.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// InFlightChanged moves the in-flight gauge by delta.
func (r *PromRecorder) InFlightChanged(delta int) {
	r.inFlight.Add(float64(delta))
}

// TimeoutExpired counts one timeout firing.
func (r *PromRecorder) TimeoutExpired() {
	r.timeouts.Inc()
}

// CallLatency records one completed call with its outcome label.
func (r *PromRecorder) CallLatency(outcome string, d time.Duration) {
	r.latency.WithLabelValues(outcome).Observe(d.Seconds())
}

// DrainDuration records one graceful drain.
func (r *PromRecorder) DrainDuration(d time.Duration) {
	r.drain.Observe(d.Seconds())
}

// Timeouts exposes the timeout counter for tests and status surfaces.
func (r *PromRecorder) Timeouts() prometheus.Counter {
	return r.timeouts
}
