// Package observability provides Prometheus metrics and tracing for taskgraph.
//
// All recording methods are safe on a nil *Metrics, so components can be
// constructed without instrumentation in tests.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "taskgraph"

// Outcome label values for OperationsTotal.
const (
	OutcomeSuccess      = "success"
	OutcomeRejected     = "rejected"
	OutcomeNotFound     = "not_found"
	OutcomeStoreFailure = "store_failure"
)

// Metrics holds all Prometheus collectors of the service.
type Metrics struct {
	// OperationsTotal counts API operations.
	// Labels: operation (create_plan, update_task, ...), outcome
	OperationsTotal *prometheus.CounterVec

	// OperationDuration measures API operation latency.
	// Labels: operation
	OperationDuration *prometheus.HistogramVec

	// StoreFallbacksTotal counts reads served from the cache because the store
	// failed or returned nothing.
	StoreFallbacksTotal prometheus.Counter

	// CacheRequestsTotal counts cache lookups.
	// Labels: result (hit, miss)
	CacheRequestsTotal *prometheus.CounterVec

	// MirrorSyncsTotal counts successful mirror writes.
	// Labels: action (create, update)
	MirrorSyncsTotal *prometheus.CounterVec

	// MirrorFailuresTotal counts mirror errors.
	// Labels: stage (search, create, update)
	MirrorFailuresTotal *prometheus.CounterVec

	// BusDropsTotal counts events dropped because a subscriber was full.
	// Labels: topic
	BusDropsTotal *prometheus.CounterVec

	// TaskTransitionsTotal counts task status changes.
	// Labels: from, to
	TaskTransitionsTotal *prometheus.CounterVec

	// TasksCompletedTotal counts tasks reaching completed.
	TasksCompletedTotal prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
// Panics on duplicate registration, like promauto.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "api",
				Name:      "operations_total",
				Help:      "Total orchestration operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "api",
				Name:      "operation_duration_seconds",
				Help:      "Orchestration operation latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"operation"},
		),
		StoreFallbacksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "store",
				Name:      "fallbacks_total",
				Help:      "Reads answered from the cache because the store failed or was empty",
			},
		),
		CacheRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "cache",
				Name:      "requests_total",
				Help:      "Plan cache lookups by result",
			},
			[]string{"result"},
		),
		MirrorSyncsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "mirror",
				Name:      "syncs_total",
				Help:      "Mirror records written by action",
			},
			[]string{"action"},
		),
		MirrorFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "mirror",
				Name:      "failures_total",
				Help:      "Mirror errors by stage",
			},
			[]string{"stage"},
		),
		BusDropsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Events dropped because a subscriber buffer was full",
			},
			[]string{"topic"},
		),
		TaskTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "tasks",
				Name:      "transitions_total",
				Help:      "Task status changes by previous and new status",
			},
			[]string{"from", "to"},
		),
		TasksCompletedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "tasks",
				Name:      "completed_total",
				Help:      "Tasks that reached completed",
			},
		),
	}
}

// ObserveOperation records one API operation.
func (m *Metrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// StoreFallback records a read served from the cache.
func (m *Metrics) StoreFallback() {
	if m == nil {
		return
	}
	m.StoreFallbacksTotal.Inc()
}

// CacheHit implements cache.Observer.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheRequestsTotal.WithLabelValues("hit").Inc()
}

// CacheMiss implements cache.Observer.
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheRequestsTotal.WithLabelValues("miss").Inc()
}

// MirrorSynced records a successful mirror write.
func (m *Metrics) MirrorSynced(action string) {
	if m == nil {
		return
	}
	m.MirrorSyncsTotal.WithLabelValues(action).Inc()
}

// MirrorFailed records a mirror error at stage.
func (m *Metrics) MirrorFailed(stage string) {
	if m == nil {
		return
	}
	m.MirrorFailuresTotal.WithLabelValues(stage).Inc()
}

// BusDropped records a dropped event.
func (m *Metrics) BusDropped(topic string) {
	if m == nil {
		return
	}
	m.BusDropsTotal.WithLabelValues(topic).Inc()
}

// TaskTransition records a status change.
func (m *Metrics) TaskTransition(from, to string) {
	if m == nil {
		return
	}
	m.TaskTransitionsTotal.WithLabelValues(from, to).Inc()
}

// TaskCompleted records a task reaching completed.
func (m *Metrics) TaskCompleted() {
	if m == nil {
		return
	}
	m.TasksCompletedTotal.Inc()
}
