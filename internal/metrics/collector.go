// Package metrics provides internal metrics collection for the engine.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates Prometheus metrics for workflow runs.
type Collector struct {
	stepsTotal          *prometheus.CounterVec
	stepDuration        *prometheus.HistogramVec
	retriesTotal        *prometheus.CounterVec
	breakerTransitions  *prometheus.CounterVec
	checkpointsCreated  prometheus.Counter
	checkpointsRestored prometheus.Counter
	rollbackOps         prometheus.Counter
	runsTotal           *prometheus.CounterVec
	runDuration         prometheus.Histogram

	logger *zap.Logger
}

// NewCollector creates a collector registering with reg. Pass nil to use the
// default registerer; tests should pass a fresh prometheus.NewRegistry().
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.stepsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total number of step executions by terminal status",
		},
		[]string{"status", "category"},
	)

	c.stepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	c.retriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_retries_total",
			Help:      "Total number of step retries by failure category",
		},
		[]string{"category"},
	)

	c.breakerTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"category", "to_state"},
	)

	c.checkpointsCreated = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_created_total",
			Help:      "Total number of checkpoints created",
		},
	)

	c.checkpointsRestored = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_restored_total",
			Help:      "Total number of checkpoints restored",
		},
	)

	c.rollbackOps = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollback_operations_total",
			Help:      "Total number of journal operations reversed during rollback",
		},
	)

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of workflow runs by terminal phase",
		},
		[]string{"phase"},
	)

	c.runDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1800},
		},
	)

	return c
}

// RecordStep records a finished step attempt sequence.
func (c *Collector) RecordStep(status, category string, duration time.Duration) {
	if c == nil {
		return
	}
	c.stepsTotal.WithLabelValues(status, category).Inc()
	c.stepDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordRetry records one retry of a step.
func (c *Collector) RecordRetry(category string) {
	if c == nil {
		return
	}
	c.retriesTotal.WithLabelValues(category).Inc()
}

// RecordBreakerTransition records a circuit breaker state change.
func (c *Collector) RecordBreakerTransition(category, toState string) {
	if c == nil {
		return
	}
	c.breakerTransitions.WithLabelValues(category, toState).Inc()
}

// RecordCheckpoint records a checkpoint creation.
func (c *Collector) RecordCheckpoint() {
	if c == nil {
		return
	}
	c.checkpointsCreated.Inc()
}

// RecordRestore records a checkpoint restoration.
func (c *Collector) RecordRestore() {
	if c == nil {
		return
	}
	c.checkpointsRestored.Inc()
}

// RecordRollbackOps records reversed journal operations.
func (c *Collector) RecordRollbackOps(n int) {
	if c == nil {
		return
	}
	c.rollbackOps.Add(float64(n))
}

// RecordRun records a finished run.
func (c *Collector) RecordRun(phase string, duration time.Duration) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(phase).Inc()
	c.runDuration.Observe(duration.Seconds())
}
