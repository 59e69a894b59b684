// Package metrics exposes Prometheus metrics for the workflow and
// automation engines.
//
// A nil *Metrics is valid and records nothing, so engines take metrics as
// an optional dependency.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

const namespace = "buildify"

// Metrics holds the engine collectors.
type Metrics struct {
	registry *prometheus.Registry

	transitions        *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	instancesStarted   *prometheus.CounterVec
	ruleExecutions     *prometheus.CounterVec
	ruleDuration       *prometheus.HistogramVec
	actionResults      *prometheus.CounterVec
	actionDuration     *prometheus.HistogramVec
	cascadeStops       *prometheus.CounterVec
	overdueInstances   prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_transitions_total",
				Help:      "Workflow transition attempts by outcome",
			},
			[]string{"workflow", "outcome"}, // outcome: ok, invalid, denied, guard, conflict, error
		),
		transitionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_transition_duration_seconds",
				Help:      "Duration of successful transitions including on-exit/on-entry actions",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"workflow"},
		),
		instancesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_instances_started_total",
				Help:      "Workflow instances started",
			},
			[]string{"workflow"},
		),
		ruleExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "automation_executions_total",
				Help:      "Rule executions by trigger kind and overall status",
			},
			[]string{"trigger", "status"},
		),
		ruleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "automation_execution_duration_seconds",
				Help:      "Duration of one rule firing",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
			},
			[]string{"trigger"},
		),
		actionResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_results_total",
				Help:      "Dispatched actions by type and status",
			},
			[]string{"type", "status"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of dispatched actions including retries",
				Buckets:   []float64{.001, .01, .05, .1, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"type"},
		),
		cascadeStops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "automation_cascade_stops_total",
				Help:      "Rule firings stopped by cascade guards",
			},
			[]string{"reason"}, // reason: cycle, quota
		),
		overdueInstances: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workflow_overdue_instances",
				Help:      "Active instances past their state SLA at the last sweep",
			},
		),
	}
	m.registry.MustRegister(
		m.transitions, m.transitionDuration, m.instancesStarted,
		m.ruleExecutions, m.ruleDuration,
		m.actionResults, m.actionDuration,
		m.cascadeStops, m.overdueInstances,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteText writes all metrics in the text exposition format.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// ObserveTransition records a transition attempt.
func (m *Metrics) ObserveTransition(workflow, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(workflow, outcome).Inc()
	if outcome == "ok" {
		m.transitionDuration.WithLabelValues(workflow).Observe(d.Seconds())
	}
}

// InstanceStarted records a started instance.
func (m *Metrics) InstanceStarted(workflow string) {
	if m == nil {
		return
	}
	m.instancesStarted.WithLabelValues(workflow).Inc()
}

// ObserveExecution records one rule firing.
func (m *Metrics) ObserveExecution(trigger, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ruleExecutions.WithLabelValues(trigger, status).Inc()
	m.ruleDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

// ObserveAction records one dispatched action.
func (m *Metrics) ObserveAction(actionType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.actionResults.WithLabelValues(actionType, status).Inc()
	m.actionDuration.WithLabelValues(actionType).Observe(d.Seconds())
}

// CascadeStopped records a firing stopped by the cycle or quota guard.
func (m *Metrics) CascadeStopped(reason string) {
	if m == nil {
		return
	}
	m.cascadeStops.WithLabelValues(reason).Inc()
}

// SetOverdue records the size of the last SLA sweep.
func (m *Metrics) SetOverdue(n int) {
	if m == nil {
		return
	}
	m.overdueInstances.Set(float64(n))
}
