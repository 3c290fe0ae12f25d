// Package metrics defines the prometheus collectors exported by the orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "edge_orchestrator"

// Outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the orchestrator collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	controllerRequests *prometheus.CounterVec
	controllerLatency  *prometheus.HistogramVec
	actionWait         *prometheus.HistogramVec
	workflowSteps      *prometheus.CounterVec
	workflowRows       *prometheus.CounterVec
	rolloutDevices     prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		controllerRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "requests_total",
			Help:      "Controller API calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		controllerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "request_duration_seconds",
			Help:      "Controller API call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		actionWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "action",
			Name:      "wait_duration_seconds",
			Help:      "Time spent waiting for asynchronous controller actions.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		workflowSteps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "steps_total",
			Help:      "Workflow steps by workflow, step and outcome.",
		}, []string{"workflow", "step", "outcome"}),
		workflowRows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "rows_total",
			Help:      "Mapping rows processed by workflow and outcome.",
		}, []string{"workflow", "outcome"}),
		rolloutDevices: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rollout",
			Name:      "devices_total",
			Help:      "Devices attached to a reconfigured template.",
		}),
	}
}

// ObserveControllerCall records one controller API call.
func (m *Metrics) ObserveControllerCall(operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.controllerRequests.WithLabelValues(operation, outcome(err)).Inc()
	m.controllerLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveActionWait records how long an action took to reach status.
func (m *Metrics) ObserveActionWait(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.actionWait.WithLabelValues(status).Observe(elapsed.Seconds())
}

// ObserveStep records a workflow step.
func (m *Metrics) ObserveStep(workflow, step string, err error) {
	if m == nil {
		return
	}
	m.workflowSteps.WithLabelValues(workflow, step, outcome(err)).Inc()
}

// ObserveRow records a processed mapping row.
func (m *Metrics) ObserveRow(workflow string, err error) {
	if m == nil {
		return
	}
	m.workflowRows.WithLabelValues(workflow, outcome(err)).Inc()
}

// IncRolloutDevice counts a device pushed during a rollout.
func (m *Metrics) IncRolloutDevice() {
	if m == nil {
		return
	}
	m.rolloutDevices.Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
