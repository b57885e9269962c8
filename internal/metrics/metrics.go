package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Histogram
	runsInFlight     prometheus.Gauge
	nodeExecutions   *prometheus.CounterVec
	nodeDuration     *prometheus.HistogramVec
	stepsTotal       *prometheus.CounterVec
	statusPublishes  *prometheus.CounterVec
	eventsDispatched *prometheus.CounterVec
	webhooksTotal    *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		/* Run metrics */
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodeflow_runs_total",
				Help: "Total number of workflow runs by final status",
			},
			[]string{"status"},
		),
		runDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nodeflow_run_duration_seconds",
				Help:    "Workflow run duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
		),
		runsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "nodeflow_runs_in_flight",
				Help: "Number of workflow runs currently executing",
			},
		),

		/* Node metrics */
		nodeExecutions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodeflow_node_executions_total",
				Help: "Total number of node executions",
			},
			[]string{"node_type", "status"},
		),
		nodeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nodeflow_node_execution_duration_seconds",
				Help:    "Node execution duration in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"node_type"},
		),

		/* Step log metrics */
		stepsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodeflow_steps_total",
				Help: "Memoized steps by outcome (executed, replayed)",
			},
			[]string{"outcome"},
		),

		/* Delivery metrics */
		statusPublishes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodeflow_status_publishes_total",
				Help: "Node status messages published",
			},
			[]string{"channel", "status"},
		),
		eventsDispatched: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodeflow_events_dispatched_total",
				Help: "Trigger events taken off the queue by result",
			},
			[]string{"result"},
		),
		webhooksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodeflow_webhooks_total",
				Help: "Inbound trigger webhooks by source and HTTP status",
			},
			[]string{"source", "code"},
		),
	}
}

// RunStarted marks a run in flight.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsInFlight.Inc()
}

// RunFinished records the outcome of a run.
func (m *Metrics) RunFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsInFlight.Dec()
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(d.Seconds())
}

// NodeExecuted records one executor invocation.
func (m *Metrics) NodeExecuted(nodeType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.nodeExecutions.WithLabelValues(nodeType, status).Inc()
	m.nodeDuration.WithLabelValues(nodeType).Observe(d.Seconds())
}

// StepResolved records whether a memoized step ran or was replayed.
func (m *Metrics) StepResolved(replayed bool) {
	if m == nil {
		return
	}
	outcome := "executed"
	if replayed {
		outcome = "replayed"
	}
	m.stepsTotal.WithLabelValues(outcome).Inc()
}

// StatusPublished counts a status message.
func (m *Metrics) StatusPublished(channel, status string) {
	if m == nil {
		return
	}
	m.statusPublishes.WithLabelValues(channel, status).Inc()
}

// EventDispatched counts a trigger event handed to the worker pool.
func (m *Metrics) EventDispatched(result string) {
	if m == nil {
		return
	}
	m.eventsDispatched.WithLabelValues(result).Inc()
}

// WebhookReceived counts an inbound webhook.
func (m *Metrics) WebhookReceived(source string, code int) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(source, strconv.Itoa(code)).Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
