package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service-level counters.
type Metrics struct {
	TasksReceived  prometheus.Counter
	TasksCompleted prometheus.Counter
	TasksFailed    prometheus.Counter

	CommandsDispatched *prometheus.CounterVec
	InterpreterPasses  prometheus.Counter
	TasksInFlight      prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics builds the metric set on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		TasksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_tasks_received_total",
			Help: "Tasks accepted from the task queue.",
		}),
		TasksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_tasks_completed_total",
			Help: "Tasks that reached a fixed point and published a result.",
		}),
		TasksFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_tasks_failed_total",
			Help: "Tasks aborted by an unrecoverable error.",
		}),
		CommandsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_commands_dispatched_total",
			Help: "Commands enqueued on an executor.",
		}, []string{"executor"}),
		InterpreterPasses: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_interpreter_passes_total",
			Help: "Interpreter passes across all tasks.",
		}),
		TasksInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "conductor_tasks_in_flight",
			Help: "Tasks currently executing.",
		}),
		registry: registry,
	}
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
