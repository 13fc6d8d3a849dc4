// Package supervisor composes every worker subsystem (coordinator session,
// HTTP poller, peer mesh, backend registry, executor) into one event loop
// and exposes a debug/health HTTP surface, wiring every subsystem behind
// one constructor the way a top-level system coordinator would.
package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the worker's Prometheus gauges and counters, registered
// against a private registry so multiple Supervisors in tests don't
// collide on prometheus.DefaultRegisterer, an instance-scoped registry
// instead of the usual package-level metric globals.
type Metrics struct {
	Registry *prometheus.Registry

	TasksQueued    prometheus.Gauge
	TasksRunning   prometheus.Gauge
	TasksCompleted prometheus.Counter
	TasksFailed    prometheus.Counter
	TasksCancelled prometheus.Counter

	PeersConnected prometheus.Gauge

	CoordinatorReconnects prometheus.Counter
}

// NewMetrics builds and registers the worker's metric set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		TasksQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "worker_tasks_queued",
			Help: "Number of tasks currently queued for execution.",
		}),
		TasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "worker_tasks_running",
			Help: "Number of tasks currently executing.",
		}),
		TasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worker_tasks_completed_total",
			Help: "Total number of tasks completed successfully.",
		}),
		TasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worker_tasks_failed_total",
			Help: "Total number of tasks that failed.",
		}),
		TasksCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worker_tasks_cancelled_total",
			Help: "Total number of tasks cancelled.",
		}),
		PeersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "worker_peers_connected",
			Help: "Number of currently connected mesh peers.",
		}),
		CoordinatorReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worker_coordinator_reconnects_total",
			Help: "Total number of coordinator reconnect attempts.",
		}),
	}

	reg.MustRegister(
		m.TasksQueued, m.TasksRunning, m.TasksCompleted, m.TasksFailed,
		m.TasksCancelled, m.PeersConnected, m.CoordinatorReconnects,
	)
	return m
}
