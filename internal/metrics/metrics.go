package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the upload service
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted     prometheus.Counter
	SessionsFinished    *prometheus.CounterVec
	SessionsActive      prometheus.Gauge
	SessionsReaped      prometheus.Counter
	ChunksAppended      prometheus.Counter
	BytesAppended       prometheus.Counter
	AppendErrors        prometheus.Counter
	DirectUploads       *prometheus.CounterVec
	ReplicationFailures prometheus.Counter
}

// New creates and registers all metrics on a private registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upload_sessions_started_total",
			Help: "Total number of chunked upload sessions started",
		}),
		SessionsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upload_sessions_finished_total",
				Help: "Total number of finished sessions by outcome",
			},
			[]string{"outcome"},
		),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "upload_sessions_active",
			Help: "Sessions currently held by this instance's bookkeeping",
		}),
		SessionsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upload_sessions_reaped_total",
			Help: "Expired sessions removed by the reaper",
		}),
		ChunksAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upload_chunks_appended_total",
			Help: "Chunks acknowledged by the backend",
		}),
		BytesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upload_bytes_appended_total",
			Help: "Bytes acknowledged by the backend",
		}),
		AppendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upload_append_errors_total",
			Help: "Appends rejected by the backend",
		}),
		DirectUploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upload_direct_total",
				Help: "Single-shot uploads by outcome",
			},
			[]string{"outcome"},
		),
		ReplicationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upload_replication_failures_total",
			Help: "Post-commit replication copies that failed",
		}),
	}

	registry.MustRegister(
		m.SessionsStarted,
		m.SessionsFinished,
		m.SessionsActive,
		m.SessionsReaped,
		m.ChunksAppended,
		m.BytesAppended,
		m.AppendErrors,
		m.DirectUploads,
		m.ReplicationFailures,
	)

	return m
}

// Handler returns the HTTP handler exposing the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
