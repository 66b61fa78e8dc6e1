package billing

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the Prometheus collectors for schedule operations. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Reconciliations    *prometheus.CounterVec
	RemoteCalls        *prometheus.CounterVec
	RemoteCallDuration *prometheus.HistogramVec
}

// NewMetrics creates a Metrics with its own registry under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "schedulesync"
	}
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		Reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "reconciliations_total",
			Help:      "Total number of schedule phase reconciliations by outcome",
		}, []string{"outcome"}),
		RemoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "remote_calls_total",
			Help:      "Total number of calls to the remote schedule service",
		}, []string{"operation", "status"}),
		RemoteCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "remote_call_duration_seconds",
			Help:      "Duration of calls to the remote schedule service in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(m.Reconciliations, m.RemoteCalls, m.RemoteCallDuration)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler that serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordReconciliation increments the reconciliation counter.
func (m *Metrics) RecordReconciliation(outcome string) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(outcome).Inc()
}

// RecordRemoteCall records a remote call and its duration.
func (m *Metrics) RecordRemoteCall(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RemoteCalls.WithLabelValues(operation, status).Inc()
	m.RemoteCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
