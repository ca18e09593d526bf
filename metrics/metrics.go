// Package metrics exposes the broker's Prometheus instrumentation: the
// countable signals called out by the Connection Layer, Session Store and
// QoS Engine designs (offline-queue overflow, admission-control rejection,
// inflight depth, retry exhaustion) that have no other observable surface.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the broker's collectors so callers construct and
// register them once at startup and pass the *Registry down to whichever
// component emits each signal.
type Registry struct {
	OfflineQueueOverflow *prometheus.CounterVec
	AdmissionRejected    *prometheus.CounterVec
	InflightMessages     *prometheus.GaugeVec
	RetryExhausted       *prometheus.CounterVec
	StorageErrors        *prometheus.CounterVec
	SessionsActive       prometheus.Gauge
	ConnectionsActive    prometheus.Gauge
}

// New builds a Registry with unregistered collectors. Call Register to
// attach them to a prometheus.Registerer.
func New() *Registry {
	return &Registry{
		OfflineQueueOverflow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_offline_queue_overflow_total",
			Help: "Messages dropped from a session's offline queue because it was full.",
		}, []string{"client_id"}),
		AdmissionRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_admission_rejected_total",
			Help: "Connections rejected by admission control, by reason.",
		}, []string{"reason"}),
		InflightMessages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mqtt_inflight_messages",
			Help: "Current number of QoS 1/2 messages awaiting acknowledgement, per session.",
		}, []string{"client_id"}),
		RetryExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_retry_exhausted_total",
			Help: "QoS retries that exhausted their retry budget without delivery.",
		}, []string{"client_id"}),
		StorageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_storage_errors_total",
			Help: "Durable-backend failures absorbed during ingestion, by operation.",
		}, []string{"operation"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_sessions_active",
			Help: "Current number of sessions held by the session store.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_connections_active",
			Help: "Current number of live network connections.",
		}),
	}
}

// Register attaches every collector in r to reg. Collectors already
// registered elsewhere (AlreadyRegisteredError) are left as-is rather than
// treated as a failure, so repeated Register calls across tests are safe.
func (r *Registry) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		r.OfflineQueueOverflow,
		r.AdmissionRejected,
		r.InflightMessages,
		r.RetryExhausted,
		r.StorageErrors,
		r.SessionsActive,
		r.ConnectionsActive,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
