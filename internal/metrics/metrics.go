package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus collectors used by the chat server.
type Registry struct {
	Sessions  sessionMetrics
	Rooms     roomMetrics
	Envelopes envelopeMetrics
	Pool      poolMetrics
}

type sessionMetrics struct {
	Active prometheus.Gauge
}

type roomMetrics struct {
	Active prometheus.Gauge
}

type envelopeMetrics struct {
	Received     prometheus.Counter
	AuthRejected prometheus.Counter
}

type poolMetrics struct {
	Replenished prometheus.Counter
}

// NewRegistry creates Prometheus metrics collectors.
func NewRegistry() *Registry {
	return &Registry{
		Sessions: sessionMetrics{
			Active: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "relay_chat_sessions_active",
				Help: "Number of live client connections",
			}),
		},
		Rooms: roomMetrics{
			Active: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "relay_chat_rooms_active",
				Help: "Number of rooms with at least one connected member",
			}),
		},
		Envelopes: envelopeMetrics{
			Received: promauto.NewCounter(prometheus.CounterOpts{
				Name: "relay_chat_envelopes_received_total",
				Help: "Total envelopes decoded from client connections",
			}),
			AuthRejected: promauto.NewCounter(prometheus.CounterOpts{
				Name: "relay_chat_auth_rejected_total",
				Help: "Total requests rejected by the authentication gate",
			}),
		},
		Pool: poolMetrics{
			Replenished: promauto.NewCounter(prometheus.CounterOpts{
				Name: "relay_chat_db_pool_replenished_total",
				Help: "Total broken database connections replaced in the pool",
			}),
		},
	}
}

// Handler returns an HTTP handler exposing Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
