package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ignore reasons for Metrics.MessagesIgnored. Client-facing behavior
// stays silent for all of these; the counters exist so operators can
// see the drops.
const (
	ReasonMalformed     = "malformed"
	ReasonUnknownType   = "unknown_type"
	ReasonPreLogin      = "pre_login"
	ReasonInvalidSymbol = "invalid_symbol"
	ReasonEmptyField    = "empty_field"
	ReasonRebind        = "rebind"
)

type Metrics struct {
	registry *prometheus.Registry

	ConnectionsActive prometheus.Gauge
	MessagesIgnored   *prometheus.CounterVec
	MessagesDropped   prometheus.Counter
	BroadcastsTotal   prometheus.Counter
	TicksTotal        prometheus.Counter
	UpgradesRejected  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tickerhub_connections_active",
			Help: "Currently open client connections.",
		}),
		MessagesIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickerhub_messages_ignored_total",
			Help: "Inbound messages silently dropped, by reason.",
		}, []string{"reason"}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickerhub_messages_dropped_total",
			Help: "Outbound messages dropped because a connection's send buffer was full.",
		}),
		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickerhub_broadcasts_total",
			Help: "Per-account broadcast operations issued.",
		}),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickerhub_ticks_total",
			Help: "Price tick cycles executed.",
		}),
		UpgradesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickerhub_upgrades_rejected_total",
			Help: "WebSocket upgrades refused by the rate limiter.",
		}),
	}

	reg.MustRegister(
		m.ConnectionsActive,
		m.MessagesIgnored,
		m.MessagesDropped,
		m.BroadcastsTotal,
		m.TicksTotal,
		m.UpgradesRejected,
	)
	return m
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
