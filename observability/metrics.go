// Package observability aggregates engine telemetry: prometheus collectors
// for scraping and a point-in-time snapshot for the debug dashboard.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's prometheus collectors. A nil *Metrics is valid
// and turns every recording call into a no-op, which keeps tests quiet.
type Metrics struct {
	messagesTotal        prometheus.Counter
	privateMessagesTotal prometheus.Counter
	reactionsTotal       prometheus.Counter
	deliveryFailures     prometheus.Counter
	activeConnections    prometheus.Gauge
	degradedMode         prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		messagesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_messages_total",
			Help: "Room messages appended.",
		}),
		privateMessagesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_private_messages_total",
			Help: "Private messages appended.",
		}),
		reactionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_reactions_total",
			Help: "Reaction toggles applied.",
		}),
		deliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_delivery_failures_total",
			Help: "Events that could not be delivered to one recipient.",
		}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatsync_active_connections",
			Help: "Currently registered connections.",
		}),
		degradedMode: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatsync_degraded_mode",
			Help: "1 when the engine has fallen back to ephemeral storage.",
		}),
	}
}

func (m *Metrics) IncMessages() {
	if m != nil {
		m.messagesTotal.Inc()
	}
}

func (m *Metrics) IncPrivateMessages() {
	if m != nil {
		m.privateMessagesTotal.Inc()
	}
}

func (m *Metrics) IncReactions() {
	if m != nil {
		m.reactionsTotal.Inc()
	}
}

func (m *Metrics) IncDeliveryFailures() {
	if m != nil {
		m.deliveryFailures.Inc()
	}
}

func (m *Metrics) SetConnections(n int) {
	if m != nil {
		m.activeConnections.Set(float64(n))
	}
}

func (m *Metrics) SetDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.degradedMode.Set(1)
	} else {
		m.degradedMode.Set(0)
	}
}
