package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records client side delivery metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	sendsTotal      *prometheus.CounterVec
	fallbacksTotal  *prometheus.CounterVec
	reconnectsTotal prometheus.Counter
	inboundTotal    *prometheus.CounterVec
	connStatus      prometheus.Gauge
	unreadMessages  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_client_sends_total",
				Help: "Total number of outbound messages by transport and result.",
			},
			[]string{"transport", "result"},
		),
		fallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_client_fallbacks_total",
				Help: "Total number of sends retried on the alternate transport.",
			},
			[]string{"from", "to"},
		),
		reconnectsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_client_reconnects_total",
				Help: "Total number of stream reconnect attempts.",
			},
		),
		inboundTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_client_inbound_events_total",
				Help: "Total number of inbound stream events by type.",
			},
			[]string{"event"},
		),
		connStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chat_client_connection_status",
				Help: "Stream connection status: 0 disconnected, 1 connecting, 2 connected.",
			},
		),
		unreadMessages: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chat_client_unread_messages",
				Help: "Number of messages received while the chat view is not visible.",
			},
		),
	}

	reg.MustRegister(
		m.sendsTotal,
		m.fallbacksTotal,
		m.reconnectsTotal,
		m.inboundTotal,
		m.connStatus,
		m.unreadMessages,
	)
	return m
}

func (m *Metrics) IncSend(transport string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sendsTotal.WithLabelValues(transport, result).Inc()
}

// IncRejected counts a message the transport accepted but the backend refused.
func (m *Metrics) IncRejected(transport string) {
	if m == nil {
		return
	}
	m.sendsTotal.WithLabelValues(transport, "rejected").Inc()
}

func (m *Metrics) IncFallback(from, to string) {
	if m == nil {
		return
	}
	m.fallbacksTotal.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}

func (m *Metrics) IncInbound(event string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) SetStatus(s ConnStatus) {
	if m == nil {
		return
	}
	m.connStatus.Set(float64(s))
}

func (m *Metrics) SetUnread(n int) {
	if m == nil {
		return
	}
	m.unreadMessages.Set(float64(n))
}
