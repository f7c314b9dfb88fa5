package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agora"

// Metrics holds the realtime collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	onlineUsers      prometheus.Gauge
	sessions         prometheus.Gauge
	rooms            prometheus.Gauge
	eventsDelivered  *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	messagesSent     prometheus.Counter
	reactionsChanged *prometheus.CounterVec
	denied           *prometheus.CounterVec
	relayed          *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		onlineUsers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Users with at least one live session.",
		}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Live transport sessions.",
		}),
		rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Channel rooms with at least one subscribed session.",
		}),
		eventsDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Events handed to session transports.",
		}, []string{"event"}),
		deliveryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Per-session deliveries that failed during fan-out.",
		}, []string{"reason"}),
		messagesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages persisted and fanned out.",
		}),
		reactionsChanged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reactions_changed_total",
			Help:      "Reaction mutations applied.",
		}, []string{"op"}),
		denied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_denied_total",
			Help:      "Client actions rejected by the channel access guard.",
		}, []string{"action"}),
		relayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_envelopes_total",
			Help:      "Envelopes exchanged with other instances.",
		}, []string{"direction"}),
	}
}

// SetPresence records the registry size.
func (m *Metrics) SetPresence(users, sessions int) {
	if m == nil {
		return
	}
	m.onlineUsers.Set(float64(users))
	m.sessions.Set(float64(sessions))
}

// SetRooms records the number of live rooms.
func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

// Delivered counts a successful delivery of event.
func (m *Metrics) Delivered(event string) {
	if m == nil {
		return
	}
	m.eventsDelivered.WithLabelValues(event).Inc()
}

// DeliveryFailed counts a failed per-session delivery.
func (m *Metrics) DeliveryFailed(reason string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(reason).Inc()
}

// MessageSent counts a persisted message.
func (m *Metrics) MessageSent() {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
}

// ReactionChanged counts a reaction add or remove.
func (m *Metrics) ReactionChanged(op string) {
	if m == nil {
		return
	}
	m.reactionsChanged.WithLabelValues(op).Inc()
}

// Denied counts an action rejected for lack of access.
func (m *Metrics) Denied(action string) {
	if m == nil {
		return
	}
	m.denied.WithLabelValues(action).Inc()
}

// Relayed counts an envelope published ("out") or received ("in").
func (m *Metrics) Relayed(direction string) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(direction).Inc()
}
