package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors exported on /metrics.
type Metrics struct {
	// MessagesTotal counts accepted inbound messages. Labels: type.
	MessagesTotal *prometheus.CounterVec
	// RejectedTotal counts frames dropped before dispatch. Labels: reason.
	RejectedTotal *prometheus.CounterVec
	// SlowSessionsTotal counts sessions closed because their queue filled.
	SlowSessionsTotal prometheus.Counter
	// EvictedRoomsTotal counts rooms removed by the idle janitor.
	EvictedRoomsTotal prometheus.Counter
	// Connections is the number of live WebSocket sessions.
	Connections prometheus.Gauge
}

// Sizer reports the registry size for the room and member gauges.
type Sizer interface {
	RoomCount() int
	MemberCount() int
}

// NewMetrics registers collectors on reg. sizer may be nil.
func NewMetrics(reg prometheus.Registerer, sizer Sizer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "localboard_messages_total",
			Help: "Inbound protocol messages accepted, by type",
		}, []string{"type"}),
		RejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "localboard_rejected_frames_total",
			Help: "Inbound frames rejected before dispatch, by reason",
		}, []string{"reason"}),
		SlowSessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "localboard_slow_sessions_total",
			Help: "Sessions disconnected because their outbound queue was full",
		}),
		EvictedRoomsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "localboard_evicted_rooms_total",
			Help: "Idle rooms removed from the registry",
		}),
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "localboard_connections",
			Help: "Live WebSocket sessions",
		}),
	}
	if sizer != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "localboard_rooms",
			Help: "Rooms currently held in memory",
		}, func() float64 { return float64(sizer.RoomCount()) })
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "localboard_room_members",
			Help: "Sessions joined to a room",
		}, func() float64 { return float64(sizer.MemberCount()) })
	}
	return m
}

func (m *Metrics) Message(typ string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(typ).Inc()
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.RejectedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) SlowSession() {
	if m == nil {
		return
	}
	m.SlowSessionsTotal.Inc()
}

func (m *Metrics) Evicted(n int) {
	if m == nil {
		return
	}
	m.EvictedRoomsTotal.Add(float64(n))
}

func (m *Metrics) Connected() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) Disconnected() {
	if m == nil {
		return
	}
	m.Connections.Dec()
}
