package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus implements Metrics with counter vectors registered against
// a caller-supplied registerer.
type Prometheus struct {
	connectionsOpened prometheus.Counter
	connectionsClosed prometheus.Counter

	sessionsCreated     prometheus.Counter
	sessionsSuspended   prometheus.Counter
	sessionsClosed      prometheus.Counter
	sessionsReconnected prometheus.Counter

	messagesReceived *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec

	errors *prometheus.CounterVec

	roomsJoined prometheus.Counter
	roomsLeft   prometheus.Counter
}

// NewPrometheus builds and registers the metric family on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		connectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsrelay_connections_opened_total",
			Help: "Total WebSocket connections opened.",
		}),
		connectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsrelay_connections_closed_total",
			Help: "Total WebSocket connections closed.",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsrelay_sessions_created_total",
			Help: "Total sessions created.",
		}),
		sessionsSuspended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsrelay_sessions_suspended_total",
			Help: "Total sessions transitioned to suspended.",
		}),
		sessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsrelay_sessions_closed_total",
			Help: "Total sessions closed.",
		}),
		sessionsReconnected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsrelay_sessions_reconnected_total",
			Help: "Total successful reconnections.",
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsrelay_messages_received_total",
			Help: "Total inbound messages by event name.",
		}, []string{"event"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsrelay_messages_sent_total",
			Help: "Total outbound messages by event name.",
		}, []string{"event"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsrelay_errors_total",
			Help: "Total errors by taxonomy kind.",
		}, []string{"kind"}),
		roomsJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsrelay_room_joins_total",
			Help: "Total room joins.",
		}),
		roomsLeft: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsrelay_room_leaves_total",
			Help: "Total room leaves.",
		}),
	}

	reg.MustRegister(
		p.connectionsOpened, p.connectionsClosed,
		p.sessionsCreated, p.sessionsSuspended, p.sessionsClosed, p.sessionsReconnected,
		p.messagesReceived, p.messagesSent, p.errors,
		p.roomsJoined, p.roomsLeft,
	)
	return p
}

func (p *Prometheus) ConnectionOpened()   { p.connectionsOpened.Inc() }
func (p *Prometheus) ConnectionClosed()   { p.connectionsClosed.Inc() }
func (p *Prometheus) SessionCreated()     { p.sessionsCreated.Inc() }
func (p *Prometheus) SessionSuspended()   { p.sessionsSuspended.Inc() }
func (p *Prometheus) SessionClosed()      { p.sessionsClosed.Inc() }
func (p *Prometheus) SessionReconnected() { p.sessionsReconnected.Inc() }

func (p *Prometheus) MessageReceived(event string) { p.messagesReceived.WithLabelValues(event).Inc() }
func (p *Prometheus) MessageSent(event string)     { p.messagesSent.WithLabelValues(event).Inc() }

func (p *Prometheus) Error(kind string) { p.errors.WithLabelValues(kind).Inc() }

func (p *Prometheus) RoomJoined() { p.roomsJoined.Inc() }
func (p *Prometheus) RoomLeft()   { p.roomsLeft.Inc() }
