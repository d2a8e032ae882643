package session

// State is the transport selector state of a trip session.
type State string

const (
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateDegraded   State = "degraded"
	StateClosed     State = "closed"
)

type Event string

const (
	EventConnectSucceeded Event = "connect_succeeded"
	EventConnectFailed    Event = "connect_failed"
	EventConnectionLost   Event = "connection_lost"
	EventOffline          Event = "offline"
	EventLeave            Event = "leave"
)

// Mode is the ingestion path a state implies.
type Mode string

const (
	ModeMQTT    Mode = "mqtt"
	ModePolling Mode = "http-polling"
	ModeOffline Mode = "offline"
)

// Transition is the selector's only transition function. Closed is terminal.
func Transition(s State, e Event) State {
	if s == StateClosed || e == EventLeave {
		return StateClosed
	}
	switch e {
	case EventConnectSucceeded:
		return StateConnected
	case EventConnectFailed, EventConnectionLost, EventOffline:
		return StateDegraded
	}
	return s
}

func (s State) Mode() Mode {
	switch s {
	case StateConnected:
		return ModeMQTT
	case StateDegraded:
		return ModePolling
	default:
		return ModeOffline
	}
}
