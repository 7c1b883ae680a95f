package kv

// ConnState is the connection manager's position in its lifecycle.
type ConnState int32

const (
	// StateDisconnected means no backend is active and no cycle is running.
	StateDisconnected ConnState = iota
	// StateConnecting means the initial connection attempt is in flight.
	StateConnecting
	// StateConnected means the remote backend is serving commands.
	StateConnected
	// StateReconnecting means a reconnect cycle is running.
	StateReconnecting
	// StateFailed means reconnect attempts were exhausted (or in-memory mode
	// was forced) and the in-process engine is serving commands.
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Event identifies a connection lifecycle change published to observers.
type Event string

const (
	// EventConnect fires when the remote backend becomes active, both on the
	// initial connect and after a successful reconnect.
	EventConnect Event = "connect"
	// EventDisconnect fires when an established remote connection is lost.
	EventDisconnect Event = "disconnect"
	// EventReconnecting fires once per reconnect cycle, before the first
	// attempt.
	EventReconnecting Event = "reconnecting"
	// EventFallback fires when the manager gives up on the remote store and
	// pins the in-memory engine.
	EventFallback Event = "fallback"
)

// Listener receives connection lifecycle events. Listeners run synchronously
// on the manager's goroutine and must not block.
type Listener func(Event, ConnState)
