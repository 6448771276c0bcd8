// internal/board/event.go
package board

// EventKind classifies what a board reports to its sink.
type EventKind int

const (
	// EventUpdate: board state changed or liveness was refreshed.
	EventUpdate EventKind = iota
	// EventDisconnect: the board must be removed.
	EventDisconnect
	// EventError: a transport problem that does not by itself remove the board.
	EventError
)

// DisconnectReason says why a board left.
type DisconnectReason string

const (
	ReasonHeartbeatTimeout DisconnectReason = "heartbeat_timeout"
	ReasonTransportClosed  DisconnectReason = "transport_closed"
	ReasonRemoved          DisconnectReason = "removed"
)

// Event is one board notification.
type Event struct {
	Kind   EventKind
	Reason DisconnectReason // EventDisconnect only
	Err    error            // EventError only
}

// Sink consumes board events. The registry is the production sink.
// Called without any board lock held.
type Sink interface {
	HandleBoardEvent(b *Board, ev Event)
}
