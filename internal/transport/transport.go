// internal/transport/transport.go
package transport

import (
	"errors"

	"github.com/tamzrod/firmata-hub/internal/firmata"
)

// Kind tags the physical link type.
type Kind string

const (
	KindSerial   Kind = "serial"
	KindEthernet Kind = "ethernet"
)

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("transport: connection closed")
	// ErrSend wraps a failed write to the device.
	ErrSend = errors.New("transport: send failed")
)

// Identity is what the device reported during the handshake.
type Identity struct {
	Protocol firmata.ProtocolVersion
	Firmware firmata.Firmware
}

// Handler receives connection events.
// Callbacks run on the connection's read goroutine and must not block for long.
type Handler interface {
	// OnReady fires once, when both handshake replies have arrived.
	OnReady(id Identity)
	// OnData fires for every decoded message, including handshake replies.
	OnData(m firmata.Message)
	// OnDisconnect fires at most once, when the link dies without Close.
	OnDisconnect(err error)
	// OnError reports a non-fatal link problem.
	OnError(err error)
}

// Conn is one link to one Firmata device.
// OPEN -> Start -> (ready once) -> ACTIVE -> CLOSED.
type Conn interface {
	Kind() Kind
	Addr() string

	// Start attaches h, starts reading and sends the handshake queries.
	// Only the first call has any effect.
	Start(h Handler)

	// Send writes one frame.
	Send(p []byte) error

	// Detach drops the handler; no callback fires afterwards.
	Detach()

	// Close releases the link. Safe to call more than once.
	Close() error
}
