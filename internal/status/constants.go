// internal/status/constants.go
package status

import "fmt"

// Board lifecycle states.
// These values are part of the client protocol and MUST NOT be renamed.

// Status is the lifecycle state of one board.
type Status int

// Connecting is the state from construction until the transport reports ready.
const Connecting Status = 0

// Ready is the state once the heartbeat is running.
const Ready Status = 1

// Disconnected is terminal. The board is inert: no timers, no transport.
const Disconnected Status = 2

// ---- JOB MARKER ----

// JobIdle is the current-job value of a board that runs no program.
const JobIdle = "IDLE"

func (s Status) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Ready:
		return "READY"
	case Disconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "CONNECTING":
		*s = Connecting
	case "READY":
		*s = Ready
	case "DISCONNECTED":
		*s = Disconnected
	default:
		return fmt.Errorf("status: unknown %q", b)
	}
	return nil
}
