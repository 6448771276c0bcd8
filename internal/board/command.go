// internal/board/command.go
package board

import (
	"fmt"
	"time"
)

// MaxDurationMs caps the settle delay a single command may ask for (one hour).
const MaxDurationMs = 60 * 60 * 1000

// Command is one action request. Immutable once built.
type Command struct {
	BoardID    string `json:"boardId,omitempty" yaml:"board_id,omitempty"`
	Action     string `json:"action" yaml:"action"`
	Parameters []any  `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	DurationMs int    `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// CheckDuration rejects settle delays outside 0..MaxDurationMs.
func (c Command) CheckDuration() error {
	if c.DurationMs < 0 || c.DurationMs > MaxDurationMs {
		return fmt.Errorf("%w: duration %dms outside 0..%d", ErrInvalidParameters, c.DurationMs, MaxDurationMs)
	}
	return nil
}

// Settle returns the post-command settle delay, falling back to def when unset.
// Values above MaxDurationMs are clamped.
func (c Command) Settle(def time.Duration) time.Duration {
	switch {
	case c.DurationMs > MaxDurationMs:
		return MaxDurationMs * time.Millisecond
	case c.DurationMs > 0:
		return time.Duration(c.DurationMs) * time.Millisecond
	default:
		return def
	}
}
