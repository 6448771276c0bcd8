// internal/executor/commands.go
package executor

import (
	"context"
	"time"

	"k8s.io/utils/clock"

	"github.com/tamzrod/firmata-hub/internal/board"
)

const DefaultSettle = 100 * time.Millisecond

// Target is anything that runs a single command: a Board, or the Registry routing by id.
type Target interface {
	ExecuteCommand(cmd board.Command) error
}

// Observer sees every finished command, including its settle time.
type Observer func(cmd board.Command, err error, took time.Duration)

type Option func(*Commands)

// WithObserver registers fn on the executor. Observers run in registration order.
func WithObserver(fn Observer) Option {
	return func(c *Commands) {
		if fn != nil {
			c.observers = append(c.observers, fn)
		}
	}
}

// Commands runs one command and then holds the caller for the settle delay.
// Actuators need the pause; back-to-back frames also confuse some firmwares.
type Commands struct {
	clk       clock.Clock
	settle    time.Duration
	observers []Observer
}

func NewCommands(clk clock.Clock, settle time.Duration, opts ...Option) *Commands {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	c := &Commands{clk: clk, settle: settle}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Execute runs cmd on t, then waits cmd's duration (or the default).
// Errors from t are returned unchanged. A done ctx cuts the wait short.
func (c *Commands) Execute(ctx context.Context, t Target, cmd board.Command) (err error) {
	start := c.clk.Now()
	defer func() { c.observe(cmd, err, c.clk.Since(start)) }()

	if err := t.ExecuteCommand(cmd); err != nil {
		return err
	}

	timer := c.clk.NewTimer(cmd.Settle(c.settle))
	defer timer.Stop()

	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Commands) observe(cmd board.Command, err error, took time.Duration) {
	for _, fn := range c.observers {
		fn(cmd, err, took)
	}
}
