// internal/executor/programs.go
package executor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tamzrod/firmata-hub/internal/board"
)

// Programs runs command lists strictly in order.
type Programs struct {
	cmds *Commands
	log  zerolog.Logger
}

func NewPrograms(cmds *Commands, log zerolog.Logger) *Programs {
	return &Programs{cmds: cmds, log: log}
}

// Execute runs commands one after another, each including its settle delay.
//
// All-or-nothing: the first failure aborts the run; nothing is rolled back
// or retried. Cancellation is checked before each command starts; a command
// already running (and its settle wait) always completes.
func (p *Programs) Execute(ctx context.Context, t Target, commands []board.Command) error {
	for i, cmd := range commands {
		if err := ctx.Err(); err != nil {
			p.log.Info().Int("step", i).Int("steps", len(commands)).Msg("program halted")
			return fmt.Errorf("executor: halted before step %d: %w", i, err)
		}

		if err := p.cmds.Execute(context.WithoutCancel(ctx), t, cmd); err != nil {
			p.log.Warn().Err(err).Int("step", i).Str("action", cmd.Action).Msg("program aborted")
			return fmt.Errorf("executor: step %d (%s): %w", i, cmd.Action, err)
		}
	}
	return nil
}
