// internal/program/runner.go
package program

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tamzrod/firmata-hub/internal/board"
	"github.com/tamzrod/firmata-hub/internal/executor"
	"github.com/tamzrod/firmata-hub/internal/registry"
	"github.com/tamzrod/firmata-hub/internal/status"
)

// Boards resolves board ids (the registry).
type Boards interface {
	GetBoardByID(id string) (*board.Board, bool)
}

// Request is an EXEC request from the message layer.
type Request struct {
	ProgramID string `json:"programId"`
	BoardID   string `json:"boardId"`

	// Repeat loops the program until HALT or failure.
	Repeat bool `json:"repeat"`
}

// Result describes a finished run.
type Result struct {
	ProgramID string
	BoardID   string
	Runs      int
	Err       error
}

// Runner owns at most one program run per board.
type Runner struct {
	store  *Store
	boards Boards
	exec   *executor.Programs
	log    zerolog.Logger

	// OnFinish, when set, is called after each run ended and the board job was released.
	// Halt returns only after it did.
	OnFinish func(Result)

	mu      sync.Mutex
	running map[string]*run
}

type run struct {
	programID string
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewRunner(store *Store, boards Boards, exec *executor.Programs, log zerolog.Logger) *Runner {
	return &Runner{
		store:   store,
		boards:  boards,
		exec:    exec,
		log:     log,
		running: make(map[string]*run),
	}
}

// Exec validates req and starts the run in the background.
// The run outlives ctx; only Halt or Close stop it.
func (r *Runner) Exec(ctx context.Context, req Request) error {
	p, err := r.store.Get(req.ProgramID)
	if err != nil {
		return err
	}
	b, ok := r.boards.GetBoardByID(req.BoardID)
	if !ok {
		return fmt.Errorf("%w: %q", registry.ErrNotFound, req.BoardID)
	}
	if !strings.EqualFold(p.DeviceType, b.Variant().Name) {
		return fmt.Errorf("%w: program %q is for %s, board %q is %s",
			ErrIncompatible, p.Name, p.DeviceType, b.ID(), b.Variant().Name)
	}

	if err := b.BeginJob(p.Name); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rn := &run{programID: p.ID, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.running[b.ID()] = rn
	r.mu.Unlock()

	r.log.Info().Str("program_id", p.ID).Str("board_id", b.ID()).Bool("repeat", req.Repeat).Msg("program started")

	go r.loop(runCtx, rn, p, b, req.Repeat)
	return nil
}

func (r *Runner) loop(ctx context.Context, rn *run, p Program, b *board.Board, repeat bool) {
	res := Result{ProgramID: p.ID, BoardID: b.ID()}

	defer func() {
		rn.cancel()

		r.mu.Lock()
		if r.running[res.BoardID] == rn {
			delete(r.running, res.BoardID)
		}
		r.mu.Unlock()

		b.EndJob()

		ev := r.log.Info()
		if res.Err != nil {
			ev = r.log.Warn().Err(res.Err)
		}
		ev.Str("program_id", res.ProgramID).Str("board_id", res.BoardID).Int("runs", res.Runs).Msg("program finished")

		if r.OnFinish != nil {
			r.OnFinish(res)
		}
		close(rn.done)
	}()

	for {
		err := r.exec.Execute(ctx, liveBoard{b}, p.Commands)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				res.Err = err
			}
			return
		}
		res.Runs++
		if !repeat || ctx.Err() != nil {
			return
		}
	}
}

// Halt stops the run on boardID before its next command and waits for it to end.
func (r *Runner) Halt(boardID string) error {
	r.mu.Lock()
	rn, ok := r.running[boardID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: board %q", ErrNotRunning, boardID)
	}

	rn.cancel()
	<-rn.done
	return nil
}

// Running returns the program id running on boardID.
func (r *Runner) Running(boardID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rn, ok := r.running[boardID]
	if !ok {
		return "", false
	}
	return rn.programID, true
}

// Close halts every run and waits for all of them.
func (r *Runner) Close() {
	r.mu.Lock()
	runs := make([]*run, 0, len(r.running))
	for _, rn := range r.running {
		runs = append(runs, rn)
	}
	r.mu.Unlock()

	for _, rn := range runs {
		rn.cancel()
		<-rn.done
	}
}

// liveBoard stops a program once its board was removed; commands to a
// closed transport would otherwise only surface as error events.
type liveBoard struct{ b *board.Board }

func (l liveBoard) ExecuteCommand(cmd board.Command) error {
	if l.b.Status() == status.Disconnected {
		return fmt.Errorf("%w: %s", ErrBoardGone, l.b.ID())
	}
	return l.b.ExecuteCommand(cmd)
}
