// internal/registry/registry.go
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tamzrod/firmata-hub/internal/board"
)

// ErrNotFound: no connected board has the requested id.
var ErrNotFound = errors.New("registry: board not found")

// Registry is the single source of truth for "what is connected now".
// Mutations commit under the lock; subscribers are notified after, in order.
type Registry struct {
	log  zerolog.Logger
	subs []Subscriber

	mu     sync.RWMutex
	boards map[string]*board.Board
	seen   map[string]struct{}
}

// New creates a registry. The subscriber list is fixed for its lifetime.
func New(log zerolog.Logger, subs ...Subscriber) *Registry {
	fixed := make([]Subscriber, 0, len(subs))
	for _, s := range subs {
		if s != nil {
			fixed = append(fixed, s)
		}
	}
	return &Registry{
		log:    log,
		subs:   fixed,
		boards: make(map[string]*board.Board),
		seen:   make(map[string]struct{}),
	}
}

// AddBoard registers b unless its id is already taken.
// Returns false for a duplicate; the caller owns the rejected board.
func (r *Registry) AddBoard(b *board.Board) bool {
	id := b.ID()
	if id == "" {
		r.log.Warn().Str("addr", b.Address()).Msg("board without id rejected")
		return false
	}

	r.mu.Lock()
	if _, exists := r.boards[id]; exists {
		r.mu.Unlock()
		r.log.Warn().Str("board_id", id).Str("addr", b.Address()).Msg("duplicate board ignored")
		return false
	}
	_, known := r.seen[id]
	r.boards[id] = b
	r.seen[id] = struct{}{}
	r.mu.Unlock()

	r.log.Info().Str("board_id", id).Str("addr", b.Address()).Bool("new", !known).Msg("board connected")

	ev := Connected{Board: b, IsNew: !known}
	for _, s := range r.subs {
		s.BoardConnected(ev)
	}
	return true
}

// RemoveBoard drops the board with id. Absent ids are a no-op.
func (r *Registry) RemoveBoard(id string) {
	r.remove(id, nil, board.ReasonRemoved)
}

// remove drops id; when inst is set, only if the registered board is that instance.
// A late event from a replaced board must not remove its successor.
func (r *Registry) remove(id string, inst *board.Board, reason board.DisconnectReason) bool {
	r.mu.Lock()
	b, ok := r.boards[id]
	if !ok || (inst != nil && b != inst) {
		r.mu.Unlock()
		return false
	}
	b.ClearAllTimers()
	delete(r.boards, id)
	r.mu.Unlock()

	if err := b.Close(); err != nil {
		r.log.Debug().Err(err).Str("board_id", id).Msg("transport close")
	}

	r.log.Info().Str("board_id", id).Str("reason", string(reason)).Msg("board disconnected")

	ev := Disconnected{Board: b, Reason: reason}
	for _, s := range r.subs {
		s.BoardDisconnected(ev)
	}
	return true
}

// UpdateBoard re-broadcasts the state of a registered board.
func (r *Registry) UpdateBoard(b *board.Board) {
	if !r.registered(b) {
		return
	}
	ev := Updated{Board: b}
	for _, s := range r.subs {
		s.BoardUpdated(ev)
	}
}

// ExecuteCommand routes cmd to the board named by cmd.BoardID.
func (r *Registry) ExecuteCommand(cmd board.Command) error {
	b, ok := r.GetBoardByID(cmd.BoardID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, cmd.BoardID)
	}
	return b.ExecuteCommand(cmd)
}

// GetBoardByID is a lookup; absence is not an error.
func (r *Registry) GetBoardByID(id string) (*board.Board, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.boards[id]
	return b, ok
}

// BoardByAddress finds a registered board by transport address (port name, remote addr).
func (r *Registry) BoardByAddress(addr string) (*board.Board, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.boards {
		if b.Address() == addr {
			return b, true
		}
	}
	return nil, false
}

// Boards returns the registered boards ordered by id.
func (r *Registry) Boards() []*board.Board {
	r.mu.RLock()
	out := make([]*board.Board, 0, len(r.boards))
	for _, b := range r.boards {
		out = append(out, b)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len is the number of connected boards.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.boards)
}

// Close removes every board (shutdown).
func (r *Registry) Close() {
	for _, b := range r.Boards() {
		r.RemoveBoard(b.ID())
	}
}

// HandleBoardEvent implements board.Sink.
func (r *Registry) HandleBoardEvent(b *board.Board, ev board.Event) {
	switch ev.Kind {
	case board.EventUpdate:
		r.UpdateBoard(b)
	case board.EventDisconnect:
		r.remove(b.ID(), b, ev.Reason)
	case board.EventError:
		if !r.registered(b) {
			return
		}
		e := Error{Board: b, Err: ev.Err}
		for _, s := range r.subs {
			s.BoardError(e)
		}
	}
}

func (r *Registry) registered(b *board.Board) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur, ok := r.boards[b.ID()]
	return ok && cur == b
}
