// internal/program/store.go
package program

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tamzrod/firmata-hub/internal/board"
)

var (
	ErrNotFound     = errors.New("program: not found")
	ErrInvalid      = errors.New("program: invalid")
	ErrNotRunning   = errors.New("program: not running")
	ErrIncompatible = errors.New("program: incompatible device type")
	ErrBoardGone    = errors.New("program: board disconnected")
)

// Program is a named, ordered command list for one board type.
type Program struct {
	ID         string          `json:"id" yaml:"id"`
	Name       string          `json:"name" yaml:"name"`
	DeviceType string          `json:"deviceType" yaml:"device_type"`
	Commands   []board.Command `json:"commands" yaml:"commands"`
}

// Validate checks the program against its board type's capability table.
// It never mutates p.
func (p Program) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalid)
	}
	v, err := board.LookupVariant(p.DeviceType)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if len(p.Commands) == 0 {
		return fmt.Errorf("%w: at least one command required", ErrInvalid)
	}

	known := make(map[string]struct{})
	for _, c := range v.Commands() {
		known[c] = struct{}{}
	}
	for i, c := range p.Commands {
		if _, ok := known[c.Action]; !ok {
			return fmt.Errorf("%w: command %d: %q is not available on %s", ErrInvalid, i, c.Action, v.Name)
		}
		if c.DurationMs < 0 || c.DurationMs > board.MaxDurationMs {
			return fmt.Errorf("%w: command %d: duration %dms outside 0..%d", ErrInvalid, i, c.DurationMs, board.MaxDurationMs)
		}
	}
	return nil
}

// Store keeps programs in memory.
type Store struct {
	mu       sync.RWMutex
	programs map[string]Program
}

// NewStore seeds the store; seeds without an id get one.
func NewStore(seed ...Program) (*Store, error) {
	s := &Store{programs: make(map[string]Program)}
	for _, p := range seed {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("seed %q: %w", p.Name, err)
		}
		s.programs[p.ID] = clone(p)
	}
	return s, nil
}

func (s *Store) Get(id string) (Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.programs[id]
	if !ok {
		return Program{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return clone(p), nil
}

// List returns every program ordered by name, then id.
func (s *Store) List() []Program {
	s.mu.RLock()
	out := make([]Program, 0, len(s.programs))
	for _, p := range s.programs {
		out = append(out, clone(p))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Create stores p under a new id (any id in p is ignored).
func (s *Store) Create(p Program) (Program, error) {
	if err := p.Validate(); err != nil {
		return Program{}, err
	}
	p.ID = uuid.NewString()

	s.mu.Lock()
	s.programs[p.ID] = clone(p)
	s.mu.Unlock()
	return clone(p), nil
}

// Put replaces an existing program.
func (s *Store) Put(p Program) (Program, error) {
	if err := p.Validate(); err != nil {
		return Program{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.programs[p.ID]; !ok {
		return Program{}, fmt.Errorf("%w: %q", ErrNotFound, p.ID)
	}
	s.programs[p.ID] = clone(p)
	return clone(p), nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.programs[id]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	delete(s.programs, id)
	return nil
}

func clone(p Program) Program {
	cmds := make([]board.Command, len(p.Commands))
	copy(cmds, p.Commands)
	p.Commands = cmds
	return p
}
