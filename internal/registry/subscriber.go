// internal/registry/subscriber.go
package registry

import "github.com/tamzrod/firmata-hub/internal/board"

// Connected is fired after a board is inserted.
// IsNew is false when the same id was connected before in this process.
type Connected struct {
	Board *board.Board
	IsNew bool
}

// Updated is fired when a registered board's state changed.
type Updated struct {
	Board *board.Board
}

// Disconnected is fired after a board was removed and closed.
type Disconnected struct {
	Board  *board.Board
	Reason board.DisconnectReason
}

// Error carries a transport problem of a registered board.
type Error struct {
	Board *board.Board
	Err   error
}

// Subscriber receives lifecycle events synchronously.
// Implementations must not block; they may call back into the registry.
type Subscriber interface {
	BoardConnected(Connected)
	BoardUpdated(Updated)
	BoardDisconnected(Disconnected)
	BoardError(Error)
}

// Funcs adapts plain functions to Subscriber. Nil fields are skipped.
type Funcs struct {
	OnConnected    func(Connected)
	OnUpdated      func(Updated)
	OnDisconnected func(Disconnected)
	OnError        func(Error)
}

func (f Funcs) BoardConnected(e Connected) {
	if f.OnConnected != nil {
		f.OnConnected(e)
	}
}

func (f Funcs) BoardUpdated(e Updated) {
	if f.OnUpdated != nil {
		f.OnUpdated(e)
	}
}

func (f Funcs) BoardDisconnected(e Disconnected) {
	if f.OnDisconnected != nil {
		f.OnDisconnected(e)
	}
}

func (f Funcs) BoardError(e Error) {
	if f.OnError != nil {
		f.OnError(e)
	}
}
