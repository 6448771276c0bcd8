// internal/board/errors.go
package board

import "errors"

var (
	// ErrInvalidCommand: the action is not in the board's capability table.
	ErrInvalidCommand = errors.New("board: invalid command")
	// ErrInvalidParameters: the action exists but its parameters do not fit.
	ErrInvalidParameters = errors.New("board: invalid parameters")
	// ErrBoardBusy: a program already holds the job marker.
	ErrBoardBusy = errors.New("board: busy")
	// ErrTransport: a frame could not be written to the device.
	ErrTransport = errors.New("board: transport error")
	// ErrUnknownVariant: no capability table for the requested variant.
	ErrUnknownVariant = errors.New("board: unknown variant")
)
