// internal/wsapi/handler.go
package wsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tamzrod/firmata-hub/internal/board"
	"github.com/tamzrod/firmata-hub/internal/executor"
	"github.com/tamzrod/firmata-hub/internal/program"
	"github.com/tamzrod/firmata-hub/internal/registry"
	"github.com/tamzrod/firmata-hub/internal/status"
)

const (
	TopicBoard   = "board"
	TopicCommand = "command"
	TopicProgram = "program"
)

// Request is the client envelope. ID is echoed back in the reply.
type Request struct {
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Reply answers exactly one Request.
type Reply struct {
	ID      string     `json:"id,omitempty"`
	Topic   string     `json:"topic"`
	Action  string     `json:"action"`
	OK      bool       `json:"ok"`
	Error   *ErrorBody `json:"error,omitempty"`
	Payload any        `json:"payload,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Services are the core components the control channel drives.
type Services struct {
	Hub      *Hub
	Registry *registry.Registry
	Commands *executor.Commands
	Programs *program.Store
	Runner   *program.Runner
}

// Handler upgrades /ws requests and serves the control protocol.
type Handler struct {
	svc      Services
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewHandler(svc Services, log zerolog.Logger) (*Handler, error) {
	if svc.Hub == nil || svc.Registry == nil || svc.Commands == nil || svc.Programs == nil || svc.Runner == nil {
		return nil, errors.New("wsapi: hub, registry, commands, programs and runner required")
	}
	return &Handler{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}

	c := newClient(uuid.NewString(), conn)
	log := h.log.With().Str("client", c.id).Logger()
	log.Info().Str("remote", r.RemoteAddr).Msg("client connected")

	// initial state first, then live events
	h.svc.Hub.join(c, func() Event {
		return Event{Event: EventBoards, Boards: h.snapshots()}
	})
	go c.writeLoop()

	defer func() {
		h.svc.Hub.remove(c)
		c.close()
		log.Info().Msg("client disconnected")
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := r.Context()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("read")
			}
			return
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			h.push(c, Reply{OK: false, Error: &ErrorBody{Code: "BAD_REQUEST", Message: err.Error()}})
			continue
		}

		h.push(c, h.dispatch(ctx, req))
	}
}

func (h *Handler) push(c *client, v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("encode reply")
		return
	}
	if !c.enqueue(msg) {
		h.log.Warn().Str("client", c.id).Msg("reply dropped")
	}
}

// dispatch handles one request. Commands run inline so a client's
// commands reach the device in the order it sent them.
func (h *Handler) dispatch(ctx context.Context, req Request) Reply {
	rep := Reply{ID: req.ID, Topic: req.Topic, Action: req.Action}

	payload, err := h.route(ctx, req)
	if err != nil {
		rep.Error = &ErrorBody{Code: Code(err), Message: err.Error()}
		return rep
	}
	rep.OK = true
	rep.Payload = payload
	return rep
}

var errBadRequest = errors.New("bad request")

func (h *Handler) route(ctx context.Context, req Request) (any, error) {
	switch req.Topic {
	case TopicBoard:
		return h.board(req)
	case TopicCommand:
		return h.command(ctx, req)
	case TopicProgram:
		return h.program(ctx, req)
	default:
		return nil, fmt.Errorf("%w: unknown topic %q", errBadRequest, req.Topic)
	}
}

// ---- board ----

func (h *Handler) board(req Request) (any, error) {
	if req.Action != "GET" {
		return nil, fmt.Errorf("%w: board %s", errBadRequest, req.Action)
	}

	var q struct {
		BoardID string `json:"boardId"`
	}
	if err := decode(req.Payload, &q); err != nil {
		return nil, err
	}
	if q.BoardID == "" {
		return h.snapshots(), nil
	}

	b, ok := h.svc.Registry.GetBoardByID(q.BoardID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", registry.ErrNotFound, q.BoardID)
	}
	return b.Snapshot(), nil
}

func (h *Handler) snapshots() []status.Snapshot {
	boards := h.svc.Registry.Boards()
	out := make([]status.Snapshot, 0, len(boards))
	for _, b := range boards {
		out = append(out, b.Snapshot())
	}
	return out
}

// ---- command ----

func (h *Handler) command(ctx context.Context, req Request) (any, error) {
	if req.Action != "EXEC" {
		return nil, fmt.Errorf("%w: command %s", errBadRequest, req.Action)
	}

	var cmd board.Command
	if err := decode(req.Payload, &cmd); err != nil {
		return nil, err
	}
	if err := h.svc.Commands.Execute(ctx, h.svc.Registry, cmd); err != nil {
		return nil, err
	}

	b, ok := h.svc.Registry.GetBoardByID(cmd.BoardID)
	if !ok {
		return nil, nil
	}
	return b.Snapshot(), nil
}

// ---- program ----

func (h *Handler) program(ctx context.Context, req Request) (any, error) {
	store := h.svc.Programs

	switch req.Action {
	case "GET":
		var q struct {
			ProgramID string `json:"programId"`
		}
		if err := decode(req.Payload, &q); err != nil {
			return nil, err
		}
		if q.ProgramID == "" {
			return store.List(), nil
		}
		return store.Get(q.ProgramID)

	case "POST":
		var p program.Program
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return store.Create(p)

	case "PUT":
		var p program.Program
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return store.Put(p)

	case "DELETE":
		var q struct {
			ProgramID string `json:"programId"`
		}
		if err := decode(req.Payload, &q); err != nil {
			return nil, err
		}
		return nil, store.Delete(q.ProgramID)

	case "EXEC":
		var r program.Request
		if err := decode(req.Payload, &r); err != nil {
			return nil, err
		}
		return nil, h.svc.Runner.Exec(ctx, r)

	case "HALT":
		var q struct {
			BoardID string `json:"boardId"`
		}
		if err := decode(req.Payload, &q); err != nil {
			return nil, err
		}
		return nil, h.svc.Runner.Halt(q.BoardID)

	default:
		return nil, fmt.Errorf("%w: program %s", errBadRequest, req.Action)
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// Code maps core errors to the stable codes clients switch on.
func Code(err error) string {
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, program.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, board.ErrInvalidCommand):
		return "INVALID_COMMAND"
	case errors.Is(err, board.ErrInvalidParameters):
		return "INVALID_PARAMETERS"
	case errors.Is(err, board.ErrBoardBusy):
		return "BUSY"
	case errors.Is(err, program.ErrInvalid):
		return "INVALID_PROGRAM"
	case errors.Is(err, program.ErrIncompatible):
		return "INCOMPATIBLE"
	case errors.Is(err, program.ErrNotRunning):
		return "NOT_RUNNING"
	case errors.Is(err, errBadRequest):
		return "BAD_REQUEST"
	default:
		return "INTERNAL"
	}
}
