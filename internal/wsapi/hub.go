// internal/wsapi/hub.go
package wsapi

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tamzrod/firmata-hub/internal/program"
	"github.com/tamzrod/firmata-hub/internal/registry"
	"github.com/tamzrod/firmata-hub/internal/status"
)

// Event names pushed to every client.
const (
	EventBoards          = "BOARDS"
	EventBoardConnected  = "BOARD_CONNECTED"
	EventBoardUpdated    = "BOARD_UPDATED"
	EventBoardDisconnect = "BOARD_DISCONNECTED"
	EventBoardError      = "BOARD_ERROR"
	EventProgramFinished = "PROGRAM_FINISHED"
)

// Event is the server-push envelope.
type Event struct {
	Event  string            `json:"event"`
	Board  *status.Snapshot  `json:"board,omitempty"`
	Boards []status.Snapshot `json:"boards,omitempty"`
	IsNew  bool              `json:"isNew,omitempty"`
	Reason string            `json:"reason,omitempty"`
	Error  string            `json:"error,omitempty"`

	ProgramID string `json:"programId,omitempty"`
	BoardID   string `json:"boardId,omitempty"`
	Runs      int    `json:"runs,omitempty"`
}

// Hub fans registry events out to connected websocket clients.
// It is created before the registry and passed to it as a subscriber.
type Hub struct {
	log zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{log: log, clients: make(map[*client]struct{})}
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// join queues greeting as c's first message and then adds c.
// Both happen under the write lock, so every event broadcast after the
// greeting was built is queued behind it and none is lost.
func (h *Hub) join(c *client, greeting func() Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ev := greeting()
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Str("event", ev.Event).Msg("encode event")
	} else {
		c.enqueue(msg)
	}
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Close disconnects every client. Their handlers return once the socket closes.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// broadcast never blocks: a client whose queue is full is dropped.
func (h *Hub) broadcast(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Str("event", ev.Event).Msg("encode event")
		return
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		if !c.enqueue(msg) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn().Str("client", c.id).Msg("client too slow, dropped")
		h.remove(c)
		c.close()
	}
}

// ---- registry.Subscriber ----

func (h *Hub) BoardConnected(e registry.Connected) {
	snap := e.Board.Snapshot()
	h.broadcast(Event{Event: EventBoardConnected, Board: &snap, IsNew: e.IsNew})
}

func (h *Hub) BoardUpdated(e registry.Updated) {
	snap := e.Board.Snapshot()
	h.broadcast(Event{Event: EventBoardUpdated, Board: &snap})
}

func (h *Hub) BoardDisconnected(e registry.Disconnected) {
	snap := e.Board.Snapshot()
	h.broadcast(Event{Event: EventBoardDisconnect, Board: &snap, Reason: string(e.Reason)})
}

func (h *Hub) BoardError(e registry.Error) {
	snap := e.Board.Snapshot()
	ev := Event{Event: EventBoardError, Board: &snap}
	if e.Err != nil {
		ev.Error = e.Err.Error()
	}
	h.broadcast(ev)
}

// ProgramFinished matches program.Runner.OnFinish.
func (h *Hub) ProgramFinished(res program.Result) {
	ev := Event{Event: EventProgramFinished, ProgramID: res.ProgramID, BoardID: res.BoardID, Runs: res.Runs}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	h.broadcast(ev)
}
