// internal/board/board.go
package board

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/tamzrod/firmata-hub/internal/firmata"
	"github.com/tamzrod/firmata-hub/internal/status"
	"github.com/tamzrod/firmata-hub/internal/transport"
)

const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultHeartbeatTimeout  = 2 * time.Second
)

// Options is the per-board runtime config.
type Options struct {
	// ID is the registry key. When empty, DeriveID is applied on ready.
	ID       string
	DeriveID func(id transport.Identity, addr string) string

	Variant           Variant
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	Clock  clock.WithTickerAndDelayedExecution
	Logger zerolog.Logger
	Sink   Sink
}

// Board is one physical device behind one transport connection.
type Board struct {
	variant  Variant
	conn     transport.Conn
	clk      clock.WithTickerAndDelayedExecution
	interval time.Duration
	timeout  time.Duration
	deriveID func(transport.Identity, string) string
	sink     Sink
	log      zerolog.Logger

	// exec serializes command execution on the device.
	exec sync.Mutex

	mu       sync.Mutex
	id       string
	status   status.Status
	job      string
	identity transport.Identity
	pins     map[string]int
	modes    map[int]firmata.PinMode
	lastSeen time.Time

	readyOnce sync.Once
	ready     chan struct{}

	// gone is closed when the link dies under the board; Close does not close it.
	goneOnce sync.Once
	gone     chan struct{}

	// heartbeat timers, all guarded by mu
	ticker   clock.Ticker
	stopBeat chan struct{}
	probe    clock.Timer
	probeSeq uint64
	stopped  bool
}

// New wraps conn in a Board and starts listening on it.
// The board stays CONNECTING until the transport reports ready and Start is called.
func New(conn transport.Conn, opts Options) (*Board, error) {
	if conn == nil {
		return nil, errors.New("board: connection required")
	}
	if opts.Variant.actions == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, opts.Variant.Name)
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	b := &Board{
		variant:  opts.Variant,
		conn:     conn,
		clk:      opts.Clock,
		interval: opts.HeartbeatInterval,
		timeout:  opts.HeartbeatTimeout,
		deriveID: opts.DeriveID,
		sink:     opts.Sink,
		log:      opts.Logger.With().Str("addr", conn.Addr()).Str("variant", opts.Variant.Name).Logger(),
		id:       opts.ID,
		status:   status.Connecting,
		job:      status.JobIdle,
		pins:     make(map[string]int),
		modes:    make(map[int]firmata.PinMode),
		ready:    make(chan struct{}),
		gone:     make(chan struct{}),
	}

	conn.Start(handler{b})
	return b, nil
}

// ---- accessors ----

func (b *Board) ID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.id
}

func (b *Board) Variant() Variant          { return b.variant }
func (b *Board) Address() string           { return b.conn.Addr() }
func (b *Board) Transport() transport.Kind { return b.conn.Kind() }

func (b *Board) Status() status.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *Board) CurrentJob() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.job
}

// Identity returns what the device reported during the handshake.
func (b *Board) Identity() transport.Identity {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.identity
}

// Ready is closed once the transport handshake completed.
func (b *Board) Ready() <-chan struct{} { return b.ready }

// Gone is closed once the transport reported the link dead.
func (b *Board) Gone() <-chan struct{} { return b.gone }

// Alive is false once the transport reported the link dead.
func (b *Board) Alive() bool {
	select {
	case <-b.gone:
		return false
	default:
		return true
	}
}

// GetAvailableCommands lists the action names of this board's variant.
func (b *Board) GetAvailableCommands() []string { return b.variant.Commands() }

// Snapshot copies the consumer-visible state.
func (b *Board) Snapshot() status.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	pins := make(map[string]int, len(b.pins))
	for k, v := range b.pins {
		pins[k] = v
	}

	s := status.Snapshot{
		ID:         b.id,
		Variant:    b.variant.Name,
		Transport:  string(b.conn.Kind()),
		Address:    b.conn.Addr(),
		Status:     b.status,
		CurrentJob: b.job,
		Commands:   b.variant.Commands(),
		Pins:       pins,
		LastSeen:   b.lastSeen,
	}
	if b.identity.Firmware.Name != "" {
		fw := b.identity.Firmware
		s.Firmware = fmt.Sprintf("%s %d.%d", fw.Name, fw.Major, fw.Minor)
		s.Protocol = fmt.Sprintf("%d.%d", b.identity.Protocol.Major, b.identity.Protocol.Minor)
	}
	return s
}

// ---- commands ----

// ExecuteCommand runs one action from the capability table.
// Unknown actions and bad parameters are returned and change nothing.
// Transport failures are reported as an error event, not returned.
func (b *Board) ExecuteCommand(cmd Command) error {
	act, ok := b.variant.lookup(cmd.Action)
	if !ok {
		return fmt.Errorf("%w: %q is not available on %s", ErrInvalidCommand, cmd.Action, b.variant.Name)
	}
	if err := cmd.CheckDuration(); err != nil {
		return err
	}

	b.exec.Lock()
	err := act(b, cmd.Parameters)
	b.exec.Unlock()

	if errors.Is(err, ErrTransport) {
		b.log.Error().Err(err).Str("action", cmd.Action).Msg("command transport failure")
		b.emit(Event{Kind: EventError, Err: err})
		return nil
	}
	if err != nil {
		return err
	}

	b.emit(Event{Kind: EventUpdate})
	return nil
}

// BeginJob takes the job marker for a program run.
func (b *Board) BeginJob(name string) error {
	b.mu.Lock()
	if b.job != status.JobIdle {
		cur := b.job
		b.mu.Unlock()
		return fmt.Errorf("%w: running %q", ErrBoardBusy, cur)
	}
	if name == "" {
		name = "program"
	}
	b.job = name
	b.mu.Unlock()

	b.emit(Event{Kind: EventUpdate})
	return nil
}

// EndJob releases the job marker.
func (b *Board) EndJob() {
	b.mu.Lock()
	b.job = status.JobIdle
	b.mu.Unlock()

	b.emit(Event{Kind: EventUpdate})
}

// ---- lifecycle ----

// Start moves the board to READY and starts the heartbeat.
// Calling it before the transport is ready, twice, or after ClearAllTimers is a no-op.
func (b *Board) Start() {
	select {
	case <-b.ready:
	default:
		return
	}

	b.mu.Lock()
	if b.stopped || b.status != status.Connecting {
		b.mu.Unlock()
		return
	}
	b.status = status.Ready
	b.startHeartbeatLocked()
	b.mu.Unlock()

	b.log.Info().Str("board_id", b.ID()).Msg("board ready")
}

// ClearAllTimers cancels every timer owned by the board and detaches the transport.
// Safe to call more than once and after timers already fired.
func (b *Board) ClearAllTimers() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.stopHeartbeatLocked()
	b.mu.Unlock()

	b.conn.Detach()
}

// Close clears timers, closes the transport and marks the board DISCONNECTED.
func (b *Board) Close() error {
	b.ClearAllTimers()

	b.mu.Lock()
	b.status = status.Disconnected
	b.mu.Unlock()

	return b.conn.Close()
}

// ActiveTimers counts outstanding timers (ticker + pending probe timeout).
func (b *Board) ActiveTimers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	if b.ticker != nil {
		n++
	}
	if b.probe != nil {
		n++
	}
	return n
}

// ---- device state (used by actions) ----

func (b *Board) send(frame []byte) error {
	if err := b.conn.Send(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

func (b *Board) ensureMode(pin int, mode firmata.PinMode) error {
	b.mu.Lock()
	cur, ok := b.modes[pin]
	b.mu.Unlock()

	if ok && cur == mode {
		return nil
	}
	if err := b.send(firmata.SetPinMode(pin, mode)); err != nil {
		return err
	}
	b.recordMode(pin, mode)
	return nil
}

func (b *Board) recordMode(pin int, mode firmata.PinMode) {
	b.mu.Lock()
	b.modes[pin] = mode
	b.mu.Unlock()
}

func (b *Board) recordPin(key string, v int) {
	b.mu.Lock()
	b.pins[key] = v
	b.mu.Unlock()
}

func (b *Board) pinValue(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pins[key]
}

func (b *Board) forgetPins() {
	b.mu.Lock()
	b.pins = make(map[string]int)
	b.modes = make(map[int]firmata.PinMode)
	b.mu.Unlock()
}

func (b *Board) emit(ev Event) {
	if b.sink != nil {
		b.sink.HandleBoardEvent(b, ev)
	}
}

// ---- transport events ----

// handler keeps the transport callbacks off the Board's public API.
type handler struct{ b *Board }

func (h handler) OnReady(id transport.Identity) {
	b := h.b

	b.mu.Lock()
	b.identity = id
	b.lastSeen = b.clk.Now()
	if b.id == "" && b.deriveID != nil {
		b.id = b.deriveID(id, b.conn.Addr())
	}
	b.mu.Unlock()

	b.readyOnce.Do(func() { close(b.ready) })
}

func (h handler) OnData(m firmata.Message) {
	b := h.b

	switch v := m.(type) {
	case firmata.ProtocolVersion:
		b.heartbeatReply()
	case firmata.DigitalReport:
		b.mu.Lock()
		for i := 0; i < 8; i++ {
			pin := v.Port*8 + i
			if mode, ok := b.modes[pin]; ok && mode != firmata.ModeInput && mode != firmata.ModePullup {
				continue
			}
			b.pins[digitalKey(pin)] = (v.Mask >> i) & 1
		}
		b.lastSeen = b.clk.Now()
		b.mu.Unlock()
	case firmata.AnalogReport:
		b.mu.Lock()
		b.pins[analogKey(v.Pin)] = v.Value
		b.lastSeen = b.clk.Now()
		b.mu.Unlock()
	case firmata.StringData:
		b.log.Debug().Str("text", v.Text).Msg("device string")
	}
}

func (h handler) OnDisconnect(err error) {
	b := h.b
	b.goneOnce.Do(func() { close(b.gone) })

	b.mu.Lock()
	stopped := b.stopped
	b.mu.Unlock()
	if stopped {
		return
	}

	b.log.Info().Err(err).Str("board_id", b.ID()).Msg("transport closed")
	b.emit(Event{Kind: EventDisconnect, Reason: ReasonTransportClosed})
}

func (h handler) OnError(err error) {
	h.b.log.Error().Err(err).Msg("transport error")
	h.b.emit(Event{Kind: EventError, Err: fmt.Errorf("%w: %v", ErrTransport, err)})
}
