// internal/board/board_test.go
package board

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/tamzrod/firmata-hub/internal/firmata"
	"github.com/tamzrod/firmata-hub/internal/status"
	"github.com/tamzrod/firmata-hub/internal/transport"
	"github.com/tamzrod/firmata-hub/internal/transport/transporttest"
)

// ---- recording sink ----

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) HandleBoardEvent(_ *Board, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) count(kind EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (s *recordingSink) last(kind EventKind) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Kind == kind {
			return s.events[i], true
		}
	}
	return Event{}, false
}

// ---- helpers ----

func newTestBoard(t *testing.T, v Variant) (*Board, *transporttest.Conn, *recordingSink, *testingclock.FakeClock) {
	t.Helper()

	conn := transporttest.New("COM3")
	sink := &recordingSink{}
	clk := testingclock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	b, err := New(conn, Options{
		ID:                "com3",
		Variant:           v,
		HeartbeatInterval: 10 * time.Second,
		HeartbeatTimeout:  2 * time.Second,
		Clock:             clk,
		Logger:            zerolog.Nop(),
		Sink:              sink,
	})
	require.NoError(t, err)
	return b, conn, sink, clk
}

// ---- tests ----

func TestNew_RequiresVariant(t *testing.T) {
	_, err := New(transporttest.New("COM1"), Options{})
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestLookupVariant(t *testing.T) {
	v, err := LookupVariant(" Mega ")
	require.NoError(t, err)
	assert.Equal(t, "mega", v.Name)
	assert.Contains(t, v.Commands(), "SETSAMPLINGINTERVAL")

	_, err = LookupVariant("due")
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestGetAvailableCommands_PerVariant(t *testing.T) {
	b, _, _, _ := newTestBoard(t, Uno)

	cmds := b.GetAvailableCommands()
	assert.Equal(t, []string{"RESET", "SETANALOGVALUE", "SETPINMODE", "SETPINVALUE", "SETSERVOANGLE", "TOGGLELED"}, cmds)
	assert.NotContains(t, cmds, "SETSAMPLINGINTERVAL")
}

func TestExecuteCommand_UnknownActionChangesNothing(t *testing.T) {
	b, conn, sink, _ := newTestBoard(t, Uno)
	before := b.Snapshot()

	err := b.ExecuteCommand(Command{Action: "SETSAMPLINGINTERVAL", Parameters: []any{"20"}})

	require.ErrorIs(t, err, ErrInvalidCommand)
	assert.Equal(t, before, b.Snapshot())
	assert.Equal(t, status.JobIdle, b.CurrentJob())
	assert.Empty(t, conn.Sent())
	assert.Zero(t, sink.count(EventUpdate))
}

func TestExecuteCommand_SetPinValue(t *testing.T) {
	b, conn, sink, _ := newTestBoard(t, Uno)

	require.NoError(t, b.ExecuteCommand(Command{Action: "SETPINVALUE", Parameters: []any{"2", "1"}}))

	assert.Equal(t, [][]byte{
		firmata.SetPinMode(2, firmata.ModeOutput),
		firmata.DigitalWrite(2, true),
	}, conn.Sent())
	assert.Equal(t, 1, b.Snapshot().Pins["D2"])
	assert.Equal(t, 1, sink.count(EventUpdate))

	// mode already set: only the write goes out
	require.NoError(t, b.ExecuteCommand(Command{Action: "SETPINVALUE", Parameters: []any{2.0, 0.0}}))
	assert.Len(t, conn.Sent(), 3)
	assert.Equal(t, 0, b.Snapshot().Pins["D2"])
}

func TestExecuteCommand_BadParameters(t *testing.T) {
	b, conn, sink, _ := newTestBoard(t, Uno)

	cases := [][]any{
		{},
		{"2"},
		{"x", "1"},
		{"20", "1"}, // uno has pins 0..19
		{"2", "5"},
		{2.5, 1},
	}
	for _, params := range cases {
		err := b.ExecuteCommand(Command{Action: "SETPINVALUE", Parameters: params})
		assert.ErrorIs(t, err, ErrInvalidParameters, "params=%v", params)
	}

	assert.Empty(t, conn.Sent())
	assert.Zero(t, sink.count(EventUpdate))
}

func TestExecuteCommand_DurationOutOfRange(t *testing.T) {
	b, conn, _, _ := newTestBoard(t, Uno)

	for _, d := range []int{-1, MaxDurationMs + 1, 1 << 62} {
		err := b.ExecuteCommand(Command{Action: "TOGGLELED", DurationMs: d})
		assert.ErrorIs(t, err, ErrInvalidParameters, "duration=%d", d)
	}
	assert.Empty(t, conn.Sent())
}

func TestCommand_SettleNeverOverflows(t *testing.T) {
	def := 100 * time.Millisecond

	assert.Equal(t, def, Command{}.Settle(def))
	assert.Equal(t, 250*time.Millisecond, Command{DurationMs: 250}.Settle(def))
	assert.Equal(t, time.Hour, Command{DurationMs: 1 << 62}.Settle(def))
}

func TestExecuteCommand_MegaHasMorePins(t *testing.T) {
	b, _, _, _ := newTestBoard(t, Mega)
	require.NoError(t, b.ExecuteCommand(Command{Action: "SETPINVALUE", Parameters: []any{"53", "1"}}))
}

func TestExecuteCommand_TransportErrorBecomesEvent(t *testing.T) {
	b, conn, sink, _ := newTestBoard(t, Uno)
	conn.FailSends("usb unplugged")

	err := b.ExecuteCommand(Command{Action: "TOGGLELED"})

	require.NoError(t, err)
	assert.Equal(t, 1, sink.count(EventError))
	assert.Zero(t, sink.count(EventUpdate))
	assert.Zero(t, sink.count(EventDisconnect))

	ev, _ := sink.last(EventError)
	assert.ErrorIs(t, ev.Err, ErrTransport)
}

func TestExecuteCommand_ToggleLED(t *testing.T) {
	b, conn, _, _ := newTestBoard(t, Uno)

	require.NoError(t, b.ExecuteCommand(Command{Action: "TOGGLELED"}))
	require.NoError(t, b.ExecuteCommand(Command{Action: "TOGGLELED"}))

	assert.Equal(t, 1, conn.Count(firmata.DigitalWrite(13, true)))
	assert.Equal(t, 1, conn.Count(firmata.DigitalWrite(13, false)))
	assert.Equal(t, 0, b.Snapshot().Pins["D13"])
}

func TestExecuteCommand_ResetForgetsModes(t *testing.T) {
	b, conn, _, _ := newTestBoard(t, Uno)

	require.NoError(t, b.ExecuteCommand(Command{Action: "SETANALOGVALUE", Parameters: []any{3, 128}}))
	require.NoError(t, b.ExecuteCommand(Command{Action: "RESET"}))
	require.NoError(t, b.ExecuteCommand(Command{Action: "SETANALOGVALUE", Parameters: []any{3, 64}}))

	assert.Equal(t, 2, conn.Count(firmata.SetPinMode(3, firmata.ModePWM)))
	assert.Equal(t, 1, conn.Count(firmata.SystemReset()))
}

func TestJobMarker(t *testing.T) {
	b, _, sink, _ := newTestBoard(t, Uno)

	require.NoError(t, b.BeginJob("blink"))
	assert.Equal(t, "blink", b.CurrentJob())
	assert.ErrorIs(t, b.BeginJob("other"), ErrBoardBusy)

	b.EndJob()
	assert.Equal(t, status.JobIdle, b.CurrentJob())
	assert.Equal(t, 2, sink.count(EventUpdate))
}

func TestReadyDerivesID(t *testing.T) {
	conn := transporttest.New("10.0.0.7:50122")
	b, err := New(conn, Options{
		Variant: Ethernet,
		DeriveID: func(id transport.Identity, addr string) string {
			return id.Firmware.Name + "@" + addr
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.Empty(t, b.ID())

	conn.Ready("EthernetFirmata")

	select {
	case <-b.Ready():
	default:
		t.Fatal("board should be ready")
	}
	assert.Equal(t, "EthernetFirmata@10.0.0.7:50122", b.ID())
	assert.Equal(t, "EthernetFirmata 2.5", b.Snapshot().Firmware)
}

func TestReports_UpdatePins(t *testing.T) {
	b, conn, _, _ := newTestBoard(t, Uno)

	conn.Deliver(firmata.AnalogReport{Pin: 0, Value: 512})
	conn.Deliver(firmata.DigitalReport{Port: 0, Mask: 0x04})

	pins := b.Snapshot().Pins
	assert.Equal(t, 512, pins["A0"])
	assert.Equal(t, 1, pins["D2"])
	assert.Equal(t, 0, pins["D3"])
}

func TestTransportDrop_EmitsDisconnect(t *testing.T) {
	b, conn, sink, _ := newTestBoard(t, Uno)
	conn.Ready("StandardFirmata")
	b.Start()

	conn.Drop(assert.AnError)

	ev, ok := sink.last(EventDisconnect)
	require.True(t, ok)
	assert.Equal(t, ReasonTransportClosed, ev.Reason)
}

func TestClose_IsInert(t *testing.T) {
	b, conn, sink, _ := newTestBoard(t, Uno)
	conn.Ready("StandardFirmata")
	b.Start()

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.Equal(t, status.Disconnected, b.Status())
	assert.Zero(t, b.ActiveTimers())
	assert.True(t, conn.Detached())
	closed, _ := conn.Closed()
	assert.True(t, closed)

	// detached: a late drop reaches nobody
	conn.Drop(assert.AnError)
	assert.Zero(t, sink.count(EventDisconnect))
}

func TestAlive_LatchesLinkDeath(t *testing.T) {
	b, conn, sink, _ := newTestBoard(t, Uno)
	require.True(t, b.Alive())

	conn.Ready("StandardFirmata")
	conn.Drop(io.EOF)

	assert.False(t, b.Alive())
	select {
	case <-b.Gone():
	default:
		t.Fatal("Gone not closed")
	}
	assert.Equal(t, 1, sink.count(EventDisconnect))
}

func TestAlive_CloseIsNotLinkDeath(t *testing.T) {
	b, conn, _, _ := newTestBoard(t, Uno)
	conn.Ready("StandardFirmata")
	b.Start()

	require.NoError(t, b.Close())
	assert.True(t, b.Alive())
}
