// internal/scanner/scanner_test.go
package scanner

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/firmata-hub/internal/board"
	"github.com/tamzrod/firmata-hub/internal/firmata/firmatatest"
	"github.com/tamzrod/firmata-hub/internal/registry"
	"github.com/tamzrod/firmata-hub/internal/status"
	"github.com/tamzrod/firmata-hub/internal/transport"
	"github.com/tamzrod/firmata-hub/internal/transport/transporttest"
)

const wait = 2 * time.Second
const poll = 5 * time.Millisecond

// ---- fakes ----

type events struct {
	mu        sync.Mutex
	connected []registry.Connected
}

func (e *events) subscriber() registry.Subscriber {
	return registry.Funcs{OnConnected: func(c registry.Connected) {
		e.mu.Lock()
		e.connected = append(e.connected, c)
		e.mu.Unlock()
	}}
}

func (e *events) list() []registry.Connected {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]registry.Connected(nil), e.connected...)
}

type ports struct {
	mu   sync.Mutex
	list []PortInfo
}

func (p *ports) set(list ...PortInfo) {
	p.mu.Lock()
	p.list = list
	p.mu.Unlock()
}

func (p *ports) ListPorts() ([]PortInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PortInfo(nil), p.list...), nil
}

// devices hands out fake boards per port name.
type devices struct {
	mu     sync.Mutex
	opts   map[string][]firmatatest.Option
	opened map[string]*firmatatest.Device
	calls  int
	gate   chan struct{}
	fail   int
}

func newDevices() *devices {
	return &devices{
		opts:   make(map[string][]firmatatest.Option),
		opened: make(map[string]*firmatatest.Device),
	}
}

func (d *devices) open(name string) (transport.Conn, error) {
	d.mu.Lock()
	d.calls++
	gate := d.gate
	if d.fail > 0 {
		d.fail--
		d.mu.Unlock()
		return nil, errors.New("port busy")
	}
	opts := d.opts[name]
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}

	host, dev := firmatatest.Pipe("StandardFirmata", opts...)

	d.mu.Lock()
	d.opened[name] = dev
	d.mu.Unlock()
	return transport.WrapSerial(host, name, zerolog.Nop()), nil
}

func (d *devices) device(name string) *firmatatest.Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened[name]
}

func (d *devices) openCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// ---- helpers ----

func newHarness(t *testing.T, cfg ConnectorConfig) (*registry.Registry, *Connector, *events) {
	t.Helper()
	ev := &events{}
	reg := registry.New(zerolog.Nop(), ev.subscriber())
	t.Cleanup(reg.Close)

	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = time.Second
	}
	c, err := NewConnector(reg, cfg, zerolog.Nop())
	require.NoError(t, err)
	return reg, c, ev
}

func newSerial(t *testing.T, cfg SerialConfig, pl PortLister, d *devices, c *Connector, reg *registry.Registry) *Serial {
	t.Helper()
	s, err := NewSerial(cfg, pl, d.open, c, reg, zerolog.Nop())
	require.NoError(t, err)
	return s
}

// ---- serial ----

func TestSerial_ArduinoUnoOnCOM3(t *testing.T) {
	reg, c, ev := newHarness(t, ConnectorConfig{})
	pl := &ports{}
	pl.set(PortInfo{Name: "COM3", Manufacturer: "Arduino Uno"})
	d := newDevices()
	s := newSerial(t, SerialConfig{}, pl, d, c, reg)

	assert.Equal(t, 1, s.ScanOnce(context.Background()))
	s.Wait()

	// already connected: the next cycle leaves it alone
	assert.Equal(t, 0, s.ScanOnce(context.Background()))
	s.Wait()

	got := ev.list()
	require.Len(t, got, 1)
	assert.True(t, got[0].IsNew)
	assert.Equal(t, "com3", got[0].Board.ID())
	assert.Equal(t, board.Uno.Name, got[0].Board.Variant().Name)
	assert.Equal(t, status.Ready, got[0].Board.Status())
	assert.Equal(t, 1, d.openCalls())
}

func TestSerial_VendorFilter(t *testing.T) {
	reg, c, ev := newHarness(t, ConnectorConfig{})
	pl := &ports{}
	pl.set(
		PortInfo{Name: "COM1", Manufacturer: "(Standard port types)"},
		PortInfo{Name: "/dev/ttyUSB0", Manufacturer: "", VID: "1A86"},
	)
	d := newDevices()
	s := newSerial(t, SerialConfig{}, pl, d, c, reg)

	assert.Equal(t, 1, s.ScanOnce(context.Background()))
	s.Wait()

	got := ev.list()
	require.Len(t, got, 1)
	assert.Equal(t, "ttyusb0", got[0].Board.ID())
	assert.Equal(t, board.Nano.Name, got[0].Board.Variant().Name)
}

func TestSerial_EmptyScanIsNotAnError(t *testing.T) {
	reg, c, _ := newHarness(t, ConnectorConfig{})
	s := newSerial(t, SerialConfig{}, &ports{}, newDevices(), c, reg)

	assert.Zero(t, s.ScanOnce(context.Background()))
}

func TestSerial_OneAttemptInFlightPerPort(t *testing.T) {
	reg, c, ev := newHarness(t, ConnectorConfig{})
	pl := &ports{}
	pl.set(PortInfo{Name: "COM3", Manufacturer: "Arduino"})
	d := newDevices()
	d.gate = make(chan struct{})
	s := newSerial(t, SerialConfig{}, pl, d, c, reg)

	assert.Equal(t, 1, s.ScanOnce(context.Background()))
	assert.Equal(t, 0, s.ScanOnce(context.Background()))
	assert.Equal(t, 0, s.ScanOnce(context.Background()))

	close(d.gate)
	s.Wait()

	assert.Len(t, ev.list(), 1)
	assert.Equal(t, 1, d.openCalls())
}

func TestSerial_UnsupportedFirmwareRemembered(t *testing.T) {
	reg, c, ev := newHarness(t, ConnectorConfig{})
	pl := &ports{}
	pl.set(PortInfo{Name: "COM4", Manufacturer: "Arduino"})
	d := newDevices()
	d.opts["COM4"] = []firmatatest.Option{firmatatest.WithProtocol(2, 1)}
	s := newSerial(t, SerialConfig{RememberUnsupported: true}, pl, d, c, reg)

	assert.Equal(t, 1, s.ScanOnce(context.Background()))
	s.Wait()

	assert.Empty(t, ev.list())
	assert.Contains(t, s.Unsupported(), "COM4")
	require.Eventually(t, func() bool {
		select {
		case <-d.device("COM4").Done():
			return true
		default:
			return false
		}
	}, wait, poll, "rejected port must be closed")

	assert.Equal(t, 0, s.ScanOnce(context.Background()))

	// unplugged and plugged back: tried again
	pl.set()
	s.ScanOnce(context.Background())
	assert.Empty(t, s.Unsupported())

	pl.set(PortInfo{Name: "COM4", Manufacturer: "Arduino"})
	assert.Equal(t, 1, s.ScanOnce(context.Background()))
	s.Wait()
	assert.Equal(t, 2, d.openCalls())
}

func TestSerial_OpenRetried(t *testing.T) {
	reg, c, ev := newHarness(t, ConnectorConfig{})
	pl := &ports{}
	pl.set(PortInfo{Name: "COM5", Manufacturer: "Arduino"})
	d := newDevices()
	d.fail = 2
	s := newSerial(t, SerialConfig{OpenAttempts: 3, OpenDelay: time.Millisecond}, pl, d, c, reg)

	s.ScanOnce(context.Background())
	s.Wait()

	assert.Equal(t, 3, d.openCalls())
	assert.Len(t, ev.list(), 1)
}

func TestSerial_OpenFailureNotRemembered(t *testing.T) {
	reg, c, _ := newHarness(t, ConnectorConfig{})
	pl := &ports{}
	pl.set(PortInfo{Name: "COM6", Manufacturer: "Arduino"})
	d := newDevices()
	d.fail = 1
	s := newSerial(t, SerialConfig{RememberUnsupported: true, OpenDelay: time.Millisecond}, pl, d, c, reg)

	s.ScanOnce(context.Background())
	s.Wait()
	assert.Empty(t, s.Unsupported())
	assert.Zero(t, reg.Len())

	s.ScanOnce(context.Background())
	s.Wait()
	assert.Equal(t, 1, reg.Len())
}

func TestSerial_RunStopsOnCancel(t *testing.T) {
	reg, c, ev := newHarness(t, ConnectorConfig{})
	pl := &ports{}
	pl.set(PortInfo{Name: "COM3", Manufacturer: "Arduino"})
	s := newSerial(t, SerialConfig{Interval: time.Hour}, pl, newDevices(), c, reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// first scan is immediate
	require.Eventually(t, func() bool { return len(ev.list()) == 1 }, wait, poll)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(wait):
		t.Fatal("Run did not return")
	}
}

// ---- connector ----

func TestConnector_HandshakeTimeoutClosesTransport(t *testing.T) {
	reg, c, ev := newHarness(t, ConnectorConfig{HandshakeTimeout: 100 * time.Millisecond})

	host, dev := firmatatest.Pipe("StandardFirmata", firmatatest.Silent())
	_, err := c.Connect(context.Background(), Candidate{
		Conn:    transport.WrapSerial(host, "COM7", zerolog.Nop()),
		Variant: board.Uno,
		ID:      "com7",
	})

	require.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.Zero(t, reg.Len())
	assert.Empty(t, ev.list())
	select {
	case <-dev.Done():
	case <-time.After(wait):
		t.Fatal("transport left open")
	}
}

func TestConnector_Duplicate(t *testing.T) {
	reg, c, ev := newHarness(t, ConnectorConfig{})

	connect := func() (*firmatatest.Device, error) {
		host, dev := firmatatest.Pipe("StandardFirmata")
		_, err := c.Connect(context.Background(), Candidate{
			Conn:    transport.WrapSerial(host, "COM3", zerolog.Nop()),
			Variant: board.Uno,
			ID:      "com3",
		})
		return dev, err
	}

	_, err := connect()
	require.NoError(t, err)

	dev, err := connect()
	require.ErrorIs(t, err, ErrDuplicate)
	select {
	case <-dev.Done():
	case <-time.After(wait):
		t.Fatal("duplicate transport left open")
	}

	assert.Equal(t, 1, reg.Len())
	assert.Len(t, ev.list(), 1)
}

// unplugged answers the handshake and loses the link right away.
type unplugged struct{ *transporttest.Conn }

func (c unplugged) Start(h transport.Handler) {
	c.Conn.Start(h)
	c.Conn.Ready("StandardFirmata")
	c.Conn.Drop(io.EOF)
}

func TestConnector_LinkLostAfterHandshakeNotRegistered(t *testing.T) {
	reg, c, ev := newHarness(t, ConnectorConfig{})

	conn := transporttest.New("COM4")
	_, err := c.Connect(context.Background(), Candidate{
		Conn:    unplugged{conn},
		Variant: board.Uno,
		ID:      "com4",
	})

	require.ErrorIs(t, err, ErrLinkLost)
	assert.Zero(t, reg.Len())
	assert.Empty(t, ev.list())

	closed, _ := conn.Closed()
	assert.True(t, closed)

	_, ok := reg.BoardByAddress("COM4")
	assert.False(t, ok, "port must stay free for the next scan")
}

func TestConnector_LinkLostDuringHandshake(t *testing.T) {
	reg, c, _ := newHarness(t, ConnectorConfig{HandshakeTimeout: time.Minute})

	conn := transporttest.New("COM5")
	done := make(chan error, 1)
	go func() {
		_, err := c.Connect(context.Background(), Candidate{Conn: conn, Variant: board.Uno, ID: "com5"})
		done <- err
	}()

	// drops before the board attached its handler go nowhere
	require.Eventually(t, func() bool {
		conn.Drop(io.EOF)
		return len(done) == 1
	}, wait, poll)

	require.ErrorIs(t, <-done, ErrLinkLost)
	assert.Zero(t, reg.Len())
}

func TestSerial_LinkLossNotRemembered(t *testing.T) {
	reg, c, _ := newHarness(t, ConnectorConfig{})

	s, err := NewSerial(SerialConfig{RememberUnsupported: true}, PortListerFunc(func() ([]PortInfo, error) {
		return []PortInfo{{Name: "COM4", Manufacturer: "Arduino LLC", VID: "2341"}}, nil
	}), func(name string) (transport.Conn, error) {
		return unplugged{transporttest.New(name)}, nil
	}, c, reg, zerolog.Nop())
	require.NoError(t, err)

	require.Equal(t, 1, s.ScanOnce(context.Background()))
	s.Wait()

	assert.Empty(t, s.Unsupported())
	assert.Zero(t, reg.Len())
}

func TestConnector_BadConstraint(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	_, err := NewConnector(reg, ConnectorConfig{MinProtocol: "not a constraint"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestSerialID(t *testing.T) {
	assert.Equal(t, "com3", SerialID("COM3"))
	assert.Equal(t, "ttyacm0", SerialID("/dev/ttyACM0"))
	assert.Equal(t, "com12", SerialID(`\\.\COM12`))
}

func TestGuessVariant(t *testing.T) {
	assert.Equal(t, "mega", GuessVariant(PortInfo{Manufacturer: "Arduino Mega 2560"}).Name)
	assert.Equal(t, "nano", GuessVariant(PortInfo{Manufacturer: "WCH", VID: "1a86"}).Name)
	assert.Equal(t, "uno", GuessVariant(PortInfo{Manufacturer: "Arduino Uno"}).Name)
}

// ---- ethernet ----

func startEthernet(t *testing.T, c *Connector) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	e, err := NewEthernet(EthernetConfig{}, c, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx, ln) }()
	t.Cleanup(cancel)
	return ln.Addr().String(), cancel, done
}

func TestEthernet_BoardRegistersAfterHandshake(t *testing.T) {
	reg, c, ev := newHarness(t, ConnectorConfig{})
	addr, cancel, done := startEthernet(t, c)

	sock, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	dev := firmatatest.Serve(sock, "EthernetFirmata")
	defer dev.Close()

	require.Eventually(t, func() bool { return reg.Len() == 1 }, wait, poll)

	got := ev.list()
	require.Len(t, got, 1)
	assert.Equal(t, "EthernetFirmata@127.0.0.1", got[0].Board.ID())
	assert.Equal(t, transport.KindEthernet, got[0].Board.Transport())
	assert.Equal(t, board.Ethernet.Name, got[0].Board.Variant().Name)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(wait):
		t.Fatal("Serve did not return")
	}
}

func TestEthernet_SilentSocketAbandoned(t *testing.T) {
	reg, c, _ := newHarness(t, ConnectorConfig{HandshakeTimeout: 100 * time.Millisecond})
	addr, _, _ := startEthernet(t, c)

	sock, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	dev := firmatatest.Serve(sock, "EthernetFirmata", firmatatest.Silent())

	select {
	case <-dev.Done():
	case <-time.After(wait):
		t.Fatal("silent socket was not closed")
	}
	assert.Zero(t, reg.Len())
}

func TestEthernetID(t *testing.T) {
	id := transport.Identity{}
	id.Firmware.Name = "EthernetFirmata"

	assert.Equal(t, "EthernetFirmata@10.0.0.7", EthernetID(id, "10.0.0.7:50122"))
	assert.Equal(t, "firmata@[::1]", EthernetID(transport.Identity{}, "[::1]"))
}
