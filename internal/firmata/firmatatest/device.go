// internal/firmata/firmatatest/device.go

// Package firmatatest provides a fake Firmata device for tests.
package firmatatest

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/tamzrod/firmata-hub/internal/firmata"
)

// Device answers REPORT_VERSION and REPORT_FIRMWARE queries on one end of a connection.
// Everything else it receives is recorded and ignored.
type Device struct {
	Version  firmata.ProtocolVersion
	Firmware firmata.Firmware

	conn   net.Conn
	silent atomic.Bool

	mu       sync.Mutex
	versions int
	received []byte

	done chan struct{}
}

// Option tweaks a Device before it starts serving.
type Option func(*Device)

// WithProtocol sets the protocol version the device reports.
func WithProtocol(major, minor int) Option {
	return func(d *Device) {
		d.Version = firmata.ProtocolVersion{Major: major, Minor: minor}
	}
}

// Silent starts the device without answering anything.
func Silent() Option {
	return func(d *Device) { d.silent.Store(true) }
}

// Pipe returns the host side of an in-memory link and a running device on the other side.
func Pipe(name string, opts ...Option) (net.Conn, *Device) {
	host, dev := net.Pipe()
	return host, Serve(dev, name, opts...)
}

// Serve runs a device on conn until conn fails or Close is called.
func Serve(conn net.Conn, name string, opts ...Option) *Device {
	d := &Device{
		Version:  firmata.ProtocolVersion{Major: 2, Minor: 5},
		Firmware: firmata.Firmware{Major: 2, Minor: 5, Name: name},
		conn:     conn,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	go d.loop()
	return d
}

// SetSilent makes the device stop answering (a dead USB link).
func (d *Device) SetSilent(v bool) { d.silent.Store(v) }

// VersionQueries counts REPORT_VERSION queries seen so far.
func (d *Device) VersionQueries() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.versions
}

// Received returns a copy of every byte the device has read.
func (d *Device) Received() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.received))
	copy(out, d.received)
	return out
}

// Done is closed when the device loop exits.
func (d *Device) Done() <-chan struct{} { return d.done }

// Close drops the device side of the link.
func (d *Device) Close() error { return d.conn.Close() }

func (d *Device) loop() {
	defer close(d.done)

	buf := make([]byte, 128)
	inSysex := false
	var sysex []byte

	for {
		n, err := d.conn.Read(buf)
		if err != nil {
			return
		}

		d.mu.Lock()
		d.received = append(d.received, buf[:n]...)
		d.mu.Unlock()

		for _, c := range buf[:n] {
			switch {
			case inSysex && c == 0xF7:
				inSysex = false
				if len(sysex) == 1 && sysex[0] == 0x79 {
					if !d.reply(d.firmwareFrame()) {
						return
					}
				}
			case inSysex:
				sysex = append(sysex, c)
			case c == 0xF0:
				inSysex = true
				sysex = sysex[:0]
			case c == 0xF9:
				d.mu.Lock()
				d.versions++
				d.mu.Unlock()
				if !d.reply([]byte{0xF9, byte(d.Version.Major), byte(d.Version.Minor)}) {
					return
				}
			}
		}
	}
}

func (d *Device) reply(b []byte) bool {
	if d.silent.Load() {
		return true
	}
	_, err := d.conn.Write(b)
	return err == nil
}

func (d *Device) firmwareFrame() []byte {
	out := []byte{0xF0, 0x79, byte(d.Firmware.Major), byte(d.Firmware.Minor)}
	for i := 0; i < len(d.Firmware.Name); i++ {
		c := d.Firmware.Name[i]
		out = append(out, c&0x7F, c>>7)
	}
	return append(out, 0xF7)
}
