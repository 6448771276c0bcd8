// internal/transport/transporttest/conn.go

// Package transporttest provides a scriptable transport.Conn for tests.
package transporttest

import (
	"bytes"
	"errors"
	"sync"

	"github.com/tamzrod/firmata-hub/internal/firmata"
	"github.com/tamzrod/firmata-hub/internal/transport"
)

// Conn records frames and lets a test drive handler events by hand.
type Conn struct {
	kind transport.Kind
	addr string

	mu       sync.Mutex
	handler  transport.Handler
	sent     [][]byte
	sendErr  error
	closed   bool
	detached bool
	closes   int
}

// New returns a fake serial connection at addr.
func New(addr string) *Conn {
	return &Conn{kind: transport.KindSerial, addr: addr}
}

func (c *Conn) Kind() transport.Kind { return c.kind }
func (c *Conn) Addr() string         { return c.addr }

func (c *Conn) Start(h transport.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler == nil && !c.detached {
		c.handler = h
	}
}

func (c *Conn) Send(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	frame := make([]byte, len(p))
	copy(frame, p)
	c.sent = append(c.sent, frame)
	return nil
}

func (c *Conn) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = nil
	c.detached = true
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closes++
	return nil
}

// FailSends makes every later Send return a wrapped transport.ErrSend.
func (c *Conn) FailSends(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = errors.Join(transport.ErrSend, errors.New(reason))
}

// Sent returns a copy of every frame written so far.
func (c *Conn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// Count returns how many sent frames equal frame.
func (c *Conn) Count(frame []byte) int {
	n := 0
	for _, f := range c.Sent() {
		if bytes.Equal(f, frame) {
			n++
		}
	}
	return n
}

// Probes counts heartbeat probes (REPORT_VERSION queries).
func (c *Conn) Probes() int { return c.Count(firmata.ReportVersion()) }

// Closed reports whether Close was called and how often.
func (c *Conn) Closed() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closes
}

// Detached reports whether the handler was dropped.
func (c *Conn) Detached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detached
}

func (c *Conn) current() transport.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

// Ready fires OnReady with a StandardFirmata identity.
func (c *Conn) Ready(name string) {
	id := transport.Identity{
		Protocol: firmata.ProtocolVersion{Major: 2, Minor: 5},
		Firmware: firmata.Firmware{Major: 2, Minor: 5, Name: name},
	}
	if h := c.current(); h != nil {
		h.OnReady(id)
		h.OnData(id.Protocol)
		h.OnData(id.Firmware)
	}
}

// Deliver fires OnData.
func (c *Conn) Deliver(m firmata.Message) {
	if h := c.current(); h != nil {
		h.OnData(m)
	}
}

// Drop fires OnDisconnect.
func (c *Conn) Drop(err error) {
	if h := c.current(); h != nil {
		h.OnDisconnect(err)
	}
}
