// internal/transport/stream.go
package transport

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/firmata-hub/internal/firmata"
)

const writeTimeout = 2 * time.Second

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// stream implements Conn over any byte stream (serial port or TCP socket).
type stream struct {
	rwc  io.ReadWriteCloser
	kind Kind
	addr string
	log  zerolog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	handler   Handler
	started   bool
	protocol  *firmata.ProtocolVersion
	firmware  *firmata.Firmware
	ready     bool
	endedOnce sync.Once

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

func newStream(rwc io.ReadWriteCloser, kind Kind, addr string, log zerolog.Logger) *stream {
	return &stream{
		rwc:    rwc,
		kind:   kind,
		addr:   addr,
		log:    log.With().Str("transport", string(kind)).Str("addr", addr).Logger(),
		closed: make(chan struct{}),
	}
}

func (s *stream) Kind() Kind   { return s.kind }
func (s *stream) Addr() string { return s.addr }

func (s *stream) Start(h Handler) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.handler = h
	s.mu.Unlock()

	go s.readLoop()

	for _, q := range [][]byte{firmata.ReportVersion(), firmata.ReportFirmware()} {
		if err := s.Send(q); err != nil {
			s.emitError(err)
			return
		}
	}
}

func (s *stream) Send(p []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if d, ok := s.rwc.(writeDeadliner); ok {
		_ = d.SetWriteDeadline(time.Now().Add(writeTimeout))
	}

	if _, err := s.rwc.Write(p); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSend, s.addr, err)
	}
	return nil
}

func (s *stream) Detach() {
	s.mu.Lock()
	s.handler = nil
	s.mu.Unlock()
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.rwc.Close()
	})
	return s.closeErr
}

func (s *stream) readLoop() {
	var parser firmata.Parser
	buf := make([]byte, 256)

	for {
		n, err := s.rwc.Read(buf)
		if n > 0 {
			for _, m := range parser.Feed(buf[:n]) {
				s.dispatch(m)
			}
		}
		if err != nil {
			s.end(err)
			return
		}
	}
}

func (s *stream) dispatch(m firmata.Message) {
	s.mu.Lock()
	h := s.handler
	fireReady := false

	switch v := m.(type) {
	case firmata.ProtocolVersion:
		s.protocol = &v
	case firmata.Firmware:
		s.firmware = &v
	}
	if !s.ready && s.protocol != nil && s.firmware != nil {
		s.ready = true
		fireReady = true
	}
	id := Identity{}
	if fireReady {
		id = Identity{Protocol: *s.protocol, Firmware: *s.firmware}
	}
	s.mu.Unlock()

	if h == nil {
		return
	}
	if fireReady {
		s.log.Debug().Str("firmware", id.Firmware.Name).Msg("transport ready")
		h.OnReady(id)
	}
	h.OnData(m)
}

// end reports the link death unless we closed it ourselves.
func (s *stream) end(err error) {
	select {
	case <-s.closed:
		return
	default:
	}

	s.endedOnce.Do(func() {
		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()

		s.log.Debug().Err(err).Msg("transport read ended")
		if h != nil {
			h.OnDisconnect(err)
		}
	})
}

func (s *stream) emitError(err error) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()

	if h != nil {
		h.OnError(err)
	}
}
