// internal/transport/serial.go
package transport

import (
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/goburrow/serial"
	"github.com/rs/zerolog"
)

// SerialConfig is minimal serial link config.
type SerialConfig struct {
	Address  string
	BaudRate int
	Timeout  time.Duration
}

// OpenSerial opens a serial port. ONE attempt per call.
func OpenSerial(cfg SerialConfig, log zerolog.Logger) (Conn, error) {
	if cfg.Address == "" {
		return nil, errors.New("transport serial: address required")
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 57600
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}

	port, err := serial.Open(&serial.Config{
		Address:  cfg.Address,
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}

	return WrapSerial(&serialPort{Port: port}, cfg.Address, log), nil
}

// WrapSerial runs a Firmata stream over an already-open serial link named addr.
func WrapSerial(rwc io.ReadWriteCloser, addr string, log zerolog.Logger) Conn {
	return newStream(rwc, KindSerial, addr, log)
}

// serialPort hides read timeouts: a quiet device is not a dead one.
// Silent link death is left to the board heartbeat.
type serialPort struct {
	serial.Port
	closed atomic.Bool
}

func (p *serialPort) Read(b []byte) (int, error) {
	for {
		n, err := p.Port.Read(b)
		if errors.Is(err, serial.ErrTimeout) {
			if p.closed.Load() {
				return 0, io.EOF
			}
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (p *serialPort) Close() error {
	p.closed.Store(true)
	return p.Port.Close()
}
