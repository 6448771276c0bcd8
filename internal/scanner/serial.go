// internal/scanner/serial.go
package scanner

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/tamzrod/firmata-hub/internal/board"
	"github.com/tamzrod/firmata-hub/internal/registry"
	"github.com/tamzrod/firmata-hub/internal/transport"
)

const DefaultScanInterval = 10 * time.Second

// DefaultVendorPatterns match manufacturer strings and USB vendor ids
// of Arduino boards and the usual USB-serial bridges on clones.
var DefaultVendorPatterns = []string{
	"arduino", "wch", "ftdi", "silicon labs",
	"2341", "2a03", "1a86", "0403", "10c4",
}

// Opener opens one serial port. ONE attempt per call.
type Opener func(name string) (transport.Conn, error)

// SerialOpener returns an Opener backed by transport.OpenSerial.
func SerialOpener(baud int, log zerolog.Logger) Opener {
	return func(name string) (transport.Conn, error) {
		return transport.OpenSerial(transport.SerialConfig{Address: name, BaudRate: baud}, log)
	}
}

type SerialConfig struct {
	Interval       time.Duration
	VendorPatterns []string

	// RememberUnsupported skips ports that failed the handshake until they vanish from the host list.
	RememberUnsupported bool

	OpenAttempts int
	OpenDelay    time.Duration

	Clock clock.WithTicker
}

// Serial polls the host port list and connects accepted ports.
type Serial struct {
	cfg       SerialConfig
	lister    PortLister
	open      Opener
	connector *Connector
	reg       *registry.Registry
	log       zerolog.Logger

	mu          sync.Mutex
	inflight    map[string]struct{}
	unsupported map[string]error

	wg sync.WaitGroup
}

func NewSerial(cfg SerialConfig, lister PortLister, open Opener, connector *Connector, reg *registry.Registry, log zerolog.Logger) (*Serial, error) {
	if lister == nil || open == nil || connector == nil || reg == nil {
		return nil, errors.New("scanner serial: lister, opener, connector and registry required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultScanInterval
	}
	if len(cfg.VendorPatterns) == 0 {
		cfg.VendorPatterns = DefaultVendorPatterns
	}
	if cfg.OpenAttempts <= 0 {
		cfg.OpenAttempts = 1
	}
	if cfg.OpenDelay <= 0 {
		cfg.OpenDelay = 500 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	patterns := make([]string, 0, len(cfg.VendorPatterns))
	for _, p := range cfg.VendorPatterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			patterns = append(patterns, p)
		}
	}
	cfg.VendorPatterns = patterns

	return &Serial{
		cfg:         cfg,
		lister:      lister,
		open:        open,
		connector:   connector,
		reg:         reg,
		log:         log,
		inflight:    make(map[string]struct{}),
		unsupported: make(map[string]error),
	}, nil
}

// Run scans now and then on every interval until ctx is done.
// In-flight connection attempts are awaited before returning.
func (s *Serial) Run(ctx context.Context) error {
	ticker := s.cfg.Clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	defer s.wg.Wait()

	s.ScanOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			s.ScanOnce(ctx)
		}
	}
}

// ScanOnce performs exactly one scan cycle and returns the number of
// connection attempts it started. Zero accepted ports is a normal result.
func (s *Serial) ScanOnce(ctx context.Context) int {
	ports, err := s.lister.ListPorts()
	if err != nil {
		s.log.Error().Err(err).Msg("list serial ports")
		return 0
	}

	present := make(map[string]struct{}, len(ports))
	started := 0

	for _, p := range ports {
		present[p.Name] = struct{}{}

		if !s.accepted(p) {
			continue
		}
		if _, ok := s.reg.BoardByAddress(p.Name); ok {
			continue
		}
		if !s.claim(p.Name) {
			continue
		}

		started++
		s.wg.Add(1)
		go func(p PortInfo) {
			defer s.wg.Done()
			defer s.release(p.Name)
			s.connect(ctx, p)
		}(p)
	}

	s.forgetVanished(present)

	if started == 0 {
		s.log.Debug().Int("ports", len(ports)).Msg("no new serial boards")
	}
	return started
}

// Wait blocks until every started connection attempt finished.
func (s *Serial) Wait() { s.wg.Wait() }

func (s *Serial) accepted(p PortInfo) bool {
	hay := strings.ToLower(p.Manufacturer + " " + p.VID)
	for _, pat := range s.cfg.VendorPatterns {
		if strings.Contains(hay, pat) {
			return true
		}
	}
	return false
}

// claim marks name as in flight. False if already in flight or known unsupported.
func (s *Serial) claim(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[name]; busy {
		return false
	}
	if _, bad := s.unsupported[name]; bad {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

func (s *Serial) release(name string) {
	s.mu.Lock()
	delete(s.inflight, name)
	s.mu.Unlock()
}

func (s *Serial) forgetVanished(present map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.unsupported {
		if _, ok := present[name]; !ok {
			delete(s.unsupported, name)
		}
	}
}

func (s *Serial) connect(ctx context.Context, p PortInfo) {
	log := s.log.With().Str("port", p.Name).Str("manufacturer", p.Manufacturer).Logger()

	var conn transport.Conn
	err := retry.Do(func() error {
		c, err := s.open(p.Name)
		if err != nil {
			return err
		}
		conn = c
		return nil
	},
		retry.Attempts(uint(s.cfg.OpenAttempts)),
		retry.Delay(s.cfg.OpenDelay),
		retry.MaxDelay(4*s.cfg.OpenDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.Warn().Err(err).Msg("open serial port")
		return
	}

	b, err := s.connector.Connect(ctx, Candidate{
		Conn:    conn,
		Variant: GuessVariant(p),
		ID:      SerialID(p.Name),
	})
	switch {
	case err == nil:
		log.Info().Str("board_id", b.ID()).Str("variant", b.Variant().Name).Msg("serial board connected")
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrLinkLost), errors.Is(err, context.Canceled):
		log.Debug().Err(err).Msg("serial connect skipped")
	default:
		log.Warn().Err(err).Msg("serial connect failed")
		if s.cfg.RememberUnsupported {
			s.mu.Lock()
			s.unsupported[p.Name] = err
			s.mu.Unlock()
		}
	}
}

// Unsupported lists the ports currently skipped after a failed handshake.
func (s *Serial) Unsupported() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.unsupported))
	for name, err := range s.unsupported {
		out[name] = err.Error()
	}
	return out
}

// SerialID derives a board id from the port name: "COM3" -> "com3", "/dev/ttyACM0" -> "ttyacm0".
func SerialID(port string) string {
	return strings.ToLower(path.Base(strings.ReplaceAll(port, `\`, "/")))
}

// GuessVariant picks a capability table from the port's manufacturer string.
// Anything not obviously a Mega or Nano is treated as an Uno.
func GuessVariant(p PortInfo) board.Variant {
	m := strings.ToLower(p.Manufacturer)
	vid, pid := strings.ToLower(p.VID), strings.ToLower(p.PID)
	switch {
	case strings.Contains(m, "mega"), pid == "0042", pid == "0010":
		return board.Mega
	case strings.Contains(m, "nano"), strings.Contains(m, "wch"), vid == "1a86":
		return board.Nano
	default:
		return board.Uno
	}
}
