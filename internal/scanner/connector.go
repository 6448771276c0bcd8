// internal/scanner/connector.go
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/tamzrod/firmata-hub/internal/board"
	"github.com/tamzrod/firmata-hub/internal/firmata"
	"github.com/tamzrod/firmata-hub/internal/registry"
	"github.com/tamzrod/firmata-hub/internal/transport"
)

var (
	ErrHandshakeTimeout    = errors.New("scanner: device did not answer the handshake")
	ErrUnsupportedFirmware = errors.New("scanner: unsupported firmware")
	ErrDuplicate           = errors.New("scanner: board already connected")
	ErrLinkLost            = errors.New("scanner: link lost while connecting")
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultMinProtocol      = ">= 2.3"

	requeryInterval = time.Second
)

// ConnectorConfig is the board-building config shared by both scanners.
type ConnectorConfig struct {
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// MinProtocol is a semver constraint on the Firmata protocol version.
	MinProtocol string

	Clock clock.WithTickerAndDelayedExecution
}

// Candidate is a fresh transport waiting to become a Board.
type Candidate struct {
	Conn    transport.Conn
	Variant board.Variant

	// ID is fixed up front (serial) or derived from the handshake (ethernet).
	ID       string
	DeriveID func(id transport.Identity, addr string) string
}

// Connector turns transports into registered boards.
// Scanners only find transports; everything after that happens here.
type Connector struct {
	reg        *registry.Registry
	cfg        ConnectorConfig
	constraint *semver.Constraints
	log        zerolog.Logger
}

func NewConnector(reg *registry.Registry, cfg ConnectorConfig, log zerolog.Logger) (*Connector, error) {
	if reg == nil {
		return nil, errors.New("scanner: registry required")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.MinProtocol == "" {
		cfg.MinProtocol = DefaultMinProtocol
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	constraint, err := semver.NewConstraint(cfg.MinProtocol)
	if err != nil {
		return nil, fmt.Errorf("scanner: protocol constraint %q: %w", cfg.MinProtocol, err)
	}

	return &Connector{reg: reg, cfg: cfg, constraint: constraint, log: log}, nil
}

// Connect owns c.Conn from here on: on any failure it is closed.
// On success the board is READY, heartbeating and registered.
func (c *Connector) Connect(ctx context.Context, cand Candidate) (*board.Board, error) {
	b, err := board.New(cand.Conn, board.Options{
		ID:                cand.ID,
		DeriveID:          cand.DeriveID,
		Variant:           cand.Variant,
		HeartbeatInterval: c.cfg.HeartbeatInterval,
		HeartbeatTimeout:  c.cfg.HeartbeatTimeout,
		Clock:             c.cfg.Clock,
		Logger:            c.log,
		Sink:              c.reg,
	})
	if err != nil {
		_ = cand.Conn.Close()
		return nil, err
	}

	if err := c.awaitReady(ctx, b, cand.Conn); err != nil {
		_ = b.Close()
		return nil, err
	}

	if err := c.checkProtocol(b.Identity()); err != nil {
		_ = b.Close()
		return nil, err
	}

	if b.ID() == "" {
		_ = b.Close()
		return nil, fmt.Errorf("%w: no board id for %s", ErrUnsupportedFirmware, cand.Conn.Addr())
	}

	// a drop before registration reaches no registered board
	if !b.Alive() {
		_ = b.Close()
		return nil, fmt.Errorf("%w: %s", ErrLinkLost, cand.Conn.Addr())
	}

	b.Start()

	if !c.reg.AddBoard(b) {
		_ = b.Close()
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, b.ID())
	}

	// the link may have died between the check above and AddBoard
	if !b.Alive() {
		c.reg.HandleBoardEvent(b, board.Event{Kind: board.EventDisconnect, Reason: board.ReasonTransportClosed})
		return nil, fmt.Errorf("%w: %s", ErrLinkLost, b.ID())
	}
	return b, nil
}

// awaitReady waits for the handshake, re-asking periodically.
// A freshly opened Arduino resets and misses the first queries.
func (c *Connector) awaitReady(ctx context.Context, b *board.Board, conn transport.Conn) error {
	deadline := c.cfg.Clock.NewTimer(c.cfg.HandshakeTimeout)
	defer deadline.Stop()

	requery := c.cfg.Clock.NewTicker(requeryInterval)
	defer requery.Stop()

	for {
		select {
		case <-b.Ready():
			return nil
		case <-b.Gone():
			return fmt.Errorf("%w: %s during handshake", ErrLinkLost, conn.Addr())
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C():
			return fmt.Errorf("%w: %s after %s", ErrHandshakeTimeout, conn.Addr(), c.cfg.HandshakeTimeout)
		case <-requery.C():
			for _, q := range [][]byte{firmata.ReportVersion(), firmata.ReportFirmware()} {
				if err := conn.Send(q); err != nil {
					c.log.Debug().Err(err).Str("addr", conn.Addr()).Msg("handshake requery")
					break
				}
			}
		}
	}
}

func (c *Connector) checkProtocol(id transport.Identity) error {
	raw := fmt.Sprintf("%d.%d.0", id.Protocol.Major, id.Protocol.Minor)
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("%w: protocol %s: %v", ErrUnsupportedFirmware, raw, err)
	}
	if !c.constraint.Check(v) {
		return fmt.Errorf("%w: %s protocol %s, require %s",
			ErrUnsupportedFirmware, id.Firmware.Name, raw, c.cfg.MinProtocol)
	}
	return nil
}
