// internal/scanner/ethernet.go
package scanner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tamzrod/firmata-hub/internal/board"
	"github.com/tamzrod/firmata-hub/internal/transport"
)

const (
	DefaultEthernetPort = 9000
	DefaultAcceptRate   = 5
	DefaultAcceptBurst  = 10
)

type EthernetConfig struct {
	Port int

	// AcceptRate limits new sockets per second; a flapping board must not starve the rest.
	AcceptRate  float64
	AcceptBurst int
}

// Ethernet accepts inbound sockets from network boards.
type Ethernet struct {
	cfg       EthernetConfig
	connector *Connector
	limiter   *rate.Limiter
	log       zerolog.Logger

	wg sync.WaitGroup
}

func NewEthernet(cfg EthernetConfig, connector *Connector, log zerolog.Logger) (*Ethernet, error) {
	if connector == nil {
		return nil, errors.New("scanner ethernet: connector required")
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultEthernetPort
	}
	if cfg.AcceptRate <= 0 {
		cfg.AcceptRate = DefaultAcceptRate
	}
	if cfg.AcceptBurst <= 0 {
		cfg.AcceptBurst = DefaultAcceptBurst
	}

	return &Ethernet{
		cfg:       cfg,
		connector: connector,
		limiter:   rate.NewLimiter(rate.Limit(cfg.AcceptRate), cfg.AcceptBurst),
		log:       log,
	}, nil
}

// ListenAndServe binds the configured port and serves until ctx is done.
func (e *Ethernet) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", e.cfg.Port))
	if err != nil {
		return fmt.Errorf("scanner ethernet: listen: %w", err)
	}
	return e.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is done. ln is closed on return.
// Each socket is handled on its own goroutine; handshakes never block accept.
func (e *Ethernet) Serve(ctx context.Context, ln net.Listener) error {
	e.log.Info().Str("addr", ln.Addr().String()).Msg("ethernet listener started")

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer e.wg.Wait()

	for {
		if err := e.limiter.Wait(ctx); err != nil {
			_ = ln.Close()
			return nil
		}

		sock, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			e.log.Error().Err(err).Msg("accept")
			continue
		}

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.handle(ctx, sock)
		}()
	}
}

func (e *Ethernet) handle(ctx context.Context, sock net.Conn) {
	remote := sock.RemoteAddr().String()
	log := e.log.With().Str("remote", remote).Logger()

	b, err := e.connector.Connect(ctx, Candidate{
		Conn:     transport.NewTCP(sock, e.log),
		Variant:  board.Ethernet,
		DeriveID: EthernetID,
	})
	if err != nil {
		// the connector already closed the socket
		log.Warn().Err(err).Msg("ethernet board rejected")
		return
	}
	log.Info().Str("board_id", b.ID()).Msg("ethernet board connected")
}

// EthernetID names a network board by firmware and host: "EthernetFirmata@10.0.0.7".
// The ephemeral source port is dropped so a reconnect keeps its id.
func EthernetID(id transport.Identity, addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	name := id.Firmware.Name
	if name == "" {
		name = "firmata"
	}
	return name + "@" + host
}
