// cmd/hub/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/tamzrod/firmata-hub/internal/config"
	"github.com/tamzrod/firmata-hub/internal/executor"
	"github.com/tamzrod/firmata-hub/internal/logger"
	"github.com/tamzrod/firmata-hub/internal/metrics"
	"github.com/tamzrod/firmata-hub/internal/program"
	"github.com/tamzrod/firmata-hub/internal/registry"
	"github.com/tamzrod/firmata-hub/internal/scanner"
	"github.com/tamzrod/firmata-hub/internal/wsapi"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if len(os.Args) > 2 {
		log.Fatal("usage: hub [config.yaml]")
	}

	var cfgPath string
	if len(os.Args) == 2 {
		cfgPath = os.Args[1]
	}

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	root, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, root); err != nil {
		root.Fatal().Err(err).Msg("hub stopped")
	}
	root.Info().Msg("hub stopped")
}

func run(ctx context.Context, cfg *config.Config, root zerolog.Logger) error {
	// --------------------
	// Observers
	// --------------------

	hub := wsapi.NewHub(logger.WithComponent(root, "wsapi"))
	subs := []registry.Subscriber{hub}

	promReg := prometheus.NewRegistry()
	var observe []executor.Option
	if cfg.WebSocket.Metrics {
		promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		m, err := metrics.New(promReg)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		subs = append(subs, m)
		observe = append(observe, executor.WithObserver(m.ObserveCommand))
	}

	reg := registry.New(logger.WithComponent(root, "registry"), subs...)
	defer reg.Close()

	// --------------------
	// Commands + programs
	// --------------------

	cmds := executor.NewCommands(
		clock.RealClock{},
		time.Duration(cfg.Command.SettleDefaultMs)*time.Millisecond,
		observe...,
	)

	store, err := program.NewStore(cfg.Programs...)
	if err != nil {
		return fmt.Errorf("programs: %w", err)
	}

	runnerLog := logger.WithComponent(root, "program")
	runner := program.NewRunner(store, reg, executor.NewPrograms(cmds, runnerLog), runnerLog)
	runner.OnFinish = hub.ProgramFinished
	defer runner.Close()

	// --------------------
	// Scanners
	// --------------------

	scanLog := logger.WithComponent(root, "scanner")
	connector, err := scanner.NewConnector(reg, scanner.ConnectorConfig{
		HandshakeTimeout:  time.Duration(cfg.Board.HandshakeTimeoutMs) * time.Millisecond,
		HeartbeatInterval: time.Duration(cfg.Board.HeartbeatIntervalMs) * time.Millisecond,
		HeartbeatTimeout:  time.Duration(cfg.Board.HeartbeatTimeoutMs) * time.Millisecond,
		MinProtocol:       cfg.Board.MinProtocol,
	}, scanLog)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Serial.Enabled {
		serial, err := scanner.NewSerial(scanner.SerialConfig{
			Interval:            time.Duration(cfg.Serial.ScanIntervalMs) * time.Millisecond,
			VendorPatterns:      cfg.Serial.VendorPatterns,
			RememberUnsupported: cfg.Serial.RememberUnsupported,
			OpenAttempts:        cfg.Serial.OpenAttempts,
		}, scanner.SystemPorts{}, scanner.SerialOpener(cfg.Serial.BaudRate, scanLog), connector, reg, scanLog)
		if err != nil {
			return err
		}
		g.Go(func() error { return serial.Run(gctx) })
	}

	if cfg.Ethernet.Enabled {
		eth, err := scanner.NewEthernet(scanner.EthernetConfig{
			Port:        cfg.Ethernet.Port,
			AcceptRate:  cfg.Ethernet.AcceptRate,
			AcceptBurst: cfg.Ethernet.AcceptBurst,
		}, connector, scanLog)
		if err != nil {
			return err
		}
		g.Go(func() error { return eth.ListenAndServe(gctx) })
	}

	// --------------------
	// HTTP: websocket + metrics
	// --------------------

	ws, err := wsapi.NewHandler(wsapi.Services{
		Hub:      hub,
		Registry: reg,
		Commands: cmds,
		Programs: store,
		Runner:   runner,
	}, logger.WithComponent(root, "wsapi"))
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Handle(cfg.WebSocket.Path, ws)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{"boards": reg.Len(), "clients": hub.Clients()})
	})
	if cfg.WebSocket.Metrics {
		r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebSocket.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// hijacked websocket connections are not tracked by Shutdown
	srv.RegisterOnShutdown(hub.Close)

	g.Go(func() error {
		root.Info().Str("addr", srv.Addr).Str("path", cfg.WebSocket.Path).Msg("websocket server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
