// internal/metrics/metrics.go
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tamzrod/firmata-hub/internal/board"
	"github.com/tamzrod/firmata-hub/internal/registry"
)

const namespace = "firmata_hub"

// Metrics is a registry subscriber plus a command observer.
type Metrics struct {
	boardsConnected prometheus.Gauge
	connects        *prometheus.CounterVec // by transport and first-seen
	disconnects     *prometheus.CounterVec // by reason
	boardErrors     prometheus.Counter
	commands        *prometheus.CounterVec // by action and result
	commandSeconds  *prometheus.HistogramVec
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		boardsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "boards_connected",
			Help:      "Boards currently in the registry",
		}),

		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "board_connects_total",
			Help:      "Boards added to the registry",
		}, []string{"transport", "new"}),

		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "board_disconnects_total",
			Help:      "Boards removed from the registry, by reason",
		}, []string{"reason"}),

		boardErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "board_errors_total",
			Help:      "Transport errors reported by connected boards",
		}),

		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Executed commands, by action and result",
		}, []string{"action", "result"}),

		commandSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command time including the settle delay",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"action"}),
	}

	for _, c := range []prometheus.Collector{
		m.boardsConnected, m.connects, m.disconnects, m.boardErrors, m.commands, m.commandSeconds,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ---- registry.Subscriber ----

func (m *Metrics) BoardConnected(e registry.Connected) {
	m.boardsConnected.Inc()
	isNew := "false"
	if e.IsNew {
		isNew = "true"
	}
	m.connects.WithLabelValues(string(e.Board.Transport()), isNew).Inc()
}

func (m *Metrics) BoardUpdated(registry.Updated) {}

func (m *Metrics) BoardDisconnected(e registry.Disconnected) {
	m.boardsConnected.Dec()
	m.disconnects.WithLabelValues(string(e.Reason)).Inc()
}

func (m *Metrics) BoardError(registry.Error) {
	m.boardErrors.Inc()
}

// ---- executor.Observer ----

// ObserveCommand matches executor.Observer.
func (m *Metrics) ObserveCommand(cmd board.Command, err error, took time.Duration) {
	action := cmd.Action
	if errors.Is(err, board.ErrInvalidCommand) {
		// client-supplied names; keep label cardinality bounded
		action = "unknown"
	}
	m.commands.WithLabelValues(action, result(err)).Inc()
	m.commandSeconds.WithLabelValues(action).Observe(took.Seconds())
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, board.ErrInvalidCommand):
		return "invalid_command"
	case errors.Is(err, board.ErrInvalidParameters):
		return "invalid_parameters"
	case errors.Is(err, registry.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
