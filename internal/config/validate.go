// internal/config/validate.go
package config

import (
	"fmt"

	"github.com/Masterminds/semver"

	"github.com/tamzrod/firmata-hub/internal/board"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}

	// ------------------------------------------------------------
	// TRANSPORTS
	// ------------------------------------------------------------

	if !cfg.Serial.Enabled && !cfg.Ethernet.Enabled {
		return fmt.Errorf("serial and ethernet are both disabled; no board can ever connect")
	}

	if cfg.Serial.Enabled {
		if cfg.Serial.ScanIntervalMs < 100 {
			return fmt.Errorf("serial: scan_interval_ms must be >= 100 (got %d)", cfg.Serial.ScanIntervalMs)
		}
		if cfg.Serial.BaudRate <= 0 {
			return fmt.Errorf("serial: baud_rate must be > 0 (got %d)", cfg.Serial.BaudRate)
		}
		if len(cfg.Serial.VendorPatterns) == 0 {
			return fmt.Errorf("serial: vendor_patterns must not be empty")
		}
		if cfg.Serial.OpenAttempts < 1 {
			return fmt.Errorf("serial: open_attempts must be >= 1 (got %d)", cfg.Serial.OpenAttempts)
		}
	}

	if cfg.Ethernet.Enabled {
		if err := port("ethernet", cfg.Ethernet.Port); err != nil {
			return err
		}
		if cfg.Ethernet.AcceptRate <= 0 {
			return fmt.Errorf("ethernet: accept_rate must be > 0 (got %v)", cfg.Ethernet.AcceptRate)
		}
		if cfg.Ethernet.AcceptBurst < 1 {
			return fmt.Errorf("ethernet: accept_burst must be >= 1 (got %d)", cfg.Ethernet.AcceptBurst)
		}
	}

	if err := port("websocket", cfg.WebSocket.Port); err != nil {
		return err
	}
	if cfg.Ethernet.Enabled && cfg.Ethernet.Port == cfg.WebSocket.Port {
		return fmt.Errorf("ethernet and websocket share port %d", cfg.WebSocket.Port)
	}

	// ------------------------------------------------------------
	// BOARD
	// ------------------------------------------------------------

	b := cfg.Board
	if b.HeartbeatIntervalMs <= 0 {
		return fmt.Errorf("board: heartbeat_interval_ms must be > 0 (got %d)", b.HeartbeatIntervalMs)
	}
	if b.HeartbeatTimeoutMs <= 0 || b.HeartbeatTimeoutMs >= b.HeartbeatIntervalMs {
		return fmt.Errorf(
			"board: heartbeat_timeout_ms must be > 0 and below heartbeat_interval_ms (got %d, interval %d)",
			b.HeartbeatTimeoutMs,
			b.HeartbeatIntervalMs,
		)
	}
	if b.HandshakeTimeoutMs <= 0 {
		return fmt.Errorf("board: handshake_timeout_ms must be > 0 (got %d)", b.HandshakeTimeoutMs)
	}
	if _, err := semver.NewConstraint(b.MinProtocol); err != nil {
		return fmt.Errorf("board: min_protocol %q: %w", b.MinProtocol, err)
	}

	// 0 means unset and is filled by Normalize
	if cfg.Command.SettleDefaultMs < 1 || cfg.Command.SettleDefaultMs > board.MaxDurationMs {
		return fmt.Errorf("command: settle_default_ms must be in 1..%d (got %d)", board.MaxDurationMs, cfg.Command.SettleDefaultMs)
	}

	// ------------------------------------------------------------
	// PROGRAM SEEDS
	// ------------------------------------------------------------

	ids := make(map[string]bool)
	for i, p := range cfg.Programs {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("program %d (%q): %w", i, p.Name, err)
		}
		if p.ID == "" {
			continue
		}
		if ids[p.ID] {
			return fmt.Errorf("program %q: duplicate id", p.ID)
		}
		ids[p.ID] = true
	}

	return nil
}

func port(section string, p int) error {
	if p < 1 || p > 65535 {
		return fmt.Errorf("%s: port must be in 1..65535 (got %d)", section, p)
	}
	return nil
}
