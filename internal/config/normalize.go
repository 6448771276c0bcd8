// internal/config/normalize.go
package config

import "strings"

// Normalize fills zero values with their defaults and canonicalizes
// free-form strings. It is allowed to mutate configuration.
// It MUST be called before Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	def := Defaults()

	// ------------------------------------------------------------
	// SERIAL
	// ------------------------------------------------------------

	if cfg.Serial.ScanIntervalMs == 0 {
		cfg.Serial.ScanIntervalMs = def.Serial.ScanIntervalMs
	}
	if cfg.Serial.BaudRate == 0 {
		cfg.Serial.BaudRate = def.Serial.BaudRate
	}
	if cfg.Serial.OpenAttempts == 0 {
		cfg.Serial.OpenAttempts = def.Serial.OpenAttempts
	}

	// vendor matching is case-insensitive; keep first occurrence only
	seen := make(map[string]bool, len(cfg.Serial.VendorPatterns))
	patterns := cfg.Serial.VendorPatterns[:0]
	for _, p := range cfg.Serial.VendorPatterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		patterns = append(patterns, p)
	}
	cfg.Serial.VendorPatterns = patterns

	// ------------------------------------------------------------
	// ETHERNET
	// ------------------------------------------------------------

	if cfg.Ethernet.Port == 0 {
		cfg.Ethernet.Port = def.Ethernet.Port
	}
	if cfg.Ethernet.AcceptRate == 0 {
		cfg.Ethernet.AcceptRate = def.Ethernet.AcceptRate
	}
	if cfg.Ethernet.AcceptBurst == 0 {
		cfg.Ethernet.AcceptBurst = def.Ethernet.AcceptBurst
	}

	// ------------------------------------------------------------
	// WEBSOCKET
	// ------------------------------------------------------------

	if cfg.WebSocket.Port == 0 {
		cfg.WebSocket.Port = def.WebSocket.Port
	}
	if cfg.WebSocket.Path == "" {
		cfg.WebSocket.Path = def.WebSocket.Path
	}
	if !strings.HasPrefix(cfg.WebSocket.Path, "/") {
		cfg.WebSocket.Path = "/" + cfg.WebSocket.Path
	}

	// ------------------------------------------------------------
	// BOARD / COMMAND
	// ------------------------------------------------------------

	if cfg.Board.HeartbeatIntervalMs == 0 {
		cfg.Board.HeartbeatIntervalMs = def.Board.HeartbeatIntervalMs
	}
	if cfg.Board.HeartbeatTimeoutMs == 0 {
		cfg.Board.HeartbeatTimeoutMs = def.Board.HeartbeatTimeoutMs
	}
	if cfg.Board.HandshakeTimeoutMs == 0 {
		cfg.Board.HandshakeTimeoutMs = def.Board.HandshakeTimeoutMs
	}
	cfg.Board.MinProtocol = strings.TrimSpace(cfg.Board.MinProtocol)
	if cfg.Board.MinProtocol == "" {
		cfg.Board.MinProtocol = def.Board.MinProtocol
	}

	if cfg.Command.SettleDefaultMs == 0 {
		cfg.Command.SettleDefaultMs = def.Command.SettleDefaultMs
	}

	// device types are matched lowercase against variant names
	for i := range cfg.Programs {
		p := &cfg.Programs[i]
		p.DeviceType = strings.ToLower(strings.TrimSpace(p.DeviceType))
	}
}
