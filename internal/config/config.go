// internal/config/config.go
package config

import (
	"github.com/tamzrod/firmata-hub/internal/logger"
	"github.com/tamzrod/firmata-hub/internal/program"
)

type Config struct {
	Serial    SerialConfig    `yaml:"serial"`
	Ethernet  EthernetConfig  `yaml:"ethernet"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Board     BoardConfig     `yaml:"board"`
	Command   CommandConfig   `yaml:"command"`
	Log       logger.Config   `yaml:"log"`

	// Programs seed the in-memory program store.
	Programs []program.Program `yaml:"programs"`
}

// ---- SERIAL ----

type SerialConfig struct {
	Enabled             bool     `yaml:"enabled" env:"HUB_ENABLE_SERIAL"`
	ScanIntervalMs      int      `yaml:"scan_interval_ms" env:"HUB_SCAN_INTERVAL_MS"`
	BaudRate            int      `yaml:"baud_rate" env:"HUB_BAUD_RATE"`
	VendorPatterns      []string `yaml:"vendor_patterns" env:"HUB_VENDOR_PATTERNS" envSeparator:","`
	RememberUnsupported bool     `yaml:"remember_unsupported"`
	OpenAttempts        int      `yaml:"open_attempts"`
}

// ---- ETHERNET ----

type EthernetConfig struct {
	Enabled     bool    `yaml:"enabled" env:"HUB_ENABLE_ETHERNET"`
	Port        int     `yaml:"port" env:"HUB_ETHERNET_PORT"`
	AcceptRate  float64 `yaml:"accept_rate"`
	AcceptBurst int     `yaml:"accept_burst"`
}

// ---- WEBSOCKET / HTTP ----

type WebSocketConfig struct {
	Port    int    `yaml:"port" env:"HUB_WS_PORT"`
	Path    string `yaml:"path"`
	Metrics bool   `yaml:"metrics" env:"HUB_METRICS"`
}

// ---- BOARD ----

type BoardConfig struct {
	HeartbeatIntervalMs int    `yaml:"heartbeat_interval_ms" env:"HUB_HEARTBEAT_INTERVAL_MS"`
	HeartbeatTimeoutMs  int    `yaml:"heartbeat_timeout_ms" env:"HUB_HEARTBEAT_TIMEOUT_MS"`
	HandshakeTimeoutMs  int    `yaml:"handshake_timeout_ms"`
	MinProtocol         string `yaml:"min_protocol"` // semver constraint, e.g. ">= 2.3"
}

// ---- COMMAND ----

type CommandConfig struct {
	SettleDefaultMs int `yaml:"settle_default_ms" env:"HUB_COMMAND_SETTLE_MS"`
}

// Defaults is the configuration used for every key the file and environment leave unset.
func Defaults() Config {
	return Config{
		Serial: SerialConfig{
			Enabled:             true,
			ScanIntervalMs:      10000,
			BaudRate:            57600,
			VendorPatterns:      []string{"arduino", "wch", "ftdi", "silicon labs", "2341", "2a03", "1a86", "0403", "10c4"},
			RememberUnsupported: true,
			OpenAttempts:        3,
		},
		Ethernet: EthernetConfig{
			Enabled:     false,
			Port:        9000,
			AcceptRate:  5,
			AcceptBurst: 10,
		},
		WebSocket: WebSocketConfig{
			Port:    8080,
			Path:    "/ws",
			Metrics: true,
		},
		Board: BoardConfig{
			HeartbeatIntervalMs: 10000,
			HeartbeatTimeoutMs:  2000,
			HandshakeTimeoutMs:  10000,
			MinProtocol:         ">= 2.3",
		},
		Command: CommandConfig{
			SettleDefaultMs: 100,
		},
		Log: logger.Config{
			Level:  "info",
			Output: "stdout",
		},
	}
}
