// internal/status/snapshot.go
package status

import "time"

// Snapshot is the board state delivered to consumers.
// It is a copy: holding one never blocks the board.
type Snapshot struct {
	ID         string         `json:"id"`
	Variant    string         `json:"type"`
	Transport  string         `json:"transport"`
	Address    string         `json:"address"`
	Status     Status         `json:"status"`
	CurrentJob string         `json:"currentJob"`
	Firmware   string         `json:"firmware,omitempty"`
	Protocol   string         `json:"protocol,omitempty"`
	Commands   []string       `json:"commands"`
	Pins       map[string]int `json:"pins,omitempty"`
	LastSeen   time.Time      `json:"lastSeen"`
}
