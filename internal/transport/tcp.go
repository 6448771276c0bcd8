// internal/transport/tcp.go
package transport

import (
	"net"

	"github.com/rs/zerolog"
)

// NewTCP wraps an accepted socket from an ethernet board.
func NewTCP(conn net.Conn, log zerolog.Logger) Conn {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return newStream(conn, KindEthernet, conn.RemoteAddr().String(), log)
}
