// internal/board/heartbeat.go
package board

import (
	"fmt"

	"k8s.io/utils/clock"

	"github.com/tamzrod/firmata-hub/internal/firmata"
)

// Heartbeat state machine.
//
// Every interval: arm a timeout, then send REPORT_VERSION.
//   reply first   -> cancel timeout, refresh liveness, wait for next tick
//   timeout first -> stop the ticker, emit one disconnect
//
// A dead USB-serial link produces no close event; this probe is the only
// signal. probeSeq and stopped make stale timer callbacks no-ops.

// startHeartbeatLocked requires b.mu.
func (b *Board) startHeartbeatLocked() {
	if b.ticker != nil || b.stopped {
		return
	}
	b.ticker = b.clk.NewTicker(b.interval)
	b.stopBeat = make(chan struct{})
	go b.heartbeatLoop(b.ticker, b.stopBeat)
}

// stopHeartbeatLocked requires b.mu. Idempotent.
func (b *Board) stopHeartbeatLocked() {
	if b.ticker != nil {
		b.ticker.Stop()
		b.ticker = nil
	}
	if b.stopBeat != nil {
		close(b.stopBeat)
		b.stopBeat = nil
	}
	if b.probe != nil {
		b.probe.Stop()
		b.probe = nil
	}
}

func (b *Board) heartbeatLoop(t clock.Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			b.sendProbe()
		}
	}
}

func (b *Board) sendProbe() {
	b.mu.Lock()
	if b.stopped || b.ticker == nil {
		b.mu.Unlock()
		return
	}
	if b.probe != nil {
		// previous probe still outstanding; its timeout decides
		b.mu.Unlock()
		return
	}
	b.probeSeq++
	seq := b.probeSeq
	b.probe = b.clk.AfterFunc(b.timeout, func() { b.probeExpired(seq) })
	b.mu.Unlock()

	if err := b.conn.Send(firmata.ReportVersion()); err != nil {
		// the armed timeout still decides liveness
		b.emit(Event{Kind: EventError, Err: fmt.Errorf("%w: heartbeat: %v", ErrTransport, err)})
		return
	}
	b.log.Debug().Uint64("probe", seq).Msg("heartbeat probe sent")
}

func (b *Board) heartbeatReply() {
	b.mu.Lock()
	b.lastSeen = b.clk.Now()
	if b.probe == nil || b.stopped {
		b.mu.Unlock()
		return
	}
	b.probe.Stop()
	b.probe = nil
	b.mu.Unlock()

	b.emit(Event{Kind: EventUpdate})
}

func (b *Board) probeExpired(seq uint64) {
	b.mu.Lock()
	if b.stopped || b.probe == nil || seq != b.probeSeq {
		b.mu.Unlock()
		return
	}
	b.probe = nil
	b.stopHeartbeatLocked()
	id := b.id
	b.mu.Unlock()

	b.log.Warn().Str("board_id", id).Dur("timeout", b.timeout).Msg("heartbeat timeout")
	b.emit(Event{Kind: EventDisconnect, Reason: ReasonHeartbeatTimeout})
}
