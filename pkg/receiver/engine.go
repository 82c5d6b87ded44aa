package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/pjanosky/reliable-transport-protocol/pkg/digest"
	"github.com/pjanosky/reliable-transport-protocol/pkg/protocol"
)

// pollInterval bounds each socket wait so the loop can observe context
// cancellation
const pollInterval = 50 * time.Millisecond

// Stats holds the receiver's diagnostic counters. All fields are atomics so
// the status API can read them while the engine loop runs.
type Stats struct {
	FramesReceived atomic.Int64
	DuplicateData  atomic.Int64
	CorruptFrames  atomic.Int64
	AcksSent       atomic.Int64
	BytesEmitted   atomic.Int64
	ForeignFrames  atomic.Int64
}

// Snapshot returns the current counters as a map for the status API
func (s *Stats) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"frames_received": s.FramesReceived.Load(),
		"duplicate_data":  s.DuplicateData.Load(),
		"corrupt_frames":  s.CorruptFrames.Load(),
		"acks_sent":       s.AcksSent.Load(),
		"bytes_emitted":   s.BytesEmitted.Load(),
		"foreign_frames":  s.ForeignFrames.Load(),
	}
}

// Engine reconstructs the sender's byte stream. It locks onto the peer that
// sent the first datagram, acknowledges every valid data frame by index
// (duplicates included, to recover from lost acknowledgments), and emits the
// in-order prefix to the output sink as soon as it grows. The engine never
// terminates on its own; the protocol has no end-of-stream signal and the run
// ends only when the context is cancelled.
type Engine struct {
	conn  *net.UDPConn
	peer  *net.UDPAddr
	buf   *Reassembly
	out   io.Writer
	sum   *digest.Stream
	stats Stats
}

// NewEngine creates a receiver engine writing reconstructed bytes to out
func NewEngine(conn *net.UDPConn, out io.Writer) *Engine {
	return &Engine{
		conn: conn,
		buf:  NewReassembly(),
		out:  out,
		sum:  digest.NewStream(),
	}
}

// Stats returns a snapshot of the engine's counters
func (e *Engine) Stats() map[string]interface{} {
	return e.stats.Snapshot()
}

// Counters returns the engine's live counter set
func (e *Engine) Counters() *Stats {
	return &e.stats
}

// Peer returns the locked peer endpoint, or empty if none seen yet
func (e *Engine) Peer() string {
	if e.peer == nil {
		return ""
	}
	return e.peer.String()
}

// Digest returns the hex BLAKE2b-256 digest of the bytes emitted so far
func (e *Engine) Digest() string {
	return e.sum.Sum()
}

// Run processes datagrams until the context is cancelled, then returns the
// context's error. Write failures on the output sink are fatal: emitting a
// wrong or partial stream is never an option.
func (e *Engine) Run(ctx context.Context) error {
	buf := make([]byte, protocol.MaxDatagramSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := e.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}

		n, addr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return fmt.Errorf("socket read: %w", err)
		}

		if !e.acceptPeer(addr) {
			e.stats.ForeignFrames.Add(1)
			log.Printf("dropping datagram from unexpected peer %s", addr)
			continue
		}

		if err := e.handleDatagram(buf[:n]); err != nil {
			return err
		}
	}
}

// acceptPeer locks onto the first peer seen and rejects everyone else
func (e *Engine) acceptPeer(addr *net.UDPAddr) bool {
	if e.peer == nil {
		e.peer = addr
		log.Printf("✓ locked onto peer %s", addr)
		return true
	}
	return e.peer.IP.Equal(addr.IP) && e.peer.Port == addr.Port
}

// handleDatagram decodes one datagram and applies the receive rules: corrupt
// frames are dropped with no acknowledgment, valid data frames are always
// acknowledged, and only new indices enter the reassembly buffer.
func (e *Engine) handleDatagram(datagram []byte) error {
	frame, err := protocol.Decode(datagram)
	if err != nil {
		e.stats.CorruptFrames.Add(1)
		log.Printf("dropping corrupt frame (%d bytes)", len(datagram))
		return nil
	}

	if frame.Type != protocol.FrameData {
		log.Printf("dropping unexpected %s frame", frame.Type)
		return nil
	}

	e.stats.FramesReceived.Add(1)

	// Acknowledge before anything else, duplicates included: the sender may
	// be retrying because our previous acknowledgment was lost
	if err := e.sendAck(frame.Index); err != nil {
		log.Printf("failed to ack packet %d: %v", frame.Index, err)
	}

	if !e.buf.Insert(frame.Index, frame.Data) {
		e.stats.DuplicateData.Add(1)
		return nil
	}

	return e.emit()
}

// sendAck sends an acknowledgment frame for index back to the locked peer
func (e *Engine) sendAck(index int) error {
	ack, err := protocol.EncodeAck(index)
	if err != nil {
		return err
	}
	if _, err := e.conn.WriteToUDP(ack, e.peer); err != nil {
		return err
	}
	e.stats.AcksSent.Add(1)
	return nil
}

// emit writes any newly contiguous prefix to the output sink
func (e *Engine) emit() error {
	out := e.buf.Drain()
	if len(out) == 0 {
		return nil
	}

	if _, err := e.out.Write(out); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	e.sum.Write(out)
	e.stats.BytesEmitted.Add(int64(len(out)))
	return nil
}
