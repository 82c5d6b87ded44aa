package sender

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

// ErrUnknownAckIndex indicates an acknowledgment referenced a packet that was
// never created. This is a violated precondition, not network unreliability,
// and aborts the run.
var ErrUnknownAckIndex = errors.New("acknowledgment for unknown packet index")

// Poll bounds for the bounded-wait socket read. The wait tracks half the
// retransmission timeout so the overdue scan keeps a steady cadence even when
// no acknowledgments arrive.
const (
	minPollInterval = 5 * time.Millisecond
	maxPollInterval = 50 * time.Millisecond
)

// Stats holds the sender's diagnostic counters. All fields are atomics so the
// status API can read them while the engine loop runs.
type Stats struct {
	PacketsCreated atomic.Int64
	BytesRead      atomic.Int64
	AcksReceived   atomic.Int64
	DuplicateAcks  atomic.Int64
	Retransmits    atomic.Int64
	TimeoutEvents  atomic.Int64
	CorruptFrames  atomic.Int64
	windowTenths   atomic.Int64
	rttMicros      atomic.Int64
}

// Snapshot returns the current counters as a map for the status API
func (s *Stats) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"packets_created": s.PacketsCreated.Load(),
		"bytes_read":      s.BytesRead.Load(),
		"acks_received":   s.AcksReceived.Load(),
		"duplicate_acks":  s.DuplicateAcks.Load(),
		"retransmits":     s.Retransmits.Load(),
		"timeout_events":  s.TimeoutEvents.Load(),
		"corrupt_frames":  s.CorruptFrames.Load(),
		"window":          float64(s.windowTenths.Load()) / 10,
		"rtt_ms":          float64(s.rttMicros.Load()) / 1000,
	}
}

// inputChunk is one unit handed from the input reader to the engine loop.
// A non-nil err ends the transfer.
type inputChunk struct {
	payload []byte
	err     error
}

// Engine drives one transfer: it reads the local input into packets, keeps at
// most a congestion window of them in flight, processes acknowledgments, and
// retransmits packets that time out. All protocol state (packet store and
// congestion controller) is owned exclusively by the engine's single loop;
// only the input reader runs on its own goroutine, feeding chunks over a
// channel so a stalled input source never blocks the loop.
type Engine struct {
	conn   *net.UDPConn
	peer   *net.UDPAddr
	store  *PacketStore
	cc     *CongestionController
	input  io.Reader
	chunks chan inputChunk
	sum    *digest.Stream
	stats  Stats

	inputDone bool
}

// NewEngine creates a sender engine that reads from input and delivers to the
// peer address over conn
func NewEngine(conn *net.UDPConn, peer *net.UDPAddr, input io.Reader) *Engine {
	return &Engine{
		conn:   conn,
		peer:   peer,
		store:  NewPacketStore(),
		cc:     NewCongestionController(),
		input:  input,
		chunks: make(chan inputChunk, 1),
		sum:    digest.NewStream(),
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

// Digest returns the hex BLAKE2b-256 digest of the input consumed so far
func (e *Engine) Digest() string {
	return e.sum.Sum()
}

// Run executes the transfer and returns nil once every packet has been
// acknowledged and the input is exhausted. The context cancels the run
// cooperatively between loop iterations.
func (e *Engine) Run(ctx context.Context) error {
	buf := make([]byte, protocol.MaxDatagramSize)

	go e.readInput(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := e.drainAcks(buf); err != nil {
			return err
		}

		e.retransmitOverdue()

		if err := e.fillWindow(); err != nil {
			return err
		}

		e.publishState()

		if e.inputDone && e.store.FullyAcked() {
			log.Printf("✓ transfer complete: %d packets, %d bytes, digest %s",
				e.store.Len(), e.sum.Bytes(), e.sum.Sum())
			return nil
		}
	}
}

// pollInterval bounds the socket wait so the retransmission scan runs on a
// steady cadence
func (e *Engine) pollInterval() time.Duration {
	d := e.cc.RetransmitTimeout() / 2
	if d < minPollInterval {
		return minPollInterval
	}
	if d > maxPollInterval {
		return maxPollInterval
	}
	return d
}

// drainAcks processes every acknowledgment available within one poll interval.
// Corrupt frames are dropped; re-acks of already-acked packets are counted but
// do not feed the congestion controller.
func (e *Engine) drainAcks(buf []byte) error {
	if err := e.conn.SetReadDeadline(time.Now().Add(e.pollInterval())); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}

	for {
		n, _, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return nil
			}
			return fmt.Errorf("socket read: %w", err)
		}

		frame, err := protocol.Decode(buf[:n])
		if err != nil {
			e.stats.CorruptFrames.Add(1)
			log.Printf("dropping corrupt frame (%d bytes)", n)
			continue
		}

		if frame.Type != protocol.FrameAck {
			log.Printf("dropping unexpected %s frame", frame.Type)
			continue
		}

		if err := e.handleAck(frame.Index); err != nil {
			return err
		}
	}
}

// handleAck applies a single acknowledgment. Only a newly-acked packet feeds
// the congestion controller, and only when it has been transmitted at least
// once.
func (e *Engine) handleAck(index int) error {
	pkt := e.store.Packet(index)
	if pkt == nil {
		return fmt.Errorf("%w: %d (have %d packets)", ErrUnknownAckIndex, index, e.store.Len())
	}

	if !e.store.MarkAcked(index) {
		e.stats.DuplicateAcks.Add(1)
		return nil
	}
	e.stats.AcksReceived.Add(1)

	// SendTime reflects the packet's last transmission; a packet acked
	// without one carries no usable RTT sample
	if !pkt.SendTime.IsZero() {
		e.cc.OnAck(time.Since(pkt.SendTime))
	}
	return nil
}

// retransmitOverdue resends every in-flight packet older than the current
// retransmission timeout. However many packets are overdue, the congestion
// controller sees exactly one loss event per scan.
func (e *Engine) retransmitOverdue() {
	overdue := e.store.Overdue(time.Now(), e.cc.RetransmitTimeout())
	if len(overdue) == 0 {
		return
	}

	e.cc.OnTimeout()
	e.stats.TimeoutEvents.Add(1)

	for _, pkt := range overdue {
		if err := e.transmit(pkt); err != nil {
			log.Printf("retransmit of packet %d failed: %v", pkt.Index, err)
			continue
		}
		e.stats.Retransmits.Add(1)
	}

	log.Printf("timeout: resent %d packet(s), window %.1f, rto %v",
		len(overdue), e.cc.Window(), e.cc.RetransmitTimeout())
}

// fillWindow transmits new packets while the in-flight count is below the
// effective congestion window. Input chunks arrive over a channel; when none
// is ready the loop moves on rather than waiting, so the retransmission scan
// keeps its cadence through an input stall.
func (e *Engine) fillWindow() error {
	for !e.inputDone && float64(e.store.InFlightCount()) < e.cc.Window() {
		var payload []byte
		select {
		case c, ok := <-e.chunks:
			if !ok {
				e.inputDone = true
				return nil
			}
			if c.err != nil {
				return c.err
			}
			payload = c.payload
		default:
			return nil
		}

		index := e.store.Append(payload)
		e.sum.Write(payload)
		e.stats.PacketsCreated.Add(1)
		e.stats.BytesRead.Add(int64(len(payload)))

		if err := e.transmit(e.store.Packet(index)); err != nil {
			// The retransmission scan retries it after the current timeout
			log.Printf("transmit of packet %d failed: %v", index, err)
		}
	}
	return nil
}

// readInput chunks the input stream into payloads of at most MaxPayloadSize
// bytes. It runs on its own goroutine so a stalled input source only pauses
// packet creation, never acknowledgment processing or retransmission. The
// channel is closed once the input is exhausted.
func (e *Engine) readInput(ctx context.Context) {
	defer close(e.chunks)
	for {
		buf := make([]byte, protocol.MaxPayloadSize)
		n, err := io.ReadFull(e.input, buf)

		var c inputChunk
		switch {
		case errors.Is(err, io.EOF):
			return
		case errors.Is(err, io.ErrUnexpectedEOF):
			c = inputChunk{payload: buf[:n]}
		case err != nil:
			c = inputChunk{err: fmt.Errorf("read input: %w", err)}
		default:
			c = inputChunk{payload: buf}
		}

		select {
		case e.chunks <- c:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// transmit encodes and sends a packet, refreshing its send time. The packet
// is marked sent even when the write fails, so the overdue scan retries it
// instead of leaving it stranded as unsent.
func (e *Engine) transmit(pkt *Packet) error {
	frame, err := protocol.EncodeData(pkt.Index, pkt.Payload)
	if err != nil {
		return err
	}
	e.store.MarkSent(pkt.Index, time.Now())
	if _, err := e.conn.WriteToUDP(frame, e.peer); err != nil {
		return err
	}
	return nil
}

// publishState mirrors the controller's window and RTT into atomics for the
// status API
func (e *Engine) publishState() {
	e.stats.windowTenths.Store(int64(e.cc.Window() * 10))
	e.stats.rttMicros.Store(e.cc.EstimatedRTT().Microseconds())
}
