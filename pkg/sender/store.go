package sender

import (
	"time"
)

// Packet is a single outbound data unit tracked by the sender. The index is
// assigned once at creation and never changes; SendTime is refreshed on every
// transmission of the packet.
type Packet struct {
	Index    int
	Payload  []byte
	Acked    bool
	SendTime time.Time
	sent     bool
}

// PacketStore holds every packet created for the current run, indexed densely
// by sequence number. It is append-only: packets are never removed, only
// marked acknowledged.
type PacketStore struct {
	packets []*Packet
	acked   int
}

// NewPacketStore creates an empty packet store
func NewPacketStore() *PacketStore {
	return &PacketStore{}
}

// Append allocates the next sequence index for payload and stores the packet
// as unsent. Returns the assigned index.
func (s *PacketStore) Append(payload []byte) int {
	index := len(s.packets)
	s.packets = append(s.packets, &Packet{
		Index:   index,
		Payload: payload,
	})
	return index
}

// Packet returns the packet at index, or nil if the index is out of range
func (s *PacketStore) Packet(index int) *Packet {
	if index < 0 || index >= len(s.packets) {
		return nil
	}
	return s.packets[index]
}

// Len returns the number of packets created so far
func (s *PacketStore) Len() int {
	return len(s.packets)
}

// MarkSent records a transmission of the packet at index at time t
func (s *PacketStore) MarkSent(index int, t time.Time) {
	pkt := s.Packet(index)
	if pkt == nil {
		return
	}
	pkt.sent = true
	pkt.SendTime = t
}

// MarkAcked marks the packet at index acknowledged and reports whether the
// acknowledgment was new. Acking an already-acked or out-of-range index is a
// no-op and returns false.
func (s *PacketStore) MarkAcked(index int) bool {
	pkt := s.Packet(index)
	if pkt == nil || pkt.Acked {
		return false
	}
	pkt.Acked = true
	s.acked++
	return true
}

// InFlight reports whether the packet at index has been sent but not yet
// acknowledged
func (s *PacketStore) InFlight(index int) bool {
	pkt := s.Packet(index)
	return pkt != nil && pkt.sent && !pkt.Acked
}

// InFlightCount returns the number of packets currently in flight
func (s *PacketStore) InFlightCount() int {
	count := 0
	for _, pkt := range s.packets {
		if pkt.sent && !pkt.Acked {
			count++
		}
	}
	return count
}

// Overdue returns every in-flight packet whose last transmission is older
// than now minus timeout
func (s *PacketStore) Overdue(now time.Time, timeout time.Duration) []*Packet {
	var overdue []*Packet
	cutoff := now.Add(-timeout)
	for _, pkt := range s.packets {
		if pkt.sent && !pkt.Acked && pkt.SendTime.Before(cutoff) {
			overdue = append(overdue, pkt)
		}
	}
	return overdue
}

// FullyAcked reports whether every stored packet has been acknowledged.
// True for an empty store.
func (s *PacketStore) FullyAcked() bool {
	return s.acked == len(s.packets)
}
