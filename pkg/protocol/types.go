package protocol

// Protocol constants
const (
	// MaxPayloadSize is the largest data payload carried by a single frame
	MaxPayloadSize = 1375

	// MaxDatagramSize bounds the encoded size of any frame on the wire.
	// A full payload base64-encodes to ~1834 bytes plus envelope overhead,
	// so 4 KiB leaves comfortable headroom.
	MaxDatagramSize = 4096
)

// FrameType identifies the kind of message a frame carries
type FrameType uint8

const (
	// FrameData carries a payload chunk at a sequence index
	FrameData FrameType = iota

	// FrameAck acknowledges receipt of the data frame at a sequence index
	FrameAck
)

// String returns a human-readable frame type name
func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "DATA"
	case FrameAck:
		return "ACK"
	default:
		return "UNKNOWN"
	}
}

// Frame represents a decoded wire unit
type Frame struct {
	Type  FrameType // Data or acknowledgment
	Index int       // Sequence index
	Data  []byte    // Payload (data frames only)
}
