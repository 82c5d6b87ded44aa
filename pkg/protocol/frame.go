package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
)

var (
	ErrCorruptFrame    = errors.New("corrupt frame")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum frame size")
	ErrNegativeIndex   = errors.New("negative sequence index")
)

// envelope is the outer wire structure: a checksum plus the raw message body.
// The body is kept raw on decode so the checksum can be verified against a
// canonical re-serialization of the recovered fields rather than against the
// exact bytes that arrived.
type envelope struct {
	Hash *uint32         `json:"hash"`
	Msg  json.RawMessage `json:"msg"`
}

// dataBody is the canonical serialization of a data message. Field order is
// fixed by the struct, which is what makes the checksum deterministic.
type dataBody struct {
	Index int    `json:"index"`
	Data  []byte `json:"data"`
}

// ackBody is the canonical serialization of an acknowledgment message
type ackBody struct {
	Index int `json:"index"`
}

// EncodeData encodes a data frame carrying payload at the given sequence index
func EncodeData(index int, payload []byte) ([]byte, error) {
	if index < 0 {
		return nil, ErrNegativeIndex
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	// A nil payload would serialize as JSON null and no longer round-trip
	// as a data message
	if payload == nil {
		payload = []byte{}
	}

	body, err := json.Marshal(dataBody{Index: index, Data: payload})
	if err != nil {
		return nil, err
	}

	return seal(body)
}

// EncodeAck encodes an acknowledgment frame for the given sequence index
func EncodeAck(index int) ([]byte, error) {
	if index < 0 {
		return nil, ErrNegativeIndex
	}

	body, err := json.Marshal(ackBody{Index: index})
	if err != nil {
		return nil, err
	}

	return seal(body)
}

// seal wraps a canonical message body in an envelope with its CRC-32 checksum
func seal(body []byte) ([]byte, error) {
	return json.Marshal(struct {
		Hash uint32          `json:"hash"`
		Msg  json.RawMessage `json:"msg"`
	}{
		Hash: crc32.ChecksumIEEE(body),
		Msg:  body,
	})
}

// Decode parses a frame from the wire. The checksum is recomputed over the
// canonical serialization of the recovered fields; any mismatch, structural
// problem, or missing required field yields ErrCorruptFrame. Decode never
// panics on arbitrary input.
func Decode(buf []byte) (*Frame, error) {
	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return nil, ErrCorruptFrame
	}
	if env.Hash == nil || len(env.Msg) == 0 {
		return nil, ErrCorruptFrame
	}

	// Probe with pointer fields to distinguish "absent" from "zero value"
	var probe struct {
		Index *int    `json:"index"`
		Data  *[]byte `json:"data"`
	}
	if err := json.Unmarshal(env.Msg, &probe); err != nil {
		return nil, ErrCorruptFrame
	}
	if probe.Index == nil || *probe.Index < 0 {
		return nil, ErrCorruptFrame
	}

	if probe.Data != nil {
		canonical, err := json.Marshal(dataBody{Index: *probe.Index, Data: *probe.Data})
		if err != nil {
			return nil, ErrCorruptFrame
		}
		if crc32.ChecksumIEEE(canonical) != *env.Hash {
			return nil, ErrCorruptFrame
		}
		return &Frame{Type: FrameData, Index: *probe.Index, Data: *probe.Data}, nil
	}

	canonical, err := json.Marshal(ackBody{Index: *probe.Index})
	if err != nil {
		return nil, ErrCorruptFrame
	}
	if crc32.ChecksumIEEE(canonical) != *env.Hash {
		return nil, ErrCorruptFrame
	}
	return &Frame{Type: FrameAck, Index: *probe.Index}, nil
}
