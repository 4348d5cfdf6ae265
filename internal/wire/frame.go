// Package wire implements the self-delimiting, length-prefixed
// MessagePack codec used for every control frame on the frame-protocol
// transport, in place of the source's Python-specific pickle codec. Every
// frame on the wire is a 4-byte big-endian length prefix followed by the
// MessagePack-encoded body, so a reader accumulating bytes always knows
// exactly how many more it needs before attempting a decode.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/go-msgpack/codec"
)

// lengthPrefixSize is the width, in bytes, of the frame's length prefix.
const lengthPrefixSize = 4

// MaxFrameSize bounds a single control frame to guard against a
// corrupted or malicious length prefix causing an unbounded allocation.
const MaxFrameSize = 64 << 20 // 64 MiB

var handle = &codec.MsgpackHandle{}

// Header is the control-frame header carried by every frame on the wire
// (spec §4.5.2): method is "size_of", "close_socket", or "payload";
// content is "bytes" or "string"; status is "pending", "sent", or
// "closing".
type Header struct {
	Method   string `codec:"method"`
	ID       string `codec:"id"`
	Receiver string `codec:"receiver"`
	Source   string `codec:"source,omitempty"`
	Content  string `codec:"content"`
	Status   string `codec:"status"`
}

// Frame is a control frame: a header plus an opaque body. For a size-probe
// frame, Body holds the payload length as an int64; for a close-signal
// frame, Body holds a human-readable string.
type Frame struct {
	Header Header `codec:"header"`
	Body   any    `codec:"body"`
}

// Encode serializes frame as a length-prefixed MessagePack buffer ready to
// be written to the wire.
func Encode(frame Frame) ([]byte, error) {
	var body bytes.Buffer
	enc := codec.NewEncoder(&body, handle)
	if err := enc.Encode(frame); err != nil {
		return nil, fmt.Errorf("wire: encoding frame: %w", err)
	}

	out := make([]byte, lengthPrefixSize+body.Len())
	binary.BigEndian.PutUint32(out[:lengthPrefixSize], uint32(body.Len()))
	copy(out[lengthPrefixSize:], body.Bytes())
	return out, nil
}

// TryDecode attempts to decode a frame from the front of buf. It returns
// the decoded frame, the number of bytes consumed, and ok=true on
// success. ok=false with consumed=0 means "not enough data yet" — the
// caller's read loop should keep accumulating bytes and try again,
// exactly mirroring the source's accumulate-then-retry contract
// (spec §4.5.1) while knowing the target length up front instead of
// retry-decoding a growing buffer from scratch.
func TryDecode(buf []byte) (frame Frame, consumed int, ok bool, err error) {
	if len(buf) < lengthPrefixSize {
		return Frame{}, 0, false, nil
	}
	length := binary.BigEndian.Uint32(buf[:lengthPrefixSize])
	if length > MaxFrameSize {
		return Frame{}, 0, false, fmt.Errorf("wire: frame length %d exceeds maximum %d", length, MaxFrameSize)
	}
	total := lengthPrefixSize + int(length)
	if len(buf) < total {
		return Frame{}, 0, false, nil
	}

	dec := codec.NewDecoderBytes(buf[lengthPrefixSize:total], handle)
	if err := dec.Decode(&frame); err != nil {
		return Frame{}, 0, false, fmt.Errorf("wire: decoding frame: %w", err)
	}
	return frame, total, true, nil
}

// SizeProbe builds the control frame announcing an incoming payload's
// length (spec §4.5.1).
func SizeProbe(id, receiver string, payloadLength int) Frame {
	return Frame{
		Header: Header{
			Method:   "size_of",
			ID:       id,
			Receiver: receiver,
			Content:  "bytes",
			Status:   "pending",
		},
		Body: int64(payloadLength),
	}
}

// CloseSignal builds the control frame requesting graceful teardown.
func CloseSignal(id, receiver string) Frame {
	return Frame{
		Header: Header{
			Method:   "close_socket",
			ID:       id,
			Receiver: receiver,
			Content:  "string",
			Status:   "closing",
		},
		Body: "Closing connection",
	}
}

// ACK is the fixed 2-byte acknowledgment sequence sent in reply to a
// size-probe frame (spec §4.5.1).
var ACK = []byte("OK")

// PayloadLength extracts the declared payload length from a size-probe
// frame's body.
func PayloadLength(frame Frame) (int, error) {
	switch v := frame.Body.(type) {
	case int64:
		return int(v), nil
	case int:
		return v, nil
	case uint64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("wire: size-probe body is not an integer: %T", frame.Body)
	}
}
