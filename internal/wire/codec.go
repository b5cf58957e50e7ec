// Package wire implements grain's on-the-wire framing: a 4-byte
// length-prefixed, msgpack-encoded envelope carried over a raw TCP
// connection, plus the Request/Response/ResponseError types those frames
// carry. It plays the role spec.md §3 assigns to bincode framing in the
// reference implementation, adapted to Go's ecosystem codec of choice.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hashicorp/go-msgpack/codec"
)

// msgpackHandle is the single shared codec.Handle used for every frame.
// go-msgpack's Handle is safe for concurrent use once configured, so one
// package-level instance is reused across every Encoder/Decoder.
var msgpackHandle = &codec.MsgpackHandle{}

// FrameKind tags the payload that follows a frame's length prefix, letting
// the reader pick the right Go type to decode into without speculative
// decode-and-rollback.
type FrameKind uint8

const (
	FrameRequest FrameKind = iota + 1
	FrameResponse
	FrameSubscriptionRequest
	FrameSubscriptionResponse
)

// maxFrameSize bounds a single frame's payload length, guarding against a
// corrupt or hostile length prefix driving an unbounded allocation.
const maxFrameSize = 64 << 20 // 64 MiB

// Encode msgpack-serializes v into a new byte slice.
func Encode(v any) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	return buf, nil
}

// Decode msgpack-deserializes data into v.
func Decode(data []byte, v any) error {
	dec := codec.NewDecoderBytes(data, msgpackHandle)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("wire: decode: %w", err)
	}
	return nil
}

// WriteFrame writes kind and v to w as one length-delimited frame: a
// 4-byte big-endian length (covering the kind byte plus the encoded
// payload), the kind byte, then the msgpack payload.
func WriteFrame(w io.Writer, kind FrameKind, v any) error {
	payload, err := Encode(v)
	if err != nil {
		return err
	}

	frame := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(1+len(payload)))
	frame[4] = byte(kind)
	copy(frame[5:], payload)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-delimited frame from r, returning its kind and
// raw (still msgpack-encoded) payload. Callers decode the payload with
// Decode into the Go type appropriate for the returned kind.
func ReadFrame(r io.Reader) (FrameKind, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return 0, nil, fmt.Errorf("wire: empty frame")
	}
	if length > maxFrameSize {
		return 0, nil, fmt.Errorf("wire: frame of %d bytes exceeds max %d",
			length, maxFrameSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("wire: read frame body: %w", err)
	}

	return FrameKind(body[0]), body[1:], nil
}
