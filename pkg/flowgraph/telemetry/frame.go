// Package telemetry encodes run progress as binary frames and ships them to
// an out-of-process observer.
//
// A frame is a 24-byte big-endian header followed by a compact JSON payload:
//
//	offset  size  field
//	0       4     magic 0x56544C4D ("VTLM")
//	4       2     version (1)
//	6       2     event type
//	8       8     timestamp, ns since the Unix epoch
//	16      4     payload length
//	20      4     crc32, reserved: written as 0, never verified
//	24      N     JSON object
//
// Frames travel through a Transport: a file-backed ring buffer, or a UDP or
// Unix datagram socket when the ring is unavailable.
package telemetry

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Frame constants.
const (
	Magic      uint32 = 0x56544C4D
	Version    uint16 = 1
	HeaderSize        = 24
)

// Type is a frame's event type code.
type Type uint16

// Event types.
const (
	Heartbeat    Type = 0
	NodeStart    Type = 1
	NodeEnd      Type = 2
	WireTransfer Type = 3
	SchemaWarn   Type = 4
	Stalled      Type = 5
	AckClear     Type = 6
)

var typeNames = [...]string{
	Heartbeat:    "Heartbeat",
	NodeStart:    "NodeStart",
	NodeEnd:      "NodeEnd",
	WireTransfer: "WireTransfer",
	SchemaWarn:   "SchemaWarn",
	Stalled:      "Stalled",
	AckClear:     "AckClear",
}

// String returns the type name, or "Type(n)" for codes outside the table.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint16(t))
}

// Decode errors.
var (
	// ErrFrameTooShort indicates fewer than HeaderSize bytes.
	ErrFrameTooShort = errors.New("telemetry frame shorter than header")

	// ErrBadMagic indicates the buffer does not start with Magic.
	ErrBadMagic = errors.New("telemetry frame magic mismatch")

	// ErrPayloadBounds indicates the declared payload length runs past the buffer.
	ErrPayloadBounds = errors.New("telemetry payload length exceeds frame")

	// ErrPayloadJSON indicates a non-empty payload that is not a JSON object.
	ErrPayloadJSON = errors.New("telemetry payload is not valid JSON")
)

// VersionError reports a frame with an unsupported version.
type VersionError struct {
	Got uint16
}

// Error implements the error interface.
func (e *VersionError) Error() string {
	return fmt.Sprintf("telemetry frame version %d, want %d", e.Got, Version)
}

// Event is one decoded frame.
type Event struct {
	Type Type
	// Timestamp is nanoseconds since the Unix epoch. Encode writes it as
	// given; Publisher.Emit stamps events that have none.
	Timestamp uint64
	// Payload is a JSON object. Decoded numbers are json.Number.
	Payload map[string]any
}

// Encode builds a frame for ev. A nil payload encodes as {}.
func Encode(ev Event) ([]byte, error) {
	payload, err := encodePayload(ev.Payload)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], Magic)
	binary.BigEndian.PutUint16(frame[4:6], Version)
	binary.BigEndian.PutUint16(frame[6:8], uint16(ev.Type))
	binary.BigEndian.PutUint64(frame[8:16], ev.Timestamp)
	binary.BigEndian.PutUint32(frame[16:20], uint32(len(payload)))
	binary.BigEndian.PutUint32(frame[20:24], 0)
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

func encodePayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("encode telemetry payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses one frame. Bytes after the payload are ignored; use
// FrameLen to step through concatenated frames.
func Decode(buf []byte) (Event, error) {
	if len(buf) < HeaderSize {
		return Event{}, ErrFrameTooShort
	}
	if binary.BigEndian.Uint32(buf[0:4]) != Magic {
		return Event{}, ErrBadMagic
	}
	if v := binary.BigEndian.Uint16(buf[4:6]); v != Version {
		return Event{}, &VersionError{Got: v}
	}

	n := binary.BigEndian.Uint32(buf[16:20])
	if uint64(n) > uint64(len(buf)-HeaderSize) {
		return Event{}, ErrPayloadBounds
	}

	ev := Event{
		Type:      Type(binary.BigEndian.Uint16(buf[6:8])),
		Timestamp: binary.BigEndian.Uint64(buf[8:16]),
		Payload:   map[string]any{},
	}
	if n == 0 {
		return ev, nil
	}

	dec := json.NewDecoder(bytes.NewReader(buf[HeaderSize : HeaderSize+int(n)]))
	dec.UseNumber()
	if err := dec.Decode(&ev.Payload); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrPayloadJSON, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Event{}, fmt.Errorf("%w: trailing data", ErrPayloadJSON)
	}
	if ev.Payload == nil {
		// "null"
		ev.Payload = map[string]any{}
	}
	return ev, nil
}

// FrameLen returns the total length of the frame at the start of buf
// without decoding the payload.
func FrameLen(buf []byte) (int, error) {
	if len(buf) < HeaderSize {
		return 0, ErrFrameTooShort
	}
	if binary.BigEndian.Uint32(buf[0:4]) != Magic {
		return 0, ErrBadMagic
	}
	return HeaderSize + int(binary.BigEndian.Uint32(buf[16:20])), nil
}
