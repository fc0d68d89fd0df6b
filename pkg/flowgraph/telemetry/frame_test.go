package telemetry

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_NodeStart(t *testing.T) {
	frame, err := Encode(Event{
		Type:      NodeStart,
		Timestamp: 1_000_000_000,
		Payload:   map[string]any{"id": "n1"},
	})
	require.NoError(t, err)

	ev, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, NodeStart, ev.Type)
	assert.Equal(t, uint16(1), uint16(ev.Type))
	assert.Equal(t, uint64(1_000_000_000), ev.Timestamp)
	assert.Equal(t, map[string]any{"id": "n1"}, ev.Payload)
}

func TestEncode_HeaderLayout(t *testing.T) {
	frame, err := Encode(Event{Type: WireTransfer, Timestamp: 42, Payload: map[string]any{"a": "<b>"}})
	require.NoError(t, err)

	payload := `{"a":"<b>"}`
	require.Len(t, frame, HeaderSize+len(payload))
	assert.Equal(t, Magic, binary.BigEndian.Uint32(frame[0:4]))
	assert.Equal(t, Version, binary.BigEndian.Uint16(frame[4:6]))
	assert.Equal(t, uint16(WireTransfer), binary.BigEndian.Uint16(frame[6:8]))
	assert.Equal(t, uint64(42), binary.BigEndian.Uint64(frame[8:16]))
	assert.Equal(t, uint32(len(payload)), binary.BigEndian.Uint32(frame[16:20]))
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(frame[20:24]), "crc is reserved")
	assert.Equal(t, payload, string(frame[HeaderSize:]), "payload is compact and unescaped")
}

func TestEncode_Defaults(t *testing.T) {
	frame, err := Encode(Event{Type: Heartbeat})
	require.NoError(t, err)

	ev, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), ev.Timestamp, "zero timestamp is written as zero")
	assert.Equal(t, map[string]any{}, ev.Payload, "nil payload encodes as {}")
	assert.Equal(t, "{}", string(frame[HeaderSize:]))
}

func TestEncode_UnencodablePayload(t *testing.T) {
	_, err := Encode(Event{Type: NodeEnd, Payload: map[string]any{"ch": make(chan int)}})
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		ts      uint64
		payload string
	}{
		{"heartbeat", HeartbeatEvent(1), 123456789, `{"id":"heartbeat"}`},
		{"zero timestamp", NodeStartEvent("n1", "r"), 0, `{"id":"n1","span":"r"}`},
		{"max timestamp", NodeStartEvent("n1", "r"), 18446744073709551615, `{"id":"n1","span":"r"}`},
		{"node end failed", NodeEndEvent("n", "run-1", false, "boom"), 123456789, `{"id":"n","span":"run-1","ok":false,"reason":"boom"}`},
		{"wire", WireTransferEvent(Wire{ID: "e1", Span: "r", Pkt: 18446744073709551615, From: "a", To: "b", OutPort: "o", InPort: "i"}), 123456789,
			`{"id":"e1","span":"r","pkt":18446744073709551615,"from":"a","to":"b","outPort":"o","inPort":"i","ok":true}`},
		{"nested", Event{Type: SchemaWarn, Payload: map[string]any{"tags": []any{"x", 1.5}, "meta": map[string]any{"k": nil}}}, 123456789,
			`{"tags":["x",1.5],"meta":{"k":null}}`},
		{"unknown type", Event{Type: Type(99), Payload: map[string]any{}}, 123456789, `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.event.Timestamp = tt.ts
			frame, err := Encode(tt.event)
			require.NoError(t, err)

			ev, err := Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, tt.event.Type, ev.Type)
			assert.Equal(t, tt.ts, ev.Timestamp)

			got, err := json.Marshal(ev.Payload)
			require.NoError(t, err)
			assert.JSONEq(t, tt.payload, string(got))
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	valid, err := Encode(Event{Type: NodeStart, Timestamp: 1, Payload: map[string]any{"id": "n1"}})
	require.NoError(t, err)

	mutate := func(f func(b []byte) []byte) []byte {
		b := append([]byte(nil), valid...)
		return f(b)
	}

	tests := []struct {
		name    string
		buf     []byte
		wantErr error
	}{
		{"empty", nil, ErrFrameTooShort},
		{"short header", valid[:HeaderSize-1], ErrFrameTooShort},
		{"bad magic", mutate(func(b []byte) []byte { b[0] = 0; return b }), ErrBadMagic},
		{"payload past end", valid[:len(valid)-1], ErrPayloadBounds},
		{"bad json", mutate(func(b []byte) []byte { b[HeaderSize] = 'x'; return b }), ErrPayloadJSON},
		{"not an object", mutate(func(b []byte) []byte {
			b = b[:HeaderSize]
			binary.BigEndian.PutUint32(b[16:20], 3)
			return append(b, "[1]"...)
		}), ErrPayloadJSON},
		{"trailing json", mutate(func(b []byte) []byte {
			b = b[:HeaderSize]
			binary.BigEndian.PutUint32(b[16:20], 5)
			return append(b, "{} {}"...)
		}), ErrPayloadJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.buf)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestDecode_Version(t *testing.T) {
	frame, err := Encode(Event{Type: NodeStart, Timestamp: 1})
	require.NoError(t, err)
	binary.BigEndian.PutUint16(frame[4:6], 7)

	_, err = Decode(frame)
	var verr *VersionError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, uint16(7), verr.Got)
	assert.Contains(t, verr.Error(), "version 7")
}

func TestDecode_EmptyAndNullPayload(t *testing.T) {
	frame, err := Encode(Event{Type: AckClear, Timestamp: 1})
	require.NoError(t, err)

	empty := append([]byte(nil), frame[:HeaderSize]...)
	binary.BigEndian.PutUint32(empty[16:20], 0)
	ev, err := Decode(empty)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, ev.Payload)

	null := append(append([]byte(nil), frame[:HeaderSize]...), "null"...)
	binary.BigEndian.PutUint32(null[16:20], 4)
	ev, err = Decode(null)
	require.NoError(t, err)
	assert.NotNil(t, ev.Payload)
	assert.Empty(t, ev.Payload)
}

func TestDecode_IgnoresBytesAfterFrame(t *testing.T) {
	a, err := Encode(NodeStartEvent("a", "r"))
	require.NoError(t, err)
	b, err := Encode(NodeStartEvent("b", "r"))
	require.NoError(t, err)
	buf := append(append([]byte(nil), a...), b...)

	n, err := FrameLen(buf)
	require.NoError(t, err)
	assert.Equal(t, len(a), n)

	first, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, "a", first.Field("id"))

	second, err := Decode(buf[n:])
	require.NoError(t, err)
	assert.Equal(t, "b", second.Field("id"))
}

func TestFrameLen_Errors(t *testing.T) {
	_, err := FrameLen(make([]byte, 10))
	assert.ErrorIs(t, err, ErrFrameTooShort)

	_, err = FrameLen(make([]byte, HeaderSize))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestType_String(t *testing.T) {
	assert.Equal(t, "Heartbeat", Heartbeat.String())
	assert.Equal(t, "WireTransfer", WireTransfer.String())
	assert.Equal(t, "AckClear", AckClear.String())
	assert.Equal(t, "Type(42)", Type(42).String())
}

func TestEventAccessors(t *testing.T) {
	frame, err := Encode(WireTransferEvent(Wire{ID: "e", Pkt: 7, From: "a", To: "b"}))
	require.NoError(t, err)
	ev, err := Decode(frame)
	require.NoError(t, err)

	pkt, ok := ev.Uint("pkt")
	assert.True(t, ok)
	assert.Equal(t, uint64(7), pkt)
	assert.Equal(t, "7", ev.Field("pkt"))

	flag, ok := ev.Flag("ok")
	assert.True(t, ok)
	assert.True(t, flag)

	_, ok = ev.Flag("from")
	assert.False(t, ok)
	_, ok = ev.Uint("from")
	assert.False(t, ok)
	assert.Equal(t, "", ev.Field("missing"))

	local := Event{Payload: map[string]any{"i": -1, "u": uint64(3), "f": 2.0}}
	_, ok = local.Uint("i")
	assert.False(t, ok)
	u, ok := local.Uint("u")
	assert.True(t, ok)
	assert.Equal(t, uint64(3), u)
	f, ok := local.Uint("f")
	assert.True(t, ok)
	assert.Equal(t, uint64(2), f)
}

func TestNodeEndEvent_ReasonOnlyOnFailure(t *testing.T) {
	ok := NodeEndEvent("n", "r", true, "ignored")
	_, has := ok.Payload["reason"]
	assert.False(t, has)

	failed := NodeEndEvent("n", "r", false, "boom")
	assert.Equal(t, "boom", failed.Field("reason"))
}
