package telemetry

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Wire describes one payload crossing an edge.
type Wire struct {
	// ID is the edge id.
	ID   string
	Span string
	// Pkt is a per-run packet sequence number.
	Pkt     uint64
	From    string
	To      string
	OutPort string
	InPort  string
}

// NodeStartEvent reports a node starting. span is the run id.
func NodeStartEvent(id, span string) Event {
	return Event{Type: NodeStart, Payload: map[string]any{"id": id, "span": span}}
}

// NodeEndEvent reports a node finishing. reason is only sent when ok is false.
func NodeEndEvent(id, span string, ok bool, reason string) Event {
	p := map[string]any{"id": id, "span": span, "ok": ok}
	if !ok && reason != "" {
		p["reason"] = reason
	}
	return Event{Type: NodeEnd, Payload: p}
}

// WireTransferEvent reports a payload forwarded along an edge.
func WireTransferEvent(w Wire) Event {
	return Event{Type: WireTransfer, Payload: map[string]any{
		"id":      w.ID,
		"span":    w.Span,
		"pkt":     w.Pkt,
		"from":    w.From,
		"to":      w.To,
		"outPort": w.OutPort,
		"inPort":  w.InPort,
		"ok":      true,
	}}
}

// SchemaWarnEvent reports a payload that did not fit the node's declared ports.
func SchemaWarnEvent(id, span, reason string) Event {
	return Event{Type: SchemaWarn, Payload: map[string]any{"id": id, "span": span, "reason": reason}}
}

// StalledEvent reports a node that failed and stopped its branch.
func StalledEvent(id, span, reason string) Event {
	return Event{Type: Stalled, Payload: map[string]any{"id": id, "span": span, "reason": reason}}
}

// AckClearEvent clears any warning latched on a node.
func AckClearEvent(id, span string) Event {
	return Event{Type: AckClear, Payload: map[string]any{"id": id, "span": span}}
}

// HeartbeatEvent is the liveness frame sent over datagram transports.
func HeartbeatEvent(ts uint64) Event {
	return Event{Type: Heartbeat, Timestamp: ts, Payload: map[string]any{"id": "heartbeat"}}
}

// Field returns payload[key] as a string. Non-string values are
// formatted with fmt.
func (ev Event) Field(key string) string {
	v, ok := ev.Payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Flag returns payload[key] and whether it was a bool.
func (ev Event) Flag(key string) (value, ok bool) {
	value, ok = ev.Payload[key].(bool)
	return value, ok
}

// Uint returns payload[key] as an unsigned integer.
func (ev Event) Uint(key string) (uint64, bool) {
	switch v := ev.Payload[key].(type) {
	case uint64:
		return v, true
	case int:
		return uint64(v), v >= 0
	case int64:
		return uint64(v), v >= 0
	case float64:
		return uint64(v), v >= 0
	case json.Number:
		n, err := strconv.ParseUint(v.String(), 10, 64)
		return n, err == nil
	}
	return 0, false
}
