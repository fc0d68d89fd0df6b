package telemetry

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/voide-engine/pkg/flowgraph/config"
)

// Severity is a node's display state on the observer side.
// Higher values win.
type Severity int

// Severities, lowest first.
const (
	SeverityIdle Severity = iota
	SeverityOK
	SeverityActive
	SeverityWarn
	SeverityStalled
)

var severityNames = [...]string{"idle", "ok", "active", "warn", "stalled"}

// String returns the severity name.
func (s Severity) String() string {
	if s >= 0 && int(s) < len(severityNames) {
		return severityNames[s]
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// Monitor timings.
const (
	// ActiveDecay is how long a node stays active without news before it shows ok.
	ActiveDecay = 500 * time.Millisecond
	// OKDecay is how long a node stays ok before it shows idle.
	OKDecay = 1500 * time.Millisecond
	// HeartbeatWarn is the heartbeat age at which the scheduler is reported unresponsive.
	HeartbeatWarn = 500 * time.Millisecond
	// MinStallTimeout bounds the wire pruning timeout from below.
	MinStallTimeout = 500 * time.Millisecond
)

// NodeLight is the observed state of one node.
type NodeLight struct {
	ID       string
	Severity Severity
	// Latched is set by warn or stalled and cleared only by ok or idle.
	Latched bool
	Reason  string
	Updated time.Time
}

// WireLight is the last observed transfer on one edge.
type WireLight struct {
	Key        string
	From       string
	To         string
	OutPort    string
	InPort     string
	Pkt        string
	LastActive time.Time
}

// Monitor folds telemetry events into per-node and per-wire state for
// display. It is safe for concurrent use.
type Monitor struct {
	mu            sync.Mutex
	nodes         map[string]*NodeLight
	wires         map[string]*WireLight
	stallTimeout  time.Duration
	lastHeartbeat time.Time
	dropped       uint64
	droppedDelta  uint64
	now           func() time.Time
}

// NewMonitor creates a monitor. Wires idle for longer than stallTimeout are
// pruned; zero means config.DefaultStallTimeout.
func NewMonitor(stallTimeout time.Duration) *Monitor {
	if stallTimeout == 0 {
		stallTimeout = config.DefaultStallTimeout
	}
	if stallTimeout < MinStallTimeout {
		stallTimeout = MinStallTimeout
	}
	return &Monitor{
		nodes:        make(map[string]*NodeLight),
		wires:        make(map[string]*WireLight),
		stallTimeout: stallTimeout,
		now:          time.Now,
	}
}

// Apply folds one event into the monitor.
func (m *Monitor) Apply(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	id := ev.Field("id")
	switch ev.Type {
	case NodeStart:
		m.applyNode(id, SeverityActive, now, "")
	case NodeEnd:
		if ok, isBool := ev.Flag("ok"); isBool && !ok {
			m.applyNode(id, SeverityWarn, now, ev.Field("reason"))
		} else {
			m.applyNode(id, SeverityOK, now, "")
		}
	case WireTransfer:
		key := id
		if key == "" {
			key = ev.Field("from") + "->" + ev.Field("to")
		}
		m.wires[key] = &WireLight{
			Key:        key,
			From:       ev.Field("from"),
			To:         ev.Field("to"),
			OutPort:    ev.Field("outPort"),
			InPort:     ev.Field("inPort"),
			Pkt:        ev.Field("pkt"),
			LastActive: now,
		}
		m.applyNode(ev.Field("from"), SeverityActive, now, "")
	case SchemaWarn:
		m.applyNode(id, SeverityWarn, now, orDefault(ev.Field("reason"), "schema warning"))
	case Stalled:
		m.applyNode(id, SeverityStalled, now, orDefault(ev.Field("reason"), "stalled"))
	case AckClear:
		m.applyNode(id, SeverityIdle, now, "")
	case Heartbeat:
		m.lastHeartbeat = now
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// applyNode moves a node toward sev. Warn and stalled latch; while latched
// only ok or idle change the severity.
func (m *Monitor) applyNode(id string, sev Severity, now time.Time, reason string) {
	if id == "" {
		return
	}
	n, ok := m.nodes[id]
	if !ok {
		n = &NodeLight{ID: id}
		m.nodes[id] = n
	}
	switch sev {
	case SeverityWarn, SeverityStalled:
		n.Latched = true
	case SeverityIdle, SeverityOK:
		n.Latched = false
	}

	if !n.Latched || sev >= n.Severity {
		n.Severity = sev
	}
	if n.Latched {
		if reason != "" {
			n.Reason = reason
		}
	} else {
		n.Reason = ""
	}
	n.Updated = now
}

// SetRingStats records the ring header's heartbeat and drop counters.
// heartbeatNs is nanoseconds since the epoch; 0 means no heartbeat yet.
func (m *Monitor) SetRingStats(heartbeatNs, dropped, droppedDelta uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if heartbeatNs != 0 {
		m.lastHeartbeat = time.Unix(0, int64(heartbeatNs))
	}
	m.dropped = dropped
	m.droppedDelta = droppedDelta
}

// Snapshot is a point-in-time view of the monitor.
type Snapshot struct {
	Nodes []NodeLight
	Wires []WireLight
	// HeartbeatSeen is false until the first heartbeat.
	HeartbeatSeen bool
	HeartbeatAge  time.Duration
	// Unresponsive is true when the last heartbeat is older than HeartbeatWarn.
	Unresponsive bool
	Dropped      uint64
	DroppedDelta uint64
}

// Snapshot decays idle nodes, prunes stale wires and returns the state
// sorted by id.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, n := range m.nodes {
		if n.Latched {
			continue
		}
		age := now.Sub(n.Updated)
		if n.Severity == SeverityActive && age > ActiveDecay {
			n.Severity = SeverityOK
		}
		if n.Severity == SeverityOK && age > OKDecay {
			n.Severity = SeverityIdle
		}
	}
	for key, w := range m.wires {
		if now.Sub(w.LastActive) > m.stallTimeout {
			delete(m.wires, key)
		}
	}

	s := Snapshot{Dropped: m.dropped, DroppedDelta: m.droppedDelta}
	for _, n := range m.nodes {
		s.Nodes = append(s.Nodes, *n)
	}
	sort.Slice(s.Nodes, func(i, j int) bool { return s.Nodes[i].ID < s.Nodes[j].ID })
	for _, w := range m.wires {
		s.Wires = append(s.Wires, *w)
	}
	sort.Slice(s.Wires, func(i, j int) bool { return s.Wires[i].Key < s.Wires[j].Key })

	if !m.lastHeartbeat.IsZero() {
		s.HeartbeatSeen = true
		s.HeartbeatAge = now.Sub(m.lastHeartbeat)
		s.Unresponsive = s.HeartbeatAge >= HeartbeatWarn
	}
	return s
}

// maxRenderedWires caps the wire list in Render.
const maxRenderedWires = 16

// Render writes a plain-text view of the snapshot.
func (s Snapshot) Render(w io.Writer, transport string) error {
	var b strings.Builder

	status := "waiting"
	switch {
	case s.HeartbeatSeen && s.Unresponsive:
		status = "scheduler unresponsive"
	case s.HeartbeatSeen:
		status = "active"
	}
	fmt.Fprintf(&b, "voide telemetry | transport: %s | %s (%d ms) | dropped +%d total %d\n",
		transport, status, s.HeartbeatAge.Milliseconds(), s.DroppedDelta, s.Dropped)

	b.WriteString("\nNodes:\n")
	if len(s.Nodes) == 0 {
		b.WriteString("  (waiting for events)\n")
	}
	for _, n := range s.Nodes {
		fmt.Fprintf(&b, "  %-7s %s", n.Severity, n.ID)
		if n.Reason != "" {
			fmt.Fprintf(&b, " (%s)", n.Reason)
		}
		b.WriteByte('\n')
	}

	b.WriteString("\nWires:\n")
	if len(s.Wires) == 0 {
		b.WriteString("  (no recent transfers)\n")
	}
	for i, wl := range s.Wires {
		if i == maxRenderedWires {
			fmt.Fprintf(&b, "  ... %d more\n", len(s.Wires)-maxRenderedWires)
			break
		}
		fmt.Fprintf(&b, "  %s %s.%s -> %s.%s pkt %s\n", wl.Key, wl.From, wl.OutPort, wl.To, wl.InPort, wl.Pkt)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
