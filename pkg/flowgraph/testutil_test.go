package flowgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/voide-engine/pkg/flowgraph/telemetry"
)

// Test canvases

// linearCanvas builds in -> mid -> out on type T.
func linearCanvas() *Canvas {
	return NewCanvas("linear").
		AddNode(Node("in", "source").WithIn("seed", "T").WithOut("v", "T")).
		AddNode(Node("mid", "pass").WithIn("v", "T").WithOut("v", "T")).
		AddNode(Node("out", "output").WithIn("v", "T")).
		Connect("in", "v", "mid", "v").
		Connect("mid", "v", "out", "v")
}

// diamondCanvas builds a -> {b, c} -> d.
func diamondCanvas() *Canvas {
	return NewCanvas("diamond").
		AddNode(Node("a", "source").WithIn("seed", "T").WithOut("v", "T")).
		AddNode(Node("b", "pass").WithIn("v", "T").WithOut("v", "T")).
		AddNode(Node("c", "pass").WithIn("v", "T").WithOut("v", "T")).
		AddNode(Node("d", "output").WithIn("v", "T")).
		Connect("a", "v", "b", "v").
		Connect("a", "v", "c", "v").
		Connect("b", "v", "d", "v").
		Connect("c", "v", "d", "v")
}

// twoBranchCanvas builds two independent chains a1 -> a2 and b1 -> b2.
func twoBranchCanvas() *Canvas {
	return NewCanvas("branches").
		AddNode(Node("a1", "source").WithIn("seed", "T").WithOut("v", "T")).
		AddNode(Node("a2", "output").WithIn("v", "T")).
		AddNode(Node("b1", "source").WithIn("seed", "T").WithOut("v", "T")).
		AddNode(Node("b2", "output").WithIn("v", "T")).
		Connect("a1", "v", "a2", "v").
		Connect("b1", "v", "b2", "v")
}

func mustBuild(t *testing.T, c *Canvas) *DAG {
	t.Helper()
	dag, err := Build(*c)
	require.NoError(t, err)
	return dag
}

// Test executors

// passThrough forwards every input value to every declared out-port.
var passThrough = ExecutorFunc(func(ctx NodeContext) ([]Output, error) {
	var out []Output
	for _, port := range ctx.InputPorts() {
		for _, v := range ctx.Inputs(port) {
			out = append(out, Output{Port: "v", Value: v})
		}
	}
	return out, nil
})

// sourceExecutor emits its "value" param, or its seed inputs.
var sourceExecutor = ExecutorFunc(func(ctx NodeContext) ([]Output, error) {
	if ctx.Params().Has("value") {
		return []Output{{Port: "v", Value: ctx.Params().Any("value", nil)}}, nil
	}
	var out []Output
	for _, v := range ctx.Inputs("seed") {
		out = append(out, Output{Port: "v", Value: v})
	}
	return out, nil
})

// sinkExecutor consumes inputs and produces nothing.
var sinkExecutor = ExecutorFunc(func(NodeContext) ([]Output, error) {
	return nil, nil
})

// testExecutors registers source, pass and output executors.
func testExecutors(t *testing.T) *Executors {
	t.Helper()
	execs := NewExecutors()
	require.NoError(t, execs.Register("source", sourceExecutor))
	require.NoError(t, execs.Register("pass", passThrough))
	require.NoError(t, execs.Register("output", sinkExecutor))
	return execs
}

// tracker records executed node ids in order.
type tracker struct {
	mu  sync.Mutex
	ids []string
}

func (tr *tracker) add(id string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.ids = append(tr.ids, id)
}

func (tr *tracker) list() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.ids...)
}

// tracking wraps an executor and records each node it runs.
func tracking(tr *tracker, next NodeExecutor) NodeExecutor {
	return ExecutorFunc(func(ctx NodeContext) ([]Output, error) {
		tr.add(ctx.NodeID())
		return next.Execute(ctx)
	})
}

// eventLog captures telemetry events.
type eventLog struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (l *eventLog) Emit(ev telemetry.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []telemetry.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]telemetry.Event(nil), l.events...)
}

// ofType returns the events of type typ, in order.
func (l *eventLog) ofType(typ telemetry.Type) []telemetry.Event {
	var out []telemetry.Event
	for _, ev := range l.all() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// testLogHandler captures log records as JSON lines.
type testLogHandler struct {
	mu    *sync.Mutex
	buf   *bytes.Buffer
	level slog.Level
	attrs []slog.Attr
}

func newTestLogHandler() *testLogHandler {
	return &testLogHandler{mu: &sync.Mutex{}, buf: &bytes.Buffer{}, level: slog.LevelDebug}
}

func (h *testLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *testLogHandler) Handle(_ context.Context, r slog.Record) error {
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	for _, a := range h.attrs {
		data[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})
	h.mu.Lock()
	defer h.mu.Unlock()
	return json.NewEncoder(h.buf).Encode(data)
}

func (h *testLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &testLogHandler{
		mu:    h.mu,
		buf:   h.buf,
		level: h.level,
		attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *testLogHandler) WithGroup(string) slog.Handler {
	return h
}

func (h *testLogHandler) records() []map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	var records []map[string]any
	for _, line := range bytes.Split(h.buf.Bytes(), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err == nil {
			records = append(records, m)
		}
	}
	return records
}

// withMessage returns the records logged with msg.
func (h *testLogHandler) withMessage(msg string) []map[string]any {
	var out []map[string]any
	for _, r := range h.records() {
		if r["msg"] == msg {
			out = append(out, r)
		}
	}
	return out
}
