package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/voide-engine/pkg/flowgraph"
	"github.com/randalmurphal/voide-engine/pkg/flowgraph/runstore"
	"github.com/randalmurphal/voide-engine/pkg/flowgraph/telemetry"
)

const greetCanvas = `{
  "id": "greet",
  "nodes": [
    {"id": "in", "type": "input", "in": [{"port": "text", "types": ["UserText"]}], "out": [{"port": "text", "types": ["UserText"]}]},
    {"id": "up", "type": "upper", "in": [{"port": "text", "types": ["UserText"]}], "out": [{"port": "text", "types": ["UserText"]}]},
    {"id": "out", "type": "output", "in": [{"port": "text", "types": ["UserText"]}], "out": []}
  ],
  "edges": [
    {"from": ["in", "text"], "to": ["up", "text"]},
    {"from": ["up", "text"], "to": ["out", "text"]}
  ]
}`

// execute runs the voide command with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		canvas   string
		args     []string
		wantOut  string
		wantCode string
	}{
		{
			name:    "valid",
			canvas:  greetCanvas,
			wantOut: "OK\n",
		},
		{
			name: "type mismatch",
			canvas: `{"nodes": [
				{"id": "a", "type": "x", "in": [], "out": [{"port": "p", "types": ["T1"]}]},
				{"id": "b", "type": "output", "in": [{"port": "p", "types": ["T2"]}], "out": []}
			], "edges": [{"from": ["a", "p"], "to": ["b", "p"]}]}`,
			wantCode: "E-TYPE",
		},
		{
			name: "dangling",
			canvas: `{"nodes": [
				{"id": "a", "type": "x", "in": [], "out": [{"port": "p", "types": ["T"]}]}
			], "edges": [{"from": ["a", "p"], "to": ["missing", "p"]}]}`,
			wantCode: "E-DANGLING",
		},
		{
			name: "unconnected viewer output",
			canvas: `{"nodes": [
				{"id": "v", "type": "viewer", "in": [], "out": [{"port": "p", "types": ["T"]}]}
			], "edges": []}`,
			wantCode: "E-UNREACHABLE-OUTPUT",
		},
		{
			name: "viewer declared terminal",
			canvas: `{"nodes": [
				{"id": "v", "type": "viewer", "in": [], "out": [{"port": "p", "types": ["T"]}]}
			], "edges": []}`,
			args:    []string{"--terminal-types", "viewer"},
			wantOut: "OK\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "flow.json", tt.canvas)
			out, err := execute(t, "", append([]string{"validate", path}, tt.args...)...)

			if tt.wantCode == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.wantOut, out)
				return
			}
			assert.ErrorIs(t, err, errReported)
			var be flowgraph.BuildError
			require.NoError(t, json.Unmarshal([]byte(out), &be))
			assert.Equal(t, flowgraph.Code(tt.wantCode), be.Code)
			assert.NotEmpty(t, be.Message)
		})
	}
}

func TestValidate_SchemaError(t *testing.T) {
	path := writeFile(t, "flow.json", `{"edges": []}`)
	_, err := execute(t, "", "validate", path)
	var se *flowgraph.SchemaError
	assert.ErrorAs(t, err, &se)
	assert.NotErrorIs(t, err, errReported)
}

func TestOrder(t *testing.T) {
	path := writeFile(t, "flow.json", greetCanvas)

	out, err := execute(t, "", "order", path)
	require.NoError(t, err)
	assert.Equal(t, "in\nup\nout\n", out)

	out, err = execute(t, "", "order", "--json", path)
	require.NoError(t, err)
	assert.JSONEq(t, `["in", "up", "out"]`, out)
}

func TestOrder_Cycle(t *testing.T) {
	path := writeFile(t, "loop.yaml", `
nodes:
  - {id: a, type: x, in: [{port: i, types: [T]}], out: [{port: o, types: [T]}]}
  - {id: b, type: x, in: [{port: i, types: [T]}], out: [{port: o, types: [T]}]}
edges:
  - {from: [a, o], to: [b, i]}
  - {from: [b, o], to: [a, i]}
`)
	_, err := execute(t, "", "order", path)
	assert.ErrorIs(t, err, flowgraph.ErrIncompleteOrder)
}

func TestRun_DryRun(t *testing.T) {
	path := writeFile(t, "flow.json", greetCanvas)

	out, err := execute(t, "", "run", path,
		"--no-telemetry", "--store", "none",
		"--run-id", "dry-1",
		"--input", `in.text="hi"`,
	)
	require.NoError(t, err)
	assert.Contains(t, out, "run dry-1 done")
	for _, id := range []string{"in", "up", "out"} {
		assert.Contains(t, out, "  ok        "+id+"\n")
	}
}

func TestRun_InvalidCanvas(t *testing.T) {
	path := writeFile(t, "flow.json", `{"nodes": [
		{"id": "a", "type": "x", "in": [], "out": [{"port": "p", "types": ["T"]}]}
	], "edges": []}`)

	_, err := execute(t, "", "run", path, "--no-telemetry")
	assert.ErrorIs(t, err, flowgraph.ErrUnreachableOutput)
}

func TestRun_BadInput(t *testing.T) {
	path := writeFile(t, "flow.json", greetCanvas)
	_, err := execute(t, "", "run", path, "--no-telemetry", "--input", "no-port")
	assert.ErrorContains(t, err, "want node.port=value")

	_, err = execute(t, "", "run", path, "--no-telemetry", "--input", "ghost.text=1")
	var nodeErr *flowgraph.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "seed", nodeErr.Op)
}

func TestRun_SQLiteStore(t *testing.T) {
	canvas := writeFile(t, "flow.json", greetCanvas)
	db := filepath.Join(t.TempDir(), "runs.db")
	t.Setenv("VOIDE_STORE_DRIVER", "sqlite")

	_, err := execute(t, "", "run", canvas,
		"--no-telemetry",
		"--store-path", db,
		"--run-id", "persisted",
		"--input", `in.text="hi"`,
	)
	require.NoError(t, err)

	store, err := runstore.NewSQLiteStore(db)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	run, err := store.GetRun(ctx, "persisted")
	require.NoError(t, err)
	assert.Equal(t, "greet", run.FlowID)
	assert.Equal(t, runstore.StatusDone, run.Status)

	logs, err := store.Logs(ctx, "persisted")
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	payloads, err := store.Payloads(ctx, "persisted")
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	assert.JSONEq(t, `"hi"`, string(payloads[1].Body))
}

func TestRun_Step(t *testing.T) {
	path := writeFile(t, "flow.json", greetCanvas)

	// Three steps, then end of input resumes whatever is left.
	out, err := execute(t, "s\n\n\n", "run", path, "--no-telemetry", "--step", "--input", `in.text="hi"`)
	require.NoError(t, err)
	assert.Contains(t, out, " done ")
}

func TestRun_TelemetryToRing(t *testing.T) {
	canvas := writeFile(t, "flow.json", greetCanvas)
	ring := filepath.Join(t.TempDir(), "voide", "telemetry.ring")
	t.Setenv("VOIDE_TELEMETRY_RING_PATH", ring)

	_, err := execute(t, "", "run", canvas, "--store", "none", "--run-id", "tlm", "--input", `in.text="hi"`)
	require.NoError(t, err)

	t.Run("tail", func(t *testing.T) {
		out, err := execute(t, "", "telemetry", "tail", "--once", "--ring", ring)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.NotEmpty(t, lines)
		assert.Contains(t, lines[0], ` NodeStart {"id":"in","span":"tlm"}`)
		assert.Contains(t, out, " WireTransfer ")
		assert.Contains(t, out, ` AckClear {"id":"out","span":"tlm"}`)

		// The read head moved, so a second poll sees nothing new.
		out, err = execute(t, "", "telemetry", "tail", "--once", "--ring", ring)
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}

func TestTelemetryWatch_Ring(t *testing.T) {
	ring := filepath.Join(t.TempDir(), "telemetry.ring")
	writer, err := telemetry.OpenRing(ring, 1)
	require.NoError(t, err)
	for _, ev := range []telemetry.Event{
		telemetry.NodeStartEvent("a", "r"),
		telemetry.StalledEvent("b", "r", "boom"),
	} {
		frame, err := telemetry.Encode(ev)
		require.NoError(t, err)
		require.NoError(t, writer.Write(frame))
	}
	require.NoError(t, writer.Close())

	out, err := execute(t, "", "telemetry", "watch", "--once", "--ring", ring)
	require.NoError(t, err)
	assert.Contains(t, out, "transport: ring")
	assert.Contains(t, out, "active  a")
	assert.Contains(t, out, "stalled b (boom)")
}

func TestTelemetryTail_MissingRing(t *testing.T) {
	_, err := execute(t, "", "telemetry", "tail", "--once", "--ring", filepath.Join(t.TempDir(), "nope.ring"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTelemetryDecode(t *testing.T) {
	var data []byte
	for _, ev := range []telemetry.Event{
		{Type: telemetry.NodeStart, Timestamp: 1_000_000_000, Payload: map[string]any{"id": "n1"}},
		{Type: telemetry.AckClear, Timestamp: 2_000_000_000, Payload: map[string]any{"id": "n1"}},
	} {
		frame, err := telemetry.Encode(ev)
		require.NoError(t, err)
		data = append(data, frame...)
	}
	path := writeFile(t, "frames.bin", string(data))

	out, err := execute(t, "", "telemetry", "decode", path)
	require.NoError(t, err)
	assert.Equal(t, "1000000000 NodeStart {\"id\":\"n1\"}\n2000000000 AckClear {\"id\":\"n1\"}\n", out)

	out, err = execute(t, string(data), "telemetry", "decode", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "AckClear")

	truncated := writeFile(t, "short.bin", string(data[:len(data)-3]))
	_, err = execute(t, "", "telemetry", "decode", truncated)
	assert.ErrorIs(t, err, telemetry.ErrPayloadBounds)
}

func TestParseInputs(t *testing.T) {
	tests := []struct {
		in      string
		want    seed
		wantErr bool
	}{
		{in: "in.text=hello", want: seed{node: "in", port: "text", value: "hello"}},
		{in: `in.text="quoted"`, want: seed{node: "in", port: "text", value: "quoted"}},
		{in: "in.n=42", want: seed{node: "in", port: "n", value: float64(42)}},
		{in: `a.b.port={"k":true}`, want: seed{node: "a.b", port: "port", value: map[string]any{"k": true}}},
		{in: "in.text=", want: seed{node: "in", port: "text", value: ""}},
		{in: "in.text", wantErr: true},
		{in: ".text=1", wantErr: true},
		{in: "in.=1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseInputs([]string{tt.in})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0])
		})
	}
}

func TestSetup_Layering(t *testing.T) {
	cfgPath := writeFile(t, "voide.yaml", `
run:
  max_concurrency: 3
  failure_policy: isolate
log:
  level: warn
store:
  driver: none
`)

	a := newApp()
	a.v.Set("config", cfgPath)
	t.Setenv("VOIDE_LOG_LEVEL", "debug")
	t.Setenv("VOIDE_LOG_FORMAT", "json")
	require.NoError(t, a.setup(io.Discard))

	assert.Equal(t, 3, a.engine.Run.MaxConcurrency)
	assert.Equal(t, "isolate", a.engine.Run.FailurePolicy)
	assert.Equal(t, "none", a.engine.Store.Driver)
	assert.Equal(t, "debug", a.engine.Log.Level, "environment overrides the file")
	assert.Equal(t, "json", a.engine.Log.Format)
	assert.NotNil(t, a.logger)
}

func TestSetup_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"failure policy", map[string]string{"VOIDE_RUN_FAILURE_POLICY": "sometimes"}},
		{"log format", map[string]string{"VOIDE_LOG_FORMAT": "xml"}},
		{"sqlite without path", map[string]string{"VOIDE_STORE_DRIVER": "sqlite"}},
		{"missing config file", map[string]string{"VOIDE_CONFIG": "/nonexistent/voide.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Error(t, newApp().setup(io.Discard))
		})
	}
}
