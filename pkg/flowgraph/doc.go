/*
Package flowgraph validates node/edge canvases and drives their execution.

# Overview

A canvas is a set of typed nodes joined by edges. Every node declares an
in menu and an out menu of ports, and every port lists the payload types
it speaks. An edge joins an out-port to an in-port and is valid when the
two ports share at least one type.

Build turns a canvas into an immutable DAG. Run executes the DAG once,
forwarding each node's outputs along its edges, while a RunController
lets another goroutine pause, step or cancel the run. Progress is
published as telemetry frames (see the telemetry subpackage) so a
monitor in another process can light up nodes and wires live.

# Basic Usage

	canvas := flowgraph.NewCanvas("greet").
	    AddNode(flowgraph.Node("in", "input").WithOut("text", "UserText")).
	    AddNode(flowgraph.Node("up", "upper").WithIn("text", "UserText").WithOut("text", "LLMText")).
	    AddNode(flowgraph.Node("out", "output").WithIn("text", "LLMText", "UserText")).
	    Connect("in", "text", "up", "text").
	    Connect("up", "text", "out", "text")

	dag, err := flowgraph.Build(*canvas)
	if err != nil {
	    var be *flowgraph.BuildError
	    if errors.As(err, &be) {
	        log.Fatalf("%s: %s", be.Code, be.Message)
	    }
	    log.Fatal(err)
	}

	execs := flowgraph.NewExecutors()
	_ = execs.Register("input", passThrough)
	_ = execs.Register("upper", upper)
	_ = execs.Register("output", passThrough)

	result, err := dag.Run(ctx, execs, flowgraph.WithInputs("in", "text", "hello"))

# Validation

ValidateCanvas runs five stages in a fixed order and stops at the first
failure:

  - E-CONFIG: a node without an in or out menu, empty or duplicate ids
  - E-DANGLING: an edge naming a missing node or port
  - E-TYPE: an edge whose ports share no type
  - E-CYCLE: any directed cycle, self-loops included
  - E-UNREACHABLE-OUTPUT: an out-port no edge consumes, except on
    terminal ("output") nodes

Each stage is also exported on its own. Canvases arriving as JSON or YAML
documents are shape-checked against a JSON schema by ParseCanvas,
ParseCanvasYAML and LoadCanvas before they reach the validator.

# Scheduling

TopoOrder returns Kahn's order with ties broken by declaration order.
Frontier is the FIFO ready set the driver dispatches from. With the
default concurrency of 1, Run executes nodes exactly in TopoOrder.

# Run Control

	ctrl := flowgraph.NewRunController()
	ctrl.Pause()
	go dag.Run(ctx, execs, flowgraph.WithController(ctrl))
	ctrl.Step()   // one node
	ctrl.Resume() // the rest
	ctrl.Cancel() // terminal

The signal subpackage routes named pause/resume/step/cancel signals to
controllers by run id.

# Failures

With FailAbort (the default) the first failure stops dispatching and Run
returns it once in-flight nodes finish. With FailIsolate the descendants
of a failed node are skipped and independent branches keep running.

	var nodeErr *flowgraph.NodeError
	if errors.As(err, &nodeErr) {
	    log.Printf("node %s failed during %s: %v", nodeErr.NodeID, nodeErr.Op, nodeErr.Err)
	}

Panics in executors are recovered and returned as *PanicError with the
stack trace. Cancellation returns *CancellationError listing the nodes
that never finished.

# Observability

	result, err := dag.Run(ctx, execs,
	    flowgraph.WithLogger(logger),
	    flowgraph.WithMetrics(observability.NewMetricsRecorder()),
	    flowgraph.WithTracing(true),
	    flowgraph.WithTelemetry(publisher),
	    flowgraph.WithRecorder(store),
	)

Logs carry run_id, node_id and attempt. OpenTelemetry metrics include
flowgraph.node.executions, flowgraph.node.latency_ms and
flowgraph.wire.transfers. Each run is a flowgraph.run span with one
flowgraph.node child per execution; wire transfers and skipped nodes are
span events on the run.

# Thread Safety

  - Canvas is NOT safe for concurrent use during construction
  - DAG IS safe for concurrent use (immutable) and can drive many runs
  - RunController IS safe for concurrent use
  - Executors must be safe for concurrent use

# Subpackages

  - config: engine configuration (telemetry, run, store, log)
  - porttype: payload type registry and codecs
  - registry: generic thread-safe registry
  - retry: retry policies for node execution
  - runstore: run persistence (memory, SQLite)
  - signal: named control signals routed to runs
  - telemetry: frame codec, ring and datagram transports, monitor
  - observability: logging, metrics and tracing helpers
*/
package flowgraph
