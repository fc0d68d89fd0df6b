package flowgraph

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/voide-engine/pkg/flowgraph/observability"
	"github.com/randalmurphal/voide-engine/pkg/flowgraph/retry"
	"github.com/randalmurphal/voide-engine/pkg/flowgraph/runstore"
	"github.com/randalmurphal/voide-engine/pkg/flowgraph/telemetry"
)

// RunState is the state of one node within one run.
type RunState string

// Node states. A node moves forward only: queued, running, then one of
// ok, error or cancelled. Skipped nodes never leave queued for running.
const (
	StateQueued    RunState = "queued"
	StateRunning   RunState = "running"
	StateOK        RunState = "ok"
	StateError     RunState = "error"
	StateSkipped   RunState = "skipped"
	StateCancelled RunState = "cancelled"
)

// RunResult describes a finished run. Run returns it even when the run
// fails or is cancelled.
type RunResult struct {
	RunID  string
	Status runstore.Status
	// States holds the final state of every node.
	States map[string]RunState
	// Completed lists nodes that finished ok, in completion order.
	Completed []string
	// Outputs holds what each sink node (a node with no outgoing edges)
	// produced on its declared out-ports.
	Outputs map[string][]Output
	// Failed maps failed nodes to their error.
	Failed map[string]error
	// Skipped lists nodes not run because an upstream node failed under
	// FailIsolate, in topological order.
	Skipped  []string
	Duration time.Duration
}

// Run executes the DAG once.
//
// A single coordinator goroutine owns the frontier, node states and input
// buffers. Ready nodes are dispatched to worker goroutines, at most
// WithMaxConcurrency at a time; with the default of 1 nodes run one at a
// time in TopoOrder. Before every dispatch the coordinator calls the run
// controller's Next, so a paused run dispatches nothing until resumed or
// stepped.
//
// Each node's outputs are forwarded along every edge leaving the port they
// were produced on, in edge declaration order. Several edges into one
// in-port accumulate in arrival order.
//
// Errors:
//   - *CancellationError when the controller or ctx stops the run
//   - *NodeError or *PanicError for the first node failure
//   - *RecorderError when WithRecorderFailureFatal is set and the recorder fails
//
// Example:
//
//	execs := flowgraph.NewExecutors()
//	_ = execs.Register("upper", upperExecutor)
//	result, err := dag.Run(ctx, execs,
//	    flowgraph.WithInputs("in", "text", "hello"),
//	    flowgraph.WithTelemetry(publisher),
//	)
func (d *DAG) Run(ctx context.Context, execs *Executors, opts ...RunOption) (result *RunResult, runErr error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if execs == nil {
		execs = NewExecutors()
	}
	cfg := newRunConfig(opts)
	if err := d.checkSeeds(cfg.inputs); err != nil {
		return nil, err
	}

	r := newRun(d, execs, &cfg)
	start := time.Now()
	observability.LogRunStart(cfg.logger, cfg.runID, d.id, d.Len())

	if cfg.tracingEnabled {
		var span trace.Span
		ctx, span = cfg.spans.StartRunSpan(ctx, d.id, cfg.runID, d.Len())
		defer func() {
			cfg.spans.EndSpan(span, string(r.result.Status), runErr)
		}()
	}

	runErr = r.execute(ctx)

	r.result.Duration = time.Since(start)
	durationMs := float64(r.result.Duration.Microseconds()) / 1000
	cfg.metrics.RecordRun(ctx, string(r.result.Status), r.result.Duration)
	if runErr != nil {
		observability.LogRunError(cfg.logger, cfg.runID, string(r.result.Status), runErr, durationMs)
	} else {
		observability.LogRunComplete(cfg.logger, cfg.runID, durationMs, len(r.result.Completed))
	}
	return r.result, runErr
}

func (d *DAG) checkSeeds(seeds map[string]map[string][]any) error {
	for nodeID, ports := range seeds {
		node, ok := d.Node(nodeID)
		if !ok {
			return &NodeError{NodeID: nodeID, Op: "seed", Err: fmt.Errorf("node %s not in flow", nodeID)}
		}
		for port := range ports {
			if _, ok := node.InPort(port); !ok {
				return &NodeError{NodeID: nodeID, Op: "seed", Err: fmt.Errorf("no in-port %s", port)}
			}
		}
	}
	return nil
}

// run is the coordinator-owned state of one execution.
type run struct {
	dag   *DAG
	execs *Executors
	cfg   *runConfig

	result    *RunResult
	inputs    map[string]map[string][]any
	nodeState map[string]map[string]any
	remaining map[string]int
	started   map[string]time.Time
	frontier  *Frontier
	pkt       uint64

	stopping    bool
	failure     error
	recorderErr error
}

// nodeResult is what a worker hands back to the coordinator.
type nodeResult struct {
	id       string
	outputs  []Output
	err      error
	attempts int
	duration time.Duration
}

func newRun(d *DAG, execs *Executors, cfg *runConfig) *run {
	r := &run{
		dag:   d,
		execs: execs,
		cfg:   cfg,
		result: &RunResult{
			RunID:   cfg.runID,
			Status:  runstore.StatusCreated,
			States:  make(map[string]RunState, d.Len()),
			Outputs: make(map[string][]Output),
			Failed:  make(map[string]error),
		},
		inputs:    make(map[string]map[string][]any, d.Len()),
		nodeState: make(map[string]map[string]any, d.Len()),
		remaining: make(map[string]int, d.Len()),
		started:   make(map[string]time.Time),
		frontier:  NewFrontier(),
	}
	for _, id := range d.NodeIDs() {
		r.result.States[id] = StateQueued
		r.inputs[id] = make(map[string][]any)
		r.remaining[id] = len(d.predecessors[id])
	}
	for nodeID, ports := range cfg.inputs {
		for port, values := range ports {
			r.inputs[nodeID][port] = append(r.inputs[nodeID][port], values...)
		}
	}
	for _, id := range d.Roots() {
		r.frontier.Add(id)
	}
	return r
}

func (r *run) execute(ctx context.Context) error {
	// Recorder calls must still land after the run context ends.
	recCtx := context.WithoutCancel(ctx)
	ctrl := r.cfg.controller

	r.record(recCtx, "create_run", "", func(c context.Context) error {
		return r.cfg.recorder.CreateRun(c, r.cfg.runID, r.dag.id)
	})
	r.setStatus(recCtx, runstore.StatusRunning)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go func() {
		select {
		case <-ctrl.Done():
			cancelRun()
		case <-runCtx.Done():
		}
	}()

	results := make(chan nodeResult, r.cfg.maxConcurrency)
	inFlight := 0
	var cancelCause error

	for {
		for !r.stopping && cancelCause == nil && r.frontier.HasReady() && inFlight < r.cfg.maxConcurrency {
			if err := runCtx.Err(); err != nil {
				cancelCause = r.cancelCause(ctx)
				break
			}
			if err := ctrl.Next(runCtx); err != nil {
				cancelCause = r.cancelCause(ctx)
				if cancelCause == nil {
					cancelCause = err
				}
				break
			}
			id, _ := r.frontier.NextReady()
			r.dispatch(runCtx, id, results)
			inFlight++
		}
		if inFlight == 0 {
			break
		}
		res := <-results
		inFlight--
		if res.err != nil && runCtx.Err() != nil && isContextError(res.err) {
			r.interrupted(res)
			if cancelCause == nil {
				cancelCause = r.cancelCause(ctx)
			}
			continue
		}
		r.complete(recCtx, res)
	}

	switch {
	case cancelCause != nil:
		observability.LogRunControl(r.cfg.logger, r.cfg.runID, "cancelled")
		r.setStatus(recCtx, runstore.StatusStopped)
		return &CancellationError{RunID: r.cfg.runID, Pending: r.pending(), Cause: cancelCause}
	case r.recorderErr != nil:
		r.setStatus(recCtx, runstore.StatusError)
		return r.recorderErr
	case r.failure != nil:
		r.setStatus(recCtx, runstore.StatusError)
		return r.failure
	default:
		r.setStatus(recCtx, runstore.StatusDone)
		return nil
	}
}

// cancelCause names why the run context ended.
func (r *run) cancelCause(parent context.Context) error {
	if r.cfg.controller.Cancelled() {
		return ErrCancelled
	}
	return parent.Err()
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// pending returns nodes that had not finished, in topological order.
func (r *run) pending() []string {
	var out []string
	for _, id := range r.dag.order {
		switch r.result.States[id] {
		case StateQueued, StateRunning, StateCancelled:
			out = append(out, id)
		}
	}
	return out
}

func (r *run) setStatus(ctx context.Context, status runstore.Status) {
	r.result.Status = status
	r.record(ctx, "update_run_status", "", func(c context.Context) error {
		return r.cfg.recorder.UpdateRunStatus(c, r.cfg.runID, status)
	})
}

// record calls the recorder. Failures are logged, or stop the run when
// recorder failures are fatal.
func (r *run) record(ctx context.Context, op, nodeID string, fn func(context.Context) error) {
	err := fn(ctx)
	if err == nil {
		return
	}
	if !r.cfg.recorderFatal {
		observability.LogRecorderError(r.cfg.logger, op, nodeID, err)
		return
	}
	if r.recorderErr == nil {
		r.recorderErr = &RecorderError{Op: op, NodeID: nodeID, Err: err}
	}
	r.stopping = true
}

func (r *run) emit(ev telemetry.Event) {
	r.cfg.telemetry.Emit(ev)
}

// dispatch marks id running and starts its worker.
func (r *run) dispatch(ctx context.Context, id string, results chan<- nodeResult) {
	node := r.dag.nodes[r.dag.index[id]]
	r.result.States[id] = StateRunning
	r.started[id] = time.Now()
	state, ok := r.nodeState[id]
	if !ok {
		state = make(map[string]any)
		r.nodeState[id] = state
	}
	r.emit(telemetry.NodeStartEvent(id, r.cfg.runID))

	inputs := r.inputs[id]
	go func() {
		results <- r.runNode(ctx, node, inputs, state)
	}()
}

// runNode executes one node on a worker goroutine. It touches nothing the
// coordinator owns except the node's own inputs and state.
func (r *run) runNode(ctx context.Context, node NodeSpec, inputs map[string][]any, state map[string]any) nodeResult {
	res := nodeResult{id: node.ID}
	logger := observability.EnrichLogger(r.cfg.logger, r.cfg.runID, node.ID, 1)
	observability.LogNodeStart(logger, node.ID, node.Type)

	spanCtx, span := r.cfg.spans.StartNodeSpan(ctx, node.ID, node.Type)
	start := time.Now()
	defer func() {
		res.duration = time.Since(start)
		r.cfg.metrics.RecordNodeExecution(spanCtx, node.ID, node.Type, res.duration, res.err)
		outcome := StateOK
		if res.err != nil {
			outcome = StateError
		}
		r.cfg.spans.EndSpan(span, string(outcome), res.err)
		if res.err != nil {
			observability.LogNodeError(logger, node.ID, res.err)
		} else {
			observability.LogNodeComplete(logger, node.ID, float64(res.duration.Microseconds())/1000, len(res.outputs))
		}
	}()

	exec, ok := r.execs.Get(node.Type)
	if !ok {
		res.err = &NodeError{
			NodeID: node.ID,
			Op:     "lookup",
			Err: fmt.Errorf("%w %q (available: %s)",
				ErrUnknownNodeType, node.Type, strings.Join(executorTypes(r.execs), ", ")),
		}
		return res
	}

	var panicErr *PanicError
	out := retry.Do(spanCtx, r.cfg.retry, func(ctx context.Context, attempt int) error {
		attemptCtx := ctx
		if r.cfg.nodeTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.nodeTimeout)
			defer cancel()
		}
		nc := newNodeContext(attemptCtx, r.cfg.logger, r.cfg.runID, node, attempt, inputs, state)
		outputs, err := callExecutor(nc, exec)
		emitted := nc.release()
		if err != nil {
			if errors.As(err, &panicErr) {
				return retry.Permanent(err)
			}
			return err
		}
		res.outputs = append(emitted, outputs...)
		return nil
	})
	res.attempts = out.Attempts

	switch {
	case out.Err == nil:
	case panicErr != nil:
		res.err = panicErr
	case isContextError(out.Err) && ctx.Err() != nil:
		res.err = out.Err
	default:
		res.err = &NodeError{NodeID: node.ID, Op: "execute", Err: out.Err}
	}
	return res
}

// callExecutor runs the executor and turns a panic into a *PanicError.
func callExecutor(nc *nodeContext, exec NodeExecutor) (outputs []Output, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			outputs = nil
			err = &PanicError{
				NodeID: nc.NodeID(),
				Value:  rec,
				Stack:  string(debug.Stack()),
			}
		}
	}()
	return exec.Execute(nc)
}

// interrupted records a node stopped by cancellation.
func (r *run) interrupted(res nodeResult) {
	r.result.States[res.id] = StateCancelled
	r.emit(telemetry.NodeEndEvent(res.id, r.cfg.runID, false, "cancelled"))
}

// delivery is one value bound for one edge.
type delivery struct {
	edge  Edge
	value any
}

// complete applies a finished node on the coordinator.
func (r *run) complete(ctx context.Context, res nodeResult) {
	if res.err != nil {
		r.fail(ctx, res.id, res.err, res.duration)
		return
	}

	node := r.dag.nodes[r.dag.index[res.id]]
	declared, deliveries, err := r.route(node, res.outputs)
	if err != nil {
		r.fail(ctx, res.id, err, res.duration)
		return
	}

	for _, o := range declared {
		r.record(ctx, "save_payload", res.id, func(c context.Context) error {
			return r.cfg.recorder.SavePayload(c, r.cfg.runID, res.id, o.Port, o.Value)
		})
	}
	for _, dv := range deliveries {
		to := dv.edge.To
		r.inputs[to.Node][to.Port] = append(r.inputs[to.Node][to.Port], dv.value)
		r.pkt++
		r.emit(telemetry.WireTransferEvent(telemetry.Wire{
			ID:      dv.edge.Key,
			Span:    r.cfg.runID,
			Pkt:     r.pkt,
			From:    dv.edge.From.Node,
			To:      to.Node,
			OutPort: dv.edge.From.Port,
			InPort:  to.Port,
		}))
		r.cfg.metrics.RecordWireTransfer(ctx, dv.edge.From.Node, to.Node)
		r.cfg.spans.WireEvent(ctx, dv.edge.Key, r.pkt)
	}

	r.result.States[res.id] = StateOK
	r.result.Completed = append(r.result.Completed, res.id)
	if len(r.dag.outgoing[res.id]) == 0 {
		r.result.Outputs[res.id] = declared
	}
	r.emit(telemetry.NodeEndEvent(res.id, r.cfg.runID, true, ""))
	r.emit(telemetry.AckClearEvent(res.id, r.cfg.runID))
	r.record(ctx, "record_run_log", res.id, func(c context.Context) error {
		return r.cfg.recorder.RecordRunLog(c, runstore.RunLog{
			RunID:     r.cfg.runID,
			NodeID:    res.id,
			Tokens:    tokens(r.nodeState[res.id]),
			LatencyMs: res.duration.Milliseconds(),
			Status:    string(StateOK),
		})
	})

	for _, next := range r.dag.successors[res.id] {
		r.remaining[next]--
		if r.remaining[next] == 0 && r.result.States[next] == StateQueued {
			r.frontier.Add(next)
		}
	}
}

// route splits outputs into values on declared ports and the per-edge
// deliveries they produce. Values on undeclared ports are reported as
// schema warnings and dropped.
func (r *run) route(node NodeSpec, outputs []Output) ([]Output, []delivery, error) {
	declared := make([]Output, 0, len(outputs))
	var deliveries []delivery
	edges := r.dag.Outgoing(node.ID)

	for _, o := range outputs {
		if _, ok := node.OutPort(o.Port); !ok {
			reason := fmt.Sprintf("%s %s", ErrUndeclaredPort, o.Port)
			observability.LogSchemaWarn(r.cfg.logger, node.ID, o.Port, reason)
			r.emit(telemetry.SchemaWarnEvent(node.ID, r.cfg.runID, reason))
			continue
		}
		declared = append(declared, o)
		for _, e := range edges {
			if e.From.Port != o.Port {
				continue
			}
			v, err := r.transcode(o.Value, e)
			if err != nil {
				return nil, nil, &NodeError{NodeID: node.ID, Op: "forward", Err: fmt.Errorf("edge %s: %w", e.Key, err)}
			}
			deliveries = append(deliveries, delivery{edge: e, value: v})
		}
	}
	return declared, deliveries, nil
}

func (r *run) transcode(v any, e Edge) (any, error) {
	if r.cfg.types == nil || e.Type == "" || e.Type == e.SourceType {
		return v, nil
	}
	return r.cfg.types.Transcode(v, e.SourceType, e.Type)
}

// fail records a node failure and applies the failure policy.
func (r *run) fail(ctx context.Context, id string, err error, duration time.Duration) {
	r.result.States[id] = StateError
	r.result.Failed[id] = err
	if r.failure == nil {
		r.failure = err
	}

	reason := err.Error()
	r.record(ctx, "record_run_log", id, func(c context.Context) error {
		return r.cfg.recorder.RecordRunLog(c, runstore.RunLog{
			RunID:     r.cfg.runID,
			NodeID:    id,
			Tokens:    tokens(r.nodeState[id]),
			LatencyMs: duration.Milliseconds(),
			Status:    string(StateError),
			Error:     reason,
		})
	})
	r.emit(telemetry.NodeEndEvent(id, r.cfg.runID, false, reason))
	r.emit(telemetry.StalledEvent(id, r.cfg.runID, reason))

	if r.cfg.failurePolicy == FailAbort {
		r.stopping = true
		return
	}
	for _, desc := range r.dag.Descendants(id) {
		if r.result.States[desc] != StateQueued {
			continue
		}
		r.result.States[desc] = StateSkipped
		r.result.Skipped = append(r.result.Skipped, desc)
		observability.LogNodeSkipped(r.cfg.logger, desc, id)
		r.cfg.spans.SkipEvent(ctx, desc, id)
	}
}

// tokens reads the "tokens" count an executor may leave in its node state.
func tokens(state map[string]any) int {
	switch v := state["tokens"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
