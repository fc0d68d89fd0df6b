package flowgraph

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/randalmurphal/voide-engine/pkg/flowgraph/config"
	"github.com/randalmurphal/voide-engine/pkg/flowgraph/observability"
)

// NodeContext is what an executor sees while running one node.
// It extends context.Context; the context is cancelled when the run is
// cancelled or the node times out.
type NodeContext interface {
	context.Context

	// Logger returns a logger enriched with run_id, node_id, node_type and
	// attempt. It is never nil; when run logging is disabled it discards.
	Logger() *slog.Logger

	// RunID returns the unique identifier for this run.
	RunID() string

	// NodeID returns the node being executed.
	NodeID() string

	// NodeType returns the node's type tag.
	NodeType() string

	// Attempt returns the retry attempt number (1 = first attempt).
	Attempt() int

	// Params returns the node's params.
	Params() config.Values

	// Inputs returns the values received on an in-port, in arrival order.
	// Several edges into one port accumulate into the same list.
	Inputs(port string) []any

	// InputPorts returns the in-ports that received at least one value, sorted.
	InputPorts() []string

	// Emit sends a value on an out-port. Safe to call from several goroutines.
	Emit(port string, value any)

	// State returns the node's state for this run. It survives retries and
	// is discarded when the run ends.
	State() map[string]any
}

// nodeContext is the internal implementation of NodeContext.
type nodeContext struct {
	context.Context

	logger   *slog.Logger
	runID    string
	node     NodeSpec
	attempt  int
	params   config.Values
	inputs   map[string][]any
	state    map[string]any
	emitMu   sync.Mutex
	emitted  []Output
	released bool
}

func newNodeContext(ctx context.Context, logger *slog.Logger, runID string, node NodeSpec, attempt int, inputs map[string][]any, state map[string]any) *nodeContext {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	enriched := observability.EnrichLogger(logger, runID, node.ID, attempt).
		With(slog.String("node_type", node.Type))
	return &nodeContext{
		Context: ctx,
		logger:  enriched,
		runID:   runID,
		node:    node,
		attempt: attempt,
		params:  config.NewValues(node.Params),
		inputs:  inputs,
		state:   state,
	}
}

func (c *nodeContext) Logger() *slog.Logger  { return c.logger }
func (c *nodeContext) RunID() string         { return c.runID }
func (c *nodeContext) NodeID() string        { return c.node.ID }
func (c *nodeContext) NodeType() string      { return c.node.Type }
func (c *nodeContext) Attempt() int          { return c.attempt }
func (c *nodeContext) Params() config.Values { return c.params }
func (c *nodeContext) State() map[string]any { return c.state }

func (c *nodeContext) Inputs(port string) []any {
	return append([]any(nil), c.inputs[port]...)
}

func (c *nodeContext) InputPorts() []string {
	ports := make([]string, 0, len(c.inputs))
	for p, vals := range c.inputs {
		if len(vals) > 0 {
			ports = append(ports, p)
		}
	}
	sort.Strings(ports)
	return ports
}

func (c *nodeContext) Emit(port string, value any) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.released {
		if c.logger == nil {
			return
		}
		c.logger.Warn("emit after node returned, value dropped", slog.String("port", port))
		return
	}
	c.emitted = append(c.emitted, Output{Port: port, Value: value})
}

// release closes the emit sink and returns everything emitted so far.
func (c *nodeContext) release() []Output {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.released = true
	out := c.emitted
	c.emitted = nil
	return out
}
