package flowgraph

import (
	"fmt"

	"github.com/randalmurphal/voide-engine/pkg/flowgraph/porttype"
)

// validateConfig holds validator settings.
type validateConfig struct {
	terminalTypes map[string]bool
	types         *porttype.Registry
}

func defaultValidateConfig() validateConfig {
	return validateConfig{terminalTypes: map[string]bool{TerminalType: true}}
}

// ValidateOption configures canvas validation.
type ValidateOption func(*validateConfig)

// WithTerminalTypes adds node type tags whose out-ports may be left
// unconnected. TerminalType is always terminal.
func WithTerminalTypes(types ...string) ValidateOption {
	return func(c *validateConfig) {
		for _, t := range types {
			c.terminalTypes[t] = true
		}
	}
}

func newValidateConfig(opts []ValidateOption) validateConfig {
	cfg := defaultValidateConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// ValidateCanvas checks a canvas and returns the first failure as a
// *BuildError, or nil if the canvas is runnable.
//
// Checks run in a fixed order and the first failing stage aborts:
//  1. Menus: every node declares in and out lists (E-CONFIG)
//  2. Dangling: every edge resolves to declared nodes and ports (E-DANGLING)
//  3. Types: every edge's port type sets intersect (E-TYPE)
//  4. Acyclic: the canvas has no cycle (E-CYCLE)
//  5. Reachable outputs: every out-port of a non-terminal node feeds at
//     least one edge (E-UNREACHABLE-OUTPUT)
//
// ValidateCanvas is pure and safe to call concurrently.
func ValidateCanvas(c Canvas, opts ...ValidateOption) error {
	cfg := newValidateConfig(opts)
	stages := []func() error{
		func() error { return ValidateMenus(c) },
		func() error { return ValidateDangling(c) },
		func() error { return ValidateTypes(c) },
		func() error { return ValidateAcyclic(c) },
		func() error { return validateReachableOutputs(c, cfg) },
	}
	for _, stage := range stages {
		if err := stage(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateMenus checks that every node declares in and out lists, has a
// unique non-empty id and unique port names within each list.
func ValidateMenus(c Canvas) error {
	seen := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.In == nil || n.Out == nil {
			return &BuildError{
				Code:    CodeConfig,
				Message: fmt.Sprintf("menus missing for node %s", n.ID),
				Node:    n.ID,
			}
		}
		if n.ID == "" {
			return &BuildError{Code: CodeConfig, Message: "node id is empty"}
		}
		if seen[n.ID] {
			return &BuildError{
				Code:    CodeConfig,
				Message: fmt.Sprintf("duplicate node id %s", n.ID),
				Node:    n.ID,
			}
		}
		seen[n.ID] = true

		if port, dup := duplicatePort(n.In); dup {
			return &BuildError{
				Code:    CodeConfig,
				Message: fmt.Sprintf("duplicate in-port %s.%s", n.ID, port),
				Node:    n.ID,
				Port:    port,
			}
		}
		if port, dup := duplicatePort(n.Out); dup {
			return &BuildError{
				Code:    CodeConfig,
				Message: fmt.Sprintf("duplicate out-port %s.%s", n.ID, port),
				Node:    n.ID,
				Port:    port,
			}
		}
	}
	return nil
}

func duplicatePort(ports []PortSpec) (string, bool) {
	seen := make(map[string]bool, len(ports))
	for _, p := range ports {
		if seen[p.Port] {
			return p.Port, true
		}
		seen[p.Port] = true
	}
	return "", false
}

// ValidateDangling checks that every edge resolves. For each edge the
// source node, source out-port, destination node and destination in-port
// are resolved in that order; the first miss is reported.
func ValidateDangling(c Canvas) error {
	for _, e := range c.Edges {
		src, ok := c.node(e.From.Node)
		if !ok {
			return missingNode(e.From.Node)
		}
		if _, ok := src.OutPort(e.From.Port); !ok {
			return missingPort(e.From)
		}
		dst, ok := c.node(e.To.Node)
		if !ok {
			return missingNode(e.To.Node)
		}
		if _, ok := dst.InPort(e.To.Port); !ok {
			return missingPort(e.To)
		}
	}
	return nil
}

func missingNode(id string) *BuildError {
	return &BuildError{Code: CodeDangling, Message: fmt.Sprintf("missing node %s", id), Node: id}
}

func missingPort(ep Endpoint) *BuildError {
	return &BuildError{
		Code:    CodeDangling,
		Message: fmt.Sprintf("missing port %s", ep),
		Node:    ep.Node,
		Port:    ep.Port,
	}
}

// ValidateTypes checks that the source and destination type sets of every
// edge intersect. Edges that do not resolve are skipped; run
// ValidateDangling first.
func ValidateTypes(c Canvas) error {
	for _, e := range c.Edges {
		src, dst, ok := resolveEdge(c, e)
		if !ok {
			continue
		}
		if len(commonTypes(src.Types, dst.Types)) == 0 {
			return &BuildError{
				Code:    CodeType,
				Message: fmt.Sprintf("type mismatch %s -> %s", e.From, e.To),
				Node:    e.From.Node,
				Port:    e.From.Port,
			}
		}
	}
	return nil
}

func resolveEdge(c Canvas, e EdgeSpec) (src, dst PortSpec, ok bool) {
	srcNode, ok := c.node(e.From.Node)
	if !ok {
		return src, dst, false
	}
	dstNode, ok := c.node(e.To.Node)
	if !ok {
		return src, dst, false
	}
	src, ok = srcNode.OutPort(e.From.Port)
	if !ok {
		return src, dst, false
	}
	dst, ok = dstNode.InPort(e.To.Port)
	return src, dst, ok
}

// commonTypes returns the types of src also accepted by dst, in src order.
func commonTypes(src, dst []string) []string {
	accepted := make(map[string]bool, len(dst))
	for _, t := range dst {
		accepted[t] = true
	}
	var out []string
	for _, t := range src {
		if accepted[t] {
			out = append(out, t)
			accepted[t] = false
		}
	}
	return out
}

// ValidateAcyclic checks the canvas for cycles with a depth-first search.
// The search uses an explicit stack, so deep graphs cannot overflow the
// goroutine stack. The reported node is the one reached again while still
// on the active path. Roots are tried in declaration order and successors
// in edge declaration order.
func ValidateAcyclic(c Canvas) error {
	adj := make(map[string][]string, len(c.Nodes))
	for _, e := range c.Edges {
		adj[e.From.Node] = append(adj[e.From.Node], e.To.Node)
	}

	type frame struct {
		id   string
		next int
	}
	visited := make(map[string]bool, len(c.Nodes))
	onStack := make(map[string]bool)

	for _, root := range c.Nodes {
		if visited[root.ID] {
			continue
		}
		stack := []frame{{id: root.ID}}
		onStack[root.ID] = true

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			succ := adj[top.id]
			if top.next < len(succ) {
				child := succ[top.next]
				top.next++
				if onStack[child] {
					return &BuildError{
						Code:    CodeCycle,
						Message: fmt.Sprintf("cycle detected at %s", child),
						Node:    child,
					}
				}
				if !visited[child] {
					onStack[child] = true
					stack = append(stack, frame{id: child})
				}
				continue
			}
			onStack[top.id] = false
			visited[top.id] = true
			stack = stack[:len(stack)-1]
		}
	}
	return nil
}

// ValidateReachableOutputs checks that every out-port of a non-terminal
// node is the source of at least one edge.
func ValidateReachableOutputs(c Canvas, opts ...ValidateOption) error {
	return validateReachableOutputs(c, newValidateConfig(opts))
}

func validateReachableOutputs(c Canvas, cfg validateConfig) error {
	used := make(map[Endpoint]bool, len(c.Edges))
	for _, e := range c.Edges {
		used[e.From] = true
	}
	for _, n := range c.Nodes {
		if cfg.terminalTypes[n.Type] {
			continue
		}
		for _, p := range n.Out {
			if !used[Endpoint{Node: n.ID, Port: p.Port}] {
				return &BuildError{
					Code:    CodeUnreachableOutput,
					Message: fmt.Sprintf("unreachable output %s.%s", n.ID, p.Port),
					Node:    n.ID,
					Port:    p.Port,
				}
			}
		}
	}
	return nil
}
