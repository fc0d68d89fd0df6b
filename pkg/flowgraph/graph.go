package flowgraph

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// TerminalType is the node type tag whose out-ports may stay unconnected.
const TerminalType = "output"

// PortSpec declares one port and the type names it accepts or produces.
// Types is ordered; the first entry is the port's primary type.
type PortSpec struct {
	Port  string   `json:"port" yaml:"port"`
	Types []string `json:"types" yaml:"types"`
}

// NodeSpec declares a node on the canvas.
//
// In and Out are the node's port menus. A nil slice means the menu is
// missing, which the validator rejects; a node with no ports of one kind
// declares an empty, non-nil slice.
type NodeSpec struct {
	ID     string         `json:"id" yaml:"id"`
	Type   string         `json:"type" yaml:"type"`
	In     []PortSpec     `json:"in" yaml:"in"`
	Out    []PortSpec     `json:"out" yaml:"out"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Node returns a NodeSpec with empty port menus.
//
// Example:
//
//	flowgraph.Node("llm", "llm").
//	    WithIn("prompt", "PromptText").
//	    WithOut("completion", "LLMText")
func Node(id, nodeType string) NodeSpec {
	return NodeSpec{ID: id, Type: nodeType, In: []PortSpec{}, Out: []PortSpec{}}
}

// WithIn returns a copy of n with an extra in-port.
func (n NodeSpec) WithIn(port string, types ...string) NodeSpec {
	n.In = append(clonePorts(n.In), PortSpec{Port: port, Types: types})
	return n
}

// WithOut returns a copy of n with an extra out-port.
func (n NodeSpec) WithOut(port string, types ...string) NodeSpec {
	n.Out = append(clonePorts(n.Out), PortSpec{Port: port, Types: types})
	return n
}

// WithParams returns a copy of n with the given params.
func (n NodeSpec) WithParams(params map[string]any) NodeSpec {
	n.Params = params
	return n
}

// InPort returns the in-port named port.
func (n NodeSpec) InPort(port string) (PortSpec, bool) {
	return findPort(n.In, port)
}

// OutPort returns the out-port named port.
func (n NodeSpec) OutPort(port string) (PortSpec, bool) {
	return findPort(n.Out, port)
}

func findPort(ports []PortSpec, name string) (PortSpec, bool) {
	for _, p := range ports {
		if p.Port == name {
			return p, true
		}
	}
	return PortSpec{}, false
}

// Endpoint is one end of an edge. It serialises as a two-element array
// [node, port].
type Endpoint struct {
	Node string
	Port string
}

// String formats the endpoint as node.port.
func (e Endpoint) String() string {
	return e.Node + "." + e.Port
}

// MarshalJSON encodes the endpoint as [node, port].
func (e Endpoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{e.Node, e.Port})
}

// UnmarshalJSON decodes [node, port].
func (e *Endpoint) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("endpoint: want [node, port], got %d elements", len(pair))
	}
	e.Node, e.Port = pair[0], pair[1]
	return nil
}

// MarshalYAML encodes the endpoint as a [node, port] sequence.
func (e Endpoint) MarshalYAML() (any, error) {
	return []string{e.Node, e.Port}, nil
}

// UnmarshalYAML decodes a [node, port] sequence.
func (e *Endpoint) UnmarshalYAML(value *yaml.Node) error {
	var pair []string
	if err := value.Decode(&pair); err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("endpoint: want [node, port], got %d elements", len(pair))
	}
	e.Node, e.Port = pair[0], pair[1]
	return nil
}

// EdgeSpec connects an out-port to an in-port.
type EdgeSpec struct {
	ID   string   `json:"id,omitempty" yaml:"id,omitempty"`
	From Endpoint `json:"from" yaml:"from"`
	To   Endpoint `json:"to" yaml:"to"`
}

// Key identifies the edge as "node:port->node:port". It is used as the
// wire id in telemetry when ID is empty.
func (e EdgeSpec) Key() string {
	if e.ID != "" {
		return e.ID
	}
	return e.From.Node + ":" + e.From.Port + "->" + e.To.Node + ":" + e.To.Port
}

// Canvas is a user-authored flow: nodes plus edges, in declaration order.
//
// Canvas is a plain value and is NOT validated on construction. Pass it to
// ValidateCanvas or Build before running it.
//
// Example:
//
//	canvas := flowgraph.NewCanvas("demo").
//	    AddNode(flowgraph.Node("in", "input").WithOut("text", "UserText")).
//	    AddNode(flowgraph.Node("out", "output").WithIn("text", "UserText")).
//	    Connect("in", "text", "out", "text")
type Canvas struct {
	ID    string     `json:"id,omitempty" yaml:"id,omitempty"`
	Nodes []NodeSpec `json:"nodes" yaml:"nodes"`
	Edges []EdgeSpec `json:"edges" yaml:"edges"`
}

// NewCanvas creates an empty canvas with the given flow id.
func NewCanvas(id string) *Canvas {
	return &Canvas{ID: id, Nodes: []NodeSpec{}, Edges: []EdgeSpec{}}
}

// AddNode appends a node. Returns the canvas for method chaining.
func (c *Canvas) AddNode(n NodeSpec) *Canvas {
	c.Nodes = append(c.Nodes, n)
	return c
}

// Connect appends an edge from fromNode.fromPort to toNode.toPort.
// Returns the canvas for method chaining.
func (c *Canvas) Connect(fromNode, fromPort, toNode, toPort string) *Canvas {
	c.Edges = append(c.Edges, EdgeSpec{
		From: Endpoint{Node: fromNode, Port: fromPort},
		To:   Endpoint{Node: toNode, Port: toPort},
	})
	return c
}

// node returns the first node declared with id.
func (c *Canvas) node(id string) (NodeSpec, bool) {
	for _, n := range c.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeSpec{}, false
}

// Clone returns a deep copy of the canvas. Params maps are copied one level
// deep.
func (c Canvas) Clone() Canvas {
	out := Canvas{ID: c.ID}
	if c.Nodes != nil {
		out.Nodes = make([]NodeSpec, len(c.Nodes))
		for i, n := range c.Nodes {
			out.Nodes[i] = n.clone()
		}
	}
	if c.Edges != nil {
		out.Edges = append([]EdgeSpec(nil), c.Edges...)
	}
	return out
}

func (n NodeSpec) clone() NodeSpec {
	n.In = clonePorts(n.In)
	n.Out = clonePorts(n.Out)
	if n.Params != nil {
		params := make(map[string]any, len(n.Params))
		for k, v := range n.Params {
			params[k] = v
		}
		n.Params = params
	}
	return n
}

func clonePorts(ports []PortSpec) []PortSpec {
	if ports == nil {
		return nil
	}
	out := make([]PortSpec, len(ports))
	for i, p := range ports {
		out[i] = PortSpec{Port: p.Port, Types: append([]string(nil), p.Types...)}
	}
	return out
}
