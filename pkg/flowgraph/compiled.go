package flowgraph

// Edge is a validated edge with its negotiated port type.
type Edge struct {
	// Key is the edge id, or "node:port->node:port" when the edge has none.
	Key  string
	From Endpoint
	To   Endpoint
	// Type is the first type of the source port also accepted by the
	// destination port.
	Type string
	// SourceType is the primary (first) type of the source port.
	SourceType string
}

// DAG is an immutable, validated canvas ready for execution.
// It is safe for concurrent use and can drive any number of runs.
type DAG struct {
	id    string
	nodes []NodeSpec
	index map[string]int
	edges []Edge

	outgoing map[string][]int
	incoming map[string][]int

	successors   map[string][]string
	predecessors map[string][]string

	order []string
}

// newDAG builds the indexes for a canvas that already passed validation.
func newDAG(c Canvas) *DAG {
	c = c.Clone()
	d := &DAG{
		id:           c.ID,
		nodes:        c.Nodes,
		index:        make(map[string]int, len(c.Nodes)),
		edges:        make([]Edge, 0, len(c.Edges)),
		outgoing:     make(map[string][]int),
		incoming:     make(map[string][]int),
		successors:   make(map[string][]string),
		predecessors: make(map[string][]string),
	}
	for i, n := range c.Nodes {
		d.index[n.ID] = i
	}

	for i, e := range c.Edges {
		src, dst, _ := resolveEdge(c, e)
		common := commonTypes(src.Types, dst.Types)
		edge := Edge{Key: e.Key(), From: e.From, To: e.To}
		if len(common) > 0 {
			edge.Type = common[0]
		}
		if len(src.Types) > 0 {
			edge.SourceType = src.Types[0]
		}
		d.edges = append(d.edges, edge)
		d.outgoing[e.From.Node] = append(d.outgoing[e.From.Node], i)
		d.incoming[e.To.Node] = append(d.incoming[e.To.Node], i)
		d.successors[e.From.Node] = appendUnique(d.successors[e.From.Node], e.To.Node)
		d.predecessors[e.To.Node] = appendUnique(d.predecessors[e.To.Node], e.From.Node)
	}

	d.order, _ = topoOrder(c.Nodes, c.Edges)
	return d
}

func appendUnique(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

// ID returns the canvas flow id.
func (d *DAG) ID() string {
	return d.id
}

// Len returns the number of nodes.
func (d *DAG) Len() int {
	return len(d.nodes)
}

// NodeIDs returns node ids in declaration order.
func (d *DAG) NodeIDs() []string {
	ids := make([]string, len(d.nodes))
	for i, n := range d.nodes {
		ids[i] = n.ID
	}
	return ids
}

// Node returns a copy of the node declared with id.
func (d *DAG) Node(id string) (NodeSpec, bool) {
	i, ok := d.index[id]
	if !ok {
		return NodeSpec{}, false
	}
	return d.nodes[i].clone(), true
}

// HasNode reports whether id is a node of the DAG.
func (d *DAG) HasNode(id string) bool {
	_, ok := d.index[id]
	return ok
}

// Edges returns all edges in declaration order.
func (d *DAG) Edges() []Edge {
	return append([]Edge(nil), d.edges...)
}

// Outgoing returns the edges sourced at node id, in declaration order.
func (d *DAG) Outgoing(id string) []Edge {
	return d.pick(d.outgoing[id])
}

// Incoming returns the edges ending at node id, in declaration order.
func (d *DAG) Incoming(id string) []Edge {
	return d.pick(d.incoming[id])
}

func (d *DAG) pick(idx []int) []Edge {
	out := make([]Edge, len(idx))
	for i, j := range idx {
		out[i] = d.edges[j]
	}
	return out
}

// Downstream returns the nodes reachable from id by a single edge.
// Each successor appears once, in the order of its first edge.
func (d *DAG) Downstream(id string) []string {
	return append([]string(nil), d.successors[id]...)
}

// Upstream returns the direct predecessors of id.
func (d *DAG) Upstream(id string) []string {
	return append([]string(nil), d.predecessors[id]...)
}

// Roots returns nodes without incoming edges, in declaration order.
func (d *DAG) Roots() []string {
	var roots []string
	for _, n := range d.nodes {
		if len(d.incoming[n.ID]) == 0 {
			roots = append(roots, n.ID)
		}
	}
	return roots
}

// Sinks returns nodes without outgoing edges, in declaration order.
func (d *DAG) Sinks() []string {
	var sinks []string
	for _, n := range d.nodes {
		if len(d.outgoing[n.ID]) == 0 {
			sinks = append(sinks, n.ID)
		}
	}
	return sinks
}

// TopoOrder returns every node exactly once, each after all of its
// predecessors. See the package-level TopoOrder for tie-breaking rules.
func (d *DAG) TopoOrder() []string {
	return append([]string(nil), d.order...)
}

// Descendants returns every node reachable from id, excluding id, in
// topological order.
func (d *DAG) Descendants(id string) []string {
	reach := map[string]bool{}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range d.successors[cur] {
			if !reach[next] {
				reach[next] = true
				queue = append(queue, next)
			}
		}
	}
	var out []string
	for _, n := range d.order {
		if reach[n] {
			out = append(out, n)
		}
	}
	return out
}
