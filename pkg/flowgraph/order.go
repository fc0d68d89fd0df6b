package flowgraph

// TopoOrder computes an execution order for a canvas with Kahn's algorithm.
//
// The queue is seeded with zero in-degree nodes in declaration order and is
// drained first-in first-out. Parallel edges between the same two nodes count
// once. When a node is dequeued its successors are walked in the order of
// their first edge, so ties resolve deterministically and match the order a
// run with max concurrency 1 executes in.
//
// The canvas does not need to be validated. If a cycle keeps some nodes
// from being placed, the partial order is returned with ErrIncompleteOrder.
// Edges whose endpoints are not declared nodes are ignored.
func TopoOrder(c Canvas) ([]string, error) {
	order, complete := topoOrder(c.Nodes, c.Edges)
	if !complete {
		return order, ErrIncompleteOrder
	}
	return order, nil
}

func topoOrder(nodes []NodeSpec, edges []EdgeSpec) ([]string, bool) {
	declared := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		declared[n.ID] = true
	}

	indegree := make(map[string]int, len(nodes))
	adj := make(map[string][]string, len(nodes))
	for _, e := range edges {
		if !declared[e.From.Node] || !declared[e.To.Node] {
			continue
		}
		succ := appendUnique(adj[e.From.Node], e.To.Node)
		if len(succ) == len(adj[e.From.Node]) {
			continue
		}
		adj[e.From.Node] = succ
		indegree[e.To.Node]++
	}

	queue := make([]string, 0, len(nodes))
	queued := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if indegree[n.ID] == 0 && !queued[n.ID] {
			queue = append(queue, n.ID)
			queued[n.ID] = true
		}
	}

	order := make([]string, 0, len(nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range adj[id] {
			indegree[next]--
			if indegree[next] == 0 && !queued[next] {
				queue = append(queue, next)
				queued[next] = true
			}
		}
	}
	return order, len(order) == len(declared)
}

// Frontier is the set of nodes ready to execute, in insertion order.
//
// Frontier is NOT safe for concurrent use. The run driver keeps it on a
// single coordinator goroutine; other callers must provide their own
// locking.
type Frontier struct {
	queue   []string
	members map[string]bool
}

// NewFrontier creates a frontier holding ids, in order.
func NewFrontier(ids ...string) *Frontier {
	f := &Frontier{members: make(map[string]bool)}
	for _, id := range ids {
		f.Add(id)
	}
	return f
}

// Add inserts id. Adding an id that is already waiting is a no-op.
func (f *Frontier) Add(id string) {
	if f.members == nil {
		f.members = make(map[string]bool)
	}
	if f.members[id] {
		return
	}
	f.members[id] = true
	f.queue = append(f.queue, id)
}

// HasReady reports whether any node is waiting.
func (f *Frontier) HasReady() bool {
	return len(f.queue) > 0
}

// NextReady removes and returns the oldest waiting node.
// Returns false if the frontier is empty.
func (f *Frontier) NextReady() (string, bool) {
	if len(f.queue) == 0 {
		return "", false
	}
	id := f.queue[0]
	f.queue = f.queue[1:]
	delete(f.members, id)
	return id, true
}

// Len returns the number of waiting nodes.
func (f *Frontier) Len() int {
	return len(f.queue)
}

// Contains reports whether id is waiting.
func (f *Frontier) Contains(id string) bool {
	return f.members[id]
}

// Pending returns the waiting nodes in the order NextReady would return them.
func (f *Frontier) Pending() []string {
	return append([]string(nil), f.queue...)
}
