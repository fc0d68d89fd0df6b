package flowgraph

import (
	"sort"

	"github.com/randalmurphal/voide-engine/pkg/flowgraph/registry"
)

// Output is one payload produced on an out-port.
type Output struct {
	Port  string
	Value any
}

// NodeExecutor runs the business logic of one node type.
//
// Execute receives the accumulated inputs of the node and returns zero or
// more outputs. Values may also be sent with NodeContext.Emit while
// executing; emitted values precede returned ones. A returned error marks
// the node failed and its outputs are discarded.
//
// Executors are shared by every node of their type and across runs, so they
// must be safe for concurrent use.
type NodeExecutor interface {
	Execute(ctx NodeContext) ([]Output, error)
}

// ExecutorFunc adapts a function to NodeExecutor.
//
// Example:
//
//	upper := flowgraph.ExecutorFunc(func(ctx flowgraph.NodeContext) ([]flowgraph.Output, error) {
//	    var out []flowgraph.Output
//	    for _, v := range ctx.Inputs("text") {
//	        out = append(out, flowgraph.Output{Port: "text", Value: strings.ToUpper(v.(string))})
//	    }
//	    return out, nil
//	})
type ExecutorFunc func(ctx NodeContext) ([]Output, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx NodeContext) ([]Output, error) {
	return f(ctx)
}

// Executors maps node type tags to executors.
type Executors = registry.Registry[string, NodeExecutor]

// NewExecutors returns an empty executor registry.
func NewExecutors() *Executors {
	return registry.New[string, NodeExecutor]()
}

// executorTypes returns the registered type tags, sorted.
func executorTypes(execs *Executors) []string {
	types := execs.Keys()
	sort.Strings(types)
	return types
}
