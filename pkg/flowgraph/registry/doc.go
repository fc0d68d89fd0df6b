// Package registry provides a generic thread-safe registry for values indexed by key.
//
// The engine keeps two registries: port type name to codec, and node type tag
// to executor. Both are filled at startup and sealed before runs begin:
//
//	executors := registry.New[string, flowgraph.NodeExecutor]()
//	_ = executors.Register("prompt", promptNode)
//	_ = executors.Register("llm", llmNode)
//	executors.Seal()
//
//	exec, ok := executors.Get("llm")
//
// All methods are safe for concurrent use. Range iterates over a snapshot,
// so callbacks may call back into the registry.
package registry
