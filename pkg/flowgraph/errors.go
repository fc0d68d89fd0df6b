package flowgraph

import (
	"errors"
	"fmt"
)

// Code classifies a canvas validation failure.
type Code string

// Validation error codes, one per validator stage.
const (
	CodeConfig            Code = "E-CONFIG"
	CodeDangling          Code = "E-DANGLING"
	CodeType              Code = "E-TYPE"
	CodeCycle             Code = "E-CYCLE"
	CodeUnreachableOutput Code = "E-UNREACHABLE-OUTPUT"
)

// Sentinel errors for canvas validation. A *BuildError unwraps to the
// sentinel matching its Code.
var (
	// ErrConfig indicates a node is missing its in or out menu, or the
	// canvas is otherwise malformed.
	ErrConfig = errors.New("invalid node configuration")

	// ErrDangling indicates an edge references a missing node or port.
	ErrDangling = errors.New("dangling edge")

	// ErrType indicates an edge joins ports with no common type.
	ErrType = errors.New("type mismatch")

	// ErrCycle indicates the canvas contains a cycle.
	ErrCycle = errors.New("cycle detected")

	// ErrUnreachableOutput indicates an out-port that no edge consumes.
	ErrUnreachableOutput = errors.New("unreachable output")

	// ErrIncompleteOrder indicates TopoOrder could not place every node.
	ErrIncompleteOrder = errors.New("topological order incomplete")
)

// Sentinel errors for execution.
var (
	// ErrNilContext indicates Run() was called with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrCancelled is returned by RunController.Next once the run is cancelled.
	ErrCancelled = errors.New("run cancelled")

	// ErrUnknownNodeType indicates no executor is registered for a node's type.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrUndeclaredPort indicates a node emitted on a port it does not declare.
	ErrUndeclaredPort = errors.New("undeclared out-port")
)

// BuildError reports the first validation failure of a canvas.
type BuildError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Node    string `json:"node,omitempty"`
	Port    string `json:"port,omitempty"`
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the sentinel for the error's code.
func (e *BuildError) Unwrap() error {
	switch e.Code {
	case CodeConfig:
		return ErrConfig
	case CodeDangling:
		return ErrDangling
	case CodeType:
		return ErrType
	case CodeCycle:
		return ErrCycle
	case CodeUnreachableOutput:
		return ErrUnreachableOutput
	}
	return nil
}

// SchemaError reports a canvas document that does not match the canvas schema.
type SchemaError struct {
	Problems []string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	if len(e.Problems) == 1 {
		return "canvas schema: " + e.Problems[0]
	}
	return fmt.Sprintf("canvas schema: %d problems, first: %s", len(e.Problems), e.Problems[0])
}

// NodeError wraps an error with node context.
// It provides information about which node failed and what operation was attempted.
type NodeError struct {
	// NodeID is the identifier of the node that failed.
	NodeID string
	// Op is the operation that failed ("lookup", "execute", "forward").
	Op string
	// Err is the underlying error from the node.
	Err error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// PanicError captures panic information from node execution.
// It includes the stack trace for debugging.
type PanicError struct {
	// NodeID is the identifier of the node that panicked.
	NodeID string
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// CancellationError reports a run stopped by its controller or context.
// Nodes that completed before cancellation keep their results.
type CancellationError struct {
	// RunID is the cancelled run.
	RunID string
	// Pending lists nodes that were queued or running when the run stopped.
	Pending []string
	// Cause is ErrCancelled, context.Canceled or context.DeadlineExceeded.
	Cause error
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	return fmt.Sprintf("run %s cancelled with %d nodes pending: %v", e.RunID, len(e.Pending), e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// RecorderError wraps a failure of the run recorder.
// It is only returned when recorder failures are fatal.
type RecorderError struct {
	// Op is the recorder call that failed.
	Op string
	// NodeID is the node being recorded, if any.
	NodeID string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *RecorderError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("recorder %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("recorder %s at node %s: %v", e.Op, e.NodeID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *RecorderError) Unwrap() error {
	return e.Err
}
