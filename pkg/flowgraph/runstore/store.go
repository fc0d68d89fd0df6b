// Package runstore records runs, node payloads and node logs.
//
// The run driver only needs the Recorder contract. MemoryStore and
// SQLiteStore also implement Reader so tests and tools can inspect what
// a run produced.
package runstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/voide-engine/pkg/flowgraph/config"
)

// Sentinel errors.
var (
	// ErrNotFound indicates the requested run doesn't exist.
	ErrNotFound = errors.New("run not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("store closed")
)

// Status is the lifecycle state of a run.
type Status string

// Run statuses. A run starts created, moves to running, and ends in one of
// done, error or stopped.
const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
	StatusStopped Status = "stopped"
)

// Terminal reports whether s ends a run.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError || s == StatusStopped
}

// RunLog is one node progress record.
type RunLog struct {
	RunID     string `json:"run_id"`
	NodeID    string `json:"node_id"`
	Tokens    int    `json:"tokens"`
	LatencyMs int64  `json:"latency_ms"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Recorder is the persistence contract the run driver calls.
// Implementations must be safe for concurrent use.
type Recorder interface {
	// CreateRun registers a run with status created.
	CreateRun(ctx context.Context, runID, flowID string) error

	// UpdateRunStatus moves a run to status. Terminal statuses set the end time.
	UpdateRunStatus(ctx context.Context, runID string, status Status) error

	// SavePayload stores one value produced on a node's out-port.
	SavePayload(ctx context.Context, runID, nodeID, port string, payload any) error

	// RecordRunLog appends a node progress record.
	RecordRunLog(ctx context.Context, log RunLog) error
}

// Run describes a recorded run.
type Run struct {
	ID        string
	FlowID    string
	Status    Status
	StartedAt time.Time
	EndedAt   time.Time
}

// Payload is a stored node output. Body holds the JSON encoding.
type Payload struct {
	NodeID    string
	Port      string
	Body      []byte
	CreatedAt time.Time
}

// Reader reads back what a Recorder stored.
type Reader interface {
	// GetRun returns ErrNotFound if the run doesn't exist.
	GetRun(ctx context.Context, runID string) (Run, error)

	// Payloads returns the run's payloads in save order.
	Payloads(ctx context.Context, runID string) ([]Payload, error)

	// Logs returns the run's logs in record order.
	Logs(ctx context.Context, runID string) ([]RunLog, error)
}

// Store is a Recorder that can also be read back and closed.
type Store interface {
	Recorder
	Reader
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) CreateRun(context.Context, string, string) error                { return nil }
func (Nop) UpdateRunStatus(context.Context, string, Status) error          { return nil }
func (Nop) SavePayload(context.Context, string, string, string, any) error { return nil }
func (Nop) RecordRunLog(context.Context, RunLog) error                     { return nil }

// Open returns the store selected by cfg.Driver. The "none" driver returns
// a nil Store; callers fall back to Nop.
func Open(cfg config.Store) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
