package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory run store for testing and dry runs.
// Data is lost when the process exits.
type MemoryStore struct {
	mu       sync.RWMutex
	runs     map[string]Run
	payloads map[string][]Payload // runID -> payloads in save order
	logs     map[string][]RunLog
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:     make(map[string]Run),
		payloads: make(map[string][]Payload),
		logs:     make(map[string][]RunLog),
	}
}

// CreateRun implements Recorder.
func (m *MemoryStore) CreateRun(_ context.Context, runID, flowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, exists := m.runs[runID]; exists {
		return fmt.Errorf("create run %s: already exists", runID)
	}
	m.runs[runID] = Run{
		ID:        runID,
		FlowID:    flowID,
		Status:    StatusCreated,
		StartedAt: time.Now().UTC(),
	}
	return nil
}

// UpdateRunStatus implements Recorder.
func (m *MemoryStore) UpdateRunStatus(_ context.Context, runID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	run, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	run.Status = status
	if status.Terminal() {
		run.EndedAt = time.Now().UTC()
	}
	m.runs[runID] = run
	return nil
}

// SavePayload implements Recorder.
func (m *MemoryStore) SavePayload(_ context.Context, runID, nodeID, port string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.payloads[runID] = append(m.payloads[runID], Payload{
		NodeID:    nodeID,
		Port:      port,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// RecordRunLog implements Recorder.
func (m *MemoryStore) RecordRunLog(_ context.Context, log RunLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.logs[log.RunID] = append(m.logs[log.RunID], log)
	return nil
}

// GetRun implements Reader.
func (m *MemoryStore) GetRun(_ context.Context, runID string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Run{}, ErrStoreClosed
	}
	run, ok := m.runs[runID]
	if !ok {
		return Run{}, ErrNotFound
	}
	return run, nil
}

// Payloads implements Reader.
func (m *MemoryStore) Payloads(_ context.Context, runID string) ([]Payload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	return append([]Payload(nil), m.payloads[runID]...), nil
}

// Logs implements Reader.
func (m *MemoryStore) Logs(_ context.Context, runID string) ([]RunLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	return append([]RunLog(nil), m.logs[runID]...), nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.runs = nil
	m.payloads = nil
	m.logs = nil
	return nil
}

// Len returns the number of recorded runs.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runs)
}
