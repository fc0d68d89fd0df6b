package signal

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSignalNotFound is returned when a signal cannot be found.
var ErrSignalNotFound = errors.New("signal not found")

// Store keeps the history of signals sent through a Router.
type Store interface {
	// Enqueue records a pending signal.
	Enqueue(ctx context.Context, signal *Signal) error

	// Get retrieves a signal by ID.
	Get(ctx context.Context, signalID string) (*Signal, error)

	// MarkProcessed marks a signal as successfully processed.
	MarkProcessed(ctx context.Context, signalID string) error

	// MarkFailed marks a signal as failed with an error.
	MarkFailed(ctx context.Context, signalID string, err error) error

	// ListByTarget returns all signals for a target in send order.
	ListByTarget(ctx context.Context, targetID string) ([]*Signal, error)

	// DeleteTarget forgets every signal for a target.
	DeleteTarget(ctx context.Context, targetID string) error
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	signals  map[string]*Signal
	byTarget map[string][]string // targetID -> signal IDs
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory signal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		signals:  make(map[string]*Signal),
		byTarget: make(map[string][]string),
	}
}

// Enqueue records a pending signal, filling in ID, SentAt and Status.
func (s *MemoryStore) Enqueue(_ context.Context, signal *Signal) error {
	if signal.ID == "" {
		signal.ID = newID()
	}
	if signal.SentAt.IsZero() {
		signal.SentAt = time.Now()
	}
	if signal.Status == "" {
		signal.Status = StatusPending
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.signals[signal.ID]; !exists {
		s.byTarget[signal.TargetID] = append(s.byTarget[signal.TargetID], signal.ID)
	}
	s.signals[signal.ID] = signal.Clone()
	return nil
}

// Get retrieves a signal by ID.
func (s *MemoryStore) Get(_ context.Context, signalID string) (*Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sig, exists := s.signals[signalID]
	if !exists {
		return nil, ErrSignalNotFound
	}
	return sig.Clone(), nil
}

// MarkProcessed marks a signal as successfully processed.
func (s *MemoryStore) MarkProcessed(_ context.Context, signalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, exists := s.signals[signalID]
	if !exists {
		return ErrSignalNotFound
	}

	now := time.Now()
	sig.Status = StatusProcessed
	sig.ProcessedAt = &now
	return nil
}

// MarkFailed marks a signal as failed.
func (s *MemoryStore) MarkFailed(_ context.Context, signalID string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, exists := s.signals[signalID]
	if !exists {
		return ErrSignalNotFound
	}

	now := time.Now()
	sig.Status = StatusFailed
	sig.ProcessedAt = &now
	if err != nil {
		sig.Error = err.Error()
	}
	return nil
}

// ListByTarget returns all signals for a target.
func (s *MemoryStore) ListByTarget(_ context.Context, targetID string) ([]*Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	signalIDs := s.byTarget[targetID]
	result := make([]*Signal, 0, len(signalIDs))
	for _, id := range signalIDs {
		if sig := s.signals[id]; sig != nil {
			result = append(result, sig.Clone())
		}
	}
	return result, nil
}

// DeleteTarget forgets every signal for a target.
func (s *MemoryStore) DeleteTarget(_ context.Context, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.byTarget[targetID] {
		delete(s.signals, id)
	}
	delete(s.byTarget, targetID)
	return nil
}
