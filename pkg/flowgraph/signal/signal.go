// Package signal routes externally originated control signals to live runs.
//
// Signals are fire-and-forget messages. A UI, CLI or remote caller sends
// "pause", "resume", "step" or "cancel" to a run id; the Router looks up the
// run's controller and applies the handler registered for the signal name.
//
// Common use cases:
//   - Pausing a run from an editor and stepping through it node by node
//   - Cancelling a run when its window closes
//   - Custom signals registered by the embedding application
package signal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Built-in signal names.
const (
	Pause  = "pause"
	Resume = "resume"
	Step   = "step"
	Cancel = "cancel"
)

// Status represents the current state of a signal.
type Status string

// Signal status constants.
const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// Signal is a fire-and-forget message to a running flow.
type Signal struct {
	// ID uniquely identifies this signal.
	ID string `json:"id"`

	// Name is the signal type (e.g., "pause", "step").
	Name string `json:"name"`

	// TargetID is the run ID this signal is sent to.
	TargetID string `json:"target_id"`

	// Payload contains signal-specific data. "step" reads "count".
	Payload map[string]any `json:"payload,omitempty"`

	// SenderID identifies who sent the signal.
	SenderID string `json:"sender_id,omitempty"`

	Status Status `json:"status"`

	SentAt      time.Time  `json:"sent_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	// Error contains error details if processing failed.
	Error string `json:"error,omitempty"`
}

// NewSignal creates a pending signal with the given name and target.
func NewSignal(name, targetID string, payload map[string]any) *Signal {
	return &Signal{
		ID:       newID(),
		Name:     name,
		TargetID: targetID,
		Payload:  payload,
		Status:   StatusPending,
		SentAt:   time.Now(),
	}
}

func newID() string {
	return fmt.Sprintf("sig-%s", uuid.New().String()[:8])
}

// WithSender sets the sender ID on the signal.
func (s *Signal) WithSender(senderID string) *Signal {
	s.SenderID = senderID
	return s
}

// Clone creates a deep copy of the signal.
func (s *Signal) Clone() *Signal {
	signalCopy := *s
	if s.Payload != nil {
		signalCopy.Payload = make(map[string]any, len(s.Payload))
		for k, v := range s.Payload {
			signalCopy.Payload[k] = v
		}
	}
	if s.ProcessedAt != nil {
		t := *s.ProcessedAt
		signalCopy.ProcessedAt = &t
	}
	return &signalCopy
}

// Controller is the part of a run controller that signals act on.
// *flowgraph.RunController satisfies it.
type Controller interface {
	Pause()
	Resume()
	Step()
	Cancel()
}

// Handler applies a signal to the controller of its target run.
type Handler func(ctx context.Context, ctrl Controller, sig *Signal) error

// Registry manages signal handlers by signal name.
type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty signal registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// NewDefaultRegistry creates a registry holding the pause, resume, step and
// cancel handlers.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(Pause, func(_ context.Context, ctrl Controller, _ *Signal) error {
		ctrl.Pause()
		return nil
	})
	r.MustRegister(Resume, func(_ context.Context, ctrl Controller, _ *Signal) error {
		ctrl.Resume()
		return nil
	})
	r.MustRegister(Step, handleStep)
	r.MustRegister(Cancel, func(_ context.Context, ctrl Controller, _ *Signal) error {
		ctrl.Cancel()
		return nil
	})
	return r
}

// maxStepCount bounds the "count" payload of a step signal.
const maxStepCount = 1000

// handleStep grants payload["count"] credits, one by default.
func handleStep(_ context.Context, ctrl Controller, sig *Signal) error {
	count := 1
	if raw, ok := sig.Payload["count"]; ok {
		n, ok := toInt(raw)
		if !ok || n < 1 || n > maxStepCount {
			return fmt.Errorf("step count must be an integer in [1, %d], got %v", maxStepCount, raw)
		}
		count = n
	}
	for i := 0; i < count; i++ {
		ctrl.Step()
	}
	return nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

// Register adds a handler for a signal name.
func (r *Registry) Register(signalName string, handler Handler) error {
	if signalName == "" {
		return errors.New("signal name is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[signalName]; exists {
		return fmt.Errorf("handler for signal %q already registered", signalName)
	}

	r.handlers[signalName] = handler
	return nil
}

// MustRegister registers a handler, panicking on error.
func (r *Registry) MustRegister(signalName string, handler Handler) {
	if err := r.Register(signalName, handler); err != nil {
		panic(err)
	}
}

// Get returns the handler for a signal name.
func (r *Registry) Get(signalName string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, exists := r.handlers[signalName]
	return handler, exists
}

// List returns all registered signal names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister removes a handler for a signal name.
func (r *Registry) Unregister(signalName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, signalName)
}
