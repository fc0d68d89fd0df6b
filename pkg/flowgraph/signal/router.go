package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Routing errors.
var (
	// ErrNoHandler is returned when no handler exists for a signal.
	ErrNoHandler = errors.New("no handler for signal")

	// ErrUnknownTarget is returned when a signal names a run that is not attached.
	ErrUnknownTarget = errors.New("target run not attached")

	// ErrAlreadyAttached is returned when a run id is attached twice.
	ErrAlreadyAttached = errors.New("run already attached")
)

// Router delivers signals to the controllers of live runs.
type Router struct {
	registry *Registry
	store    Store
	logger   *slog.Logger

	mu   sync.RWMutex
	runs map[string]Controller
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRegistry replaces the default handler registry.
func WithRegistry(r *Registry) RouterOption {
	return func(rt *Router) {
		rt.registry = r
	}
}

// WithStore records signal history in s instead of a MemoryStore.
func WithStore(s Store) RouterOption {
	return func(rt *Router) {
		rt.store = s
	}
}

// WithLogger sets the logger for the router.
func WithLogger(logger *slog.Logger) RouterOption {
	return func(rt *Router) {
		rt.logger = logger
	}
}

// NewRouter creates a router with the built-in handlers and an in-memory
// history.
func NewRouter(opts ...RouterOption) *Router {
	rt := &Router{
		registry: NewDefaultRegistry(),
		store:    NewMemoryStore(),
		logger:   slog.Default(),
		runs:     make(map[string]Controller),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Attach makes a run reachable by signals.
func (rt *Router) Attach(runID string, ctrl Controller) error {
	if runID == "" {
		return errors.New("run ID is required")
	}
	if ctrl == nil {
		return errors.New("controller is required")
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, exists := rt.runs[runID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyAttached, runID)
	}
	rt.runs[runID] = ctrl
	rt.logger.Debug("run attached", "run_id", runID)
	return nil
}

// Detach removes a run and its signal history. Detaching an unknown run is
// a no-op.
func (rt *Router) Detach(runID string) {
	rt.mu.Lock()
	_, exists := rt.runs[runID]
	delete(rt.runs, runID)
	rt.mu.Unlock()

	if !exists {
		return
	}
	if err := rt.store.DeleteTarget(context.Background(), runID); err != nil {
		rt.logger.Warn("failed to drop signal history", "run_id", runID, "error", err)
	}
	rt.logger.Debug("run detached", "run_id", runID)
}

// Attached reports whether a run is reachable.
func (rt *Router) Attached(runID string) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	_, ok := rt.runs[runID]
	return ok
}

// Runs returns the attached run ids, sorted.
func (rt *Router) Runs() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	ids := make([]string, 0, len(rt.runs))
	for id := range rt.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Send records sig and applies its handler to the target run.
//
// Returns ErrUnknownTarget if the run is not attached and ErrNoHandler if
// the name has no handler; neither is recorded. Handler errors are recorded
// on the signal and returned.
func (rt *Router) Send(ctx context.Context, sig *Signal) error {
	if sig == nil {
		return errors.New("signal is required")
	}
	if sig.TargetID == "" {
		return errors.New("target ID is required")
	}
	if sig.Name == "" {
		return errors.New("signal name is required")
	}

	rt.mu.RLock()
	ctrl, ok := rt.runs[sig.TargetID]
	rt.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, sig.TargetID)
	}
	handler, ok := rt.registry.Get(sig.Name)
	if !ok {
		rt.logger.Warn("no handler for signal",
			"signal_name", sig.Name,
			"target_id", sig.TargetID,
		)
		return fmt.Errorf("%w: %s", ErrNoHandler, sig.Name)
	}

	if err := rt.store.Enqueue(ctx, sig); err != nil {
		return fmt.Errorf("failed to record signal: %w", err)
	}

	if handleErr := handler(ctx, ctrl, sig); handleErr != nil {
		if markErr := rt.store.MarkFailed(ctx, sig.ID, handleErr); markErr != nil {
			rt.logger.Error("failed to mark signal as failed",
				"signal_id", sig.ID,
				"error", markErr,
			)
		}
		return handleErr
	}

	if markErr := rt.store.MarkProcessed(ctx, sig.ID); markErr != nil {
		rt.logger.Error("failed to mark signal as processed",
			"signal_id", sig.ID,
			"error", markErr,
		)
	}

	rt.logger.Debug("signal processed",
		"signal_id", sig.ID,
		"signal_name", sig.Name,
		"target_id", sig.TargetID,
	)
	return nil
}

// SendName is shorthand for Send(ctx, NewSignal(name, runID, nil)).
func (rt *Router) SendName(ctx context.Context, runID, name string) error {
	return rt.Send(ctx, NewSignal(name, runID, nil))
}

// History returns the signals sent to a run, oldest first.
func (rt *Router) History(ctx context.Context, runID string) ([]*Signal, error) {
	return rt.store.ListByTarget(ctx, runID)
}
