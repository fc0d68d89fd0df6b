package flowgraph

import (
	"context"
	"sync"
)

// unlimited is the credit value of a running controller.
const unlimited = -1

// ControlState is the externally visible state of a RunController.
type ControlState string

// Controller states.
const (
	ControlRunning   ControlState = "running"
	ControlPaused    ControlState = "paused"
	ControlCancelled ControlState = "cancelled"
)

// RunController gates a run's progress. The driver calls Next before every
// node dispatch; Pause, Resume, Step and Cancel may be called from any
// goroutine at any time.
//
// A running controller has unlimited credit and Next never blocks. Pause
// drops credit to zero. Step grants one credit. Cancel is terminal.
//
// Resume, Step and Cancel wake every blocked Next caller at once. Each woken
// caller re-checks cancellation, takes a credit if one is left, and returns.
// A single Step can therefore release more than one concurrent waiter.
type RunController struct {
	mu        sync.Mutex
	credit    int
	cancelled bool
	wake      chan struct{}
	done      chan struct{}
}

// NewRunController returns a controller in the running state.
func NewRunController() *RunController {
	return &RunController{
		credit: unlimited,
		wake:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// notifyLocked wakes every goroutine blocked in Next.
// Caller must hold c.mu.
func (c *RunController) notifyLocked() {
	close(c.wake)
	c.wake = make(chan struct{})
}

// Pause stops further progress until Resume or Step.
// Pausing a cancelled controller is a no-op.
func (c *RunController) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return
	}
	c.credit = 0
}

// Resume returns to unlimited credit and wakes all waiters.
// Resuming a cancelled controller is a no-op.
func (c *RunController) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return
	}
	c.credit = unlimited
	c.notifyLocked()
}

// Step grants one unit of progress and wakes all waiters. Stepping a
// running controller switches it to stepped mode with a single credit.
// Stepping a cancelled controller is a no-op.
func (c *RunController) Step() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return
	}
	if c.credit == unlimited {
		c.credit = 0
	}
	c.credit++
	c.notifyLocked()
}

// Cancel stops the run permanently and wakes all waiters.
// Cancelling twice is a no-op.
func (c *RunController) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return
	}
	c.cancelled = true
	close(c.done)
	c.notifyLocked()
}

// Next blocks until the run may advance by one node.
//
// Returns ErrCancelled if the controller is or becomes cancelled, and
// ctx.Err() if ctx ends while waiting. With zero credit Next waits for one
// wake-up, then proceeds unless cancelled. A finite credit is consumed; an
// unlimited credit is left untouched.
func (c *RunController) Next(ctx context.Context) error {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return ErrCancelled
	}
	if c.credit == 0 {
		wake := c.wake
		c.mu.Unlock()
		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
		if c.cancelled {
			c.mu.Unlock()
			return ErrCancelled
		}
	}
	if c.credit > 0 {
		c.credit--
	}
	c.mu.Unlock()
	return nil
}

// Done returns a channel closed when the controller is cancelled.
func (c *RunController) Done() <-chan struct{} {
	return c.done
}

// Cancelled reports whether Cancel has been called.
func (c *RunController) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// State returns the controller state. A controller in stepped mode with
// credits left reports ControlPaused.
func (c *RunController) State() ControlState {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.cancelled:
		return ControlCancelled
	case c.credit == unlimited:
		return ControlRunning
	default:
		return ControlPaused
	}
}

// Credit returns the remaining step credit. unlimited is true while running.
func (c *RunController) Credit() (n int, isUnlimited bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credit == unlimited {
		return 0, true
	}
	return c.credit, false
}
