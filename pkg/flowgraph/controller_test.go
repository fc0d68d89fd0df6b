package flowgraph

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nextAsync calls ctrl.Next on a goroutine and returns its result channel.
func nextAsync(ctx context.Context, ctrl *RunController) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- ctrl.Next(ctx) }()
	return ch
}

func requireBlocked(t *testing.T, ch <-chan error) {
	t.Helper()
	select {
	case err := <-ch:
		t.Fatalf("Next returned early: %v", err)
	case <-time.After(30 * time.Millisecond):
	}
}

func requireReturned(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return")
		return nil
	}
}

func TestRunController_Running(t *testing.T) {
	ctrl := NewRunController()
	assert.Equal(t, ControlRunning, ctrl.State())
	_, unlimited := ctrl.Credit()
	assert.True(t, unlimited)

	for i := 0; i < 5; i++ {
		require.NoError(t, ctrl.Next(context.Background()))
	}
	_, unlimited = ctrl.Credit()
	assert.True(t, unlimited, "unlimited credit is not consumed")
}

func TestRunController_PauseBlocksUntilResume(t *testing.T) {
	ctrl := NewRunController()
	ctrl.Pause()
	assert.Equal(t, ControlPaused, ctrl.State())

	ch := nextAsync(context.Background(), ctrl)
	requireBlocked(t, ch)

	ctrl.Resume()
	require.NoError(t, requireReturned(t, ch))
	assert.Equal(t, ControlRunning, ctrl.State())
}

func TestRunController_StepGrantsOneCredit(t *testing.T) {
	ctrl := NewRunController()
	ctrl.Pause()

	ctrl.Step()
	n, unlimited := ctrl.Credit()
	assert.False(t, unlimited)
	assert.Equal(t, 1, n)

	require.NoError(t, ctrl.Next(context.Background()))
	n, _ = ctrl.Credit()
	assert.Equal(t, 0, n)

	ch := nextAsync(context.Background(), ctrl)
	requireBlocked(t, ch)
	ctrl.Step()
	require.NoError(t, requireReturned(t, ch))
}

func TestRunController_StepWhileRunning(t *testing.T) {
	ctrl := NewRunController()
	ctrl.Step()

	n, unlimited := ctrl.Credit()
	assert.False(t, unlimited)
	assert.Equal(t, 1, n)
	assert.Equal(t, ControlPaused, ctrl.State())
}

func TestRunController_StepAccumulates(t *testing.T) {
	ctrl := NewRunController()
	ctrl.Pause()
	ctrl.Step()
	ctrl.Step()
	ctrl.Step()

	for i := 0; i < 3; i++ {
		require.NoError(t, ctrl.Next(context.Background()))
	}
	requireBlocked(t, nextAsync(context.Background(), ctrl))
	ctrl.Cancel()
}

func TestRunController_CancelRejectsPendingAndLater(t *testing.T) {
	ctrl := NewRunController()
	ctrl.Pause()

	pending := []<-chan error{
		nextAsync(context.Background(), ctrl),
		nextAsync(context.Background(), ctrl),
	}
	for _, ch := range pending {
		requireBlocked(t, ch)
	}

	ctrl.Cancel()
	for _, ch := range pending {
		assert.ErrorIs(t, requireReturned(t, ch), ErrCancelled)
	}
	assert.ErrorIs(t, ctrl.Next(context.Background()), ErrCancelled)
	assert.True(t, ctrl.Cancelled())
	assert.Equal(t, ControlCancelled, ctrl.State())

	select {
	case <-ctrl.Done():
	default:
		t.Fatal("Done not closed after Cancel")
	}
}

func TestRunController_CancelIsTerminal(t *testing.T) {
	ctrl := NewRunController()
	ctrl.Cancel()
	ctrl.Cancel()
	ctrl.Resume()
	ctrl.Step()
	ctrl.Pause()

	assert.Equal(t, ControlCancelled, ctrl.State())
	assert.ErrorIs(t, ctrl.Next(context.Background()), ErrCancelled)
}

func TestRunController_ContextEndsWait(t *testing.T) {
	ctrl := NewRunController()
	ctrl.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	ch := nextAsync(ctx, ctrl)
	requireBlocked(t, ch)
	cancel()
	assert.ErrorIs(t, requireReturned(t, ch), context.Canceled)
	assert.False(t, ctrl.Cancelled())
}

func TestRunController_StepWakesAllWaiters(t *testing.T) {
	ctrl := NewRunController()
	ctrl.Pause()

	const waiters = 3
	chans := make([]<-chan error, waiters)
	for i := range chans {
		chans[i] = nextAsync(context.Background(), ctrl)
	}
	for _, ch := range chans {
		requireBlocked(t, ch)
	}

	// One step wakes every waiter; each proceeds after its wake-up.
	ctrl.Step()
	for _, ch := range chans {
		require.NoError(t, requireReturned(t, ch))
	}
	n, _ := ctrl.Credit()
	assert.Equal(t, 0, n)
}

func TestRunController_ConcurrentUse(t *testing.T) {
	ctrl := NewRunController()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := ctrl.Next(ctx); err != nil {
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		switch i % 3 {
		case 0:
			ctrl.Pause()
		case 1:
			ctrl.Step()
		default:
			ctrl.Resume()
		}
	}
	ctrl.Cancel()
	wg.Wait()
	assert.Equal(t, ControlCancelled, ctrl.State())
}
