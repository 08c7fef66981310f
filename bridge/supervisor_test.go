package bridge

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSupervisor returns a supervisor whose child is a harmless sleep
// and whose readiness probe is controlled by the returned flags.
func fakeSupervisor(t *testing.T) (*Supervisor, *atomic.Int32, *atomic.Bool) {
	t.Helper()

	sup := NewSupervisor(testSettings())
	var spawns atomic.Int32
	var ready atomic.Bool

	sup.lookPath = func(string) (string, error) { return "/bin/sleep", nil }
	sup.newCommand = func(path string, port int) *exec.Cmd {
		spawns.Add(1)
		ready.Store(true)
		return exec.Command("sleep", "60")
	}
	sup.probe = func(ctx context.Context, port int) bool { return ready.Load() }

	t.Cleanup(sup.Stop)
	return sup, &spawns, &ready
}

func TestEnsureRunningSpawnsOnce(t *testing.T) {
	sup, spawns, _ := fakeSupervisor(t)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = sup.EnsureRunning(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, int32(1), spawns.Load(), "concurrent callers must share one spawn")
	assert.Equal(t, PhaseReady, sup.Phase())
	assert.True(t, sup.Spawned())
}

func TestEnsureRunningAdoptsExternalServer(t *testing.T) {
	sup, spawns, ready := fakeSupervisor(t)
	ready.Store(true) // server already up, started by someone else

	require.NoError(t, sup.EnsureRunning(context.Background()))
	assert.Zero(t, spawns.Load())
	assert.False(t, sup.Spawned(), "an adopted server must never be stopped by us")
}

func TestEnsureRunningNotInstalled(t *testing.T) {
	sup, _, _ := fakeSupervisor(t)
	sup.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	err := sup.EnsureRunning(context.Background())
	assert.ErrorIs(t, err, ErrNotInstalled)
	assert.False(t, sup.Installed())
}

func TestEnsureRunningReadinessExhaustion(t *testing.T) {
	sup, spawns, _ := fakeSupervisor(t)
	sup.probe = func(context.Context, int) bool { return false } // never ready

	err := sup.EnsureRunning(context.Background())
	assert.ErrorIs(t, err, ErrBackingUnavailable)
	assert.Equal(t, int32(1), spawns.Load())
	// The failed child must not be left running.
	assert.Equal(t, PhaseStopped, sup.Phase())
}

func TestEnsureRunningDetectsCrashAndRespawns(t *testing.T) {
	sup, spawns, _ := fakeSupervisor(t)

	// First child exits immediately, before ever becoming ready.
	sup.newCommand = func(path string, port int) *exec.Cmd {
		spawns.Add(1)
		return exec.Command("true")
	}
	sup.probe = func(context.Context, int) bool { return false }

	err := sup.EnsureRunning(context.Background())
	assert.ErrorIs(t, err, ErrBackingUnavailable)
	assert.Eventually(t, func() bool { return sup.Phase() == PhaseCrashed },
		time.Second, 5*time.Millisecond)

	// The handle was cleared, so the next call attempts a fresh spawn
	// and succeeds once the child sticks around.
	var ready atomic.Bool
	sup.newCommand = func(path string, port int) *exec.Cmd {
		spawns.Add(1)
		ready.Store(true)
		return exec.Command("sleep", "60")
	}
	sup.probe = func(context.Context, int) bool { return ready.Load() }

	require.NoError(t, sup.EnsureRunning(context.Background()))
	assert.Equal(t, int32(2), spawns.Load())
	assert.Equal(t, PhaseReady, sup.Phase())
}

func TestStopWithoutChildIsNoop(t *testing.T) {
	sup := NewSupervisor(testSettings())
	sup.Stop()
	assert.Equal(t, PhaseNotStarted, sup.Phase())
}
