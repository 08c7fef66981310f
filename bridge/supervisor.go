package bridge

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Phase is the lifecycle state of the backing server handle.
type Phase int32

const (
	PhaseNotStarted Phase = iota
	PhaseStarting
	PhaseReady
	PhaseCrashed
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not-started"
	case PhaseStarting:
		return "starting"
	case PhaseReady:
		return "ready"
	case PhaseCrashed:
		return "crashed"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const stopGracePeriod = 5 * time.Second

// Supervisor owns the singleton backing server process. At most one
// child is live per relay process; EnsureRunning is safe to call
// concurrently and never spawns twice.
type Supervisor struct {
	settings *Settings

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan struct{} // closed by the waiter when cmd exits
	phase   Phase
	spawned bool // whether this process started the child

	// Injection points for tests.
	lookPath   func(string) (string, error)
	newCommand func(path string, port int) *exec.Cmd
	probe      func(ctx context.Context, port int) bool
}

func NewSupervisor(settings *Settings) *Supervisor {
	return &Supervisor{
		settings:   settings,
		phase:      PhaseNotStarted,
		lookPath:   exec.LookPath,
		newCommand: backingCommand,
		probe:      probeBacking,
	}
}

func backingCommand(path string, port int) *exec.Cmd {
	cmd := exec.Command(path, "serve", "--port", fmt.Sprint(port), "--hostname", BackingHost)
	cmd.Stdout = nil
	cmd.Stderr = log.Writer()
	return cmd
}

// probeBacking checks whether the backing server answers on its port.
// Any HTTP response counts: the server serves HTML on / and may not
// expose a health endpoint.
func probeBacking(ctx context.Context, port int) bool {
	url := fmt.Sprintf("http://%s:%d/", BackingHost, port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	client := &http.Client{
		Timeout: 2 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusFound, http.StatusNotFound:
		return true
	}
	return false
}

// Phase reports the handle's current lifecycle state.
func (s *Supervisor) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Spawned reports whether this process started the backing server.
// An externally started server is never stopped by the bridge.
func (s *Supervisor) Spawned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawned
}

// EnsureRunning makes sure a backing server is reachable, spawning
// one if necessary and polling its readiness with a bounded delay.
// Concurrent callers serialize: the second observes or awaits the
// first's in-flight start. On exhaustion it returns
// ErrBackingUnavailable and cleans up the failed child; the next call
// attempts a fresh spawn. A missing executable returns ErrNotInstalled.
func (s *Supervisor) EnsureRunning(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.settings.Current()

	if s.cmd != nil {
		// Live child still answering: nothing to do.
		if s.probe(ctx, cfg.Port) {
			s.phase = PhaseReady
			return nil
		}
		// Alive but unresponsive; replace it rather than leak it.
		s.stopLocked()
	} else if s.probe(ctx, cfg.Port) {
		// Server already running outside our control.
		s.phase = PhaseReady
		s.spawned = false
		return nil
	}

	path, err := s.lookPath(cfg.Executable)
	if err != nil {
		return ErrNotInstalled
	}

	cmd := s.newCommand(path, cfg.Port)
	if err := cmd.Start(); err != nil {
		s.phase = PhaseCrashed
		return fmt.Errorf("%w: start %s: %v", ErrBackingUnavailable, cfg.Executable, err)
	}

	exited := make(chan struct{})
	s.cmd = cmd
	s.exited = exited
	s.spawned = true
	s.phase = PhaseStarting
	log.Printf("[supervisor] started %s (pid %d) on %s:%d", cfg.Executable, cmd.Process.Pid, BackingHost, cfg.Port)

	go func() {
		err := cmd.Wait()
		close(exited)
		s.mu.Lock()
		if s.cmd == cmd {
			s.cmd = nil
			s.phase = PhaseCrashed
		}
		s.mu.Unlock()
		log.Printf("[supervisor] backing server exited: %v", err)
	}()

	deadline := time.Now().Add(cfg.StartupTimeout())
	for time.Now().Before(deadline) {
		if s.probe(ctx, cfg.Port) {
			s.phase = PhaseReady
			return nil
		}
		select {
		case <-ctx.Done():
			s.stopLocked()
			return ctx.Err()
		case <-exited:
			// Child died before becoming ready.
			return ErrBackingUnavailable
		case <-time.After(cfg.RetryDelay()):
		}
	}

	s.stopLocked()
	return ErrBackingUnavailable
}

// Stop terminates a child spawned by this process, gracefully first
// and by force after a grace period. Safe to call when nothing runs.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Supervisor) stopLocked() {
	if s.cmd == nil || !s.spawned {
		return
	}
	cmd := s.cmd
	exited := s.exited
	s.cmd = nil
	s.phase = PhaseStopped

	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-exited:
	case <-time.After(stopGracePeriod):
		_ = cmd.Process.Kill()
		<-exited
	}
}

// Installed reports whether the backing executable is on PATH.
func (s *Supervisor) Installed() bool {
	_, err := s.lookPath(s.settings.Current().Executable)
	return err == nil
}
