package supervisor

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/benaskins/herald/internal/diag"
)

// Stop tears the supervised server down: run the identity-scoped stop
// command, absorb its asynchronous effect with the configured grace
// period, then clean up locally — remove the readiness log copy, kill the
// tail, clear the handle. Stop never fails: command errors are logged and
// cleanup always proceeds. Safe to call repeatedly and before any start.
func (s *Supervisor) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateReady && s.state != StateAttempting {
		// Nothing running and handles already cleared.
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	start := time.Now()
	s.stop(ctx)

	s.mu.Lock()
	s.state = StateStopped
	s.port = 0
	held := s.portsHeld
	s.portsHeld = false
	s.mu.Unlock()

	if held {
		s.ports.Release(s.ident)
	}
	s.metrics.StopDuration(s.name(), time.Since(start))
	s.event(diag.EventStopped, diag.Entry{})
	s.logger.Info("server stopped", "ident", s.ident)
}

// stop runs the shutdown sequence without changing the supervisor state.
// The retry loop calls it between attempts to reclaim partially-started
// resources; Stop wraps it for the terminal teardown.
func (s *Supervisor) stop(ctx context.Context) {
	s.runStopCommand(ctx)
	s.sleepGrace(ctx)

	s.mu.Lock()
	logPath := s.logPath
	tail := s.tail
	s.logPath = ""
	s.tail = nil
	s.mu.Unlock()

	if logPath != "" {
		if err := os.Remove(logPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("removing readiness log copy", "path", logPath, "error", err)
		}
	}
	if tail != nil {
		tail.Stop()
	}
}

// runStopCommand invokes the external stop command. It relies entirely on
// the environment for targeting: the identity tag confines it to this
// instance's server. Failures are logged, never escalated — shutdown
// always continues to local cleanup.
func (s *Supervisor) runStopCommand(ctx context.Context) {
	argv := strings.Fields(s.spec.Server.StopCommand)
	if len(argv) == 0 {
		return
	}

	s.logger.Info("running stop command", "ident", s.ident)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = s.env
	if s.spec.Server.WorkingDir != "" {
		cmd.Dir = s.spec.Server.WorkingDir
	}

	out, err := cmd.CombinedOutput()
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line != "" {
			s.buf.Append(line)
		}
	}
	if err != nil {
		s.logger.Warn("stop command failed", "error", err)
	}
}

// sleepGrace waits out the stop command's asynchronous effect. The command
// offers no exit confirmation, so this stays an approximate fixed wait.
func (s *Supervisor) sleepGrace(ctx context.Context) {
	grace := s.spec.Stop.GracePeriod.Duration
	if grace <= 0 {
		return
	}
	select {
	case <-time.After(grace):
	case <-ctx.Done():
	}
}

// ReleaseTail stops the log follower without touching the server. Callers
// that persist the handle and exit use it once readiness is confirmed; the
// server keeps running until a later Stop.
func (s *Supervisor) ReleaseTail() {
	s.mu.Lock()
	tail := s.tail
	s.tail = nil
	s.mu.Unlock()

	if tail != nil {
		tail.Stop()
	}
}
