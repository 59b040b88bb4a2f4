// Package supervisor brings up an external server whose readiness can only
// be observed in its growing log file, and tears it down again.
//
// A single control goroutine drives the launch attempts sequentially: run
// the bootstrap, discover the server's log file, tail it, and wait for a
// readiness marker. Port contention is handled by retrying on the next
// port up. Everything captured along the way is kept for a postmortem
// report that is only emitted if every attempt fails.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/benaskins/herald/internal/capture"
	"github.com/benaskins/herald/internal/diag"
	"github.com/benaskins/herald/internal/launch"
	"github.com/benaskins/herald/internal/port"
	"github.com/benaskins/herald/internal/spec"
	"github.com/benaskins/herald/internal/tailer"
)

// State is the externally-visible lifecycle state of a supervisor.
type State string

const (
	StateIdle       State = "idle"
	StateAttempting State = "attempting"
	StateReady      State = "ready"
	StateFailed     State = "failed"
	StateStopped    State = "stopped"
)

// Dynamic port range shared by every supervisor in the process.
const (
	defaultPortMin = 20000
	defaultPortMax = 32000
)

var defaultPorts = port.NewAllocator(defaultPortMin, defaultPortMax)

// follower is the running log follower for one attempt: an external tail
// process or an in-process watcher.
type follower interface {
	Stop()
}

// Supervisor manages one external server through its full lifecycle. The
// control thread owns the handle fields; capturer goroutines only feed the
// diagnosis buffer.
type Supervisor struct {
	spec    *spec.ServerSpec
	buf     *diag.Buffer
	metrics Collector
	trans   *diag.Transcript
	ports   *port.Allocator
	logger  *slog.Logger

	ident      string
	scratchDir string
	env        []string
	launcher   *launch.Launcher

	mu        sync.Mutex
	state     State
	attempts  int
	port      int
	logPath   string
	tail      follower
	readyAt   time.Time
	lastErr   error
	portsHeld bool
}

// New creates a supervisor for a normalized, validated server spec (see
// spec.Load). Each supervisor gets a unique identity tag so concurrent
// instances of the same server never interfere with each other's stop
// commands.
func New(sp *spec.ServerSpec, opts ...Option) *Supervisor {
	s := &Supervisor{
		spec:    sp,
		buf:     diag.NewBuffer(),
		metrics: NewNoopCollector(),
		ports:   defaultPorts,
		ident:   sp.Server.Name + "-" + uuid.NewString()[:8],
		state:   StateIdle,
		logger:  slog.With("component", "supervisor", "server", sp.Server.Name),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the server and blocks until its log announces readiness,
// retrying with the next port up after each failed attempt. On success the
// handle's port and log path reflect the attempt that succeeded. After the
// last attempt fails, the accumulated diagnostics are dumped and the final
// attempt's failure is returned unchanged, so callers can inspect its kind
// with errors.As.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateAttempting || s.state == StateReady {
		s.mu.Unlock()
		return fmt.Errorf("server %s already started", s.name())
	}
	s.state = StateAttempting
	s.attempts = 0
	s.lastErr = nil
	s.mu.Unlock()

	if err := s.prepare(); err != nil {
		s.fail(err)
		return err
	}
	targetPort, err := s.initialPort()
	if err != nil {
		s.fail(err)
		return err
	}

	maxAttempts := s.spec.Retry.MaxAttempts
	var lastErr error

	for n := 1; n <= maxAttempts; n++ {
		att := s.launcher.NewAttempt(n, targetPort)
		s.mu.Lock()
		s.attempts = n
		s.mu.Unlock()

		s.metrics.AttemptStarted(s.name(), n, targetPort)
		s.event(diag.EventAttemptStarted, diag.Entry{Attempt: n, Port: targetPort})

		err := s.attempt(ctx, att)
		if err == nil {
			s.mu.Lock()
			s.state = StateReady
			s.port = targetPort
			s.readyAt = time.Now()
			logPath := s.logPath
			s.mu.Unlock()

			s.metrics.ServerReady(s.name(), n, time.Since(att.StartedAt))
			s.event(diag.EventReady, diag.Entry{Attempt: n, Port: targetPort, LogPath: logPath})
			s.logger.Info("server ready", "attempt", n, "port", targetPort, "log", logPath)
			return nil
		}

		lastErr = err
		s.metrics.AttemptFailed(s.name(), FailureKind(err))
		s.event(diag.EventAttemptFailed, diag.Entry{Attempt: n, Port: targetPort, Error: err.Error()})
		s.logger.Warn("attempt failed", "attempt", n, "port", targetPort,
			"kind", FailureKind(err), "error", err)

		// Reclaim whatever the failed attempt left behind before moving on.
		s.stop(context.Background())

		if ctx.Err() != nil {
			s.fail(ctx.Err())
			return ctx.Err()
		}
		targetPort++
	}

	s.fail(lastErr)
	s.dumpDiagnostics(lastErr)
	return lastErr
}

// attempt runs one launch cycle: bootstrap, log discovery, tail spawn,
// readiness wait. Any failure aborts the attempt; the caller reclaims
// resources and decides whether to retry.
func (s *Supervisor) attempt(ctx context.Context, att launch.Attempt) error {
	out, err := s.launcher.Run(ctx, att)
	if err != nil {
		return err
	}

	logPath, err := launch.DiscoverLogPath(out, s.spec.Readiness.LogPathPrefix)
	if err != nil {
		s.buf.Appendf("no log path marker in bootstrap output (prefix %q)", s.spec.Readiness.LogPathPrefix)
		return err
	}
	// The server creates its log lazily; make sure the tail has a file.
	if err := launch.EnsureLogFile(logPath); err != nil {
		return err
	}
	s.mu.Lock()
	s.logPath = logPath
	s.mu.Unlock()

	det := capture.NewDetector(s.sink, s.spec.Readiness.Markers)
	tail, err := s.startTail(logPath, det)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.tail = tail
	s.mu.Unlock()

	timeout := s.spec.Readiness.Timeout.Duration
	s.logger.Info("waiting for readiness marker", "attempt", att.Number, "log", logPath, "timeout", timeout)

	select {
	case <-det.Ready():
		return nil
	case <-time.After(timeout):
		return &ReadinessError{Name: s.name(), Port: att.Port, LogPath: logPath, Timeout: timeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startTail begins following the server log, feeding each line to the
// detector. Process mode tails with an external binary and captures both
// of its streams; watch mode follows the file in-process.
func (s *Supervisor) startTail(logPath string, det *capture.Detector) (follower, error) {
	if s.spec.Tail.Mode == spec.TailModeWatch {
		w, err := tailer.StartWatcher(logPath, det.Line)
		if err != nil {
			return nil, fmt.Errorf("watching log %s: %w", logPath, err)
		}
		return w, nil
	}

	p, err := tailer.StartProc(s.spec.Tail.Command, logPath)
	if err != nil {
		return nil, fmt.Errorf("tailing log %s: %w", logPath, err)
	}
	capture.Lines(p.Stdout(), det.Line)
	capture.Lines(p.Stderr(), det.Line)
	return p, nil
}

// sink is the shared per-line callback behind every capturer.
func (s *Supervisor) sink(line string) {
	s.buf.Append(line)
	s.metrics.LineCaptured(s.name())
}

// prepare creates the per-instance scratch directory and builds the
// command environment and launcher. Runs once; restarts reuse them.
func (s *Supervisor) prepare() error {
	if s.scratchDir == "" {
		dir, err := os.MkdirTemp("", "herald-"+s.name()+"-")
		if err != nil {
			return fmt.Errorf("creating scratch dir: %w", err)
		}
		s.scratchDir = dir
	}
	cfg := s.launchConfig()
	s.env = cfg.Environ(s.scratchDir, s.ident)
	s.launcher = launch.NewLauncher(cfg, s.env, s.buf)
	return nil
}

// initialPort resolves the first attempt's port: the spec's pinned port,
// or a window from the allocator wide enough for every retry.
func (s *Supervisor) initialPort() (int, error) {
	if p := s.spec.Retry.Port; p > 0 {
		return p, nil
	}
	base, err := s.ports.Allocate(s.ident, s.spec.Retry.MaxAttempts)
	if err != nil {
		return 0, fmt.Errorf("allocating port for %s: %w", s.name(), err)
	}
	s.mu.Lock()
	s.portsHeld = true
	s.mu.Unlock()
	return base, nil
}

func (s *Supervisor) launchConfig() launch.Config {
	sp := s.spec
	return launch.Config{
		Name:         sp.Server.Name,
		StartCommand: sp.Server.StartCommand,
		WorkingDir:   sp.Server.WorkingDir,
		Args:         sp.Launch.Args,
		ConfFlag:     sp.Launch.ConfFlag,
		PortKey:      sp.Launch.PortKey,
		Conf:         sp.Launch.Conf,
		Overrides:    sp.Launch.Overrides,
		Env:          sp.Env,
		DirEnv:       sp.Identity.DirEnv,
		TagEnv:       sp.Identity.TagEnv,
	}
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	s.state = StateFailed
	s.lastErr = err
	s.mu.Unlock()
}

// event records a transcript entry if a transcript is attached.
func (s *Supervisor) event(ev diag.Event, e diag.Entry) {
	if s.trans == nil {
		return
	}
	e.Event = ev
	e.Server = s.name()
	if err := s.trans.Record(e); err != nil {
		s.logger.Debug("transcript write failed", "error", err)
	}
}

// dumpDiagnostics flushes everything captured across attempts into a
// single error-level report. Transient, self-healing retries stay quiet;
// only exhaustion surfaces the full log.
func (s *Supervisor) dumpDiagnostics(err error) {
	s.logger.Error("all launch attempts failed",
		"attempts", s.spec.Retry.MaxAttempts,
		"kind", FailureKind(err),
		"error", err,
		"captured", "\n"+s.buf.String())
}

func (s *Supervisor) name() string { return s.spec.Server.Name }

// Status is a point-in-time snapshot of a supervisor.
type Status struct {
	Name      string `json:"name"`
	Ident     string `json:"ident,omitempty"`
	State     State  `json:"state"`
	Port      int    `json:"port,omitempty"`
	LogPath   string `json:"log_path,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Uptime    string `json:"uptime,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Status returns the current snapshot.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Name:     s.name(),
		Ident:    s.ident,
		State:    s.state,
		Port:     s.port,
		LogPath:  s.logPath,
		Attempts: s.attempts,
	}
	if s.state == StateReady && !s.readyAt.IsZero() {
		st.Uptime = time.Since(s.readyAt).Truncate(time.Second).String()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Port returns the listening port of the ready server, or 0.
func (s *Supervisor) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// LogPath returns the discovered server log path, or "".
func (s *Supervisor) LogPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logPath
}

// Ident returns the identity tag that scopes the stop command to this
// instance.
func (s *Supervisor) Ident() string { return s.ident }

// ScratchDir returns the per-instance scratch directory, or "" before the
// first start.
func (s *Supervisor) ScratchDir() string { return s.scratchDir }

// Diagnostics returns the last n captured lines, or all of them when
// n <= 0.
func (s *Supervisor) Diagnostics(n int) []string {
	if n <= 0 {
		return s.buf.Lines()
	}
	return s.buf.Last(n)
}

// Descriptor is the opaque connection info handed to callers once the
// server is ready. The supervisor never speaks the server's protocol;
// callers pass the descriptor to their own client library.
type Descriptor struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Mode string `json:"mode,omitempty"`
	TLS  bool   `json:"tls,omitempty"`
}

// Descriptor derives connection info from the ready port and the launch
// configuration the server was started with.
func (s *Supervisor) Descriptor() Descriptor {
	d := Descriptor{Host: s.spec.Client.Host, Port: s.Port()}
	if d.Host == "" {
		d.Host = "127.0.0.1"
	}
	if k := s.spec.Client.ModeKey; k != "" {
		d.Mode = s.ConfValue(k)
	}
	if k := s.spec.Client.TLSKey; k != "" {
		d.TLS, _ = strconv.ParseBool(s.ConfValue(k))
	}
	return d
}

// ConfValue returns the effective launch configuration value for a key,
// with caller overrides winning over fixed pairs.
func (s *Supervisor) ConfValue(key string) string {
	if v, ok := s.spec.Launch.Overrides[key]; ok {
		return v
	}
	return s.spec.Launch.Conf[key]
}
