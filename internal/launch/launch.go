// Package launch runs the bootstrap command that brings up the server and
// locates the server's own log file in the bootstrap output.
//
// The bootstrap is expected to be short-lived: it daemonizes the real server
// and exits, so its combined output is captured synchronously. Readiness is
// detected later by tailing the log file it announces.
package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/benaskins/herald/internal/diag"
)

// Config describes how to assemble and run the bootstrap command.
type Config struct {
	Name         string            // server name, for logging
	StartCommand string            // bootstrap executable, may include leading args
	WorkingDir   string
	Args         []string          // base argv, before conf pairs
	ConfFlag     string            // flag repeated per conf pair, e.g. "--conf"
	PortKey      string            // conf key that receives the attempt port
	Conf         map[string]string // fixed pairs: protocol, TLS, session mode
	Overrides    map[string]string // caller pairs, appended last so they win
	Env          map[string]string // extra environment for the command
	DirEnv       string            // env var name that receives the scratch dir
	TagEnv       string            // env var name that receives the identity tag
}

// BuildArgs returns the full argument list for a launch on the given port:
// the base args, then the port pair, then fixed conf pairs, then overrides.
// Map-derived pairs are emitted in sorted key order so the command line is
// stable across runs.
func (c Config) BuildArgs(port int) []string {
	args := make([]string, 0, len(c.Args)+2*(len(c.Conf)+len(c.Overrides)+1))
	args = append(args, c.Args...)

	pair := func(k, v string) {
		args = append(args, c.ConfFlag, k+"="+v)
	}

	pair(c.PortKey, strconv.Itoa(port))
	for _, k := range sortedKeys(c.Conf) {
		pair(k, c.Conf[k])
	}
	for _, k := range sortedKeys(c.Overrides) {
		pair(k, c.Overrides[k])
	}
	return args
}

// Command returns the executable and full argument list for a launch on the
// given port. The start command itself may carry leading arguments.
func (c Config) Command(port int) []string {
	cmd := strings.Fields(c.StartCommand)
	return append(cmd, c.BuildArgs(port)...)
}

// Environ builds the bootstrap environment: the ambient environment, then
// the configured overrides, then the per-instance identity variables. Later
// entries win, so identity always sticks.
func (c Config) Environ(scratchDir, tag string) []string {
	env := os.Environ()
	for _, k := range sortedKeys(c.Env) {
		env = append(env, k+"="+c.Env[k])
	}
	if c.DirEnv != "" && scratchDir != "" {
		env = append(env, c.DirEnv+"="+scratchDir)
	}
	if c.TagEnv != "" && tag != "" {
		env = append(env, c.TagEnv+"="+tag)
	}
	return env
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Attempt is the immutable per-attempt state carried through the retry loop.
type Attempt struct {
	Number    int
	Port      int
	Command   []string
	StartedAt time.Time
}

// Error reports a bootstrap that could not be spawned or exited abnormally.
type Error struct {
	Name   string
	Port   int
	Output string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("bootstrap for %s failed on port %d: %v", e.Name, e.Port, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Launcher runs the bootstrap for successive attempts, recording everything
// it sees in the diagnosis buffer.
type Launcher struct {
	cfg    Config
	env    []string
	buf    *diag.Buffer
	logger *slog.Logger
}

// NewLauncher creates a launcher. env is the complete environment for the
// bootstrap (see Config.Environ); buf receives the attempt header and every
// line of bootstrap output.
func NewLauncher(cfg Config, env []string, buf *diag.Buffer) *Launcher {
	return &Launcher{
		cfg:    cfg,
		env:    env,
		buf:    buf,
		logger: slog.With("component", "launch", "server", cfg.Name),
	}
}

// NewAttempt builds the immutable state for one launch attempt.
func (l *Launcher) NewAttempt(number, port int) Attempt {
	return Attempt{
		Number:    number,
		Port:      port,
		Command:   l.cfg.Command(port),
		StartedAt: time.Now(),
	}
}

// Run starts the bootstrap and returns its combined stdout+stderr once it
// exits. The attempt header is recorded before spawning, so even a failure
// to spawn leaves a trace in the diagnostics.
func (l *Launcher) Run(ctx context.Context, att Attempt) (string, error) {
	l.buf.Appendf("=== attempt %d: starting %s on port %d", att.Number, l.cfg.Name, att.Port)
	l.buf.Appendf("$ %s", strings.Join(att.Command, " "))

	l.logger.Info("starting bootstrap", "attempt", att.Number, "port", att.Port)

	cmd := exec.CommandContext(ctx, att.Command[0], att.Command[1:]...)
	cmd.Env = l.env
	if l.cfg.WorkingDir != "" {
		cmd.Dir = l.cfg.WorkingDir
	}

	// The bootstrap runs in its own process group so a context cancel can
	// take out anything it spawned, and WaitDelay lets CombinedOutput
	// return once the bootstrap itself exits even when the daemonized
	// server inherited its pipes and keeps them open.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	out, err := cmd.CombinedOutput()
	if errors.Is(err, exec.ErrWaitDelay) {
		err = nil
	}
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line != "" {
			l.buf.Append(line)
		}
	}

	if err != nil {
		l.buf.Appendf("bootstrap failed: %v", err)
		return string(out), &Error{
			Name:   l.cfg.Name,
			Port:   att.Port,
			Output: string(out),
			Err:    err,
		}
	}
	return string(out), nil
}
