// Package tailer follows a growing log file, either through an external
// tail process or an in-process filesystem watcher.
package tailer

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Proc follows a file with an external tail binary. The process runs in its
// own process group so killing it cannot take out the caller.
type Proc struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser
	once   sync.Once
}

// StartProc spawns `command -n +1 -F path`, following the file from its
// first line so lines written before the tail started are not missed.
func StartProc(command, path string) (*Proc, error) {
	cmd := exec.Command(command, "-n", "+1", "-F", path)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("tail stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("tail stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting tail %s: %w", command, err)
	}

	return &Proc{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

// Stdout is the tail process's standard output stream.
func (p *Proc) Stdout() io.Reader { return p.stdout }

// Stderr is the tail process's standard error stream.
func (p *Proc) Stderr() io.Reader { return p.stderr }

// PID returns the tail process's PID.
func (p *Proc) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Stop terminates the tail process group and reaps the process in the
// background once its streams have drained. Safe to call more than once and
// after the process has already exited; readers of Stdout/Stderr see normal
// stream closure.
func (p *Proc) Stop() {
	p.once.Do(func() {
		if p.cmd.Process != nil {
			_ = unix.Kill(-p.cmd.Process.Pid, unix.SIGKILL)
		}
		go func() { _ = p.cmd.Wait() }()
	})
}
