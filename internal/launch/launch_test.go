package launch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/benaskins/herald/internal/diag"
)

func TestBuildArgsOrder(t *testing.T) {
	cfg := Config{
		Args:     []string{"--master", "local", "--driver-class-path", "/opt/lib"},
		ConfFlag: "--conf",
		PortKey:  "server.port",
		Conf: map[string]string{
			"server.tls":            "true",
			"server.protocol":       "binary",
			"server.single_session": "true",
		},
		Overrides: map[string]string{
			"server.protocol": "http",
		},
	}

	got := cfg.BuildArgs(10016)
	want := []string{
		"--master", "local", "--driver-class-path", "/opt/lib",
		"--conf", "server.port=10016",
		"--conf", "server.protocol=binary",
		"--conf", "server.single_session=true",
		"--conf", "server.tls=true",
		"--conf", "server.protocol=http",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildArgsOverridesAppendedLast(t *testing.T) {
	cfg := Config{
		ConfFlag:  "--conf",
		PortKey:   "port",
		Conf:      map[string]string{"mode": "binary"},
		Overrides: map[string]string{"mode": "http"},
	}

	args := cfg.BuildArgs(9000)
	modeIdx := -1
	for i, a := range args {
		if strings.HasPrefix(a, "mode=") {
			modeIdx = i
		}
	}
	if modeIdx < 0 || args[modeIdx] != "mode=http" {
		t.Errorf("expected final mode pair to be the override, got %v", args)
	}
}

func TestCommandSplitsStartCommand(t *testing.T) {
	cfg := Config{
		StartCommand: "/opt/server/sbin/start-server.sh --daemon",
		ConfFlag:     "--conf",
		PortKey:      "port",
	}

	got := cfg.Command(7000)
	want := []string{
		"/opt/server/sbin/start-server.sh", "--daemon",
		"--conf", "port=7000",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}
}

func TestEnvironOverridesAndIdentity(t *testing.T) {
	cfg := Config{
		Env: map[string]string{
			"SERVER_TESTING": "0",
			"SERVER_CI":      "1",
		},
		DirEnv: "RUN_DIR",
		TagEnv: "RUN_IDENT",
	}

	env := cfg.Environ("/tmp/scratch-1", "srv-abc123")

	var dir, tag, testing, ci string
	for _, kv := range env {
		switch {
		case strings.HasPrefix(kv, "RUN_DIR="):
			dir = strings.TrimPrefix(kv, "RUN_DIR=")
		case strings.HasPrefix(kv, "RUN_IDENT="):
			tag = strings.TrimPrefix(kv, "RUN_IDENT=")
		case strings.HasPrefix(kv, "SERVER_TESTING="):
			testing = strings.TrimPrefix(kv, "SERVER_TESTING=")
		case strings.HasPrefix(kv, "SERVER_CI="):
			ci = strings.TrimPrefix(kv, "SERVER_CI=")
		}
	}

	if dir != "/tmp/scratch-1" {
		t.Errorf("RUN_DIR = %q", dir)
	}
	if tag != "srv-abc123" {
		t.Errorf("RUN_IDENT = %q", tag)
	}
	if testing != "0" || ci != "1" {
		t.Errorf("env overrides not applied: SERVER_TESTING=%q SERVER_CI=%q", testing, ci)
	}
}

func TestEnvironAmbientWins(t *testing.T) {
	t.Setenv("HERALD_TEST_AMBIENT", "ambient")

	cfg := Config{Env: map[string]string{"HERALD_TEST_AMBIENT": "override"}}
	env := cfg.Environ("", "")

	// Configured overrides come after the ambient entry; the last one wins
	// when the command resolves its environment.
	last := ""
	for _, kv := range env {
		if strings.HasPrefix(kv, "HERALD_TEST_AMBIENT=") {
			last = strings.TrimPrefix(kv, "HERALD_TEST_AMBIENT=")
		}
	}
	if last != "override" {
		t.Errorf("expected configured value to come last, got %q", last)
	}
}

// writeScript drops an executable shell script into dir and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunCapturesCombinedOutput(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "boot.sh", `
echo "starting stub server"
echo "warning: slow disk" >&2
`)

	buf := diag.NewBuffer()
	l := NewLauncher(Config{Name: "stub", StartCommand: script, ConfFlag: "--conf", PortKey: "port"}, os.Environ(), buf)

	out, err := l.Run(context.Background(), l.NewAttempt(1, 10000))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out, "starting stub server") {
		t.Errorf("stdout missing from combined output: %q", out)
	}
	if !strings.Contains(out, "warning: slow disk") {
		t.Errorf("stderr missing from combined output: %q", out)
	}
}

func TestRunRecordsAttemptHeaderAndOutput(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "boot.sh", `echo "bootstrap line"`)

	buf := diag.NewBuffer()
	l := NewLauncher(Config{Name: "stub", StartCommand: script, ConfFlag: "--conf", PortKey: "port"}, os.Environ(), buf)

	if _, err := l.Run(context.Background(), l.NewAttempt(2, 10001)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	joined := buf.String()
	if !strings.Contains(joined, "attempt 2") || !strings.Contains(joined, "port 10001") {
		t.Errorf("attempt header missing: %q", joined)
	}
	if !strings.Contains(joined, script) {
		t.Errorf("command line missing from header: %q", joined)
	}
	if !strings.Contains(joined, "bootstrap line") {
		t.Errorf("bootstrap output not recorded: %q", joined)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "boot.sh", `
echo "address already in use"
exit 1
`)

	buf := diag.NewBuffer()
	l := NewLauncher(Config{Name: "stub", StartCommand: script, ConfFlag: "--conf", PortKey: "port"}, os.Environ(), buf)

	_, err := l.Run(context.Background(), l.NewAttempt(1, 10000))
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}

	var lerr *Error
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *launch.Error, got %T: %v", err, err)
	}
	if lerr.Port != 10000 {
		t.Errorf("error port = %d, want 10000", lerr.Port)
	}
	if !strings.Contains(lerr.Output, "address already in use") {
		t.Errorf("error output missing bootstrap text: %q", lerr.Output)
	}
}

func TestRunSpawnFailureStillLeavesTrace(t *testing.T) {
	buf := diag.NewBuffer()
	l := NewLauncher(Config{Name: "stub", StartCommand: "/nonexistent/bootstrap", ConfFlag: "--conf", PortKey: "port"}, os.Environ(), buf)

	_, err := l.Run(context.Background(), l.NewAttempt(1, 10000))
	var lerr *Error
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *launch.Error, got %T: %v", err, err)
	}

	if buf.Len() == 0 || !strings.Contains(buf.String(), "attempt 1") {
		t.Errorf("spawn failure left no attempt header: %q", buf.String())
	}
}

func TestRunPassesIdentityEnv(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "boot.sh", `echo "ident=$STUB_IDENT"`)

	cfg := Config{
		Name:         "stub",
		StartCommand: script,
		ConfFlag:     "--conf",
		PortKey:      "port",
		TagEnv:       "STUB_IDENT",
	}
	buf := diag.NewBuffer()
	l := NewLauncher(cfg, cfg.Environ("", "stub-xyz"), buf)

	out, err := l.Run(context.Background(), l.NewAttempt(1, 10000))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out, "ident=stub-xyz") {
		t.Errorf("identity tag not passed through env: %q", out)
	}
}
