package spec

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadValidSpec(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	data := `
server:
  name: gateway
  start_command: ./sbin/start-gateway.sh
  stop_command: ./sbin/stop-gateway.sh
  working_dir: /opt/gateway

launch:
  args: ["--master", "local[2]", "--driver-class-path", "build/libs"]
  conf_flag: "--conf"
  port_key: gateway.bind.port
  conf:
    gateway.protocol.version: "2"
    gateway.tls.enabled: "true"
    gateway.session.single: "true"
    gateway.http.enabled: "false"
  overrides:
    gateway.scratch.dir: /tmp/gw

readiness:
  log_path_prefix: "logging to "
  markers:
    - "Service started on port"
    - "Gateway ready to accept connections"
  timeout: 90s

retry:
  port: 10000
  max_attempts: 5

env:
  GATEWAY_TESTING: "0"
  GATEWAY_PREFLIGHT: "1"

identity:
  dir_env: GATEWAY_PID_DIR
  tag_env: GATEWAY_IDENT_STRING

tail:
  mode: watch

stop:
  grace_period: 2s
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	spec, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if spec.Server.Name != "gateway" {
		t.Errorf("expected name 'gateway', got %q", spec.Server.Name)
	}
	if spec.Server.StartCommand != "./sbin/start-gateway.sh" {
		t.Errorf("unexpected start command %q", spec.Server.StartCommand)
	}
	if spec.Server.StopCommand != "./sbin/stop-gateway.sh" {
		t.Errorf("unexpected stop command %q", spec.Server.StopCommand)
	}
	if spec.Server.WorkingDir != "/opt/gateway" {
		t.Errorf("unexpected working dir %q", spec.Server.WorkingDir)
	}

	wantArgs := []string{"--master", "local[2]", "--driver-class-path", "build/libs"}
	if diff := cmp.Diff(wantArgs, spec.Launch.Args); diff != "" {
		t.Errorf("launch args mismatch (-want +got):\n%s", diff)
	}
	if spec.Launch.PortKey != "gateway.bind.port" {
		t.Errorf("unexpected port key %q", spec.Launch.PortKey)
	}
	wantConf := map[string]string{
		"gateway.protocol.version": "2",
		"gateway.tls.enabled":      "true",
		"gateway.session.single":   "true",
		"gateway.http.enabled":     "false",
	}
	if diff := cmp.Diff(wantConf, spec.Launch.Conf); diff != "" {
		t.Errorf("launch conf mismatch (-want +got):\n%s", diff)
	}
	if spec.Launch.Overrides["gateway.scratch.dir"] != "/tmp/gw" {
		t.Errorf("unexpected overrides: %v", spec.Launch.Overrides)
	}

	if len(spec.Readiness.Markers) != 2 {
		t.Fatalf("expected 2 markers, got %d", len(spec.Readiness.Markers))
	}
	if spec.Readiness.Timeout.Duration != 90*time.Second {
		t.Errorf("expected timeout 90s, got %v", spec.Readiness.Timeout.Duration)
	}

	if spec.Retry.Port != 10000 {
		t.Errorf("expected port 10000, got %d", spec.Retry.Port)
	}
	if spec.Retry.MaxAttempts != 5 {
		t.Errorf("expected max_attempts 5, got %d", spec.Retry.MaxAttempts)
	}

	if spec.Env["GATEWAY_TESTING"] != "0" {
		t.Errorf("expected env GATEWAY_TESTING='0', got %q", spec.Env["GATEWAY_TESTING"])
	}
	if spec.Identity.DirEnv != "GATEWAY_PID_DIR" {
		t.Errorf("unexpected dir_env %q", spec.Identity.DirEnv)
	}
	if spec.Identity.TagEnv != "GATEWAY_IDENT_STRING" {
		t.Errorf("unexpected tag_env %q", spec.Identity.TagEnv)
	}
	if spec.Tail.Mode != TailModeWatch {
		t.Errorf("expected tail mode watch, got %q", spec.Tail.Mode)
	}
	if spec.Stop.GracePeriod.Duration != 2*time.Second {
		t.Errorf("expected grace 2s, got %v", spec.Stop.GracePeriod.Duration)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	s := &ServerSpec{
		Server: Server{
			Name:         "minimal",
			StartCommand: "./start.sh",
			StopCommand:  "./stop.sh",
		},
		Launch:    Launch{PortKey: "srv.port"},
		Readiness: Readiness{Markers: []string{"ready"}},
	}
	s.Normalize()

	if s.Launch.ConfFlag != "--conf" {
		t.Errorf("expected conf flag default '--conf', got %q", s.Launch.ConfFlag)
	}
	if s.Readiness.LogPathPrefix != "logging to " {
		t.Errorf("expected log path prefix default, got %q", s.Readiness.LogPathPrefix)
	}
	if s.Readiness.Timeout.Duration != time.Minute {
		t.Errorf("expected timeout default 1m, got %v", s.Readiness.Timeout.Duration)
	}
	if s.Retry.MaxAttempts != 3 {
		t.Errorf("expected max_attempts default 3, got %d", s.Retry.MaxAttempts)
	}
	if s.Identity.DirEnv != "HERALD_RUN_DIR" || s.Identity.TagEnv != "HERALD_IDENT" {
		t.Errorf("unexpected identity defaults: %+v", s.Identity)
	}
	if s.Tail.Mode != TailModeProcess {
		t.Errorf("expected tail mode default process, got %q", s.Tail.Mode)
	}
	if s.Tail.Command != "tail" {
		t.Errorf("expected tail command default, got %q", s.Tail.Command)
	}
	if s.Stop.GracePeriod.Duration != 3*time.Second {
		t.Errorf("expected grace default 3s, got %v", s.Stop.GracePeriod.Duration)
	}

	if !s.NeedsDynamicPort() {
		t.Error("port 0 should request dynamic allocation")
	}
}

func validBase() ServerSpec {
	s := ServerSpec{
		Server: Server{
			Name:         "test",
			StartCommand: "./start.sh",
			StopCommand:  "./stop.sh",
		},
		Launch:    Launch{PortKey: "srv.port"},
		Readiness: Readiness{Markers: []string{"ready"}},
	}
	s.Normalize()
	return s
}

func TestValidateRequiresServerName(t *testing.T) {
	s := validBase()
	s.Server.Name = ""
	if err := s.Validate(); err == nil {
		t.Error("expected error for missing server name")
	}
}

func TestValidateRejectsBadServerName(t *testing.T) {
	s := validBase()
	s.Server.Name = "bad name with spaces"
	if err := s.Validate(); err == nil {
		t.Error("expected error for invalid server name")
	}
}

func TestValidateRequiresCommands(t *testing.T) {
	s := validBase()
	s.Server.StartCommand = ""
	if err := s.Validate(); err == nil {
		t.Error("expected error for missing start command")
	}

	s = validBase()
	s.Server.StopCommand = ""
	if err := s.Validate(); err == nil {
		t.Error("expected error for missing stop command")
	}
}

func TestValidateRequiresPortKey(t *testing.T) {
	s := validBase()
	s.Launch.PortKey = ""
	if err := s.Validate(); err == nil {
		t.Error("expected error for missing port key")
	}
}

func TestValidateRequiresMarkers(t *testing.T) {
	s := validBase()
	s.Readiness.Markers = nil
	if err := s.Validate(); err == nil {
		t.Error("expected error for missing markers")
	}

	s = validBase()
	s.Readiness.Markers = []string{"ready", ""}
	if err := s.Validate(); err == nil {
		t.Error("expected error for empty marker")
	}
}

func TestValidatePortRange(t *testing.T) {
	s := validBase()
	s.Retry.Port = 70000
	if err := s.Validate(); err == nil {
		t.Error("expected error for out-of-range port")
	}

	s = validBase()
	s.Retry.Port = 65534
	s.Retry.MaxAttempts = 5
	if err := s.Validate(); err == nil {
		t.Error("expected error when retries would overflow the port space")
	}
}

func TestValidateRejectsInvalidTailMode(t *testing.T) {
	s := validBase()
	s.Tail.Mode = "poll"
	if err := s.Validate(); err == nil {
		t.Error("expected error for invalid tail mode")
	}
}

func TestLoadRejectsInvalidSpec(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	data := `
server:
  name: broken
  start_command: ./start.sh
  stop_command: ./stop.sh
launch:
  port_key: srv.port
readiness:
  markers: []
`
	os.WriteFile(path, []byte(data), 0644)

	if _, err := Load(path); err == nil {
		t.Error("expected validation error for empty markers")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()

	gateway := `
server:
  name: gateway
  start_command: ./start.sh
  stop_command: ./stop.sh
launch:
  port_key: gw.port
readiness:
  markers: ["ready"]
`
	registry := `
server:
  name: registry
  start_command: ./start-registry.sh
  stop_command: ./stop-registry.sh
launch:
  port_key: reg.port
readiness:
  markers: ["listening"]
`
	os.WriteFile(filepath.Join(dir, "gateway.yaml"), []byte(gateway), 0644)
	os.WriteFile(filepath.Join(dir, "registry.yml"), []byte(registry), 0644)

	specs, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}

	names := map[string]bool{}
	for _, s := range specs {
		names[s.Server.Name] = true
	}
	if !names["gateway"] || !names["registry"] {
		t.Errorf("expected gateway and registry, got %v", names)
	}
}

func TestDurationUnmarshal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.yaml")
	data := `
server:
  name: t
  start_command: ./start.sh
  stop_command: ./stop.sh
launch:
  port_key: p
readiness:
  markers: ["ok"]
  timeout: 250ms
`
	os.WriteFile(path, []byte(data), 0644)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Readiness.Timeout.Duration != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", s.Readiness.Timeout.Duration)
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.yaml")
	data := `
server:
  name: t
  start_command: ./start.sh
  stop_command: ./stop.sh
launch:
  port_key: p
readiness:
  markers: ["ok"]
  timeout: soon
`
	os.WriteFile(path, []byte(data), 0644)

	if _, err := Load(path); err == nil {
		t.Error("expected error for unparseable duration")
	}
}
