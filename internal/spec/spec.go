package spec

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var serverNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// Tail follower modes.
const (
	TailModeProcess = "process" // spawn an external tail binary
	TailModeWatch   = "watch"   // follow the file in-process via fsnotify
)

// Defaults filled in by Normalize.
const (
	DefaultConfFlag      = "--conf"
	DefaultLogPathPrefix = "logging to "
	DefaultMaxAttempts   = 3
	DefaultTimeout       = time.Minute
	DefaultGracePeriod   = 3 * time.Second
	DefaultDirEnv        = "HERALD_RUN_DIR"
	DefaultTagEnv        = "HERALD_IDENT"
	DefaultTailCommand   = "tail"
)

// ServerSpec is the top-level structure describing a server under supervision.
type ServerSpec struct {
	Server    Server            `yaml:"server"`
	Launch    Launch            `yaml:"launch"`
	Readiness Readiness         `yaml:"readiness"`
	Retry     Retry             `yaml:"retry,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Identity  Identity          `yaml:"identity,omitempty"`
	Tail      Tail              `yaml:"tail,omitempty"`
	Stop      Stop              `yaml:"stop,omitempty"`
	Client    Client            `yaml:"client,omitempty"`
}

type Server struct {
	Name         string `yaml:"name"`
	StartCommand string `yaml:"start_command"`
	StopCommand  string `yaml:"stop_command"`
	WorkingDir   string `yaml:"working_dir,omitempty"`
}

// Launch controls how the start command line is assembled.
type Launch struct {
	Args      []string          `yaml:"args,omitempty"`      // positional args before conf pairs
	ConfFlag  string            `yaml:"conf_flag,omitempty"` // flag repeated per conf pair
	PortKey   string            `yaml:"port_key"`            // conf key that receives the attempt port
	Conf      map[string]string `yaml:"conf,omitempty"`      // fixed pairs: protocol, TLS, session mode
	Overrides map[string]string `yaml:"overrides,omitempty"` // caller pairs, appended last so they win
}

// Readiness describes how the server announces that it is up.
type Readiness struct {
	LogPathPrefix string   `yaml:"log_path_prefix,omitempty"` // bootstrap line prefix announcing the log path
	Markers       []string `yaml:"markers"`                   // literal, case-sensitive substrings
	Timeout       Duration `yaml:"timeout,omitempty"`
}

type Retry struct {
	Port        int `yaml:"port,omitempty"` // 0 = allocate from the shared range
	MaxAttempts int `yaml:"max_attempts,omitempty"`
}

// Identity names the environment variables that carry per-instance identity
// into the start and stop commands, so a stop targets only this instance.
type Identity struct {
	DirEnv string `yaml:"dir_env,omitempty"` // receives the scratch directory
	TagEnv string `yaml:"tag_env,omitempty"` // receives the identity tag
}

type Tail struct {
	Mode    string `yaml:"mode,omitempty"`
	Command string `yaml:"command,omitempty"` // tail binary for process mode
}

type Stop struct {
	GracePeriod Duration `yaml:"grace_period,omitempty"`
}

// Client names the launch conf keys that describe how callers should
// address the ready server. The supervisor never speaks the protocol; it
// only hands these values through as a connection descriptor.
type Client struct {
	Host    string `yaml:"host,omitempty"`     // defaults to 127.0.0.1
	ModeKey string `yaml:"mode_key,omitempty"` // conf key carrying the transport mode
	TLSKey  string `yaml:"tls_key,omitempty"`  // conf key carrying the TLS switch
}

// Duration wraps time.Duration for YAML unmarshaling from strings like "10s", "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Load reads, normalizes, and validates a server spec from a YAML file.
func Load(path string) (*ServerSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading spec %s: %w", path, err)
	}

	var spec ServerSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing spec %s: %w", path, err)
	}

	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("validating spec %s: %w", path, err)
	}

	return &spec, nil
}

// LoadDir reads all YAML server specs from a directory.
func LoadDir(dir string) ([]*ServerSpec, error) {
	entries, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("listing specs in %s: %w", dir, err)
	}

	// Also match .yml
	ymlEntries, err := filepath.Glob(filepath.Join(dir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("listing specs in %s: %w", dir, err)
	}
	entries = append(entries, ymlEntries...)

	var specs []*ServerSpec
	for _, path := range entries {
		spec, err := Load(path)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	return specs, nil
}

// Normalize fills in defaults for omitted fields. Safe to call more than once.
func (s *ServerSpec) Normalize() {
	if s.Launch.ConfFlag == "" {
		s.Launch.ConfFlag = DefaultConfFlag
	}
	if s.Readiness.LogPathPrefix == "" {
		s.Readiness.LogPathPrefix = DefaultLogPathPrefix
	}
	if s.Readiness.Timeout.Duration <= 0 {
		s.Readiness.Timeout = Duration{DefaultTimeout}
	}
	if s.Retry.MaxAttempts <= 0 {
		s.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if s.Identity.DirEnv == "" {
		s.Identity.DirEnv = DefaultDirEnv
	}
	if s.Identity.TagEnv == "" {
		s.Identity.TagEnv = DefaultTagEnv
	}
	if s.Tail.Mode == "" {
		s.Tail.Mode = TailModeProcess
	}
	if s.Tail.Command == "" {
		s.Tail.Command = DefaultTailCommand
	}
	if s.Stop.GracePeriod.Duration <= 0 {
		s.Stop.GracePeriod = Duration{DefaultGracePeriod}
	}
}

// NeedsDynamicPort returns true when the spec leaves the initial port at 0,
// indicating the supervisor should allocate one at runtime.
func (s *ServerSpec) NeedsDynamicPort() bool {
	return s.Retry.Port == 0
}

// Validate checks that a server spec is well-formed.
func (s *ServerSpec) Validate() error {
	if s.Server.Name == "" {
		return fmt.Errorf("server.name is required")
	}
	if !serverNameRe.MatchString(s.Server.Name) {
		return fmt.Errorf("server.name %q is invalid: must match ^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$", s.Server.Name)
	}
	if s.Server.StartCommand == "" {
		return fmt.Errorf("server.start_command is required")
	}
	if s.Server.StopCommand == "" {
		return fmt.Errorf("server.stop_command is required")
	}

	if s.Launch.PortKey == "" {
		return fmt.Errorf("launch.port_key is required")
	}
	for k := range s.Launch.Conf {
		if k == "" {
			return fmt.Errorf("launch.conf contains an empty key")
		}
	}
	for k := range s.Launch.Overrides {
		if k == "" {
			return fmt.Errorf("launch.overrides contains an empty key")
		}
	}

	if len(s.Readiness.Markers) == 0 {
		return fmt.Errorf("readiness.markers must list at least one marker")
	}
	for _, m := range s.Readiness.Markers {
		if m == "" {
			return fmt.Errorf("readiness.markers contains an empty marker")
		}
	}

	if s.Retry.Port < 0 || s.Retry.Port > 65535 {
		return fmt.Errorf("retry.port %d out of range", s.Retry.Port)
	}
	if s.Retry.Port > 0 && s.Retry.Port+s.Retry.MaxAttempts-1 > 65535 {
		return fmt.Errorf("retry.port %d leaves no room for %d attempts", s.Retry.Port, s.Retry.MaxAttempts)
	}

	switch s.Tail.Mode {
	case "", TailModeProcess, TailModeWatch:
		// ok
	default:
		return fmt.Errorf("tail.mode must be %q or %q, got %q", TailModeProcess, TailModeWatch, s.Tail.Mode)
	}

	return nil
}
