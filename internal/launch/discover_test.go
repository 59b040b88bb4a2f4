package launch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverLogPath(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		prefix  string
		want    string
		wantErr bool
	}{
		{
			name:   "marker line",
			output: "starting server\nstarting stub-server, logging to /tmp/stub/server.log\ndone",
			prefix: "logging to ",
			want:   "/tmp/stub/server.log",
		},
		{
			name:   "marker mid-line",
			output: "2024-01-01 INFO launcher: logging to /var/log/s.log",
			prefix: "logging to ",
			want:   "/var/log/s.log",
		},
		{
			name:   "trailing whitespace trimmed",
			output: "logging to /tmp/a.log   ",
			prefix: "logging to ",
			want:   "/tmp/a.log",
		},
		{
			name:   "first match wins",
			output: "logging to /tmp/first.log\nlogging to /tmp/second.log",
			prefix: "logging to ",
			want:   "/tmp/first.log",
		},
		{
			name:    "no marker",
			output:  "starting server\nserver started",
			prefix:  "logging to ",
			wantErr: true,
		},
		{
			name:    "marker with empty remainder",
			output:  "logging to ",
			prefix:  "logging to ",
			wantErr: true,
		},
		{
			name:    "empty output",
			output:  "",
			prefix:  "logging to ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiscoverLogPath(tt.output, tt.prefix)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got path %q", got)
				}
				var perr *LogPathError
				if !errors.As(err, &perr) {
					t.Errorf("expected *LogPathError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("path = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEnsureLogFileCreates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")

	if err := EnsureLogFile(path); err != nil {
		t.Fatalf("EnsureLogFile: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("expected empty file, got %d bytes", info.Size())
	}
}

func TestEnsureLogFilePreservesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	if err := os.WriteFile(path, []byte("already written\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := EnsureLogFile(path); err != nil {
		t.Fatalf("EnsureLogFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "already written\n" {
		t.Errorf("existing content clobbered: %q", data)
	}
}

func TestEnsureLogFileMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no-such-dir", "server.log")
	if err := EnsureLogFile(path); err == nil {
		t.Error("expected error for missing parent directory")
	}
}
