package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/benaskins/herald/internal/config"
)

// heraldHome returns the path to the herald home directory (~/.herald).
func heraldHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".herald"), nil
}

// defaultStateDir resolves where run records and transcripts live: the
// configured override, or ~/.herald/run.
func defaultStateDir() string {
	if cfg, err := config.Load(config.DefaultPath()); err == nil && cfg.StateDir != "" {
		return cfg.StateDir
	}
	dir, err := heraldHome()
	if err != nil {
		return filepath.Join(os.TempDir(), "herald")
	}
	return filepath.Join(dir, "run")
}

// defaultSpecDir returns the default location for server spec files.
func defaultSpecDir() string {
	dir, err := heraldHome()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "servers")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
