package supervisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benaskins/herald/internal/spec"
)

// Record is the persisted handle of a running server: enough for a later
// herald invocation to find, probe, and stop it.
type Record struct {
	Name       string `json:"name"`
	Ident      string `json:"ident"`
	Port       int    `json:"port"`
	LogPath    string `json:"log_path,omitempty"`
	ScratchDir string `json:"scratch_dir,omitempty"`
	SpecPath   string `json:"spec_path,omitempty"`
	StartedAt  int64  `json:"started_at,omitempty"` // Unix timestamp
}

// Record builds the persistable handle for a ready server. specPath is
// stored so a later invocation can reload the stop configuration.
func (s *Supervisor) Record(specPath string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{
		Name:       s.name(),
		Ident:      s.ident,
		Port:       s.port,
		LogPath:    s.logPath,
		ScratchDir: s.scratchDir,
		SpecPath:   specPath,
	}
	if !s.readyAt.IsZero() {
		rec.StartedAt = s.readyAt.Unix()
	}
	return rec
}

// Resume rebuilds a stoppable supervisor from a persisted record. The log
// follower did not survive the recording process, so only the shutdown
// sequence remains meaningful.
func Resume(sp *spec.ServerSpec, rec Record, opts ...Option) *Supervisor {
	s := New(sp, opts...)
	s.ident = rec.Ident
	s.scratchDir = rec.ScratchDir
	s.env = s.launchConfig().Environ(rec.ScratchDir, rec.Ident)
	s.state = StateReady
	s.port = rec.Port
	s.logPath = rec.LogPath
	if rec.StartedAt > 0 {
		s.readyAt = time.Unix(rec.StartedAt, 0)
	}
	return s
}

// StateFile persists records for every server started from one state
// directory. Writes go through a temp file and rename so a crash never
// leaves a torn file.
type StateFile struct {
	path string
	mu   sync.Mutex
}

// NewStateFile manages records in dir/state.json.
func NewStateFile(dir string) *StateFile {
	return &StateFile{path: filepath.Join(dir, "state.json")}
}

// Load returns all records, or nil if no state has been written yet.
func (sf *StateFile) Load() (map[string]Record, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.loadLocked()
}

// Get returns the record for one server.
func (sf *StateFile) Get(name string) (Record, bool, error) {
	records, err := sf.Load()
	if err != nil {
		return Record{}, false, err
	}
	rec, ok := records[name]
	return rec, ok, nil
}

// Set writes or replaces the record for one server.
func (sf *StateFile) Set(name string, rec Record) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	records, err := sf.loadLocked()
	if err != nil {
		return err
	}
	if records == nil {
		records = make(map[string]Record)
	}
	records[name] = rec
	return sf.saveLocked(records)
}

// Remove deletes the record for one server. Removing an absent record is
// not an error.
func (sf *StateFile) Remove(name string) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	records, err := sf.loadLocked()
	if err != nil {
		return err
	}
	if _, ok := records[name]; !ok {
		return nil
	}
	delete(records, name)
	return sf.saveLocked(records)
}

// loadLocked reads without locking — caller must hold sf.mu.
func (sf *StateFile) loadLocked() (map[string]Record, error) {
	data, err := os.ReadFile(sf.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var records map[string]Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	return records, nil
}

func (sf *StateFile) saveLocked(records map[string]Record) error {
	if err := os.MkdirAll(filepath.Dir(sf.path), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := sf.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, sf.path)
}
