package diag

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Event describes what happened during a launch.
type Event string

const (
	EventAttemptStarted Event = "attempt_started"
	EventAttemptFailed  Event = "attempt_failed"
	EventReady          Event = "ready"
	EventStopped        Event = "stopped"
)

// Entry is a single transcript record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Event     Event     `json:"event"`
	Server    string    `json:"server,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Port      int       `json:"port,omitempty"`
	LogPath   string    `json:"log_path,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Transcript writes launch events to an append-only file as
// newline-delimited JSON. It survives the supervising process, so a later
// invocation can reconstruct what happened.
type Transcript struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewTranscript creates or opens a transcript file for appending.
func NewTranscript(path string) (*Transcript, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening transcript: %w", err)
	}
	return &Transcript{file: f, path: path}, nil
}

// Record writes one transcript entry.
func (t *Transcript) Record(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling transcript entry: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing transcript entry: %w", err)
	}
	return nil
}

// Close closes the transcript file.
func (t *Transcript) Close() error {
	return t.file.Close()
}

// ReadTranscript loads all entries from a transcript file.
func ReadTranscript(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening transcript: %w", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("parsing transcript entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	return entries, nil
}
