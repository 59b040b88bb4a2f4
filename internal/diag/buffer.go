// Package diag accumulates captured server output and launch events for
// postmortem reporting.
//
// The buffer is append-only and survives across launch attempts, so a
// failure report after the last attempt still shows every line that led
// up to it.
package diag

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
)

// Buffer is a thread-safe, append-only line store.
type Buffer struct {
	mu    sync.Mutex
	lines []string
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append records one line.
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
}

// Appendf records one formatted line.
func (b *Buffer) Appendf(format string, args ...any) {
	b.Append(fmt.Sprintf(format, args...))
}

// Lines returns a copy of all recorded lines, oldest first.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Last returns the last n lines. If fewer lines exist, returns all of them.
func (b *Buffer) Last(n int) []string {
	all := b.Lines()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Len returns the number of recorded lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// String joins all recorded lines with newlines.
func (b *Buffer) String() string {
	return strings.Join(b.Lines(), "\n")
}

// LineWriter is an io.Writer that splits input on newlines and hands each
// complete line to a sink. Bytes after the last newline are held until the
// line completes.
type LineWriter struct {
	mu   sync.Mutex
	sink func(string)
	// partial holds an incomplete line (no trailing newline yet)
	partial bytes.Buffer
}

// NewLineWriter creates a writer that delivers complete lines to sink.
func NewLineWriter(sink func(string)) *LineWriter {
	return &LineWriter{sink: sink}
}

// Write implements io.Writer.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial.Write(p)

	for {
		line, err := w.partial.ReadString('\n')
		if err != nil {
			// No more complete lines — put the partial back
			w.partial.Reset()
			w.partial.WriteString(line)
			break
		}
		w.sink(strings.TrimRight(line, "\n"))
	}

	return len(p), nil
}

// Flush emits any held partial line as-is.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.partial.Len() > 0 {
		w.sink(w.partial.String())
		w.partial.Reset()
	}
}
