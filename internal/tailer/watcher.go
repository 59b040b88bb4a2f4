package tailer

import (
	"bufio"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher follows a file in-process using filesystem notifications,
// delivering each complete line to a callback. It is the fallback for hosts
// without a tail binary and the usual choice in tests.
//
// The file must already exist when the watch starts.
type Watcher struct {
	path   string
	fn     func(string)
	fw     *fsnotify.Watcher
	logger *slog.Logger
	once   sync.Once
	done   chan struct{}
}

// StartWatcher begins following path from its first line. Lines already in
// the file are delivered before any new ones.
func StartWatcher(path string, fn func(string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:   path,
		fn:     fn,
		fw:     fw,
		logger: slog.With("component", "tailer", "path", path),
		done:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Stop ends the watch and waits for the delivery goroutine to finish.
// Safe to call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() { w.fw.Close() })
	<-w.done
}

func (w *Watcher) run() {
	defer close(w.done)

	f, err := os.Open(w.path)
	if err != nil {
		w.logger.Debug("log follow ended", "error", err)
		return
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var partial strings.Builder

	// Deliver whatever the file already holds.
	w.drain(r, &partial)

	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Write != 0 {
				w.drain(r, &partial)
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				return
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Debug("log watch error", "error", err)
		}
	}
}

// drain reads everything appended since the last call, delivering complete
// lines. Bytes after the last newline are held until the line completes.
func (w *Watcher) drain(r *bufio.Reader, partial *strings.Builder) {
	for {
		chunk, err := r.ReadString('\n')
		if err == nil {
			partial.WriteString(chunk)
			line := strings.TrimRight(partial.String(), "\n")
			partial.Reset()
			w.fn(line)
			continue
		}
		partial.WriteString(chunk)
		return
	}
}
