package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// recordingCollector captures the collector call sequence. LineCaptured
// arrives from capturer goroutines, so everything is mutex-guarded.
type recordingCollector struct {
	mu    sync.Mutex
	calls []string
	lines int
}

func (r *recordingCollector) AttemptStarted(server string, attempt, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("attempt(%d,%d)", attempt, port))
}

func (r *recordingCollector) AttemptFailed(server, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "failed("+kind+")")
}

func (r *recordingCollector) ServerReady(server string, attempt int, wait time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("ready(%d)", attempt))
}

func (r *recordingCollector) LineCaptured(server string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines++
}

func (r *recordingCollector) StopDuration(server string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "stop")
}

func (r *recordingCollector) snapshot() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...), r.lines
}

func TestCollectorSequenceAcrossRetry(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "server.log")
	flag := filepath.Join(dir, "first-attempt")
	start := writeScript(t, dir, "start.sh", fmt.Sprintf(
		`if [ ! -f %s ]; then
  touch %s
  echo "address already in use" >&2
  exit 1
fi
echo "starting stub, logging to %s"`, flag, flag, logPath))
	stop := writeScript(t, dir, "stop.sh", "exit 0")

	rc := &recordingCollector{}
	sup := New(testSpec(t, start, stop, 11200), WithCollector(rc))
	cleanupScratch(t, sup)

	errCh := make(chan error, 1)
	go func() { errCh <- sup.Start(context.Background()) }()
	waitForFile(t, logPath)
	appendLine(t, logPath, "Service ready")
	if err := <-errCh; err != nil {
		t.Fatalf("Start: %v", err)
	}
	sup.Stop(context.Background())

	calls, lines := rc.snapshot()
	want := []string{"attempt(1,11200)", "failed(launch)", "attempt(2,11201)", "ready(2)", "stop"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
	if lines == 0 {
		t.Error("no captured lines reported")
	}
}

func TestNoopCollectorIsDefault(t *testing.T) {
	dir := t.TempDir()
	stop := writeScript(t, dir, "stop.sh", "exit 0")
	sup := New(testSpec(t, "/bin/true", stop, 11300))

	if _, ok := sup.metrics.(noopCollector); !ok {
		t.Fatalf("default collector is %T", sup.metrics)
	}
}
