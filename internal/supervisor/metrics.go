package supervisor

import "time"

// Collector receives lifecycle measurements from a supervisor. Embedded
// use gets the no-op default; herald serve plugs in the Prometheus
// implementation.
type Collector interface {
	// AttemptStarted is recorded before each bootstrap spawns.
	AttemptStarted(server string, attempt, port int)

	// AttemptFailed is recorded with the failure kind (see FailureKind).
	AttemptFailed(server, kind string)

	// ServerReady is recorded once per successful start with the attempt
	// that succeeded and the time from its launch to the marker match.
	ServerReady(server string, attempt int, wait time.Duration)

	// LineCaptured is recorded for every captured output line.
	LineCaptured(server string)

	// StopDuration is recorded per terminal stop.
	StopDuration(server string, d time.Duration)
}

type noopCollector struct{}

func (noopCollector) AttemptStarted(string, int, int)        {}
func (noopCollector) AttemptFailed(string, string)           {}
func (noopCollector) ServerReady(string, int, time.Duration) {}
func (noopCollector) LineCaptured(string)                    {}
func (noopCollector) StopDuration(string, time.Duration)     {}

// NewNoopCollector returns a collector that discards every measurement.
func NewNoopCollector() Collector { return noopCollector{} }
