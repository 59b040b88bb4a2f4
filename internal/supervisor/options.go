package supervisor

import (
	"github.com/benaskins/herald/internal/diag"
	"github.com/benaskins/herald/internal/port"
)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithCollector sets the metrics collector. The default discards every
// measurement.
func WithCollector(c Collector) Option {
	return func(s *Supervisor) {
		s.metrics = c
	}
}

// WithTranscript records lifecycle events to an append-only transcript so
// a later process can reconstruct what happened.
func WithTranscript(t *diag.Transcript) Option {
	return func(s *Supervisor) {
		s.trans = t
	}
}

// WithAllocator overrides the process-wide port allocator consulted when
// the spec leaves the initial port dynamic.
func WithAllocator(a *port.Allocator) Option {
	return func(s *Supervisor) {
		s.ports = a
	}
}
