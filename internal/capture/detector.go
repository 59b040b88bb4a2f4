package capture

import "strings"

// Detector watches captured lines for readiness markers. Every line is
// appended to the sink before the marker check, so by the time the signal
// fires the matching line is already recorded. Markers are literal,
// case-sensitive substrings; any one of them counts.
type Detector struct {
	sink    func(string)
	markers []string
	sig     *Signal
}

// NewDetector creates a detector that feeds sink and fires on the first
// line containing any of the markers.
func NewDetector(sink func(string), markers []string) *Detector {
	return &Detector{
		sink:    sink,
		markers: markers,
		sig:     NewSignal(),
	}
}

// Line processes one captured line. Safe for concurrent use by multiple
// capturers feeding the same detector.
func (d *Detector) Line(line string) {
	d.sink(line)

	if d.sig.Fired() {
		return
	}
	for _, m := range d.markers {
		if strings.Contains(line, m) {
			d.sig.Fire()
			return
		}
	}
}

// Ready returns a channel that is closed once a marker has been seen.
func (d *Detector) Ready() <-chan struct{} {
	return d.sig.Done()
}

// Fired reports whether a marker has been seen.
func (d *Detector) Fired() bool {
	return d.sig.Fired()
}
