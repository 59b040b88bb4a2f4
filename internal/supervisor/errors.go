package supervisor

import (
	"errors"
	"fmt"
	"time"

	"github.com/benaskins/herald/internal/launch"
)

// Failure kinds as reported to metrics and postmortem tooling.
const (
	KindLaunch       = "launch"
	KindLogDiscovery = "log_discovery"
	KindReadiness    = "readiness_timeout"
	KindInternal     = "internal"
)

// ReadinessError reports a log that showed no readiness marker within the
// deadline. The server may still be starting; the attempt's tail is killed
// and the server itself is reclaimed by the identity-scoped stop.
type ReadinessError struct {
	Name    string
	Port    int
	LogPath string
	Timeout time.Duration
}

func (e *ReadinessError) Error() string {
	return fmt.Sprintf("%s did not become ready on port %d within %s (log %s)",
		e.Name, e.Port, e.Timeout, e.LogPath)
}

// FailureKind classifies an attempt failure. Attempt failures keep their
// concrete type through the retry loop, so this works on the error Start
// returns after exhaustion too.
func FailureKind(err error) string {
	var launchErr *launch.Error
	var pathErr *launch.LogPathError
	var readyErr *ReadinessError

	switch {
	case errors.As(err, &launchErr):
		return KindLaunch
	case errors.As(err, &pathErr):
		return KindLogDiscovery
	case errors.As(err, &readyErr):
		return KindReadiness
	default:
		return KindInternal
	}
}
