package launch

import (
	"fmt"
	"os"
	"strings"
)

// LogPathError reports bootstrap output that never announced the server's
// log file location.
type LogPathError struct {
	Prefix string
	Output string
}

func (e *LogPathError) Error() string {
	return fmt.Sprintf("bootstrap output contains no %q line", e.Prefix)
}

// DiscoverLogPath scans bootstrap output for a line containing the prefix
// marker; the remainder of the matching line is the server's log file path.
func DiscoverLogPath(output, prefix string) (string, error) {
	for _, line := range strings.Split(output, "\n") {
		i := strings.Index(line, prefix)
		if i < 0 {
			continue
		}
		path := strings.TrimSpace(line[i+len(prefix):])
		if path != "" {
			return path, nil
		}
	}
	return "", &LogPathError{Prefix: prefix, Output: output}
}

// EnsureLogFile creates an empty file at path if the server has not written
// it yet, so tailing can begin immediately. Existing content is preserved.
func EnsureLogFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("creating log file %s: %w", path, err)
	}
	return f.Close()
}
