// Package capture turns process output streams into per-line callbacks and
// detects readiness markers in the captured lines.
package capture

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"strings"
)

// Lines reads r line by line and invokes fn for each line, stripped of the
// trailing newline. A final unterminated line is still delivered. Capture
// ends when the stream closes or errors; read errors never propagate to the
// process under observation.
func Lines(r io.Reader, fn func(string)) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		br := bufio.NewReader(r)
		for {
			line, err := br.ReadString('\n')
			if line != "" {
				fn(strings.TrimRight(line, "\n"))
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					slog.Debug("output capture ended", "error", err)
				}
				return
			}
		}
	}()

	return done
}
