// Package probe checks whether a supervised server is still reachable.
//
// Readiness detection proper is log-based and lives in the supervisor;
// the probe exists for status reporting once the process that watched
// the log has moved on.
package probe

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DefaultTimeout bounds a single reachability probe.
const DefaultTimeout = 2 * time.Second

// TCP dials 127.0.0.1:port once and reports whether the connection
// succeeded within the timeout.
func TCP(ctx context.Context, port int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp connect failed: %w", err)
	}
	conn.Close()
	return nil
}

// WaitTCP polls the port until it accepts a connection or the deadline
// passes.
func WaitTCP(ctx context.Context, port int, deadline time.Duration) error {
	stop := time.Now().Add(deadline)
	for {
		if err := TCP(ctx, port, time.Second); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(stop) {
			return fmt.Errorf("port %d not reachable after %s", port, deadline)
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
