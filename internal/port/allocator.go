// Package port hands out initial listen ports for supervised servers.
//
// Every allocation reserves a window of consecutive ports rather than a
// single one: when a launch attempt fails, the retry loop probes the
// next port up, and those fallback ports must not have been handed to
// another instance living in the same process.
package port

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
)

// Allocator manages initial-port assignment for supervisor instances.
type Allocator struct {
	mu        sync.Mutex
	minPort   int
	maxPort   int
	allocated map[string]window // instance name → reserved window
	usedPorts map[int]string    // port → instance name
}

// window is a run of consecutive ports [base, base+width-1].
type window struct {
	base  int
	width int
}

// NewAllocator creates a port allocator for the given range [min, max].
func NewAllocator(minPort, maxPort int) *Allocator {
	return &Allocator{
		minPort:   minPort,
		maxPort:   maxPort,
		allocated: make(map[string]window),
		usedPorts: make(map[int]string),
	}
}

// Allocate reserves a window of width consecutive ports for the named
// instance and returns the base port. Idempotent: an instance that
// already holds a window gets its existing base back.
func (a *Allocator) Allocate(name string, width int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if w, ok := a.allocated[name]; ok {
		return w.base, nil
	}
	if width < 1 {
		width = 1
	}

	rangeSize := a.maxPort - a.minPort + 1
	if rangeSize < width || len(a.usedPorts) > rangeSize-width {
		return 0, fmt.Errorf("port range exhausted (%d-%d)", a.minPort, a.maxPort)
	}

	// Try random bases until a window fits
	for attempts := 0; attempts < rangeSize*2; attempts++ {
		base := a.minPort + rand.Intn(rangeSize-width+1)
		if a.windowFree(base, width) {
			a.claim(name, base, width)
			return base, nil
		}
	}

	// Exhaustive scan as fallback
	for base := a.minPort; base+width-1 <= a.maxPort; base++ {
		if a.windowFree(base, width) {
			a.claim(name, base, width)
			return base, nil
		}
	}

	return 0, fmt.Errorf("no available ports in range %d-%d", a.minPort, a.maxPort)
}

// Reserve registers a window the instance already owns, such as a port
// pinned in its spec. Returns an error if any port in the window is
// held by another instance. No bind check is made: a pinned port may
// already have the server listening on it.
func (a *Allocator) Reserve(name string, base, width int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if width < 1 {
		width = 1
	}
	for p := base; p < base+width; p++ {
		if owner, ok := a.usedPorts[p]; ok && owner != name {
			return fmt.Errorf("port %d already allocated to %q", p, owner)
		}
	}
	if w, ok := a.allocated[name]; ok {
		a.forget(w)
	}
	a.claim(name, base, width)
	return nil
}

// Release frees the window held by an instance.
func (a *Allocator) Release(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if w, ok := a.allocated[name]; ok {
		a.forget(w)
		delete(a.allocated, name)
	}
}

// Port returns the base port reserved for an instance, or 0 if none.
func (a *Allocator) Port(name string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated[name].base
}

// windowFree reports whether every port in [base, base+width-1] is
// inside the range, unclaimed, and bindable on the host right now.
func (a *Allocator) windowFree(base, width int) bool {
	if base < a.minPort || base+width-1 > a.maxPort {
		return false
	}
	for p := base; p < base+width; p++ {
		if _, taken := a.usedPorts[p]; taken {
			return false
		}
		if !isPortAvailable(p) {
			return false
		}
	}
	return true
}

func (a *Allocator) claim(name string, base, width int) {
	a.allocated[name] = window{base: base, width: width}
	for p := base; p < base+width; p++ {
		a.usedPorts[p] = name
	}
}

func (a *Allocator) forget(w window) {
	for p := w.base; p < w.base+w.width; p++ {
		delete(a.usedPorts, p)
	}
}

func isPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
