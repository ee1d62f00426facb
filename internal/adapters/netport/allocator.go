// Package netport allocates free host ports for published container ports.
//
// A reservation keeps its probe socket bound until Confirm, and the port stays
// reserved in-process until Release, so two concurrent starts never receive
// the same port. Between Confirm and the runtime binding the port another
// process on the host may still claim it.
package netport

import (
	"fmt"
	"net"
	"sync"

	"github.com/melih/lighthouse-paas/internal/core/ports"
)

const maxAttempts = 32

// Allocator implements ports.PortAllocator by binding to port 0.
var _ ports.PortAllocator = (*Allocator)(nil)

// Allocator hands out ports obtained by binding to port 0.
type Allocator struct {
	host string

	mu       sync.Mutex
	reserved map[int]struct{}
}

// New returns an allocator probing on host ("" means all interfaces).
func New(host string) *Allocator {
	return &Allocator{host: host, reserved: make(map[int]struct{})}
}

// Reservation is a port held by the allocator.
type Reservation struct {
	port int

	once  sync.Once
	probe net.Listener
	err   error
}

// Port returns the reserved port.
func (r *Reservation) Port() int { return r.port }

// Confirm closes the probe socket. It is safe to call more than once.
func (r *Reservation) Confirm() error {
	r.once.Do(func() { r.err = r.probe.Close() })
	return r.err
}

// Reserve binds a throwaway listener to an OS-assigned port and records the
// port as reserved.
func (a *Allocator) Reserve() (ports.PortReservation, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(a.host, "0"))
		if err != nil {
			return nil, fmt.Errorf("failed to bind probe socket: %w", err)
		}
		port := ln.Addr().(*net.TCPAddr).Port

		a.mu.Lock()
		_, taken := a.reserved[port]
		if !taken {
			a.reserved[port] = struct{}{}
		}
		a.mu.Unlock()

		if taken {
			ln.Close()
			continue
		}
		return &Reservation{port: port, probe: ln}, nil
	}
	return nil, fmt.Errorf("no free port after %d attempts", maxAttempts)
}

// Release forgets port. Unknown ports are ignored.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.reserved, port)
}

// Claim records port as reserved without probing it. Reconciled containers
// already hold their ports.
func (a *Allocator) Claim(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reserved[port] = struct{}{}
}

// Reserved reports whether port is currently held.
func (a *Allocator) Reserved(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.reserved[port]
	return ok
}
