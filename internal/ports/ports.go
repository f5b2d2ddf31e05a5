// Package ports assigns free host TCP ports to named service port requests.
package ports

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// BasePort seeds the high-water mark for requests without a preferred port.
const BasePort = 50000

// maxProbes bounds the forward scan for a single request. Exceeding it
// fails the whole allocation call rather than retrying forever.
const maxProbes = 100

// maxPort is the highest port the scanner will probe.
const maxPort = 65535

// ErrPortExhausted is returned when no free port is found within the
// probe budget for a request.
var ErrPortExhausted = errors.New("port range exhausted")

// Request names one port a service needs, with an optional preferred
// port and an optional environment variable to expose it through.
type Request struct {
	Name      string
	Preferred int
	EnvVar    string
}

// Allocation is the assignment produced for one Request. Preferred is
// true only when the request asked for a specific port and got it.
type Allocation struct {
	Name      string
	Port      int
	Preferred bool
	EnvVar    string
}

// Prober answers whether a port can currently be bound. The real
// implementation does a bind-and-release test; tests substitute a fake.
type Prober interface {
	CanBind(port int) bool
}

// TCPProber probes by binding a TCP listener on loopback and releasing it.
// A passing probe is advisory: the port can still be taken by the time
// the real service binds it.
type TCPProber struct{}

// CanBind reports whether the port accepted a bind on 127.0.0.1.
func (TCPProber) CanBind(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// HighWaterMark tracks the next port to hand out for requests without a
// preferred port. It is an explicit, injectable state object rather than
// a package global so tests can isolate it and callers can share one per
// process. It is advisory only: there is no cross-process coordination.
type HighWaterMark struct {
	mu   sync.Mutex
	next int
}

// NewHighWaterMark creates a mark starting at base, or BasePort when
// base is not positive.
func NewHighWaterMark(base int) *HighWaterMark {
	if base <= 0 {
		base = BasePort
	}
	return &HighWaterMark{next: base}
}

// Next returns the current scan starting point.
func (h *HighWaterMark) Next() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.next
}

// Advance moves the mark past an assigned port. Calls with ports below
// the mark are ignored.
func (h *HighWaterMark) Advance(port int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if port >= h.next {
		h.next = port + 1
	}
}

// Allocator assigns ports to requests using a Prober for bind tests and
// a HighWaterMark for unpreferred scans.
type Allocator struct {
	prober Prober
	hw     *HighWaterMark
}

// NewAllocator creates an Allocator. A nil prober defaults to TCPProber;
// a nil mark gets a fresh one seeded at BasePort.
func NewAllocator(prober Prober, hw *HighWaterMark) *Allocator {
	if prober == nil {
		prober = TCPProber{}
	}
	if hw == nil {
		hw = NewHighWaterMark(BasePort)
	}
	return &Allocator{prober: prober, hw: hw}
}

// Allocate assigns one free port per request. Requests are processed in
// order; a port assigned to an earlier request in the same call is never
// reused by a later one. A request with a preferred port gets exactly
// that port (Preferred=true) when it probes free, otherwise the first
// free port scanning forward from it. Requests without a preference scan
// forward from the high-water mark, which is advanced past each such
// assignment. Returns ErrPortExhausted (wrapped with the request name)
// if any request cannot be satisfied within the probe budget.
func (a *Allocator) Allocate(requests []Request) ([]Allocation, error) {
	used := make(map[int]bool, len(requests))
	allocations := make([]Allocation, 0, len(requests))

	for _, req := range requests {
		if req.Preferred > 0 {
			if !used[req.Preferred] && a.prober.CanBind(req.Preferred) {
				used[req.Preferred] = true
				allocations = append(allocations, Allocation{
					Name:      req.Name,
					Port:      req.Preferred,
					Preferred: true,
					EnvVar:    req.EnvVar,
				})
				continue
			}

			port, err := a.scan(req.Preferred, used)
			if err != nil {
				return nil, fmt.Errorf("allocating port for %q: %w", req.Name, err)
			}
			used[port] = true
			allocations = append(allocations, Allocation{
				Name:   req.Name,
				Port:   port,
				EnvVar: req.EnvVar,
			})
			continue
		}

		port, err := a.scan(a.hw.Next(), used)
		if err != nil {
			return nil, fmt.Errorf("allocating port for %q: %w", req.Name, err)
		}
		used[port] = true
		a.hw.Advance(port)
		allocations = append(allocations, Allocation{
			Name:   req.Name,
			Port:   port,
			EnvVar: req.EnvVar,
		})
	}

	return allocations, nil
}

// scan probes ports ascending from start, skipping ports already used in
// this call, and returns the first that binds.
func (a *Allocator) scan(start int, used map[int]bool) (int, error) {
	for i := 0; i < maxProbes; i++ {
		port := start + i
		if port > maxPort {
			break
		}
		if used[port] {
			continue
		}
		if a.prober.CanBind(port) {
			return port, nil
		}
	}
	return 0, ErrPortExhausted
}
