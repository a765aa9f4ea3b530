package testutil

import (
	"context"
	"sync"

	"github.com/zjrosen/sheetbind/internal/host"
)

// CountingHost wraps a host and records every round-trip.
type CountingHost struct {
	host.Host

	mu      sync.Mutex
	batches [][]host.Request
	// FailNext, when set, fails the next round-trip with this error.
	FailNext error
}

// NewCountingHost wraps h.
func NewCountingHost(h host.Host) *CountingHost {
	return &CountingHost{Host: h}
}

// Execute records reqs and forwards them.
func (c *CountingHost) Execute(ctx context.Context, reqs []host.Request) ([]host.Response, error) {
	c.mu.Lock()
	c.batches = append(c.batches, append([]host.Request(nil), reqs...))
	fail := c.FailNext
	c.FailNext = nil
	c.mu.Unlock()

	if fail != nil && len(reqs) > 0 {
		return nil, &host.RequestError{Index: 0, Op: reqs[0].Op, Err: fail}
	}
	return c.Host.Execute(ctx, reqs)
}

// RoundTrips returns the number of Execute calls.
func (c *CountingHost) RoundTrips() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

// Requests returns the total number of requests executed.
func (c *CountingHost) Requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

// Ops returns the operations of each round-trip in order.
func (c *CountingHost) Ops() [][]host.Op {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]host.Op, len(c.batches))
	for i, b := range c.batches {
		ops := make([]host.Op, len(b))
		for j, r := range b {
			ops[j] = r.Op
		}
		out[i] = ops
	}
	return out
}

// Reset forgets recorded round-trips.
func (c *CountingHost) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = nil
}
