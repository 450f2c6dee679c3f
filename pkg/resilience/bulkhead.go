package resilience

import (
	"context"
	"sync/atomic"
)

// Bulkhead caps how many callers hold a scarce resource at once.
type Bulkhead struct {
	slots  chan struct{}
	active atomic.Int64
}

// NewBulkhead allows up to n concurrent holders; n < 1 is treated as 1.
func NewBulkhead(n int) *Bulkhead {
	if n < 1 {
		n = 1
	}
	return &Bulkhead{slots: make(chan struct{}, n)}
}

// Acquire blocks for a slot or returns ctx.Err().
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.slots <- struct{}{}:
		b.active.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (b *Bulkhead) Release() {
	select {
	case <-b.slots:
		b.active.Add(-1)
	default:
	}
}

// InFlight returns the number of slots currently held.
func (b *Bulkhead) InFlight() int { return int(b.active.Load()) }

