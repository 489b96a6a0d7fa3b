package runner

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// gate bounds the number of records between dispatch and leaving the
// pipeline, across all partitions.
type gate struct {
	sem      *semaphore.Weighted
	capacity int
	held     atomic.Int64
}

func newGate(capacity int) *gate {
	return &gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// Acquire blocks until a permit is free or ctx is done.
func (g *gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	g.held.Add(1)
	return nil
}

func (g *gate) Release(n int) {
	if n <= 0 {
		return
	}

	g.held.Add(-int64(n))
	g.sem.Release(int64(n))
}

// InUse returns the number of permits currently held.
func (g *gate) InUse() int {
	return int(g.held.Load())
}

func (g *gate) Capacity() int {
	return g.capacity
}
