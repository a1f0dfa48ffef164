package token

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// DerivePool bounds the number of key-derivation operations in flight.
// Derivation is CPU-bound; once the bound is reached further requests
// fail fast with ErrServerBusy instead of queueing unbounded work. A nil
// pool applies no bound.
type DerivePool struct {
	sem *semaphore.Weighted
}

// NewDerivePool creates a pool allowing at most max concurrent
// derivations. max <= 0 disables the bound.
func NewDerivePool(max int64) *DerivePool {
	if max <= 0 {
		return &DerivePool{}
	}
	return &DerivePool{sem: semaphore.NewWeighted(max)}
}

// Do runs fn under the pool's concurrency bound.
func (p *DerivePool) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p == nil || p.sem == nil {
		return fn()
	}
	if !p.sem.TryAcquire(1) {
		return ErrServerBusy
	}
	defer p.sem.Release(1)
	return fn()
}
