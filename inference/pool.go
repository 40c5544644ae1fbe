// Package inference hosts the two bounded worker pools that run the
// lip-reading and speech-to-text pipelines for server-terminated
// calls (§4.8): a single-worker video pool and a small audio pool.
package inference

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many predict calls run concurrently for one
// pipeline, using a weighted semaphore as a fixed-size worker gate
// rather than an unbounded goroutine-per-job fan-out.
type Pool struct {
	sem     *semaphore.Weighted
	Workers int
}

// NewPool returns a Pool with the given worker count (minimum 1).
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers)), Workers: workers}
}

// NewVideoPool returns the single-worker video pipeline pool (§4.9:
// exactly one lip-reading worker, since the model is not safely
// shared across concurrent calls).
func NewVideoPool() *Pool {
	return NewPool(1)
}

// NewAudioPool returns the audio pipeline pool sized to
// min(4, NumCPU-1), floored at 1.
func NewAudioPool() *Pool {
	n := runtime.NumCPU() - 1
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return NewPool(n)
}

// Run acquires a worker slot, runs fn, and releases the slot. It
// blocks until a slot is free or ctx is done.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
