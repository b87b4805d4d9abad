package ensemble

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many members run at once. One Pool may be shared by runs
// for several fires so the process never exceeds its core budget.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// NewPool returns a pool of size slots, clamped to [1, NumCPU]. A size of
// zero or less means NumCPU.
func NewPool(size int) *Pool {
	if n := runtime.NumCPU(); size <= 0 || size > n {
		size = n
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

func (p *Pool) Size() int { return p.size }

func (p *Pool) acquire(ctx context.Context) error { return p.sem.Acquire(ctx, 1) }

func (p *Pool) release() { p.sem.Release(1) }
