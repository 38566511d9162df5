package workers

import (
	"context"
	"os"
	"runtime"
	"strconv"
)

// Count returns the number of workers for a task type. It respects container
// CPU limits via GOMAXPROCS.
//
// The multiplier adjusts for task characteristics (1.0 for CPU-bound decode,
// more for I/O-bound work). limit caps the result; 0 means no cap.
//
// DECODE_WORKERS overrides the computed value.
func Count(multiplier float64, limit int) int {
	if override := os.Getenv("DECODE_WORKERS"); override != "" {
		if count, err := strconv.Atoi(override); err == nil && count > 0 {
			if limit > 0 && count > limit {
				return limit
			}
			return count
		}
	}

	workers := int(float64(runtime.GOMAXPROCS(0)) * multiplier)
	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}
	return workers
}

// ForCPU returns worker count for CPU-bound tasks (1 per CPU)
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// Pool bounds how many CPU-bound jobs run at once. Callers block in Do until
// a slot frees up, so a burst of decodes queues instead of starving the
// goroutines that serve requests.
type Pool struct {
	slots chan struct{}
}

// NewPool creates a pool running at most size jobs concurrently
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Size returns the pool capacity
func (p *Pool) Size() int {
	return cap(p.slots)
}

// Do runs fn on a pool slot and waits for it. It returns ctx.Err() if the
// context ends while waiting for a slot or for fn; fn keeps its slot until it
// returns either way.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		defer func() { <-p.slots }()
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit runs fn on the pool and returns its value
func Submit[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
