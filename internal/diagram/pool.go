package diagram

import (
	"context"
	"errors"
	"io"
	"runtime"
	"sync"
)

// Pool sizing constants.
const (
	MinPoolSize = 1

	// MaxPoolSize caps browser instances to limit memory (~200MB each).
	MaxPoolSize = 8

	// cpuDivisor leaves headroom for Chrome child processes.
	cpuDivisor = 2
)

var errPoolClosed = errors.New("pool closed")

// Pool hands out up to size resources, created lazily on first acquire.
type Pool[T io.Closer] struct {
	size    int
	newFn   func() T
	items   []T
	sem     chan T
	mu      sync.Mutex
	created int
	closed  bool
}

// NewPool creates a pool with capacity for n resources built by newFn.
func NewPool[T io.Closer](n int, newFn func() T) *Pool[T] {
	if n < 1 {
		n = 1
	}
	return &Pool[T]{
		size:  n,
		newFn: newFn,
		items: make([]T, 0, n),
		sem:   make(chan T, n),
	}
}

// Acquire returns an idle resource, creates one while under capacity, or
// blocks until one is released or ctx ends. A closed pool never hands out a
// resource.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, errPoolClosed
	}
	select {
	case item := <-p.sem:
		p.mu.Unlock()
		return item, nil
	default:
	}
	if p.created < p.size {
		p.created++
		p.mu.Unlock()

		item := p.newFn()

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			_ = item.Close()
			return zero, errPoolClosed
		}
		p.items = append(p.items, item)
		p.mu.Unlock()
		return item, nil
	}
	p.mu.Unlock()

	select {
	case item, ok := <-p.sem:
		if !ok {
			return zero, errPoolClosed
		}
		// Close may have run while we waited; its items are already closed.
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return zero, errPoolClosed
		}
		return item, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Release returns item to the pool. At most size items exist, so the send
// never blocks and is safe under the lock.
func (p *Pool[T]) Release(item T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.sem <- item
}

// Close closes every resource the pool created.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.sem)
	items := p.items
	p.mu.Unlock()

	var errs []error
	for _, item := range items {
		if err := item.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Size returns the pool capacity.
func (p *Pool[T]) Size() int {
	return p.size
}

// ResolvePoolSize picks the pool size: explicit value first, otherwise half
// of GOMAXPROCS bounded to [MinPoolSize, MaxPoolSize].
func ResolvePoolSize(workers int) int {
	if workers > 0 {
		return workers
	}
	n := runtime.GOMAXPROCS(0) / cpuDivisor
	if n < MinPoolSize {
		return MinPoolSize
	}
	if n > MaxPoolSize {
		return MaxPoolSize
	}
	return n
}
