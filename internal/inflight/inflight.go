// Package inflight keeps at most one render per document running.
package inflight

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAlreadyRunning matches every *AlreadyRunningError.
var ErrAlreadyRunning = errors.New("render already in flight")

// AlreadyRunningError reports the document whose guard is held.
type AlreadyRunningError struct {
	DocumentID int64
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("document %d: %s", e.DocumentID, ErrAlreadyRunning)
}

func (e *AlreadyRunningError) Is(target error) bool {
	return target == ErrAlreadyRunning
}

// Registry tracks the held guards.
type Registry struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

func NewRegistry() *Registry {
	return &Registry{held: make(map[int64]struct{})}
}

// Acquire takes the guard for docID or fails fast when it is taken. Callers
// defer Release on the returned guard.
func (r *Registry) Acquire(docID int64) (*Guard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.held[docID]; ok {
		return nil, &AlreadyRunningError{DocumentID: docID}
	}
	r.held[docID] = struct{}{}
	return &Guard{reg: r, docID: docID}, nil
}

// Held reports whether docID's guard is taken.
func (r *Registry) Held(docID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[docID]
	return ok
}

func (r *Registry) release(docID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, docID)
}

// Guard is one held slot. Release may be called any number of times.
type Guard struct {
	reg   *Registry
	docID int64
	once  sync.Once
}

func (g *Guard) DocumentID() int64 {
	return g.docID
}

func (g *Guard) Release() {
	g.once.Do(func() { g.reg.release(g.docID) })
}
