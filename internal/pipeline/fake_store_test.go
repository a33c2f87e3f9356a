package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgallion1/docpress/internal/doctree"
	"github.com/dgallion1/docpress/internal/store"
)

// fakeStore keeps committed state in memory. Transactions buffer their
// writes and apply them on Commit.
type fakeStore struct {
	mu        sync.Mutex
	ids       map[string]int64
	sections  map[int64][]doctree.RenderedSection
	bodies    map[int64]store.Body
	summaries map[int64]string
	touched   map[int64]int
	begins    int
	commits   int

	failCommits int           // commits to fail with ErrPersistence
	gate        chan struct{} // when set, BeginTx waits for it
	begun       chan struct{} // when set, BeginTx signals it
}

func newFakeStore(slugs ...string) *fakeStore {
	s := &fakeStore{
		ids:       make(map[string]int64),
		sections:  make(map[int64][]doctree.RenderedSection),
		bodies:    make(map[int64]store.Body),
		summaries: make(map[int64]string),
		touched:   make(map[int64]int),
	}
	for i, slug := range slugs {
		s.ids[slug] = int64(i + 1)
	}
	return s
}

func (s *fakeStore) FindDocumentIDBySlug(_ context.Context, slug string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[slug]
	return id, ok, nil
}

func (s *fakeStore) BeginTx(ctx context.Context) (store.Tx, error) {
	s.mu.Lock()
	s.begins++
	gate, begun := s.gate, s.begun
	s.mu.Unlock()
	if begun != nil {
		begun <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &fakeTx{s: s}, nil
}

func (s *fakeStore) snapshot(id int64) ([]doctree.RenderedSection, store.Body, string, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sections[id], s.bodies[id], s.summaries[id], s.touched[id], s.commits
}

type fakeTx struct {
	s    *fakeStore
	ops  []func()
	done bool
}

func (t *fakeTx) ReplaceSections(_ context.Context, id int64, sections []doctree.RenderedSection) error {
	cp := append([]doctree.RenderedSection(nil), sections...)
	t.ops = append(t.ops, func() { t.s.sections[id] = cp })
	return nil
}

func (t *fakeTx) UpdateBody(_ context.Context, id int64, body store.Body) error {
	t.ops = append(t.ops, func() { t.s.bodies[id] = body })
	return nil
}

func (t *fakeTx) UpdateSummaryHTML(_ context.Context, id int64, html string) error {
	t.ops = append(t.ops, func() { t.s.summaries[id] = html })
	return nil
}

func (t *fakeTx) TouchUpdatedAt(_ context.Context, id int64) error {
	t.ops = append(t.ops, func() { t.s.touched[id]++ })
	return nil
}

func (t *fakeTx) Commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.done = true
	if t.s.failCommits > 0 {
		t.s.failCommits--
		return fmt.Errorf("%w: disk I/O error", store.ErrPersistence)
	}
	for _, op := range t.ops {
		op()
	}
	t.s.commits++
	return nil
}

func (t *fakeTx) Rollback() error {
	t.done = true
	return nil
}
