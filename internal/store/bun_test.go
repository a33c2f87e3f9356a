package store

import (
	"context"
	"errors"
	"testing"

	"github.com/dgallion1/docpress/internal/doctree"
)

func newTestStore(t *testing.T) *Bun {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *Bun, slug string) Document {
	t.Helper()
	doc, err := s.CreateDocument(context.Background(), NewDocument{Slug: slug, Title: "T", Source: "# A\n"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return doc
}

func TestFindDocumentIDBySlug(t *testing.T) {
	s := newTestStore(t)
	doc := seed(t, s, "hello")
	ctx := context.Background()

	id, ok, err := s.FindDocumentIDBySlug(ctx, "hello")
	if err != nil || !ok || id != doc.ID {
		t.Fatalf("expected id %d, got %d %v %v", doc.ID, id, ok, err)
	}
	if _, ok, err := s.FindDocumentIDBySlug(ctx, "missing"); err != nil || ok {
		t.Errorf("expected absent document, got ok=%v err=%v", ok, err)
	}
}

func TestCreateDocument_DuplicateSlug(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "dup")
	_, err := s.CreateDocument(context.Background(), NewDocument{Slug: "dup"})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetDocument(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTx_CommitPersistsEverything(t *testing.T) {
	s := newTestStore(t)
	doc := seed(t, s, "post")
	ctx := context.Background()

	sections := []doctree.RenderedSection{
		{ID: "a", Position: 1, Level: 1, Anchor: "a", HeadingText: "A", BodyHTML: "<p>a</p>", ContainsCode: true},
		{ID: "a1", ParentID: "a", Position: 1, Level: 2, Anchor: "a1", HeadingText: "A1"},
		{ID: "b", Position: 2, Level: 1, Anchor: "b", HeadingText: "B", ContainsMath: true},
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.ReplaceSections(ctx, doc.ID, sections); err != nil {
		t.Fatalf("replace: %v", err)
	}
	body := Body{
		HTML:         "<h1>A</h1>",
		ContainsCode: true,
		Metrics:      doctree.ContentMetrics{WordCount: 12, ReadingTimeMinutes: 1},
		Hints:        doctree.ResourceHints{Preconnect: []string{"cdn.example.net"}},
	}
	if err := tx.UpdateBody(ctx, doc.ID, body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if err := tx.UpdateSummaryHTML(ctx, doc.ID, "<p>sum</p>"); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if err := tx.TouchUpdatedAt(ctx, doc.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Errorf("rollback after commit should be a no-op, got %v", err)
	}

	got, err := s.ListSections(ctx, doc.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(got))
	}
	for i, want := range sections {
		if got[i] != want {
			t.Errorf("section %d: got %+v, want %+v", i, got[i], want)
		}
	}

	stored, err := s.GetDocument(ctx, "post")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.SummaryHTML != "<p>sum</p>" || stored.HTML != "<h1>A</h1>" || !stored.ContainsCode {
		t.Errorf("unexpected document %+v", stored)
	}
	if stored.Metrics.WordCount != 12 || len(stored.Hints.Preconnect) != 1 {
		t.Errorf("metrics not round-tripped: %+v %+v", stored.Metrics, stored.Hints)
	}
	if stored.RenderedAt == nil {
		t.Error("expected rendered_at to be set")
	}
	if stored.UpdatedAt.Before(doc.UpdatedAt) {
		t.Errorf("updated_at moved backwards: %v < %v", stored.UpdatedAt, doc.UpdatedAt)
	}
}

func TestTx_ReplaceSectionsReplaces(t *testing.T) {
	s := newTestStore(t)
	doc := seed(t, s, "post")
	other := seed(t, s, "other")
	ctx := context.Background()

	write := func(docID int64, ids ...string) {
		t.Helper()
		var sections []doctree.RenderedSection
		for i, id := range ids {
			sections = append(sections, doctree.RenderedSection{ID: id, Position: i + 1, Level: 1, Anchor: id})
		}
		tx, err := s.BeginTx(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer func() { _ = tx.Rollback() }()
		if err := tx.ReplaceSections(ctx, docID, sections); err != nil {
			t.Fatalf("replace: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	write(doc.ID, "x1", "x2", "x3")
	write(other.ID, "o1")
	write(doc.ID, "y1")

	got, _ := s.ListSections(ctx, doc.ID)
	if len(got) != 1 || got[0].ID != "y1" {
		t.Errorf("expected only y1, got %+v", got)
	}
	if got, _ := s.ListSections(ctx, other.ID); len(got) != 1 {
		t.Errorf("other document's sections should be untouched, got %d", len(got))
	}

	write(doc.ID)
	if got, _ := s.ListSections(ctx, doc.ID); len(got) != 0 {
		t.Errorf("expected no sections, got %d", len(got))
	}
}

func TestTx_RollbackDiscards(t *testing.T) {
	s := newTestStore(t)
	doc := seed(t, s, "post")
	ctx := context.Background()

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.ReplaceSections(ctx, doc.ID, []doctree.RenderedSection{{ID: "a", Position: 1, Level: 1, Anchor: "a"}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := tx.UpdateSummaryHTML(ctx, doc.ID, "<p>x</p>"); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if got, _ := s.ListSections(ctx, doc.ID); len(got) != 0 {
		t.Errorf("expected rollback to discard sections, got %d", len(got))
	}
	if stored, _ := s.GetDocument(ctx, "post"); stored.SummaryHTML != "" {
		t.Errorf("expected rollback to discard summary, got %q", stored.SummaryHTML)
	}
}

func TestTx_MissingDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := tx.TouchUpdatedAt(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateSource(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "post")
	ctx := context.Background()

	doc, err := s.UpdateSource(ctx, "post", NewDocument{Title: "New", Source: "# B\n", Summary: "short"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if doc.Title != "New" || doc.Source != "# B\n" || doc.Summary != "short" {
		t.Errorf("unexpected document %+v", doc)
	}
	if _, err := s.UpdateSource(ctx, "missing", NewDocument{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
