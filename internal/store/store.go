// Package store persists documents and their rendered sections.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dgallion1/docpress/internal/doctree"
)

var (
	ErrNotFound = errors.New("document not found")
	// ErrPersistence wraps every storage failure. Jobs retry these.
	ErrPersistence = errors.New("persistence error")
)

// Store is what the render pipeline needs from storage.
type Store interface {
	// FindDocumentIDBySlug reports the id of the document with slug, and
	// false when there is none.
	FindDocumentIDBySlug(ctx context.Context, slug string) (int64, bool, error)
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is one atomic unit of render results. Exactly one of Commit or Rollback
// takes effect; Rollback after Commit is a no-op.
type Tx interface {
	ReplaceSections(ctx context.Context, docID int64, sections []doctree.RenderedSection) error
	UpdateBody(ctx context.Context, docID int64, body Body) error
	UpdateSummaryHTML(ctx context.Context, docID int64, html string) error
	TouchUpdatedAt(ctx context.Context, docID int64) error
	Commit() error
	Rollback() error
}

// Body is the rendered whole document.
type Body struct {
	HTML            string
	ContainsCode    bool
	ContainsMath    bool
	ContainsMermaid bool
	Metrics         doctree.ContentMetrics
	Hints           doctree.ResourceHints
}

// NewDocument is the input to CreateDocument.
type NewDocument struct {
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Source  string `json:"source"`
	Summary string `json:"summary,omitempty"`
}

// Document is a stored document.
type Document struct {
	ID          int64  `json:"id"`
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Source      string `json:"source"`
	Summary     string `json:"summary,omitempty"`
	SummaryHTML string `json:"summary_html,omitempty"`

	HTML            string                 `json:"html,omitempty"`
	ContainsCode    bool                   `json:"contains_code"`
	ContainsMath    bool                   `json:"contains_math"`
	ContainsMermaid bool                   `json:"contains_mermaid"`
	Metrics         doctree.ContentMetrics `json:"metrics"`
	Hints           doctree.ResourceHints  `json:"hints"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	RenderedAt *time.Time `json:"rendered_at,omitempty"`
}
