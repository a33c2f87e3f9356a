package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/dgallion1/docpress/internal/doctree"
)

type documentModel struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID          int64  `bun:"id,pk,autoincrement"`
	Slug        string `bun:"slug,unique,notnull"`
	Title       string `bun:"title"`
	Source      string `bun:"source"`
	Summary     string `bun:"summary"`
	SummaryHTML string `bun:"summary_html"`

	HTML            string                 `bun:"html"`
	ContainsCode    bool                   `bun:"contains_code"`
	ContainsMath    bool                   `bun:"contains_math"`
	ContainsMermaid bool                   `bun:"contains_mermaid"`
	Metrics         doctree.ContentMetrics `bun:"metrics,type:jsonb"`
	Hints           doctree.ResourceHints  `bun:"hints,type:jsonb"`

	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
	RenderedAt time.Time `bun:"rendered_at,nullzero"`
}

type sectionModel struct {
	bun.BaseModel `bun:"table:sections,alias:s"`

	ID         string `bun:"id,pk"`
	DocumentID int64  `bun:"document_id,notnull"`
	Ordinal    int    `bun:"ordinal,notnull"`
	ParentID   string `bun:"parent_id"`
	Position   int    `bun:"position,notnull"`
	Level      int    `bun:"level,notnull"`
	Anchor     string `bun:"anchor,notnull"`

	HeadingHTML string `bun:"heading_html"`
	HeadingText string `bun:"heading_text"`
	BodyHTML    string `bun:"body_html"`

	ContainsCode    bool `bun:"contains_code"`
	ContainsMath    bool `bun:"contains_math"`
	ContainsMermaid bool `bun:"contains_mermaid"`
}

// Bun implements Store on bun and SQLite.
type Bun struct {
	db  *bun.DB
	now func() time.Time
}

// Open opens (creating if needed) the SQLite database at path and its schema.
// SQLite has one writer, so the pool is a single connection.
func Open(ctx context.Context, path string) (*Bun, error) {
	sqldb, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrPersistence, path, err)
	}
	sqldb.SetMaxOpenConns(1)

	s := NewBun(bun.NewDB(sqldb, sqlitedialect.New()))
	if err := s.CreateSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func dsn(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path + "?_fk=1&_busy_timeout=5000"
}

// NewBun wraps an open bun database.
func NewBun(db *bun.DB) *Bun {
	return &Bun{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// CreateSchema creates the tables when missing.
func (s *Bun) CreateSchema(ctx context.Context) error {
	for _, model := range []any{(*documentModel)(nil), (*sectionModel)(nil)} {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("%w: create table: %w", ErrPersistence, err)
		}
	}
	if _, err := s.db.NewCreateIndex().
		Model((*sectionModel)(nil)).
		Index("sections_document_idx").
		IfNotExists().
		Column("document_id", "ordinal").
		Exec(ctx); err != nil {
		return fmt.Errorf("%w: create index: %w", ErrPersistence, err)
	}
	return nil
}

func (s *Bun) Close() error {
	return s.db.Close()
}

func (s *Bun) FindDocumentIDBySlug(ctx context.Context, slug string) (int64, bool, error) {
	var id int64
	err := s.db.NewSelect().
		Model((*documentModel)(nil)).
		Column("id").
		Where("slug = ?", slug).
		Scan(ctx, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: find document %q: %w", ErrPersistence, slug, err)
	}
	return id, true, nil
}

// CreateDocument stores a new document. Its body is rendered later by a job.
func (s *Bun) CreateDocument(ctx context.Context, in NewDocument) (Document, error) {
	now := s.now()
	m := &documentModel{
		Slug:      in.Slug,
		Title:     in.Title,
		Source:    in.Source,
		Summary:   in.Summary,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return Document{}, fmt.Errorf("%w: create document %q: %w", ErrPersistence, in.Slug, err)
	}
	return m.document(), nil
}

// UpdateSource replaces a document's source and summary text.
func (s *Bun) UpdateSource(ctx context.Context, slug string, in NewDocument) (Document, error) {
	res, err := s.db.NewUpdate().
		Model((*documentModel)(nil)).
		Set("title = ?", in.Title).
		Set("source = ?", in.Source).
		Set("summary = ?", in.Summary).
		Set("updated_at = ?", s.now()).
		Where("slug = ?", slug).
		Exec(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("%w: update document %q: %w", ErrPersistence, slug, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	return s.GetDocument(ctx, slug)
}

func (s *Bun) GetDocument(ctx context.Context, slug string) (Document, error) {
	var m documentModel
	err := s.db.NewSelect().Model(&m).Where("slug = ?", slug).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	if err != nil {
		return Document{}, fmt.Errorf("%w: get document %q: %w", ErrPersistence, slug, err)
	}
	return m.document(), nil
}

// ListSections returns a document's sections in document order.
func (s *Bun) ListSections(ctx context.Context, docID int64) ([]doctree.RenderedSection, error) {
	var models []sectionModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("document_id = ?", docID).
		Order("ordinal ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("%w: list sections: %w", ErrPersistence, err)
	}
	out := make([]doctree.RenderedSection, 0, len(models))
	for _, m := range models {
		out = append(out, doctree.RenderedSection{
			ID:              m.ID,
			ParentID:        m.ParentID,
			Position:        m.Position,
			Level:           m.Level,
			Anchor:          m.Anchor,
			HeadingHTML:     m.HeadingHTML,
			HeadingText:     m.HeadingText,
			BodyHTML:        m.BodyHTML,
			ContainsCode:    m.ContainsCode,
			ContainsMath:    m.ContainsMath,
			ContainsMermaid: m.ContainsMermaid,
		})
	}
	return out, nil
}

func (s *Bun) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %w", ErrPersistence, err)
	}
	return &bunTx{tx: tx, now: s.now}, nil
}

type bunTx struct {
	tx  bun.Tx
	now func() time.Time
}

func (t *bunTx) ReplaceSections(ctx context.Context, docID int64, sections []doctree.RenderedSection) error {
	if _, err := t.tx.NewDelete().
		Model((*sectionModel)(nil)).
		Where("document_id = ?", docID).
		Exec(ctx); err != nil {
		return fmt.Errorf("%w: delete sections: %w", ErrPersistence, err)
	}
	if len(sections) == 0 {
		return nil
	}
	models := make([]sectionModel, 0, len(sections))
	for i, s := range sections {
		models = append(models, sectionModel{
			ID:              s.ID,
			DocumentID:      docID,
			Ordinal:         i,
			ParentID:        s.ParentID,
			Position:        s.Position,
			Level:           s.Level,
			Anchor:          s.Anchor,
			HeadingHTML:     s.HeadingHTML,
			HeadingText:     s.HeadingText,
			BodyHTML:        s.BodyHTML,
			ContainsCode:    s.ContainsCode,
			ContainsMath:    s.ContainsMath,
			ContainsMermaid: s.ContainsMermaid,
		})
	}
	if _, err := t.tx.NewInsert().Model(&models).Exec(ctx); err != nil {
		return fmt.Errorf("%w: insert sections: %w", ErrPersistence, err)
	}
	return nil
}

func (t *bunTx) UpdateBody(ctx context.Context, docID int64, body Body) error {
	m := &documentModel{
		ID:              docID,
		HTML:            body.HTML,
		ContainsCode:    body.ContainsCode,
		ContainsMath:    body.ContainsMath,
		ContainsMermaid: body.ContainsMermaid,
		Metrics:         body.Metrics,
		Hints:           body.Hints,
		RenderedAt:      t.now(),
	}
	return t.update(ctx, docID, "update body", t.tx.NewUpdate().
		Model(m).
		Column("html", "contains_code", "contains_math", "contains_mermaid", "metrics", "hints", "rendered_at").
		WherePK())
}

func (t *bunTx) UpdateSummaryHTML(ctx context.Context, docID int64, html string) error {
	return t.update(ctx, docID, "update summary", t.tx.NewUpdate().
		Model((*documentModel)(nil)).
		Set("summary_html = ?", html).
		Where("id = ?", docID))
}

func (t *bunTx) TouchUpdatedAt(ctx context.Context, docID int64) error {
	return t.update(ctx, docID, "touch", t.tx.NewUpdate().
		Model((*documentModel)(nil)).
		Set("updated_at = ?", t.now()).
		Where("id = ?", docID))
}

func (t *bunTx) update(ctx context.Context, docID int64, op string, q *bun.UpdateQuery) error {
	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s: document %d", ErrNotFound, op, docID)
	}
	return nil
}

func (t *bunTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrPersistence, err)
	}
	return nil
}

func (t *bunTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: rollback: %w", ErrPersistence, err)
	}
	return nil
}

func (m *documentModel) document() Document {
	d := Document{
		ID:              m.ID,
		Slug:            m.Slug,
		Title:           m.Title,
		Source:          m.Source,
		Summary:         m.Summary,
		SummaryHTML:     m.SummaryHTML,
		HTML:            m.HTML,
		ContainsCode:    m.ContainsCode,
		ContainsMath:    m.ContainsMath,
		ContainsMermaid: m.ContainsMermaid,
		Metrics:         m.Metrics,
		Hints:           m.Hints,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if !m.RenderedAt.IsZero() {
		t := m.RenderedAt
		d.RenderedAt = &t
	}
	return d
}
