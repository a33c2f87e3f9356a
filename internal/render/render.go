// Package render turns Markdown documents into sanitized, annotated HTML and
// section trees.
//
// Rendering is two-phase: the goldmark tree is rewritten and serialized, the
// result is sanitized, and only then are the trusted math and diagram
// fragments substituted for their placeholders.
package render

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"

	"github.com/dgallion1/docpress/internal/augment"
	"github.com/dgallion1/docpress/internal/chunker"
	"github.com/dgallion1/docpress/internal/config"
	"github.com/dgallion1/docpress/internal/diagram"
	"github.com/dgallion1/docpress/internal/doctree"
	"github.com/dgallion1/docpress/internal/highlight"
	"github.com/dgallion1/docpress/internal/mathtex"
	"github.com/dgallion1/docpress/internal/parser"
)

// Config configures a Renderer.
type Config struct {
	Highlighter highlight.Highlighter
	Typesetter  mathtex.Typesetter
	Diagrams    diagram.Renderer
	Images      ImageRegistry
	Settings    config.Settings

	// Documents with fewer headings are not split into sections.
	MinHeadings int

	// Theme and InlineStyles configure summary highlighting and which
	// highlighter attributes survive sanitization.
	Theme        string
	InlineStyles bool

	Logger *slog.Logger
}

// Renderer renders documents. It is safe for concurrent use.
type Renderer struct {
	cfg     Config
	md      goldmark.Markdown
	summary goldmark.Markdown
	policy  *bluemonday.Policy
	log     *slog.Logger
}

// New builds a Renderer. A nil Highlighter gets a class-based chroma one.
func New(cfg Config) *Renderer {
	if cfg.Highlighter == nil {
		cfg.Highlighter = highlight.NewChroma(highlight.Options{Theme: cfg.Theme, Classes: !cfg.InlineStyles})
	}
	if cfg.MinHeadings < 1 {
		cfg.MinHeadings = 1
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Renderer{
		cfg:     cfg,
		md:      parser.New(),
		summary: newSummaryMarkdown(cfg.Theme, cfg.InlineStyles),
		policy:  NewPolicy(cfg.InlineStyles),
		log:     log,
	}
}

// Request is one document to render.
type Request struct {
	Slug   string // diagnostics only
	Source string
}

// Output is a fully rendered document.
type Output struct {
	HTML     string                    `json:"html"`
	Sections []doctree.RenderedSection `json:"sections,omitempty"`
	Headings []doctree.HeadingInfo     `json:"headings"`

	ContainsCode    bool `json:"contains_code"`
	ContainsMath    bool `json:"contains_math"`
	ContainsMermaid bool `json:"contains_mermaid"`

	Metrics doctree.ContentMetrics `json:"metrics"`
	Hints   doctree.ResourceHints  `json:"hints"`
}

// Prepared is a document rendered through section assembly. Its HTML and
// sections still hold placeholders; Finalize and FinalizeSection resolve them.
type Prepared struct {
	Slug     string
	HTML     string
	Headings []doctree.HeadingInfo
	Sections []doctree.RenderedSection

	ContainsCode    bool
	ContainsMath    bool
	ContainsMermaid bool

	placeholders *Placeholders
}

// Fragments returns the deferred fragments awaiting substitution.
func (p *Prepared) Fragments() []Fragment {
	return p.placeholders.Fragments()
}

// Render renders req in one call.
func (r *Renderer) Render(ctx context.Context, req Request) (*Output, error) {
	p, err := r.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.Finalize(p)
}

// Prepare parses, rewrites, serializes and sanitizes req, injects heading ids
// and assembles sections.
func (r *Renderer) Prepare(ctx context.Context, req Request) (*Prepared, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src := []byte(req.Source)
	doc := parser.Parse(r.md, src)

	outcome, err := Rewrite(ctx, doc, src, Options{
		Highlighter: r.cfg.Highlighter,
		Typesetter:  r.cfg.Typesetter,
		Diagrams:    r.cfg.Diagrams,
		Images:      r.cfg.Images,
		Slug:        req.Slug,
		Logger:      r.log,
	})
	if err != nil {
		return nil, err
	}

	serialized, err := r.Serialize(doc, src)
	if err != nil {
		return nil, err
	}
	withIDs, err := augment.InjectHeadingIDs(r.Sanitize(serialized), outcome.Headings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStructural, err)
	}

	p := &Prepared{
		Slug:            req.Slug,
		HTML:            withIDs,
		Headings:        outcome.Headings,
		ContainsCode:    outcome.ContainsCode,
		ContainsMath:    outcome.ContainsMath,
		ContainsMermaid: outcome.ContainsMermaid,
		placeholders:    outcome.Placeholders,
	}
	if len(outcome.Headings) >= r.cfg.MinHeadings {
		p.Sections, err = chunker.AssembleSections(withIDs, outcome.Headings)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStructural, err)
		}
	}
	return p, nil
}

// Finalize substitutes fragments into the whole document and every section
// and augments them.
func (r *Renderer) Finalize(p *Prepared) (*Output, error) {
	out, err := r.FinalizeDocument(p)
	if err != nil {
		return nil, err
	}
	for _, s := range p.Sections {
		fs, err := r.FinalizeSection(p, s)
		if err != nil {
			return nil, err
		}
		out.Sections = append(out.Sections, fs)
	}
	return out, nil
}

// FinalizeDocument finalizes the whole document body only. The returned
// Output has no sections.
func (r *Renderer) FinalizeDocument(p *Prepared) (*Output, error) {
	html, res, err := augment.Augment(p.placeholders.Substitute(p.HTML), r.cfg.Settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStructural, err)
	}
	return &Output{
		HTML:            html,
		Headings:        p.Headings,
		ContainsCode:    p.ContainsCode,
		ContainsMath:    p.ContainsMath,
		ContainsMermaid: p.ContainsMermaid,
		Metrics:         res.Metrics,
		Hints:           res.Hints,
	}, nil
}

// FinalizeSection resolves the placeholders in one section of p and augments
// its heading and body. Safe to call concurrently for different sections.
func (r *Renderer) FinalizeSection(p *Prepared, s doctree.RenderedSection) (doctree.RenderedSection, error) {
	heading, _, err := augment.Augment(p.placeholders.Substitute(s.HeadingHTML), r.cfg.Settings)
	if err != nil {
		return doctree.RenderedSection{}, fmt.Errorf("%w: section %s: %w", ErrStructural, s.Anchor, err)
	}
	body, _, err := augment.Augment(p.placeholders.Substitute(s.BodyHTML), r.cfg.Settings)
	if err != nil {
		return doctree.RenderedSection{}, fmt.Errorf("%w: section %s: %w", ErrStructural, s.Anchor, err)
	}
	s.HeadingHTML = heading
	s.BodyHTML = body
	return s, nil
}

// Serialize renders a rewritten tree to HTML.
func (r *Renderer) Serialize(doc ast.Node, source []byte) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Renderer().Render(&buf, source, doc); err != nil {
		return "", fmt.Errorf("%w: serialize: %v", ErrStructural, err)
	}
	return buf.String(), nil
}

// Sanitize applies the document policy. Placeholder tokens pass through.
func (r *Renderer) Sanitize(html string) string {
	return r.policy.Sanitize(html)
}
