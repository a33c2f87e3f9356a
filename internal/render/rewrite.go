package render

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/util"

	"github.com/dgallion1/docpress/internal/diagram"
	"github.com/dgallion1/docpress/internal/doctree"
	"github.com/dgallion1/docpress/internal/highlight"
	"github.com/dgallion1/docpress/internal/mathtex"
	"github.com/dgallion1/docpress/internal/parser"
)

// Options configures one rewrite pass.
type Options struct {
	Highlighter highlight.Highlighter
	Typesetter  mathtex.Typesetter // nil: every formula falls back to its source
	Diagrams    diagram.Renderer   // nil: diagram fences render as code
	Images      ImageRegistry      // nil: QueryDimensions
	Slug        string             // diagnostics only
	Logger      *slog.Logger
}

// RewriteOutcome is what one rewrite pass learned about a document.
type RewriteOutcome struct {
	Headings     []doctree.HeadingInfo
	Placeholders *Placeholders

	ContainsCode    bool
	ContainsMath    bool // math was attempted, typeset or not
	ContainsMermaid bool // at least one diagram rendered
}

// Fragments returns the deferred math and diagram fragments.
func (o *RewriteOutcome) Fragments() []Fragment {
	return o.Placeholders.Fragments()
}

// Rewrite walks doc depth-first and replaces images, math, code and diagram
// nodes with their rendered HTML. Tool failures fall back to escaped source;
// only ErrStructural is returned.
func Rewrite(ctx context.Context, doc ast.Node, source []byte, opts Options) (*RewriteOutcome, error) {
	if opts.Highlighter == nil {
		return nil, fmt.Errorf("%w: no highlighter configured", ErrStructural)
	}
	if opts.Images == nil {
		opts.Images = QueryDimensions{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	w := &rewriter{
		ctx:   ctx,
		src:   source,
		opts:  opts,
		log:   log.With("slug", opts.Slug),
		slugs: newSlugger(),
		out:   &RewriteOutcome{Placeholders: newPlaceholders()},
	}
	if err := w.walk(doc); err != nil {
		return nil, err
	}
	return w.out, nil
}

type rewriter struct {
	ctx   context.Context
	src   []byte
	opts  Options
	log   *slog.Logger
	slugs *slugger
	out   *RewriteOutcome

	// indices into out.Headings of the open headings, shallowest first
	stack []int
}

func (w *rewriter) walk(parent ast.Node) error {
	for n := parent.FirstChild(); n != nil; {
		cur, descend, err := w.visit(n)
		if err != nil {
			return err
		}
		if descend && cur.HasChildren() {
			if err := w.walk(cur); err != nil {
				return err
			}
		}
		n = cur.NextSibling()
	}
	return nil
}

// visit rewrites n and returns the node now standing in its place.
func (w *rewriter) visit(n ast.Node) (ast.Node, bool, error) {
	switch node := n.(type) {
	case *ast.Heading:
		return node, true, w.heading(node)
	case *ast.Image:
		return w.image(node), false, nil
	case *parser.MathInline:
		return w.inlineMath(node), false, nil
	case *parser.MathBlock:
		return w.blockMath(node, string(node.Value(w.src))), false, nil
	case *ast.FencedCodeBlock:
		var info string
		if node.Info != nil {
			info = string(node.Info.Segment.Value(w.src))
		}
		lang, _ := highlight.SplitInfo(info)
		body := blockText(node, w.src)
		switch {
		case isMathLang(lang):
			return w.blockMath(node, strings.TrimSpace(body)), false, nil
		case diagram.IsDialect(lang):
			return w.diagram(node, lang, body), false, nil
		}
		return w.code(node, lang, body), false, nil
	case *ast.CodeBlock:
		return w.code(node, "", blockText(node, w.src)), false, nil
	}
	return n, true, nil
}

func (w *rewriter) heading(h *ast.Heading) error {
	text := strings.Join(strings.Fields(parser.PlainText(h, w.src)), " ")
	anchor, err := w.slugs.Make(text)
	if err != nil {
		return err
	}
	for len(w.stack) > 0 && w.out.Headings[w.stack[len(w.stack)-1]].Level >= h.Level {
		w.stack = w.stack[:len(w.stack)-1]
	}
	w.out.Headings = append(w.out.Headings, doctree.HeadingInfo{
		Level:  h.Level,
		Anchor: anchor,
		Text:   text,
	})
	w.stack = append(w.stack, len(w.out.Headings)-1)
	return nil
}

func (w *rewriter) image(img *ast.Image) ast.Node {
	alt := parser.PlainText(img, w.src)
	dest := string(img.Destination)

	width, height, ok := 0, 0, false
	if t, isText := img.NextSibling().(*ast.Text); isText {
		value := string(t.Segment.Value(w.src))
		var n int
		if width, height, n, ok = parseAttrBlock(value); ok {
			t.Segment = t.Segment.WithStart(t.Segment.Start + n)
			if t.Segment.IsEmpty() && !t.SoftLineBreak() && !t.HardLineBreak() {
				t.Parent().RemoveChild(t.Parent(), t)
			}
		}
	}
	if !ok {
		width, height, _ = w.opts.Images.Dimensions(dest)
	}

	var b strings.Builder
	b.WriteString(`<img src="`)
	b.Write(util.EscapeHTML(util.URLEscape(img.Destination, true)))
	b.WriteString(`" alt="`)
	b.WriteString(html.EscapeString(alt))
	b.WriteByte('"')
	if len(img.Title) > 0 {
		b.WriteString(` title="`)
		b.WriteString(html.EscapeString(string(img.Title)))
		b.WriteByte('"')
	}
	if width > 0 {
		b.WriteString(` width="` + strconv.Itoa(width) + `"`)
	}
	if height > 0 {
		b.WriteString(` height="` + strconv.Itoa(height) + `"`)
	}
	b.WriteByte('>')

	return replace(img, parser.NewRawInline(b.String()))
}

func (w *rewriter) inlineMath(m *parser.MathInline) ast.Node {
	src := string(m.Value(w.src))
	w.markMath(m.Display)

	out, err := w.typeset(src, m.Display)
	if err != nil {
		fallback := `<code class="math-fallback" data-math-error="true">` + html.EscapeString(src) + `</code>`
		return replace(m, parser.NewRawInline(fallback))
	}
	class := "math math-inline"
	if m.Display {
		class = "math math-display"
	}
	token := w.out.Placeholders.Register(FragmentMath,
		`<span class="`+class+`" role="math">`+out+`</span>`)
	return replace(m, parser.NewRawInline(token))
}

func (w *rewriter) blockMath(n ast.Node, src string) ast.Node {
	w.markMath(true)

	out, err := w.typeset(src, true)
	if err != nil {
		code, herr := w.opts.Highlighter.Highlight("math", src)
		if herr != nil {
			code = escapedPre("math", src)
		}
		fallback := `<div class="math-fallback" data-math-error="true">` + code + `</div>`
		return replace(n, parser.NewRawBlock(fallback))
	}
	token := w.out.Placeholders.Register(FragmentMath,
		`<div class="math math-display" role="math">`+out+`</div>`)
	return replace(n, parser.NewRawBlock(token))
}

func (w *rewriter) typeset(src string, display bool) (string, error) {
	if w.opts.Typesetter == nil {
		return "", fmt.Errorf("%w: no typesetter configured", mathtex.ErrTypeset)
	}
	out, err := w.opts.Typesetter.Typeset(src, display)
	if err != nil {
		w.log.Warn("math typesetting failed, rendering source", "error", err)
		return "", err
	}
	return out, nil
}

func (w *rewriter) diagram(n ast.Node, lang, src string) ast.Node {
	if w.opts.Diagrams == nil {
		w.log.Debug("no diagram renderer, rendering as code", "lang", lang)
		return w.code(n, lang, src)
	}
	svg, err := w.opts.Diagrams.Render(w.ctx, src)
	if err != nil {
		w.log.Warn("diagram render failed, rendering as code", "lang", lang, "error", err)
		return w.code(n, lang, src)
	}

	w.out.ContainsMermaid = true
	w.mark(func(h *doctree.HeadingInfo) { h.ContainsDiagram = true })

	dialect := strings.ToLower(lang)
	if dialect == "mmd" {
		dialect = "mermaid"
	}
	token := w.out.Placeholders.Register(FragmentDiagram,
		`<figure class="diagram diagram-`+dialect+`" data-diagram="`+dialect+`">`+svg+`</figure>`)
	return replace(n, parser.NewRawBlock(token))
}

func (w *rewriter) code(n ast.Node, lang, src string) ast.Node {
	w.out.ContainsCode = true
	w.mark(func(h *doctree.HeadingInfo) { h.ContainsCode = true })

	out, err := w.opts.Highlighter.Highlight(lang, src)
	if err != nil {
		w.log.Warn("highlight failed, rendering plain code", "lang", lang, "error", err)
		out = escapedPre(lang, src)
	}
	return replace(n, parser.NewRawBlock(out))
}

func (w *rewriter) markMath(block bool) {
	w.out.ContainsMath = true
	w.mark(func(h *doctree.HeadingInfo) {
		if block {
			h.ContainsBlockMath = true
		} else {
			h.ContainsInlineMath = true
		}
	})
}

// mark applies f to the nearest enclosing heading, if any.
func (w *rewriter) mark(f func(h *doctree.HeadingInfo)) {
	if len(w.stack) == 0 {
		return
	}
	f(&w.out.Headings[w.stack[len(w.stack)-1]])
}

func replace(old, with ast.Node) ast.Node {
	parent := old.Parent()
	parent.ReplaceChild(parent, old, with)
	return with
}

func blockText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		buf.Write(line.Value(src))
	}
	return buf.String()
}

func escapedPre(lang, src string) string {
	return `<div class="code-block" data-lang="` + html.EscapeString(highlight.Language(lang)) +
		`"><pre><code>` + html.EscapeString(src) + `</code></pre></div>`
}

func isMathLang(lang string) bool {
	switch strings.ToLower(lang) {
	case "math", "latex", "tex":
		return true
	}
	return false
}
