// Package parser builds the goldmark engine used for documents: GFM,
// footnotes, TeX math delimiters and the raw HTML nodes the renderer writes
// back into the tree.
package parser

import (
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
)

// New returns a goldmark engine for document sources. Raw HTML is passed
// through by the serializer; the render pipeline sanitizes the output.
func New(opts ...goldmark.Option) goldmark.Markdown {
	base := []goldmark.Option{
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			Math,
			Raw,
		),
		goldmark.WithRendererOptions(
			html.WithUnsafe(),
		),
	}
	return goldmark.New(append(base, opts...)...)
}

// Parse parses source into a document tree.
func Parse(md goldmark.Markdown, source []byte) ast.Node {
	return md.Parser().Parse(text.NewReader(source), parser.WithContext(parser.NewContext()))
}

// PlainText returns the concatenated text of n's inline descendants with
// soft breaks folded to spaces.
func PlainText(n ast.Node, source []byte) string {
	var buf []byte
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			buf = append(buf, t.Value(source)...)
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf = append(buf, ' ')
			}
		case *ast.String:
			buf = append(buf, t.Value...)
		case *MathInline:
			buf = append(buf, t.Value(source)...)
		case *ast.AutoLink:
			buf = append(buf, t.Label(source)...)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return string(buf)
}
