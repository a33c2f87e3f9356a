package parser

import (
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

var (
	KindRawBlock  = ast.NewNodeKind("RawBlock")
	KindRawInline = ast.NewNodeKind("RawInline")
)

// RawBlock holds already rendered HTML that replaces a block node.
type RawBlock struct {
	ast.BaseBlock
	HTML string
}

// NewRawBlock returns a block node that serializes to html verbatim.
func NewRawBlock(html string) *RawBlock {
	return &RawBlock{HTML: html}
}

func (n *RawBlock) Kind() ast.NodeKind { return KindRawBlock }

func (n *RawBlock) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"HTML": n.HTML}, nil)
}

// RawInline holds already rendered HTML that replaces an inline node.
type RawInline struct {
	ast.BaseInline
	HTML string
}

// NewRawInline returns an inline node that serializes to html verbatim.
func NewRawInline(html string) *RawInline {
	return &RawInline{HTML: html}
}

func (n *RawInline) Kind() ast.NodeKind { return KindRawInline }

func (n *RawInline) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"HTML": n.HTML}, nil)
}

type rawRenderer struct{}

func (r *rawRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindRawBlock, func(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			_, _ = w.WriteString(node.(*RawBlock).HTML)
			_ = w.WriteByte('\n')
		}
		return ast.WalkSkipChildren, nil
	})
	reg.Register(KindRawInline, func(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			_, _ = w.WriteString(node.(*RawInline).HTML)
		}
		return ast.WalkSkipChildren, nil
	})
}

type rawExtension struct{}

// Raw registers the serializer for RawBlock and RawInline.
var Raw goldmark.Extender = &rawExtension{}

func (e *rawExtension) Extend(m goldmark.Markdown) {
	m.Renderer().AddOptions(
		renderer.WithNodeRenderers(util.Prioritized(&rawRenderer{}, mathRendererPriority)),
	)
}
