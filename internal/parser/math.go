package parser

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

var (
	KindMathInline = ast.NewNodeKind("MathInline")
	KindMathBlock  = ast.NewNodeKind("MathBlock")
)

const (
	mathBlockParserPriority  = 710
	mathInlineParserPriority = 150
	mathRendererPriority     = 500
)

var mathFence = []byte("$$")

// MathInline is TeX between $…$ (or $$…$$ inside a paragraph).
type MathInline struct {
	ast.BaseInline
	Display bool
	Segment text.Segment
}

func (n *MathInline) Kind() ast.NodeKind { return KindMathInline }

func (n *MathInline) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Value": string(n.Value(source))}, nil)
}

// Value returns the TeX source without delimiters.
func (n *MathInline) Value(source []byte) []byte {
	return n.Segment.Value(source)
}

// MathBlock is a $$ fenced display formula.
type MathBlock struct {
	ast.BaseBlock
	closed bool
}

func (n *MathBlock) Kind() ast.NodeKind { return KindMathBlock }

func (n *MathBlock) IsRaw() bool { return true }

func (n *MathBlock) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, nil, nil)
}

// Value returns the formula lines joined as written.
func (n *MathBlock) Value(source []byte) []byte {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		buf.Write(line.Value(source))
	}
	return bytes.TrimSpace(buf.Bytes())
}

type mathInlineParser struct{}

func (p *mathInlineParser) Trigger() []byte {
	return []byte{'$'}
}

func (p *mathInlineParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, segment := block.PeekLine()
	if len(line) < 2 || line[0] != '$' {
		return nil
	}
	display := line[1] == '$'
	open := 1
	if display {
		open = 2
	}
	body := line[open:]
	if len(body) == 0 || isSpace(body[0]) {
		return nil
	}
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '\\':
			i++
			continue
		case '$':
		default:
			continue
		}
		if display {
			if i+1 >= len(body) || body[i+1] != '$' {
				continue
			}
		} else if i+1 < len(body) && body[i+1] >= '0' && body[i+1] <= '9' {
			// "$5 and $10" is currency, not math.
			return nil
		}
		if i == 0 || isSpace(body[i-1]) {
			return nil
		}
		start := segment.Start + open
		node := &MathInline{
			Display: display,
			Segment: text.NewSegment(start, start+i),
		}
		block.Advance(open + i + open)
		return node
	}
	return nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

type mathBlockParser struct{}

func (b *mathBlockParser) Trigger() []byte {
	return []byte{'$'}
}

func (b *mathBlockParser) Open(parent ast.Node, reader text.Reader, pc parser.Context) (ast.Node, parser.State) {
	line, segment := reader.PeekLine()
	pos := pc.BlockOffset()
	if pos < 0 || !bytes.HasPrefix(line[pos:], mathFence) {
		return nil, parser.NoChildren
	}
	node := &MathBlock{}
	rest := util.TrimRightSpace(line[pos+2:])
	if len(util.TrimLeftSpace(rest)) == 0 {
		return node, parser.NoChildren
	}
	// Single line form: $$ x^2 $$
	if !bytes.HasSuffix(rest, mathFence) || len(rest) < 3 {
		return nil, parser.NoChildren
	}
	start := segment.Start + pos + 2
	node.Lines().Append(text.NewSegment(start, start+len(rest)-2))
	node.closed = true
	return node, parser.NoChildren
}

func (b *mathBlockParser) Continue(node ast.Node, reader text.Reader, pc parser.Context) parser.State {
	n := node.(*MathBlock)
	if n.closed {
		return parser.Close
	}
	line, segment := reader.PeekLine()
	newline := 1
	if len(line) == 0 || line[len(line)-1] != '\n' {
		newline = 0
	}
	trimmed := util.TrimRightSpace(line)
	if w, _ := util.IndentWidth(line, reader.LineOffset()); w < 4 && bytes.HasSuffix(trimmed, mathFence) {
		if content := trimmed[:len(trimmed)-2]; !util.IsBlank(content) {
			n.Lines().Append(text.NewSegment(segment.Start, segment.Start+len(content)))
		}
		reader.Advance(segment.Stop - segment.Start - newline + segment.Padding)
		return parser.Close
	}
	n.Lines().Append(segment)
	reader.Advance(segment.Stop - segment.Start - newline + segment.Padding)
	return parser.Continue | parser.NoChildren
}

func (b *mathBlockParser) Close(node ast.Node, reader text.Reader, pc parser.Context) {}

func (b *mathBlockParser) CanInterruptParagraph() bool { return true }

func (b *mathBlockParser) CanAcceptIndentedLine() bool { return false }

// mathRenderer writes escaped TeX for math nodes the renderer did not rewrite.
type mathRenderer struct{}

func (r *mathRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindMathInline, r.renderInline)
	reg.Register(KindMathBlock, r.renderBlock)
}

func (r *mathRenderer) renderInline(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.WriteString(`<code class="math">`)
		_, _ = w.Write(util.EscapeHTML(node.(*MathInline).Value(source)))
		_, _ = w.WriteString(`</code>`)
	}
	return ast.WalkSkipChildren, nil
}

func (r *mathRenderer) renderBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.WriteString(`<pre class="math"><code>`)
		_, _ = w.Write(util.EscapeHTML(node.(*MathBlock).Value(source)))
		_, _ = w.WriteString("</code></pre>\n")
	}
	return ast.WalkSkipChildren, nil
}

type mathExtension struct{}

// Math enables $…$ inline and $$…$$ display math.
var Math goldmark.Extender = &mathExtension{}

func (e *mathExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithBlockParsers(util.Prioritized(&mathBlockParser{}, mathBlockParserPriority)),
		parser.WithInlineParsers(util.Prioritized(&mathInlineParser{}, mathInlineParserPriority)),
	)
	m.Renderer().AddOptions(
		renderer.WithNodeRenderers(util.Prioritized(&mathRenderer{}, mathRendererPriority)),
	)
}
