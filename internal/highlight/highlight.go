// Package highlight turns code fences into highlighted HTML.
package highlight

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// ErrHighlight wraps tokenizer and formatter failures.
var ErrHighlight = errors.New("highlight failed")

// Highlighter renders src written in lang as an HTML fragment.
type Highlighter interface {
	Highlight(lang, src string) (string, error)
}

// Chroma is a Highlighter backed by chroma lexers and its HTML formatter.
type Chroma struct {
	style     *chroma.Style
	formatter *chromahtml.Formatter
}

// Options configures a Chroma highlighter.
type Options struct {
	Theme    string // chroma style name; unknown names use the fallback style
	Classes  bool   // emit CSS classes instead of inline styles
	TabWidth int
}

// NewChroma builds a highlighter for the given options.
func NewChroma(opts Options) *Chroma {
	tab := opts.TabWidth
	if tab <= 0 {
		tab = 4
	}
	return &Chroma{
		style: styles.Get(opts.Theme),
		formatter: chromahtml.New(
			chromahtml.WithClasses(opts.Classes),
			chromahtml.TabWidth(tab),
		),
	}
}

// Highlight tokenises src with the lexer for lang (the fallback lexer when
// lang is empty or unknown) and wraps the result in a code-block div.
func (c *Chroma) Highlight(lang, src string) (string, error) {
	lexer := lexers.Get(lang)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	it, err := lexer.Tokenise(nil, src)
	if err != nil {
		return "", fmt.Errorf("%w: tokenise %s: %v", ErrHighlight, lang, err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<div class="code-block" data-lang="%s">`, html.EscapeString(Language(lang)))
	if err := c.formatter.Format(&buf, c.style, it); err != nil {
		return "", fmt.Errorf("%w: format %s: %v", ErrHighlight, lang, err)
	}
	buf.WriteString("</div>")
	return buf.String(), nil
}

// CSS returns the stylesheet for class-based output.
func (c *Chroma) CSS() (string, error) {
	var buf bytes.Buffer
	if err := c.formatter.WriteCSS(&buf, c.style); err != nil {
		return "", fmt.Errorf("%w: css: %v", ErrHighlight, err)
	}
	return buf.String(), nil
}

// Language normalizes a fence language for data attributes and lookups.
func Language(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return "text"
	}
	return lang
}

// SplitInfo splits a fence info string into its language and the remaining
// metadata. "go {linenos=true}" yields ("go", "{linenos=true}").
func SplitInfo(info string) (lang, meta string) {
	info = strings.TrimSpace(info)
	if info == "" {
		return "", ""
	}
	if i := strings.IndexAny(info, " \t{"); i >= 0 {
		return strings.TrimSpace(info[:i]), strings.TrimSpace(info[i:])
	}
	return info, ""
}
