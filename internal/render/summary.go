package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"

	"github.com/dgallion1/docpress/internal/augment"
)

func newSummaryMarkdown(theme string, inlineStyles bool) goldmark.Markdown {
	if theme == "" {
		theme = "github"
	}
	return goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle(theme),
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(!inlineStyles),
				),
			),
		),
	)
}

// RenderSummary renders a short Markdown summary: no sections, math or
// diagrams. goldmark has no context support, so conversion runs in a
// goroutine raced against ctx.
func (r *Renderer) RenderSummary(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	type result struct {
		html string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var buf bytes.Buffer
		if err := r.summary.Convert([]byte(text), &buf); err != nil {
			done <- result{err: fmt.Errorf("%w: summary: %v", ErrStructural, err)}
			return
		}
		html, _, err := augment.Augment(r.Sanitize(buf.String()), r.cfg.Settings)
		if err != nil {
			done <- result{err: fmt.Errorf("%w: summary: %w", ErrStructural, err)}
			return
		}
		done <- result{html: html}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		return res.html, res.err
	}
}
