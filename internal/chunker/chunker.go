// Package chunker slices rendered HTML into a tree of sections, one per
// heading.
package chunker

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/dgallion1/docpress/internal/doctree"
)

// ErrHeadingNotFound means a heading from the rewrite walk has no element
// carrying its anchor id.
var ErrHeadingNotFound = errors.New("heading not found in html")

// span is the byte range of one heading element.
type span struct {
	start, end int
}

// AssembleSections cuts src, whose headings already carry their anchor ids,
// into sections. A section's body runs from the end of its heading to the
// start of the next heading, or to the end of the document. Parents follow
// heading levels; positions count from 1 per parent. Bodies are balanced so
// a heading nested in a list or blockquote does not leak closers.
func AssembleSections(src string, headings []doctree.HeadingInfo) ([]doctree.RenderedSection, error) {
	if len(headings) == 0 {
		return nil, nil
	}
	spans, err := locate(src, headings)
	if err != nil {
		return nil, err
	}

	type stackEntry struct {
		index int
		level int
	}
	var stack []stackEntry
	counters := make(map[int]int) // parent index (-1 for roots) -> last position
	sections := make([]doctree.RenderedSection, len(headings))

	for i, h := range headings {
		// Pop until the top is a strictly shallower heading.
		for len(stack) > 0 && stack[len(stack)-1].level >= h.Level {
			stack = stack[:len(stack)-1]
		}
		parent := -1
		if len(stack) > 0 {
			parent = stack[len(stack)-1].index
		}
		counters[parent]++

		bodyEnd := len(src)
		if i+1 < len(spans) {
			bodyEnd = spans[i+1].start
		}

		s := doctree.RenderedSection{
			ID:              uuid.NewString(),
			Position:        counters[parent],
			Level:           h.Level,
			HeadingHTML:     src[spans[i].start:spans[i].end],
			HeadingText:     h.Text,
			BodyHTML:        strings.TrimSpace(balance(src[spans[i].end:bodyEnd])),
			Anchor:          h.Anchor,
			ContainsCode:    h.ContainsCode,
			ContainsMath:    h.ContainsMath(),
			ContainsMermaid: h.ContainsDiagram,
		}
		if parent >= 0 {
			s.ParentID = sections[parent].ID
		}
		sections[i] = s
		stack = append(stack, stackEntry{index: i, level: h.Level})
	}
	return sections, nil
}

// locate finds the byte span of each heading element, in order, by its id.
func locate(src string, headings []doctree.HeadingInfo) ([]span, error) {
	spans := make([]span, 0, len(headings))
	z := html.NewTokenizer(strings.NewReader(src))
	offset := 0
	open := -1 // start of the heading element being scanned
	openTag := ""

	for len(spans) < len(headings) {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return nil, fmt.Errorf("locate headings: %w", err)
			}
			break
		}
		size := len(z.Raw())
		switch tt {
		case html.StartTagToken:
			if open >= 0 {
				break
			}
			tok := z.Token()
			if !isHeading(tok.Data) {
				break
			}
			for _, a := range tok.Attr {
				if a.Key == "id" && a.Val == headings[len(spans)].Anchor {
					open, openTag = offset, tok.Data
					break
				}
			}
		case html.EndTagToken:
			if open < 0 {
				break
			}
			if name, _ := z.TagName(); string(name) == openTag {
				spans = append(spans, span{start: open, end: offset + size})
				open = -1
			}
		}
		offset += size
	}
	if len(spans) != len(headings) {
		return nil, fmt.Errorf("%w: %q", ErrHeadingNotFound, headings[len(spans)].Anchor)
	}
	return spans, nil
}

func isHeading(tag string) bool {
	return len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6'
}

// voidElements never take an end tag.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// balance drops end tags with no matching start tag in frag and appends end
// tags for elements still open at its end. Tokens are copied raw, so an
// already balanced fragment comes back unchanged.
func balance(frag string) string {
	var b strings.Builder
	b.Grow(len(frag))
	var open []string
	z := html.NewTokenizer(strings.NewReader(frag))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		raw := z.Raw()
		switch tt {
		case html.StartTagToken:
			name, _ := z.TagName()
			if !voidElements[string(name)] {
				open = append(open, string(name))
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			at := -1
			for i := len(open) - 1; i >= 0; i-- {
				if open[i] == string(name) {
					at = i
					break
				}
			}
			if at < 0 {
				continue
			}
			for i := len(open) - 1; i > at; i-- {
				b.WriteString("</" + open[i] + ">")
			}
			open = open[:at]
		}
		b.Write(raw)
	}
	for i := len(open) - 1; i >= 0; i-- {
		b.WriteString("</" + open[i] + ">")
	}
	return b.String()
}
