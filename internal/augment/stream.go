// Package augment post-processes rendered HTML: heading ids, accessibility
// and lazy-loading attributes, and content metrics.
package augment

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// rewriteFunc inspects a start tag and reports whether it changed tok.
type rewriteFunc func(tok *html.Token, tt html.TokenType) (bool, error)

// stream copies src token by token. Start tags go through onStart and are
// re-serialized only when modified; every other token is written verbatim.
func stream(src string, onStart rewriteFunc, onEnd func(name []byte), onText func(text []byte)) (string, error) {
	var out strings.Builder
	out.Grow(len(src) + len(src)/8)

	z := html.NewTokenizer(strings.NewReader(src))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", fmt.Errorf("tokenize: %w", err)
			}
			return out.String(), nil
		case html.StartTagToken, html.SelfClosingTagToken:
			raw := string(z.Raw())
			tok := z.Token()
			changed, err := onStart(&tok, tt)
			if err != nil {
				return "", err
			}
			if changed {
				out.WriteString(tok.String())
			} else {
				out.WriteString(raw)
			}
		case html.EndTagToken:
			out.Write(z.Raw())
			if onEnd != nil {
				name, _ := z.TagName()
				onEnd(name)
			}
		case html.TextToken:
			out.Write(z.Raw())
			if onText != nil {
				onText(z.Text())
			}
		default:
			out.Write(z.Raw())
		}
	}
}

func headingLevel(tag string) int {
	switch tag {
	case "h1":
		return 1
	case "h2":
		return 2
	case "h3":
		return 3
	case "h4":
		return 4
	case "h5":
		return 5
	case "h6":
		return 6
	}
	return 0
}

func getAttr(tok *html.Token, key string) (string, bool) {
	for _, a := range tok.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(tok *html.Token, key, val string) {
	for i, a := range tok.Attr {
		if a.Namespace == "" && a.Key == key {
			tok.Attr[i].Val = val
			return
		}
	}
	tok.Attr = append(tok.Attr, html.Attribute{Key: key, Val: val})
}

// setDefault sets key only when absent.
func setDefault(tok *html.Token, key, val string) {
	if _, ok := getAttr(tok, key); !ok {
		tok.Attr = append(tok.Attr, html.Attribute{Key: key, Val: val})
	}
}

func hasClass(tok *html.Token, class string) bool {
	v, ok := getAttr(tok, "class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}
