package augment

import (
	"errors"
	"fmt"

	"golang.org/x/net/html"

	"github.com/dgallion1/docpress/internal/doctree"
)

// ErrHeadingMismatch means the serialized HTML and the heading list from the
// rewrite walk disagree.
var ErrHeadingMismatch = errors.New("heading mismatch")

// InjectHeadingIDs sets id on each h1–h6 element in document order from the
// matching entry in headings.
func InjectHeadingIDs(src string, headings []doctree.HeadingInfo) (string, error) {
	i := 0
	out, err := stream(src, func(tok *html.Token, tt html.TokenType) (bool, error) {
		level := headingLevel(tok.Data)
		if level == 0 || tt != html.StartTagToken {
			return false, nil
		}
		if i >= len(headings) {
			return false, fmt.Errorf("%w: more than %d headings in html", ErrHeadingMismatch, len(headings))
		}
		if want := headings[i].Level; want != level {
			return false, fmt.Errorf("%w: heading %d is h%d, expected h%d", ErrHeadingMismatch, i+1, level, want)
		}
		setAttr(tok, "id", headings[i].Anchor)
		i++
		return true, nil
	}, nil, nil)
	if err != nil {
		return "", err
	}
	if i != len(headings) {
		return "", fmt.Errorf("%w: found %d headings in html, expected %d", ErrHeadingMismatch, i, len(headings))
	}
	return out, nil
}
