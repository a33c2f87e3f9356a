package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goliatone/go-slug"
)

const (
	defaultAnchor = "section"
	maxSlugTries  = 10000
)

// slugger hands out anchors unique within one document. The same sequence of
// heading texts always yields the same anchors.
type slugger struct {
	seen map[string]bool
}

func newSlugger() *slugger {
	return &slugger{seen: make(map[string]bool)}
}

// Make returns the anchor for text: its slug, or the slug with -1, -2, …
// appended when taken. Text that normalizes to nothing becomes "section".
func (s *slugger) Make(text string) (string, error) {
	base := defaultAnchor
	if text = strings.TrimSpace(text); text != "" {
		if normalized, err := slug.Normalize(text); err == nil && normalized != "" {
			base = normalized
		}
	}

	candidate := base
	for i := 1; s.seen[candidate]; i++ {
		if i > maxSlugTries {
			return "", fmt.Errorf("%w: anchor %q exhausted", ErrStructural, base)
		}
		candidate = base + "-" + strconv.Itoa(i)
	}
	s.seen[candidate] = true
	return candidate, nil
}
