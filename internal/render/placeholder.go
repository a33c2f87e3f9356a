package render

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// FragmentKind says what produced a deferred fragment.
type FragmentKind int

const (
	FragmentMath FragmentKind = iota
	FragmentDiagram
)

func (k FragmentKind) String() string {
	if k == FragmentDiagram {
		return "diagram"
	}
	return "math"
}

// Fragment is trusted HTML spliced in after sanitization.
type Fragment struct {
	Token string
	Kind  FragmentKind
	HTML  string
}

// Placeholders maps opaque tokens to fragments for one render call. Tokens
// are alphanumeric so they pass through the serializer and sanitizer as text,
// and carry a per-render nonce so two renders never share one.
//
// Register is called only during the rewrite walk; Substitute is safe for
// concurrent use afterwards.
type Placeholders struct {
	nonce     string
	fragments []Fragment

	once     sync.Once
	replacer *strings.Replacer
}

func newPlaceholders() *Placeholders {
	return &Placeholders{nonce: strings.ReplaceAll(uuid.NewString(), "-", "")}
}

// Register stores html and returns its token.
func (p *Placeholders) Register(kind FragmentKind, html string) string {
	token := fmt.Sprintf("dpx%sx%06d", p.nonce, len(p.fragments))
	p.fragments = append(p.fragments, Fragment{Token: token, Kind: kind, HTML: html})
	return token
}

// Fragments returns the registered fragments in registration order.
func (p *Placeholders) Fragments() []Fragment {
	return p.fragments
}

// Substitute replaces every token in s with its fragment.
func (p *Placeholders) Substitute(s string) string {
	if p == nil || len(p.fragments) == 0 {
		return s
	}
	p.once.Do(func() {
		pairs := make([]string, 0, 2*len(p.fragments))
		for _, f := range p.fragments {
			pairs = append(pairs, f.Token, f.HTML)
		}
		p.replacer = strings.NewReplacer(pairs...)
	})
	return p.replacer.Replace(s)
}
