package augment

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/dgallion1/docpress/internal/config"
	"github.com/dgallion1/docpress/internal/doctree"
)

// Result is what one augmentation pass measured.
type Result struct {
	Metrics doctree.ContentMetrics
	Hints   doctree.ResourceHints
}

// Link classes written to data-link.
const (
	LinkExternal = "external"
	LinkInternal = "internal"
	LinkAnchor   = "anchor"
	LinkOther    = "other"
)

// elements whose content is not prose
var opaque = map[atom.Atom]bool{
	atom.Svg:    true,
	atom.Math:   true,
	atom.Script: true,
	atom.Style:  true,
}

// accumulator is the single mutable state of one pass, shared by the element
// and text handlers.
type accumulator struct {
	site *url.URL

	metrics    doctree.ContentMetrics
	imageHosts map[string]struct{}
	linkHosts  map[string]struct{}

	opaqueDepth int
	preDepth    int
}

type elementHandler func(acc *accumulator, tok *html.Token) bool

var handlers map[atom.Atom]elementHandler

func init() {
	handlers = map[atom.Atom]elementHandler{
		atom.Img:        (*accumulator).image,
		atom.A:          (*accumulator).link,
		atom.Table:      role("table", func(m *doctree.ContentMetrics) { m.TableCount++ }),
		atom.Thead:      role("table-head", nil),
		atom.Tbody:      role("table-body", nil),
		atom.Tr:         role("row", nil),
		atom.Td:         role("cell", nil),
		atom.Th:         (*accumulator).headerCell,
		atom.Blockquote: role("quote", func(m *doctree.ContentMetrics) { m.BlockquoteCount++ }),
		atom.Pre:        role("code-block", func(m *doctree.ContentMetrics) { m.CodeBlockCount++ }),
		atom.Code:       (*accumulator).code,
		atom.Span:       (*accumulator).mathContainer,
		atom.Div:        (*accumulator).mathContainer,
		atom.Figure:     (*accumulator).figure,
	}
}

func role(name string, count func(m *doctree.ContentMetrics)) elementHandler {
	return func(acc *accumulator, tok *html.Token) bool {
		if count != nil {
			count(&acc.metrics)
		}
		setAttr(tok, "data-role", name)
		return true
	}
}

// Augment annotates src for accessibility and lazy loading and measures it.
// Links to settings' site host count as internal.
func Augment(src string, settings config.Settings) (string, Result, error) {
	acc := &accumulator{
		imageHosts: make(map[string]struct{}),
		linkHosts:  make(map[string]struct{}),
	}
	if settings != nil {
		acc.site = settings.SiteURL()
	}

	out, err := stream(src, acc.start, acc.end, acc.text)
	if err != nil {
		return "", Result{}, fmt.Errorf("augment: %w", err)
	}
	acc.metrics.ReadingTimeMinutes = doctree.ReadingMinutes(acc.metrics.WordCount)
	return out, Result{
		Metrics: acc.metrics,
		Hints: doctree.ResourceHints{
			Preconnect:  sortedKeys(acc.imageHosts),
			DNSPrefetch: sortedKeys(acc.linkHosts),
		},
	}, nil
}

func (acc *accumulator) start(tok *html.Token, tt html.TokenType) (bool, error) {
	if opaque[tok.DataAtom] {
		if tt == html.StartTagToken {
			acc.opaqueDepth++
		}
		return false, nil
	}
	if acc.opaqueDepth > 0 {
		return false, nil
	}
	h, ok := handlers[tok.DataAtom]
	if !ok {
		return false, nil
	}
	changed := h(acc, tok)
	if tok.DataAtom == atom.Pre && tt == html.StartTagToken {
		acc.preDepth++
	}
	return changed, nil
}

func (acc *accumulator) end(name []byte) {
	switch a := atom.Lookup(name); {
	case opaque[a]:
		if acc.opaqueDepth > 0 {
			acc.opaqueDepth--
		}
	case a == atom.Pre && acc.opaqueDepth == 0:
		if acc.preDepth > 0 {
			acc.preDepth--
		}
	}
}

func (acc *accumulator) text(b []byte) {
	if acc.opaqueDepth > 0 {
		return
	}
	acc.metrics.WordCount += len(strings.Fields(string(b)))
}

func (acc *accumulator) image(tok *html.Token) bool {
	acc.metrics.ImageCount++

	alt, hasAlt := getAttr(tok, "alt")
	if strings.TrimSpace(alt) == "" {
		acc.metrics.ImagesMissingAlt++
		if title, _ := getAttr(tok, "title"); title != "" {
			setAttr(tok, "alt", title)
		} else if !hasAlt {
			setAttr(tok, "alt", "")
		}
	}

	_, hasW := getAttr(tok, "width")
	_, hasH := getAttr(tok, "height")
	if !hasW || !hasH {
		acc.metrics.ImagesMissingDimensions++
		setDefault(tok, "data-aspect", "default")
	}
	setDefault(tok, "loading", "lazy")
	setDefault(tok, "decoding", "async")

	if src, ok := getAttr(tok, "src"); ok {
		if kind, host := acc.classify(src); kind == LinkExternal {
			acc.imageHosts[host] = struct{}{}
		}
	}
	return true
}

func (acc *accumulator) link(tok *html.Token) bool {
	href, ok := getAttr(tok, "href")
	if !ok {
		return false
	}
	acc.metrics.LinkCount++

	kind, host := acc.classify(href)
	switch kind {
	case LinkExternal:
		acc.metrics.ExternalLinkCount++
		acc.linkHosts[host] = struct{}{}
		rel, _ := getAttr(tok, "rel")
		setAttr(tok, "rel", mergeRel(rel, "noopener", "noreferrer"))
	case LinkInternal:
		acc.metrics.InternalLinkCount++
	case LinkAnchor:
		acc.metrics.AnchorLinkCount++
	default:
		acc.metrics.OtherLinkCount++
	}
	setAttr(tok, "data-link", kind)
	return true
}

func (acc *accumulator) headerCell(tok *html.Token) bool {
	setAttr(tok, "data-role", "column-header")
	setDefault(tok, "scope", "col")
	return true
}

func (acc *accumulator) code(tok *html.Token) bool {
	if hasClass(tok, "math-fallback") {
		return acc.mathContainer(tok)
	}
	if acc.preDepth > 0 {
		setAttr(tok, "data-role", "code")
		return true
	}
	acc.metrics.InlineCodeCount++
	setAttr(tok, "data-role", "inline-code")
	return true
}

func (acc *accumulator) mathContainer(tok *html.Token) bool {
	switch {
	case hasClass(tok, "math"):
		acc.metrics.MathCount++
		setAttr(tok, "data-role", "math")
		setDefault(tok, "role", "math")
	case hasClass(tok, "math-fallback"):
		acc.metrics.MathCount++
		setAttr(tok, "data-role", "math-fallback")
		setDefault(tok, "aria-label", "Formula source")
	default:
		return false
	}
	return true
}

func (acc *accumulator) figure(tok *html.Token) bool {
	if !hasClass(tok, "diagram") {
		setAttr(tok, "data-role", "figure")
		return true
	}
	acc.metrics.DiagramCount++
	setAttr(tok, "data-role", "diagram")
	setDefault(tok, "role", "img")
	setDefault(tok, "aria-label", "Diagram")
	return true
}

// classify sorts an href into a link class. External links also return their
// lowercase host.
func (acc *accumulator) classify(href string) (string, string) {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "#") {
		return LinkAnchor, ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return LinkOther, ""
	}
	scheme := strings.ToLower(u.Scheme)
	switch {
	case scheme == "" && u.Host == "":
		return LinkInternal, ""
	case (scheme == "" || scheme == "http" || scheme == "https") && u.Host != "":
		host := strings.ToLower(u.Hostname())
		if acc.site != nil && strings.EqualFold(host, acc.site.Hostname()) {
			return LinkInternal, ""
		}
		return LinkExternal, host
	}
	return LinkOther, ""
}

// mergeRel appends the missing values to a space separated rel list.
func mergeRel(rel string, values ...string) string {
	fields := strings.Fields(rel)
	for _, v := range values {
		found := false
		for _, f := range fields {
			if strings.EqualFold(f, v) {
				found = true
				break
			}
		}
		if !found {
			fields = append(fields, v)
		}
	}
	return strings.Join(fields, " ")
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
