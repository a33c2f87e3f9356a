package render

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

// NewPolicy returns the sanitizer for serialized documents: the UGC policy
// plus what the renderer itself emits (highlighter classes, data attributes,
// image hints). inlineStyles also admits the highlighter's style attributes.
func NewPolicy(inlineStyles bool) *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.RequireNoFollowOnLinks(false)

	p.AllowAttrs("class").Globally()
	p.AllowAttrs("role").Matching(regexp.MustCompile(`^[a-z\-]+$`)).Globally()
	p.AllowDataAttributes()

	p.AllowAttrs("width", "height").Matching(bluemonday.Integer).OnElements("img")
	p.AllowAttrs("loading").Matching(regexp.MustCompile(`^(lazy|eager)$`)).OnElements("img")
	p.AllowAttrs("decoding").Matching(regexp.MustCompile(`^(async|sync|auto)$`)).OnElements("img")

	// GFM task lists and table alignment
	p.AllowAttrs("type").Matching(regexp.MustCompile(`^checkbox$`)).OnElements("input")
	p.AllowAttrs("checked", "disabled").OnElements("input")
	p.AllowStyles("text-align").MatchingEnum("left", "right", "center").OnElements("th", "td")

	if inlineStyles {
		p.AllowStyles(
			"color", "background-color", "font-weight", "font-style",
			"text-decoration", "display", "padding", "margin", "width",
			"overflow-x", "tab-size", "-moz-tab-size", "-o-tab-size",
			"user-select", "-webkit-user-select", "border", "border-radius",
		).OnElements("pre", "code", "span", "div")
	}
	return p
}
