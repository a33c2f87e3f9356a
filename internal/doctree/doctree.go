// Package doctree holds the data model shared by the renderer, the section
// assembler and the job pipeline.
package doctree

// HeadingInfo describes one heading discovered during the rewrite walk.
type HeadingInfo struct {
	Level  int    // 1-6
	Anchor string // unique within the document
	Text   string // normalized heading text

	ContainsCode       bool
	ContainsBlockMath  bool
	ContainsInlineMath bool
	ContainsDiagram    bool
}

// ContainsMath reports whether any math was typeset below this heading.
func (h HeadingInfo) ContainsMath() bool {
	return h.ContainsBlockMath || h.ContainsInlineMath
}

// RenderedSection is a persisted slice of a document anchored to one heading.
type RenderedSection struct {
	ID          string `json:"id"`
	ParentID    string `json:"parent_id,omitempty"` // empty for root sections
	Position    int    `json:"position"`            // 1-based among siblings
	Level       int    `json:"level"`
	HeadingHTML string `json:"heading_html"`
	HeadingText string `json:"heading_text"`
	BodyHTML    string `json:"body_html"`
	Anchor      string `json:"anchor"`

	ContainsCode    bool `json:"contains_code"`
	ContainsMath    bool `json:"contains_math"`
	ContainsMermaid bool `json:"contains_mermaid"`
}

// IsRoot reports whether the section has no parent.
func (s RenderedSection) IsRoot() bool {
	return s.ParentID == ""
}

// ContentMetrics are counters accumulated by the augmentation pass.
type ContentMetrics struct {
	WordCount          int `json:"word_count"`
	ReadingTimeMinutes int `json:"reading_time_minutes"`

	LinkCount         int `json:"link_count"`
	ExternalLinkCount int `json:"external_link_count"`
	InternalLinkCount int `json:"internal_link_count"`
	AnchorLinkCount   int `json:"anchor_link_count"`
	OtherLinkCount    int `json:"other_link_count"`

	ImageCount              int `json:"image_count"`
	ImagesMissingAlt        int `json:"images_missing_alt"`
	ImagesMissingDimensions int `json:"images_missing_dimensions"`

	CodeBlockCount  int `json:"code_block_count"`
	InlineCodeCount int `json:"inline_code_count"`
	MathCount       int `json:"math_count"`
	DiagramCount    int `json:"diagram_count"`
	TableCount      int `json:"table_count"`
	BlockquoteCount int `json:"blockquote_count"`
}

// ResourceHints lists external domains the rendered page references.
type ResourceHints struct {
	Preconnect  []string `json:"preconnect"`   // image hosts
	DNSPrefetch []string `json:"dns_prefetch"` // link hosts
}

// WordsPerMinute is the reading speed behind ReadingMinutes.
const WordsPerMinute = 225

// ReadingMinutes estimates reading time: ceil(words/225), at least 1 when
// there are any words.
func ReadingMinutes(words int) int {
	if words <= 0 {
		return 0
	}
	return (words + WordsPerMinute - 1) / WordsPerMinute
}
