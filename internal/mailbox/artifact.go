package mailbox

import (
	"github.com/dgallion1/docpress/internal/doctree"
)

// Kind identifies the variant an Artifact carries.
type Kind int

const (
	KindCancelled Kind = iota
	KindSections
	KindSection
	KindSummary
)

func (k Kind) String() string {
	switch k {
	case KindSections:
		return "sections"
	case KindSection:
		return "section"
	case KindSummary:
		return "summary"
	}
	return "cancelled"
}

// Document is the finalized whole-document render that travels with the
// section group. Sections is the assembled tree as numbered before fan-out.
type Document struct {
	HTML            string
	Sections        []doctree.RenderedSection
	ContainsCode    bool
	ContainsMath    bool
	ContainsMermaid bool
	Metrics         doctree.ContentMetrics
	Hints           doctree.ResourceHints
}

// Artifact is the single result delivered to a token. Only the fields of
// its Kind are set.
type Artifact struct {
	Kind Kind

	// KindSections: the document and one receiver per section, in section
	// order.
	Document *Document
	Leaves   []*Receiver

	// KindSection
	Section doctree.RenderedSection

	// KindSummary
	SummaryHTML string

	// KindCancelled
	Reason string
}

func Sections(doc *Document, leaves []*Receiver) Artifact {
	return Artifact{Kind: KindSections, Document: doc, Leaves: leaves}
}

func Section(s doctree.RenderedSection) Artifact {
	return Artifact{Kind: KindSection, Section: s}
}

func Summary(html string) Artifact {
	return Artifact{Kind: KindSummary, SummaryHTML: html}
}

func Cancelled(reason string) Artifact {
	return Artifact{Kind: KindCancelled, Reason: reason}
}

// IsCancelled reports whether the producer gave up.
func (a Artifact) IsCancelled() bool {
	return a.Kind == KindCancelled
}
