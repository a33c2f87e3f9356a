package chunker

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dgallion1/docpress/internal/doctree"
)

// build renders headings as <hN id=anchor>text</hN> followed by body.
func build(levels []int, body func(i int) string) (string, []doctree.HeadingInfo) {
	var b strings.Builder
	headings := make([]doctree.HeadingInfo, len(levels))
	for i, lvl := range levels {
		anchor := fmt.Sprintf("h-%d", i)
		headings[i] = doctree.HeadingInfo{Level: lvl, Anchor: anchor, Text: fmt.Sprintf("Heading %d", i)}
		fmt.Fprintf(&b, "<h%d id=\"%s\">Heading %d</h%d>\n", lvl, anchor, i, lvl)
		if body != nil {
			b.WriteString(body(i))
		}
	}
	return b.String(), headings
}

func TestAssembleSections_ParentsFollowLevels(t *testing.T) {
	t.Parallel()
	levels := []int{1, 2, 3, 3, 2, 1, 3, 2}
	src, headings := build(levels, nil)

	sections, err := AssembleSections(src, headings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sections) != len(levels) {
		t.Fatalf("expected %d sections, got %d", len(levels), len(sections))
	}

	// expected parent index per heading (-1 root)
	wantParent := []int{-1, 0, 1, 1, 0, -1, 5, 5}
	wantPos := []int{1, 1, 1, 2, 2, 2, 1, 2}
	for i, s := range sections {
		want := ""
		if wantParent[i] >= 0 {
			want = sections[wantParent[i]].ID
		}
		if s.ParentID != want {
			t.Errorf("section %d: parent %q, want %q", i, s.ParentID, want)
		}
		if s.Position != wantPos[i] {
			t.Errorf("section %d: position %d, want %d", i, s.Position, wantPos[i])
		}
		if s.Level != levels[i] || s.Anchor != headings[i].Anchor {
			t.Errorf("section %d: unexpected level/anchor %d %q", i, s.Level, s.Anchor)
		}
		if s.BodyHTML != "" {
			t.Errorf("section %d: expected empty body, got %q", i, s.BodyHTML)
		}
	}
}

func TestAssembleSections_DensePositions(t *testing.T) {
	t.Parallel()
	src, headings := build([]int{2, 2, 1, 3, 3, 3, 1}, nil)
	sections, err := AssembleSections(src, headings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byParent := map[string][]int{}
	for _, s := range sections {
		byParent[s.ParentID] = append(byParent[s.ParentID], s.Position)
	}
	for parent, positions := range byParent {
		for i, p := range positions {
			if p != i+1 {
				t.Errorf("parent %q: positions %v are not dense from 1", parent, positions)
				break
			}
		}
	}
	if got := len(byParent[""]); got != 4 {
		t.Errorf("expected 4 root sections, got %d", got)
	}
}

func TestAssembleSections_Bodies(t *testing.T) {
	t.Parallel()
	src := "<p>preamble</p>\n" +
		`<h1 id="a">A <code>x</code></h1>` + "\n<p>alpha</p>\n" +
		`<h2 id="a-sub">Sub</h2>` + "\n<p>beta</p>\n" +
		`<h1 id="b">B</h1>` + "\n<p>gamma</p>\n"
	headings := []doctree.HeadingInfo{
		{Level: 1, Anchor: "a", Text: "A x", ContainsCode: true},
		{Level: 2, Anchor: "a-sub", Text: "Sub", ContainsInlineMath: true},
		{Level: 1, Anchor: "b", Text: "B", ContainsDiagram: true},
	}
	sections, err := AssembleSections(src, headings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sections[0].HeadingHTML; got != `<h1 id="a">A <code>x</code></h1>` {
		t.Errorf("unexpected heading html %q", got)
	}
	wantBodies := []string{"<p>alpha</p>", "<p>beta</p>", "<p>gamma</p>"}
	for i, want := range wantBodies {
		if sections[i].BodyHTML != want {
			t.Errorf("section %d body = %q, want %q", i, sections[i].BodyHTML, want)
		}
	}
	if !sections[0].ContainsCode || sections[0].ContainsMath {
		t.Errorf("unexpected flags on A: %+v", sections[0])
	}
	if !sections[1].ContainsMath {
		t.Errorf("expected math flag on Sub")
	}
	if !sections[2].ContainsMermaid {
		t.Errorf("expected mermaid flag on B")
	}
	if sections[0].HeadingText != "A x" {
		t.Errorf("unexpected heading text %q", sections[0].HeadingText)
	}
}

func TestAssembleSections_NestedHeadingsBalanceBodies(t *testing.T) {
	t.Parallel()
	src := `<h1 id="a">A</h1>` + "\n<ul>\n<li>\n" +
		`<h2 id="b">B</h2>` + "\n<p>item</p>\n</li>\n</ul>\n<blockquote>\n" +
		`<h2 id="c">C</h2>` + "\n<p>quoted</p>\n</blockquote>\n"
	headings := []doctree.HeadingInfo{
		{Level: 1, Anchor: "a", Text: "A"},
		{Level: 2, Anchor: "b", Text: "B"},
		{Level: 2, Anchor: "c", Text: "C"},
	}
	sections, err := AssembleSections(src, headings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"open list closed", sections[0].BodyHTML, "<ul>\n<li>\n</li></ul>"},
		{"list closers dropped", sections[1].BodyHTML, "<p>item</p>\n\n\n<blockquote>\n</blockquote>"},
		{"blockquote closer dropped", sections[2].BodyHTML, "<p>quoted</p>"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: body = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestBalance_LeavesBalancedFragmentsAlone(t *testing.T) {
	t.Parallel()
	frags := []string{
		"<p>a<br>b</p>",
		`<pre><code class="language-go">x &lt; y</code></pre>`,
		`<img src="x.png" alt=""><hr/>`,
		"<!-- note --><div><span>x</span></div>",
	}
	for _, f := range frags {
		if got := balance(f); got != f {
			t.Errorf("balance(%q) = %q", f, got)
		}
	}
}

func TestAssembleSections_UniqueIDs(t *testing.T) {
	t.Parallel()
	src, headings := build([]int{1, 1, 1}, nil)
	sections, err := AssembleSections(src, headings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seen := map[string]bool{}
	for _, s := range sections {
		if s.ID == "" || seen[s.ID] {
			t.Fatalf("duplicate or empty id %q", s.ID)
		}
		seen[s.ID] = true
	}
}

func TestAssembleSections_NoHeadings(t *testing.T) {
	t.Parallel()
	sections, err := AssembleSections("<p>text</p>", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sections) != 0 {
		t.Errorf("expected no sections, got %d", len(sections))
	}
}

func TestAssembleSections_MissingAnchor(t *testing.T) {
	t.Parallel()
	src := `<h1 id="a">A</h1><h2 id="zzz">B</h2>`
	headings := []doctree.HeadingInfo{{Level: 1, Anchor: "a"}, {Level: 2, Anchor: "b"}}
	if _, err := AssembleSections(src, headings); !errors.Is(err, ErrHeadingNotFound) {
		t.Fatalf("expected ErrHeadingNotFound, got %v", err)
	}
}
