package main

import (
	"io"

	flag "github.com/spf13/pflag"
)

// renderFlags holds all flags for the render command.
type renderFlags struct {
	theme      string
	classes    bool
	siteURL    string
	json       bool
	css        bool
	mermaid    bool
	browserBin string
	summary    string
	db         string
	slug       string
	verbose    bool
}

// parseFlags parses command-line flags and returns positional args.
func parseFlags(args []string, stderr io.Writer) (*renderFlags, []string, error) {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	fs.SetOutput(stderr)
	f := &renderFlags{}

	fs.StringVar(&f.theme, "theme", "github", "chroma style for code blocks")
	fs.BoolVar(&f.classes, "classes", true, "emit highlight CSS classes instead of inline styles")
	fs.StringVar(&f.siteURL, "site-url", "http://localhost:8090", "site URL used to classify links")
	fs.BoolVar(&f.json, "json", false, "print the full render output as JSON")
	fs.BoolVar(&f.css, "css", false, "print the stylesheet for --theme and exit")
	fs.BoolVar(&f.mermaid, "mermaid", false, "render mermaid diagrams in headless Chrome")
	fs.StringVar(&f.browserBin, "browser-bin", "", "Chrome binary for --mermaid")
	fs.StringVar(&f.summary, "summary", "", "summary text rendered alongside the document")
	fs.StringVar(&f.db, "db", "", "persist into this SQLite database (requires --slug)")
	fs.StringVar(&f.slug, "slug", "", "document slug for --db")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "log pipeline progress to stderr")

	// args[0] is the program name.
	if err := fs.Parse(args[1:]); err != nil {
		return nil, nil, err
	}
	return f, fs.Args(), nil
}
