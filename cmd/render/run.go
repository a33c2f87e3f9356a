package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/dgallion1/docpress/internal/config"
	"github.com/dgallion1/docpress/internal/diagram"
	"github.com/dgallion1/docpress/internal/highlight"
	"github.com/dgallion1/docpress/internal/inflight"
	"github.com/dgallion1/docpress/internal/mailbox"
	"github.com/dgallion1/docpress/internal/mathtex"
	"github.com/dgallion1/docpress/internal/pipeline"
	"github.com/dgallion1/docpress/internal/render"
	"github.com/dgallion1/docpress/internal/store"
)

var (
	ErrUsage     = errors.New("usage error")
	ErrReadInput = errors.New("failed to read input")
	ErrJobFailed = errors.New("render job failed")
)

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	f, rest, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
	if (f.db == "") != (f.slug == "") {
		return fmt.Errorf("%w: --db and --slug must be used together", ErrUsage)
	}
	if len(rest) > 1 {
		return fmt.Errorf("%w: expected at most one input file", ErrUsage)
	}
	site, err := url.Parse(f.siteURL)
	if err != nil || site.Scheme == "" || site.Host == "" {
		return fmt.Errorf("%w: --site-url must be absolute: %q", ErrUsage, f.siteURL)
	}

	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	hl := highlight.NewChroma(highlight.Options{Theme: f.theme, Classes: f.classes})
	if f.css {
		css, err := hl.CSS()
		if err != nil {
			return err
		}
		_, err = io.WriteString(stdout, css)
		return err
	}

	source, err := readInput(rest, stdin)
	if err != nil {
		return err
	}

	rcfg := render.Config{
		Highlighter:  hl,
		Typesetter:   mathtex.MathML{},
		Settings:     config.StaticSettings{URL: site},
		Theme:        f.theme,
		InlineStyles: !f.classes,
		Logger:       log,
	}
	if f.mermaid {
		m := diagram.NewMermaid(diagram.MermaidOptions{BrowserBin: f.browserBin})
		defer m.Close()
		rcfg.Diagrams = m
	}
	r := render.New(rcfg)

	if f.db != "" {
		return persist(ctx, r, f, source, stdout, log)
	}

	out, err := r.Render(ctx, render.Request{Slug: "stdin", Source: source})
	if err != nil {
		return err
	}
	summaryHTML := ""
	if f.summary != "" {
		if summaryHTML, err = r.RenderSummary(ctx, f.summary); err != nil {
			return err
		}
	}
	if f.json {
		return writeJSON(stdout, struct {
			*render.Output
			SummaryHTML string `json:"summary_html,omitempty"`
		}{out, summaryHTML})
	}
	if summaryHTML != "" {
		fmt.Fprintln(stdout, summaryHTML)
	}
	_, err = io.WriteString(stdout, out.HTML)
	return err
}

// persist stores source under the slug and runs one render job to completion.
func persist(ctx context.Context, r *render.Renderer, f *renderFlags, source string, stdout io.Writer, log *slog.Logger) error {
	db, err := store.Open(ctx, f.db)
	if err != nil {
		return err
	}
	defer db.Close()

	in := store.NewDocument{Slug: f.slug, Title: f.slug, Source: source, Summary: f.summary}
	if _, found, err := db.FindDocumentIDBySlug(ctx, f.slug); err != nil {
		return err
	} else if found {
		_, err = db.UpdateSource(ctx, f.slug, in)
		if err != nil {
			return err
		}
	} else if _, err := db.CreateDocument(ctx, in); err != nil {
		return err
	}

	job, err := pipeline.NewJob(pipeline.Payload{Slug: f.slug, Source: source, Summary: f.summary}, time.Time{})
	if err != nil {
		return err
	}
	w := pipeline.NewWorker(db, r, mailbox.NewRegistry(log), inflight.NewRegistry(), log)
	w.Process(ctx, job)

	snap := job.Snapshot()
	if f.json {
		if err := writeJSON(stdout, snap); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(stdout, "%s: %s (%d sections)\n", f.slug, snap.Status, snap.Progress.SectionsRendered)
	}
	if snap.Status != pipeline.StatusCompleted {
		return fmt.Errorf("%w: %s %v", ErrJobFailed, snap.Status, snap.Progress.Errors)
	}
	return nil
}

func readInput(rest []string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(rest) == 1 && rest[0] != "-" {
		data, err = os.ReadFile(rest[0])
	} else {
		data, err = io.ReadAll(stdin)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrReadInput, err)
	}
	return string(data), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
