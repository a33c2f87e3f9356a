package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docpress/internal/doctree"
	"github.com/dgallion1/docpress/internal/inflight"
	"github.com/dgallion1/docpress/internal/mailbox"
	"github.com/dgallion1/docpress/internal/render"
	"github.com/dgallion1/docpress/internal/store"
)

// ErrConsistency: a mailbox delivered an artifact the container job cannot
// have asked for, or a delivery target vanished mid-job.
var ErrConsistency = errors.New("render job consistency error")

// Renderer is the part of *render.Renderer the container job drives.
type Renderer interface {
	Prepare(ctx context.Context, req render.Request) (*render.Prepared, error)
	FinalizeDocument(p *render.Prepared) (*render.Output, error)
	FinalizeSection(p *render.Prepared, s doctree.RenderedSection) (doctree.RenderedSection, error)
	RenderSummary(ctx context.Context, text string) (string, error)
}

// Worker runs container render jobs.
type Worker struct {
	store    store.Store
	renderer Renderer
	mailbox  *mailbox.Registry
	guards   *inflight.Registry
	log      *slog.Logger
	stats    *RenderStats

	backoff func(attempt int) time.Duration
}

func NewWorker(st store.Store, r Renderer, mb *mailbox.Registry, guards *inflight.Registry, log *slog.Logger) *Worker {
	return &Worker{
		store:    st,
		renderer: r,
		mailbox:  mb,
		guards:   guards,
		log:      log,
		stats:    NewRenderStats(time.Hour),
		backoff:  Backoff,
	}
}

// Process runs job to a terminal status, retrying persistence failures.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "slug", job.Slug)
	start := time.Now()

	var err error
	for attempt := range MaxRetries {
		job.incrAttempts()
		job.resetProgress()
		err = w.RenderDocument(ctx, job)
		if err == nil || !IsRetryable(err) || attempt == MaxRetries-1 {
			break
		}
		log.Warn("retryable render error", "attempt", attempt, "error", err)
		job.AddError(fmt.Sprintf("attempt %d: %s", attempt+1, err))
		select {
		case <-time.After(w.backoff(attempt)):
		case <-ctx.Done():
			err = ctx.Err()
		}
		if ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		log.Error("render job failed", "error", err)
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, job.Snapshot().Phase)
	}
	if status := job.Snapshot().Status; status != StatusRejected {
		w.stats.Record(time.Since(start), status != StatusCompleted)
	}
}

// Stats returns the worker's rolling job latency aggregate.
func (w *Worker) Stats() *RenderStats {
	return w.stats
}

// RenderDocument runs one attempt of the container job: guard the document,
// fan out the section group and summary, aggregate their deliveries and
// persist them in one transaction. A duplicate trigger ends as rejected with
// a nil error.
func (w *Worker) RenderDocument(ctx context.Context, job *Job) error {
	p, err := job.Payload()
	if err != nil {
		return err
	}
	log := w.log.With("job_id", job.ID, "slug", p.Slug)

	docID, ok, err := w.store.FindDocumentIDBySlug(ctx, p.Slug)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, p.Slug)
	}
	job.setDocID(docID)
	log = log.With("doc_id", docID)

	guard, err := w.guards.Acquire(docID)
	if errors.Is(err, inflight.ErrAlreadyRunning) {
		log.Info("render already in flight, skipping")
		job.SetStatus(StatusRejected, "guard")
		return nil
	}
	if err != nil {
		return err
	}

	var g errgroup.Group
	defer func() {
		guard.Release()
		_ = g.Wait()
	}()
	job.SetStatus(StatusGuarded, "guarded")

	// Fan out.
	job.SetStatus(StatusFanOut, "fan_out")
	groupToken := mailbox.NewToken(job.ID)
	groupRx, err := w.mailbox.Register(groupToken)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConsistency, err)
	}
	defer groupRx.Close()

	var groupErr error
	g.Go(func() error {
		err := w.mailbox.Produce(groupToken, func() (mailbox.Artifact, error) {
			a, err := w.renderSections(ctx, &g, groupToken, p, log)
			groupErr = err
			return a, err
		})
		if err != nil {
			log.Warn("section group cancelled", "error", err)
		}
		return nil
	})

	var summaryRx *mailbox.Receiver
	if strings.TrimSpace(p.Summary) != "" {
		token := mailbox.NewToken(job.ID)
		if summaryRx, err = w.mailbox.Register(token); err != nil {
			return fmt.Errorf("%w: %w", ErrConsistency, err)
		}
		defer summaryRx.Close()
		g.Go(func() error {
			err := w.mailbox.Produce(token, func() (mailbox.Artifact, error) {
				html, err := w.renderer.RenderSummary(ctx, p.Summary)
				if err != nil {
					return mailbox.Artifact{}, err
				}
				return mailbox.Summary(html), nil
			})
			if err != nil {
				log.Warn("summary cancelled", "error", err)
			}
			return nil
		})
	}

	// Aggregate.
	job.SetStatus(StatusAggregating, "aggregating")
	group, err := groupRx.Receive(ctx)
	if err != nil {
		return err
	}
	switch group.Kind {
	case mailbox.KindSections:
	case mailbox.KindCancelled:
		if groupErr != nil {
			return fmt.Errorf("render sections: %w", groupErr)
		}
		return fmt.Errorf("render sections: %s", group.Reason)
	default:
		return fmt.Errorf("%w: expected sections, got %s", ErrConsistency, group.Kind)
	}
	job.setSectionsTotal(len(group.Leaves))

	sections := make([]doctree.RenderedSection, 0, len(group.Leaves))
	cancelled := make(map[int]bool)
	for i, leaf := range group.Leaves {
		a, err := leaf.Receive(ctx)
		if err != nil {
			return err
		}
		switch a.Kind {
		case mailbox.KindSection:
			sections = append(sections, a.Section)
			job.incrSectionsRendered()
		case mailbox.KindCancelled:
			log.Warn("section cancelled, omitting", "section", i, "reason", a.Reason)
			job.AddError(fmt.Sprintf("section %d cancelled: %s", i, a.Reason))
			job.incrSectionsCancelled()
			cancelled[i] = true
		default:
			return fmt.Errorf("%w: expected section, got %s", ErrConsistency, a.Kind)
		}
	}
	if len(cancelled) > 0 {
		sections = reparent(sections, group.Document.Sections, cancelled)
	}

	var summaryHTML string
	hasSummary := false
	if summaryRx != nil {
		a, err := summaryRx.Receive(ctx)
		if err != nil {
			return err
		}
		switch a.Kind {
		case mailbox.KindSummary:
			summaryHTML, hasSummary = a.SummaryHTML, true
			job.setSummaryRendered()
		case mailbox.KindCancelled:
			log.Warn("summary cancelled, keeping previous", "reason", a.Reason)
		default:
			return fmt.Errorf("%w: expected summary, got %s", ErrConsistency, a.Kind)
		}
	}

	// Persist.
	if err := w.persist(ctx, docID, group.Document, sections, summaryHTML, hasSummary); err != nil {
		return err
	}
	job.SetStatus(StatusPersisted, "persisted")
	log.Info("document rendered",
		"sections", len(sections),
		"cancelled", len(cancelled),
		"summary", hasSummary,
		"words", group.Document.Metrics.WordCount,
	)

	guard.Release()
	if err := g.Wait(); err != nil {
		log.Warn("child task error", "error", err)
	}
	job.SetStatus(StatusCompleted, "done")
	return nil
}

// renderSections is the section-group task. It prepares the whole document,
// then registers and spawns one leaf per section. Numbering is final before
// any leaf starts.
func (w *Worker) renderSections(ctx context.Context, g *errgroup.Group, groupToken string, p Payload, log *slog.Logger) (mailbox.Artifact, error) {
	prepared, err := w.renderer.Prepare(ctx, render.Request{Slug: p.Slug, Source: p.Source})
	if err != nil {
		return mailbox.Artifact{}, err
	}
	out, err := w.renderer.FinalizeDocument(prepared)
	if err != nil {
		return mailbox.Artifact{}, err
	}

	leaves := make([]*mailbox.Receiver, 0, len(prepared.Sections))
	for _, s := range prepared.Sections {
		token := mailbox.NewToken(groupToken)
		rx, err := w.mailbox.Register(token)
		if err != nil {
			for _, l := range leaves {
				l.Close()
			}
			return mailbox.Artifact{}, fmt.Errorf("%w: %w", ErrConsistency, err)
		}
		leaves = append(leaves, rx)
		g.Go(func() error {
			err := w.mailbox.Produce(token, func() (mailbox.Artifact, error) {
				fs, err := w.renderer.FinalizeSection(prepared, s)
				if err != nil {
					return mailbox.Artifact{}, err
				}
				return mailbox.Section(fs), nil
			})
			if err != nil {
				log.Warn("section leaf cancelled", "anchor", s.Anchor, "error", err)
			}
			return nil
		})
	}

	return mailbox.Sections(&mailbox.Document{
		HTML:            out.HTML,
		Sections:        prepared.Sections,
		ContainsCode:    out.ContainsCode,
		ContainsMath:    out.ContainsMath,
		ContainsMermaid: out.ContainsMermaid,
		Metrics:         out.Metrics,
		Hints:           out.Hints,
	}, leaves), nil
}

func (w *Worker) persist(ctx context.Context, docID int64, doc *mailbox.Document, sections []doctree.RenderedSection, summaryHTML string, hasSummary bool) error {
	tx, err := w.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.ReplaceSections(ctx, docID, sections); err != nil {
		return err
	}
	if err := tx.UpdateBody(ctx, docID, store.Body{
		HTML:            doc.HTML,
		ContainsCode:    doc.ContainsCode,
		ContainsMath:    doc.ContainsMath,
		ContainsMermaid: doc.ContainsMermaid,
		Metrics:         doc.Metrics,
		Hints:           doc.Hints,
	}); err != nil {
		return err
	}
	if hasSummary {
		if err := tx.UpdateSummaryHTML(ctx, docID, summaryHTML); err != nil {
			return err
		}
	}
	if err := tx.TouchUpdatedAt(ctx, docID); err != nil {
		return err
	}
	return tx.Commit()
}

// reparent points sections whose parent was cancelled at the nearest
// surviving ancestor and renumbers positions so they stay dense per parent.
// all is the full section list in document order; cancelled holds indices
// into it; kept is in document order.
func reparent(kept, all []doctree.RenderedSection, cancelled map[int]bool) []doctree.RenderedSection {
	parentOf := make(map[string]string, len(cancelled))
	for i := range all {
		if cancelled[i] {
			parentOf[all[i].ID] = all[i].ParentID
		}
	}
	next := make(map[string]int)
	for i := range kept {
		p := kept[i].ParentID
		for {
			up, gone := parentOf[p]
			if !gone {
				break
			}
			p = up
		}
		kept[i].ParentID = p
		next[p]++
		kept[i].Position = next[p]
	}
	return kept
}
