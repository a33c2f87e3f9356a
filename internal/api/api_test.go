package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-slug"

	"github.com/dgallion1/docpress/internal/config"
	"github.com/dgallion1/docpress/internal/doctree"
	"github.com/dgallion1/docpress/internal/inflight"
	"github.com/dgallion1/docpress/internal/mailbox"
	"github.com/dgallion1/docpress/internal/pipeline"
	"github.com/dgallion1/docpress/internal/render"
	"github.com/dgallion1/docpress/internal/store"
)

const testKey = "secret"

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type testServer struct {
	*Server
	orch *pipeline.Orchestrator
	db   *store.Bun
}

func newTestServer(t *testing.T, opts ...func(*render.Config)) *testServer {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Defaults()
	cfg.APIKey = testKey
	cfg.WorkerCount = 2
	cfg.MaxSourceBytes = 1024

	rcfg := render.Config{
		Settings: config.MustStatic("https://blog.example.com"),
		Logger:   quiet,
	}
	for _, opt := range opts {
		opt(&rcfg)
	}
	r := render.New(rcfg)
	w := pipeline.NewWorker(db, r, mailbox.NewRegistry(quiet), inflight.NewRegistry(), quiet)
	orch := pipeline.NewOrchestrator(cfg, w, quiet)
	orch.Start(ctx)
	t.Cleanup(orch.Stop)

	return &testServer{
		Server: NewServer(orch, db, r, quiet, cfg),
		orch:   orch,
		db:     db,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if auth {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func (s *testServer) waitJob(t *testing.T, id string) pipeline.JobSnapshot {
	t.Helper()
	job := s.orch.GetJob(id)
	if job == nil {
		t.Fatalf("job %s not tracked", id)
	}
	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("job %s did not finish", id)
	}
	return job.Snapshot()
}

type submitResponse struct {
	Document store.Document `json:"document"`
	JobID    string         `json:"job_id"`
	PollURL  string         `json:"poll_url"`
}

func TestHealth_Public(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/stats/queue", nil, false)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing header: expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stats/queue", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: expected 401, got %d", rec.Code)
	}

	if rec := s.do(t, http.MethodGet, "/api/stats/queue", nil, true); rec.Code != http.StatusOK {
		t.Errorf("valid key: expected 200, got %d", rec.Code)
	}
}

func TestCreateDocument_RendersAndPersists(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/documents", documentRequest{
		Title:   "Hello World",
		Source:  "# A\n\nalpha\n\n## A1\n\nbeta\n\n# B\n\ngamma\n",
		Summary: "Short *summary*.",
	}, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp submitResponse
	decode(t, rec, &resp)
	want, err := slug.Normalize("Hello World")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Document.Slug != want {
		t.Errorf("expected slug %q derived from title, got %q", want, resp.Document.Slug)
	}
	if resp.PollURL != "/api/jobs/"+resp.JobID {
		t.Errorf("unexpected poll url %q", resp.PollURL)
	}

	if snap := s.waitJob(t, resp.JobID); snap.Status != pipeline.StatusCompleted {
		t.Fatalf("expected completed, got %q (%v)", snap.Status, snap.Progress.Errors)
	}

	rec = s.do(t, http.MethodGet, "/api/documents/"+want+"/sections", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list struct {
		Sections []doctree.RenderedSection `json:"sections"`
	}
	decode(t, rec, &list)
	if len(list.Sections) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(list.Sections))
	}
	if list.Sections[1].ParentID != list.Sections[0].ID {
		t.Errorf("expected A1 nested under A")
	}

	rec = s.do(t, http.MethodGet, "/api/documents/"+want, nil, true)
	var doc store.Document
	decode(t, rec, &doc)
	if doc.RenderedAt == nil || !strings.Contains(doc.HTML, "gamma") {
		t.Errorf("expected rendered body to be stored, got %+v", doc)
	}
	if !strings.Contains(doc.SummaryHTML, "<em>summary</em>") {
		t.Errorf("expected summary html, got %q", doc.SummaryHTML)
	}
}

func TestCreateDocument_Conflict(t *testing.T) {
	s := newTestServer(t)
	body := documentRequest{Slug: "post", Source: "# A\n"}
	if rec := s.do(t, http.MethodPost, "/api/documents", body, true); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/api/documents", body, true); rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestCreateDocument_Validation(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		body documentRequest
		want int
	}{
		{"no slug or title", documentRequest{Source: "# A\n"}, http.StatusBadRequest},
		{"no source", documentRequest{Slug: "x"}, http.StatusBadRequest},
		{"too large", documentRequest{Slug: "x", Source: strings.Repeat("a", 2048)}, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := s.do(t, http.MethodPost, "/api/documents", tt.body, true); rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestUpdateDocument(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/documents", documentRequest{Slug: "post", Source: "# Old\n"}, true)
	var created submitResponse
	decode(t, rec, &created)
	s.waitJob(t, created.JobID)

	rec = s.do(t, http.MethodPut, "/api/documents/post", documentRequest{Title: "Post", Source: "# New\n\nbody\n"}, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated submitResponse
	decode(t, rec, &updated)
	if snap := s.waitJob(t, updated.JobID); snap.Status != pipeline.StatusCompleted {
		t.Fatalf("expected completed, got %q", snap.Status)
	}

	id, _, err := s.db.FindDocumentIDBySlug(context.Background(), "post")
	if err != nil {
		t.Fatal(err)
	}
	sections, err := s.db.ListSections(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if len(sections) != 1 || sections[0].HeadingText != "New" {
		t.Errorf("expected sections replaced by the update, got %+v", sections)
	}

	if rec := s.do(t, http.MethodPut, "/api/documents/missing", documentRequest{Source: "x"}, true); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown slug, got %d", rec.Code)
	}
}

func TestRenderEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/documents", documentRequest{Slug: "post", Source: "# A\n"}, true)
	var created submitResponse
	decode(t, rec, &created)
	s.waitJob(t, created.JobID)

	rec = s.do(t, http.MethodPost, "/api/documents/post/render", nil, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp submitResponse
	decode(t, rec, &resp)
	s.waitJob(t, resp.JobID)

	rec = s.do(t, http.MethodGet, resp.PollURL, nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap pipeline.JobSnapshot
	decode(t, rec, &snap)
	if snap.Status != pipeline.StatusCompleted || snap.Progress.SectionsRendered != 1 {
		t.Errorf("unexpected job snapshot %+v", snap)
	}

	if rec := s.do(t, http.MethodPost, "/api/documents/missing/render", nil, true); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/jobs/nope", nil, true); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRenderEndpoint_Delayed(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/documents", documentRequest{Slug: "post", Source: "# A\n"}, true)
	var created submitResponse
	decode(t, rec, &created)
	s.waitJob(t, created.JobID)

	rec = s.do(t, http.MethodPost, "/api/documents/post/render", renderRequest{DelaySeconds: 3600}, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if s.orch.Scheduled() != 1 {
		t.Errorf("expected one scheduled job, got %d", s.orch.Scheduled())
	}
}

func TestPreview(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/preview", previewRequest{
		Source:  "# Intro\n\n<script>alert(1)</script>\n\n```go\nx := 1\n```\n",
		Summary: "tl;dr",
	}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		HTML         string                    `json:"html"`
		Sections     []doctree.RenderedSection `json:"sections"`
		ContainsCode bool                      `json:"contains_code"`
		SummaryHTML  string                    `json:"summary_html"`
	}
	decode(t, rec, &out)
	if strings.Contains(out.HTML, "<script") {
		t.Errorf("expected script stripped, got %q", out.HTML)
	}
	if len(out.Sections) != 1 || !out.ContainsCode {
		t.Errorf("unexpected preview output: %+v", out)
	}
	if !strings.Contains(out.SummaryHTML, "tl;dr") {
		t.Errorf("expected summary html, got %q", out.SummaryHTML)
	}
}

func TestPreview_BadJSON(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/preview", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

// gatedDiagrams blocks every render until release is closed.
type gatedDiagrams struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (g *gatedDiagrams) Render(ctx context.Context, src string) (string, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	<-g.release
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return `<svg class="gated"></svg>`, nil
}

func TestPreview_SharedRenderSurvivesFirstCallerLeaving(t *testing.T) {
	diagrams := &gatedDiagrams{started: make(chan struct{}), release: make(chan struct{})}
	s := newTestServer(t, func(c *render.Config) { c.Diagrams = diagrams })

	body, err := json.Marshal(previewRequest{Source: "# D\n\n```mermaid\ngraph TD; A-->B\n```\n"})
	if err != nil {
		t.Fatal(err)
	}
	newReq := func(ctx context.Context) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/preview", bytes.NewReader(body)).WithContext(ctx)
		req.Header.Set("Authorization", "Bearer "+testKey)
		return req
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		s.ServeHTTP(httptest.NewRecorder(), newReq(firstCtx))
	}()
	<-diagrams.started

	second := httptest.NewRecorder()
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		s.ServeHTTP(second, newReq(context.Background()))
	}()
	time.Sleep(50 * time.Millisecond) // let the second caller join the flight

	cancelFirst()
	select {
	case <-firstDone:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller did not return")
	}
	close(diagrams.release)

	select {
	case <-secondDone:
	case <-time.After(5 * time.Second):
		t.Fatal("second caller did not return")
	}
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 for the remaining caller, got %d: %s", second.Code, second.Body.String())
	}
	if !strings.Contains(second.Body.String(), "gated") {
		t.Errorf("expected the diagram svg in the shared result, got %s", second.Body.String())
	}
	if n := diagrams.calls.Load(); n != 1 {
		t.Errorf("expected one shared render, got %d", n)
	}
}
