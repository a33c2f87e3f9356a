package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/singleflight"

	"github.com/dgallion1/docpress/internal/config"
	"github.com/dgallion1/docpress/internal/doctree"
	"github.com/dgallion1/docpress/internal/pipeline"
	"github.com/dgallion1/docpress/internal/render"
	"github.com/dgallion1/docpress/internal/store"
)

// DocumentStore is the storage the API reads and writes directly.
type DocumentStore interface {
	CreateDocument(ctx context.Context, in store.NewDocument) (store.Document, error)
	UpdateSource(ctx context.Context, slug string, in store.NewDocument) (store.Document, error)
	GetDocument(ctx context.Context, slug string) (store.Document, error)
	ListSections(ctx context.Context, docID int64) ([]doctree.RenderedSection, error)
}

// Scheduler accepts render jobs.
type Scheduler interface {
	Submit(p pipeline.Payload, runAt time.Time) (*pipeline.Job, error)
	GetJob(id string) *pipeline.Job
	QueueDepth() int
	Scheduled() int
	Stats() pipeline.LatencySnapshot
}

// Server is the HTTP API server for docpress.
type Server struct {
	router    chi.Router
	scheduler Scheduler
	docs      DocumentStore
	renderer  *render.Renderer
	log       *slog.Logger
	cfg       config.Config

	previews singleflight.Group
}

// NewServer creates and configures the HTTP server.
func NewServer(sched Scheduler, docs DocumentStore, r *render.Renderer, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		scheduler: sched,
		docs:      docs,
		renderer:  r,
		log:       log,
		cfg:       cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/documents", s.handleCreateDocument)
		r.Get("/api/documents/{slug}", s.handleGetDocument)
		r.Put("/api/documents/{slug}", s.handleUpdateDocument)
		r.Get("/api/documents/{slug}/sections", s.handleListSections)
		r.Post("/api/documents/{slug}/render", s.handleRender)

		r.Get("/api/jobs/{jobID}", s.handleJobStatus)
		r.Post("/api/preview", s.handlePreview)
		r.Get("/api/stats/queue", s.handleQueueStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
