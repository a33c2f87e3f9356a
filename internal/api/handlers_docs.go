package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goliatone/go-slug"

	"github.com/dgallion1/docpress/internal/pipeline"
	"github.com/dgallion1/docpress/internal/store"
)

type documentRequest struct {
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Source  string `json:"source"`
	Summary string `json:"summary"`
}

// decodeDocument reads a document body capped at MaxSourceBytes of source.
func (s *Server) decodeDocument(w http.ResponseWriter, r *http.Request) (documentRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxSourceBytes+64*1024) // extra for JSON overhead
	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, fmt.Sprintf("request exceeds max size (%d bytes)", s.cfg.MaxSourceBytes), http.StatusRequestEntityTooLarge)
			return req, false
		}
		jsonError(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return req, false
	}
	if int64(len(req.Source)) > s.cfg.MaxSourceBytes {
		jsonError(w, fmt.Sprintf("source exceeds max size (%d bytes)", s.cfg.MaxSourceBytes), http.StatusRequestEntityTooLarge)
		return req, false
	}
	return req, true
}

// handleCreateDocument stores a document and queues its first render.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeDocument(w, r)
	if !ok {
		return
	}
	docSlug := strings.TrimSpace(req.Slug)
	if docSlug == "" && req.Title != "" {
		docSlug, _ = slug.Normalize(req.Title)
	}
	if docSlug == "" {
		jsonError(w, "slug or title is required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		jsonError(w, "source is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := s.docs.GetDocument(ctx, docSlug); err == nil {
		jsonError(w, "document already exists: "+docSlug, http.StatusConflict)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		s.storeError(w, err)
		return
	}

	doc, err := s.docs.CreateDocument(ctx, store.NewDocument{
		Slug:    docSlug,
		Title:   req.Title,
		Source:  req.Source,
		Summary: req.Summary,
	})
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.submitAndRespond(w, doc, time.Time{}, http.StatusCreated)
}

// handleUpdateDocument replaces a document's source and queues a render.
// Rapid successive saves may queue several; the in-flight guard keeps one
// running per document.
func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeDocument(w, r)
	if !ok {
		return
	}
	doc, err := s.docs.UpdateSource(r.Context(), chi.URLParam(r, "slug"), store.NewDocument{
		Title:   req.Title,
		Source:  req.Source,
		Summary: req.Summary,
	})
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.submitAndRespond(w, doc, time.Time{}, http.StatusAccepted)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.docs.GetDocument(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleListSections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := s.docs.GetDocument(ctx, chi.URLParam(r, "slug"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	sections, err := s.docs.ListSections(ctx, doc.ID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"slug":     doc.Slug,
		"sections": sections,
	})
}

func (s *Server) submitAndRespond(w http.ResponseWriter, doc store.Document, runAt time.Time, status int) {
	job, err := s.scheduler.Submit(pipeline.Payload{
		Slug:    doc.Slug,
		Source:  doc.Source,
		Summary: doc.Summary,
	}, runAt)
	if err != nil {
		s.log.Warn("render not queued", "slug", doc.Slug, "error", err)
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	snap := job.Snapshot()
	writeJSON(w, status, map[string]any{
		"document": doc,
		"job_id":   snap.ID,
		"status":   snap.Status,
		"run_at":   snap.RunAt,
		"poll_url": fmt.Sprintf("/api/jobs/%s", snap.ID),
	})
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	s.log.Error("store error", "error", err)
	jsonError(w, "storage error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
