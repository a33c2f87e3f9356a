package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type renderRequest struct {
	RunAt        time.Time `json:"run_at"`
	DelaySeconds int       `json:"delay_seconds"`
}

// handleRender queues a re-render of a stored document. The job carries the
// source as stored now.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	r.Body = http.MaxBytesReader(w, r.Body, 4096)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	runAt := req.RunAt
	if req.DelaySeconds > 0 {
		runAt = time.Now().Add(time.Duration(req.DelaySeconds) * time.Second)
	}

	doc, err := s.docs.GetDocument(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.submitAndRespond(w, doc, runAt, http.StatusAccepted)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.scheduler.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}
