package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dgallion1/docpress/internal/pipeline"
	"github.com/dgallion1/docpress/internal/render"
)

const previewTimeout = 60 * time.Second

type previewRequest struct {
	Source  string `json:"source"`
	Summary string `json:"summary"`
}

type previewResponse struct {
	*render.Output
	SummaryHTML string `json:"summary_html,omitempty"`
}

// handlePreview renders a source synchronously without storing it.
// Identical concurrent previews share one render.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxSourceBytes+64*1024)
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, fmt.Sprintf("request exceeds max size (%d bytes)", s.cfg.MaxSourceBytes), http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if int64(len(req.Source)) > s.cfg.MaxSourceBytes {
		jsonError(w, fmt.Sprintf("source exceeds max size (%d bytes)", s.cfg.MaxSourceBytes), http.StatusRequestEntityTooLarge)
		return
	}

	key := pipeline.ContentHashHex([]byte(req.Source + "\x00" + req.Summary))
	// The shared render is detached from every caller's cancellation.
	ch := s.previews.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), previewTimeout)
		defer cancel()
		out, err := s.renderer.Render(ctx, render.Request{Slug: "preview", Source: req.Source})
		if err != nil {
			return nil, err
		}
		resp := &previewResponse{Output: out}
		if resp.SummaryHTML, err = s.renderer.RenderSummary(ctx, req.Summary); err != nil {
			return nil, err
		}
		return resp, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-r.Context().Done():
		s.log.Debug("preview abandoned by client", "key", key[:12])
		return
	}
	v, err := res.Val, res.Err
	if err != nil {
		if errors.Is(err, render.ErrStructural) {
			jsonError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		s.log.Error("preview failed", "error", err)
		jsonError(w, "render failed", http.StatusInternalServerError)
		return
	}
	if res.Shared {
		s.log.Debug("preview shared", "key", key[:12])
	}
	writeJSON(w, http.StatusOK, v)
}
