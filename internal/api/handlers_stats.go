package api

import (
	"net/http"
)

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"queue_depth": s.scheduler.QueueDepth(),
		"scheduled":   s.scheduler.Scheduled(),
		"workers":     s.cfg.WorkerCount,
		"jobs":        s.scheduler.Stats(),
	})
}
