package server

import (
	"net/http"
)

// HandleHealthz responds to liveness probe requests. The process serves
// pages and the API regardless of whether chat ingestion is running, so
// liveness does not depend on the runtime state.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
