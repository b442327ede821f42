// Package server exposes the HTTP API handlers.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/onnwee/danmu-queue/config"
	"github.com/onnwee/danmu-queue/control"
	"github.com/onnwee/danmu-queue/hub"
	"github.com/onnwee/danmu-queue/queue"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	cfg  *config.Config
	ctrl *control.Controller
	hub  *hub.Hub
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(cfg *config.Config, ctrl *control.Controller, h *hub.Hub) *Handlers {
	return &Handlers{cfg: cfg, ctrl: ctrl, hub: h}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeOpError maps domain errors onto HTTP statuses: state violations are
// conflicts, bad positions and missing config are client errors, upstream
// connect failures are bad gateways.
func writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, control.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, queue.ErrOutOfRange),
		errors.Is(err, config.ErrNoBackend),
		errors.Is(err, config.ErrWebRoomRequired):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, control.ErrConnect):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}
