package server

import (
	"net/http"
)

type posRequest struct {
	Pos int `json:"pos"`
}

// HandleQueueRemove removes the entry at pos. Position 0 is the currently
// served entry; 1..n address the waiting list.
func (h *Handlers) HandleQueueRemove(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req posRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.ctrl.Remove(req.Pos); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// HandleQueuePinTop moves the entry at pos to the front of the waiting
// list without displacing the currently served entry.
func (h *Handlers) HandleQueuePinTop(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req posRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.ctrl.PinTop(req.Pos); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// HandleQueueToggleMark flips the marked flag on the entry at pos.
func (h *Handlers) HandleQueueToggleMark(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req posRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.ctrl.ToggleMark(req.Pos); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
