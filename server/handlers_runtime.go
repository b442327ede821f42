package server

import (
	"net/http"
)

// HandleState returns the same snapshot the websocket feed pushes, for
// page loads and pollers.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.StatePayload())
}

// HandleRuntimeStart connects the configured chat backend and begins
// ingestion. Conflicts when the runtime is not stopped.
func (h *Handlers) HandleRuntimeStart(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := h.ctrl.Start(r.Context()); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "runtime": string(h.ctrl.State())})
}

// HandleRuntimeStop tears down ingestion and clears the queue. Stopping an
// already stopped runtime succeeds.
func (h *Handlers) HandleRuntimeStop(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := h.ctrl.Stop(); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "runtime": string(h.ctrl.State())})
}

// HandleTestEnable toggles the test injection gate.
func (h *Handlers) HandleTestEnable(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	h.ctrl.SetTestEnabled(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "test_enabled": req.Enabled})
}

// HandleTestDanmaku injects a synthetic chat message through the live
// ingestion path. Requires a running runtime with test mode enabled.
func (h *Handlers) HandleTestDanmaku(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Uname string `json:"uname"`
		Msg   string `json:"msg"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Uname == "" || req.Msg == "" {
		http.Error(w, "uname and msg are required", http.StatusBadRequest)
		return
	}
	changed, reason, err := h.ctrl.InjectDanmaku(req.Uname, req.Msg)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "changed": changed, "reason": reason})
}
