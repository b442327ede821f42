// Package server middleware for authentication and CORS.
package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"os"
)

// authConfig holds authentication configuration loaded from environment
type authConfig struct {
	adminToken string
	enabled    bool
}

// loadAuthConfig reads auth configuration from environment variables.
// When ADMIN_TOKEN is unset the mutating API is open, which is the normal
// single-operator localhost deployment.
func loadAuthConfig() *authConfig {
	token := os.Getenv("ADMIN_TOKEN")
	if token == "" {
		slog.Info("admin token not configured, mutating API is unprotected")
	}
	return &authConfig{adminToken: token, enabled: token != ""}
}

// adminAuth protects mutating endpoints with token-based auth.
func adminAuth(next http.Handler, cfg *authConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.enabled {
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get("X-Admin-Token")
		if token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cfg.adminToken)) == 1 {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		slog.Warn("admin auth failed", slog.String("path", r.URL.Path), slog.String("remote_addr", r.RemoteAddr))
	})
}

// withCORS applies permissive CORS for development so admin tooling served
// from another origin can reach the API.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Token, X-Correlation-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
