// Package server exposes the HTTP surface: admin and overlay pages, the
// queue/runtime API, the websocket state feed, health and metrics. It injects
// correlation IDs into request contexts for consistent logging and applies
// permissive CORS for development.
package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/danmu-queue/config"
	"github.com/onnwee/danmu-queue/control"
	"github.com/onnwee/danmu-queue/hub"
	"github.com/onnwee/danmu-queue/telemetry"
)

// NewMux returns the HTTP handler with all routes.
func NewMux(cfg *config.Config, ctrl *control.Controller, h *hub.Hub) http.Handler {
	authCfg := loadAuthConfig()
	handlers := NewHandlers(cfg, ctrl, h)

	mux := http.NewServeMux()

	// Metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Pages and static assets
	mux.HandleFunc("/", handlers.HandleRoot)
	mux.HandleFunc("/admin", handlers.HandleAdminPage)
	mux.HandleFunc("/overlay", handlers.HandleOverlayPage)
	mux.HandleFunc("/test", handlers.HandleTestPage)
	mux.HandleFunc("/static/custom.css", handlers.HandleCustomCSS)
	mux.Handle("/static/", handlers.StaticHandler())

	// State for pages and pollers
	mux.HandleFunc("/api/state", handlers.HandleState)

	// Runtime lifecycle
	mux.HandleFunc("/api/runtime/start", handlers.HandleRuntimeStart)
	mux.HandleFunc("/api/runtime/stop", handlers.HandleRuntimeStop)
	mux.HandleFunc("/api/runtime/test_enable", handlers.HandleTestEnable)

	// Queue administration
	mux.HandleFunc("/api/queue/remove", handlers.HandleQueueRemove)
	mux.HandleFunc("/api/queue/pin_top", handlers.HandleQueuePinTop)
	mux.HandleFunc("/api/queue/toggle_mark", handlers.HandleQueueToggleMark)

	// Test injection
	mux.HandleFunc("/api/test/danmaku", handlers.HandleTestDanmaku)

	// Websocket state feed
	mux.HandleFunc("/ws", handlers.HandleWS)

	// Health endpoint
	mux.HandleFunc("/healthz", handlers.HandleHealthz)

	// Mutating API calls get admin auth; reads, pages and the websocket
	// stay open so overlays can connect without credentials.
	selectiveHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") && r.Method == http.MethodPost {
			adminAuth(mux, authCfg).ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	// Wrap with correlation ID injector and tracing middleware
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start",
			slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		selectiveHandler.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, wrappedWriter.statusCode)
	})
	return withCORS(handler)
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack is required for websocket upgrades through the middleware chain.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, cfg *config.Config, ctrl *control.Controller, h *hub.Hub) error {
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      NewMux(cfg, ctrl, h),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // websocket connections outlive any sane write timeout
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
