// Command danmu-queue runs the live-stream queue server.
// It:
//   - Loads configuration and initializes structured logging.
//   - Serves the admin, overlay and test pages plus the queue/runtime API.
//   - Broadcasts state snapshots to display clients over websocket.
//   - Connects to bilibili chat (open platform or web session) on demand.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/danmu-queue/config"
	"github.com/onnwee/danmu-queue/control"
	"github.com/onnwee/danmu-queue/hub"
	"github.com/onnwee/danmu-queue/queue"
	"github.com/onnwee/danmu-queue/server"
	"github.com/onnwee/danmu-queue/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("danmu-queue", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := queue.NewStore(cfg.Queue.MaxQueue)
	h := hub.New()
	ctrl := control.New(cfg, store, h)

	if cfg.Runtime.Autostart {
		startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := ctrl.Start(startCtx); err != nil {
			if errors.Is(err, config.ErrNoBackend) || errors.Is(err, config.ErrWebRoomRequired) {
				slog.Warn("autostart skipped, no usable chat backend", slog.Any("err", err))
			} else {
				slog.Error("autostart failed", slog.Any("err", err))
			}
		}
		cancel()
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	slog.Info("http server starting",
		slog.String("addr", cfg.Addr()),
		slog.String("overlay", cfg.OverlayURL()))
	err = server.Start(ctx, cfg, ctrl, h)

	// Tear down ingestion before exiting so the open-platform session ends cleanly.
	if stopErr := ctrl.Stop(); stopErr != nil {
		slog.Warn("runtime stop on shutdown", slog.Any("err", stopErr))
	}
	if err != nil {
		os.Exit(1)
	}
}
