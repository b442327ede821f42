// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	DanmakuReceived  prometheus.Counter
	JoinsAccepted    prometheus.Counter
	JoinsRejected    *prometheus.CounterVec // reason: full|duplicate
	SourceErrors     prometheus.Counter
	BroadcastDropped prometheus.Counter

	// Gauges
	QueueDepthGauge  prometheus.Gauge
	SubscribersGauge prometheus.Gauge
	RuntimeUpGauge   prometheus.Gauge // 1=running,0=stopped
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		DanmakuReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "danmu_messages_received_total", Help: "Chat messages received from the active source (including test injections)"})
		JoinsAccepted = promauto.NewCounter(prometheus.CounterOpts{Name: "danmu_queue_joins_accepted_total", Help: "Keyword matches admitted into the queue"})
		JoinsRejected = promauto.NewCounterVec(prometheus.CounterOpts{Name: "danmu_queue_joins_rejected_total", Help: "Keyword matches rejected by the queue"}, []string{"reason"})
		SourceErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "danmu_source_errors_total", Help: "Upstream chat connection failures and unexpected disconnects"})
		BroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "danmu_broadcast_dropped_total", Help: "State payloads skipped for slow subscribers"})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "danmu_queue_depth", Help: "Current number of queued viewers"})
		SubscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "danmu_subscribers", Help: "Currently connected display clients"})
		RuntimeUpGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "danmu_runtime_running", Help: "Ingestion running=1 stopped=0"})
	})
}

// SetQueueDepth records the current queue length.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// SetSubscribers records the current display-client count.
func SetSubscribers(n int) {
	if SubscribersGauge != nil {
		SubscribersGauge.Set(float64(n))
	}
}

// SetRuntimeRunning flips the running gauge.
func SetRuntimeRunning(running bool) {
	if RuntimeUpGauge == nil {
		return
	}
	if running {
		RuntimeUpGauge.Set(1)
	} else {
		RuntimeUpGauge.Set(0)
	}
}

// IncDanmakuReceived counts one chat message entering the pipeline.
func IncDanmakuReceived() {
	if DanmakuReceived != nil {
		DanmakuReceived.Inc()
	}
}

// IncJoinAccepted counts one admitted queue join.
func IncJoinAccepted() {
	if JoinsAccepted != nil {
		JoinsAccepted.Inc()
	}
}

// IncSourceError counts one upstream connection failure or disconnect.
func IncSourceError() {
	if SourceErrors != nil {
		SourceErrors.Inc()
	}
}

// IncJoinRejected counts a rejected join by reason.
func IncJoinRejected(reason string) {
	if JoinsRejected != nil {
		JoinsRejected.WithLabelValues(reason).Inc()
	}
}

// IncBroadcastDropped counts one skipped subscriber delivery.
func IncBroadcastDropped() {
	if BroadcastDropped != nil {
		BroadcastDropped.Inc()
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
