// Package telemetry records pipeline metrics and exposes them over a
// prometheus endpoint.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/courseforge/courseforge/internal/cache"
	"github.com/courseforge/courseforge/internal/workflow"
)

// Telemetry implements workflow.Telemetry on a dedicated prometheus registry.
type Telemetry struct {
	registry *prometheus.Registry
	logger   *log.Logger

	rowsTotal     *prometheus.CounterVec
	rowDuration   prometheus.Histogram
	stagesTotal   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	cacheLookups  *prometheus.GaugeVec

	server *http.Server
}

// New builds a Telemetry with all collectors registered.
func New(logger *log.Logger) *Telemetry {
	if logger == nil {
		logger = log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags)
	}
	registry := prometheus.NewRegistry()

	t := &Telemetry{
		registry: registry,
		logger:   logger,
		rowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courseforge_rows_total",
			Help: "Rows processed, labeled by final status.",
		}, []string{"status"}),
		rowDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "courseforge_row_duration_seconds",
			Help:    "End-to-end row processing time.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		stagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courseforge_stages_total",
			Help: "Stage executions, labeled by stage and outcome.",
		}, []string{"stage", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courseforge_stage_duration_seconds",
			Help:    "Per-stage execution time.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"stage"}),
		cacheLookups: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "courseforge_cache_lookups",
			Help: "Response cache lookups since process start, by outcome.",
		}, []string{"outcome"}),
	}
	registry.MustRegister(t.rowsTotal, t.rowDuration, t.stagesTotal, t.stageDuration, t.cacheLookups)
	return t
}

// RecordRow counts a finished row under its final status.
func (t *Telemetry) RecordRow(status workflow.Status, duration time.Duration) {
	t.rowsTotal.WithLabelValues(string(status)).Inc()
	t.rowDuration.Observe(duration.Seconds())
}

// RecordStage counts a stage execution and its latency.
func (t *Telemetry) RecordStage(stage string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	t.stagesTotal.WithLabelValues(stage, outcome).Inc()
	t.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveCache exports the cache store's traffic counters.
func (t *Telemetry) ObserveCache(stats cache.Stats) {
	t.cacheLookups.WithLabelValues("memory_hit").Set(float64(stats.MemoryHits))
	t.cacheLookups.WithLabelValues("backend_hit").Set(float64(stats.BackendHits))
	t.cacheLookups.WithLabelValues("miss").Set(float64(stats.Misses))
	t.cacheLookups.WithLabelValues("corrupt_dropped").Set(float64(stats.CorruptDropped))
}

// Handler returns the /metrics handler for the registry.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Serve starts a metrics server on the given port. It returns immediately;
// serve errors other than a clean shutdown are logged.
func (t *Telemetry) Serve(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", t.Handler())
	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Printf("metrics server error: %v", err)
		}
	}()
}

// Shutdown stops the metrics server if one was started.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.server == nil {
		return nil
	}
	return t.server.Shutdown(ctx)
}
