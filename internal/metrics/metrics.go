// Package metrics exposes sync counters on a private Prometheus registry.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmbish04/gh-stars-sink/internal/logging"
)

const namespace = "gh_stars_sink"

// Metrics holds the collectors of one process. A nil *Metrics records
// nothing, so callers never need to check for it.
type Metrics struct {
	registry *prometheus.Registry

	repositories  *prometheus.CounterVec
	vectors       *prometheus.CounterVec
	jobs          *prometheus.CounterVec
	batchDuration prometheus.Histogram
	collaborator  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		repositories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repositories_total",
			Help:      "Repositories handled by the sync orchestrator, by outcome.",
		}, []string{"outcome"}),
		vectors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_chunks_total",
			Help:      "Embedding chunks reconciled, by operation.",
		}, []string{"op"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_jobs_total",
			Help:      "Closed sync jobs, by terminal status.",
		}, []string{"status"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_batch_duration_seconds",
			Help:      "Wall time of one sync batch.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		collaborator: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaborator_call_duration_seconds",
			Help:      "Latency of embedding and summarizer calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collaborator", "result"}),
	}

	m.registry.MustRegister(m.repositories, m.vectors, m.jobs, m.batchDuration, m.collaborator)

	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRepository(outcome string) {
	if m == nil {
		return
	}

	m.repositories.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveVectors(written, unchanged, deleted int) {
	if m == nil {
		return
	}

	m.vectors.WithLabelValues("written").Add(float64(written))
	m.vectors.WithLabelValues("unchanged").Add(float64(unchanged))
	m.vectors.WithLabelValues("deleted").Add(float64(deleted))
}

func (m *Metrics) ObserveJob(status string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.jobs.WithLabelValues(status).Inc()
	m.batchDuration.Observe(elapsed.Seconds())
}

// ObserveCall records one collaborator call started at start.
func (m *Metrics) ObserveCall(collaborator string, start time.Time, err error) {
	if m == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}

	m.collaborator.WithLabelValues(collaborator, result).Observe(time.Since(start).Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on port until ctx is done.
func (m *Metrics) Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}()

	logging.Debugf("serving metrics on %s", server.Addr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}

	return nil
}
