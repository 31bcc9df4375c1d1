// Package metrics exposes Prometheus instrumentation for chunk
// processing and job lifecycle.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChunksTotal counts processed audio chunks by component and status.
	// Components: asr, diarize, normalize, merge.
	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcriber_chunks_total",
			Help: "Total number of audio chunks processed by component",
		},
		[]string{"component", "status"},
	)

	// ErrorsTotal counts processing errors by component and error code.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcriber_errors_total",
			Help: "Total number of processing errors by component and error code",
		},
		[]string{"component", "error_code"},
	)

	// ProcessingDuration observes per-component processing time.
	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transcriber_processing_duration_seconds",
			Help:    "Processing duration in seconds by component",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"component"},
	)

	// ActiveJobs tracks jobs currently in a non-terminal state.
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transcriber_active_jobs",
			Help: "Number of jobs currently running",
		},
	)
)

// RecordChunk counts one finished chunk for a component.
func RecordChunk(component string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	ChunksTotal.WithLabelValues(component, status).Inc()
}

// RecordError counts one classified processing error.
func RecordError(component, errorCode string) {
	ErrorsTotal.WithLabelValues(component, errorCode).Inc()
}

// ObserveDuration records elapsed time for a component since start.
func ObserveDuration(component string, start time.Time) {
	ProcessingDuration.WithLabelValues(component).Observe(time.Since(start).Seconds())
}

// Handler returns the /metrics HTTP handler for the optional listener.
func Handler() http.Handler {
	return promhttp.Handler()
}
