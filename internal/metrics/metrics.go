// Package metrics holds the prometheus collectors of the service.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"document-qa/internal/models"
)

var (
	Turns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_turns_total",
			Help: "Conversation turns by final outcome",
		},
		[]string{"outcome"},
	)

	StageDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_stage_degraded_total",
			Help: "Pipeline stages that fell back to a degraded value",
		},
		[]string{"stage", "reason"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docqa_stage_duration_seconds",
			Help:    "Pipeline stage duration distribution",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	DocumentsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_documents_ingested_total",
			Help: "Uploaded documents by ingestion result",
		},
		[]string{"result"},
	)

	IndexedChunks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docqa_indexed_chunks",
			Help: "Number of chunks currently in the vector index",
		},
	)
)

// ObserveStage records how long a stage took
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Degraded counts a stage fallback, labelled by the error category
func Degraded(stage string, err error) {
	StageDegraded.WithLabelValues(stage, Reason(err)).Inc()
}

// Reason maps an error to a low-cardinality label
func Reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, models.ErrEmbeddingUnavailable):
		return "embedding_unavailable"
	case errors.Is(err, models.ErrIndexUnavailable):
		return "index_unavailable"
	case errors.Is(err, models.ErrGenerationUnavailable):
		return "generation_unavailable"
	case errors.Is(err, models.ErrPersistenceFailure):
		return "persistence_failure"
	case errors.Is(err, models.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, models.ErrNoContent):
		return "no_content"
	case errors.Is(err, models.ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}
