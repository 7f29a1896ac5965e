package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the article harvester.
// Metrics are organized by subsystem: entries, stages, fetch, structuring,
// and the Metadata Client sources. All counters and histograms are
// registered via promauto for automatic registration with the default
// Prometheus registry.
type Metrics struct {
	// EntriesSubmitted counts the total number of Entries enqueued for
	// processing.
	EntriesSubmitted prometheus.Counter

	// EntriesDone counts Entries that reached the done state.
	EntriesDone prometheus.Counter

	// EntriesFailed counts Entries with at least one terminally failed
	// stage.
	EntriesFailed prometheus.Counter

	// EntryDuration observes the end-to-end processing duration of an
	// Entry in seconds.
	EntryDuration prometheus.Histogram

	// StageAttempts counts stage executions, labeled by stage name.
	StageAttempts *prometheus.CounterVec

	// StageSuccess counts stage executions that succeeded, labeled by
	// stage name.
	StageSuccess *prometheus.CounterVec

	// StageFailed counts stage executions that terminally failed,
	// labeled by stage name and reason.
	StageFailed *prometheus.CounterVec

	// StageDuration observes stage execution duration in seconds,
	// labeled by stage name.
	StageDuration *prometheus.HistogramVec

	// MetadataSourceRequests counts requests to a Metadata Client
	// source, labeled by source name.
	MetadataSourceRequests *prometheus.CounterVec

	// MetadataSourceFailed counts failed requests to a Metadata Client
	// source, labeled by source name and error type.
	MetadataSourceFailed *prometheus.CounterVec

	// MetadataSourceDuration observes Metadata Client source request
	// duration in seconds, labeled by source name.
	MetadataSourceDuration *prometheus.HistogramVec

	// RateLimiterWait observes how long a request waited on a Metadata
	// Client source's rate limiter, labeled by source name.
	RateLimiterWait *prometheus.HistogramVec

	// DownloadAttempts counts candidate URL download attempts, labeled
	// by content kind (pdf, jats, pmc_archive).
	DownloadAttempts *prometheus.CounterVec

	// DownloadBytes counts bytes downloaded, labeled by content kind.
	DownloadBytes *prometheus.CounterVec

	// DownloadFailed counts failed downloads, labeled by content kind
	// and error type.
	DownloadFailed *prometheus.CounterVec

	// HostCooldowns counts per-host cooldowns entered after a 403/429
	// response, labeled by host.
	HostCooldowns *prometheus.CounterVec

	// StructuringRequests counts structuring-service calls, labeled by
	// service name (grobid, pub2tei).
	StructuringRequests *prometheus.CounterVec

	// StructuringDuration observes structuring-service call duration in
	// seconds, labeled by service name.
	StructuringDuration *prometheus.HistogramVec

	// CircuitBreakerState reports the current state of a named circuit
	// breaker as a gauge (0=closed, 1=half-open, 2=open).
	CircuitBreakerState *prometheus.GaugeVec

	// QueueDepth reports the number of Entries currently queued for the
	// worker pool.
	QueueDepth prometheus.Gauge

	// DuplicatesDetected counts Entries collapsed into an existing
	// record by the deduplication cascade, labeled by match kind
	// (cord_id, doi, pmid, pmcid, title_author_year).
	DuplicatesDetected *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		EntriesSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_submitted_total",
			Help:      "Total number of entries submitted for harvesting",
		}),
		EntriesDone: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_done_total",
			Help:      "Total number of entries that reached the done state",
		}),
		EntriesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_failed_total",
			Help:      "Total number of entries with a terminally failed stage",
		}),
		EntryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "entry_duration_seconds",
			Help:      "End-to-end processing duration of an entry in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		}),

		StageAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_attempts_total",
			Help:      "Total number of stage execution attempts by stage",
		}, []string{"stage"}),
		StageSuccess: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_success_total",
			Help:      "Total number of stage executions that succeeded by stage",
		}, []string{"stage"}),
		StageFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failed_total",
			Help:      "Total number of stage executions that failed by stage and reason",
		}, []string{"stage", "reason"}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of a stage execution in seconds by stage",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
		}, []string{"stage"}),

		MetadataSourceRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_source_requests_total",
			Help:      "Total number of requests to a metadata client source",
		}, []string{"source"}),
		MetadataSourceFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_source_failed_total",
			Help:      "Total number of failed requests to a metadata client source",
		}, []string{"source", "error_type"}),
		MetadataSourceDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "metadata_source_duration_seconds",
			Help:      "Duration of metadata client source requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		RateLimiterWait: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limiter_wait_seconds",
			Help:      "Time spent waiting on a source rate limiter in seconds",
			Buckets:   []float64{0, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"source"}),

		DownloadAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_attempts_total",
			Help:      "Total number of candidate URL download attempts by content kind",
		}, []string{"kind"}),
		DownloadBytes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Total bytes downloaded by content kind",
		}, []string{"kind"}),
		DownloadFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_failed_total",
			Help:      "Total number of failed downloads by content kind and error type",
		}, []string{"kind", "error_type"}),
		HostCooldowns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_cooldowns_total",
			Help:      "Total number of per-host cooldowns entered after 403/429 by host",
		}, []string{"host"}),

		StructuringRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "structuring_requests_total",
			Help:      "Total number of structuring service calls by service",
		}, []string{"service"}),
		StructuringDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "structuring_duration_seconds",
			Help:      "Duration of structuring service calls in seconds by service",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"service"}),

		CircuitBreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Current state of a named circuit breaker (0=closed, 1=half-open, 2=open)",
		}, []string{"breaker"}),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of entries currently queued for the worker pool",
		}),

		DuplicatesDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_detected_total",
			Help:      "Total number of entries collapsed by the deduplication cascade by match kind",
		}, []string{"match_kind"}),
	}
}

// RecordEntrySubmitted records that an entry has been submitted.
func (m *Metrics) RecordEntrySubmitted() {
	m.EntriesSubmitted.Inc()
}

// RecordEntryDone records that an entry reached the done state.
func (m *Metrics) RecordEntryDone(durationSeconds float64) {
	m.EntriesDone.Inc()
	m.EntryDuration.Observe(durationSeconds)
}

// RecordEntryFailed records that an entry ended with a failed stage.
func (m *Metrics) RecordEntryFailed(durationSeconds float64) {
	m.EntriesFailed.Inc()
	m.EntryDuration.Observe(durationSeconds)
}

// RecordStageAttempt records a stage execution attempt.
func (m *Metrics) RecordStageAttempt(stage string) {
	m.StageAttempts.WithLabelValues(stage).Inc()
}

// RecordStageSuccess records a stage execution that succeeded.
func (m *Metrics) RecordStageSuccess(stage string, durationSeconds float64) {
	m.StageSuccess.WithLabelValues(stage).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordStageFailed records a stage execution that terminally failed.
func (m *Metrics) RecordStageFailed(stage, reason string, durationSeconds float64) {
	m.StageFailed.WithLabelValues(stage, reason).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordMetadataSourceRequest records a request to a metadata client
// source.
func (m *Metrics) RecordMetadataSourceRequest(source string, durationSeconds float64) {
	m.MetadataSourceRequests.WithLabelValues(source).Inc()
	m.MetadataSourceDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordMetadataSourceFailed records a failed request to a metadata
// client source.
func (m *Metrics) RecordMetadataSourceFailed(source, errorType string) {
	m.MetadataSourceFailed.WithLabelValues(source, errorType).Inc()
}

// RecordRateLimiterWait records time spent waiting on a source's rate
// limiter.
func (m *Metrics) RecordRateLimiterWait(source string, waitSeconds float64) {
	m.RateLimiterWait.WithLabelValues(source).Observe(waitSeconds)
}

// RecordDownloadAttempt records a candidate URL download attempt.
func (m *Metrics) RecordDownloadAttempt(kind string) {
	m.DownloadAttempts.WithLabelValues(kind).Inc()
}

// RecordDownloadSuccess records a successful download's size.
func (m *Metrics) RecordDownloadSuccess(kind string, bytes int64) {
	m.DownloadBytes.WithLabelValues(kind).Add(float64(bytes))
}

// RecordDownloadFailed records a failed download.
func (m *Metrics) RecordDownloadFailed(kind, errorType string) {
	m.DownloadFailed.WithLabelValues(kind, errorType).Inc()
}

// RecordHostCooldown records a per-host cooldown entered after a
// 403/429 response.
func (m *Metrics) RecordHostCooldown(host string) {
	m.HostCooldowns.WithLabelValues(host).Inc()
}

// RecordStructuringRequest records a structuring service call.
func (m *Metrics) RecordStructuringRequest(service string, durationSeconds float64) {
	m.StructuringRequests.WithLabelValues(service).Inc()
	m.StructuringDuration.WithLabelValues(service).Observe(durationSeconds)
}

// SetCircuitBreakerState records the current state of a named circuit
// breaker.
func (m *Metrics) SetCircuitBreakerState(breaker string, state float64) {
	m.CircuitBreakerState.WithLabelValues(breaker).Set(state)
}

// SetQueueDepth records the current worker pool queue depth.
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// RecordDuplicateDetected records an entry collapsed by the
// deduplication cascade.
func (m *Metrics) RecordDuplicateDetected(matchKind string) {
	m.DuplicatesDetected.WithLabelValues(matchKind).Inc()
}
