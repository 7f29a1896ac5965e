package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Note: prometheus/promauto registers metrics globally, so we need to use
// unique namespaces per test to avoid registration conflicts.

func TestNewMetrics(t *testing.T) {
	m := NewMetrics("test_harvester_new")

	assert.NotNil(t, m.EntriesSubmitted)
	assert.NotNil(t, m.EntriesDone)
	assert.NotNil(t, m.EntriesFailed)
	assert.NotNil(t, m.EntryDuration)
	assert.NotNil(t, m.StageAttempts)
	assert.NotNil(t, m.StageSuccess)
	assert.NotNil(t, m.StageFailed)
	assert.NotNil(t, m.StageDuration)
	assert.NotNil(t, m.MetadataSourceRequests)
	assert.NotNil(t, m.MetadataSourceFailed)
	assert.NotNil(t, m.RateLimiterWait)
	assert.NotNil(t, m.DownloadAttempts)
	assert.NotNil(t, m.DownloadBytes)
	assert.NotNil(t, m.DownloadFailed)
	assert.NotNil(t, m.HostCooldowns)
	assert.NotNil(t, m.StructuringRequests)
	assert.NotNil(t, m.CircuitBreakerState)
	assert.NotNil(t, m.QueueDepth)
	assert.NotNil(t, m.DuplicatesDetected)
}

func TestRecordEntrySubmitted(t *testing.T) {
	m := NewMetrics("test_entry_submitted")

	initial := testutil.ToFloat64(m.EntriesSubmitted)
	m.RecordEntrySubmitted()
	assert.Equal(t, initial+1, testutil.ToFloat64(m.EntriesSubmitted))
}

func TestRecordEntryDone(t *testing.T) {
	m := NewMetrics("test_entry_done")

	initial := testutil.ToFloat64(m.EntriesDone)
	m.RecordEntryDone(5.5)
	assert.Equal(t, initial+1, testutil.ToFloat64(m.EntriesDone))

	histCount, err := getHistogramSampleCount(m.EntryDuration)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), histCount)
}

func TestRecordEntryFailed(t *testing.T) {
	m := NewMetrics("test_entry_failed")

	initial := testutil.ToFloat64(m.EntriesFailed)
	m.RecordEntryFailed(3.0)
	assert.Equal(t, initial+1, testutil.ToFloat64(m.EntriesFailed))
}

func TestRecordStageAttempt(t *testing.T) {
	m := NewMetrics("test_stage_attempt")

	m.RecordStageAttempt("metadata")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StageAttempts.WithLabelValues("metadata")))
}

func TestRecordStageSuccess(t *testing.T) {
	m := NewMetrics("test_stage_success")

	m.RecordStageSuccess("pdf", 1.2)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StageSuccess.WithLabelValues("pdf")))
}

func TestRecordStageFailed(t *testing.T) {
	m := NewMetrics("test_stage_failed")

	m.RecordStageFailed("pdf", "all_urls_failed", 2.0)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StageFailed.WithLabelValues("pdf", "all_urls_failed")))
}

func TestRecordMetadataSourceRequest(t *testing.T) {
	m := NewMetrics("test_metadata_source_request")

	m.RecordMetadataSourceRequest("aggregator", 0.5)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MetadataSourceRequests.WithLabelValues("aggregator")))
}

func TestRecordMetadataSourceFailed(t *testing.T) {
	m := NewMetrics("test_metadata_source_failed")

	m.RecordMetadataSourceFailed("doi_registry", "timeout")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MetadataSourceFailed.WithLabelValues("doi_registry", "timeout")))
}

func TestRecordRateLimiterWait(t *testing.T) {
	m := NewMetrics("test_rate_limiter_wait")

	m.RecordRateLimiterWait("oa_locator", 0.25)
	histCount, err := getHistogramSampleCount(m.RateLimiterWait.WithLabelValues("oa_locator").(prometheus.Histogram))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), histCount)
}

func TestRecordDownloadAttempt(t *testing.T) {
	m := NewMetrics("test_download_attempt")

	m.RecordDownloadAttempt("pdf")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DownloadAttempts.WithLabelValues("pdf")))
}

func TestRecordDownloadSuccess(t *testing.T) {
	m := NewMetrics("test_download_success")

	initial := testutil.ToFloat64(m.DownloadBytes.WithLabelValues("pdf"))
	m.RecordDownloadSuccess("pdf", 2048)
	assert.Equal(t, initial+2048, testutil.ToFloat64(m.DownloadBytes.WithLabelValues("pdf")))
}

func TestRecordDownloadFailed(t *testing.T) {
	m := NewMetrics("test_download_failed")

	m.RecordDownloadFailed("jats", "not_jats")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DownloadFailed.WithLabelValues("jats", "not_jats")))
}

func TestRecordHostCooldown(t *testing.T) {
	m := NewMetrics("test_host_cooldown")

	m.RecordHostCooldown("example.org")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HostCooldowns.WithLabelValues("example.org")))
}

func TestRecordStructuringRequest(t *testing.T) {
	m := NewMetrics("test_structuring_request")

	m.RecordStructuringRequest("grobid", 12.0)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StructuringRequests.WithLabelValues("grobid")))
}

func TestSetCircuitBreakerState(t *testing.T) {
	m := NewMetrics("test_circuit_breaker_state")

	m.SetCircuitBreakerState("grobid", 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("grobid")))
}

func TestSetQueueDepth(t *testing.T) {
	m := NewMetrics("test_queue_depth")

	m.SetQueueDepth(17)
	assert.Equal(t, float64(17), testutil.ToFloat64(m.QueueDepth))
}

func TestRecordDuplicateDetected(t *testing.T) {
	m := NewMetrics("test_duplicate_detected")

	m.RecordDuplicateDetected("doi")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DuplicatesDetected.WithLabelValues("doi")))
}

// Helper to get histogram sample count
func getHistogramSampleCount(h prometheus.Histogram) (uint64, error) {
	ch := make(chan prometheus.Metric, 1)
	h.Collect(ch)
	close(ch)

	var m prometheus.Metric
	for m = range ch {
		break
	}

	var dto = &dto.Metric{}
	if err := m.Write(dto); err != nil {
		return 0, err
	}

	return dto.Histogram.GetSampleCount(), nil
}
