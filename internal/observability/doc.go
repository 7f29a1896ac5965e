// Package observability provides logging and metrics support for the
// article harvester.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for entries, stages, downloads, and structuring
//   - Context helpers for enriching loggers with entry/stage/host fields
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("entry_id", entryID).Msg("harvest started")
//
// Add entry and stage context to a logger:
//
//	logger = observability.WithEntryContext(logger, entry.ID, entry.Identifiers.DOI)
//	logger = observability.WithStageContext(logger, domain.StagePDF, attempt)
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("article_harvester")
//
// Record metrics:
//
//	metrics.RecordEntrySubmitted()
//	metrics.RecordStageSuccess(domain.StagePDF, elapsed.Seconds())
//	metrics.RecordDownloadSuccess("pdf", int64(len(content)))
//
// # Standard Fields
//
// Common fields used across the harvester:
//
//   - entry_id: Entry identifier (base62)
//   - doi: Digital Object Identifier, when known
//   - stage: Pipeline stage name (metadata, pdf, jats, tei_pdf, tei_jats)
//   - host: Remote host of a fetch or structuring request
//   - source: Metadata Client source name (aggregator, doi_registry, oa_locator)
//   - trace_id: Distributed trace identifier
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
