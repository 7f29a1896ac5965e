package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/helixir/article-harvester/internal/domain"
	"github.com/helixir/article-harvester/internal/fetcher"
)

// processEntry drives entry through every stage it has not yet
// completed, in order: metadata -> pdf -> jats (best-effort) ->
// tei_pdf (if enabled and pdf succeeded). A stage begins only after the
// previous stage's state is durably written, per spec §4.6.
func (o *Orchestrator) processEntry(ctx context.Context, entry *domain.Entry) {
	log := o.logger.With().Str("entry_id", entry.ID).Logger()

	if entry.Status[domain.StageMetadata] != domain.StatusSuccess {
		if !o.runStage(ctx, entry, domain.StageMetadata, o.stageMetadata) {
			log.Warn().Msg("metadata stage did not complete")
			return
		}
	}

	if entry.Status[domain.StagePDF] != domain.StatusSuccess {
		o.runStage(ctx, entry, domain.StagePDF, o.stagePDF)
	}

	if entry.Status[domain.StageJATS] != domain.StatusSuccess {
		// Best-effort: JATS absence is never an Entry failure (spec §4.6).
		o.runStage(ctx, entry, domain.StageJATS, o.stageJATS)
	}

	if o.cfg.EnableGrobid && entry.Artifacts.PDF && entry.Status[domain.StageTEIPDF] != domain.StatusSuccess {
		o.runStage(ctx, entry, domain.StageTEIPDF, o.stageStructurePDF)
	}

	o.postProcess(ctx, entry, log)
}

// stageFunc performs one stage's work. It returns a retryable error
// (wrapped in domain.RetryableError) for transient failures, or a
// terminal error otherwise.
type stageFunc func(ctx context.Context, entry *domain.Entry) error

// runStage marks entry in_progress, invokes fn with the per-stage
// retry/backoff policy, durably records the outcome, and reports
// whether the stage ended in success.
func (o *Orchestrator) runStage(ctx context.Context, entry *domain.Entry, stage string, fn stageFunc) bool {
	entry.Status[stage] = domain.StatusInProgress
	if err := o.store.Update(entry); err != nil {
		o.logger.Error().Err(err).Str("entry_id", entry.ID).Str("stage", stage).Msg("persist in_progress failed")
		return false
	}

	var lastErr error
	for attempt := 0; attempt <= o.cfg.PerStageRetries; attempt++ {
		if ctx.Err() != nil {
			// Global cancellation: leave the stage at in_progress: the
			// next startup's recovery scan demotes it back to pending.
			return false
		}

		entry.AttemptCounts[stage]++
		err := fn(ctx, entry)
		if err == nil {
			entry.MarkSuccess(stage)
			if idx, ok := stageIndex[stage]; ok {
				o.counters.StageSuccess[idx].Add(1)
			}
			if uerr := o.store.Update(entry); uerr != nil {
				o.logger.Error().Err(uerr).Str("entry_id", entry.ID).Msg("persist success failed")
			}
			return true
		}

		lastErr = err
		if !domain.IsRetryable(err) || attempt == o.cfg.PerStageRetries {
			break
		}

		delay := backoffDelay(attempt, o.cfg.RetryBaseDelay, o.cfg.MaxBackoff)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}

	entry.MarkFailed(stage, reasonFor(lastErr))
	if idx, ok := stageIndex[stage]; ok {
		o.counters.StageFailed[idx].Add(1)
	}
	if uerr := o.store.Update(entry); uerr != nil {
		o.logger.Error().Err(uerr).Str("entry_id", entry.ID).Msg("persist failure failed")
	}
	return false
}

// reasonFor maps an error to the stage error taxonomy's short reason
// string, per spec §7.
func reasonFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrUnresolved):
		return "unresolved"
	case errors.Is(err, domain.ErrNoOAURL):
		return "no_oa_url"
	case errors.Is(err, domain.ErrNoURL):
		return "no_url"
	case errors.Is(err, domain.ErrAllURLsFailed):
		return "all_urls_failed"
	case errors.Is(err, domain.ErrInvalidContent), errors.Is(err, fetcher.ErrNotPDF), errors.Is(err, fetcher.ErrNotJATS):
		return "invalid_content"
	case errors.Is(err, domain.ErrTooLarge):
		return "too_large"
	case errors.Is(err, domain.ErrTooSmall):
		return "too_small"
	case errors.Is(err, domain.ErrStructuringFailed):
		return "structuring_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "http_error"
	}
}

func (o *Orchestrator) stageMetadata(ctx context.Context, entry *domain.Entry) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.MetadataTimeout)
	defer cancel()

	md, candidates, err := o.metadata.Enrich(ctx, entry.Identifiers)
	if err != nil {
		return err
	}
	entry.Metadata = md
	entry.CandidateURLs = candidates
	if md.OAURL == "" && len(candidates) == 0 {
		return domain.ErrNoOAURL
	}
	return nil
}

func (o *Orchestrator) stagePDF(ctx context.Context, entry *domain.Entry) error {
	if len(entry.CandidateURLs) == 0 {
		return domain.ErrNoURL
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	defer cancel()

	res, err := o.fetch.FetchCascade(ctx, entry.CandidateURLs, fetcher.KindPDF)
	if err != nil {
		return err
	}
	if err := o.repo.Put(ctx, entry.StorageKey()+"/"+entry.ID+".pdf", bytes.NewReader(res.Content), res.SizeBytes); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrServiceUnavailable, err)
	}
	entry.Artifacts.PDF = true
	return nil
}

func (o *Orchestrator) stageJATS(ctx context.Context, entry *domain.Entry) error {
	if entry.Identifiers.PMCID == "" {
		return domain.ErrNoURL
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	defer cancel()

	archiveURL, ok := pmcArchiveURLFromCandidates(entry.CandidateURLs)
	if !ok {
		archiveURL, ok = pmcArchiveURL(entry.Identifiers.PMCID)
		if !ok {
			return domain.ErrNoURL
		}
	}

	res, err := o.fetch.FetchCascade(ctx, []domain.CandidateURL{{URL: archiveURL, Source: "pmc_oa_archive"}}, fetcher.KindPMCArchive)
	if err != nil {
		return err
	}
	if err := o.repo.Put(ctx, entry.StorageKey()+"/"+entry.ID+".nxml", bytes.NewReader(res.Content), res.SizeBytes); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrServiceUnavailable, err)
	}
	entry.Artifacts.JATS = true
	return nil
}

// pmcArchiveURLFromCandidates looks for the metadata stage's own
// pmc_oa_archive_local candidate (the Metadata Client's local PMC-OA
// archive index hit, see metadataclient.WithPMCArchiveIndex) so the JATS
// stage reuses it instead of re-deriving a live lookup URL.
func pmcArchiveURLFromCandidates(candidates []domain.CandidateURL) (string, bool) {
	for _, c := range candidates {
		if c.Source == "pmc_oa_archive_local" {
			return c.URL, true
		}
	}
	return "", false
}

// pmcArchiveURL resolves a PMCID to its NIH OA-archive tarball URL via
// the PMC OA service's own lookup endpoint. Used only when the Metadata
// Client's local PMC-OA archive index has no entry for this PMCID.
func pmcArchiveURL(pmcid string) (string, bool) {
	if pmcid == "" {
		return "", false
	}
	return fmt.Sprintf("https://www.ncbi.nlm.nih.gov/pmc/utils/oa/oa.fcgi?id=%s", pmcid), true
}

func (o *Orchestrator) stageStructurePDF(ctx context.Context, entry *domain.Entry) error {
	if o.grobid == nil {
		return domain.ErrStructuringFailed
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.StructuringTimeout)
	defer cancel()

	pdf, err := o.repo.Get(ctx, entry.StorageKey()+"/"+entry.ID+".pdf")
	if err != nil {
		return fmt.Errorf("%w: read pdf for structuring: %w", domain.ErrStructuringFailed, err)
	}

	breaker := o.breakers.Get("grobid")
	tei, err := breaker.Execute(func() ([]byte, error) {
		return o.grobid.StructurePDF(ctx, pdf)
	})
	if err != nil {
		return domain.NewRetryableError(domain.StageTEIPDF, fmt.Errorf("%w: %w", domain.ErrStructuringFailed, err))
	}

	if err := o.repo.Put(ctx, entry.StorageKey()+"/"+entry.ID+".grobid.tei.xml", bytes.NewReader(tei), int64(len(tei))); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrServiceUnavailable, err)
	}
	entry.Artifacts.TEIFromPDF = true
	return nil
}
