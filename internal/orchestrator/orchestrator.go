// Package orchestrator runs the bounded worker pool that drives every
// Entry through its per-stage state machine: metadata enrichment, PDF
// fetch, JATS fetch, and PDF structuring, with retry/backoff, per-stage
// timeouts, and crash-safe state persistence.
package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/helixir/article-harvester/internal/domain"
	"github.com/helixir/article-harvester/internal/entrystore"
	"github.com/helixir/article-harvester/internal/fetcher"
	"github.com/helixir/article-harvester/internal/metadataclient"
	"github.com/helixir/article-harvester/internal/repository"
	"github.com/helixir/article-harvester/internal/structuring"
)

// Config tunes the Orchestrator's concurrency and retry behavior, set
// from the harvester's top-level configuration.
type Config struct {
	BatchSize          int
	PerStageRetries    int
	RetryBaseDelay     time.Duration
	MaxBackoff         time.Duration
	MetadataTimeout    time.Duration
	FetchTimeout       time.Duration
	StructuringTimeout time.Duration
	EnableGrobid       bool
	// EnableThumbnail and EnableAnnotation turn on the two best-effort
	// post-processing steps that run after a successful PDF fetch:
	// thumbnail rendering (subprocess) and GROBID reference-annotation
	// extraction. Neither affects an Entry's done/failed status.
	EnableThumbnail  bool
	EnableAnnotation bool
	ThumbnailCommand string
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.PerStageRetries <= 0 {
		c.PerStageRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
	if c.MetadataTimeout <= 0 {
		c.MetadataTimeout = 30 * time.Second
	}
	if c.ThumbnailCommand == "" {
		c.ThumbnailCommand = "pdftoppm"
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 120 * time.Second
	}
	if c.StructuringTimeout <= 0 {
		c.StructuringTimeout = 600 * time.Second
	}
}

// Counters tracks live progress, surfaced to the CLI's progress display
// and folded into the final summary alongside the Diagnostic Reporter.
type Counters struct {
	Processed     atomic.Int64
	StageSuccess  [5]atomic.Int64
	StageFailed   [5]atomic.Int64
}

var stageIndex = map[string]int{
	domain.StageMetadata: 0,
	domain.StagePDF:      1,
	domain.StageJATS:     2,
	domain.StageTEIPDF:   3,
	domain.StageTEIJATS:  4,
}

// Orchestrator wires the Metadata Client, Fetcher, Structuring clients,
// Artifact Repository, and Entry State Store into the per-entry state
// machine and runs it across a bounded worker pool.
type Orchestrator struct {
	cfg      Config
	store    *entrystore.Store
	repo     repository.Repository
	metadata *metadataclient.Client
	fetch    *fetcher.Downloader
	grobid   *structuring.GROBIDClient
	breakers *BreakerRegistry
	logger   zerolog.Logger
	counters Counters
}

// New constructs an Orchestrator from its dependencies.
func New(
	cfg Config,
	store *entrystore.Store,
	repo repository.Repository,
	metadata *metadataclient.Client,
	fetch *fetcher.Downloader,
	grobid *structuring.GROBIDClient,
	logger zerolog.Logger,
) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		repo:     repo,
		metadata: metadata,
		fetch:    fetch,
		grobid:   grobid,
		breakers: NewBreakerRegistry(),
		logger:   logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Counters exposes live progress counters for the CLI.
func (o *Orchestrator) Counters() *Counters { return &o.counters }

// Submit looks up or creates an Entry for ids, and enqueues it on work
// if it is not already done.
func (o *Orchestrator) Submit(ids domain.Identifiers, newID string, work chan<- *domain.Entry) error {
	entry, _, err := o.store.LookupOrCreate(ids, newID)
	if err != nil {
		return err
	}
	if entry.IsDone() {
		return nil
	}
	work <- entry
	return nil
}

// ResumeAll enqueues every Entry in the State Store that is not yet
// done, per spec §4.6: "treats every Entry not in done/failed as a
// fresh work item, picking up from its first non-success stage." A
// terminally failed entry is not resumed automatically; use Reprocess.
func (o *Orchestrator) ResumeAll(work chan<- *domain.Entry) {
	for _, e := range o.store.IterAll() {
		if e.IsDone() || e.HasFailedStage() {
			continue
		}
		work <- e
	}
}

// Reprocess resets only the failed stage (status and attempt count) of
// every Entry with a failed stage, and enqueues it for another attempt.
// Stages already succeeded are left untouched.
func (o *Orchestrator) Reprocess(work chan<- *domain.Entry) (int, error) {
	n := 0
	for _, e := range o.store.IterAll() {
		stage, ok := firstFailedStage(e)
		if !ok {
			continue
		}
		e.ResetStage(stage)
		if err := o.store.Update(e); err != nil {
			return n, err
		}
		work <- e
		n++
	}
	return n, nil
}

func firstFailedStage(e *domain.Entry) (string, bool) {
	for _, stage := range []string{domain.StageMetadata, domain.StagePDF, domain.StageJATS, domain.StageTEIPDF, domain.StageTEIJATS} {
		if e.Status[stage] == domain.StatusFailed {
			return stage, true
		}
	}
	return "", false
}

// Run drains work with cfg.BatchSize concurrent workers, each running
// an Entry through processEntry end-to-end. Run returns when work is
// closed and every worker has finished. When ctx is cancelled, no new
// worker starts and in-flight workers see the cancelled context at once:
// their current I/O is aborted, with no grace window to finish it. An
// abandoned stage is left in_progress and is demoted to pending by the
// Entry State Store's startup recovery rule, not here: processEntry
// simply stops advancing and the last-written stage state stands.
func (o *Orchestrator) Run(ctx context.Context, work <-chan *domain.Entry) error {
	sem := semaphore.NewWeighted(int64(o.cfg.BatchSize))
	g, gctx := errgroup.WithContext(ctx)

	for entry := range work {
		entry := entry
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			o.processEntry(gctx, entry)
			o.counters.Processed.Add(1)
			return nil
		})
	}

	return g.Wait()
}
