// Command harvester runs the article harvesting pipeline: it resolves
// bibliographic metadata for a batch of input identifiers, locates and
// downloads open-access full text, structures it into TEI XML, and
// persists every artifact into the content-addressed Artifact
// Repository, resuming from the Entry State Store on every run.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/helixir/article-harvester/internal/config"
	"github.com/helixir/article-harvester/internal/cordinput"
	"github.com/helixir/article-harvester/internal/diagnostics"
	"github.com/helixir/article-harvester/internal/domain"
	"github.com/helixir/article-harvester/internal/entrystore"
	"github.com/helixir/article-harvester/internal/fetcher"
	"github.com/helixir/article-harvester/internal/idgen"
	"github.com/helixir/article-harvester/internal/metadataclient"
	"github.com/helixir/article-harvester/internal/metadataclient/aggregator"
	"github.com/helixir/article-harvester/internal/metadataclient/doiregistry"
	"github.com/helixir/article-harvester/internal/metadataclient/oalocator"
	"github.com/helixir/article-harvester/internal/observability"
	"github.com/helixir/article-harvester/internal/orchestrator"
	"github.com/helixir/article-harvester/internal/outbox"
	"github.com/helixir/article-harvester/internal/repository"
	"github.com/helixir/article-harvester/internal/reversetransform"
	"github.com/helixir/article-harvester/internal/structuring"
)

// Exit codes: 0 success, 2 configuration/input error, 3 one or more
// entries ended the run in failed, 4 unrecoverable runtime error, 130
// interrupted by SIGINT per the conventional 128+signal.
const (
	exitOK            = 0
	exitConfigError   = 2
	exitEntriesFailed = 3
	exitRuntimeError  = 4
	exitInterrupted   = 130
)

type runFlags struct {
	doisPath     string
	pmidsPath    string
	pmcidsPath   string
	cord19Path   string
	reset        bool
	reprocess    bool
	grobid       bool
	thumbnail    bool
	annotation   bool
	diagnostic   bool
	dump         bool
	reverseTEI   bool
	sample       int
	configFile   string
}

func main() {
	os.Exit(mainRun())
}

func mainRun() int {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Resolve, fetch, and structure scholarly articles from a batch of identifiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHarvest(cmd.Context(), flags)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringVar(&flags.doisPath, "dois", "", "file of DOIs, one per line")
	cmd.Flags().StringVar(&flags.pmidsPath, "pmids", "", "file of PMIDs, one per line")
	cmd.Flags().StringVar(&flags.pmcidsPath, "pmcids", "", "file of PMCIDs, one per line")
	cmd.Flags().StringVar(&flags.cord19Path, "cord19", "", "CORD-19 metadata CSV")
	cmd.Flags().BoolVar(&flags.reset, "reset", false, "clear the repository and state store before starting")
	cmd.Flags().BoolVar(&flags.reprocess, "reprocess", false, "re-run only entries currently in failed")
	cmd.Flags().BoolVar(&flags.grobid, "grobid", false, "enable PDF-to-TEI structuring via GROBID")
	cmd.Flags().BoolVar(&flags.thumbnail, "thumbnail", false, "generate thumbnails")
	cmd.Flags().BoolVar(&flags.annotation, "annotation", false, "request reference annotations")
	cmd.Flags().BoolVar(&flags.diagnostic, "diagnostic", false, "run the diagnostic reporter only, no harvesting")
	cmd.Flags().BoolVar(&flags.dump, "dump", false, "emit the consolidated metadata JSON dump and exit")
	cmd.Flags().BoolVar(&flags.reverseTEI, "reverse-transform", false, "structure any backlog of JATS artifacts lacking TEI, then exit")
	cmd.Flags().IntVar(&flags.sample, "sample", 0, "cap the number of entries processed this run (0 = no cap)")
	cmd.Flags().StringVar(&flags.configFile, "config", "", "configuration file path (default ./config.yaml)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			fmt.Fprintln(os.Stderr, "interrupted")
			return exitInterrupted
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var cfgErr *configError
		if errors.As(err, &cfgErr) {
			return exitConfigError
		}
		return exitRuntimeError
	}
	return exitCodeFromResult
}

// exitCodeFromResult is set by runHarvest before returning, since a
// cobra RunE can only signal success/failure via error, not a richer
// exit code. runHarvest returns a non-nil error only for fatal setup
// failures; "some entries failed" is reported via this package-level
// value instead, read by mainRun after Execute returns successfully.
var exitCodeFromResult = exitOK

// configError wraps a configuration or input-argument failure so
// mainRun can translate it to exitConfigError.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func runHarvest(ctx context.Context, flags runFlags) error {
	exitCodeFromResult = exitOK

	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return &configError{fmt.Errorf("load config: %w", err)}
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	}).With().Str("component", "harvester").Logger()

	metrics := observability.NewMetrics("article_harvester")

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux}
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Tracing.Enabled {
		tp := observability.NewTracerProvider(cfg.Tracing.ServiceName, cfg.Tracing.SampleRate)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	store, err := entrystore.OpenWithCompactionThreshold(cfg.DataPath+"/map.jsonl", cfg.Orchestrator.CompactionThreshold)
	if err != nil {
		return fmt.Errorf("open entry state store: %w", err)
	}
	defer store.Close()

	if flags.reset {
		logger.Warn().Msg("clearing repository and state store")
		resetRepo, err := openRepository(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open artifact repository: %w", err)
		}
		for _, e := range store.IterAll() {
			if err := resetRepo.DeletePrefix(ctx, e.StorageKey()); err != nil {
				return fmt.Errorf("reset repository: %w", err)
			}
		}
		if err := store.Reset(); err != nil {
			return fmt.Errorf("reset state store: %w", err)
		}
	}

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open artifact repository: %w", err)
	}

	var publisher *outbox.Publisher
	if cfg.Kafka.Enabled {
		publisher = outbox.NewPublisher(outbox.PublisherConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}, logger)
		defer publisher.Close()
	}

	if flags.diagnostic {
		report := diagnostics.Generate(store)
		return diagnostics.WriteText(os.Stdout, report)
	}

	if flags.dump {
		return diagnostics.DumpMetadata(os.Stdout, store)
	}

	if flags.reverseTEI {
		pub2tei := structuring.NewPub2TEIClient(structuring.Pub2TEIConfig{
			JATSTransformerPath: cfg.Structuring.JATSTransformerPath,
		})
		reverseCtx, cancel := context.WithTimeout(ctx, cfg.Structuring.JATSTimeout)
		defer cancel()
		result, err := reversetransform.Run(reverseCtx, store, repo, pub2tei, logger)
		if err != nil {
			return fmt.Errorf("reverse transform pass: %w", err)
		}
		logger.Info().Int("structured", result.Structured).Int("failed", result.Failed).Msg("reverse transform complete")
		if result.Failed > 0 {
			exitCodeFromResult = exitEntriesFailed
		}
		return nil
	}

	var metadataClientOpts []metadataclient.ClientOption
	if cfg.LegacyDataPath != "" {
		if pmcIndex, err := metadataclient.LoadPMCArchiveIndex(cfg.LegacyDataPath); err != nil {
			logger.Warn().Err(err).Str("path", cfg.LegacyDataPath).Msg("pmc archive index load failed, falling back to live lookup")
		} else {
			metadataClientOpts = append(metadataClientOpts, metadataclient.WithPMCArchiveIndex(pmcIndex))
		}
	}
	if cfg.CORD19PublisherPDFPath != "" {
		metadataClientOpts = append(metadataClientOpts,
			metadataclient.WithPublisherPDFIndex(metadataclient.NewPublisherPDFIndex(cfg.CORD19PublisherPDFPath)))
	}

	metadataClient := metadataclient.NewClient(
		aggregator.New(aggregator.Config{
			BaseURL: cfg.Sources.Aggregator.BaseURL, ContactEmail: cfg.ContactEmail,
			Timeout: cfg.Sources.Aggregator.Timeout, RateLimit: cfg.Sources.Aggregator.RateLimit,
			BurstSize: cfg.Sources.Aggregator.BurstSize,
		}),
		doiregistry.New(doiregistry.Config{
			BaseURL: cfg.Sources.DOIRegistry.BaseURL, ContactEmail: cfg.ContactEmail,
			Timeout: cfg.Sources.DOIRegistry.Timeout, RateLimit: cfg.Sources.DOIRegistry.RateLimit,
			BurstSize: cfg.Sources.DOIRegistry.BurstSize,
		}),
		oalocator.New(oalocator.Config{
			BaseURL: cfg.Sources.OALocator.BaseURL, ContactEmail: cfg.ContactEmail,
			Timeout: cfg.Sources.OALocator.Timeout, RateLimit: cfg.Sources.OALocator.RateLimit,
			BurstSize: cfg.Sources.OALocator.BurstSize,
		}),
		metadataClientOpts...,
	)

	downloader := fetcher.NewDownloader(fetcher.Config{
		Timeout:          cfg.Orchestrator.FetchTimeout,
		MinSize:          cfg.Orchestrator.MinArtifactSizeBytes,
		MaxSize:          cfg.Orchestrator.MaxArtifactSizeBytes,
		PerHostLimit:     cfg.Orchestrator.PerHostLimit,
		CooldownDuration: 5 * time.Minute,
	})

	grobid := structuring.NewGROBIDClient(structuring.GROBIDConfig{
		BaseURL: cfg.Structuring.GROBIDURL,
		Timeout: cfg.Structuring.PDFTimeout,
	})

	enableGrobid := cfg.Orchestrator.EnableGrobid || flags.grobid
	enableThumbnail := cfg.Orchestrator.EnableThumbnail || flags.thumbnail
	enableAnnotation := cfg.Orchestrator.EnableAnnotation || flags.annotation

	orch := orchestrator.New(orchestrator.Config{
		BatchSize:          cfg.BatchSize,
		PerStageRetries:    cfg.Orchestrator.PerStageRetries,
		RetryBaseDelay:     cfg.Orchestrator.RetryBaseDelay,
		MaxBackoff:         cfg.Orchestrator.MaxBackoff,
		MetadataTimeout:    cfg.Orchestrator.MetadataTimeout,
		FetchTimeout:       cfg.Orchestrator.FetchTimeout,
		StructuringTimeout: cfg.Orchestrator.StructuringTimeout,
		EnableGrobid:       enableGrobid,
		EnableThumbnail:    enableThumbnail,
		EnableAnnotation:   enableAnnotation,
		ThumbnailCommand:   cfg.Orchestrator.ThumbnailCommand,
	}, store, repo, metadataClient, downloader, grobid, logger)

	// work is drained by orch.Run concurrently with the producer
	// goroutine below: enqueueInputs/Reprocess can submit far more
	// entries than cfg.BatchSize, so nothing may block on a full
	// channel waiting for a consumer that hasn't started yet.
	work := make(chan *domain.Entry, cfg.BatchSize)
	enqueueErrCh := make(chan error, 1)
	submittedCh := make(chan int, 1)

	go func() {
		defer close(work)
		submitted, err := enqueueInputs(store, orch, flags, work, metrics)
		if err != nil {
			enqueueErrCh <- err
			submittedCh <- submitted
			return
		}
		if flags.reprocess {
			n, rerr := orch.Reprocess(work)
			submitted += n
			if rerr != nil {
				enqueueErrCh <- rerr
				submittedCh <- submitted
				return
			}
		}
		enqueueErrCh <- nil
		submittedCh <- submitted
	}()

	logger.Info().Bool("grobid", enableGrobid).Msg("starting harvest run")

	runErr := orch.Run(ctx, work)
	submitted := <-submittedCh
	if enqueueErr := <-enqueueErrCh; enqueueErr != nil {
		return &configError{enqueueErr}
	}
	metrics.SetQueueDepth(0)
	logger.Info().Int("submitted", submitted).Msg("harvest run finished submitting entries")

	report := diagnostics.Generate(store)
	if err := diagnostics.WriteText(os.Stdout, report); err != nil {
		logger.Error().Err(err).Msg("failed to write diagnostic summary")
	}
	if publisher != nil {
		publisher.PublishLifecycle(context.Background(), "run", outbox.EventDone, report)
	}

	if runErr != nil {
		return fmt.Errorf("orchestrator run: %w", runErr)
	}
	if report.Failed > 0 {
		exitCodeFromResult = exitEntriesFailed
	}
	return nil
}

// openRepository constructs the Artifact Repository backend selected
// by cfg.Storage.Backend.
func openRepository(ctx context.Context, cfg *config.Config) (repository.Repository, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendS3:
		return repository.NewS3Repository(ctx, cfg.Storage.S3Bucket, cfg.Storage.S3Prefix)
	default:
		return repository.NewLocalRepository(cfg.DataPath)
	}
}

// errSampleReached stops an input reader early once --sample's cap has
// been hit; it is never surfaced to the caller.
var errSampleReached = errors.New("cordinput: sample cap reached")

// enqueueInputs reads every input source named by flags, resolving or
// creating an Entry for each and pushing it onto work. It returns the
// number of entries submitted. If flags.sample > 0, it stops submitting
// once that many entries have been queued, leaving the remainder of any
// input file unread.
func enqueueInputs(store *entrystore.Store, orch *orchestrator.Orchestrator, flags runFlags, work chan<- *domain.Entry, metrics *observability.Metrics) (int, error) {
	submitted := 0

	submit := func(ids domain.Identifiers, newID string) error {
		if flags.sample > 0 && submitted >= flags.sample {
			return errSampleReached
		}
		entry, _, err := store.LookupOrCreate(ids, newID)
		if err != nil {
			return err
		}
		if entry.IsDone() {
			return nil
		}
		work <- entry
		submitted++
		metrics.RecordEntrySubmitted()
		metrics.SetQueueDepth(submitted)
		return nil
	}

	sampleReached := func(err error) (bool, error) {
		if errors.Is(err, errSampleReached) {
			return true, nil
		}
		return false, err
	}

	if flags.doisPath != "" {
		err := cordinput.ReadLines(flags.doisPath, func(line string) error {
			return submit(domain.Identifiers{DOI: line}, idgen.New())
		})
		if done, err := sampleReached(err); err != nil {
			return submitted, fmt.Errorf("read --dois %s: %w", flags.doisPath, err)
		} else if done {
			return submitted, nil
		}
	}
	if flags.pmidsPath != "" {
		err := cordinput.ReadLines(flags.pmidsPath, func(line string) error {
			return submit(domain.Identifiers{PMID: line}, idgen.New())
		})
		if done, err := sampleReached(err); err != nil {
			return submitted, fmt.Errorf("read --pmids %s: %w", flags.pmidsPath, err)
		} else if done {
			return submitted, nil
		}
	}
	if flags.pmcidsPath != "" {
		err := cordinput.ReadLines(flags.pmcidsPath, func(line string) error {
			return submit(domain.Identifiers{PMCID: line}, idgen.New())
		})
		if done, err := sampleReached(err); err != nil {
			return submitted, fmt.Errorf("read --pmcids %s: %w", flags.pmcidsPath, err)
		} else if done {
			return submitted, nil
		}
	}
	if flags.cord19Path != "" {
		err := cordinput.ReadCORD19(flags.cord19Path, func(row cordinput.Row) error {
			newID := row.CordUID
			if newID == "" {
				newID = idgen.New()
			}
			return submit(row.Identifiers(), newID)
		})
		if done, err := sampleReached(err); err != nil {
			return submitted, fmt.Errorf("read --cord19 %s: %w", flags.cord19Path, err)
		} else if done {
			return submitted, nil
		}
	}

	if flags.doisPath == "" && flags.pmidsPath == "" && flags.pmcidsPath == "" && flags.cord19Path == "" && !flags.reprocess {
		// No new input named: resume whatever is pending from a prior
		// interrupted run instead of doing nothing.
		resumeWork := make(chan *domain.Entry, 64)
		go func() {
			orch.ResumeAll(resumeWork)
			close(resumeWork)
		}()
		for e := range resumeWork {
			work <- e
			submitted++
			metrics.RecordEntrySubmitted()
			metrics.SetQueueDepth(submitted)
		}
	}

	return submitted, nil
}
