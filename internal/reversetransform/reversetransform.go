// Package reversetransform runs a separable batch pass converting
// already-downloaded JATS/NLM documents to TEI XML via Pub2TEI,
// independent of the per-entry Orchestrator pipeline. It exists so a
// backlog of JATS artifacts collected before Pub2TEI was configured (or
// left over from a failed tei_jats stage) can be structured in one
// sweep without re-running the full harvest. Pub2TEI's own batch
// wrapper stages every document into one working directory and invokes
// Saxon once for the whole backlog rather than per document, since it
// is built to run that way for good runtime; this pass does the same.
package reversetransform

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/article-harvester/internal/domain"
	"github.com/helixir/article-harvester/internal/entrystore"
	"github.com/helixir/article-harvester/internal/repository"
	"github.com/helixir/article-harvester/internal/structuring"
)

// Result summarizes one Run.
type Result struct {
	Candidates int
	Structured int
	Skipped    int
	Failed     int
}

// jatsOutputSuffixes lists the extensions Pub2TEI's Saxon invocation
// appends to a transformed input file in directory-output mode.
var jatsOutputSuffixes = []string{".nxml.xml", ".nxml", ".nlm"}

// Run scans store for Entries with a JATS artifact but no TEI-from-JATS
// artifact, copies each one's .nxml into a fresh working directory, runs
// client's Saxon/XSLT batch transform once over the whole directory, and
// copies the resulting TEI XML back per Entry, updating store.
func Run(ctx context.Context, store *entrystore.Store, repo repository.Repository, client *structuring.Pub2TEIClient, logger zerolog.Logger) (Result, error) {
	var result Result
	log := logger.With().Str("component", "reversetransform").Logger()

	byID := make(map[string]*domain.Entry)
	for _, e := range store.IterAll() {
		if e.Artifacts.JATS && !e.Artifacts.TEIFromJATS {
			byID[e.ID] = e
		}
	}
	result.Candidates = len(byID)
	log.Info().Int("candidates", result.Candidates).Msg("starting reverse transform pass")

	if result.Candidates == 0 {
		return result, nil
	}

	workDir, err := os.MkdirTemp("", "harvester-pub2tei-*")
	if err != nil {
		return result, fmt.Errorf("reversetransform: mkdir working dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	inputDir := filepath.Join(workDir, "in")
	outputDir := filepath.Join(workDir, "out")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		return result, fmt.Errorf("reversetransform: mkdir input dir: %w", err)
	}

	for id, e := range byID {
		jatsPath := e.StorageKey() + "/" + e.ID + ".nxml"
		jats, err := repo.Get(ctx, jatsPath)
		if err != nil {
			log.Warn().Err(err).Str("entry_id", id).Msg("jats artifact missing, skipping")
			result.Skipped++
			delete(byID, id)
			continue
		}
		if err := os.WriteFile(filepath.Join(inputDir, id+".nxml"), jats, 0o644); err != nil {
			return result, fmt.Errorf("reversetransform: stage %s: %w", id, err)
		}
	}

	if len(byID) == 0 {
		return result, nil
	}

	if err := client.StructureBatch(ctx, inputDir, outputDir); err != nil {
		log.Error().Err(err).Msg("pub2tei batch transform failed")
		result.Failed = len(byID)
		return result, nil
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return result, fmt.Errorf("reversetransform: read output dir: %w", err)
	}

	produced := make(map[string]bool, len(entries))
	for _, fi := range entries {
		if fi.IsDir() {
			continue
		}
		name := fi.Name()
		if !hasJATSOutputSuffix(name) {
			continue
		}
		identifier := strings.SplitN(name, ".", 2)[0]
		e, ok := byID[identifier]
		if !ok {
			continue
		}
		produced[identifier] = true

		tei, err := os.ReadFile(filepath.Join(outputDir, name))
		if err != nil {
			log.Error().Err(err).Str("entry_id", identifier).Msg("read pub2tei output failed")
			result.Failed++
			continue
		}

		teiPath := e.StorageKey() + "/" + e.ID + ".pub2tei.tei.xml"
		if err := repo.Put(ctx, teiPath, bytes.NewReader(tei), int64(len(tei))); err != nil {
			log.Error().Err(err).Str("entry_id", identifier).Msg("persist tei failed")
			result.Failed++
			continue
		}

		e.Artifacts.TEIFromJATS = true
		e.MarkSuccess(domain.StageTEIJATS)
		if err := store.Update(e); err != nil {
			log.Error().Err(err).Str("entry_id", identifier).Msg("persist entry state failed")
			return result, fmt.Errorf("reversetransform: update entry %s: %w", identifier, err)
		}
		result.Structured++
	}

	for id := range byID {
		if !produced[id] {
			log.Warn().Str("entry_id", id).Msg("pub2tei batch produced no output for entry")
			result.Failed++
		}
	}

	log.Info().
		Int("structured", result.Structured).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("reverse transform pass complete")
	return result, nil
}

func hasJATSOutputSuffix(name string) bool {
	for _, suffix := range jatsOutputSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
