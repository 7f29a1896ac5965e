package orchestrator

import (
	"bytes"
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/helixir/article-harvester/internal/domain"
	"github.com/helixir/article-harvester/internal/thumbnail"
)

// postProcess runs the two best-effort artifacts that never gate an
// Entry's done/failed status: reference annotations and thumbnails.
// Both require a PDF; both log and move on without marking the Entry
// failed if they error, per spec §6 ("Non-fatal on failure").
func (o *Orchestrator) postProcess(ctx context.Context, entry *domain.Entry, log zerolog.Logger) {
	if !entry.Artifacts.PDF {
		return
	}

	if o.cfg.EnableAnnotation && !entry.Artifacts.RefAnnotations {
		if err := o.extractReferenceAnnotations(ctx, entry); err != nil {
			log.Warn().Err(err).Msg("reference annotation extraction failed, continuing")
		} else if err := o.store.Update(entry); err != nil {
			log.Error().Err(err).Msg("persist reference annotations flag failed")
		}
	}

	if o.cfg.EnableThumbnail && !entry.Artifacts.Thumbnails {
		if err := o.generateThumbnails(ctx, entry); err != nil {
			log.Warn().Err(err).Msg("thumbnail generation failed, continuing")
		} else if err := o.store.Update(entry); err != nil {
			log.Error().Err(err).Msg("persist thumbnails flag failed")
		}
	}
}

func (o *Orchestrator) extractReferenceAnnotations(ctx context.Context, entry *domain.Entry) error {
	if o.grobid == nil {
		return fmt.Errorf("postprocess: grobid client not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.StructuringTimeout)
	defer cancel()

	pdf, err := o.repo.Get(ctx, entry.StorageKey()+"/"+entry.ID+".pdf")
	if err != nil {
		return fmt.Errorf("read pdf for annotation: %w", err)
	}

	breaker := o.breakers.Get("grobid")
	annotations, err := breaker.Execute(func() ([]byte, error) {
		return o.grobid.RequestReferenceAnnotations(ctx, pdf)
	})
	if err != nil {
		return fmt.Errorf("request reference annotations: %w", err)
	}

	path := entry.StorageKey() + "/" + entry.ID + "-ref-annotations.json"
	if err := o.repo.Put(ctx, path, bytes.NewReader(annotations), int64(len(annotations))); err != nil {
		return fmt.Errorf("persist reference annotations: %w", err)
	}
	entry.Artifacts.RefAnnotations = true
	return nil
}

func (o *Orchestrator) generateThumbnails(ctx context.Context, entry *domain.Entry) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	defer cancel()

	pdf, err := o.repo.Get(ctx, entry.StorageKey()+"/"+entry.ID+".pdf")
	if err != nil {
		return fmt.Errorf("read pdf for thumbnail: %w", err)
	}

	images, err := thumbnail.Render(ctx, o.cfg.ThumbnailCommand, pdf)
	if err != nil {
		return fmt.Errorf("render thumbnails: %w", err)
	}

	for size, png := range images {
		path := fmt.Sprintf("%s/%s-thumb-%s.png", entry.StorageKey(), entry.ID, size)
		if err := o.repo.Put(ctx, path, bytes.NewReader(png), int64(len(png))); err != nil {
			return fmt.Errorf("persist %s thumbnail: %w", size, err)
		}
	}
	entry.Artifacts.Thumbnails = true
	return nil
}
