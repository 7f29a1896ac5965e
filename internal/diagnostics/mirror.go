package diagnostics

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Mirror is the optional Postgres Diagnostics Mirror: a read-mirror of
// the Diagnostic Reporter's summary counts, upserted into a
// harvest_snapshots table for historical trend dashboards.
// map.jsonl remains the sole source of truth for resume; this mirror
// is never consulted for orchestration decisions.
type Mirror struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewMirror connects to dsn and returns a Mirror. Callers must call
// Close when done.
func NewMirror(ctx context.Context, dsn string, logger zerolog.Logger) (*Mirror, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: connect mirror: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("diagnostics: ping mirror: %w", err)
	}
	return &Mirror{pool: pool, logger: logger.With().Str("component", "diagnostics_mirror").Logger()}, nil
}

// Close releases the connection pool.
func (m *Mirror) Close() { m.pool.Close() }

// Record upserts r as a new historical snapshot row, keyed by its
// generation timestamp.
func (m *Mirror) Record(ctx context.Context, r Report) error {
	const q = `
INSERT INTO harvest_snapshots (
	generated_at, total_entries, with_oa_url, with_pdf,
	with_tei_from_pdf, with_tei_from_jats, with_any_tei, done, failed
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (generated_at) DO UPDATE SET
	total_entries = EXCLUDED.total_entries,
	with_oa_url = EXCLUDED.with_oa_url,
	with_pdf = EXCLUDED.with_pdf,
	with_tei_from_pdf = EXCLUDED.with_tei_from_pdf,
	with_tei_from_jats = EXCLUDED.with_tei_from_jats,
	with_any_tei = EXCLUDED.with_any_tei,
	done = EXCLUDED.done,
	failed = EXCLUDED.failed
`
	_, err := m.pool.Exec(ctx, q,
		r.GeneratedAt, r.TotalEntries, r.WithOAURL, r.WithPDF,
		r.WithTEIFromPDF, r.WithTEIFromJATS, r.WithAnyTEI, r.Done, r.Failed,
	)
	if err != nil {
		return fmt.Errorf("diagnostics: record snapshot: %w", err)
	}
	m.logger.Debug().Int("total_entries", r.TotalEntries).Msg("snapshot recorded")
	return nil
}
