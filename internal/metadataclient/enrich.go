package metadataclient

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/helixir/article-harvester/internal/domain"
)

// Priority bands for the two local-index candidates, placed either side
// of the three network sources' own bands (oa_locator_best=10 through
// oa_locator_alt=50) per the (a)...(e) ordering: a local PMC-OA archive
// hit outranks every network source, and a CORD-19 Elsevier local mirror
// hit is the last resort.
const (
	priorityPMCArchiveLocal    = 5
	priorityCORD19PublisherPDF = 60
)

// Source is implemented by each of the three Metadata Client upstreams:
// the aggregator, the DOI registry, and the OA locator.
type Source interface {
	Resolve(ctx context.Context, ids domain.Identifiers) (domain.Metadata, []domain.CandidateURL, error)
}

// Client consults its Sources in priority order and merges their
// answers into a single normalized record plus a ranked candidate URL
// list, per spec §4.2: the first source that answers supplies the
// canonical record, and every source that answers afterward only fills
// gaps and contributes candidate URLs.
type Client struct {
	sources           []namedSource
	pmcIndex          *PMCArchiveIndex
	publisherPDFIndex *PublisherPDFIndex
}

type namedSource struct {
	name   string
	source Source
}

// ClientOption configures optional local indexes on a Client.
type ClientOption func(*Client)

// WithPMCArchiveIndex wires a local PMC-OA archive index so a known
// PMCID resolves to its archive URL (priority ahead of every network
// source) without a live oa.fcgi lookup.
func WithPMCArchiveIndex(idx *PMCArchiveIndex) ClientOption {
	return func(c *Client) { c.pmcIndex = idx }
}

// WithPublisherPDFIndex wires the CORD-19 Elsevier publisher PDF mirror,
// consulted as the last-resort candidate for CORD-19 rows whose
// source_x names Elsevier.
func WithPublisherPDFIndex(idx *PublisherPDFIndex) ClientOption {
	return func(c *Client) { c.publisherPDFIndex = idx }
}

// NewClient builds a Metadata Client over the given sources. They are
// consulted in argument order: aggregator, DOI registry, OA locator.
func NewClient(aggregator, doiRegistry, oaLocator Source, opts ...ClientOption) *Client {
	c := &Client{sources: []namedSource{
		{"aggregator", aggregator},
		{"doi_registry", doiRegistry},
		{"oa_locator", oaLocator},
	}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enrich consults every source in priority order and returns the merged
// metadata and deduplicated, priority-sorted candidate URL list. It
// returns domain.ErrUnresolved only if every source returned
// ErrUnresolved; a retryable error from any one source does not abort
// the remaining sources, but is returned if it is the only information
// gathered.
func (c *Client) Enrich(ctx context.Context, ids domain.Identifiers) (domain.Metadata, []domain.CandidateURL, error) {
	var (
		merged      domain.Metadata
		haveRecord  bool
		candidates  []domain.CandidateURL
		seen        = map[string]bool{}
		lastErr     error
		retryErrSet bool
	)

	for _, ns := range c.sources {
		md, urls, err := ns.source.Resolve(ctx, ids)
		if err != nil {
			if errors.Is(err, domain.ErrUnresolved) {
				continue
			}
			if domain.IsRetryable(err) {
				lastErr = err
				retryErrSet = true
			} else if !retryErrSet {
				lastErr = err
			}
			continue
		}

		if !haveRecord {
			merged = md
			haveRecord = true
		} else {
			merged = fillGaps(merged, md)
		}

		for _, u := range urls {
			if u.URL == "" || seen[u.URL] {
				continue
			}
			seen[u.URL] = true
			candidates = append(candidates, u)
		}
	}

	if !haveRecord {
		if lastErr != nil {
			return domain.Metadata{}, nil, lastErr
		}
		return domain.Metadata{}, nil, domain.ErrUnresolved
	}

	if url, ok := c.pmcIndex.ArchiveURL(ids.PMCID); ok && !seen[url] {
		seen[url] = true
		candidates = append(candidates, domain.CandidateURL{URL: url, Source: "pmc_oa_archive_local", Priority: priorityPMCArchiveLocal})
	}
	if strings.EqualFold(ids.Publisher, "Elsevier") {
		if url, ok := c.publisherPDFIndex.Lookup(ids.Sha); ok && !seen[url] {
			seen[url] = true
			candidates = append(candidates, domain.CandidateURL{URL: url, Source: "cord19_publisher_pdf", Priority: priorityCORD19PublisherPDF})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Priority < candidates[j].Priority })

	if merged.OAURL != "" {
		candidates = promoteOAURL(candidates, merged.OAURL)
	}

	return merged, candidates, nil
}

// fillGaps fills zero-value fields of base from fallback, without
// overwriting fields base already has from a higher-priority source.
func fillGaps(base, fallback domain.Metadata) domain.Metadata {
	if base.Title == "" {
		base.Title = fallback.Title
	}
	if len(base.Authors) == 0 {
		base.Authors = fallback.Authors
	}
	if base.Venue == "" {
		base.Venue = fallback.Venue
	}
	if base.Journal == "" {
		base.Journal = fallback.Journal
	}
	if base.Year == 0 {
		base.Year = fallback.Year
	}
	if base.License == "" {
		base.License = fallback.License
	}
	if base.Abstract == "" {
		base.Abstract = fallback.Abstract
	}
	if base.OAURL == "" {
		base.OAURL = fallback.OAURL
	}
	return base
}

// promoteOAURL ensures the merged record's chosen OA URL sits first in
// the candidate list regardless of which source's priority band it
// arrived in, since it represents the strongest open-access signal
// across all sources consulted.
func promoteOAURL(candidates []domain.CandidateURL, oaURL string) []domain.CandidateURL {
	for i, c := range candidates {
		if c.URL == oaURL && i != 0 {
			reordered := append([]domain.CandidateURL{c}, append(candidates[:i], candidates[i+1:]...)...)
			return reordered
		}
	}
	return candidates
}
