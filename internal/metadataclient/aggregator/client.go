// Package aggregator implements the bibliographic aggregator source of
// the Metadata Client: an OpenAlex-shaped API that resolves any of DOI,
// PMID, or PMCID to a normalized work record.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/helixir/article-harvester/internal/domain"
	"github.com/helixir/article-harvester/internal/metadataclient"
)

// Config holds aggregator client configuration.
type Config struct {
	BaseURL      string
	ContactEmail string
	Timeout      time.Duration
	RateLimit    float64
	BurstSize    int
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openalex.org"
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 10
	}
	if c.BurstSize == 0 {
		c.BurstSize = 10
	}
}

// Client is the aggregator Metadata Client source.
type Client struct {
	config Config
	http   *metadataclient.HTTPClient
}

// New constructs an aggregator Client.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		config: cfg,
		http: metadataclient.NewHTTPClient(metadataclient.HTTPClientConfig{
			Timeout:      cfg.Timeout,
			RateLimit:    cfg.RateLimit,
			BurstSize:    cfg.BurstSize,
			ContactEmail: cfg.ContactEmail,
		}),
	}
}

// work is the subset of an OpenAlex "Work" object this harvester uses.
type work struct {
	Title              string `json:"title"`
	PublicationYear    int    `json:"publication_year"`
	Language           string `json:"language"`
	OpenAccess         struct {
		IsOA   bool   `json:"is_oa"`
		OAURL  string `json:"oa_url"`
		Status string `json:"oa_status"`
	} `json:"open_access"`
	PrimaryLocation struct {
		License  string `json:"license"`
		Source   struct {
			DisplayName string `json:"display_name"`
		} `json:"source"`
		PDFURL string `json:"pdf_url"`
	} `json:"primary_location"`
	Authorships []struct {
		Author struct {
			DisplayName string `json:"display_name"`
			ORCID       string `json:"orcid"`
		} `json:"author"`
	} `json:"authorships"`
	Abstract map[string][]int `json:"abstract_inverted_index"`
}

// Resolve looks up ids against the aggregator and returns normalized
// Metadata plus any URL the aggregator itself offers as a candidate. It
// returns domain.ErrUnresolved if the aggregator has no record.
func (c *Client) Resolve(ctx context.Context, ids domain.Identifiers) (domain.Metadata, []domain.CandidateURL, error) {
	filter, ok := buildFilter(ids)
	if !ok {
		return domain.Metadata{}, nil, domain.ErrUnresolved
	}

	u, err := url.Parse(c.config.BaseURL + "/works")
	if err != nil {
		return domain.Metadata{}, nil, fmt.Errorf("aggregator: build url: %w", err)
	}
	q := u.Query()
	q.Set("filter", filter)
	q.Set("per-page", "1")
	if c.config.ContactEmail != "" {
		q.Set("mailto", c.config.ContactEmail)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.Metadata{}, nil, fmt.Errorf("aggregator: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Metadata{}, nil, domain.NewRetryableError(domain.StageMetadata, fmt.Errorf("aggregator: request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return domain.Metadata{}, nil, domain.ErrUnresolved
	}
	if resp.StatusCode >= 500 {
		return domain.Metadata{}, nil, domain.NewRetryableError(domain.StageMetadata, domain.NewExternalAPIError("aggregator", resp.StatusCode, "server error", nil))
	}
	if resp.StatusCode >= 400 {
		return domain.Metadata{}, nil, domain.ErrUnresolved
	}

	var body struct {
		Results []work `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Metadata{}, nil, fmt.Errorf("aggregator: decode response: %w", err)
	}
	if len(body.Results) == 0 {
		return domain.Metadata{}, nil, domain.ErrUnresolved
	}

	w := body.Results[0]
	md := domain.Metadata{
		Title:    w.Title,
		Year:     w.PublicationYear,
		Journal:  w.PrimaryLocation.Source.DisplayName,
		License:  w.PrimaryLocation.License,
		OAURL:    w.OpenAccess.OAURL,
		Abstract: reconstructAbstract(w.Abstract),
		Source:   "aggregator",
	}
	for _, a := range w.Authorships {
		md.Authors = append(md.Authors, domain.Author{Name: a.Author.DisplayName, ORCID: a.Author.ORCID})
	}

	var candidates []domain.CandidateURL
	if w.OpenAccess.IsOA && w.OpenAccess.OAURL != "" {
		candidates = append(candidates, domain.CandidateURL{URL: w.OpenAccess.OAURL, Source: "aggregator_oa", Priority: 20})
	}
	if w.PrimaryLocation.PDFURL != "" {
		candidates = append(candidates, domain.CandidateURL{URL: w.PrimaryLocation.PDFURL, Source: "aggregator_pdf", Priority: 30})
	}

	return md, candidates, nil
}

func buildFilter(ids domain.Identifiers) (string, bool) {
	switch {
	case ids.DOI != "":
		return "doi:" + strings.ToLower(ids.DOI), true
	case ids.PMID != "":
		return "ids.pmid:" + ids.PMID, true
	case ids.PMCID != "":
		return "ids.pmcid:" + ids.PMCID, true
	default:
		return "", false
	}
}

// reconstructAbstract rebuilds plain text from OpenAlex's inverted-index
// abstract representation (word -> list of positions).
func reconstructAbstract(inverted map[string][]int) string {
	if len(inverted) == 0 {
		return ""
	}
	maxPos := 0
	for _, positions := range inverted {
		for _, p := range positions {
			if p > maxPos {
				maxPos = p
			}
		}
	}
	words := make([]string, maxPos+1)
	for word, positions := range inverted {
		for _, p := range positions {
			words[p] = word
		}
	}
	return strings.Join(words, " ")
}
