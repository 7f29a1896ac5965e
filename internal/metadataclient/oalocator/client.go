// Package oalocator implements the OA locator source of the Metadata
// Client: an Unpaywall-shaped API that, given a DOI, reports the best
// open-access location for the work.
package oalocator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/helixir/article-harvester/internal/domain"
	"github.com/helixir/article-harvester/internal/metadataclient"
)

// Config holds OA locator client configuration.
type Config struct {
	BaseURL      string
	ContactEmail string
	Timeout      time.Duration
	RateLimit    float64
	BurstSize    int
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.unpaywall.org/v2"
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 5
	}
	if c.BurstSize == 0 {
		c.BurstSize = 5
	}
}

// Client is the OA locator Metadata Client source.
type Client struct {
	config Config
	http   *metadataclient.HTTPClient
}

// New constructs an oalocator Client.
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

type oaLocation struct {
	URLForPDF      string `json:"url_for_pdf"`
	URL            string `json:"url"`
	License        string `json:"license"`
	HostType       string `json:"host_type"`
	IsBest         bool   `json:"-"`
}

type unpaywallResponse struct {
	Title          string `json:"title"`
	Year           int    `json:"year"`
	JournalName    string `json:"journal_name"`
	IsOA           bool   `json:"is_oa"`
	BestOALocation *struct {
		URLForPDF string `json:"url_for_pdf"`
		URL       string `json:"url"`
		License   string `json:"license"`
		HostType  string `json:"host_type"`
	} `json:"best_oa_location"`
	OALocations []oaLocation `json:"oa_locations"`
	ZAuthors    []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
	} `json:"z_authors"`
}

// Resolve looks up ids.DOI against the locator. Only DOI lookups are
// supported, per the upstream API's contract.
func (c *Client) Resolve(ctx context.Context, ids domain.Identifiers) (domain.Metadata, []domain.CandidateURL, error) {
	if ids.DOI == "" {
		return domain.Metadata{}, nil, domain.ErrUnresolved
	}

	u := fmt.Sprintf("%s/%s", c.config.BaseURL, url.PathEscape(ids.DOI))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.Metadata{}, nil, fmt.Errorf("oalocator: build request: %w", err)
	}
	q := req.URL.Query()
	if c.config.ContactEmail != "" {
		q.Set("email", c.config.ContactEmail)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Metadata{}, nil, domain.NewRetryableError(domain.StageMetadata, fmt.Errorf("oalocator: request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return domain.Metadata{}, nil, domain.ErrUnresolved
	}
	if resp.StatusCode >= 500 {
		return domain.Metadata{}, nil, domain.NewRetryableError(domain.StageMetadata, domain.NewExternalAPIError("oalocator", resp.StatusCode, "server error", nil))
	}
	if resp.StatusCode >= 400 {
		return domain.Metadata{}, nil, domain.ErrUnresolved
	}

	var body unpaywallResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Metadata{}, nil, fmt.Errorf("oalocator: decode response: %w", err)
	}
	if !body.IsOA {
		return domain.Metadata{}, nil, domain.ErrUnresolved
	}

	md := domain.Metadata{
		Title:   body.Title,
		Year:    body.Year,
		Journal: body.JournalName,
		Source:  "oa_locator",
	}
	for _, a := range body.ZAuthors {
		name := a.Given + " " + a.Family
		md.Authors = append(md.Authors, domain.Author{Name: name})
	}

	var candidates []domain.CandidateURL
	if body.BestOALocation != nil {
		best := body.BestOALocation
		md.License = best.License
		target := best.URLForPDF
		if target == "" {
			target = best.URL
		}
		if target != "" {
			md.OAURL = target
			candidates = append(candidates, domain.CandidateURL{URL: target, Source: "oa_locator_best", Priority: 10})
		}
	}
	for _, loc := range body.OALocations {
		target := loc.URLForPDF
		if target == "" {
			target = loc.URL
		}
		if target == "" || target == md.OAURL {
			continue
		}
		candidates = append(candidates, domain.CandidateURL{URL: target, Source: "oa_locator_alt", Priority: 50})
	}

	return md, candidates, nil
}
