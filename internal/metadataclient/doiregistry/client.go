// Package doiregistry implements the DOI registry source of the
// Metadata Client: a Crossref-shaped API keyed strictly by DOI.
package doiregistry

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

// Config holds DOI registry client configuration.
type Config struct {
	BaseURL      string
	ContactEmail string
	Timeout      time.Duration
	RateLimit    float64
	BurstSize    int
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.crossref.org"
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

// Client is the DOI registry Metadata Client source.
type Client struct {
	config Config
	http   *metadataclient.HTTPClient
}

// New constructs a doiregistry Client.
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

type crossrefWork struct {
	Message struct {
		Title   []string `json:"title"`
		Author  []struct {
			Given  string `json:"given"`
			Family string `json:"family"`
			ORCID  string `json:"ORCID"`
		} `json:"author"`
		ContainerTitle []string `json:"container-title"`
		Publisher      string   `json:"publisher"`
		License        []struct {
			URL string `json:"URL"`
		} `json:"license"`
		Abstract string `json:"abstract"`
		Link     []struct {
			URL         string `json:"URL"`
			ContentType string `json:"content-type"`
		} `json:"link"`
		Published struct {
			DateParts [][]int `json:"date-parts"`
		} `json:"published"`
	} `json:"message"`
}

// Resolve looks up ids.DOI against the registry. Only DOI lookups are
// supported; callers with no DOI receive domain.ErrUnresolved
// immediately without a network call.
func (c *Client) Resolve(ctx context.Context, ids domain.Identifiers) (domain.Metadata, []domain.CandidateURL, error) {
	if ids.DOI == "" {
		return domain.Metadata{}, nil, domain.ErrUnresolved
	}

	u := fmt.Sprintf("%s/works/%s", c.config.BaseURL, url.PathEscape(ids.DOI))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.Metadata{}, nil, fmt.Errorf("doiregistry: build request: %w", err)
	}
	if c.config.ContactEmail != "" {
		q := req.URL.Query()
		q.Set("mailto", c.config.ContactEmail)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Metadata{}, nil, domain.NewRetryableError(domain.StageMetadata, fmt.Errorf("doiregistry: request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return domain.Metadata{}, nil, domain.ErrUnresolved
	}
	if resp.StatusCode >= 500 {
		return domain.Metadata{}, nil, domain.NewRetryableError(domain.StageMetadata, domain.NewExternalAPIError("doiregistry", resp.StatusCode, "server error", nil))
	}
	if resp.StatusCode >= 400 {
		return domain.Metadata{}, nil, domain.ErrUnresolved
	}

	var body crossrefWork
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Metadata{}, nil, fmt.Errorf("doiregistry: decode response: %w", err)
	}

	md := domain.Metadata{Source: "doi_registry"}
	if len(body.Message.Title) > 0 {
		md.Title = body.Message.Title[0]
	}
	if len(body.Message.ContainerTitle) > 0 {
		md.Journal = body.Message.ContainerTitle[0]
	}
	md.Venue = body.Message.Publisher
	md.Abstract = stripJATSTags(body.Message.Abstract)
	if len(body.Message.License) > 0 {
		md.License = body.Message.License[0].URL
	}
	if len(body.Message.Published.DateParts) > 0 && len(body.Message.Published.DateParts[0]) > 0 {
		md.Year = body.Message.Published.DateParts[0][0]
	}
	for _, a := range body.Message.Author {
		name := strings.TrimSpace(a.Given + " " + a.Family)
		md.Authors = append(md.Authors, domain.Author{Name: name, ORCID: a.ORCID})
	}

	var candidates []domain.CandidateURL
	for _, l := range body.Message.Link {
		if strings.Contains(l.ContentType, "pdf") {
			candidates = append(candidates, domain.CandidateURL{URL: l.URL, Source: "doi_registry_publisher", Priority: 40})
		}
	}

	return md, candidates, nil
}

// stripJATSTags is a minimal tag stripper for Crossref's JATS-fragment
// abstract field; it is not a general XML parser, only good enough to
// turn "<jats:p>text</jats:p>" into "text".
func stripJATSTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
