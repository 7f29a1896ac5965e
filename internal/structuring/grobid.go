// Package structuring converts downloaded articles into structured TEI
// XML via the two structuring services: GROBID, an HTTP service
// (PDF -> TEI), and Pub2TEI, a Saxon/XSLT batch subprocess (JATS -> TEI).
package structuring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// ErrStructuringFailed indicates a structuring call (HTTP or subprocess)
// failed.
var ErrStructuringFailed = errors.New("structuring: service call failed")

// GROBIDConfig configures a GROBID client.
type GROBIDConfig struct {
	BaseURL string
	Timeout time.Duration
}

func (c *GROBIDConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8070"
	}
	if c.Timeout == 0 {
		c.Timeout = 600 * time.Second
	}
}

// GROBIDClient structures a PDF into TEI XML via GROBID's
// processFulltextDocument endpoint.
type GROBIDClient struct {
	config GROBIDConfig
	client *http.Client
}

// NewGROBIDClient constructs a GROBIDClient.
func NewGROBIDClient(cfg GROBIDConfig) *GROBIDClient {
	cfg.applyDefaults()
	return &GROBIDClient{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// StructurePDF uploads pdf to GROBID and returns the resulting TEI XML.
func (c *GROBIDClient) StructurePDF(ctx context.Context, pdf []byte) ([]byte, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("input", "document.pdf")
	if err != nil {
		return nil, fmt.Errorf("structuring: create form file: %w", err)
	}
	if _, err := part.Write(pdf); err != nil {
		return nil, fmt.Errorf("structuring: write form file: %w", err)
	}
	if err := writer.WriteField("consolidateHeader", "1"); err != nil {
		return nil, fmt.Errorf("structuring: write field: %w", err)
	}
	if err := writer.WriteField("consolidateCitations", "0"); err != nil {
		return nil, fmt.Errorf("structuring: write field: %w", err)
	}
	if err := writer.WriteField("includeRawCitations", "1"); err != nil {
		return nil, fmt.Errorf("structuring: write field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("structuring: close multipart writer: %w", err)
	}

	endpoint := c.config.BaseURL + "/api/processFulltextDocument"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("structuring: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/xml")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: grobid request failed: %w", ErrStructuringFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: grobid returned %d: %s", ErrStructuringFailed, resp.StatusCode, msg)
	}

	tei, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("structuring: read grobid response: %w", err)
	}
	return tei, nil
}

// referenceAnnotations is the JSON shape written to
// <id>-ref-annotations.json: the consolidated reference list GROBID
// extracts, as raw TEI, alongside the count of references found.
type referenceAnnotations struct {
	ReferenceCount int    `json:"reference_count"`
	TEI            string `json:"tei"`
}

// RequestReferenceAnnotations uploads pdf to GROBID's
// processReferences endpoint, which extracts and consolidates only the
// bibliography (cheaper than a full processFulltextDocument pass), and
// returns the JSON annotation payload written to disk as
// <id>-ref-annotations.json. Per spec, failure here is non-fatal to the
// Entry.
func (c *GROBIDClient) RequestReferenceAnnotations(ctx context.Context, pdf []byte) ([]byte, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("input", "document.pdf")
	if err != nil {
		return nil, fmt.Errorf("structuring: create form file: %w", err)
	}
	if _, err := part.Write(pdf); err != nil {
		return nil, fmt.Errorf("structuring: write form file: %w", err)
	}
	if err := writer.WriteField("consolidateCitations", "1"); err != nil {
		return nil, fmt.Errorf("structuring: write field: %w", err)
	}
	if err := writer.WriteField("includeRawCitations", "1"); err != nil {
		return nil, fmt.Errorf("structuring: write field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("structuring: close multipart writer: %w", err)
	}

	endpoint := c.config.BaseURL + "/api/processReferences"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("structuring: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/xml")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: grobid references request failed: %w", ErrStructuringFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: grobid references returned %d: %s", ErrStructuringFailed, resp.StatusCode, msg)
	}

	tei, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("structuring: read grobid references response: %w", err)
	}

	annotations := referenceAnnotations{
		ReferenceCount: countBiblStructs(tei),
		TEI:            string(tei),
	}
	return json.Marshal(annotations)
}

// countBiblStructs counts <biblStruct occurrences in tei as a cheap
// proxy for the number of extracted references, without pulling in a
// full XML parser for a non-fatal, best-effort artifact.
func countBiblStructs(tei []byte) int {
	count := 0
	needle := []byte("<biblStruct")
	for i := 0; i+len(needle) <= len(tei); i++ {
		if bytes.Equal(tei[i:i+len(needle)], needle) {
			count++
		}
	}
	return count
}
