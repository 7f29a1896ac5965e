// Package fetcher downloads PDF and JATS XML artifacts from a ranked
// list of candidate URLs, trying each in turn until one validates, and
// extracts the .nxml member from PMC OA archive tarballs.
package fetcher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/helixir/article-harvester/internal/domain"
)

// Sentinel errors for download operations.
var (
	ErrNotPDF         = errors.New("fetcher: response is not a valid pdf")
	ErrNotJATS        = errors.New("fetcher: response is not valid jats xml")
	ErrDownloadFailed = errors.New("fetcher: download failed")
	ErrSSRF           = errors.New("fetcher: request to private network denied")
)

// pdfMagic is the byte sequence every valid PDF starts with.
var pdfMagic = []byte("%PDF-")

// Result holds one successfully fetched and validated artifact.
type Result struct {
	Content     []byte
	ContentHash string
	SizeBytes   int64
	ContentType string
	SourceURL   string
}

// Config configures a Downloader.
type Config struct {
	Timeout              time.Duration
	MinSize              int64
	MaxSize              int64
	UserAgent            string
	PerHostLimit         int64
	CooldownDuration     time.Duration
	AllowPrivateNetworks bool // test-only escape hatch, never set in production
}

// Downloader fetches PDF/JATS artifacts across a cascade of candidate
// URLs, enforcing content validation, size bounds, SSRF protection, and
// per-host concurrency/cooldown.
type Downloader struct {
	client    *http.Client
	minSize   int64
	maxSize   int64
	userAgent string
	allowPriv bool
	gate      *hostGate
	cooldown  time.Duration
}

// NewDownloader builds a Downloader from cfg, applying defaults for any
// zero-valued field.
func NewDownloader(cfg Config) *Downloader {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 100 * 1024 * 1024
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; article-harvester/1.0; +https://github.com/helixir/article-harvester)"
	}
	if cfg.CooldownDuration == 0 {
		cfg.CooldownDuration = 5 * time.Minute
	}

	d := &Downloader{
		minSize:   cfg.MinSize,
		maxSize:   cfg.MaxSize,
		userAgent: cfg.UserAgent,
		allowPriv: cfg.AllowPrivateNetworks,
		gate:      newHostGate(cfg.PerHostLimit),
		cooldown:  cfg.CooldownDuration,
	}
	d.client = &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("%w: too many redirects", ErrSSRF)
			}
			if !d.allowPriv {
				if err := validateURLNotPrivate(req.URL.String()); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return d
}

// Kind selects which content validator a FetchCascade call applies.
type Kind int

const (
	KindPDF Kind = iota
	KindJATS
	KindPMCArchive
)

// FetchCascade tries each candidate URL in order and returns the first
// one that downloads and validates successfully. It returns
// domain.ErrAllURLsFailed if every candidate failed, or
// domain.ErrNoURL if candidates is empty.
func (d *Downloader) FetchCascade(ctx context.Context, candidates []domain.CandidateURL, kind Kind) (*Result, error) {
	if len(candidates) == 0 {
		return nil, domain.ErrNoURL
	}

	var lastErr error
	for _, c := range candidates {
		res, err := d.fetchOne(ctx, c.URL, kind)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: last error: %v", domain.ErrAllURLsFailed, lastErr)
}

func (d *Downloader) fetchOne(ctx context.Context, rawURL string, kind Kind) (*Result, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url: %w", ErrDownloadFailed, err)
	}
	host := parsed.Hostname()

	if until, cooling := d.gate.inCooldown(host); cooling {
		return nil, fmt.Errorf("%w: host %s cooling down until %s", domain.ErrRateLimited, host, until)
	}

	if !d.allowPriv {
		if err := validateURLNotPrivate(rawURL); err != nil {
			return nil, err
		}
	}

	if err := d.gate.acquire(ctx, host); err != nil {
		return nil, fmt.Errorf("acquire host slot: %w", err)
	}
	defer d.gate.release(host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	switch kind {
	case KindPDF:
		req.Header.Set("Accept", "application/pdf, */*;q=0.8")
	case KindPMCArchive:
		req.Header.Set("Accept", "application/gzip, application/x-gzip, */*;q=0.8")
	default:
		req.Header.Set("Accept", "application/xml, text/xml, */*;q=0.8")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
		}
		return nil, domain.NewRetryableError(domain.StagePDF, fmt.Errorf("%w: %w", ErrDownloadFailed, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
		d.gate.markCooldown(host, d.cooldown)
		return nil, fmt.Errorf("%w: host %s returned %d", domain.ErrRateLimited, host, resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return nil, domain.NewRetryableError(domain.StagePDF, fmt.Errorf("%w: HTTP %d", ErrDownloadFailed, resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrDownloadFailed, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")

	limitReader := io.LimitReader(resp.Body, d.maxSize+1)
	content, err := io.ReadAll(limitReader)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrDownloadFailed, err)
	}
	if int64(len(content)) > d.maxSize {
		return nil, fmt.Errorf("%w: exceeded %d bytes", domain.ErrTooLarge, d.maxSize)
	}
	if d.minSize > 0 && int64(len(content)) < d.minSize {
		return nil, fmt.Errorf("%w: below %d bytes", domain.ErrTooSmall, d.minSize)
	}

	validateKind := kind
	if kind == KindPMCArchive {
		nxml, err := ExtractNXML(bytes.NewReader(content))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotJATS, err)
		}
		content = nxml
		contentType = "application/xml"
		validateKind = KindJATS
	}

	if err := validateContent(content, contentType, validateKind); err != nil {
		return nil, err
	}

	hash := sha256.Sum256(content)
	return &Result{
		Content:     content,
		ContentHash: hex.EncodeToString(hash[:]),
		SizeBytes:   int64(len(content)),
		ContentType: contentType,
		SourceURL:   rawURL,
	}, nil
}

// validateContent checks a downloaded body against the expected kind
// using both the declared Content-Type and a magic-byte sniff, since
// OA hosts frequently mislabel the header.
func validateContent(content []byte, contentType string, kind Kind) error {
	ct := strings.ToLower(contentType)
	switch kind {
	case KindPDF:
		if bytes.HasPrefix(bytes.TrimSpace(content), pdfMagic) {
			return nil
		}
		if strings.Contains(ct, "pdf") {
			return fmt.Errorf("%w: content-type claims pdf but magic bytes do not match", ErrNotPDF)
		}
		return fmt.Errorf("%w: content-type is %q and magic bytes do not match", ErrNotPDF, contentType)
	case KindJATS:
		trimmed := bytes.TrimSpace(content)
		if bytes.HasPrefix(trimmed, []byte("<?xml")) || bytes.HasPrefix(trimmed, []byte("<")) {
			return nil
		}
		return fmt.Errorf("%w: content-type is %q and body is not xml", ErrNotJATS, contentType)
	default:
		return nil
	}
}
