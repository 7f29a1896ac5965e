package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/article-harvester/internal/domain"
)

var samplePDFContent = []byte("%PDF-1.4 sample content for testing")

func TestNewDownloader_Defaults(t *testing.T) {
	d := NewDownloader(Config{AllowPrivateNetworks: true})
	require.NotNil(t, d)
	assert.Equal(t, int64(100*1024*1024), d.maxSize)
	assert.Equal(t, 120*time.Second, d.client.Timeout)
}

func TestFetchCascade_FirstSuccessWins(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(samplePDFContent)
	}))
	defer good.Close()

	d := NewDownloader(Config{AllowPrivateNetworks: true})
	candidates := []domain.CandidateURL{
		{URL: bad.URL, Priority: 10},
		{URL: good.URL, Priority: 20},
	}

	res, err := d.FetchCascade(context.Background(), candidates, KindPDF)
	require.NoError(t, err)
	assert.Equal(t, samplePDFContent, res.Content)
	assert.Equal(t, good.URL, res.SourceURL)
	assert.Len(t, res.ContentHash, 64)
}

func TestFetchCascade_RejectsBelowMinSize(t *testing.T) {
	tooSmall := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(samplePDFContent)
	}))
	defer tooSmall.Close()

	d := NewDownloader(Config{AllowPrivateNetworks: true, MinSize: int64(len(samplePDFContent)) + 1})
	_, err := d.FetchCascade(context.Background(), []domain.CandidateURL{{URL: tooSmall.URL}}, KindPDF)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAllURLsFailed)
	assert.ErrorContains(t, err, "too_small")
}

func TestFetchCascade_AllFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()

	d := NewDownloader(Config{AllowPrivateNetworks: true})
	_, err := d.FetchCascade(context.Background(), []domain.CandidateURL{{URL: bad.URL}}, KindPDF)
	require.Error(t, err)
}

func TestFetchCascade_NoCandidates(t *testing.T) {
	d := NewDownloader(Config{AllowPrivateNetworks: true})
	_, err := d.FetchCascade(context.Background(), nil, KindPDF)
	assert.ErrorIs(t, err, domain.ErrNoURL)
}

func TestValidateContent_RejectsMislabeledPDF(t *testing.T) {
	err := validateContent([]byte("not a pdf"), "application/pdf", KindPDF)
	assert.ErrorIs(t, err, ErrNotPDF)
}

func TestValidateContent_AcceptsMagicBytesRegardlessOfHeader(t *testing.T) {
	err := validateContent(samplePDFContent, "application/octet-stream", KindPDF)
	assert.NoError(t, err)
}
