package metadataclient

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/article-harvester/internal/domain"
)

func writeTempCSV(t *testing.T, rows [][]string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "oa_file_list.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for _, row := range rows {
		_, err := f.WriteString(row[0] + "," + row[1] + "," + row[2] + "\n")
		require.NoError(t, err)
	}
	return path
}

func TestLoadPMCArchiveIndex(t *testing.T) {
	path := writeTempCSV(t, [][]string{
		{"oa_package/pdf/file1.tar.gz", "Some Journal. 2020", "PMC1234567"},
		{"oa_package/pdf/file2.tar.gz", "Other Journal. 2021", "PMC7654321"},
	})

	idx, err := LoadPMCArchiveIndex(path)
	require.NoError(t, err)

	url, ok := idx.ArchiveURL("PMC1234567")
	require.True(t, ok)
	assert.Equal(t, "oa_package/pdf/file1.tar.gz", url)

	_, ok = idx.ArchiveURL("PMC9999999")
	assert.False(t, ok)
}

func TestPMCArchiveIndex_NilReceiverAlwaysMisses(t *testing.T) {
	var idx *PMCArchiveIndex
	_, ok := idx.ArchiveURL("PMC1234567")
	assert.False(t, ok)
}

func TestPublisherPDFIndex_Lookup(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abcd1234.pdf"), []byte("%PDF-1.4"), 0o644))

	idx := NewPublisherPDFIndex(dir)

	url, ok := idx.Lookup("abcd1234")
	require.True(t, ok)
	assert.Equal(t, "file://"+filepath.Join(dir, "abcd1234.pdf"), url)

	_, ok = idx.Lookup("missing")
	assert.False(t, ok)
}

func TestPublisherPDFIndex_NilReceiverAlwaysMisses(t *testing.T) {
	var idx *PublisherPDFIndex
	_, ok := idx.Lookup("abcd1234")
	assert.False(t, ok)
}

// fakeSource is a minimal Source stub for exercising Enrich's local-index
// wiring without a network-shaped client.
type fakeSource struct {
	md    domain.Metadata
	urls  []domain.CandidateURL
	err   error
}

func (f fakeSource) Resolve(ctx context.Context, ids domain.Identifiers) (domain.Metadata, []domain.CandidateURL, error) {
	return f.md, f.urls, f.err
}

func TestEnrich_PrependsLocalPMCArchiveCandidate(t *testing.T) {
	path := writeTempCSV(t, [][]string{
		{"oa_package/pdf/file1.tar.gz", "Some Journal. 2020", "PMC1234567"},
	})
	idx, err := LoadPMCArchiveIndex(path)
	require.NoError(t, err)

	answering := fakeSource{md: domain.Metadata{Title: "A paper"}, urls: []domain.CandidateURL{
		{URL: "https://oa-locator.example/best", Priority: 10},
	}}
	unresolved := fakeSource{err: domain.ErrUnresolved}

	c := NewClient(answering, unresolved, unresolved, WithPMCArchiveIndex(idx))
	_, candidates, err := c.Enrich(context.Background(), domain.Identifiers{PMCID: "PMC1234567"})
	require.NoError(t, err)

	require.NotEmpty(t, candidates)
	assert.Equal(t, "pmc_oa_archive_local", candidates[0].Source)
	assert.Equal(t, "oa_package/pdf/file1.tar.gz", candidates[0].URL)
}

func TestEnrich_AppendsCORD19PublisherPDFCandidateForElsevier(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deadbeef.pdf"), []byte("%PDF-1.4"), 0o644))
	idx := NewPublisherPDFIndex(dir)

	answering := fakeSource{md: domain.Metadata{Title: "A paper"}, urls: []domain.CandidateURL{
		{URL: "https://oa-locator.example/alt", Priority: 50},
	}}
	unresolved := fakeSource{err: domain.ErrUnresolved}

	c := NewClient(answering, unresolved, unresolved, WithPublisherPDFIndex(idx))
	_, candidates, err := c.Enrich(context.Background(), domain.Identifiers{Publisher: "Elsevier", Sha: "deadbeef"})
	require.NoError(t, err)

	require.Len(t, candidates, 2)
	assert.Equal(t, "cord19_publisher_pdf", candidates[len(candidates)-1].Source)
}

func TestEnrich_SkipsCORD19PublisherPDFCandidateForNonElsevier(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deadbeef.pdf"), []byte("%PDF-1.4"), 0o644))
	idx := NewPublisherPDFIndex(dir)

	answering := fakeSource{md: domain.Metadata{Title: "A paper"}}
	unresolved := fakeSource{err: domain.ErrUnresolved}

	c := NewClient(answering, unresolved, unresolved, WithPublisherPDFIndex(idx))
	_, candidates, err := c.Enrich(context.Background(), domain.Identifiers{Publisher: "PMC", Sha: "deadbeef"})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
