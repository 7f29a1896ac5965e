package metadataclient

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// PMCArchiveIndex resolves a PMCID to its NIH OA-archive tarball URL from
// a local copy of PMC's oa_file_list.csv (columns File, citation,
// Accession ID, ...), so a known PMCID never needs a live oa.fcgi
// round-trip before a candidate URL can be built.
type PMCArchiveIndex struct {
	byPMCID map[string]string
}

// LoadPMCArchiveIndex parses the PMC OA file-list CSV at path. Rows that
// don't fit the expected shape are skipped rather than failing the whole
// load, since a partially-stale index should never block a harvest run.
func LoadPMCArchiveIndex(path string) (*PMCArchiveIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("metadataclient: open pmc archive index: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	idx := &PMCArchiveIndex{byPMCID: make(map[string]string)}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if len(row) < 3 {
			continue
		}
		file := strings.TrimSpace(row[0])
		pmcid := strings.TrimSpace(row[2])
		if file == "" || pmcid == "" {
			continue
		}
		idx.byPMCID[pmcid] = file
	}
	return idx, nil
}

// ArchiveURL returns the indexed archive URL for pmcid, if the index has
// one. A nil receiver always misses, so callers can wire an optional
// index without a nil check at every call site.
func (idx *PMCArchiveIndex) ArchiveURL(pmcid string) (string, bool) {
	if idx == nil || pmcid == "" {
		return "", false
	}
	url, ok := idx.byPMCID[pmcid]
	return url, ok
}

// PublisherPDFIndex resolves a CORD-19 row's sha to a local publisher
// PDF mirror file, the cord19_publisher_pdf_path tree populated
// out-of-band for the Elsevier-specific subset of CORD-19 that ships its
// own publisher PDFs rather than an OA-locator-discoverable one.
type PublisherPDFIndex struct {
	root string
}

// NewPublisherPDFIndex builds a PublisherPDFIndex rooted at root. No
// directory scan happens at construction; Lookup stats the candidate
// path lazily.
func NewPublisherPDFIndex(root string) *PublisherPDFIndex {
	return &PublisherPDFIndex{root: root}
}

// Lookup returns a file:// URL for sha's mirrored PDF, if present on
// disk. A nil receiver or empty root always misses.
func (idx *PublisherPDFIndex) Lookup(sha string) (string, bool) {
	if idx == nil || idx.root == "" || sha == "" {
		return "", false
	}
	path := filepath.Join(idx.root, sha+".pdf")
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return "file://" + path, true
}
