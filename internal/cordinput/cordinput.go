// Package cordinput reads the harvester's input sources: the CORD-19
// metadata CSV and the plain DOI/PMID/PMCID line-list files.
package cordinput

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/helixir/article-harvester/internal/domain"
)

// acceptedColumns lists the CORD-19 metadata CSV columns this reader
// understands. Columns outside this set are ignored; columns in this
// set that are missing from a given CSV are tolerated wherever the row
// accessor does not require them.
var acceptedColumns = []string{
	"cord_uid", "sha", "source_x", "title", "doi", "pmcid", "pubmed_id",
	"license", "abstract", "publish_time", "authors", "journal", "mag_id",
	"who_covidence_id", "arxiv_id", "pdf_json_files", "pmc_json_files",
	"url", "s2_id",
}

// Row is one decoded CORD-19 metadata row.
type Row struct {
	CordUID     string
	Title       string
	DOI         string
	PMCID       string
	PubMedID    string
	Abstract    string
	PublishTime string
	Authors     string
	Journal     string
	URL         string
	SourceX     string
	Sha         string
}

// Identifiers projects row onto the Identifiers shape the Deduplicator
// and Orchestrator consume.
func (r Row) Identifiers() domain.Identifiers {
	year := 0
	if len(r.PublishTime) >= 4 {
		if y, err := strconv.Atoi(r.PublishTime[:4]); err == nil {
			year = y
		}
	}
	return domain.Identifiers{
		DOI:         r.DOI,
		PMID:        r.PubMedID,
		PMCID:       r.PMCID,
		CordID:      r.CordUID,
		Title:       r.Title,
		FirstAuthor: firstAuthorField(r.Authors),
		Year:        year,
		Publisher:   r.SourceX,
		Sha:         r.Sha,
	}
}

// firstAuthorField extracts the first semicolon-separated author entry,
// which CORD-19's authors column packs as "Surname, Given; Surname, Given; ...".
func firstAuthorField(authors string) string {
	first := strings.TrimSpace(strings.SplitN(authors, ";", 2)[0])
	if first == "" {
		return ""
	}
	if comma := strings.Index(first, ","); comma >= 0 {
		return strings.TrimSpace(first[:comma])
	}
	return first
}

// columnIndex maps a CSV header to column positions, tolerating missing
// or reordered accepted columns and ignoring unrecognized ones.
type columnIndex map[string]int

func (c columnIndex) get(row []string, name string) string {
	idx, ok := c[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// ReadCORD19 streams rows from a CORD-19 metadata CSV, calling fn for
// each decoded Row. It stops and returns fn's error if fn returns one.
func ReadCORD19(path string, fn func(Row) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cordinput: open %s: %w", path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if bom, _ := br.Peek(3); len(bom) == 3 && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		br.Discard(3)
	}

	r := csv.NewReader(br)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("cordinput: read header: %w", err)
	}

	idx := make(columnIndex, len(acceptedColumns))
	accepted := make(map[string]bool, len(acceptedColumns))
	for _, c := range acceptedColumns {
		accepted[c] = true
	}
	for i, h := range header {
		h = strings.TrimSpace(h)
		if accepted[h] {
			idx[h] = i
		}
	}

	for {
		record, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("cordinput: read row: %w", err)
		}

		row := Row{
			CordUID:     idx.get(record, "cord_uid"),
			Title:       idx.get(record, "title"),
			DOI:         idx.get(record, "doi"),
			PMCID:       idx.get(record, "pmcid"),
			PubMedID:    idx.get(record, "pubmed_id"),
			Abstract:    idx.get(record, "abstract"),
			PublishTime: idx.get(record, "publish_time"),
			Authors:     idx.get(record, "authors"),
			Journal:     idx.get(record, "journal"),
			URL:         idx.get(record, "url"),
			SourceX:     idx.get(record, "source_x"),
			Sha:         idx.get(record, "sha"),
		}
		if row.CordUID == "" && row.Title == "" {
			continue
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// ReadLines reads a plain line-list file (one DOI, PMID, or PMCID per
// line), skipping blank lines, and calls fn for each trimmed value.
func ReadLines(path string, fn func(string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cordinput: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}
