// Package diagnostics implements the Diagnostic Reporter: a read-only
// pass over the Entry State Store producing a completeness summary.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/helixir/article-harvester/internal/domain"
	"github.com/helixir/article-harvester/internal/entrystore"
)

// Report is the completeness summary emitted by the Diagnostic
// Reporter, per spec §4.10.
type Report struct {
	GeneratedAt    time.Time `json:"generated_at"`
	TotalEntries   int       `json:"total_entries"`
	WithOAURL      int       `json:"with_valid_oa_url"`
	WithPDF        int       `json:"with_pdf"`
	WithTEIFromPDF int       `json:"with_tei_from_pdf"`
	WithTEIFromJATS int      `json:"with_tei_from_jats"`
	WithAnyTEI     int       `json:"with_any_tei"`
	Done           int       `json:"done"`
	Failed         int       `json:"failed"`
}

// Generate scans every Entry in store and computes the report.
func Generate(store *entrystore.Store) Report {
	r := Report{GeneratedAt: time.Now().UTC()}
	for _, e := range store.IterAll() {
		r.TotalEntries++
		if e.Metadata.OAURL != "" || len(e.CandidateURLs) > 0 {
			r.WithOAURL++
		}
		if e.Artifacts.PDF {
			r.WithPDF++
		}
		if e.Artifacts.TEIFromPDF {
			r.WithTEIFromPDF++
		}
		if e.Artifacts.TEIFromJATS {
			r.WithTEIFromJATS++
		}
		if e.Artifacts.TEIFromPDF || e.Artifacts.TEIFromJATS {
			r.WithAnyTEI++
		}
		if e.IsDone() {
			r.Done++
		}
		if e.HasFailedStage() {
			r.Failed++
		}
	}
	return r
}

// WriteText renders r as the short plain-text report described in spec
// §4.10.
func WriteText(w io.Writer, r Report) error {
	_, err := fmt.Fprintf(w, ""+
		"harvest diagnostic report (%s)\n"+
		"  total entries:        %d\n"+
		"  with valid oa url:    %d\n"+
		"  with pdf:             %d\n"+
		"  with tei from pdf:    %d\n"+
		"  with tei from jats:   %d\n"+
		"  with any tei:         %d\n"+
		"  done:                 %d\n"+
		"  failed:               %d\n",
		r.GeneratedAt.Format(time.RFC3339), r.TotalEntries, r.WithOAURL, r.WithPDF,
		r.WithTEIFromPDF, r.WithTEIFromJATS, r.WithAnyTEI, r.Done, r.Failed)
	return err
}

// WriteJSON renders r as the JSON summary described in spec §4.10.
func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// DumpMetadata emits the consolidated metadata dump (--dump) used by
// downstream tooling, an array of per-entry metadata records, matching
// the shape the original harvester's dump_file wrote.
func DumpMetadata(w io.Writer, store *entrystore.Store) error {
	type dumpRecord struct {
		ID          string            `json:"id"`
		Identifiers domain.Identifiers `json:"identifiers"`
		Metadata    domain.Metadata    `json:"metadata"`
		Artifacts   domain.Artifacts   `json:"artifacts"`
	}

	var records []dumpRecord
	for _, e := range store.IterAll() {
		records = append(records, dumpRecord{
			ID:          e.ID,
			Identifiers: e.Identifiers,
			Metadata:    e.Metadata,
			Artifacts:   e.Artifacts,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
