// Package domain holds the core data model shared by every harvester
// package: the Entry state machine record, its identifiers and artifact
// flags, and the error taxonomy stages report against.
package domain

import "time"

// Stage names used as keys into Entry.Status and Entry.AttemptCounts.
const (
	StageMetadata = "metadata"
	StagePDF      = "pdf"
	StageJATS     = "jats"
	StageTEIPDF   = "tei_pdf"
	StageTEIJATS  = "tei_jats"
)

// StageStatus is the status of a single stage of a single Entry.
type StageStatus string

const (
	// StatusPending means the stage has not started.
	StatusPending StageStatus = "pending"
	// StatusInProgress means a worker currently holds this stage. Any
	// Entry found in this state at startup is demoted to StatusPending.
	StatusInProgress StageStatus = "in_progress"
	// StatusSuccess means the stage completed and its artifact (if any)
	// is durably present.
	StatusSuccess StageStatus = "success"
	// StatusFailed means the stage exhausted its retries or hit a
	// terminal error.
	StatusFailed StageStatus = "failed"
)

// Identifiers is the small record of known external identifiers for an
// Entry. Any subset may be empty.
type Identifiers struct {
	DOI    string `json:"doi,omitempty"`
	PMID   string `json:"pmid,omitempty"`
	PMCID  string `json:"pmcid,omitempty"`
	PII    string `json:"pii,omitempty"`
	CordID string `json:"cord_id,omitempty"`

	// Title and FirstAuthor/Year back the title+author+year dedup
	// cascade when no strong identifier is present. They are not part of
	// the identifiers contract in spec §3 but travel with Identifiers so
	// the resolver has everything it needs in one value.
	Title       string `json:"title,omitempty"`
	FirstAuthor string `json:"first_author,omitempty"`
	Year        int    `json:"year,omitempty"`

	// Publisher and Sha are CORD-19-only fields (source_x and sha
	// columns) that key the two local index lookups the Metadata Client
	// consults before falling back to network sources: Sha names the
	// row's entry in the CORD-19 publisher PDF mirror, Publisher
	// distinguishes the Elsevier-specific subset of that mirror.
	Publisher string `json:"publisher,omitempty"`
	Sha       string `json:"sha,omitempty"`
}

// richness ranks identifier sets so a merge can prefer the richer side:
// PMC > DOI > PMID > title-only, per spec §4.1.
func (id Identifiers) richness() int {
	switch {
	case id.PMCID != "":
		return 4
	case id.DOI != "":
		return 3
	case id.PMID != "":
		return 2
	case id.Title != "":
		return 1
	default:
		return 0
	}
}

// Richer reports whether id is a richer identifier set than other.
func (id Identifiers) Richer(other Identifiers) bool {
	return id.richness() > other.richness()
}

// Merge unions the non-empty fields of other into a copy of id. Used when
// the Deduplicator collapses two input rows into one Entry.
func (id Identifiers) Merge(other Identifiers) Identifiers {
	merged := id
	if merged.DOI == "" {
		merged.DOI = other.DOI
	}
	if merged.PMID == "" {
		merged.PMID = other.PMID
	}
	if merged.PMCID == "" {
		merged.PMCID = other.PMCID
	}
	if merged.PII == "" {
		merged.PII = other.PII
	}
	if merged.CordID == "" {
		merged.CordID = other.CordID
	}
	if merged.Title == "" {
		merged.Title = other.Title
	}
	if merged.FirstAuthor == "" {
		merged.FirstAuthor = other.FirstAuthor
	}
	if merged.Year == 0 {
		merged.Year = other.Year
	}
	if merged.Publisher == "" {
		merged.Publisher = other.Publisher
	}
	if merged.Sha == "" {
		merged.Sha = other.Sha
	}
	return merged
}

// Author is a single contributor of a paper.
type Author struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
	ORCID       string `json:"orcid,omitempty"`
}

// Metadata is the normalized bibliographic record produced by the
// Metadata Client during enrichment.
type Metadata struct {
	Title       string         `json:"title"`
	Authors     []Author       `json:"authors,omitempty"`
	Venue       string         `json:"venue,omitempty"`
	Journal     string         `json:"journal,omitempty"`
	Year        int            `json:"year,omitempty"`
	License     string         `json:"license,omitempty"`
	Abstract    string         `json:"abstract,omitempty"`
	OAURL       string         `json:"oa_url,omitempty"`
	Source      string         `json:"source,omitempty"`
	RawExtra    map[string]any `json:"raw_extra,omitempty"`
}

// CandidateURL is one ranked PDF discovery candidate.
type CandidateURL struct {
	URL      string `json:"url"`
	Source   string `json:"source"`
	Priority int    `json:"priority"`
}

// Artifacts tracks which on-disk/object-store artifacts exist for an
// Entry. A true flag is only ever set once the corresponding file has
// been durably written.
type Artifacts struct {
	PDF             bool `json:"pdf"`
	JATS            bool `json:"jats"`
	TEIFromPDF      bool `json:"tei_from_pdf"`
	TEIFromJATS     bool `json:"tei_from_jats"`
	RefAnnotations  bool `json:"ref_annotations"`
	Thumbnails      bool `json:"thumbnails"`
}

// Entry is the unit of work: one logical article tracked through the
// pipeline's per-stage state machine.
type Entry struct {
	ID                   string                 `json:"id"`
	Identifiers          Identifiers            `json:"identifiers"`
	Metadata             Metadata               `json:"metadata"`
	MetadataSnapshotHash string                 `json:"metadata_snapshot_hash,omitempty"`
	CandidateURLs        []CandidateURL         `json:"candidate_urls,omitempty"`
	Artifacts            Artifacts              `json:"artifacts"`
	Status               map[string]StageStatus `json:"status"`
	FailureReasons       map[string]string      `json:"failure_reasons,omitempty"`
	AttemptCounts        map[string]int         `json:"attempt_counts"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

// NewEntry constructs an Entry in its initial pending state for all
// stages, with the given id and identifiers.
func NewEntry(id string, ids Identifiers) *Entry {
	now := time.Now().UTC()
	return &Entry{
		ID:          id,
		Identifiers: ids,
		Status: map[string]StageStatus{
			StageMetadata: StatusPending,
			StagePDF:      StatusPending,
			StageJATS:     StatusPending,
			StageTEIPDF:   StatusPending,
			StageTEIJATS:  StatusPending,
		},
		AttemptCounts: map[string]int{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// StorageKey returns the 4-level directory-prefix path for the entry's
// artifacts, e.g. id "aabbccddeeff..." -> "aa/bb/cc/dd/aabbccddeeff...".
// Ids shorter than 8 characters (should not occur in practice) fall back
// to a flat "xx/<id>" layout so the function never panics.
func (e *Entry) StorageKey() string {
	return StorageKeyForID(e.ID)
}

// StorageKeyForID computes the 4-level fan-out prefix for a bare id
// string, identical across the local filesystem and object-store
// backends.
func StorageKeyForID(id string) string {
	if len(id) < 8 {
		return "xx/" + id
	}
	return id[0:2] + "/" + id[2:4] + "/" + id[4:6] + "/" + id[6:8] + "/" + id
}

// IsDone reports whether the Entry has reached a terminal success state:
// either a structured TEI-from-PDF, or (per the Open Question resolved in
// DESIGN.md) a JATS artifact plus a structured TEI-from-JATS.
func (e *Entry) IsDone() bool {
	if e.Status[StageTEIPDF] == StatusSuccess && e.Artifacts.TEIFromPDF {
		return true
	}
	if e.Artifacts.JATS && e.Artifacts.TEIFromJATS && e.Status[StageTEIJATS] == StatusSuccess {
		return true
	}
	return false
}

// HasFailedStage reports whether any stage ended in StatusFailed.
func (e *Entry) HasFailedStage() bool {
	for _, s := range e.Status {
		if s == StatusFailed {
			return true
		}
	}
	return false
}

// ResetStage clears a single stage back to pending and zeroes its
// attempt count, used by --reprocess for failed stages. --reset does not
// use it; it truncates the whole Entry State Store instead.
func (e *Entry) ResetStage(stage string) {
	e.Status[stage] = StatusPending
	delete(e.AttemptCounts, stage)
	if e.FailureReasons != nil {
		delete(e.FailureReasons, stage)
	}
}

// MarkFailed records a terminal failure reason for a stage.
func (e *Entry) MarkFailed(stage, reason string) {
	e.Status[stage] = StatusFailed
	if e.FailureReasons == nil {
		e.FailureReasons = map[string]string{}
	}
	e.FailureReasons[stage] = reason
	e.UpdatedAt = time.Now().UTC()
}

// MarkSuccess records a stage's successful completion.
func (e *Entry) MarkSuccess(stage string) {
	e.Status[stage] = StatusSuccess
	if e.FailureReasons != nil {
		delete(e.FailureReasons, stage)
	}
	e.UpdatedAt = time.Now().UTC()
}
