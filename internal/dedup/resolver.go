package dedup

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/helixir/article-harvester/internal/domain"
)

// Key identifies one dedup index entry: a key type (the field the value
// came from) paired with its normalized value. Entry State Store index
// maintains one lookup map per Type.
type Key struct {
	Type  string
	Value string
}

// Key types, checked by the Entry State Store's LookupOrCreate in this
// priority order. A cord_id
// match only fires for an exact repeat of the same CORD-19 row; DOI/
// PMID/PMCID catch the common case of a strong external identifier;
// TitleAuthorYear is the fallback cascade step for everything else.
const (
	KeyCordID          = "cord_id"
	KeyDOI             = "doi"
	KeyPMID            = "pmid"
	KeyPMCID           = "pmcid"
	KeyTitleAuthorYear = "title_author_year"
)

// Keys returns the ordered set of index keys this identifier set
// participates in, highest-priority first. Empty identifier fields do
// not produce a key. A title+author+year key is only produced when all
// three of title, first author surname, and year are present, since a
// partial key would collide too aggressively across unrelated entries.
func Keys(ids domain.Identifiers) []Key {
	var keys []Key

	if ids.CordID != "" {
		keys = append(keys, Key{Type: KeyCordID, Value: ids.CordID})
	}
	if doi := CleanDOI(ids.DOI); doi != "" {
		keys = append(keys, Key{Type: KeyDOI, Value: doi})
	}
	if pmid := strings.TrimSpace(ids.PMID); pmid != "" {
		keys = append(keys, Key{Type: KeyPMID, Value: pmid})
	}
	if pmcid := normalizePMCID(ids.PMCID); pmcid != "" {
		keys = append(keys, Key{Type: KeyPMCID, Value: pmcid})
	}
	if title, author, year := NormalizeTitle(ids.Title), FirstAuthorSurname(ids.FirstAuthor), ids.Year; title != "" && author != "" && year != 0 {
		keys = append(keys, Key{
			Type:  KeyTitleAuthorYear,
			Value: title + "|" + author + "|" + strconv.Itoa(year),
		})
	}

	return keys
}

// normalizePMCID uppercases and ensures the canonical "PMC" prefix, since
// input sources inconsistently include it.
func normalizePMCID(pmcid string) string {
	pmcid = strings.ToUpper(strings.TrimSpace(pmcid))
	if pmcid == "" {
		return ""
	}
	if !strings.HasPrefix(pmcid, "PMC") {
		pmcid = "PMC" + pmcid
	}
	return pmcid
}

// PreferredIdentifiers returns whichever of a, b is the richer identifier
// set (PMC > DOI > PMID > title-only, per spec §4.1), with a winning
// ties so repeated resolution is stable.
func PreferredIdentifiers(a, b domain.Identifiers) domain.Identifiers {
	if b.Richer(a) {
		return b
	}
	return a
}

// DescribeKey renders a Key for logging.
func DescribeKey(k Key) string {
	return fmt.Sprintf("%s=%s", k.Type, k.Value)
}
