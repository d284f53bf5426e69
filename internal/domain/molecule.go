package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// whitespaceRegex matches one or more whitespace characters (spaces, tabs, newlines).
var whitespaceRegex = regexp.MustCompile(`\s+`)

// Molecule represents a discovered small-molecule candidate. Molecules are
// globally deduplicated by their normalized name; a matching CAS number also
// forces two records to be treated as the same molecule.
type Molecule struct {
	// ID is the primary key for this molecule.
	ID uuid.UUID

	// Name is the display name as first extracted from a paper.
	Name string

	// NormalizedName is the lowercase, whitespace-collapsed form used for
	// deduplication. Unique across the store.
	NormalizedName string

	// CASNumber is the CAS registry number, when known. Unique when set.
	CASNumber string

	// SMILES is the structure notation, when known.
	SMILES string

	// Description is a short free-text description of the molecule's role.
	Description string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeName normalizes a molecule or keyword name by:
// - Converting to lowercase
// - Trimming leading/trailing whitespace
// - Collapsing multiple whitespace characters into a single space
func NormalizeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.ToLower(s)
	s = whitespaceRegex.ReplaceAllString(s, " ")
	return s
}

// NormalizeWhitespace collapses whitespace runs to single spaces and trims,
// preserving case.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
}

// NewMolecule creates a new Molecule with a generated ID and normalized form.
func NewMolecule(name string) *Molecule {
	now := time.Now().UTC()
	return &Molecule{
		ID:             uuid.New(),
		Name:           name,
		NormalizedName: NormalizeName(name),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// SameAs reports whether other denotes the same chemical entity under the
// dedup rules: equal normalized names, or equal non-empty CAS numbers.
func (m *Molecule) SameAs(other *Molecule) bool {
	if m.NormalizedName != "" && m.NormalizedName == other.NormalizedName {
		return true
	}
	if m.CASNumber != "" && m.CASNumber == other.CASNumber {
		return true
	}
	return false
}

// ExtractedMolecule is a molecule candidate as reported by the language model
// for a single paper, before verification and deduplication.
type ExtractedMolecule struct {
	Name           string  `json:"name"`
	CASNumber      string  `json:"cas_number,omitempty"`
	SMILES         string  `json:"smiles,omitempty"`
	Description    string  `json:"description,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
	ContextExcerpt string  `json:"context_excerpt,omitempty"`
}
