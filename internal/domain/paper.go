package domain

import (
	"strings"
	"time"
)

// Author represents a paper author with an optional affiliation.
type Author struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
}

// String returns a formatted string representation of the author.
func (a Author) String() string {
	var sb strings.Builder
	sb.WriteString(a.Name)

	if a.Affiliation != "" {
		sb.WriteString(" (")
		sb.WriteString(a.Affiliation)
		sb.WriteString(")")
	}

	return sb.String()
}

// Paper represents a paper as returned by the literature search source.
// Papers only live in memory during a run; what persists are the summaries
// and molecules extracted from them.
type Paper struct {
	PubMedID        string
	Title           string
	Abstract        string
	Authors         []Author
	Journal         string
	PublicationDate *time.Time
	SourceURL       string
}

// HasIdentifier returns true if the paper carries a PubMed ID.
func (p *Paper) HasIdentifier() bool {
	return strings.TrimSpace(p.PubMedID) != ""
}

// FullText returns the searchable text for verification: title and abstract
// joined by a blank line.
func (p *Paper) FullText() string {
	if p.Abstract == "" {
		return p.Title
	}
	return p.Title + "\n\n" + p.Abstract
}
