// Package domain provides domain models and business logic for the Molecule Discovery Service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle states of a research run.
// These values must match the database enum research_status.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusProcessing RunStatus = "processing"
	RunStatusComplete   RunStatus = "complete"
	RunStatusFailed     RunStatus = "failed"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusComplete, RunStatusFailed:
		return true
	default:
		return false
	}
}

// IsActive returns true if a run in this status occupies the single
// system-wide processing slot.
func (s RunStatus) IsActive() bool {
	return s == RunStatusQueued || s == RunStatusProcessing
}

// IsValid returns true if s is a known run status.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusQueued, RunStatusProcessing, RunStatusComplete, RunStatusFailed:
		return true
	default:
		return false
	}
}

// ResearchRun represents a single research job initiated by a user query.
type ResearchRun struct {
	ID           uuid.UUID
	Query        string
	Status       RunStatus
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// NewResearchRun creates a queued run for the given query.
func NewResearchRun(query string) *ResearchRun {
	now := time.Now().UTC()
	return &ResearchRun{
		ID:        uuid.New(),
		Query:     query,
		Status:    RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// PaperSummary is an extracted summary of a scientific paper, scoped to the
// research run that produced it.
type PaperSummary struct {
	ID            uuid.UUID
	ResearchRunID uuid.UUID
	PubMedID      string
	Title         string
	Summary       string
	SourceURL     string
	CreatedAt     time.Time
}

// MoleculePaperLink connects a molecule to a paper summary that mentions it,
// optionally carrying the excerpt where the mention appears.
type MoleculePaperLink struct {
	ID             uuid.UUID
	MoleculeID     uuid.UUID
	PaperSummaryID uuid.UUID
	ContextExcerpt string
	CreatedAt      time.Time
}

// ResearchRunMolecule links a molecule to a research run with a relevance
// score in [0, 1]. The pair (run, molecule) is unique; repeat sightings of
// the same molecule within a run raise the score instead of inserting.
type ResearchRunMolecule struct {
	ResearchRunID  uuid.UUID
	MoleculeID     uuid.UUID
	RelevanceScore float64
	CreatedAt      time.Time
}

// ClampScore bounds a relevance score to [0, 1].
func ClampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
