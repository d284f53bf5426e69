package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/ruminex/molecule-discovery-service/internal/domain"
)

// MoleculeRepository handles molecule persistence, deduplication, and the
// link tables that tie molecules to runs and papers.
type MoleculeRepository interface {
	// Upsert inserts a molecule or merges it into an existing record that
	// denotes the same chemical entity. Identity is the normalized name;
	// a matching CAS number on a different record also forces a merge.
	// Merging enriches empty fields (CAS number, SMILES, description) on
	// the existing record and never overwrites populated ones. Returns
	// the stored record, which may carry a different ID than the input.
	Upsert(ctx context.Context, molecule *domain.Molecule) (*domain.Molecule, error)

	// GetByID retrieves a molecule by its ID.
	// Returns domain.ErrNotFound if no matching molecule exists.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Molecule, error)

	// GetByCAS retrieves a molecule by its CAS registry number.
	// Returns domain.ErrNotFound if no matching molecule exists.
	GetByCAS(ctx context.Context, casNumber string) (*domain.Molecule, error)

	// List retrieves molecules matching the filter criteria, ordered by
	// name. Returns the matching molecules and the total count.
	List(ctx context.Context, filter MoleculeFilter) ([]*domain.Molecule, int64, error)

	// Update persists changes to a molecule's mutable fields (name, CAS
	// number, SMILES, description). The normalized name is recomputed
	// from the name. Returns domain.ErrNotFound for unknown molecules and
	// domain.ErrAlreadyExists when the change collides with another
	// record's normalized name or CAS number.
	Update(ctx context.Context, molecule *domain.Molecule) error

	// Delete removes a molecule and its run and paper links.
	// Returns domain.ErrNotFound if no matching molecule exists.
	Delete(ctx context.Context, id uuid.UUID) error

	// LinkPaper records that a paper mentions a molecule. Duplicate links
	// for the same (molecule, paper) pair are ignored.
	LinkPaper(ctx context.Context, link *domain.MoleculePaperLink) error

	// LinkRun associates a molecule with a research run. Repeat sightings
	// of the same molecule within a run keep the highest relevance score
	// seen so far.
	LinkRun(ctx context.Context, runID, moleculeID uuid.UUID, relevanceScore float64) error

	// ListByRun retrieves the molecules associated with a run together
	// with their relevance scores, highest score first.
	ListByRun(ctx context.Context, runID uuid.UUID) ([]*ScoredMolecule, error)

	// ListPapers retrieves the paper links for a molecule, newest first.
	ListPapers(ctx context.Context, moleculeID uuid.UUID) ([]*domain.MoleculePaperLink, error)
}

// ScoredMolecule pairs a molecule with its relevance score within a run.
type ScoredMolecule struct {
	Molecule       *domain.Molecule
	RelevanceScore float64
}

// MoleculeFilter specifies criteria for listing molecules.
type MoleculeFilter struct {
	// Search filters by substring match on the normalized name (optional).
	Search string

	// HasCAS, when non-nil, filters on presence or absence of a CAS number.
	HasCAS *bool

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate normalizes the filter's pagination values.
func (f *MoleculeFilter) Validate() error {
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}
