package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ruminex/molecule-discovery-service/internal/domain"
)

// moleculeColumns is the canonical column list for small_molecules queries.
const moleculeColumns = `id, name, normalized_name, cas_number, smiles, description, created_at, updated_at`

// casUniqueConstraint is the unique constraint on small_molecules.cas_number.
// A violation on it during an upsert means another record already holds the
// incoming CAS number and the two must be merged.
const casUniqueConstraint = "unique_cas_number"

// Compile-time interface verification.
var _ MoleculeRepository = (*PgMoleculeRepository)(nil)

// PgMoleculeRepository is a PostgreSQL implementation of MoleculeRepository.
type PgMoleculeRepository struct {
	db DBTX
}

// NewPgMoleculeRepository creates a new PostgreSQL molecule repository.
func NewPgMoleculeRepository(db DBTX) *PgMoleculeRepository {
	return &PgMoleculeRepository{db: db}
}

// Upsert inserts a molecule or merges it into an existing record with the
// same normalized name. Uses a single INSERT...ON CONFLICT...RETURNING query
// to avoid two roundtrips; empty fields on the existing record are filled
// from the incoming one, populated fields are kept.
//
// When the incoming CAS number belongs to a different record than the
// normalized name resolves to, the insert fails on the CAS unique constraint
// and the molecule is merged into the record that owns the CAS number
// instead. A shared CAS registry number identifies the same chemical entity
// regardless of naming.
func (r *PgMoleculeRepository) Upsert(ctx context.Context, molecule *domain.Molecule) (*domain.Molecule, error) {
	if molecule == nil {
		return nil, domain.NewValidationError("molecule", "molecule cannot be nil")
	}
	normalized := domain.NormalizeName(molecule.Name)
	if normalized == "" {
		return nil, domain.NewValidationError("name", "molecule name cannot be empty or whitespace-only")
	}
	if molecule.ID == uuid.Nil {
		molecule.ID = uuid.New()
	}
	molecule.NormalizedName = normalized

	now := time.Now().UTC()
	query := `
		INSERT INTO small_molecules (` + moleculeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (normalized_name) DO UPDATE SET
			cas_number = COALESCE(small_molecules.cas_number, EXCLUDED.cas_number),
			smiles = COALESCE(NULLIF(small_molecules.smiles, ''), EXCLUDED.smiles),
			description = COALESCE(NULLIF(small_molecules.description, ''), EXCLUDED.description),
			updated_at = EXCLUDED.updated_at
		RETURNING ` + moleculeColumns

	row := r.db.QueryRow(ctx, query,
		molecule.ID, molecule.Name, normalized, nullString(molecule.CASNumber),
		nullString(molecule.SMILES), nullString(molecule.Description),
		now, now,
	)

	stored, err := scanMolecule(row)
	if err != nil {
		if isPgUniqueViolation(err) && pgConstraintName(err) == casUniqueConstraint {
			return r.mergeByCAS(ctx, molecule, now)
		}
		return nil, fmt.Errorf("failed to upsert molecule: %w", err)
	}

	return stored, nil
}

// mergeByCAS folds a molecule into the existing record holding its CAS
// number, enriching empty fields.
func (r *PgMoleculeRepository) mergeByCAS(ctx context.Context, molecule *domain.Molecule, now time.Time) (*domain.Molecule, error) {
	query := `
		UPDATE small_molecules SET
			smiles = COALESCE(NULLIF(smiles, ''), $2),
			description = COALESCE(NULLIF(description, ''), $3),
			updated_at = $4
		WHERE cas_number = $1
		RETURNING ` + moleculeColumns

	row := r.db.QueryRow(ctx, query,
		molecule.CASNumber, nullString(molecule.SMILES), nullString(molecule.Description), now,
	)

	stored, err := scanMolecule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("molecule", molecule.CASNumber)
		}
		return nil, fmt.Errorf("failed to merge molecule by CAS number: %w", err)
	}

	return stored, nil
}

// GetByID retrieves a molecule by its ID.
func (r *PgMoleculeRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Molecule, error) {
	query := `
		SELECT ` + moleculeColumns + `
		FROM small_molecules
		WHERE id = $1`

	row := r.db.QueryRow(ctx, query, id)
	molecule, err := scanMolecule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("molecule", id.String())
		}
		return nil, fmt.Errorf("failed to get molecule: %w", err)
	}

	return molecule, nil
}

// GetByCAS retrieves a molecule by its CAS registry number.
func (r *PgMoleculeRepository) GetByCAS(ctx context.Context, casNumber string) (*domain.Molecule, error) {
	if casNumber == "" {
		return nil, domain.NewValidationError("cas_number", "CAS number is required")
	}

	query := `
		SELECT ` + moleculeColumns + `
		FROM small_molecules
		WHERE cas_number = $1`

	row := r.db.QueryRow(ctx, query, casNumber)
	molecule, err := scanMolecule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("molecule", casNumber)
		}
		return nil, fmt.Errorf("failed to get molecule by CAS number: %w", err)
	}

	return molecule, nil
}

// List retrieves molecules matching the filter criteria, ordered by name.
func (r *PgMoleculeRepository) List(ctx context.Context, filter MoleculeFilter) ([]*domain.Molecule, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	// Build dynamic WHERE clause
	conditions := []string{"TRUE"}
	args := []interface{}{}
	argIndex := 1

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("normalized_name ILIKE $%d", argIndex))
		// Escape LIKE special characters to prevent pattern injection.
		escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(domain.NormalizeName(filter.Search))
		args = append(args, "%"+escaped+"%")
		argIndex++
	}

	if filter.HasCAS != nil {
		if *filter.HasCAS {
			conditions = append(conditions, "cas_number IS NOT NULL")
		} else {
			conditions = append(conditions, "cas_number IS NULL")
		}
	}

	whereClause := strings.Join(conditions, " AND ")

	// Count total matching records
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM small_molecules WHERE %s", whereClause)
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count molecules: %w", err)
	}

	// Query with pagination
	selectQuery := fmt.Sprintf(`
		SELECT `+moleculeColumns+`
		FROM small_molecules
		WHERE %s
		ORDER BY name
		LIMIT $%d OFFSET $%d`,
		whereClause, argIndex, argIndex+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list molecules: %w", err)
	}
	defer rows.Close()

	molecules := make([]*domain.Molecule, 0, filter.Limit)
	for rows.Next() {
		molecule, err := scanMoleculeFromRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan molecule: %w", err)
		}
		molecules = append(molecules, molecule)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating molecules: %w", err)
	}

	return molecules, totalCount, nil
}

// Update persists changes to a molecule's mutable fields.
func (r *PgMoleculeRepository) Update(ctx context.Context, molecule *domain.Molecule) error {
	if molecule == nil {
		return domain.NewValidationError("molecule", "molecule cannot be nil")
	}
	if molecule.ID == uuid.Nil {
		return domain.NewValidationError("id", "molecule ID is required")
	}
	normalized := domain.NormalizeName(molecule.Name)
	if normalized == "" {
		return domain.NewValidationError("name", "molecule name cannot be empty or whitespace-only")
	}
	molecule.NormalizedName = normalized
	molecule.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE small_molecules SET
			name = $1,
			normalized_name = $2,
			cas_number = $3,
			smiles = $4,
			description = $5,
			updated_at = $6
		WHERE id = $7`

	result, err := r.db.Exec(ctx, query,
		molecule.Name, normalized, nullString(molecule.CASNumber),
		nullString(molecule.SMILES), nullString(molecule.Description),
		molecule.UpdatedAt, molecule.ID,
	)

	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("molecule", molecule.Name)
		}
		return fmt.Errorf("failed to update molecule: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("molecule", molecule.ID.String())
	}

	return nil
}

// Delete removes a molecule. Run and paper links are removed by the
// ON DELETE CASCADE constraints.
func (r *PgMoleculeRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM small_molecules WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete molecule: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("molecule", id.String())
	}

	return nil
}

// LinkPaper records that a paper mentions a molecule.
func (r *PgMoleculeRepository) LinkPaper(ctx context.Context, link *domain.MoleculePaperLink) error {
	if link == nil {
		return domain.NewValidationError("link", "link cannot be nil")
	}
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO molecule_paper_links (id, molecule_id, paper_summary_id, context_excerpt, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (molecule_id, paper_summary_id) DO NOTHING`

	_, err := r.db.Exec(ctx, query,
		link.ID, link.MoleculeID, link.PaperSummaryID,
		nullString(link.ContextExcerpt), link.CreatedAt,
	)

	if err != nil {
		if isPgForeignKeyViolation(err) {
			return fmt.Errorf("molecule or paper does not exist: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("failed to link molecule to paper: %w", err)
	}

	return nil
}

// LinkRun associates a molecule with a research run. Repeat sightings keep
// the highest relevance score seen so far.
func (r *PgMoleculeRepository) LinkRun(ctx context.Context, runID, moleculeID uuid.UUID, relevanceScore float64) error {
	score := domain.ClampScore(relevanceScore)

	query := `
		INSERT INTO research_run_molecules (research_run_id, molecule_id, relevance_score, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (research_run_id, molecule_id) DO UPDATE SET
			relevance_score = GREATEST(research_run_molecules.relevance_score, EXCLUDED.relevance_score)`

	_, err := r.db.Exec(ctx, query, runID, moleculeID, score, time.Now().UTC())
	if err != nil {
		if isPgForeignKeyViolation(err) {
			return fmt.Errorf("run or molecule does not exist: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("failed to link molecule to run: %w", err)
	}

	return nil
}

// ListByRun retrieves the molecules associated with a run, highest relevance
// score first.
func (r *PgMoleculeRepository) ListByRun(ctx context.Context, runID uuid.UUID) ([]*ScoredMolecule, error) {
	query := `
		SELECT m.id, m.name, m.normalized_name, m.cas_number, m.smiles, m.description,
			m.created_at, m.updated_at, rrm.relevance_score
		FROM small_molecules m
		JOIN research_run_molecules rrm ON rrm.molecule_id = m.id
		WHERE rrm.research_run_id = $1
		ORDER BY rrm.relevance_score DESC, m.name`

	rows, err := r.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run molecules: %w", err)
	}
	defer rows.Close()

	var scored []*ScoredMolecule
	for rows.Next() {
		var d moleculeScanDest
		var score float64
		dest := append(d.destinations(), &score)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan run molecule: %w", err)
		}
		scored = append(scored, &ScoredMolecule{Molecule: d.finalize(), RelevanceScore: score})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run molecules: %w", err)
	}

	return scored, nil
}

// ListPapers retrieves the paper links for a molecule, newest first.
func (r *PgMoleculeRepository) ListPapers(ctx context.Context, moleculeID uuid.UUID) ([]*domain.MoleculePaperLink, error) {
	query := `
		SELECT id, molecule_id, paper_summary_id, context_excerpt, created_at
		FROM molecule_paper_links
		WHERE molecule_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, moleculeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list molecule papers: %w", err)
	}
	defer rows.Close()

	var links []*domain.MoleculePaperLink
	for rows.Next() {
		var link domain.MoleculePaperLink
		var excerpt *string
		if err := rows.Scan(&link.ID, &link.MoleculeID, &link.PaperSummaryID, &excerpt, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan molecule paper link: %w", err)
		}
		if excerpt != nil {
			link.ContextExcerpt = *excerpt
		}
		links = append(links, &link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating molecule paper links: %w", err)
	}

	return links, nil
}

// moleculeScanDest holds the destination pointers for scanning a Molecule row.
type moleculeScanDest struct {
	molecule    domain.Molecule
	casNumber   *string
	smiles      *string
	description *string
}

// destinations returns the slice of pointers for Scan operations.
func (d *moleculeScanDest) destinations() []interface{} {
	return []interface{}{
		&d.molecule.ID, &d.molecule.Name, &d.molecule.NormalizedName,
		&d.casNumber, &d.smiles, &d.description,
		&d.molecule.CreatedAt, &d.molecule.UpdatedAt,
	}
}

// finalize performs post-scan processing for nullable fields.
func (d *moleculeScanDest) finalize() *domain.Molecule {
	if d.casNumber != nil {
		d.molecule.CASNumber = *d.casNumber
	}
	if d.smiles != nil {
		d.molecule.SMILES = *d.smiles
	}
	if d.description != nil {
		d.molecule.Description = *d.description
	}
	return &d.molecule
}

// scanMolecule scans a Molecule from a pgx.Row.
func scanMolecule(row pgx.Row) (*domain.Molecule, error) {
	var d moleculeScanDest
	if err := row.Scan(d.destinations()...); err != nil {
		return nil, err
	}
	return d.finalize(), nil
}

// scanMoleculeFromRows scans a Molecule from the current position of a pgx.Rows.
func scanMoleculeFromRows(rows pgx.Rows) (*domain.Molecule, error) {
	var d moleculeScanDest
	if err := rows.Scan(d.destinations()...); err != nil {
		return nil, err
	}
	return d.finalize(), nil
}
