package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruminex/molecule-discovery-service/internal/domain"
)

// moleculeColumnNames matches the moleculeColumns select list.
var moleculeColumnNames = []string{
	"id", "name", "normalized_name", "cas_number", "smiles", "description",
	"created_at", "updated_at",
}

// moleculeRow builds a mock row for a molecule.
func moleculeRow(m *domain.Molecule) *pgxmock.Rows {
	return pgxmock.NewRows(moleculeColumnNames).AddRow(
		m.ID, m.Name, m.NormalizedName,
		nullString(m.CASNumber), nullString(m.SMILES), nullString(m.Description),
		m.CreatedAt, m.UpdatedAt,
	)
}

// newTestMolecule builds a fully populated molecule for tests.
func newTestMolecule(name string) *domain.Molecule {
	m := domain.NewMolecule(name)
	m.CASNumber = "4731-53-7"
	m.SMILES = "CCCP(CCC)CCC"
	m.Description = "organophosphorus methane inhibitor"
	return m
}

func TestPgMoleculeRepository_Upsert(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts new molecule", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)
		m := newTestMolecule("3-Nitrooxypropanol")

		mock.ExpectQuery("INSERT INTO small_molecules").
			WithArgs(m.ID, "3-Nitrooxypropanol", "3-nitrooxypropanol",
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnRows(moleculeRow(m))

		stored, err := repo.Upsert(ctx, m)
		require.NoError(t, err)
		assert.Equal(t, m.ID, stored.ID)
		assert.Equal(t, "3-nitrooxypropanol", stored.NormalizedName)
		assert.Equal(t, "4731-53-7", stored.CASNumber)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns existing record on normalized name conflict", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)

		existing := newTestMolecule("3-nitrooxypropanol")
		incoming := domain.NewMolecule("3-NITROOXYPROPANOL  ")

		// ON CONFLICT DO UPDATE returns the enriched existing record.
		mock.ExpectQuery("INSERT INTO small_molecules").
			WithArgs(incoming.ID, incoming.Name, "3-nitrooxypropanol",
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnRows(moleculeRow(existing))

		stored, err := repo.Upsert(ctx, incoming)
		require.NoError(t, err)
		assert.Equal(t, existing.ID, stored.ID)
		assert.NotEqual(t, incoming.ID, stored.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("merges into CAS owner on CAS conflict", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)

		existing := newTestMolecule("bromoform")
		existing.CASNumber = "75-25-2"

		// Same CAS number under a different name.
		incoming := domain.NewMolecule("tribromomethane")
		incoming.CASNumber = "75-25-2"
		incoming.Description = "halogenated methane analog"

		mock.ExpectQuery("INSERT INTO small_molecules").
			WithArgs(incoming.ID, "tribromomethane", "tribromomethane",
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "unique_cas_number"})

		mock.ExpectQuery(`UPDATE small_molecules SET .* WHERE cas_number = \$1`).
			WithArgs("75-25-2", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnRows(moleculeRow(existing))

		stored, err := repo.Upsert(ctx, incoming)
		require.NoError(t, err)
		assert.Equal(t, existing.ID, stored.ID)
		assert.Equal(t, "bromoform", stored.Name)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects blank name", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)
		_, err = repo.Upsert(ctx, domain.NewMolecule("   "))
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("rejects nil molecule", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)
		_, err = repo.Upsert(ctx, nil)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestPgMoleculeRepository_GetByID(t *testing.T) {
	ctx := context.Background()

	t.Run("returns molecule when found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)
		m := newTestMolecule("monensin")

		mock.ExpectQuery(`SELECT .* FROM small_molecules WHERE id = \$1`).
			WithArgs(m.ID).
			WillReturnRows(moleculeRow(m))

		result, err := repo.GetByID(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, m.ID, result.ID)
		assert.Equal(t, m.SMILES, result.SMILES)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)
		id := uuid.New()

		mock.ExpectQuery(`SELECT .* FROM small_molecules WHERE id = \$1`).
			WithArgs(id).
			WillReturnError(pgx.ErrNoRows)

		_, err = repo.GetByID(ctx, id)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgMoleculeRepository_GetByCAS(t *testing.T) {
	ctx := context.Background()

	t.Run("returns molecule when found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)
		m := newTestMolecule("lauric acid")
		m.CASNumber = "143-07-7"

		mock.ExpectQuery(`SELECT .* FROM small_molecules WHERE cas_number = \$1`).
			WithArgs("143-07-7").
			WillReturnRows(moleculeRow(m))

		result, err := repo.GetByCAS(ctx, "143-07-7")
		require.NoError(t, err)
		assert.Equal(t, m.ID, result.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects empty CAS number", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)
		_, err = repo.GetByCAS(ctx, "")
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestPgMoleculeRepository_List(t *testing.T) {
	ctx := context.Background()

	t.Run("lists molecules with search", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)
		m := newTestMolecule("caffeine")

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM small_molecules`).
			WithArgs("%caffeine%").
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))

		mock.ExpectQuery(`SELECT .* FROM small_molecules WHERE .* ORDER BY name`).
			WithArgs("%caffeine%", 100, 0).
			WillReturnRows(moleculeRow(m))

		molecules, total, err := repo.List(ctx, MoleculeFilter{Search: "Caffeine"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, molecules, 1)
		assert.Equal(t, m.ID, molecules[0].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("escapes LIKE metacharacters in search", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM small_molecules`).
			WithArgs(`%50\%\_compound%`).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))

		mock.ExpectQuery(`SELECT .* FROM small_molecules`).
			WithArgs(`%50\%\_compound%`, 100, 0).
			WillReturnRows(pgxmock.NewRows(moleculeColumnNames))

		_, _, err = repo.List(ctx, MoleculeFilter{Search: "50%_compound"})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("filters on CAS presence", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)
		hasCAS := true

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM small_molecules WHERE TRUE AND cas_number IS NOT NULL`).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))

		mock.ExpectQuery(`SELECT .* FROM small_molecules`).
			WithArgs(100, 0).
			WillReturnRows(pgxmock.NewRows(moleculeColumnNames))

		_, _, err = repo.List(ctx, MoleculeFilter{HasCAS: &hasCAS})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgMoleculeRepository_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("updates molecule fields", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)
		m := newTestMolecule("Monensin Sodium")

		mock.ExpectExec("UPDATE small_molecules SET").
			WithArgs("Monensin Sodium", "monensin sodium", pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), m.ID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err = repo.Update(ctx, m)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found for unknown molecule", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)
		m := newTestMolecule("chitosan")

		mock.ExpectExec("UPDATE small_molecules SET").
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), m.ID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err = repo.Update(ctx, m)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps unique violation to already exists", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)
		m := newTestMolecule("fumaric acid")

		mock.ExpectExec("UPDATE small_molecules SET").
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), m.ID).
			WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "unique_normalized_name"})

		err = repo.Update(ctx, m)
		assert.True(t, errors.Is(err, domain.ErrAlreadyExists))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgMoleculeRepository_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes molecule", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)
		id := uuid.New()

		mock.ExpectExec("DELETE FROM small_molecules").
			WithArgs(id).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		err = repo.Delete(ctx, id)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found for unknown molecule", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)
		id := uuid.New()

		mock.ExpectExec("DELETE FROM small_molecules").
			WithArgs(id).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		err = repo.Delete(ctx, id)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgMoleculeRepository_LinkPaper(t *testing.T) {
	ctx := context.Background()

	t.Run("links molecule to paper", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)
		link := &domain.MoleculePaperLink{
			MoleculeID:     uuid.New(),
			PaperSummaryID: uuid.New(),
			ContextExcerpt: "reduced methane yield by 30% in vitro",
		}

		mock.ExpectExec("INSERT INTO molecule_paper_links").
			WithArgs(pgxmock.AnyArg(), link.MoleculeID, link.PaperSummaryID,
				pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err = repo.LinkPaper(ctx, link)
		assert.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, link.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps foreign key violation to not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)
		link := &domain.MoleculePaperLink{
			MoleculeID:     uuid.New(),
			PaperSummaryID: uuid.New(),
		}

		mock.ExpectExec("INSERT INTO molecule_paper_links").
			WithArgs(pgxmock.AnyArg(), link.MoleculeID, link.PaperSummaryID,
				pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})

		err = repo.LinkPaper(ctx, link)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgMoleculeRepository_LinkRun(t *testing.T) {
	ctx := context.Background()

	t.Run("links molecule to run", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)
		runID := uuid.New()
		moleculeID := uuid.New()

		mock.ExpectExec("INSERT INTO research_run_molecules").
			WithArgs(runID, moleculeID, 0.85, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err = repo.LinkRun(ctx, runID, moleculeID, 0.85)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("clamps out of range score", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)
		runID := uuid.New()
		moleculeID := uuid.New()

		mock.ExpectExec("INSERT INTO research_run_molecules").
			WithArgs(runID, moleculeID, 1.0, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err = repo.LinkRun(ctx, runID, moleculeID, 1.7)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgMoleculeRepository_ListByRun(t *testing.T) {
	ctx := context.Background()

	t.Run("lists scored molecules", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)
		runID := uuid.New()
		m := newTestMolecule("bromoform")
		now := time.Now().UTC()

		rows := pgxmock.NewRows(append(append([]string{}, moleculeColumnNames...), "relevance_score")).
			AddRow(m.ID, m.Name, m.NormalizedName,
				nullString(m.CASNumber), nullString(m.SMILES), nullString(m.Description),
				now, now, 0.92)

		mock.ExpectQuery(`SELECT .* FROM small_molecules m JOIN research_run_molecules rrm`).
			WithArgs(runID).
			WillReturnRows(rows)

		scored, err := repo.ListByRun(ctx, runID)
		require.NoError(t, err)
		require.Len(t, scored, 1)
		assert.Equal(t, m.ID, scored[0].Molecule.ID)
		assert.Equal(t, 0.92, scored[0].RelevanceScore)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgMoleculeRepository_ListPapers(t *testing.T) {
	ctx := context.Background()

	t.Run("lists paper links", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMoleculeRepository(mock)
		moleculeID := uuid.New()
		linkID := uuid.New()
		paperID := uuid.New()
		excerpt := "supplementation lowered emissions"
		now := time.Now().UTC()

		rows := pgxmock.NewRows([]string{"id", "molecule_id", "paper_summary_id", "context_excerpt", "created_at"}).
			AddRow(linkID, moleculeID, paperID, &excerpt, now)

		mock.ExpectQuery(`SELECT .* FROM molecule_paper_links WHERE molecule_id = \$1`).
			WithArgs(moleculeID).
			WillReturnRows(rows)

		links, err := repo.ListPapers(ctx, moleculeID)
		require.NoError(t, err)
		require.Len(t, links, 1)
		assert.Equal(t, excerpt, links[0].ContextExcerpt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
