package verify

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruminex/molecule-discovery-service/internal/domain"
	"github.com/ruminex/molecule-discovery-service/internal/pubchem"
)

// fakeRegistry resolves names from a fixed table; unlisted names are
// inconclusive.
type fakeRegistry struct {
	mu      sync.Mutex
	results map[string]pubchem.Result
	calls   []string
}

func (f *fakeRegistry) LookupName(_ context.Context, name string) pubchem.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if res, ok := f.results[strings.ToLower(name)]; ok {
		return res
	}
	return pubchem.Result{Status: pubchem.StatusInconclusive}
}

func TestValidator_Run(t *testing.T) {
	registry := func() *fakeRegistry {
		return &fakeRegistry{results: map[string]pubchem.Result{
			"nitrate":     {Status: pubchem.StatusFound, CID: 943, IUPACName: "nitric acid"},
			"propionate":  {Status: pubchem.StatusFound, CID: 104745},
			"corn silage": {Status: pubchem.StatusNotFound},
		}}
	}

	t.Run("dry run counts outcomes without rewriting", func(t *testing.T) {
		store, _ := newTestStore(t)
		writeRecord(t, store, "100", []string{"nitrate", "corn silage", "mystery compound"}, nil)

		validator := NewValidator(store, registry(), zerolog.Nop(), nil)
		stats, reports, err := validator.Run(context.Background(), Options{})
		require.NoError(t, err)

		assert.Equal(t, 1, stats.Checked)
		assert.Equal(t, 1, stats.Valid)
		assert.Equal(t, 1, stats.Invalid)
		assert.Equal(t, 1, stats.Unknown)
		assert.Zero(t, stats.Fixed)
		// The would-be rename is counted even though nothing is written.
		assert.Equal(t, 1, stats.Renamed)

		require.Len(t, reports, 1)
		assert.Equal(t, []string{"corn silage"}, reports[0].Invalid)
		assert.Equal(t, []string{"mystery compound"}, reports[0].Unknown)

		stored, err := store.ReadAnalysis("100")
		require.NoError(t, err)
		assert.Equal(t, []string{"nitrate", "corn silage", "mystery compound"}, stored.Molecules)
	})

	t.Run("fix mode removes unknown names and renames to preferred", func(t *testing.T) {
		store, _ := newTestStore(t)
		writeRecord(t, store, "100", []string{"nitrate", "corn silage", "mystery compound"}, nil)

		validator := NewValidator(store, registry(), zerolog.Nop(), nil)
		stats, _, err := validator.Run(context.Background(), Options{Fix: true})
		require.NoError(t, err)

		assert.Equal(t, 1, stats.Fixed)
		assert.Equal(t, 1, stats.Renamed)

		stored, err := store.ReadAnalysis("100")
		require.NoError(t, err)
		// Found names standardized, not-found removed, inconclusive kept.
		assert.Equal(t, []string{"nitric acid", "mystery compound"}, stored.Molecules)
		require.NotNil(t, stored.Verification)
		assert.Equal(t, []string{"corn silage"}, stored.Verification.MoleculesRemoved)
		assert.Equal(t, []domain.Rename{{From: "nitrate", To: "nitric acid"}}, stored.Verification.MoleculesRenamed)
	})

	t.Run("inconclusive lookups never remove molecules", func(t *testing.T) {
		store, _ := newTestStore(t)
		writeRecord(t, store, "200", []string{"mystery compound"}, nil)

		validator := NewValidator(store, registry(), zerolog.Nop(), nil)
		stats, _, err := validator.Run(context.Background(), Options{Fix: true})
		require.NoError(t, err)

		assert.Equal(t, 1, stats.Unknown)
		assert.Zero(t, stats.Fixed)

		stored, err := store.ReadAnalysis("200")
		require.NoError(t, err)
		assert.Equal(t, []string{"mystery compound"}, stored.Molecules)
		assert.Nil(t, stored.Verification)
	})

	t.Run("found name without iupac name is kept as-is in fix mode", func(t *testing.T) {
		store, _ := newTestStore(t)
		writeRecord(t, store, "300", []string{"propionate", "corn silage"}, nil)

		validator := NewValidator(store, registry(), zerolog.Nop(), nil)
		stats, _, err := validator.Run(context.Background(), Options{Fix: true})
		require.NoError(t, err)
		assert.Zero(t, stats.Renamed)

		stored, err := store.ReadAnalysis("300")
		require.NoError(t, err)
		assert.Equal(t, []string{"propionate"}, stored.Molecules)
	})

	t.Run("dry run and fix report identical statistics", func(t *testing.T) {
		molecules := []string{"nitrate", "corn silage", "mystery compound"}

		dryStore, _ := newTestStore(t)
		writeRecord(t, dryStore, "400", molecules, nil)
		dryStats, dryReports, err := NewValidator(dryStore, registry(), zerolog.Nop(), nil).
			Run(context.Background(), Options{})
		require.NoError(t, err)

		fixStore, _ := newTestStore(t)
		writeRecord(t, fixStore, "400", molecules, nil)
		fixStats, _, err := NewValidator(fixStore, registry(), zerolog.Nop(), nil).
			Run(context.Background(), Options{Fix: true})
		require.NoError(t, err)

		// Only the Fixed counter may differ between the two modes.
		assert.Equal(t, 1, fixStats.Fixed)
		fixStats.Fixed = dryStats.Fixed
		assert.Equal(t, fixStats, dryStats)
		assert.Equal(t, 1, dryStats.Renamed)

		require.Len(t, dryReports, 1)
		assert.Equal(t, []domain.Rename{{From: "nitrate", To: "nitric acid"}}, dryReports[0].Renamed)

		// The dry-run store is untouched.
		stored, err := dryStore.ReadAnalysis("400")
		require.NoError(t, err)
		assert.Equal(t, molecules, stored.Molecules)
		assert.Nil(t, stored.Verification)
	})

	t.Run("limit caps records not molecules", func(t *testing.T) {
		store, _ := newTestStore(t)
		writeRecord(t, store, "1", []string{"nitrate"}, nil)
		writeRecord(t, store, "2", []string{"nitrate"}, nil)
		writeRecord(t, store, "3", []string{"nitrate"}, nil)

		validator := NewValidator(store, registry(), zerolog.Nop(), nil)
		stats, _, err := validator.Run(context.Background(), Options{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Checked)
	})
}
