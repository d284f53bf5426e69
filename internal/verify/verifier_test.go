package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruminex/molecule-discovery-service/internal/articles"
	"github.com/ruminex/molecule-discovery-service/internal/domain"
)

func newTestStore(t *testing.T) (*articles.Store, string) {
	t.Helper()
	articlesDir := t.TempDir()
	store, err := articles.NewStore(articlesDir, t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return store, articlesDir
}

func writeSourceXML(t *testing.T, dir, pmid, text string) {
	t.Helper()
	doc := fmt.Sprintf(`<article><body><p>%s</p></body></article>`, text)
	name := fmt.Sprintf("PMID%s_article.xml", pmid)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(doc), 0o644))
}

func writeRecord(t *testing.T, store *articles.Store, pmid string, molecules, keywords []string) {
	t.Helper()
	require.NoError(t, store.WriteAnalysis(&domain.ArticleAnalysis{
		PMID:      pmid,
		Molecules: molecules,
		Keywords:  keywords,
	}))
}

func TestVerifier_Run(t *testing.T) {
	t.Run("dry run reports unsupported entities without rewriting", func(t *testing.T) {
		store, articlesDir := newTestStore(t)
		writeSourceXML(t, articlesDir, "100", "Nitrate supplementation reduced methane in dairy cattle.")
		writeRecord(t, store, "100",
			[]string{"nitrate", "monensin"},
			[]string{"methane", "gas chromatography"})

		verifier := NewVerifier(store, zerolog.Nop(), nil)
		stats, reports, err := verifier.Run(context.Background(), Options{})
		require.NoError(t, err)

		assert.Equal(t, 1, stats.Checked)
		assert.Equal(t, 1, stats.Issues)
		assert.Zero(t, stats.Fixed)
		assert.Equal(t, 1, stats.MoleculesRemoved)
		assert.Equal(t, 1, stats.KeywordsRemoved)

		require.Len(t, reports, 1)
		assert.Equal(t, []string{"monensin"}, reports[0].MoleculesRemoved)
		assert.Equal(t, []string{"gas chromatography"}, reports[0].KeywordsRemoved)
		assert.False(t, reports[0].Fixed)

		// Record untouched.
		stored, err := store.ReadAnalysis("100")
		require.NoError(t, err)
		assert.Equal(t, []string{"nitrate", "monensin"}, stored.Molecules)
		assert.Nil(t, stored.Verification)
	})

	t.Run("fix mode removes entities and writes audit", func(t *testing.T) {
		store, articlesDir := newTestStore(t)
		writeSourceXML(t, articlesDir, "100", "Nitrate supplementation reduced methane in dairy cattle.")
		writeRecord(t, store, "100",
			[]string{"nitrate", "monensin"},
			[]string{"methane", "gas chromatography"})

		verifier := NewVerifier(store, zerolog.Nop(), nil)
		stats, _, err := verifier.Run(context.Background(), Options{Fix: true})
		require.NoError(t, err)

		assert.Equal(t, 1, stats.Fixed)
		// Same statistics as the dry run.
		assert.Equal(t, 1, stats.MoleculesRemoved)
		assert.Equal(t, 1, stats.KeywordsRemoved)

		stored, err := store.ReadAnalysis("100")
		require.NoError(t, err)
		assert.Equal(t, []string{"nitrate"}, stored.Molecules)
		assert.Equal(t, []string{"methane"}, stored.Keywords)
		require.NotNil(t, stored.Verification)
		assert.Equal(t, []string{"monensin"}, stored.Verification.MoleculesRemoved)
		assert.Equal(t, []string{"gas chromatography"}, stored.Verification.KeywordsRemoved)
		assert.False(t, stored.Verification.VerifiedAt.IsZero())
	})

	t.Run("fully supported record is untouched in fix mode", func(t *testing.T) {
		store, articlesDir := newTestStore(t)
		writeSourceXML(t, articlesDir, "200", "Propionate and butyrate are major volatile fatty acids.")
		writeRecord(t, store, "200", []string{"propionate", "butyrate"}, []string{"volatile fatty acids"})

		verifier := NewVerifier(store, zerolog.Nop(), nil)
		stats, _, err := verifier.Run(context.Background(), Options{Fix: true})
		require.NoError(t, err)

		assert.Equal(t, 1, stats.Checked)
		assert.Zero(t, stats.Issues)
		assert.Zero(t, stats.Fixed)

		stored, err := store.ReadAnalysis("200")
		require.NoError(t, err)
		assert.Nil(t, stored.Verification)
	})

	t.Run("hyphen variants survive verification", func(t *testing.T) {
		store, articlesDir := newTestStore(t)
		writeSourceXML(t, articlesDir, "300", "Doses of alpha ketoglutarate were tested in vitro.")
		writeRecord(t, store, "300", []string{"alpha-ketoglutarate"}, nil)

		verifier := NewVerifier(store, zerolog.Nop(), nil)
		stats, _, err := verifier.Run(context.Background(), Options{})
		require.NoError(t, err)
		assert.Zero(t, stats.MoleculesRemoved)
	})

	t.Run("greek letters in source match ascii names", func(t *testing.T) {
		store, articlesDir := newTestStore(t)
		writeSourceXML(t, articlesDir, "301", "Levels of &#945;-tocopherol increased.")
		writeRecord(t, store, "301", []string{"alpha-tocopherol"}, nil)

		verifier := NewVerifier(store, zerolog.Nop(), nil)
		stats, _, err := verifier.Run(context.Background(), Options{})
		require.NoError(t, err)
		assert.Zero(t, stats.MoleculesRemoved)
	})

	t.Run("missing xml counts as error", func(t *testing.T) {
		store, _ := newTestStore(t)
		writeRecord(t, store, "400", []string{"nitrate"}, nil)

		verifier := NewVerifier(store, zerolog.Nop(), nil)
		stats, reports, err := verifier.Run(context.Background(), Options{})
		require.NoError(t, err)

		assert.Equal(t, 1, stats.Errors)
		assert.Zero(t, stats.Checked)
		require.Len(t, reports, 1)
		assert.Error(t, reports[0].Err)
	})

	t.Run("pmid option restricts the pass", func(t *testing.T) {
		store, articlesDir := newTestStore(t)
		for _, pmid := range []string{"1", "2", "3"} {
			writeSourceXML(t, articlesDir, pmid, "nitrate text")
			writeRecord(t, store, pmid, []string{"nitrate"}, nil)
		}

		verifier := NewVerifier(store, zerolog.Nop(), nil)
		stats, reports, err := verifier.Run(context.Background(), Options{PMID: "2"})
		require.NoError(t, err)

		assert.Equal(t, 1, stats.Checked)
		require.Len(t, reports, 1)
		assert.Equal(t, "2", reports[0].PMID)
	})

	t.Run("limit caps the pass", func(t *testing.T) {
		store, articlesDir := newTestStore(t)
		for _, pmid := range []string{"1", "2", "3"} {
			writeSourceXML(t, articlesDir, pmid, "nitrate text")
			writeRecord(t, store, pmid, []string{"nitrate"}, nil)
		}

		verifier := NewVerifier(store, zerolog.Nop(), nil)
		stats, _, err := verifier.Run(context.Background(), Options{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Checked)
	})
}
