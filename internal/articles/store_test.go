package articles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruminex/molecule-discovery-service/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	articlesDir := t.TempDir()
	outputDir := filepath.Join(t.TempDir(), "summaries")
	store, err := NewStore(articlesDir, outputDir, zerolog.Nop())
	require.NoError(t, err)
	return store
}

func TestPMIDFromFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "PMID12345678.xml", "12345678"},
		{"with suffix", "PMID987_article.xml", "987"},
		{"full path", "/data/articles/PMID42.xml", "42"},
		{"no pmid", "article-42.xml", ""},
		{"lowercase not matched", "pmid123.xml", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PMIDFromFilename(tt.in))
		})
	}
}

func TestStore_WriteReadAnalysis(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	analysis := &domain.ArticleAnalysis{
		PMID:                 "123",
		Title:                "A title",
		ComprehensiveSummary: "Summary text",
		Molecules:            []string{"nitrate", "fumarate"},
		Topics:               []string{"methane-reduction"},
		Keywords:             []string{"rumen fermentation"},
	}

	assert.False(t, store.HasAnalysis("123"))
	require.NoError(t, store.WriteAnalysis(analysis))
	assert.True(t, store.HasAnalysis("123"))

	got, err := store.ReadAnalysis("123")
	require.NoError(t, err)
	assert.Equal(t, analysis.Molecules, got.Molecules)
	assert.Equal(t, "Summary text", got.ComprehensiveSummary)

	// No temp files left behind.
	entries, err := os.ReadDir(store.OutputDir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "PMID123_analysis.json", entries[0].Name())
}

func TestStore_ReadAnalysis_NotFound(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	_, err := store.ReadAnalysis("999")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_FindXML(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	path := filepath.Join(store.ArticlesDir(), "PMID555.xml")
	require.NoError(t, os.WriteFile(path, []byte("<article/>"), 0o644))

	found, err := store.FindXML("555")
	require.NoError(t, err)
	assert.Equal(t, path, found)

	_, err = store.FindXML("556")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_BuildIndex_SkipsCorruptRecords(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	require.NoError(t, store.WriteAnalysis(&domain.ArticleAnalysis{PMID: "1", Title: "good"}))
	require.NoError(t, store.WriteAnalysis(&domain.ArticleAnalysis{PMID: "2", Title: "also good"}))

	// Corrupt one record on disk.
	corrupt := filepath.Join(store.OutputDir(), AnalysisFileName("3"))
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0o644))

	n, err := store.BuildIndex()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err := os.ReadFile(filepath.Join(store.OutputDir(), IndexFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"good"`)
	assert.NotContains(t, string(data), "not json")
}

func TestStore_ListXMLFiles_SortedAndFiltered(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	for _, name := range []string{"PMID2.xml", "PMID1.xml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(store.ArticlesDir(), name), []byte("x"), 0o644))
	}

	files, err := store.ListXMLFiles()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "PMID1.xml", filepath.Base(files[0]))
	assert.Equal(t, "PMID2.xml", filepath.Base(files[1]))
}
