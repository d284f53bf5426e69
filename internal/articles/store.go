package articles

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ruminex/molecule-discovery-service/internal/domain"
)

// pmidRegex extracts the numeric PMID from corpus filenames such as
// "PMID12345678.xml" or "PMID12345678_article.xml".
var pmidRegex = regexp.MustCompile(`PMID(\d+)`)

// IndexFileName is the master index written after a full batch.
const IndexFileName = "all_analyses_index.json"

// PMIDFromFilename extracts the PMID from an article filename. Returns an
// empty string when the filename carries no PMID.
func PMIDFromFilename(name string) string {
	m := pmidRegex.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return ""
	}
	return m[1]
}

// AnalysisFileName returns the record filename for a PMID.
func AnalysisFileName(pmid string) string {
	return fmt.Sprintf("PMID%s_analysis.json", pmid)
}

// Store addresses an on-disk article corpus and its analysis output
// directory. The output directory is created on first use.
type Store struct {
	articlesDir string
	outputDir   string
	logger      zerolog.Logger
}

// NewStore creates a Store over the given corpus and output directories.
func NewStore(articlesDir, outputDir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("articles: create output dir: %w", err)
	}
	return &Store{
		articlesDir: articlesDir,
		outputDir:   outputDir,
		logger:      logger.With().Str("component", "articles").Logger(),
	}, nil
}

// ArticlesDir returns the corpus directory.
func (s *Store) ArticlesDir() string { return s.articlesDir }

// OutputDir returns the analysis output directory.
func (s *Store) OutputDir() string { return s.outputDir }

// ListXMLFiles returns the corpus XML file paths in sorted order.
func (s *Store) ListXMLFiles() ([]string, error) {
	entries, err := os.ReadDir(s.articlesDir)
	if err != nil {
		return nil, fmt.Errorf("articles: read corpus dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".xml") {
			files = append(files, filepath.Join(s.articlesDir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// FindXML locates the corpus XML file for a PMID. Returns domain.ErrNotFound
// when no file matches.
func (s *Store) FindXML(pmid string) (string, error) {
	files, err := s.ListXMLFiles()
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if PMIDFromFilename(f) == pmid {
			return f, nil
		}
	}
	return "", domain.NewNotFoundError("article xml", pmid)
}

// HasAnalysis reports whether a record already exists for the PMID. This is
// the resumability check: a present record means the article is done.
func (s *Store) HasAnalysis(pmid string) bool {
	_, err := os.Stat(filepath.Join(s.outputDir, AnalysisFileName(pmid)))
	return err == nil
}

// ReadAnalysis loads the record for a PMID.
func (s *Store) ReadAnalysis(pmid string) (*domain.ArticleAnalysis, error) {
	path := filepath.Join(s.outputDir, AnalysisFileName(pmid))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.NewNotFoundError("analysis", pmid)
		}
		return nil, fmt.Errorf("articles: read analysis %s: %w", pmid, err)
	}

	var analysis domain.ArticleAnalysis
	if err := json.Unmarshal(data, &analysis); err != nil {
		return nil, fmt.Errorf("articles: parse analysis %s: %w", pmid, err)
	}
	return &analysis, nil
}

// WriteAnalysis persists a record atomically: the JSON is written to a temp
// file in the output directory and renamed into place, so a crash never
// leaves a half-written record that the resume check would skip.
func (s *Store) WriteAnalysis(analysis *domain.ArticleAnalysis) error {
	data, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return fmt.Errorf("articles: marshal analysis %s: %w", analysis.PMID, err)
	}

	final := filepath.Join(s.outputDir, AnalysisFileName(analysis.PMID))
	tmp, err := os.CreateTemp(s.outputDir, AnalysisFileName(analysis.PMID)+".tmp*")
	if err != nil {
		return fmt.Errorf("articles: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("articles: write analysis %s: %w", analysis.PMID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("articles: close temp file: %w", err)
	}

	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("articles: rename analysis %s: %w", analysis.PMID, err)
	}
	return nil
}

// ListAnalyses returns the PMIDs of all stored records in sorted order.
func (s *Store) ListAnalyses() ([]string, error) {
	entries, err := os.ReadDir(s.outputDir)
	if err != nil {
		return nil, fmt.Errorf("articles: read output dir: %w", err)
	}

	var pmids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), "_analysis.json") {
			continue
		}
		if pmid := PMIDFromFilename(e.Name()); pmid != "" {
			pmids = append(pmids, pmid)
		}
	}
	sort.Strings(pmids)
	return pmids, nil
}

// BuildIndex concatenates every readable record into the master index file.
// Corrupt records are logged and skipped; they never abort the index build.
// Returns the number of records indexed.
func (s *Store) BuildIndex() (int, error) {
	pmids, err := s.ListAnalyses()
	if err != nil {
		return 0, err
	}

	all := make([]*domain.ArticleAnalysis, 0, len(pmids))
	for _, pmid := range pmids {
		analysis, err := s.ReadAnalysis(pmid)
		if err != nil {
			s.logger.Warn().Err(err).Str("pmid", pmid).Msg("skipping unreadable analysis record")
			continue
		}
		all = append(all, analysis)
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("articles: marshal index: %w", err)
	}

	path := filepath.Join(s.outputDir, IndexFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("articles: write index: %w", err)
	}

	s.logger.Info().Int("records", len(all)).Str("path", path).Msg("master index written")
	return len(all), nil
}
