package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruminex/molecule-discovery-service/internal/articles"
	"github.com/ruminex/molecule-discovery-service/internal/domain"
	"github.com/ruminex/molecule-discovery-service/internal/llm"
)

// happyRespond answers each stage based on its prompt preamble.
func happyRespond(req llm.Request) (*llm.Response, error) {
	var content string
	switch {
	case strings.Contains(req.Prompt, "text cleaning assistant"):
		content = "cleaned article text"
	case strings.Contains(req.Prompt, "scientific writer"):
		content = "a comprehensive summary"
	case strings.Contains(req.Prompt, "chemistry expert"):
		content = `["nitrate", "fumarate", "3-NOP"]`
	case strings.Contains(req.Prompt, "research librarian"):
		content = `{"topics": ["methane-reduction"], "keywords": ["volatile fatty acids"]}`
	default:
		return nil, fmt.Errorf("unexpected prompt: %.60s", req.Prompt)
	}
	return &llm.Response{Content: content, Model: "stub-model"}, nil
}

func writeArticleXML(t *testing.T, dir, name string) {
	t.Helper()
	body := strings.Repeat("Supplementing nitrate reduced methane emission in dairy cows. ", 20)
	doc := fmt.Sprintf(`<article>
  <front><article-title>Nitrate and methane</article-title>
  <abstract><p>Nitrate lowers enteric methane.</p></abstract></front>
  <body><p>%s</p></body>
</article>`, body)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(doc), 0o644))
}

func newTestProcessor(t *testing.T, respond func(llm.Request) (*llm.Response, error)) (*Processor, *articles.Store, string) {
	t.Helper()
	articlesDir := t.TempDir()
	outputDir := t.TempDir()
	store, err := articles.NewStore(articlesDir, outputDir, zerolog.Nop())
	require.NoError(t, err)

	stages := NewStages(&stubClient{respond: respond}, zerolog.Nop(), nil)
	return NewProcessor(store, stages, zerolog.Nop(), nil), store, articlesDir
}

func TestProcessor_ProcessArticle(t *testing.T) {
	t.Run("processes article end to end", func(t *testing.T) {
		proc, store, articlesDir := newTestProcessor(t, happyRespond)
		writeArticleXML(t, articlesDir, "PMID12345_article.xml")

		res := proc.ProcessArticle(context.Background(), "PMID12345_article.xml")

		assert.Equal(t, OutcomeProcessed, res.Outcome)
		assert.Equal(t, "12345", res.PMID)
		require.NotNil(t, res.Analysis)

		stored, err := store.ReadAnalysis("12345")
		require.NoError(t, err)
		assert.Equal(t, "12345", stored.PMID)
		assert.Equal(t, "PMID12345_article.xml", stored.XMLFile)
		assert.Equal(t, "Nitrate and methane", stored.Title)
		assert.Equal(t, "a comprehensive summary", stored.ComprehensiveSummary)
		assert.Equal(t, []string{"nitrate", "fumarate", "3-NOP"}, stored.Molecules)
		assert.Equal(t, []string{"methane-reduction"}, stored.Topics)
		assert.Equal(t, []string{"volatile fatty acids"}, stored.Keywords)
		assert.Equal(t, len(stored.Title), stored.TextLength.Title)
		assert.Equal(t, len("cleaned article text"), stored.TextLength.Cleaned)
	})

	t.Run("skips filename without PMID", func(t *testing.T) {
		proc, _, _ := newTestProcessor(t, happyRespond)

		res := proc.ProcessArticle(context.Background(), "random_article.xml")

		assert.Equal(t, OutcomeSkipped, res.Outcome)
		assert.Equal(t, SkipNoPMID, res.SkipReason)
	})

	t.Run("skips already processed article", func(t *testing.T) {
		calls := 0
		proc, store, articlesDir := newTestProcessor(t, func(req llm.Request) (*llm.Response, error) {
			calls++
			return happyRespond(req)
		})
		writeArticleXML(t, articlesDir, "PMID777_article.xml")
		require.NoError(t, store.WriteAnalysis(&domain.ArticleAnalysis{PMID: "777"}))

		res := proc.ProcessArticle(context.Background(), "PMID777_article.xml")

		assert.Equal(t, OutcomeSkipped, res.Outcome)
		assert.Equal(t, SkipAlreadyProcessed, res.SkipReason)
		assert.Zero(t, calls)
	})

	t.Run("skips article with insufficient body text", func(t *testing.T) {
		proc, _, articlesDir := newTestProcessor(t, happyRespond)
		doc := `<article><front><article-title>Short</article-title></front><body><p>too short</p></body></article>`
		require.NoError(t, os.WriteFile(filepath.Join(articlesDir, "PMID42_article.xml"), []byte(doc), 0o644))

		res := proc.ProcessArticle(context.Background(), "PMID42_article.xml")

		assert.Equal(t, OutcomeSkipped, res.Outcome)
		assert.Equal(t, SkipInsufficientText, res.SkipReason)
	})

	t.Run("errors when xml file is missing", func(t *testing.T) {
		proc, _, _ := newTestProcessor(t, happyRespond)

		res := proc.ProcessArticle(context.Background(), "PMID999_article.xml")

		assert.Equal(t, OutcomeErrored, res.Outcome)
		assert.Error(t, res.Err)
	})

	t.Run("stage failures degrade to sentinels", func(t *testing.T) {
		proc, store, articlesDir := newTestProcessor(t, func(req llm.Request) (*llm.Response, error) {
			return nil, &llm.APIError{Provider: "stub", StatusCode: 500, Message: "down"}
		})
		writeArticleXML(t, articlesDir, "PMID555_article.xml")

		res := proc.ProcessArticle(context.Background(), "PMID555_article.xml")

		assert.Equal(t, OutcomeProcessed, res.Outcome)
		stored, err := store.ReadAnalysis("555")
		require.NoError(t, err)
		assert.Equal(t, "", stored.ComprehensiveSummary)
		assert.Empty(t, stored.Molecules)
		assert.Empty(t, stored.Topics)
		assert.Empty(t, stored.Keywords)
	})

	t.Run("repeated call is idempotent", func(t *testing.T) {
		proc, _, articlesDir := newTestProcessor(t, happyRespond)
		writeArticleXML(t, articlesDir, "PMID888_article.xml")

		first := proc.ProcessArticle(context.Background(), "PMID888_article.xml")
		second := proc.ProcessArticle(context.Background(), "PMID888_article.xml")

		assert.Equal(t, OutcomeProcessed, first.Outcome)
		assert.Equal(t, OutcomeSkipped, second.Outcome)
		assert.Equal(t, SkipAlreadyProcessed, second.SkipReason)
	})
}
