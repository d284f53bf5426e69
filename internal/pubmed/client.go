package pubmed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruminex/molecule-discovery-service/internal/domain"
	"github.com/ruminex/molecule-discovery-service/internal/httpx"
	"github.com/ruminex/molecule-discovery-service/internal/observability"
)

const (
	// DefaultBaseURL is the production E-utilities endpoint.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRateLimit is what NCBI allows without an API key (3 req/s).
	DefaultRateLimit = 3.0

	// KeyedRateLimit is what NCBI allows with an API key.
	KeyedRateLimit = 10.0

	// DefaultTimeout bounds a single E-utilities request.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the search page size when the caller passes none.
	DefaultMaxResults = 30

	// MaxResultsLimit is the hard retmax ceiling the API enforces.
	MaxResultsLimit = 10000

	// ArticleURLPrefix builds the public article page used as SourceURL.
	ArticleURLPrefix = "https://pubmed.ncbi.nlm.nih.gov/"

	// sourceName labels pubmed traffic in logs and metrics.
	sourceName = "pubmed"
)

// Config holds the PubMed client settings.
type Config struct {
	// BaseURL overrides the E-utilities endpoint, mainly for tests.
	BaseURL string

	// APIKey unlocks the higher NCBI rate limit. Optional.
	APIKey string

	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration

	// RateLimit is the outbound requests-per-second cap. Zero picks
	// DefaultRateLimit, or KeyedRateLimit when an API key is set.
	RateLimit float64

	// MaxResults is the search page size when Search gets none.
	MaxResults int
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
		if c.APIKey != "" {
			c.RateLimit = KeyedRateLimit
		}
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
}

// Client searches PubMed and fetches article metadata. Safe for
// concurrent use.
type Client struct {
	config     Config
	httpClient *httpx.Client
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// New builds a Client whose HTTP layer enforces the NCBI rate limit.
func New(cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Client {
	cfg.applyDefaults()

	return &Client{
		config: cfg,
		httpClient: httpx.NewClient(httpx.ClientConfig{
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			BurstSize: int(cfg.RateLimit),
		}),
		logger:  logger.With().Str("component", "pubmed_client").Logger(),
		metrics: metrics,
	}
}

// Search resolves a query to papers: esearch for the matching PMIDs,
// then efetch for their metadata. maxResults <= 0 falls back to the
// configured page size.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]*domain.Paper, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewValidationError("query", "must not be empty")
	}

	searchResult, err := c.esearch(ctx, query, maxResults)
	if err != nil {
		return nil, fmt.Errorf("esearch failed: %w", err)
	}

	// Phrases the index does not know produce an ErrorList, not a
	// failure. Treat them as an empty result set.
	if searchResult.ErrorList != nil && len(searchResult.ErrorList.PhraseNotFound) > 0 {
		c.logger.Debug().
			Str("query", query).
			Strs("phrases_not_found", searchResult.ErrorList.PhraseNotFound).
			Msg("search phrase not found")
		return []*domain.Paper{}, nil
	}

	if len(searchResult.IDList.IDs) == 0 {
		return []*domain.Paper{}, nil
	}

	articles, err := c.efetch(ctx, searchResult.IDList.IDs)
	if err != nil {
		return nil, fmt.Errorf("efetch failed: %w", err)
	}

	papers := make([]*domain.Paper, 0, len(articles.Articles))
	for _, article := range articles.Articles {
		papers = append(papers, articleToPaper(article))
	}

	c.logger.Info().
		Str("query", query).
		Int("total_matches", searchResult.Count).
		Int("papers", len(papers)).
		Msg("search completed")

	return papers, nil
}

// GetByPMID fetches a single paper by PubMed ID.
func (c *Client) GetByPMID(ctx context.Context, pmid string) (*domain.Paper, error) {
	if strings.TrimSpace(pmid) == "" {
		return nil, domain.NewValidationError("pmid", "must not be empty")
	}

	articles, err := c.efetch(ctx, []string{pmid})
	if err != nil {
		return nil, fmt.Errorf("efetch failed: %w", err)
	}

	if len(articles.Articles) == 0 {
		return nil, domain.NewNotFoundError("paper", pmid)
	}

	return articleToPaper(articles.Articles[0]), nil
}

func (c *Client) esearch(ctx context.Context, query string, maxResults int) (*ESearchResult, error) {
	if maxResults <= 0 {
		maxResults = c.config.MaxResults
	}
	if maxResults > MaxResultsLimit {
		maxResults = MaxResultsLimit
	}

	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("term", query)
	q.Set("retmode", "xml")
	q.Set("usehistory", "n")
	q.Set("retmax", strconv.Itoa(maxResults))

	var result ESearchResult
	if err := c.get(ctx, "esearch", q, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) efetch(ctx context.Context, pmids []string) (*PubmedArticleSet, error) {
	if len(pmids) == 0 {
		return &PubmedArticleSet{}, nil
	}

	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(pmids, ","))
	q.Set("retmode", "xml")
	q.Set("rettype", "abstract")

	var result PubmedArticleSet
	if err := c.get(ctx, "efetch", q, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// get issues one GET against an E-utilities endpoint and decodes the XML
// body into out. Failures are recorded per endpoint and error class.
func (c *Client) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}

	requestURL := fmt.Sprintf("%s/%s.fcgi?%s", strings.TrimRight(c.config.BaseURL, "/"), endpoint, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure(endpoint, "network")
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		c.recordFailure(endpoint, strconv.Itoa(resp.StatusCode))
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		c.recordFailure(endpoint, "read")
		return fmt.Errorf("read response: %w", err)
	}

	if err := xml.Unmarshal(body, out); err != nil {
		c.recordFailure(endpoint, "decode")
		return fmt.Errorf("parse XML response: %w", err)
	}

	if c.metrics != nil {
		c.metrics.RecordSourceRequest(sourceName, endpoint, time.Since(start).Seconds())
	}
	return nil
}

func (c *Client) recordFailure(endpoint, errorType string) {
	if c.metrics != nil {
		c.metrics.RecordSourceRequestFailed(sourceName, endpoint, errorType)
	}
}

// articleToPaper maps one fetched record onto the domain type.
func articleToPaper(article PubmedArticle) *domain.Paper {
	citation := article.MedlineCitation

	journal := citation.Article.Journal.Title
	if journal == "" {
		journal = citation.Article.Journal.ISOAbbreviation
	}

	pmid := citation.PMID.Value

	return &domain.Paper{
		PubMedID:        pmid,
		Title:           citation.Article.ArticleTitle,
		Abstract:        extractAbstract(citation.Article.Abstract),
		Authors:         extractAuthors(citation.Article.AuthorList),
		Journal:         journal,
		PublicationDate: extractPublicationDate(citation.Article),
		SourceURL:       ArticleURLPrefix + pmid + "/",
	}
}

// extractPublicationDate prefers the electronic ArticleDate and falls
// back to the journal issue PubDate.
func extractPublicationDate(article Article) *time.Time {
	for _, ad := range article.ArticleDate {
		if ad.DateType == "epublish" || ad.DateType == "Electronic" || ad.DateType == "" {
			if t := parseDate(ad.Year, ad.Month, ad.Day); t != nil {
				return t
			}
		}
	}

	pubDate := article.Journal.JournalIssue.PubDate

	// MedlineDate covers irregular issues, e.g. "2020 Jan-Feb" or
	// "2020-2021". Only the year is recoverable.
	if pubDate.MedlineDate != "" {
		if year := medlineDateYear(pubDate.MedlineDate); year > 0 {
			t := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
			return &t
		}
	}

	if pubDate.Year != "" {
		if t := parseDate(pubDate.Year, pubDate.Month, pubDate.Day); t != nil {
			return t
		}
	}

	return nil
}

// parseDate builds a UTC date from year, month, and day strings. A missing
// month or day defaults to January or the 1st; a missing year is fatal.
func parseDate(year, month, day string) *time.Time {
	y, err := strconv.Atoi(year)
	if err != nil || year == "" {
		return nil
	}

	d := 1
	if parsed, err := strconv.Atoi(day); err == nil && day != "" {
		d = parsed
	}

	t := time.Date(y, parseMonth(month), d, 0, 0, 0, 0, time.UTC)
	return &t
}

// monthNames covers both the abbreviated and spelled-out forms PubMed
// records use.
var monthNames = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

// parseMonth accepts numeric ("3") and named ("Mar", "March") months,
// defaulting to January when the value is absent or unrecognized.
func parseMonth(month string) time.Month {
	if m, err := strconv.Atoi(month); err == nil && m >= 1 && m <= 12 {
		return time.Month(m)
	}
	if m, ok := monthNames[strings.ToLower(month)]; ok {
		return m
	}
	return time.January
}

func medlineDateYear(medlineDate string) int {
	parts := strings.Fields(medlineDate)
	if len(parts) == 0 {
		return 0
	}
	year, err := strconv.Atoi(strings.Split(parts[0], "-")[0])
	if err != nil {
		return 0
	}
	return year
}

// extractAbstract flattens abstract sections into one string, keeping the
// section labels of structured abstracts.
func extractAbstract(abstract *Abstract) string {
	if abstract == nil || len(abstract.AbstractTexts) == 0 {
		return ""
	}

	if len(abstract.AbstractTexts) == 1 && abstract.AbstractTexts[0].Label == "" {
		return strings.TrimSpace(abstract.AbstractTexts[0].Value)
	}

	var parts []string
	for _, at := range abstract.AbstractTexts {
		text := strings.TrimSpace(at.Value)
		if text == "" {
			continue
		}
		if at.Label != "" {
			parts = append(parts, at.Label+": "+text)
		} else {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " ")
}

// extractAuthors maps the author list to domain authors, skipping entries
// NCBI marks invalid and those with no usable name.
func extractAuthors(authorList *AuthorList) []domain.Author {
	if authorList == nil || len(authorList.Authors) == 0 {
		return nil
	}

	authors := make([]domain.Author, 0, len(authorList.Authors))
	for _, a := range authorList.Authors {
		if a.ValidYN == "N" {
			continue
		}

		name := a.CollectiveName
		if name == "" {
			nameParts := make([]string, 0, 2)
			if a.ForeName != "" {
				nameParts = append(nameParts, a.ForeName)
			}
			if a.LastName != "" {
				nameParts = append(nameParts, a.LastName)
			}
			name = strings.Join(nameParts, " ")
		}
		if name == "" {
			continue
		}

		var affiliation string
		if len(a.AffiliationInfo) > 0 {
			affiliation = a.AffiliationInfo[0].Affiliation
		}

		authors = append(authors, domain.Author{
			Name:        name,
			Affiliation: affiliation,
		})
	}

	return authors
}
