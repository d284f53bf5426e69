// Package embedding generates dense text embeddings through an external
// PubMedBERT inference endpoint. Embedding failures are soft: callers
// get nil vectors and carry on, since every downstream feature works
// without vectors, just without similarity search.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruminex/molecule-discovery-service/internal/httpx"
)

// Dimension is the embedding vector size produced by PubMedBERT.
const Dimension = 768

const (
	defaultTimeout   = 60 * time.Second
	defaultRateLimit = 10 // requests per second
	sourceName       = "embedding"
)

// Embedder generates embedding vectors for texts. A nil vector in the
// result means that text could not be embedded.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) [][]float32
	EmbedText(ctx context.Context, text string) []float32
}

// Compile-time check that Client implements Embedder.
var _ Embedder = (*Client)(nil)

// Config holds the embedding endpoint settings.
type Config struct {
	// EndpointURL is the inference endpoint. Empty disables embedding;
	// all calls return nil vectors.
	EndpointURL string

	// AuthToken is sent as a bearer token when set.
	AuthToken string

	// Timeout is the per-request timeout. Batch inference on a cold
	// endpoint can take tens of seconds.
	Timeout time.Duration
}

// Client calls the embedding endpoint. Safe for concurrent use.
type Client struct {
	config Config
	http   *httpx.Client
	logger zerolog.Logger
}

// New creates an embedding client.
func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		config: cfg,
		http: httpx.NewClient(httpx.ClientConfig{
			Timeout:    cfg.Timeout,
			RateLimit:  defaultRateLimit,
			BurstSize:  2,
			MaxRetries: 2,
			RetryDelay: time.Second,
		}),
		logger: logger.With().Str("component", "embedding_client").Logger(),
	}
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool {
	return c.config.EndpointURL != ""
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedTexts generates embeddings for a batch of texts. The result
// always has one entry per input text; entries are nil when the
// endpoint is disabled, the request failed, or the returned vector has
// the wrong dimension.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) [][]float32 {
	if len(texts) == 0 {
		return nil
	}

	vectors := make([][]float32, len(texts))
	if !c.Enabled() {
		return vectors
	}

	resp, err := c.post(ctx, texts)
	if err != nil {
		c.logger.Warn().Err(err).Int("texts", len(texts)).Msg("embedding request failed")
		return vectors
	}

	for i := range texts {
		if i >= len(resp.Embeddings) {
			break
		}
		if len(resp.Embeddings[i]) == Dimension {
			vectors[i] = resp.Embeddings[i]
		}
	}
	return vectors
}

// EmbedText generates an embedding for a single text. Returns nil when
// the text could not be embedded.
func (c *Client) EmbedText(ctx context.Context, text string) []float32 {
	vectors := c.EmbedTexts(ctx, []string{text})
	if len(vectors) == 0 {
		return nil
	}
	return vectors[0]
}

func (c *Client) post(ctx context.Context, texts []string) (*embedResponse, error) {
	payload, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.EndpointURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.AuthToken)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// SummaryText formats a paper title and summary into the text that gets
// embedded for similarity search.
func SummaryText(title, summary string) string {
	return title + ". " + summary
}

// MoleculeText formats a molecule name and optional description into
// the text that gets embedded.
func MoleculeText(name, description string) string {
	if description == "" {
		return name
	}
	return name + ": " + description
}
