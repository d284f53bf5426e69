// Package pubchem looks molecule names up in the PubChem compound
// registry. Lookups resolve to one of three outcomes: the name is a
// known compound, the registry definitively does not know it, or the
// lookup was inconclusive (network trouble, throttling past the retry
// budget). Callers must treat inconclusive as "no information", never
// as "not a molecule".
package pubchem

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruminex/molecule-discovery-service/internal/httpx"
	"github.com/ruminex/molecule-discovery-service/internal/observability"
)

const (
	defaultBaseURL   = "https://pubchem.ncbi.nlm.nih.gov/rest/pug"
	defaultRateLimit = 5 // requests per second
	defaultTimeout   = 10 * time.Second
)

// Status is the three-way outcome of a registry lookup.
type Status string

const (
	StatusFound        Status = "found"
	StatusNotFound     Status = "not_found"
	StatusInconclusive Status = "inconclusive"
)

// Result is the outcome of a name lookup. CID, IUPACName and
// MolecularFormula are populated only when Status is StatusFound;
// Err only when Status is StatusInconclusive.
type Result struct {
	Status           Status
	CID              int64
	IUPACName        string
	MolecularFormula string
	Err              error
}

// Config holds the PubChem client settings.
type Config struct {
	// BaseURL overrides the PUG REST endpoint. Empty means production.
	BaseURL string
	// Timeout is the per-request timeout.
	Timeout time.Duration
	// RateLimit is the sustained requests per second against the API.
	RateLimit float64
}

// Client queries the PubChem PUG REST API with rate limiting and a
// lookup cache. Safe for concurrent use.
type Client struct {
	http    *httpx.Client
	baseURL string
	cache   Cache
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// New creates a registry client. A nil cache disables caching.
func New(cfg Config, cache Cache, logger zerolog.Logger, metrics *observability.Metrics) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = defaultRateLimit
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		http: httpx.NewClient(httpx.ClientConfig{
			Timeout:    timeout,
			RateLimit:  rateLimit,
			BurstSize:  1,
			MaxRetries: 2,
			RetryDelay: 500 * time.Millisecond,
		}),
		baseURL: strings.TrimRight(baseURL, "/"),
		cache:   cache,
		logger:  logger.With().Str("component", "pubchem_client").Logger(),
		metrics: metrics,
	}
}

// LookupName resolves a molecule name against the registry. Found and
// not-found outcomes are cached under the lowercased name; inconclusive
// outcomes are not cached so the next pass can try again.
func (c *Client) LookupName(ctx context.Context, name string) Result {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return Result{Status: StatusNotFound}
	}

	if c.cache != nil {
		if res, ok := c.cache.Get(ctx, key); ok {
			c.recordLookup("cached")
			return res
		}
	}

	res := c.lookup(ctx, name)
	c.recordLookup(string(res.Status))

	if c.cache != nil && res.Status != StatusInconclusive {
		c.cache.Set(ctx, key, res)
	}
	return res
}

func (c *Client) lookup(ctx context.Context, name string) Result {
	lookupURL := fmt.Sprintf("%s/compound/name/%s/JSON", c.baseURL, url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return Result{Status: StatusInconclusive, Err: fmt.Errorf("build request: %w", err)}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("name", name).Msg("registry lookup failed")
		return Result{Status: StatusInconclusive, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return c.parseCompound(resp.Body, name)
	case resp.StatusCode == http.StatusNotFound:
		return Result{Status: StatusNotFound}
	default:
		err := fmt.Errorf("registry returned status %d", resp.StatusCode)
		c.logger.Warn().Err(err).Str("name", name).Msg("registry lookup inconclusive")
		return Result{Status: StatusInconclusive, Err: err}
	}
}

// compoundResponse mirrors the slice of the PUG REST payload we read.
type compoundResponse struct {
	PCCompounds []struct {
		ID struct {
			ID struct {
				CID int64 `json:"cid"`
			} `json:"id"`
		} `json:"id"`
		Props []struct {
			URN struct {
				Label string `json:"label"`
				Name  string `json:"name"`
			} `json:"urn"`
			Value struct {
				SVal string `json:"sval"`
			} `json:"value"`
		} `json:"props"`
	} `json:"PC_Compounds"`
}

func (c *Client) parseCompound(body io.Reader, name string) Result {
	var payload compoundResponse
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return Result{Status: StatusInconclusive, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(payload.PCCompounds) == 0 {
		return Result{Status: StatusNotFound}
	}

	compound := payload.PCCompounds[0]
	res := Result{
		Status: StatusFound,
		CID:    compound.ID.ID.CID,
	}
	for _, prop := range compound.Props {
		switch {
		case prop.URN.Label == "IUPAC Name" && prop.URN.Name == "Preferred":
			res.IUPACName = prop.Value.SVal
		case prop.URN.Label == "Molecular Formula":
			res.MolecularFormula = prop.Value.SVal
		}
	}
	return res
}

func (c *Client) recordLookup(outcome string) {
	if c.metrics != nil {
		c.metrics.RecordRegistryLookup(outcome)
	}
}
