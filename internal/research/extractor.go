// Package research orchestrates research runs: PubMed search, per-paper
// molecule extraction, verification, deduplicated persistence, embedding, and
// run lifecycle management.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruminex/molecule-discovery-service/internal/domain"
	"github.com/ruminex/molecule-discovery-service/internal/llm"
	"github.com/ruminex/molecule-discovery-service/internal/observability"
	"github.com/ruminex/molecule-discovery-service/internal/pipeline"
)

// extractMaxTokens caps a single extraction response.
const extractMaxTokens = 2000

// extractOperation labels extraction calls in LLM metrics.
const extractOperation = "extract_run"

const extractPrompt = `You are a chemistry expert identifying small-molecule candidates in scientific literature.

Analyze this paper and return:

1. **summary**: A 3-5 sentence summary of the paper's findings, focused on any compounds studied and their measured effects.

2. **molecules**: Every small molecule, compound, or chemical additive the paper reports on. For each molecule provide:
   - name: the compound name exactly as the paper uses it
   - cas_number: the CAS registry number if the paper states one, otherwise omit
   - smiles: the SMILES notation if the paper states one, otherwise omit
   - description: one sentence on the molecule's role or effect in this paper
   - relevance_score: 0.0-1.0, how central the molecule is to the paper's findings
   - context_excerpt: a short verbatim excerpt from the paper mentioning the molecule

Only include molecules the paper actually mentions. Do not invent CAS numbers or SMILES strings.

Return ONLY valid JSON:
{
  "summary": "...",
  "molecules": [
    {"name": "...", "cas_number": "...", "smiles": "...", "description": "...", "relevance_score": 0.9, "context_excerpt": "..."}
  ]
}

Title: %s

Abstract:
%s`

// Extraction is the parsed result of one per-paper extraction call.
type Extraction struct {
	Summary   string                     `json:"summary"`
	Molecules []domain.ExtractedMolecule `json:"molecules"`
}

// PaperExtractor extracts a summary and molecule candidates from a paper.
type PaperExtractor interface {
	Extract(ctx context.Context, paper *domain.Paper) (*Extraction, error)
}

// Compile-time interface verification.
var _ PaperExtractor = (*Extractor)(nil)

// Extractor implements PaperExtractor on top of a completion client.
type Extractor struct {
	client  llm.Client
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewExtractor creates an extractor.
func NewExtractor(client llm.Client, logger zerolog.Logger, metrics *observability.Metrics) *Extractor {
	return &Extractor{
		client:  client,
		logger:  logger.With().Str("component", "paper_extractor").Logger(),
		metrics: metrics,
	}
}

// Extract runs the extraction prompt against one paper and parses the JSON
// object out of the response. Molecules without a name are dropped and
// relevance scores are clamped to [0, 1].
func (e *Extractor) Extract(ctx context.Context, paper *domain.Paper) (*Extraction, error) {
	if paper == nil {
		return nil, domain.NewValidationError("paper", "paper cannot be nil")
	}
	if strings.TrimSpace(paper.Abstract) == "" {
		return nil, fmt.Errorf("paper %s has no abstract: %w", paper.PubMedID, domain.ErrInvalidInput)
	}

	start := time.Now()
	resp, err := e.client.Complete(ctx, llm.Request{
		Prompt:       fmt.Sprintf(extractPrompt, paper.Title, pipeline.Truncate(paper.Abstract)),
		MaxTokens:    extractMaxTokens,
		JSONResponse: true,
	})
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordLLMRequestFailed(extractOperation, e.client.Model(), "api_error")
		}
		return nil, fmt.Errorf("extraction call failed for %s: %w", paper.PubMedID, err)
	}
	if e.metrics != nil {
		e.metrics.RecordLLMRequest(extractOperation, resp.Model, time.Since(start).Seconds(), resp.InputTokens, resp.OutputTokens)
	}

	return parseExtraction(resp.Content, paper.PubMedID)
}

// parseExtraction pulls the first JSON object out of a model response and
// normalizes the molecule list.
func parseExtraction(content, pmid string) (*Extraction, error) {
	span, ok := pipeline.FirstJSONObject(content)
	if !ok {
		return nil, fmt.Errorf("no JSON object in extraction response for %s", pmid)
	}

	var extraction Extraction
	if err := json.Unmarshal([]byte(span), &extraction); err != nil {
		return nil, fmt.Errorf("failed to parse extraction for %s: %w", pmid, err)
	}

	molecules := extraction.Molecules[:0]
	for _, m := range extraction.Molecules {
		m.Name = domain.NormalizeWhitespace(m.Name)
		if m.Name == "" {
			continue
		}
		m.RelevanceScore = domain.ClampScore(m.RelevanceScore)
		molecules = append(molecules, m)
	}
	extraction.Molecules = molecules
	extraction.Summary = strings.TrimSpace(extraction.Summary)

	return &extraction, nil
}
