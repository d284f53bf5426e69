package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruminex/molecule-discovery-service/internal/llm"
	"github.com/ruminex/molecule-discovery-service/internal/observability"
)

// Stage names used in logs and metrics labels.
const (
	StageClean     = "clean"
	StageSummarize = "summarize"
	StageMolecules = "molecules"
	StageTopics    = "topics"
)

const (
	// maxStageInputChars caps the article text sent to the model. Longer
	// inputs are cut and marked so the model knows the tail is missing.
	maxStageInputChars = 300000
	truncationMarker   = "\n\n[Article truncated]"
)

// Per-stage response budgets. Cleaning returns the whole article back, so
// it gets the largest budget; topics are a short JSON object.
const (
	cleanMaxTokens     = 8192
	summarizeMaxTokens = 4096
	moleculesMaxTokens = 4096
	topicsMaxTokens    = 2048
)

const cleanPrompt = `You are a scientific text cleaning assistant. Clean and format this scientific article text.

Remove:
- XML artifacts and encoding issues
- Excessive whitespace and formatting issues
- References to figures/tables that aren't present (e.g., "Figure 1", "Table 2")
- Copyright notices and publication metadata
- Author information blocks

Keep:
- All scientific content
- Chemical names and formulas
- Experimental methods and results
- All measurements and data

Return the cleaned text in a clear, readable format with proper paragraphs. Keep all technical and scientific content intact.

Article text:
`

const summarizePrompt = `You are a scientific writer specializing in rumen fermentation and methane reduction research.

Write a comprehensive 1-2 page summary of this scientific article. Your summary should include:

1. **Background & Context**: What problem does this research address?
2. **Research Objectives**: What were the specific goals or hypotheses?
3. **Methods**: What experimental approach was used? (animals, treatments, measurements)
4. **Key Findings**: What were the main results and observations?
5. **Mechanisms**: How do the authors explain the observed effects?
6. **Significance**: Why are these findings important for the field?
7. **Limitations & Future Directions**: Any caveats or suggested next steps?

Write in clear, technical prose suitable for researchers in the field. Focus on scientific accuracy and completeness.

Article text:
%s

PMID: %s

Write your comprehensive summary below:`

const moleculesPrompt = `You are a chemistry expert specializing in identifying chemical compounds in scientific literature.

Your task: Extract EVERY chemical compound, molecule, substrate, additive, or metabolite mentioned in this article.

Include:
- **Chemical names**: nitrate, fumarate, 3-nitrooxypropanol (3-NOP), bromochloromethane, etc.
- **Compound classes**: fatty acids, tannins, saponins, flavonoids, terpenes, quinones, etc.
- **Feed ingredients**: corn silage, alfalfa hay, soybean meal, rice straw, wheat straw, etc.
- **Metabolites**: propionate, butyrate, acetate, lactate, succinate, etc.
- **Gases**: methane, carbon dioxide, hydrogen, hydrogen sulfide, etc.
- **Enzymes**: cellulase, xylanase, lipase, protease, etc.
- **Minerals**: calcium, phosphorus, magnesium, sodium, potassium, etc.
- **Vitamins**: vitamin A, vitamin E, etc.
- **Acids**: acetic acid, propionic acid, butyric acid, lactic acid, etc.
- **Specific compounds**: monensin, lasalocid, etc.

Be EXTREMELY thorough - this is critical data. Scan the entire article carefully.

Return ONLY a JSON array of molecules:
["molecule1", "molecule2", "molecule3", ...]

Article text:
`

const topicsPrompt = `You are a research librarian specializing in animal science and rumen microbiology.

Analyze this article and extract:

1. **topics**: 5-8 SHORT topic tags (1-3 words each) that categorize this research
   - Use hyphens for multi-word topics (e.g., "methane-reduction", "in-vitro-fermentation")
   - Focus on: experimental approach, compounds tested, outcomes measured, animal species
   - Examples: "methane-inhibition", "rumen-fermentation", "dairy-cattle", "feed-additives"

2. **keywords**: 10-15 specific scientific keywords or key phrases
   - Use exact terminology from the article
   - Include: methods, measurements, statistical approaches, specific outcomes
   - Examples: "volatile fatty acids", "dry matter digestibility", "gas chromatography"

Return ONLY valid JSON:
{
  "pmid": "%s",
  "topics": ["topic-1", "topic-2", ...],
  "keywords": ["keyword1", "keyword2", ...]
}

Article text:
%s`

// Stages runs the four per-article analysis prompts. Every method degrades
// to a sentinel value on failure instead of returning an error: a single
// failed stage must not sink the whole article, and the record format has
// a natural empty value for each field.
type Stages struct {
	client  llm.Client
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewStages creates the stage executors on top of a (rate-limited) client.
func NewStages(client llm.Client, logger zerolog.Logger, metrics *observability.Metrics) *Stages {
	return &Stages{
		client:  client,
		logger:  logger.With().Str("component", "pipeline_stages").Logger(),
		metrics: metrics,
	}
}

// Truncate caps text at the stage input budget, appending a marker when
// anything was cut.
func Truncate(text string) string {
	if len(text) <= maxStageInputChars {
		return text
	}
	return text[:maxStageInputChars] + truncationMarker
}

// Summarize writes the long-form structured summary. Sentinel: "".
func (s *Stages) Summarize(ctx context.Context, text, pmid string) string {
	prompt := fmt.Sprintf(summarizePrompt, Truncate(text), pmid)
	content, err := s.complete(ctx, StageSummarize, prompt, summarizeMaxTokens)
	if err != nil {
		s.stageFailed(ctx, StageSummarize, pmid, err)
		return ""
	}
	return content
}

// Clean rewrites the raw extracted text into readable prose. Sentinel: the
// input text unchanged.
func (s *Stages) Clean(ctx context.Context, text string) string {
	truncated := Truncate(text)
	content, err := s.complete(ctx, StageClean, cleanPrompt+truncated, cleanMaxTokens)
	if err != nil {
		s.stageFailed(ctx, StageClean, observability.PMIDFromContext(ctx), err)
		return truncated
	}
	return content
}

// ExtractMolecules pulls the molecule list out of the article. Sentinel:
// empty slice, also used when the response carries no parseable JSON array.
func (s *Stages) ExtractMolecules(ctx context.Context, text string) []string {
	prompt := moleculesPrompt + Truncate(text)
	content, err := s.complete(ctx, StageMolecules, prompt, moleculesMaxTokens)
	if err != nil {
		s.stageFailed(ctx, StageMolecules, observability.PMIDFromContext(ctx), err)
		return []string{}
	}

	span, ok := FirstJSONArray(content)
	if !ok {
		s.logger.Warn().
			Str("stage", StageMolecules).
			Str("pmid", observability.PMIDFromContext(ctx)).
			Msg("no JSON array in stage response")
		return []string{}
	}
	var molecules []string
	if err := json.Unmarshal([]byte(span), &molecules); err != nil {
		return []string{}
	}
	return molecules
}

// TopicsResult is the parsed stage four payload.
type TopicsResult struct {
	PMID     string   `json:"pmid"`
	Topics   []string `json:"topics"`
	Keywords []string `json:"keywords"`
}

// ExtractTopics pulls topic tags and keywords. Sentinel: both lists empty.
func (s *Stages) ExtractTopics(ctx context.Context, text, pmid string) TopicsResult {
	empty := TopicsResult{PMID: pmid, Topics: []string{}, Keywords: []string{}}

	prompt := fmt.Sprintf(topicsPrompt, pmid, Truncate(text))
	content, err := s.complete(ctx, StageTopics, prompt, topicsMaxTokens)
	if err != nil {
		s.stageFailed(ctx, StageTopics, pmid, err)
		return empty
	}

	span, ok := FirstJSONObject(content)
	if !ok {
		s.logger.Warn().
			Str("stage", StageTopics).
			Str("pmid", pmid).
			Msg("no JSON object in stage response")
		return empty
	}
	var result TopicsResult
	if err := json.Unmarshal([]byte(span), &result); err != nil {
		return empty
	}
	if result.Topics == nil {
		result.Topics = []string{}
	}
	if result.Keywords == nil {
		result.Keywords = []string{}
	}
	if result.PMID == "" {
		result.PMID = pmid
	}
	return result
}

func (s *Stages) complete(ctx context.Context, stage, prompt string, maxTokens int) (string, error) {
	start := time.Now()
	resp, err := s.client.Complete(ctx, llm.Request{
		Prompt:    prompt,
		MaxTokens: maxTokens,
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordLLMRequestFailed(stage, s.client.Model(), classifyLLMError(err))
		}
		return "", err
	}
	if s.metrics != nil {
		s.metrics.RecordLLMRequest(stage, resp.Model, time.Since(start).Seconds(), resp.InputTokens, resp.OutputTokens)
	}
	return resp.Content, nil
}

func (s *Stages) stageFailed(ctx context.Context, stage, pmid string, err error) {
	if s.metrics != nil {
		s.metrics.RecordStageFailure(stage)
	}
	s.logger.Warn().
		Err(err).
		Str("stage", stage).
		Str("pmid", pmid).
		Msg("stage degraded to sentinel value")
}

func classifyLLMError(err error) string {
	apiErr, ok := llm.AsAPIError(err)
	if !ok {
		return "unknown"
	}
	switch {
	case apiErr.StatusCode == 0:
		return "network"
	case apiErr.IsThrottled():
		return "rate_limit"
	case apiErr.StatusCode >= 500:
		return "server_error"
	default:
		return "api_error"
	}
}
