package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ruminex/molecule-discovery-service/internal/domain"
	"github.com/ruminex/molecule-discovery-service/internal/embedding"
	"github.com/ruminex/molecule-discovery-service/internal/llm"
	"github.com/ruminex/molecule-discovery-service/internal/qdrant"
	"github.com/ruminex/molecule-discovery-service/internal/repository"
)

// Default retrieval and generation bounds.
const (
	DefaultPaperLimit    = 5
	DefaultMoleculeLimit = 5
	DefaultMaxHistory    = 10
	DefaultMaxTokens     = 1024

	// sourceExcerptLength bounds the excerpt attached to a chat source.
	sourceExcerptLength = 200
)

// Chat message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// systemPrompt grounds the chat model in the retrieved material.
const systemPrompt = `You are a scientific research assistant specializing in small molecule research and pharmaceutical compounds.

You have access to a database of scientific papers and molecule information from PubMed research. Use the provided context to answer questions accurately and cite your sources.

IMPORTANT GUIDELINES:
1. Base your answers on the provided context when available
2. If the context doesn't contain relevant information, say so clearly
3. When referencing information from papers or molecules, be specific about which source you're citing
4. Use scientific terminology appropriately but explain complex concepts when needed
5. If asked about something outside your context, acknowledge the limitation
6. Be concise but thorough in your responses

The context below contains relevant papers and molecules retrieved from the database based on the user's question.`

// Config holds the retrieval and generation parameters.
type Config struct {
	// PaperLimit is the number of paper summaries to retrieve per question.
	PaperLimit int

	// MoleculeLimit is the number of molecules to retrieve per question.
	MoleculeLimit int

	// MaxHistory caps how many prior messages are carried into the prompt.
	MaxHistory int

	// MaxTokens caps the generated answer length.
	MaxTokens int
}

// applyDefaults fills zero values with defaults.
func (c *Config) applyDefaults() {
	if c.PaperLimit <= 0 {
		c.PaperLimit = DefaultPaperLimit
	}
	if c.MoleculeLimit <= 0 {
		c.MoleculeLimit = DefaultMoleculeLimit
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = DefaultMaxHistory
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
}

// ChatMessage is a single turn in a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatSource is a citation attached to a chat answer.
type ChatSource struct {
	Type    string    `json:"type"`
	ID      uuid.UUID `json:"id"`
	Title   string    `json:"title"`
	Excerpt string    `json:"excerpt,omitempty"`
}

// ChatAnswer is a generated answer with its source citations.
type ChatAnswer struct {
	Message string       `json:"message"`
	Sources []ChatSource `json:"sources"`
}

// Service answers questions about discovered molecules using similarity
// retrieval over the vector store and a completion model.
type Service struct {
	config    Config
	embedder  embedding.Embedder
	store     qdrant.VectorStore
	completer llm.Client
	summaries repository.SummaryRepository
	molecules repository.MoleculeRepository
	logger    zerolog.Logger
}

// NewService creates a RAG service.
func NewService(
	cfg Config,
	embedder embedding.Embedder,
	store qdrant.VectorStore,
	completer llm.Client,
	summaries repository.SummaryRepository,
	molecules repository.MoleculeRepository,
	logger zerolog.Logger,
) *Service {
	cfg.applyDefaults()
	return &Service{
		config:    cfg,
		embedder:  embedder,
		store:     store,
		completer: completer,
		summaries: summaries,
		molecules: molecules,
		logger:    logger.With().Str("component", "rag_service").Logger(),
	}
}

// Retrieve embeds the question and returns the nearest paper summaries and
// molecules. Returns an empty context when the embedding service is
// unavailable or the question cannot be embedded.
func (s *Service) Retrieve(ctx context.Context, question string) (*Context, error) {
	vector := s.embedder.EmbedText(ctx, question)
	if vector == nil {
		s.logger.Debug().Msg("question embedding unavailable, returning empty context")
		return &Context{}, nil
	}

	papers, err := s.retrievePapers(ctx, vector)
	if err != nil {
		return nil, err
	}

	molecules, err := s.retrieveMolecules(ctx, vector)
	if err != nil {
		return nil, err
	}

	return &Context{Papers: papers, Molecules: molecules}, nil
}

// retrievePapers searches the summary collection and hydrates hits from the
// database. Hits whose rows have since been deleted are skipped.
func (s *Service) retrievePapers(ctx context.Context, vector []float32) ([]RetrievedPaper, error) {
	results, err := s.store.Search(ctx, qdrant.CollectionSummaries, vector, uint64(s.config.PaperLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to search paper summaries: %w", err)
	}

	papers := make([]RetrievedPaper, 0, len(results))
	for _, hit := range results {
		summary, err := s.summaries.GetByID(ctx, hit.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.logger.Debug().Str("summary_id", hit.ID.String()).Msg("skipping stale summary hit")
				continue
			}
			return nil, err
		}
		papers = append(papers, RetrievedPaper{
			ID:         summary.ID,
			Title:      summary.Title,
			Summary:    summary.Summary,
			SourceURL:  summary.SourceURL,
			Similarity: hit.Score,
		})
	}

	return papers, nil
}

// retrieveMolecules searches the molecule collection and hydrates hits from
// the database.
func (s *Service) retrieveMolecules(ctx context.Context, vector []float32) ([]RetrievedMolecule, error) {
	results, err := s.store.Search(ctx, qdrant.CollectionMolecules, vector, uint64(s.config.MoleculeLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to search molecules: %w", err)
	}

	molecules := make([]RetrievedMolecule, 0, len(results))
	for _, hit := range results {
		molecule, err := s.molecules.GetByID(ctx, hit.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.logger.Debug().Str("molecule_id", hit.ID.String()).Msg("skipping stale molecule hit")
				continue
			}
			return nil, err
		}
		molecules = append(molecules, RetrievedMolecule{
			ID:          molecule.ID,
			Name:        molecule.Name,
			Description: molecule.Description,
			Similarity:  hit.Score,
		})
	}

	return molecules, nil
}

// Chat retrieves context for the question and generates a grounded answer
// with source citations.
func (s *Service) Chat(ctx context.Context, question string, history []ChatMessage) (*ChatAnswer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, domain.NewValidationError("message", "message cannot be empty")
	}

	ragContext, err := s.Retrieve(ctx, question)
	if err != nil {
		return nil, err
	}

	resp, err := s.completer.Complete(ctx, llm.Request{
		System:    systemPrompt,
		Prompt:    s.buildPrompt(question, history, ragContext),
		MaxTokens: s.config.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate chat answer: %w", err)
	}

	s.logger.Info().
		Int("papers", len(ragContext.Papers)).
		Int("molecules", len(ragContext.Molecules)).
		Int("output_tokens", resp.OutputTokens).
		Msg("generated chat answer")

	return &ChatAnswer{
		Message: resp.Content,
		Sources: buildSources(ragContext),
	}, nil
}

// buildPrompt folds the capped conversation history, the retrieved context,
// and the question into a single user prompt.
func (s *Service) buildPrompt(question string, history []ChatMessage, ragContext *Context) string {
	var b strings.Builder

	if len(history) > s.config.MaxHistory {
		history = history[len(history)-s.config.MaxHistory:]
	}
	if len(history) > 0 {
		b.WriteString("Previous conversation:\n")
		for _, msg := range history {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "<context>\n%s\n</context>\n\n<question>\n%s\n</question>\n\n",
		ragContext.PromptContext(), question)
	b.WriteString("Please answer the question based on the provided context. Cite specific papers or molecules when relevant.")

	return b.String()
}

// buildSources converts retrieved context into source citations.
func buildSources(ragContext *Context) []ChatSource {
	sources := make([]ChatSource, 0, len(ragContext.Papers)+len(ragContext.Molecules))

	for _, paper := range ragContext.Papers {
		sources = append(sources, ChatSource{
			Type:    "paper",
			ID:      paper.ID,
			Title:   paper.Title,
			Excerpt: truncateExcerpt(paper.Summary),
		})
	}

	for _, molecule := range ragContext.Molecules {
		sources = append(sources, ChatSource{
			Type:    "molecule",
			ID:      molecule.ID,
			Title:   molecule.Name,
			Excerpt: truncateExcerpt(molecule.Description),
		})
	}

	return sources
}

// truncateExcerpt bounds an excerpt to sourceExcerptLength runes.
func truncateExcerpt(s string) string {
	runes := []rune(s)
	if len(runes) <= sourceExcerptLength {
		return s
	}
	return string(runes[:sourceExcerptLength]) + "..."
}
