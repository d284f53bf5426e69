package httpserver

import (
	"time"

	"github.com/ruminex/molecule-discovery-service/internal/domain"
	"github.com/ruminex/molecule-discovery-service/internal/rag"
	"github.com/ruminex/molecule-discovery-service/internal/repository"
)

// Response types for JSON serialization.

type runResponse struct {
	RunID        string     `json:"run_id"`
	Query        string     `json:"query"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type listRunsResponse struct {
	Runs          []runResponse `json:"runs"`
	NextPageToken string        `json:"next_page_token,omitempty"`
	TotalCount    int           `json:"total_count"`
}

type moleculeResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalized_name"`
	CASNumber      string    `json:"cas_number,omitempty"`
	SMILES         string    `json:"smiles,omitempty"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type scoredMoleculeResponse struct {
	moleculeResponse
	RelevanceScore float64 `json:"relevance_score"`
}

type listMoleculesResponse struct {
	Molecules     []moleculeResponse `json:"molecules"`
	NextPageToken string             `json:"next_page_token,omitempty"`
	TotalCount    int                `json:"total_count"`
}

type runMoleculesResponse struct {
	Molecules []scoredMoleculeResponse `json:"molecules"`
}

type summaryResponse struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	PubMedID  string    `json:"pubmed_id"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	SourceURL string    `json:"source_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type listSummariesResponse struct {
	Summaries     []summaryResponse `json:"summaries"`
	NextPageToken string            `json:"next_page_token,omitempty"`
	TotalCount    int               `json:"total_count"`
}

type paperLinkResponse struct {
	PaperSummaryID string `json:"paper_summary_id"`
	ContextExcerpt string `json:"context_excerpt,omitempty"`
}

type moleculePapersResponse struct {
	Papers []paperLinkResponse `json:"papers"`
}

type chatResponse struct {
	Message string               `json:"message"`
	Sources []chatSourceResponse `json:"sources"`
}

type chatSourceResponse struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Title   string `json:"title"`
	Excerpt string `json:"excerpt,omitempty"`
}

// Converter functions

func domainRunToResponse(r *domain.ResearchRun) runResponse {
	return runResponse{
		RunID:        r.ID.String(),
		Query:        r.Query,
		Status:       string(r.Status),
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		CompletedAt:  r.CompletedAt,
	}
}

func domainMoleculeToResponse(m *domain.Molecule) moleculeResponse {
	return moleculeResponse{
		ID:             m.ID.String(),
		Name:           m.Name,
		NormalizedName: m.NormalizedName,
		CASNumber:      m.CASNumber,
		SMILES:         m.SMILES,
		Description:    m.Description,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func scoredMoleculeToResponse(sm *repository.ScoredMolecule) scoredMoleculeResponse {
	return scoredMoleculeResponse{
		moleculeResponse: domainMoleculeToResponse(sm.Molecule),
		RelevanceScore:   sm.RelevanceScore,
	}
}

func domainSummaryToResponse(s *domain.PaperSummary) summaryResponse {
	return summaryResponse{
		ID:        s.ID.String(),
		RunID:     s.ResearchRunID.String(),
		PubMedID:  s.PubMedID,
		Title:     s.Title,
		Summary:   s.Summary,
		SourceURL: s.SourceURL,
		CreatedAt: s.CreatedAt,
	}
}

func chatAnswerToResponse(a *rag.ChatAnswer) chatResponse {
	sources := make([]chatSourceResponse, len(a.Sources))
	for i, src := range a.Sources {
		sources[i] = chatSourceResponse{
			Type:    src.Type,
			ID:      src.ID.String(),
			Title:   src.Title,
			Excerpt: src.Excerpt,
		}
	}
	return chatResponse{
		Message: a.Message,
		Sources: sources,
	}
}
