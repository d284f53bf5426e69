package httpserver

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ruminex/molecule-discovery-service/internal/repository"
)

// listPaperSummaries handles GET /paper-summaries with optional run_id and
// pubmed_id filters.
func (s *Server) listPaperSummaries(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	filter := repository.SummaryFilter{
		PubMedID: strings.TrimSpace(r.URL.Query().Get("pubmed_id")),
		Limit:    limit,
		Offset:   offset,
	}
	if runIDParam := r.URL.Query().Get("run_id"); runIDParam != "" {
		runID, ok := parseUUID(w, runIDParam, "run_id")
		if !ok {
			return
		}
		filter.RunID = &runID
	}

	summaries, totalCount, err := s.summaryRepo.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]summaryResponse, len(summaries))
	for i, summary := range summaries {
		responses[i] = domainSummaryToResponse(summary)
	}

	writeJSON(w, http.StatusOK, listSummariesResponse{
		Summaries:     responses,
		NextPageToken: encodePageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// getPaperSummary handles GET /paper-summaries/{summaryID}.
func (s *Server) getPaperSummary(w http.ResponseWriter, r *http.Request) {
	summaryID, ok := parseUUID(w, chi.URLParam(r, "summaryID"), "summary_id")
	if !ok {
		return
	}

	summary, err := s.summaryRepo.GetByID(r.Context(), summaryID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainSummaryToResponse(summary))
}
