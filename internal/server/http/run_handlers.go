package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ruminex/molecule-discovery-service/internal/domain"
	"github.com/ruminex/molecule-discovery-service/internal/repository"
)

// startRunRequest is the JSON request body for starting a research run.
type startRunRequest struct {
	Query string `json:"query"`
}

// startResearchRun handles POST /research-runs. At most one run may be
// queued or processing system-wide; a second request returns 409.
func (s *Server) startResearchRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req startRunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if len(req.Query) < minQueryLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("query must be at least %d characters", minQueryLength))
		return
	}
	if len(req.Query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("query must be at most %d characters", maxQueryLength))
		return
	}

	run, err := s.runService.StartRun(ctx, req.Query)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, domainRunToResponse(run))
}

// getResearchRun handles GET /research-runs/{runID}.
func (s *Server) getResearchRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	run, err := s.runRepo.GetByID(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainRunToResponse(run))
}

// listResearchRuns handles GET /research-runs with optional status filter.
func (s *Server) listResearchRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	filter := repository.RunFilter{
		Limit:  limit,
		Offset: offset,
	}
	if statusParam := r.URL.Query().Get("status"); statusParam != "" {
		status := domain.RunStatus(statusParam)
		if !status.IsValid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status: %s", statusParam))
			return
		}
		filter.Status = []domain.RunStatus{status}
	}

	runs, totalCount, err := s.runRepo.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]runResponse, len(runs))
	for i, run := range runs {
		responses[i] = domainRunToResponse(run)
	}

	writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:          responses,
		NextPageToken: encodePageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// retryResearchRun handles POST /research-runs/{runID}/retry. Only failed
// runs can be re-queued.
func (s *Server) retryResearchRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	run, err := s.runService.RetryRun(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainRunToResponse(run))
}

// listRunMolecules handles GET /research-runs/{runID}/molecules, ordered by
// relevance score.
func (s *Server) listRunMolecules(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	// 404 for unknown runs rather than an empty list.
	if _, err := s.runRepo.GetByID(r.Context(), runID); err != nil {
		writeDomainError(w, err)
		return
	}

	molecules, err := s.molRepo.ListByRun(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]scoredMoleculeResponse, len(molecules))
	for i, sm := range molecules {
		responses[i] = scoredMoleculeToResponse(sm)
	}

	writeJSON(w, http.StatusOK, runMoleculesResponse{Molecules: responses})
}

// listRunSummaries handles GET /research-runs/{runID}/summaries.
func (s *Server) listRunSummaries(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	if _, err := s.runRepo.GetByID(r.Context(), runID); err != nil {
		writeDomainError(w, err)
		return
	}

	summaries, err := s.summaryRepo.ListByRun(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]summaryResponse, len(summaries))
	for i, summary := range summaries {
		responses[i] = domainSummaryToResponse(summary)
	}

	writeJSON(w, http.StatusOK, listSummariesResponse{
		Summaries:  responses,
		TotalCount: len(responses),
	})
}
