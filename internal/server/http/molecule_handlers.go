package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ruminex/molecule-discovery-service/internal/repository"
)

// updateMoleculeRequest is the JSON request body for PATCH /molecules/{id}.
// Absent fields are left unchanged.
type updateMoleculeRequest struct {
	Name        *string `json:"name,omitempty"`
	CASNumber   *string `json:"cas_number,omitempty"`
	SMILES      *string `json:"smiles,omitempty"`
	Description *string `json:"description,omitempty"`
}

// listMolecules handles GET /molecules with search and CAS filters.
func (s *Server) listMolecules(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	filter := repository.MoleculeFilter{
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
		Limit:  limit,
		Offset: offset,
	}
	if hasCASParam := r.URL.Query().Get("has_cas"); hasCASParam != "" {
		switch hasCASParam {
		case "true":
			t := true
			filter.HasCAS = &t
		case "false":
			f := false
			filter.HasCAS = &f
		default:
			writeError(w, http.StatusBadRequest, "has_cas must be true or false")
			return
		}
	}

	molecules, totalCount, err := s.molRepo.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]moleculeResponse, len(molecules))
	for i, m := range molecules {
		responses[i] = domainMoleculeToResponse(m)
	}

	writeJSON(w, http.StatusOK, listMoleculesResponse{
		Molecules:     responses,
		NextPageToken: encodePageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// getMolecule handles GET /molecules/{moleculeID}.
func (s *Server) getMolecule(w http.ResponseWriter, r *http.Request) {
	moleculeID, ok := parseUUID(w, chi.URLParam(r, "moleculeID"), "molecule_id")
	if !ok {
		return
	}

	molecule, err := s.molRepo.GetByID(r.Context(), moleculeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainMoleculeToResponse(molecule))
}

// updateMolecule handles PATCH /molecules/{moleculeID}.
func (s *Server) updateMolecule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	moleculeID, ok := parseUUID(w, chi.URLParam(r, "moleculeID"), "molecule_id")
	if !ok {
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req updateMoleculeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.Name == nil && req.CASNumber == nil && req.SMILES == nil && req.Description == nil {
		writeError(w, http.StatusBadRequest, "at least one field must be provided")
		return
	}

	molecule, err := s.molRepo.GetByID(ctx, moleculeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "name cannot be empty")
			return
		}
		molecule.Name = name
	}
	if req.CASNumber != nil {
		molecule.CASNumber = strings.TrimSpace(*req.CASNumber)
	}
	if req.SMILES != nil {
		molecule.SMILES = strings.TrimSpace(*req.SMILES)
	}
	if req.Description != nil {
		molecule.Description = strings.TrimSpace(*req.Description)
	}

	if err := s.molRepo.Update(ctx, molecule); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainMoleculeToResponse(molecule))
}

// deleteMolecule handles DELETE /molecules/{moleculeID}. Paper and run links
// are removed with the molecule.
func (s *Server) deleteMolecule(w http.ResponseWriter, r *http.Request) {
	moleculeID, ok := parseUUID(w, chi.URLParam(r, "moleculeID"), "molecule_id")
	if !ok {
		return
	}

	if err := s.molRepo.Delete(r.Context(), moleculeID); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// listMoleculePapers handles GET /molecules/{moleculeID}/papers.
func (s *Server) listMoleculePapers(w http.ResponseWriter, r *http.Request) {
	moleculeID, ok := parseUUID(w, chi.URLParam(r, "moleculeID"), "molecule_id")
	if !ok {
		return
	}

	if _, err := s.molRepo.GetByID(r.Context(), moleculeID); err != nil {
		writeDomainError(w, err)
		return
	}

	links, err := s.molRepo.ListPapers(r.Context(), moleculeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]paperLinkResponse, len(links))
	for i, link := range links {
		responses[i] = paperLinkResponse{
			PaperSummaryID: link.PaperSummaryID.String(),
			ContextExcerpt: link.ContextExcerpt,
		}
	}

	writeJSON(w, http.StatusOK, moleculePapersResponse{Papers: responses})
}
