package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ruminex/molecule-discovery-service/internal/rag"
)

// maxChatHistory bounds how many prior messages a request may carry.
const maxChatHistory = 50

// chatRequest is the JSON request body for POST /chat.
type chatRequest struct {
	Message string            `json:"message"`
	History []rag.ChatMessage `json:"history,omitempty"`
}

// chat handles POST /chat: the question is answered from stored paper
// summaries and molecules via vector similarity retrieval.
func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	if s.chatService == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not available")
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if len(req.Message) > maxQueryLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("message must be at most %d characters", maxQueryLength))
		return
	}
	if len(req.History) > maxChatHistory {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("history must have at most %d messages", maxChatHistory))
		return
	}
	for _, msg := range req.History {
		if msg.Role != rag.RoleUser && msg.Role != rag.RoleAssistant {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown history role: %s", msg.Role))
			return
		}
	}

	answer, err := s.chatService.Chat(r.Context(), req.Message, req.History)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatAnswerToResponse(answer))
}
