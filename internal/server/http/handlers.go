package httpserver

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/ruminex/molecule-discovery-service/internal/domain"
)

const (
	defaultPageSize    = 50
	maxPageSize        = 100
	minQueryLength     = 3
	maxQueryLength     = 10000
	maxRequestBodySize = 1 << 20 // request bodies over 1 MB are rejected
)

// writeDomainError translates a domain error into an HTTP status and a
// stable client-facing message. Internal detail never reaches the client;
// only validation messages are echoed, since those describe the caller's
// own input.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrActiveRunExists):
		writeError(w, http.StatusConflict, "a research run is already queued or processing")
	case errors.Is(err, domain.ErrRunNotRetryable):
		writeError(w, http.StatusConflict, "only failed runs can be retried")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	case errors.Is(err, domain.ErrCancelled):
		writeError(w, http.StatusConflict, "operation cancelled")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID validates a path parameter as a UUID, answering 400 on failure.
// The parse error itself is dropped so malformed input is never echoed back.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams reads page_size and page_token from the query
// string. Page size is clamped to maxPageSize; anything unparseable falls
// back to the defaults rather than erroring.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	return limit, decodePageToken(r.URL.Query().Get("page_token"))
}

// decodePageToken recovers the offset from an opaque page token. Invalid
// tokens read as offset zero.
func decodePageToken(token string) int {
	if token == "" {
		return 0
	}
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return 0
	}
	offset, err := strconv.Atoi(string(decoded))
	if err != nil || offset <= 0 {
		return 0
	}
	return offset
}

// encodePageToken produces the token for the next page, or "" when the
// current page exhausts the result set.
func encodePageToken(offset, limit, totalCount int) string {
	nextOffset := offset + limit
	if nextOffset >= totalCount {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
}
