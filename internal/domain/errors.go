package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors matched with errors.Is across the service.
var (
	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists marks a uniqueness conflict.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput marks rejected input, including illegal run
	// status transitions.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited marks an upstream throttle response.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable marks an unreachable external dependency.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrActiveRunExists indicates that a research run is already queued or
	// processing; only one run may be active at a time.
	ErrActiveRunExists = errors.New("active research run exists")

	// ErrRunNotRetryable indicates an attempt to retry a run that did not fail.
	ErrRunNotRetryable = errors.New("run is not in a retryable state")

	// ErrNoIdentifier indicates that an article file carries no PMID.
	ErrNoIdentifier = errors.New("no identifier")

	// ErrCancelled marks work abandoned on shutdown.
	ErrCancelled = errors.New("cancelled")
)

// ValidationError rejects one named field. Unwraps to ErrInvalidInput.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError names the entity and ID that could not be found.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// AlreadyExistsError names the entity and ID behind a conflict.
type AlreadyExistsError struct {
	Entity string
	ID     string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.ID)
}

func (e *AlreadyExistsError) Unwrap() error {
	return ErrAlreadyExists
}

// RateLimitError carries the throttling source and its retry hint.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s: retry after %s", e.Source, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// ExternalAPIError wraps a failure from PubMed, PubChem, an LLM
// provider, or the embedding endpoint.
type ExternalAPIError struct {
	Source     string
	StatusCode int
	Message    string
	Cause      error
}

func (e *ExternalAPIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

func (e *ExternalAPIError) Unwrap() error {
	return e.Cause
}

// NewNotFoundError builds a NotFoundError for the entity and ID.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewAlreadyExistsError builds an AlreadyExistsError for the entity and ID.
func NewAlreadyExistsError(entity, id string) *AlreadyExistsError {
	return &AlreadyExistsError{
		Entity: entity,
		ID:     id,
	}
}

// NewValidationError builds a ValidationError for one field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewRateLimitError builds a RateLimitError with a retry hint.
func NewRateLimitError(source string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{
		Source:     source,
		RetryAfter: retryAfter,
	}
}

// NewExternalAPIError wraps an upstream failure with its status and cause.
func NewExternalAPIError(source string, statusCode int, message string, cause error) *ExternalAPIError {
	return &ExternalAPIError{
		Source:     source,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}
