package models

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/evermore/evermore/internal/photo"
	"github.com/evermore/evermore/internal/resilience"
)

// Problem represents an RFC7807 error response.
// This is used for all API error responses with Content-Type: application/problem+json.
type Problem struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`

	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`

	// Status is the HTTP status code for this occurrence of the problem.
	Status int `json:"status"`

	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`

	// Instance is a URI reference that identifies the specific occurrence.
	Instance string `json:"instance,omitempty"`

	// TraceID is the request trace identifier for debugging.
	TraceID string `json:"traceId"`

	// Code is the storage error code, e.g. CIRCUIT_OPEN.
	Code string `json:"code,omitempty"`

	// Details carries code-specific context such as nextAttemptTime.
	Details map[string]any `json:"details,omitempty"`

	// Errors contains structured field validation errors.
	Errors []FieldError `json:"errors,omitempty"`
}

// FieldError represents a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ProblemType constants for standard error types.
const (
	ProblemTypeValidation      = "https://evermore.app/problems/validation-error"
	ProblemTypeUnauthorized    = "https://evermore.app/problems/unauthorized"
	ProblemTypeForbidden       = "https://evermore.app/problems/forbidden"
	ProblemTypeNotFound        = "https://evermore.app/problems/not-found"
	ProblemTypeTooLarge        = "https://evermore.app/problems/payload-too-large"
	ProblemTypeTooManyRequests = "https://evermore.app/problems/too-many-requests"
	ProblemTypeInternal        = "https://evermore.app/problems/internal-error"
	ProblemTypeUnavailable     = "https://evermore.app/problems/service-unavailable"
)

// NewProblem creates a new Problem with the given parameters.
func NewProblem(problemType, title string, status int, traceID string) *Problem {
	return &Problem{
		Type:    problemType,
		Title:   title,
		Status:  status,
		TraceID: traceID,
	}
}

// WithDetail adds a detail message to the Problem.
func (p *Problem) WithDetail(detail string) *Problem {
	p.Detail = detail
	return p
}

// WithInstance adds the request instance URI to the Problem.
func (p *Problem) WithInstance(instance string) *Problem {
	p.Instance = instance
	return p
}

// WithErrors adds field errors to the Problem.
func (p *Problem) WithErrors(errors []FieldError) *Problem {
	p.Errors = errors
	return p
}

// Write writes the Problem as JSON to the ResponseWriter.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		w.Header().Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// NewBadRequest creates a 400 Bad Request problem.
func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	p := NewProblem(ProblemTypeValidation, "Validation error", http.StatusBadRequest, traceID)
	p.Detail = detail
	p.Errors = errors
	return p
}

// NewUnauthorized creates a 401 Unauthorized problem.
func NewUnauthorized(traceID, detail string) *Problem {
	p := NewProblem(ProblemTypeUnauthorized, "Unauthorized", http.StatusUnauthorized, traceID)
	p.Detail = detail
	return p
}

// NewForbidden creates a 403 Forbidden problem.
func NewForbidden(traceID, detail string) *Problem {
	p := NewProblem(ProblemTypeForbidden, "Forbidden", http.StatusForbidden, traceID)
	p.Detail = detail
	return p
}

// NewNotFound creates a 404 Not Found problem.
func NewNotFound(traceID, detail string) *Problem {
	p := NewProblem(ProblemTypeNotFound, "Not found", http.StatusNotFound, traceID)
	p.Detail = detail
	return p
}

// NewPayloadTooLarge creates a 413 Payload Too Large problem.
func NewPayloadTooLarge(traceID, detail string) *Problem {
	p := NewProblem(ProblemTypeTooLarge, "Payload too large", http.StatusRequestEntityTooLarge, traceID)
	p.Detail = detail
	return p
}

// NewTooManyRequests creates a 429 Too Many Requests problem.
func NewTooManyRequests(traceID, detail string) *Problem {
	p := NewProblem(ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests, traceID)
	p.Detail = detail
	return p
}

// NewInternalError creates a 500 Internal Server Error problem.
func NewInternalError(traceID, detail string) *Problem {
	p := NewProblem(ProblemTypeInternal, "Internal server error", http.StatusInternalServerError, traceID)
	p.Detail = detail
	return p
}

// NewServiceUnavailable creates a 503 Service Unavailable problem.
func NewServiceUnavailable(traceID, detail string) *Problem {
	p := NewProblem(ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable, traceID)
	p.Detail = detail
	return p
}

// StatusForCode maps a storage error code to an HTTP status.
func StatusForCode(code resilience.Code) int {
	switch code {
	case resilience.CodeValidation:
		return http.StatusBadRequest
	case resilience.CodeClientNotInit,
		resilience.CodeStorage,
		resilience.CodeUpload,
		resilience.CodeCircuitOpen,
		resilience.CodeMaxRetriesExceeded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromError converts a service error into a Problem.
func FromError(traceID string, err error) *Problem {
	if errors.Is(err, photo.ErrPhotoNotFound) {
		return NewNotFound(traceID, "photo not found")
	}

	var opErr *resilience.OperationError
	if !errors.As(err, &opErr) {
		return NewInternalError(traceID, "an unexpected error occurred")
	}

	var p *Problem
	switch status := StatusForCode(opErr.Code); status {
	case http.StatusBadRequest:
		p = NewBadRequest(traceID, opErr.Message, nil)
	case http.StatusServiceUnavailable:
		p = NewServiceUnavailable(traceID, opErr.Message)
	default:
		// Internal causes stay in the logs.
		p = NewInternalError(traceID, opErr.Message)
	}

	p.Code = string(opErr.Code)
	if len(opErr.Details) > 0 {
		p.Details = make(map[string]any, len(opErr.Details))
		for k, v := range opErr.Details {
			if k == "primaryError" {
				continue
			}
			p.Details[k] = v
		}
	}
	return p
}
