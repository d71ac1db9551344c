package models

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 error body, served as application/problem+json.
// TraceID mirrors the X-Request-Id response header.
type Problem struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	TraceID  string       `json:"traceId"`
	Code     string       `json:"code,omitempty"`
	Errors   []FieldError `json:"errors,omitempty"`
}

// FieldError points at one rejected query or body field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

const problemBase = "https://firewatch.dev/problems/"

// Problem type URIs.
const (
	ProblemTypeValidation      = problemBase + "validation-error"
	ProblemTypeUnauthorized    = problemBase + "unauthorized"
	ProblemTypeForbidden       = problemBase + "forbidden"
	ProblemTypeNotFound        = problemBase + "not-found"
	ProblemTypeConflict        = problemBase + "conflict"
	ProblemTypeTooManyRequests = problemBase + "too-many-requests"
	ProblemTypeInternal        = problemBase + "internal-error"
	ProblemTypeUnavailable     = problemBase + "service-unavailable"
	ProblemTypeTLSRequired     = problemBase + "tls-required"
)

var problemTitles = map[string]string{
	ProblemTypeValidation:      "Validation error",
	ProblemTypeUnauthorized:    "Unauthorized",
	ProblemTypeForbidden:       "Forbidden",
	ProblemTypeNotFound:        "Not found",
	ProblemTypeConflict:        "Conflict",
	ProblemTypeTooManyRequests: "Too many requests",
	ProblemTypeInternal:        "Internal server error",
	ProblemTypeUnavailable:     "Service unavailable",
	ProblemTypeTLSRequired:     "TLS required",
}

// NewProblem builds a Problem. An empty title falls back to the registered
// title for problemType.
func NewProblem(problemType, title string, status int, traceID string) *Problem {
	if title == "" {
		title = problemTitles[problemType]
	}
	return &Problem{Type: problemType, Title: title, Status: status, TraceID: traceID}
}

func (p *Problem) WithDetail(detail string) *Problem {
	p.Detail = detail
	return p
}

func (p *Problem) WithInstance(instance string) *Problem {
	p.Instance = instance
	return p
}

func (p *Problem) WithErrors(errors []FieldError) *Problem {
	p.Errors = errors
	return p
}

// WithCode attaches a machine-readable sync error code such as NETWORK_ERROR.
func (p *Problem) WithCode(code string) *Problem {
	p.Code = code
	return p
}

// Write sends the problem with its status code.
func (p *Problem) Write(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "application/problem+json")
	h.Set("X-Request-Id", p.TraceID)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	return NewProblem(ProblemTypeValidation, "", http.StatusBadRequest, traceID).
		WithDetail(detail).
		WithErrors(errors)
}

func NewUnauthorized(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeUnauthorized, "", http.StatusUnauthorized, traceID).WithDetail(detail)
}

func NewForbidden(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeForbidden, "", http.StatusForbidden, traceID).WithDetail(detail)
}

func NewNotFound(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeNotFound, "", http.StatusNotFound, traceID).WithDetail(detail)
}

// NewConflict is returned when a refetch is requested while a cycle runs.
func NewConflict(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeConflict, "", http.StatusConflict, traceID).WithDetail(detail)
}

func NewTooManyRequests(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeTooManyRequests, "", http.StatusTooManyRequests, traceID).WithDetail(detail)
}

func NewInternalError(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeInternal, "", http.StatusInternalServerError, traceID).WithDetail(detail)
}

// NewServiceUnavailable reports that no fire-risk data can be served yet.
func NewServiceUnavailable(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeUnavailable, "", http.StatusServiceUnavailable, traceID).WithDetail(detail)
}
