package firerisk

import (
	"errors"
	"strconv"
)

// Error codes surfaced on APIError.Code.
const (
	CodeNetworkError    = "NETWORK_ERROR"
	CodeInvalidResponse = "INVALID_RESPONSE"
	CodeNoValidRisks    = "NO_VALID_RISKS"
	CodeNoValidData     = "NO_VALID_DATA"
)

// Sentinel errors for errors.Is matching against an *APIError.
var (
	ErrNetwork         = errors.New("network error")
	ErrHTTPStatus      = errors.New("unexpected http status")
	ErrInvalidResponse = errors.New("invalid response")
	ErrNoValidRisks    = errors.New("no valid risk values")
	ErrNoValidData     = errors.New("no valid data")
)

// APIError is the normalized failure of a fetch or validation step.
// Code is the stringified HTTP status for non-2xx responses, or one of the
// Code* constants.
type APIError struct {
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel that corresponds to the error code.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Code == CodeNetworkError
	case ErrInvalidResponse:
		return e.Code == CodeInvalidResponse
	case ErrNoValidRisks:
		return e.Code == CodeNoValidRisks
	case ErrNoValidData:
		return e.Code == CodeNoValidData
	case ErrHTTPStatus:
		return e.StatusCode() != 0
	}
	return false
}

// StatusCode returns the HTTP status carried by the code, or 0 when the error
// is not an HTTP status failure.
func (e *APIError) StatusCode() int {
	status, err := strconv.Atoi(e.Code)
	if err != nil {
		return 0
	}
	return status
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(err error) *APIError {
	return &APIError{
		Code:    CodeNetworkError,
		Message: "could not reach the fire-risk service",
		Details: map[string]any{"cause": err.Error()},
		Err:     err,
	}
}

// NewHTTPError builds the error for a non-2xx response.
func NewHTTPError(status int, body string) *APIError {
	details := map[string]any{"status": status}
	if body != "" {
		details["body"] = body
	}
	return &APIError{
		Code:    strconv.Itoa(status),
		Message: "fire-risk service returned status " + strconv.Itoa(status),
		Details: details,
	}
}

// NewInvalidResponse builds the error for a malformed top-level payload.
func NewInvalidResponse(message string, err error) *APIError {
	e := &APIError{
		Code:    CodeInvalidResponse,
		Message: message,
		Err:     err,
	}
	if err != nil {
		e.Details = map[string]any{"cause": err.Error()}
	}
	return e
}

// AsAPIError returns err as an *APIError, wrapping unknown errors as network errors.
func AsAPIError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewNetworkError(err)
}
