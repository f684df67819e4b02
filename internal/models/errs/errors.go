package errs

import (
	"errors"
	"fmt"
)

// Common sentinel errors.
var (
	ErrNotFound           = errors.New("not found")
	ErrDataConflict       = errors.New("data conflict")
	ErrDuplicateRun       = errors.New("duplicate payment run")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrRequiredBodyParam  = errors.New("required body param")
	ErrInvalidContentType = errors.New("invalid content type")
	ErrSessionExpired     = errors.New("session expired")
)

// ErrAmbiguousOutcome marks a call whose true outcome is unknown, e.g.
// the response arrived but could not be read. The caller resolves it
// with a verification read instead of assuming failure.
var ErrAmbiguousOutcome = errors.New("ambiguous call outcome")

// HTTPStatusError carries a non-2xx response code from a backend call
// so failures can be classified without parsing error strings.
type HTTPStatusError struct {
	Operation string
	Code      int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Operation, e.Code)
}

// Type just for marshalling purpose.
// Should only be used immediately before marshalling.
type JSON struct {
	Error string `json:"error"`
}

// ValidationError reports which payment intent field failed validation.
// No network call is made and no optimistic update is applied once one
// of these is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// RequiredJSONBodyParamError lets users know which required request
// parameter is not provided.
type RequiredJSONBodyParamError struct {
	ParamName string
}

func (e *RequiredJSONBodyParamError) Error() string {
	return fmt.Sprintf("JSON body argument %q is required, but not found", e.ParamName)
}

func (e *RequiredJSONBodyParamError) Unwrap() error { return ErrRequiredBodyParam }

// InvalidAuthorizationError wraps authorization failures.
type InvalidAuthorizationError struct {
	Message string
}

func (e *InvalidAuthorizationError) Error() string {
	return fmt.Sprintf("invalid authorization data: %s", e.Message)
}
