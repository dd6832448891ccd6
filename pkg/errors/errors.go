// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed error handling with rich context for Stagehand.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ErrorCode classifies Stagehand errors for reporting and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeValidation indicates a source document failed normalization.
	// Validation errors are local and are never sent over the wire.
	CodeValidation ErrorCode = "VALIDATION_ERROR"

	// CodeAPI indicates a non-2xx or transport failure from the studio API.
	CodeAPI ErrorCode = "API_ERROR"

	// CodeTimeout indicates an HTTP call exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeRateLimit indicates the remote API rejected the call with 429.
	CodeRateLimit ErrorCode = "RATE_LIMITED"

	// CodeDiscovery indicates a structural defect found while walking an
	// output tree (ambiguous manager file, missing workflow).
	CodeDiscovery ErrorCode = "DISCOVERY_ERROR"

	// CodeRetryExhausted indicates a transient failure survived every
	// configured retry attempt.
	CodeRetryExhausted ErrorCode = "RETRY_EXHAUSTED"

	// CodeNotFound indicates a remote entity was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeUnauthorized indicates the supplied credential was rejected.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
)

// StagehandError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type StagehandError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
	StatusCode  int // HTTP status, where one exists
}

// Error implements the error interface.
func (e *StagehandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *StagehandError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *StagehandError) MarshalJSON() ([]byte, error) {
	type Alias StagehandError
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new StagehandError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *StagehandError {
	return &StagehandError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		StatusCode: codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *StagehandError) WithContext(key string, value interface{}) *StagehandError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *StagehandError) WithRecoverable(recoverable bool) *StagehandError {
	e.Recoverable = recoverable
	return e
}

// WithStatusCode sets the HTTP status carried by the error.
func (e *StagehandError) WithStatusCode(status int) *StagehandError {
	e.StatusCode = status
	return e
}

// AsStagehandError attempts to convert an error to a StagehandError.
// Returns the error as StagehandError if it is one, or wraps it otherwise.
func AsStagehandError(err error) *StagehandError {
	if err == nil {
		return nil
	}
	if se, ok := err.(*StagehandError); ok {
		return se
	}
	return New(CodeInternal, "wrapped error", err)
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeUnauthorized:
		return 401
	case CodeValidation:
		return 400
	case CodeTimeout:
		return 408
	case CodeRateLimit:
		return 429
	default:
		return 500
	}
}

// FieldError is a single defect found while normalizing a source document.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (f FieldError) String() string {
	return f.Field + ": " + f.Reason
}

// ValidationError aggregates every defect found in one document.
// Normalization is exhaustive, not fail-fast: a single pass surfaces the
// complete defect list.
type ValidationError struct {
	Doc    string
	Fields []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.String())
	}
	if e.Doc != "" {
		return fmt.Sprintf("[%s] %s: %s", CodeValidation, e.Doc, strings.Join(msgs, "; "))
	}
	return fmt.Sprintf("[%s] %s", CodeValidation, strings.Join(msgs, "; "))
}

// Add records a defect. Returns the error for method chaining.
func (e *ValidationError) Add(field, reason string) *ValidationError {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
	return e
}

// HasDefects reports whether any defect was recorded.
func (e *ValidationError) HasDefects() bool {
	return len(e.Fields) > 0
}
