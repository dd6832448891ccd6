// SPDX-License-Identifier: Apache-2.0

package studio

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx or transport failure from the studio API. It carries
// the status and raw body so callers can diagnose which call failed without
// re-issuing it.
type APIError struct {
	Status  int
	Body    string
	Timeout bool
	Err     error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("studio api timeout: %v", e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("studio api transport failure: %v", e.Err)
	}
	return fmt.Sprintf("studio api status %d: %s", e.Status, truncateBody(e.Body))
}

// Unwrap exposes the transport cause, when there is one.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure class is expected to be retry-safe:
// timeouts, rate limiting and 5xx. Validation rejections (4xx) are not.
func (e *APIError) Transient() bool {
	if e.Timeout {
		return true
	}
	if e.Status == http.StatusTooManyRequests {
		return true
	}
	return e.Status >= 500
}

// IsTransient classifies any error for retry purposes. Only APIErrors in the
// transient class qualify; everything else fails immediately.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return false
}

func truncateBody(body string) string {
	const limit = 512
	if len(body) <= limit {
		return body
	}
	return body[:limit] + "..."
}
