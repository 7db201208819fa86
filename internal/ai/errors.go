package ai

import (
	"errors"
	"fmt"
	"net/http"
)

// previewLimit bounds how much upstream text an error may carry.
const previewLimit = 240

// Preview truncates s for inclusion in errors and logs.
func Preview(s string) string {
	if len(s) <= previewLimit {
		return s
	}
	return s[:previewLimit] + "..."
}

// UpstreamError is a failed call to the generative service.
type UpstreamError struct {
	Status     int    // HTTP status, 0 for transport failures
	Model      string
	Message    string // bounded upstream detail
	RetryAfter int    // seconds, from the Retry-After header on 429
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("generative service: model=%s: %s", e.Model, e.Message)
	}
	return fmt.Sprintf("generative service: status=%d model=%s: %s", e.Status, e.Model, e.Message)
}

// Transient reports whether the failure is worth retrying on the same
// model: rate limiting, server errors, or transport failures.
func (e *UpstreamError) Transient() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Rejected reports whether the request or model was refused outright,
// which triggers the model-fallback path instead of a same-model retry.
func (e *UpstreamError) Rejected() bool {
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// RetriesExhaustedError wraps the last upstream failure after the
// attempt budget ran out.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("generation failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

// AsUpstream extracts the upstream failure from an error chain, if any.
func AsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
