// Package errs defines the failure taxonomy shared by the queue router,
// the credential manager and the provider clients.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// AuthError means the credential is invalid or revoked. Terminal: the
// router never retries it, an operator has to re-run the bootstrap step.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("auth: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientNetworkError wraps a connectivity or timeout failure against an
// external provider. Retryable.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network error during %s: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// RateLimitError is the provider's backpressure signal. Retryable.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s: %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// ValidationError carries the full list of post-migration consistency
// problems. Terminal; nothing is auto-repaired.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed with %d problem(s): %s",
		len(e.Problems), strings.Join(e.Problems, "; "))
}

// PartialExtractionError means some worksheets failed while others were
// extracted in full. The successful part of the result is still usable.
type PartialExtractionError struct {
	Failed map[string]error
}

func (e *PartialExtractionError) Error() string {
	titles := make([]string, 0, len(e.Failed))
	for t := range e.Failed {
		titles = append(titles, t)
	}
	sort.Strings(titles)
	return fmt.Sprintf("extraction partially failed, worksheets: %s", strings.Join(titles, ", "))
}

// Retryable classifies an error for the router's retry state machine.
// Auth and validation failures are terminal; everything else, including
// errors of unknown provenance, is treated as transient and retried
// within the job's budget.
func Retryable(err error) bool {
	var ae *AuthError
	if errors.As(err, &ae) {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	return true
}
