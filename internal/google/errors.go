package google

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"formsync/internal/errs"

	"google.golang.org/api/googleapi"
)

// WrapError converts a raw Google API failure into the shared taxonomy so
// the queue router can classify it without knowing about googleapi.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &errs.AuthError{Reason: "provider rejected credential", Err: err}
		case http.StatusTooManyRequests:
			return &errs.RateLimitError{RetryAfter: retryAfter(gerr), Err: err}
		}
		if gerr.Code >= 500 {
			return &errs.TransientNetworkError{Op: op, Err: err}
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &errs.TransientNetworkError{Op: op, Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return &errs.TransientNetworkError{Op: op, Err: err}
	}
	return err
}

// IsNotFound reports a provider 404, used by the calendar engine to fall
// back from update to create when an event was deleted externally.
func IsNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

func retryAfter(gerr *googleapi.Error) time.Duration {
	if gerr.Header == nil {
		return 0
	}
	if v := gerr.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
