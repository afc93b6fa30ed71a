package domain

import (
	"errors"
	"fmt"
	"time"
)

// Adapters classify every failure into one of these types before returning
// it. The worker trusts the classification: a permanent error is never
// retried, a transient one is retried up to the attempt cap.

// ValidationError: content violates a platform constraint. Permanent.
type ValidationError struct {
	Platform Platform
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid content: %s", e.Platform, e.Reason)
}

// CredentialError: missing, expired or revoked connection. Permanent until
// the user reconnects.
type CredentialError struct {
	Platform Platform
	Reason   string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("%s: credentials unusable: %s", e.Platform, e.Reason)
}

// TransientError: timeout, connection reset, DNS failure or an explicit
// rate-limit signal. Retryable.
type TransientError struct {
	Cause      error
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// PlatformError: the platform rejected the request for a non-retryable
// reason (duplicate content, deleted target, forbidden scope).
type PlatformError struct {
	Platform   Platform
	StatusCode int
	Reason     string
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("%s: platform rejected request (%d): %s", e.Platform, e.StatusCode, e.Reason)
}

// MediaTimeoutError: an asynchronous media container never reached ready
// within the bounded poll window. Permanent.
type MediaTimeoutError struct {
	Platform Platform
	Waited   time.Duration
}

func (e *MediaTimeoutError) Error() string {
	return fmt.Sprintf("%s: media processing did not finish within %s", e.Platform, e.Waited)
}

// Retryable reports whether err carries a transient classification.
func Retryable(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
