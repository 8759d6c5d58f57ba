// Package resilience provides error classification, in-process retry
// with backoff, per-service circuit breakers, and the persisted retry
// planner shared by every queue consumer.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
	"time"
)

// TransientError wraps an error that is safe to retry (e.g., 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// AuthError marks a credential rejection (HTTP 401/403). It is never
// retried and fails the owning unit and its parent job.
type AuthError struct {
	Err        error
	StatusCode int
}

func (e *AuthError) Error() string {
	return e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError wraps an error as a terminal credential failure.
func NewAuthError(err error, statusCode int) *AuthError {
	return &AuthError{Err: err, StatusCode: statusCode}
}

// IsAuth returns true if the error chain contains an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// RateLimitError marks an HTTP 429, optionally carrying the server's
// retry hint. It is transient; the hint overrides computed backoff.
type RateLimitError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return e.Err.Error()
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// NewRateLimitError wraps an error as a rate limit with a retry hint
// (zero when the server sent none).
func NewRateLimitError(err error, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Err: err, RetryAfter: retryAfter}
}

// RetryAfterHint extracts a positive server retry hint from the error
// chain, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > 0 {
		return rle.RetryAfter, true
	}
	return 0, false
}

// ValidationError marks malformed input. The owning unit is recorded as
// processed without effect and never retried.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError wraps an error as a validation failure.
func NewValidationError(err error) *ValidationError {
	return &ValidationError{Err: err}
}

// IsValidation returns true if the error chain contains a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError or RateLimitError, or if it matches common transient
// patterns (network timeouts, connection resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsInfra returns true for infrastructure-level failures that deserve a
// longer backoff: connection-pool exhaustion, dial failures, 503s, and
// an open circuit.
func IsInfra(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) {
		return true
	}

	var te *TransientError
	if errors.As(err, &te) && te.StatusCode == 503 {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	infraPatterns := []string{
		"pool exhausted",
		"too many clients already",
		"too many connections",
		"conn busy",
		"dial tcp",
		"connection refused",
		"the database system is starting up",
	}
	for _, p := range infraPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
