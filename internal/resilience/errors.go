// Package resilience provides the error taxonomy and retry policy for
// external provider calls.
package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (5xx, network timeout).
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

// QuotaError signals provider credit exhaustion (HTTP 429). It is fatal:
// never retried, and the orchestrator finalizes the run as CREDIT_EXHAUSTED.
type QuotaError struct {
	Err        error
	RetryAfter string
}

func (e *QuotaError) Error() string {
	if e.RetryAfter != "" {
		return fmt.Sprintf("provider quota exhausted (retry-after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("provider quota exhausted: %v", e.Err)
}

func (e *QuotaError) Unwrap() error {
	return e.Err
}

// NewQuotaError wraps an error as a fatal quota exhaustion.
func NewQuotaError(err error, retryAfter string) *QuotaError {
	return &QuotaError{Err: err, RetryAfter: retryAfter}
}

// NotFoundError marks a record-level miss (HTTP 404). Non-fatal to the run:
// the affected record or variant is marked failed and execution continues.
type NotFoundError struct {
	Err error
	ID  string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("not found %q: %v", e.ID, e.Err)
	}
	return e.Err.Error()
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// NewNotFoundError wraps an error as a record-level miss.
func NewNotFoundError(err error, id string) *NotFoundError {
	return &NotFoundError{Err: err, ID: id}
}

// IsQuota returns true if the error chain contains a QuotaError.
func IsQuota(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe)
}

// IsNotFound returns true if the error chain contains a NotFoundError.
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient network patterns.
// Quota errors are never transient, regardless of what wraps them.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Quota exhaustion is terminal even when a client wrapped it in
	// something that looks retryable.
	if IsQuota(err) {
		return false
	}

	// Check for explicit TransientError in chain.
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	// Check for network-level transient errors.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Connection reset / refused / DNS.
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

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry. 429 is deliberately
// absent: quota exhaustion is fatal, not retryable.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
