package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestIsTransient_ExplicitTransientError(t *testing.T) {
	err := NewTransientError(errors.New("server overloaded"), 503)
	if !IsTransient(err) {
		t.Error("expected TransientError to be transient")
	}
}

func TestIsTransient_WrappedTransientError(t *testing.T) {
	inner := NewTransientError(errors.New("bad gateway"), 502)
	wrapped := fmt.Errorf("api call failed: %w", inner)
	if !IsTransient(wrapped) {
		t.Error("expected wrapped TransientError to be transient")
	}
}

func TestIsTransient_NilError(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error should not be transient")
	}
}

func TestIsTransient_RegularError(t *testing.T) {
	err := errors.New("invalid input: missing field")
	if IsTransient(err) {
		t.Error("regular error should not be transient")
	}
}

func TestIsTransient_QuotaNeverTransient(t *testing.T) {
	qe := NewQuotaError(errors.New("429 too many requests"), "")
	if IsTransient(qe) {
		t.Error("quota error must not be transient")
	}

	// Even when a client wraps the quota error in something retryable-looking.
	wrapped := NewTransientError(qe, 429)
	if IsTransient(wrapped) {
		t.Error("quota error wrapped in TransientError must still not be transient")
	}
}

func TestIsTransient_ConnectionReset(t *testing.T) {
	err := fmt.Errorf("write tcp: %w", syscall.ECONNRESET)
	if !IsTransient(err) {
		t.Error("ECONNRESET should be transient")
	}
}

func TestIsTransient_ConnectionRefused(t *testing.T) {
	err := fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)
	if !IsTransient(err) {
		t.Error("ECONNREFUSED should be transient")
	}
}

func TestIsTransient_NetworkTimeout(t *testing.T) {
	err := &net.DNSError{IsTimeout: true, Err: "timeout"}
	if !IsTransient(err) {
		t.Error("network timeout should be transient")
	}
}

func TestIsTransient_StringPatterns(t *testing.T) {
	patterns := []string{
		"connection reset by peer",
		"broken pipe",
		"TLS handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	}
	for _, p := range patterns {
		err := errors.New(p)
		if !IsTransient(err) {
			t.Errorf("expected %q to be transient", p)
		}
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	transient := []int{408, 500, 502, 503, 504}
	for _, code := range transient {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected HTTP %d to be transient", code)
		}
	}

	// 429 is quota exhaustion, fatal by policy.
	permanent := []int{200, 201, 400, 401, 403, 404, 405, 409, 422, 429}
	for _, code := range permanent {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected HTTP %d to NOT be transient", code)
		}
	}
}

func TestIsQuota_WrappedChain(t *testing.T) {
	qe := NewQuotaError(errors.New("credits spent"), "120")
	wrapped := fmt.Errorf("search variant baseline: %w", qe)
	if !IsQuota(wrapped) {
		t.Error("expected wrapped QuotaError to be detected")
	}
	if IsQuota(errors.New("some other failure")) {
		t.Error("plain error should not be quota")
	}
}

func TestIsNotFound_WrappedChain(t *testing.T) {
	nfe := NewNotFoundError(errors.New("404"), "US11234567B2")
	wrapped := fmt.Errorf("fetch detail: %w", nfe)
	if !IsNotFound(wrapped) {
		t.Error("expected wrapped NotFoundError to be detected")
	}
	if IsNotFound(errors.New("boom")) {
		t.Error("plain error should not be not-found")
	}
}

func TestQuotaError_Message(t *testing.T) {
	qe := NewQuotaError(errors.New("429"), "3600")
	msg := qe.Error()
	if msg != `provider quota exhausted (retry-after 3600): 429` {
		t.Errorf("unexpected message: %q", msg)
	}

	bare := NewQuotaError(errors.New("429"), "")
	if bare.Error() != "provider quota exhausted: 429" {
		t.Errorf("unexpected message: %q", bare.Error())
	}
}

func TestNotFoundError_Unwrap(t *testing.T) {
	inner := errors.New("gone")
	nfe := NewNotFoundError(inner, "US1B2")
	if !errors.Is(nfe, inner) {
		t.Error("NotFoundError.Unwrap should return the inner error")
	}
	if nfe.ID != "US1B2" {
		t.Errorf("expected ID preserved, got %q", nfe.ID)
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, 500)

	if !errors.Is(te, inner) {
		t.Error("TransientError.Unwrap should return the inner error")
	}

	if te.StatusCode != 500 {
		t.Errorf("expected StatusCode 500, got %d", te.StatusCode)
	}
}

func TestTransientError_ErrorMessage(t *testing.T) {
	inner := errors.New("something went wrong")
	te := NewTransientError(inner, 503)

	if te.Error() != "something went wrong" {
		t.Errorf("expected error message %q, got %q", inner.Error(), te.Error())
	}
}
