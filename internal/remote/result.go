// Package remote holds the outcome type shared by the best-effort remote targets.
// Remote clients never return Go errors to their callers; they return a Result.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Kind classifies why a remote call did not succeed.
type Kind string

const (
	KindNone       Kind = ""
	KindDisabled   Kind = "disabled"   // target not configured or not connected
	KindTimeout    Kind = "timeout"    // deadline expired
	KindConnection Kind = "connection" // dial/transport failure
	KindHTTPError  Kind = "http-error" // non-2xx status
	KindRejected   Kind = "rejected"   // target answered but refused the record
	KindUnexpected Kind = "unexpected" // anything else, including panics
)

// Result is the structured outcome of one remote call.
type Result struct {
	Success    bool   `json:"success"`
	Skipped    bool   `json:"skipped,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	Message    string `json:"message,omitempty"`
	Kind       Kind   `json:"kind,omitempty"`
	Error      string `json:"error,omitempty"`
}

// OK builds a successful result.
func OK(documentID, message string) Result {
	return Result{Success: true, DocumentID: documentID, Message: message}
}

// Skip builds a result for a target that is not available in this process.
func Skip(message string) Result {
	return Result{Skipped: true, Kind: KindDisabled, Message: message}
}

// Fail builds a failed result of the given kind.
func Fail(kind Kind, format string, args ...any) Result {
	return Result{Kind: kind, Error: fmt.Sprintf(format, args...)}
}

// Synced reports whether the result confirms the record reached the target.
func (r Result) Synced() bool {
	return r.Success && r.DocumentID != ""
}

// Classify maps a transport error to a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindConnection
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindConnection
	}
	return KindUnexpected
}

// Recovered converts a recovered panic value into a failed result.
func Recovered(v any) Result {
	return Fail(KindUnexpected, "panic: %v", v)
}
