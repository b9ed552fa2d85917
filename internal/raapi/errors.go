package raapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies a failed gateway call. The diff engine branches on the
// kind instead of inspecting raw errors from the HTTP layer.
type ErrorKind int

const (
	// KindTransient covers network blips and 5xx responses; retried.
	KindTransient ErrorKind = iota
	// KindRateLimited means the upstream returned 429; retried after backoff.
	KindRateLimited
	// KindNotFound means the entity/subject does not exist upstream; never retried.
	KindNotFound
	// KindPermanent covers auth failures, malformed responses and other
	// non-recoverable conditions; never retried.
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	default:
		return "permanent"
	}
}

// Retryable reports whether a call failing with this kind may be re-attempted.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient || k == KindRateLimited
}

// Error is the typed failure returned by the gateway.
type Error struct {
	Kind     ErrorKind
	Endpoint string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("raapi: %s: %s (http %d): %v", e.Endpoint, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("raapi: %s: %s: %v", e.Endpoint, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNotFound lets callers use errors.Is without digging out the kind.
var ErrNotFound = errors.New("raapi: not found")

func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Kind == KindNotFound
}

// KindOf extracts the classification from err, defaulting to permanent for
// anything the gateway did not produce.
func KindOf(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindPermanent
}

// classifyStatus maps an HTTP response status to an error kind.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

// classifyErr maps a transport-level error to an error kind.
func classifyErr(err error) ErrorKind {
	if err == nil {
		return KindPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return KindTransient
	}
	return KindPermanent
}
