package api

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/minex/haulsync/internal/domain"
)

// Error is a failed HTTP response from the trip API. It carries the status
// code so callers can distinguish business conflicts (409), absences (404),
// and server failures (5xx) without string matching.
type Error struct {
	StatusCode int

	// Message is the human-readable error from the response body, when the
	// server sent one.
	Message string

	// TripToken is the conflicting trip's token on a 409 trip-start
	// rejection (later protocol revisions include it; "" otherwise).
	TripToken string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api: status %d", e.StatusCode)
}

// Unwrap maps well-known statuses onto the domain sentinels so callers can
// use errors.Is(err, domain.ErrConflict) and friends.
func (e *Error) Unwrap() error {
	switch e.StatusCode {
	case 401:
		return domain.ErrUnauthorized
	case 404:
		return domain.ErrNotFound
	case 409:
		return domain.ErrConflict
	}
	return nil
}

// StatusOf returns the HTTP status carried by err, or 0 when err is not an
// API response error (e.g. a transport failure).
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// isTransient reports whether err is expected to resolve on retry:
// a timeout, connection reset/abort, DNS failure, or an HTTP 502/503/504.
// Everything else (4xx, business errors, marshaling bugs) is permanent.
func isTransient(err error) bool {
	switch StatusOf(err) {
	case 502, 503, 504:
		return true
	case 0:
		// Not an HTTP response — fall through to transport classification.
	default:
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED)
}
