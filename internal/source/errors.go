package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrRateLimited means the credential exhausted its request window.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnauthorized means the credential was rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound means the requested account does not exist.
	ErrNotFound = errors.New("not found")
)

// APIError is a non-2xx response from the platform or a mirror.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Detail)
}

// Unwrap maps well-known status codes to the package sentinels so callers can
// use errors.Is.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

// Kind is the rotation-relevant class of a fetch error.
type Kind string

const (
	KindNone         Kind = "none"
	KindRateLimited  Kind = "rate_limited"
	KindUnauthorized Kind = "unauthorized"
	KindNotFound     Kind = "not_found"
	KindOther        Kind = "other"
)

// Classify interprets a fetch error. Typed errors win; message tokens cover
// transports that only surface text and are matched against the innermost
// error only, so wrapped URLs, IDs and usernames never decide the class.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindOther
	}

	lower := strings.ToLower(innermost(err).Error())
	switch {
	case containsAny(lower, rateLimitTokens):
		return KindRateLimited
	case containsAny(lower, unauthorizedTokens):
		return KindUnauthorized
	default:
		return KindOther
	}
}

var rateLimitTokens = []string{
	"too many requests",
	"rate limit",
}

var unauthorizedTokens = []string{
	"unauthorized",
	"invalid or expired token",
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

// innermost follows the single-error unwrap chain to its end.
func innermost(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
