package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// StatusError is an HTTP-shaped failure from the backend or a pre-signed
// upload target.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// ErrorClass is the retry class of a failure.
type ErrorClass int

const (
	// ClassPermanent failures are surfaced to the caller without retrying.
	ClassPermanent ErrorClass = iota
	// ClassRateLimited failures back off for a fixed, long delay.
	ClassRateLimited
	// ClassTransient failures retry with exponential backoff.
	ClassTransient
	// ClassAmbiguousTimeout marks a 503: the operation may have succeeded
	// server-side. Only sequence completion treats this as optimistic
	// success; everywhere else it is a hard failure.
	ClassAmbiguousTimeout
)

// Classify maps an error onto its retry class. Status codes follow this
// backend's conventions: 429 is rate limiting, 400 and 404 are transient,
// 503 is ambiguous. Transport-level failures without a status code count as
// transient; exhausted contexts are permanent.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassPermanent
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests:
			return ClassRateLimited
		case http.StatusServiceUnavailable:
			return ClassAmbiguousTimeout
		case http.StatusBadRequest, http.StatusNotFound:
			return ClassTransient
		default:
			return ClassPermanent
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassPermanent
	}
	return ClassTransient
}

// UnwrapResponse turns a non-success HTTP response into a StatusError,
// capturing up to 1KB of the body for diagnostics.
func UnwrapResponse(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}
