package weather

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrLocationNotFound is returned when the upstream reports no match for a query.
	ErrLocationNotFound = errors.New("location not found")
	// ErrUpstreamUnavailable covers network failures, timeouts and non-2xx vendor responses.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrMissingCredentials is returned when a vendor API key is not configured.
	ErrMissingCredentials = errors.New("missing upstream credentials")
	// ErrMalformedPayload is returned when a vendor responds with an unexpected shape.
	ErrMalformedPayload = errors.New("malformed upstream payload")
	// ErrNotSupported is returned when the configured vendor lacks an operation.
	ErrNotSupported = errors.New("operation not supported by weather provider")
)

// Failure reason codes reported per item by bulk fetches.
const (
	ReasonLocationNotFound    = "LOCATION_NOT_FOUND"
	ReasonUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ReasonMissingCredentials  = "MISSING_CREDENTIALS"
	ReasonMalformedPayload    = "MALFORMED_UPSTREAM_PAYLOAD"
	ReasonNotSupported        = "NOT_SUPPORTED"
)

// Reason maps an error to its failure code. Unclassified errors count as upstream failures.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrLocationNotFound):
		return ReasonLocationNotFound
	case errors.Is(err, ErrMissingCredentials):
		return ReasonMissingCredentials
	case errors.Is(err, ErrMalformedPayload):
		return ReasonMalformedPayload
	case errors.Is(err, ErrNotSupported):
		return ReasonNotSupported
	default:
		return ReasonUpstreamUnavailable
	}
}

// classify guarantees that every error leaving the service belongs to the taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrLocationNotFound),
		errors.Is(err, ErrUpstreamUnavailable),
		errors.Is(err, ErrMissingCredentials),
		errors.Is(err, ErrMalformedPayload),
		errors.Is(err, ErrNotSupported):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: timed out: %v", ErrUpstreamUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
}
