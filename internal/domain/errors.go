package domain

import "errors"

// Sentinel errors for the failure taxonomy. Callers match with errors.Is.
// All of them abort the current run; there is no partial-success mode and
// no retry, the next scheduled run starts clean.
var (
	// ErrInvalidArgument marks a bad enum value or an unresolvable location.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupportedVintage marks a historical as-of request against a
	// backend that only serves the current revision.
	ErrUnsupportedVintage = errors.New("unsupported vintage")

	// ErrUpstreamUnavailable marks a remote fetch that could not be
	// completed. It is propagated, never retried.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
