package llm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an inference failure. The loop runner retries
// Transient and RateLimited errors with backoff; InvalidResponse and
// Unauthorized terminate the run.
type ErrorKind int

const (
	// Transient covers network faults and 5xx responses.
	Transient ErrorKind = iota
	// RateLimited covers 429 responses.
	RateLimited
	// InvalidResponse covers unparseable or contract-violating replies.
	InvalidResponse
	// Unauthorized covers 401/403 responses.
	Unauthorized
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case InvalidResponse:
		return "invalid_response"
	case Unauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Error is a classified inference failure from a provider adapter.
type Error struct {
	Kind     ErrorKind
	Provider string
	Status   int // HTTP status when applicable, else 0
	Message  string
	Err      error // underlying cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s error %d: %s", e.Provider, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Provider, e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Retriable reports whether the loop runner may retry this failure.
func (e *Error) Retriable() bool {
	return e.Kind == Transient || e.Kind == RateLimited
}

// AsError extracts the classified inference error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// classifyStatus maps an HTTP status code to an ErrorKind.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return RateLimited
	case status == 401 || status == 403:
		return Unauthorized
	case status >= 500:
		return Transient
	default:
		return InvalidResponse
	}
}
