// Package tools provides the tool registry and invocation interface.
//
// This file defines sentinel error types for tool invocation.
package tools

import "fmt"

// NotFoundError is returned when an invocation targets a tool that is
// not registered. This indicates a capability mismatch, not a transient
// execution failure. Callers should surface it to the model rather than
// retrying.
type NotFoundError struct {
	Tool string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool %q is not available", e.Tool)
}
