package executor

import "fmt"

// ErrorKind classifies why a tool invocation failed.
type ErrorKind int

const (
	// KindToolTimeout means the call exceeded its per-tool deadline.
	KindToolTimeout ErrorKind = iota
	// KindToolNotFound means no tool with that name is registered.
	KindToolNotFound
	// KindBreakerOpen means the circuit breaker refused the call
	// without attempting it.
	KindBreakerOpen
	// KindInvocationFailed covers every other tool error.
	KindInvocationFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindToolTimeout:
		return "tool_timeout"
	case KindToolNotFound:
		return "tool_not_found"
	case KindBreakerOpen:
		return "breaker_open"
	case KindInvocationFailed:
		return "invocation_failed"
	default:
		return "unknown"
	}
}

// Error is a classified tool execution failure.
type Error struct {
	Kind ErrorKind
	Tool string
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindToolTimeout:
		return fmt.Sprintf("tool %q timed out", e.Tool)
	case KindToolNotFound:
		return fmt.Sprintf("tool %q is not registered", e.Tool)
	case KindBreakerOpen:
		return fmt.Sprintf("tool %q is unavailable: circuit breaker open", e.Tool)
	default:
		if e.Err != nil {
			return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
		}
		return fmt.Sprintf("tool %q failed", e.Tool)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Retriable reports whether retrying the same call could succeed.
func (e *Error) Retriable() bool {
	return e.Kind == KindToolTimeout || e.Kind == KindInvocationFailed
}
