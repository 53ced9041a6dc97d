package llm

import (
	"context"

	"github.com/gyre-dev/gyre/internal/tools"
)

// Client is the interface all inference providers implement. Chat
// failures should be returned as *Error so callers can classify them;
// untyped errors are treated as fatal.
type Client interface {
	// Chat sends a completion request and returns the response.
	// Tool definitions are passed through to the backend unchanged.
	Chat(ctx context.Context, model string, messages []Message, defs []tools.Definition) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
