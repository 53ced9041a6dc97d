// Package llm provides the inference provider abstraction and client
// implementations. Adapters translate between the provider-neutral
// types here and each backend's wire format; the loop never sees wire
// shapes.
package llm

import (
	"log/slog"
	"time"

	"github.com/gyre-dev/gyre/internal/action"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message represents a chat message in provider-neutral form.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on tool result messages
}

// Roles used in conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall represents a tool call emitted by the model.
type ToolCall struct {
	// ID is the provider-assigned call identifier, required by some
	// backends to correlate tool results.
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatResponse is the unified response from any provider. Wire format
// conversion happens at adapter boundaries (anthropic.go, ollama.go).
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message

	// StopReason is the provider's own termination signal, recorded
	// for diagnostics; the loop decides termination from the actions.
	StopReason string

	// Token usage, provider-neutral.
	InputTokens  int
	OutputTokens int
}

// ProposedActions converts the assistant turn into the candidate
// actions the loop evaluates. Tool calls each become one action; a turn
// with no tool calls is a final answer.
func (r *ChatResponse) ProposedActions() []action.Proposed {
	if len(r.Message.ToolCalls) == 0 {
		return []action.Proposed{action.FinalAnswer("", r.Message.Content)}
	}
	out := make([]action.Proposed, 0, len(r.Message.ToolCalls))
	for _, tc := range r.Message.ToolCalls {
		out = append(out, action.ToolCall(tc.ID, tc.Name, tc.Arguments))
	}
	return out
}
