package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/gyre-dev/gyre/internal/tools"
)

// ScriptedTurn configures one model turn in a scripted sequence.
type ScriptedTurn struct {
	Message      Message
	InputTokens  int
	OutputTokens int
	Err          error
}

// Scripted is a deterministic Client for tests: it replays a fixed
// sequence of turns and fails when the script is exhausted.
type Scripted struct {
	mu    sync.Mutex
	index int
	turns []ScriptedTurn

	// Requests records every Chat call's messages for assertions.
	Requests [][]Message
}

// NewScripted creates a scripted client from the given turns.
func NewScripted(turns ...ScriptedTurn) *Scripted {
	cloned := make([]ScriptedTurn, len(turns))
	copy(cloned, turns)
	return &Scripted{turns: cloned}
}

var _ Client = (*Scripted)(nil)

// Chat replays the next scripted turn.
func (s *Scripted) Chat(_ context.Context, model string, messages []Message, _ []tools.Definition) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]Message, len(messages))
	copy(snapshot, messages)
	s.Requests = append(s.Requests, snapshot)

	if s.index >= len(s.turns) {
		return nil, &Error{Kind: InvalidResponse, Provider: "scripted",
			Message: fmt.Sprintf("script exhausted at turn %d", s.index+1)}
	}
	turn := s.turns[s.index]
	s.index++

	if turn.Err != nil {
		return nil, turn.Err
	}
	msg := turn.Message
	if msg.Role == "" {
		msg.Role = RoleAssistant
	}
	return &ChatResponse{
		Model:        model,
		Message:      msg,
		InputTokens:  turn.InputTokens,
		OutputTokens: turn.OutputTokens,
	}, nil
}

// Ping always succeeds.
func (s *Scripted) Ping(context.Context) error { return nil }

// Calls returns how many Chat calls have been made.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}

// AnswerTurn is a convenience constructor for a plain final answer.
func AnswerTurn(text string, in, out int) ScriptedTurn {
	return ScriptedTurn{
		Message:      Message{Role: RoleAssistant, Content: text},
		InputTokens:  in,
		OutputTokens: out,
	}
}

// ToolCallTurn is a convenience constructor for a single tool call.
func ToolCallTurn(id, name string, args map[string]any, in, out int) ScriptedTurn {
	return ScriptedTurn{
		Message: Message{
			Role:      RoleAssistant,
			ToolCalls: []ToolCall{{ID: id, Name: name, Arguments: args}},
		},
		InputTokens:  in,
		OutputTokens: out,
	}
}
