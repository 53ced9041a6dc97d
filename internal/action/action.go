// Package action defines the candidate actions a model proposes each
// iteration and the observations produced by executing (or refusing)
// them. These are the values that flow between the reasoning, policy,
// and dispatch stages; they are leaf types with no dependencies on the
// packages that process them.
package action

import (
	"fmt"
	"time"
)

// Kind identifies what a proposed action asks the runtime to do.
type Kind int

const (
	// KindToolCall requests execution of a named tool with arguments.
	KindToolCall Kind = iota
	// KindFinalAnswer ends the run with the model's answer text.
	KindFinalAnswer
)

func (k Kind) String() string {
	switch k {
	case KindToolCall:
		return "tool_call"
	case KindFinalAnswer:
		return "final_answer"
	default:
		return "unknown"
	}
}

// Proposed is a single candidate action emitted by the model. It lives
// for exactly one iteration: produced by the provider, judged by the
// policy gate, and either dispatched or converted into a synthetic
// observation. It is never retained across iterations.
type Proposed struct {
	// ID is the provider-assigned identifier, used to correlate the
	// resulting observation back to this action in the conversation.
	ID string `json:"id"`
	// Kind selects between the tool-call and final-answer variants.
	Kind Kind `json:"kind"`
	// Tool and Arguments are set for KindToolCall.
	Tool      string         `json:"tool,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	// Answer is set for KindFinalAnswer.
	Answer string `json:"answer,omitempty"`
}

// ToolCall constructs a tool-call action.
func ToolCall(id, tool string, args map[string]any) Proposed {
	return Proposed{ID: id, Kind: KindToolCall, Tool: tool, Arguments: args}
}

// FinalAnswer constructs a terminal answer action.
func FinalAnswer(id, text string) Proposed {
	return Proposed{ID: id, Kind: KindFinalAnswer, Answer: text}
}

// Observation is the result of one action, fed back into the
// conversation as a tool message before the next iteration. A policy
// denial or an open circuit breaker produces a synthetic observation:
// one that carries the refusal reason without the tool ever running.
type Observation struct {
	// ActionID correlates this observation to the action that caused it.
	ActionID string `json:"action_id"`
	// Tool is the tool name the action targeted (empty for answers).
	Tool string `json:"tool,omitempty"`
	// Payload holds the tool output on success.
	Payload string `json:"payload,omitempty"`
	// Err is non-empty when the action failed; it is the text shown to
	// the model so it can self-correct.
	Err string `json:"error,omitempty"`
	// Retriable reports whether the failure is worth retrying. Always
	// false for successes and synthetic observations.
	Retriable bool `json:"retriable,omitempty"`
	// Synthetic marks observations produced without invoking the tool
	// (policy denial, breaker short-circuit, escalation notice).
	Synthetic bool `json:"synthetic,omitempty"`
	// Duration is wall-clock execution time (zero for synthetic).
	Duration time.Duration `json:"duration_ms,omitempty"`
}

// OK reports whether the action succeeded.
func (o Observation) OK() bool { return o.Err == "" }

// Content renders the observation as conversation text for the model.
func (o Observation) Content() string {
	if o.OK() {
		return o.Payload
	}
	return fmt.Sprintf("Error: %s", o.Err)
}

// Success builds a successful observation for an executed action.
func Success(a Proposed, payload string, d time.Duration) Observation {
	return Observation{ActionID: a.ID, Tool: a.Tool, Payload: payload, Duration: d}
}

// Failure builds a failed observation for an executed action.
func Failure(a Proposed, err error, retriable bool, d time.Duration) Observation {
	return Observation{ActionID: a.ID, Tool: a.Tool, Err: err.Error(), Retriable: retriable, Duration: d}
}

// Denied builds the synthetic observation for a policy-refused action.
// The reason is what the model sees next iteration, so it should say
// why the action was refused, not merely that it was.
func Denied(a Proposed, reason string) Observation {
	return Observation{
		ActionID:  a.ID,
		Tool:      a.Tool,
		Err:       fmt.Sprintf("action denied by policy: %s", reason),
		Synthetic: true,
	}
}
