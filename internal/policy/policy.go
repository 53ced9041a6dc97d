// Package policy decides whether proposed actions may proceed to
// dispatch. Gates must be deterministic and side-effect-free for a
// given input so that runs can be replayed from the journal.
package policy

import (
	"github.com/gyre-dev/gyre/internal/action"
)

// Verdict is the outcome class of one evaluation.
type Verdict int

const (
	// Allow lets the action proceed unchanged.
	Allow Verdict = iota
	// Deny refuses the action; the reason is fed back to the model.
	Deny
	// Modify substitutes a replacement action, which proceeds instead
	// of the original.
	Modify
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case Modify:
		return "modify"
	default:
		return "unknown"
	}
}

// Decision is a gate's verdict on one proposed action. Decisions are
// ephemeral: one per action per iteration, discarded after dispatch.
type Decision struct {
	Verdict Verdict
	// Reason explains a Deny or Modify; it is what the model sees.
	Reason string
	// Replacement is set for Modify and proceeds in place of the
	// original action.
	Replacement *action.Proposed
}

// Allowed constructs an Allow decision.
func Allowed() Decision { return Decision{Verdict: Allow} }

// Denied constructs a Deny decision with a reason.
func Denied(reason string) Decision { return Decision{Verdict: Deny, Reason: reason} }

// Modified constructs a Modify decision substituting a replacement.
func Modified(replacement action.Proposed, reason string) Decision {
	return Decision{Verdict: Modify, Reason: reason, Replacement: &replacement}
}

// Snapshot is the read-only slice of loop state a gate may consult.
type Snapshot struct {
	Iteration   int
	TotalTokens int
	// Failures maps tool name to its consecutive-failure count.
	Failures map[string]int
}

// Gate evaluates one proposed action. Implementations must not mutate
// the action or keep state across calls.
type Gate interface {
	Evaluate(agentID string, a action.Proposed, snap Snapshot) Decision
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(agentID string, a action.Proposed, snap Snapshot) Decision

// Evaluate implements Gate.
func (f GateFunc) Evaluate(agentID string, a action.Proposed, snap Snapshot) Decision {
	return f(agentID, a, snap)
}

// AllowAll is the no-op gate.
var AllowAll Gate = GateFunc(func(string, action.Proposed, Snapshot) Decision {
	return Allowed()
})

// Chain evaluates gates in order. The first Deny wins; Modify
// substitutes the replacement for the remaining gates; if every gate
// allows, the final (possibly modified) action proceeds.
type Chain []Gate

// Evaluate implements Gate.
func (c Chain) Evaluate(agentID string, a action.Proposed, snap Snapshot) Decision {
	current := a
	modified := false
	reason := ""
	for _, g := range c {
		d := g.Evaluate(agentID, current, snap)
		switch d.Verdict {
		case Deny:
			return d
		case Modify:
			if d.Replacement == nil {
				return Denied("gate returned modify without a replacement")
			}
			current = *d.Replacement
			modified = true
			if reason != "" {
				reason += "; "
			}
			reason += d.Reason
		}
	}
	if modified {
		return Modified(current, reason)
	}
	return Allowed()
}
