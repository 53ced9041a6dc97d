package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gyre-dev/gyre/internal/action"
)

// Rules is the built-in rule gate: a denylist, argument redaction, and
// an argument size ceiling. Final answers always pass; only tool
// calls are judged.
type Rules struct {
	// DeniedTools are tool names refused outright.
	DeniedTools []string `yaml:"denied_tools"`
	// RedactArguments are argument keys whose values are replaced with
	// "[redacted]" before dispatch (a Modify decision).
	RedactArguments []string `yaml:"redact_arguments"`
	// MaxArgumentBytes denies tool calls whose serialized arguments
	// exceed this size. Zero disables the check.
	MaxArgumentBytes int `yaml:"max_argument_bytes"`
}

// Evaluate implements Gate.
func (r Rules) Evaluate(_ string, a action.Proposed, _ Snapshot) Decision {
	if a.Kind != action.KindToolCall {
		return Allowed()
	}

	for _, name := range r.DeniedTools {
		if a.Tool == name {
			return Denied(fmt.Sprintf("tool %q is not permitted for this agent", a.Tool))
		}
	}

	if r.MaxArgumentBytes > 0 {
		b, err := json.Marshal(a.Arguments)
		if err != nil {
			// Unserializable arguments cannot be evaluated; treat as deny.
			return Denied(fmt.Sprintf("arguments for %q could not be inspected: %v", a.Tool, err))
		}
		if len(b) > r.MaxArgumentBytes {
			return Denied(fmt.Sprintf("arguments for %q exceed %d bytes", a.Tool, r.MaxArgumentBytes))
		}
	}

	if redacted, hit := r.redact(a); hit {
		return Modified(redacted, fmt.Sprintf("redacted arguments: %s", strings.Join(r.RedactArguments, ", ")))
	}
	return Allowed()
}

// redact returns a copy of the action with matching argument keys
// replaced, and whether any replacement happened.
func (r Rules) redact(a action.Proposed) (action.Proposed, bool) {
	if len(r.RedactArguments) == 0 || len(a.Arguments) == 0 {
		return a, false
	}
	hit := false
	args := make(map[string]any, len(a.Arguments))
	for k, v := range a.Arguments {
		args[k] = v
		for _, target := range r.RedactArguments {
			if strings.EqualFold(k, target) {
				args[k] = "[redacted]"
				hit = true
			}
		}
	}
	if !hit {
		return a, false
	}
	out := a
	out.Arguments = args
	return out, true
}
