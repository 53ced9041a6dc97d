package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/gyre-dev/gyre/internal/action"
)

// CELRule is one named boolean expression. The expression sees the
// variables tool, args, agent_id, iteration, total_tokens, and
// failures; it must evaluate to true for the action to pass.
type CELRule struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
}

// CELGate evaluates tool calls against compiled CEL expressions.
// Expressions are compiled once at construction; evaluation is pure,
// satisfying the gate determinism requirement. Final answers pass
// without evaluation.
type CELGate struct {
	rules []compiledRule
}

type compiledRule struct {
	name string
	prg  cel.Program
}

// NewCELGate compiles the given rules. A rule that fails to compile is
// a construction error, not a runtime deny.
func NewCELGate(rules []CELRule) (*CELGate, error) {
	env, err := cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("agent_id", cel.StringType),
		cel.Variable("iteration", cel.IntType),
		cel.Variable("total_tokens", cel.IntType),
		cel.Variable("failures", cel.MapType(cel.StringType, cel.IntType)),
	)
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}

	g := &CELGate{}
	for _, r := range rules {
		ast, iss := env.Compile(r.Expression)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, iss.Err())
		}
		if ast.OutputType().String() != cel.BoolType.String() {
			return nil, fmt.Errorf("rule %q: expression must return bool, got %s", r.Name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		g.rules = append(g.rules, compiledRule{name: r.Name, prg: prg})
	}
	return g, nil
}

// Evaluate implements Gate.
func (g *CELGate) Evaluate(agentID string, a action.Proposed, snap Snapshot) Decision {
	if a.Kind != action.KindToolCall {
		return Allowed()
	}

	args := a.Arguments
	if args == nil {
		args = map[string]any{}
	}
	failures := snap.Failures
	if failures == nil {
		failures = map[string]int{}
	}
	input := map[string]any{
		"tool":         a.Tool,
		"args":         args,
		"agent_id":     agentID,
		"iteration":    snap.Iteration,
		"total_tokens": snap.TotalTokens,
		"failures":     failures,
	}

	for _, r := range g.rules {
		out, _, err := r.prg.Eval(input)
		if err != nil {
			// An action the rule cannot evaluate is refused, not passed.
			return Denied(fmt.Sprintf("rule %q could not evaluate action: %v", r.name, err))
		}
		ok, isBool := out.Value().(bool)
		if !isBool {
			return Denied(fmt.Sprintf("rule %q returned a non-boolean result", r.name))
		}
		if !ok {
			return Denied(fmt.Sprintf("rule %q rejected tool %q", r.name, a.Tool))
		}
	}
	return Allowed()
}
