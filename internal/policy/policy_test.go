package policy

import (
	"strings"
	"testing"

	"github.com/gyre-dev/gyre/internal/action"
)

func toolCall(tool string, args map[string]any) action.Proposed {
	return action.ToolCall("id1", tool, args)
}

func TestRules_DeniedTool(t *testing.T) {
	g := Rules{DeniedTools: []string{"shell_exec"}}

	d := g.Evaluate("agent-1", toolCall("shell_exec", nil), Snapshot{})
	if d.Verdict != Deny {
		t.Fatalf("verdict = %v, want Deny", d.Verdict)
	}
	if !strings.Contains(d.Reason, "shell_exec") {
		t.Errorf("reason should name the tool: %q", d.Reason)
	}

	d = g.Evaluate("agent-1", toolCall("lookup", nil), Snapshot{})
	if d.Verdict != Allow {
		t.Errorf("verdict for permitted tool = %v, want Allow", d.Verdict)
	}
}

func TestRules_FinalAnswerAlwaysPasses(t *testing.T) {
	g := Rules{DeniedTools: []string{"lookup"}, MaxArgumentBytes: 1}

	d := g.Evaluate("agent-1", action.FinalAnswer("id1", "done"), Snapshot{})
	if d.Verdict != Allow {
		t.Errorf("final answer verdict = %v, want Allow", d.Verdict)
	}
}

func TestRules_RedactsArguments(t *testing.T) {
	g := Rules{RedactArguments: []string{"password"}}

	d := g.Evaluate("agent-1", toolCall("login", map[string]any{
		"user":     "nina",
		"password": "hunter2",
	}), Snapshot{})

	if d.Verdict != Modify {
		t.Fatalf("verdict = %v, want Modify", d.Verdict)
	}
	if d.Replacement == nil {
		t.Fatal("modify decision missing replacement")
	}
	if got := d.Replacement.Arguments["password"]; got != "[redacted]" {
		t.Errorf("password = %v, want [redacted]", got)
	}
	if got := d.Replacement.Arguments["user"]; got != "nina" {
		t.Errorf("unrelated argument changed: %v", got)
	}
}

func TestRules_MaxArgumentBytes(t *testing.T) {
	g := Rules{MaxArgumentBytes: 10}

	d := g.Evaluate("agent-1", toolCall("lookup", map[string]any{
		"query": strings.Repeat("x", 100),
	}), Snapshot{})
	if d.Verdict != Deny {
		t.Errorf("oversized arguments verdict = %v, want Deny", d.Verdict)
	}
}

func TestChain_FirstDenyWins(t *testing.T) {
	denyAll := GateFunc(func(string, action.Proposed, Snapshot) Decision {
		return Denied("no")
	})
	called := false
	recorder := GateFunc(func(string, action.Proposed, Snapshot) Decision {
		called = true
		return Allowed()
	})

	d := Chain{AllowAll, denyAll, recorder}.Evaluate("a", toolCall("lookup", nil), Snapshot{})
	if d.Verdict != Deny {
		t.Fatalf("verdict = %v, want Deny", d.Verdict)
	}
	if called {
		t.Error("gate after deny was evaluated")
	}
}

func TestChain_ModifyFlowsThroughLaterGates(t *testing.T) {
	redact := Rules{RedactArguments: []string{"token"}}
	var seen map[string]any
	inspect := GateFunc(func(_ string, a action.Proposed, _ Snapshot) Decision {
		seen = a.Arguments
		return Allowed()
	})

	d := Chain{redact, inspect}.Evaluate("a", toolCall("fetch", map[string]any{"token": "secret"}), Snapshot{})

	if d.Verdict != Modify {
		t.Fatalf("verdict = %v, want Modify", d.Verdict)
	}
	if seen["token"] != "[redacted]" {
		t.Errorf("later gate saw unredacted action: %v", seen)
	}
}

func TestCELGate_AllowAndDeny(t *testing.T) {
	g, err := NewCELGate([]CELRule{
		{Name: "no-late-writes", Expression: `!(tool == "store" && iteration > 3)`},
	})
	if err != nil {
		t.Fatal(err)
	}

	d := g.Evaluate("a", toolCall("store", nil), Snapshot{Iteration: 2})
	if d.Verdict != Allow {
		t.Errorf("iteration 2 verdict = %v, want Allow", d.Verdict)
	}

	d = g.Evaluate("a", toolCall("store", nil), Snapshot{Iteration: 5})
	if d.Verdict != Deny {
		t.Fatalf("iteration 5 verdict = %v, want Deny", d.Verdict)
	}
	if !strings.Contains(d.Reason, "no-late-writes") {
		t.Errorf("reason should name the rule: %q", d.Reason)
	}
}

func TestCELGate_ArgsAndFailures(t *testing.T) {
	g, err := NewCELGate([]CELRule{
		{Name: "failing-tools-cool-off", Expression: `!(tool in failures && failures[tool] >= 2)`},
		{Name: "no-root-paths", Expression: `!("path" in args) || !string(args["path"]).startsWith("/etc")`},
	})
	if err != nil {
		t.Fatal(err)
	}

	d := g.Evaluate("a", toolCall("lookup", nil), Snapshot{Failures: map[string]int{"lookup": 3}})
	if d.Verdict != Deny {
		t.Errorf("failing tool verdict = %v, want Deny", d.Verdict)
	}

	d = g.Evaluate("a", toolCall("read_file", map[string]any{"path": "/etc/passwd"}), Snapshot{})
	if d.Verdict != Deny {
		t.Errorf("root path verdict = %v, want Deny", d.Verdict)
	}

	d = g.Evaluate("a", toolCall("read_file", map[string]any{"path": "/tmp/ok"}), Snapshot{})
	if d.Verdict != Allow {
		t.Errorf("safe path verdict = %v, want Allow", d.Verdict)
	}
}

func TestCELGate_CompileErrorSurfacesAtConstruction(t *testing.T) {
	_, err := NewCELGate([]CELRule{{Name: "broken", Expression: `tool ==`}})
	if err == nil {
		t.Fatal("expected compile error")
	}
	_, err = NewCELGate([]CELRule{{Name: "not-bool", Expression: `tool`}})
	if err == nil {
		t.Fatal("expected non-boolean output error")
	}
}

func TestCELGate_FinalAnswerSkipsRules(t *testing.T) {
	g, err := NewCELGate([]CELRule{{Name: "deny-everything", Expression: `false`}})
	if err != nil {
		t.Fatal(err)
	}
	d := g.Evaluate("a", action.FinalAnswer("id", "done"), Snapshot{})
	if d.Verdict != Allow {
		t.Errorf("final answer verdict = %v, want Allow", d.Verdict)
	}
}
