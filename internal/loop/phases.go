// Package loop drives the agent reasoning cycle: Reasoning produces
// proposed actions, PolicyCheck gates them, ToolDispatching executes
// the approved ones, and Observing merges the results back into the
// conversation before looping or terminating.
//
// Each phase is its own type exposing exactly one transition method,
// and phase values can only be obtained from the preceding phase's
// transition. The cycle therefore cannot be reordered or skipped
// without a compile error, which is what guarantees no action reaches
// the executor unexamined.
package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gyre-dev/gyre/internal/action"
	"github.com/gyre-dev/gyre/internal/breaker"
	"github.com/gyre-dev/gyre/internal/conversation"
	"github.com/gyre-dev/gyre/internal/executor"
	"github.com/gyre-dev/gyre/internal/journal"
	"github.com/gyre-dev/gyre/internal/knowledge"
	"github.com/gyre-dev/gyre/internal/llm"
	"github.com/gyre-dev/gyre/internal/policy"
	"github.com/gyre-dev/gyre/internal/tools"

	"golang.org/x/time/rate"
	"log/slog"
)

const (
	maxInferenceRetries  = 3
	inferenceBackoffBase = 500 * time.Millisecond
	rateLimitBackoffBase = 2 * time.Second
	inferenceBackoffCap  = 8 * time.Second
)

// run is the state one phase machine instance threads through its
// phases. Mutated only between phase transitions, never concurrently.
type run struct {
	id      string
	agentID string
	cfg     Config

	conv      *conversation.Log
	client    llm.Client
	gate      policy.Gate
	exec      *executor.Executor
	breakers  *breaker.Registry
	bridge    *knowledge.Bridge
	defs      []tools.Definition
	estimator conversation.Estimator
	strategy  conversation.Strategy
	limiter   *rate.Limiter
	journal   *journal.Writer
	logger    *slog.Logger

	iteration int
	usage     Usage
	startedAt time.Time
	nowFunc   func() time.Time

	// finalAnswer is set by PolicyCheck when an approved action ends
	// the run; Observing turns it into the terminal result.
	finalAnswer *string

	sleepFunc func(context.Context, time.Duration)
}

// Reasoning is the phase that asks the provider for the next actions.
type Reasoning struct{ r *run }

// PolicyCheck is the phase that gates every proposed action.
type PolicyCheck struct {
	r        *run
	proposed []action.Proposed
}

// ToolDispatching is the phase that executes approved actions. It can
// only be reached through CheckPolicy, so every action it carries has
// been gated.
type ToolDispatching struct {
	r         *run
	approved  []action.Proposed
	synthetic []action.Observation
}

// Observing is the phase that merges observations back into the
// conversation and decides whether to loop.
type Observing struct {
	r            *run
	observations []action.Observation
}

// start records the run opening and hands back the first phase.
func (r *run) start() Reasoning {
	r.startedAt = r.nowFunc()
	r.journal.Record(0, journal.KindRunStart, map[string]any{
		"model":          r.cfg.Model,
		"max_iterations": r.cfg.MaxIterations,
	})
	return Reasoning{r: r}
}

// terminal closes the journal trace and builds the final result.
func (r *run) terminal(reason Reason, output string, err error) *Result {
	data := map[string]any{
		"reason":       string(reason),
		"iterations":   r.iteration,
		"total_tokens": r.usage.Total(),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	r.journal.Record(r.iteration, journal.KindRunEnd, data)
	r.logger.Info("run finished",
		"reason", string(reason), "iterations", r.iteration, "total_tokens", r.usage.Total())
	return &Result{
		RunID:      r.id,
		Output:     output,
		Iterations: r.iteration,
		Usage:      r.usage,
		Reason:     reason,
		Err:        err,
	}
}

// timedOut reports whether the wall-clock budget is spent, whether
// observed through the run context's deadline or the injected clock.
func (r *run) timedOut(ctx context.Context) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	return r.nowFunc().Sub(r.startedAt) >= r.cfg.Timeout
}

// checkLimits applies the budget checks owed at the top of each
// Reasoning entry. Returns a terminal result when a limit is hit.
func (r *run) checkLimits(ctx context.Context) *Result {
	if r.timedOut(ctx) {
		return r.terminal(ReasonTimeout, "", nil)
	}
	// A context that died without its deadline is a caller abort, not
	// a spent time budget.
	if err := ctx.Err(); err != nil {
		return r.terminal(ReasonError, "", err)
	}
	if r.usage.Total() >= r.cfg.MaxTotalTokens {
		return r.terminal(ReasonMaxTokens, "", nil)
	}
	if r.iteration >= r.cfg.MaxIterations {
		return r.terminal(ReasonMaxIterations, "", nil)
	}
	return nil
}

// ProduceOutput runs one inference call and advances to PolicyCheck.
// A non-nil Result means the run terminated instead (budget reached or
// a terminal inference failure).
func (p Reasoning) ProduceOutput(ctx context.Context) (PolicyCheck, *Result) {
	r := p.r
	if res := r.checkLimits(ctx); res != nil {
		return PolicyCheck{}, res
	}
	r.iteration++
	r.journal.Record(r.iteration, journal.KindReasoning, nil)

	// Inject before enforcing so recalled knowledge counts against the
	// budget of the request it rides in.
	r.bridge.Inject(ctx, r.conv)
	if r.cfg.ContextBudget > 0 {
		r.conv.EnforceBudget(r.strategy, r.cfg.ContextBudget, r.estimator)
	}

	resp, err := r.infer(ctx)
	if err != nil {
		if r.timedOut(ctx) {
			return PolicyCheck{}, r.terminal(ReasonTimeout, "", nil)
		}
		return PolicyCheck{}, r.terminal(ReasonError, "", err)
	}

	in, out := resp.InputTokens, resp.OutputTokens
	if in == 0 && out == 0 {
		in = r.conv.EstimatedTokens(r.estimator)
		out = r.estimator.Tokens(resp.Message)
	}
	r.usage.InputTokens += in
	r.usage.OutputTokens += out
	r.journal.Record(r.iteration, journal.KindUsage, map[string]any{
		"input_tokens": in, "output_tokens": out,
	})

	if err := r.conv.Push(resp.Message); err != nil {
		return PolicyCheck{}, r.terminal(ReasonError, "", fmt.Errorf("push assistant message: %w", err))
	}

	proposed := resp.ProposedActions()
	for _, a := range proposed {
		r.journal.Record(r.iteration, journal.KindActionProposed, map[string]any{
			"action_id": a.ID, "kind": a.Kind.String(), "tool": a.Tool,
		})
	}
	return PolicyCheck{r: r, proposed: proposed}, nil
}

// infer calls the provider, retrying transient and rate-limit errors
// with capped exponential backoff.
func (r *run) infer(ctx context.Context) (*llm.ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= maxInferenceRetries; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := r.client.Chat(ctx, r.cfg.Model, r.conv.Messages(), r.defs)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		infErr, ok := llm.AsError(err)
		if !ok || !infErr.Retriable() || attempt == maxInferenceRetries {
			return nil, err
		}
		backoff := inferenceBackoffBase
		if infErr.Kind == llm.RateLimited {
			backoff = rateLimitBackoffBase
		}
		backoff <<= attempt
		if backoff > inferenceBackoffCap {
			backoff = inferenceBackoffCap
		}
		r.logger.Warn("inference failed, retrying",
			"kind", infErr.Kind.String(), "attempt", attempt+1, "backoff", backoff)
		r.sleepFunc(ctx, backoff)
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// CheckPolicy gates every proposed action. Denied actions become
// synthetic observations carried forward so the model sees the refusal
// reason; allowed and modified actions advance to dispatch.
func (p PolicyCheck) CheckPolicy() ToolDispatching {
	r := p.r
	r.journal.Record(r.iteration, journal.KindPolicyCheck, nil)

	snap := r.snapshot()
	var approved []action.Proposed
	var synthetic []action.Observation

	for _, a := range p.proposed {
		d := r.evaluate(a, snap)
		r.journal.Record(r.iteration, journal.KindPolicyDecision, map[string]any{
			"action_id": a.ID, "verdict": d.Verdict.String(), "reason": d.Reason,
		})
		switch d.Verdict {
		case policy.Deny:
			r.logger.Info("action denied", "tool", a.Tool, "reason", d.Reason)
			synthetic = append(synthetic, action.Denied(a, d.Reason))
		case policy.Modify:
			r.logger.Info("action modified", "tool", a.Tool, "reason", d.Reason)
			approved = append(approved, *d.Replacement)
		default:
			approved = append(approved, a)
		}
	}

	for _, a := range approved {
		if a.Kind == action.KindFinalAnswer {
			text := a.Answer
			r.finalAnswer = &text
			break
		}
	}
	return ToolDispatching{r: r, approved: approved, synthetic: synthetic}
}

// evaluate guards the gate call: a panicking or absent gate must not
// let an action through unexamined.
func (r *run) evaluate(a action.Proposed, snap policy.Snapshot) (d policy.Decision) {
	if r.gate == nil {
		return policy.Allowed()
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("policy gate panicked, denying action", "tool", a.Tool, "panic", p)
			d = policy.Denied(fmt.Sprintf("policy evaluation failed: %v", p))
		}
	}()
	d = r.gate.Evaluate(r.agentID, a, snap)
	if d.Verdict == policy.Modify && d.Replacement == nil {
		d = policy.Denied("modify decision carried no replacement")
	}
	return d
}

// snapshot builds the read-only loop state view the gate evaluates
// against.
func (r *run) snapshot() policy.Snapshot {
	failures := make(map[string]int)
	for tool := range r.breakers.Snapshot() {
		failures[tool] = r.breakers.Failures(tool)
	}
	return policy.Snapshot{
		Iteration:   r.iteration,
		TotalTokens: r.usage.Total(),
		Failures:    failures,
	}
}

// DispatchTools hands the approved actions to the executor and
// advances to Observing with the combined observations.
func (p ToolDispatching) DispatchTools(ctx context.Context) Observing {
	r := p.r
	toolCalls := 0
	for _, a := range p.approved {
		if a.Kind == action.KindToolCall {
			toolCalls++
		}
	}
	r.journal.Record(r.iteration, journal.KindToolDispatch, map[string]any{
		"tool_calls": toolCalls, "denied": len(p.synthetic),
	})

	observations := p.synthetic
	if toolCalls > 0 {
		observations = append(observations, r.exec.Execute(ctx, p.approved)...)
	}
	return Observing{r: r, observations: observations}
}

// ObserveResults merges observations into the conversation and either
// loops back to Reasoning or terminates with the final answer.
func (p Observing) ObserveResults() (Reasoning, *Result) {
	r := p.r
	for _, obs := range p.observations {
		r.journal.Record(r.iteration, journal.KindObservation, map[string]any{
			"action_id": obs.ActionID,
			"tool":      obs.Tool,
			"ok":        obs.OK(),
			"synthetic": obs.Synthetic,
			"error":     obs.Err,
		})
		msg := llm.Message{
			Role:       llm.RoleTool,
			Content:    obs.Content(),
			ToolCallID: obs.ActionID,
		}
		if obs.Tool == "" {
			// An observation on a non-tool action (a denied final
			// answer) has no tool call to correlate with; providers
			// reject tool results without an originating call.
			msg = llm.Message{Role: llm.RoleUser, Content: obs.Content()}
		}
		if err := r.conv.Push(msg); err != nil {
			r.logger.Warn("failed to record observation", "error", err)
		}
	}
	r.journal.Record(r.iteration, journal.KindObserving, map[string]any{
		"observations": len(p.observations),
	})

	if r.finalAnswer != nil {
		return Reasoning{}, r.terminal(ReasonCompleted, *r.finalAnswer, nil)
	}
	return Reasoning{r: r}, nil
}
