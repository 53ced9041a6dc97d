// Package executor dispatches approved tool calls concurrently,
// honoring per-call timeouts and the circuit breaker registry, and
// applies the configured recovery strategy to failures.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"

	"github.com/gyre-dev/gyre/internal/action"
	"github.com/gyre-dev/gyre/internal/breaker"
	"github.com/gyre-dev/gyre/internal/tools"
)

const (
	defaultPerToolTimeout = 30 * time.Second
	defaultMaxConcurrent  = 4
	cacheSize             = 256
)

// DeadLetter is a permanently failed action kept for the operator.
type DeadLetter struct {
	ActionID  string         `json:"action_id"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Err       string         `json:"error"`
	At        time.Time      `json:"at"`
}

type cachedResult struct {
	payload string
	at      time.Time
}

// Executor runs tool-call actions through the breaker registry.
type Executor struct {
	invoker  tools.Invoker
	breakers *breaker.Registry
	logger   *slog.Logger

	perToolTimeout time.Duration
	maxConcurrent  int64

	defaultRecovery Recovery
	perTool         map[string]Recovery

	cache *lru.Cache[string, cachedResult]

	mu          sync.Mutex
	deadLetters []DeadLetter

	nowFunc func() time.Time
	// sleepFunc is swapped in tests to avoid real backoff waits.
	sleepFunc func(context.Context, time.Duration)
}

// Option adjusts executor construction.
type Option func(*Executor)

// WithPerToolTimeout sets the deadline applied to each invocation.
func WithPerToolTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.perToolTimeout = d
		}
	}
}

// WithMaxConcurrent bounds how many tool calls run in parallel.
func WithMaxConcurrent(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxConcurrent = int64(n)
		}
	}
}

// WithDefaultRecovery sets the run-wide recovery strategy.
func WithDefaultRecovery(r Recovery) Option {
	return func(e *Executor) { e.defaultRecovery = r.withDefaults() }
}

// WithToolRecovery overrides recovery for one tool name.
func WithToolRecovery(tool string, r Recovery) Option {
	return func(e *Executor) { e.perTool[tool] = r.withDefaults() }
}

// New builds an executor over the given invoker and breaker registry.
func New(invoker tools.Invoker, breakers *breaker.Registry, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	cache, _ := lru.New[string, cachedResult](cacheSize)
	e := &Executor{
		invoker:         invoker,
		breakers:        breakers,
		logger:          logger.With("component", "executor"),
		perToolTimeout:  defaultPerToolTimeout,
		maxConcurrent:   defaultMaxConcurrent,
		defaultRecovery: DefaultRecovery(),
		perTool:         make(map[string]Recovery),
		cache:           cache,
		nowFunc:         time.Now,
		sleepFunc:       sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Execute runs every tool-call action, up to the concurrency bound in
// parallel, and returns one observation per action in input order.
// Non-tool actions are skipped. The phase waits for all calls to
// finish; a hung tool is cut off by its per-call timeout rather than
// blocking siblings.
func (e *Executor) Execute(ctx context.Context, actions []action.Proposed) []action.Observation {
	type slot struct {
		idx int
		obs action.Observation
	}
	sem := semaphore.NewWeighted(e.maxConcurrent)
	results := make(chan slot, len(actions))
	dispatched := 0

	for i, a := range actions {
		if a.Kind != action.KindToolCall {
			continue
		}
		dispatched++
		if err := sem.Acquire(ctx, 1); err != nil {
			// Run cancelled while waiting for a slot.
			results <- slot{i, action.Failure(a, &Error{Kind: KindToolTimeout, Tool: a.Tool, Err: err}, false, 0)}
			continue
		}
		go func(i int, a action.Proposed) {
			defer sem.Release(1)
			results <- slot{i, e.executeOne(ctx, a)}
		}(i, a)
	}

	byIndex := make(map[int]action.Observation, dispatched)
	for range dispatched {
		s := <-results
		byIndex[s.idx] = s.obs
	}

	var out []action.Observation
	for i, a := range actions {
		if a.Kind != action.KindToolCall {
			continue
		}
		obs, ok := byIndex[i]
		if !ok {
			obs = action.Failure(a, fmt.Errorf("no result recorded"), false, 0)
		}
		out = append(out, obs)
	}
	return out
}

// executeOne runs a single action through the breaker, the invoker,
// and the recovery strategy.
func (e *Executor) executeOne(ctx context.Context, a action.Proposed) action.Observation {
	rec := e.recoveryFor(a.Tool)

	if !e.breakers.Allow(a.Tool) {
		execErr := &Error{Kind: KindBreakerOpen, Tool: a.Tool}
		// A fresh cached result can still answer while the tool cools off.
		if rec.Strategy == StrategyCachedResult {
			if obs, ok := e.cached(a, rec.CacheTTL); ok {
				return obs
			}
		}
		e.logger.Warn("breaker open, call short-circuited", "tool", a.Tool)
		return synthetic(action.Failure(a, execErr, false, 0))
	}

	payload, dur, execErr := e.invoke(ctx, a)
	if execErr == nil {
		e.breakers.RecordSuccess(a.Tool)
		e.cache.Add(cacheKey(a), cachedResult{payload: payload, at: e.nowFunc()})
		return action.Success(a, payload, dur)
	}
	e.breakers.RecordFailure(a.Tool)
	e.logger.Warn("tool call failed", "tool", a.Tool, "kind", execErr.Kind.String(), "error", execErr)

	return e.recover(ctx, a, rec, execErr, dur)
}

// invoke runs one call under the per-tool deadline and classifies the
// outcome.
func (e *Executor) invoke(ctx context.Context, a action.Proposed) (string, time.Duration, *Error) {
	callCtx, cancel := context.WithTimeout(ctx, e.perToolTimeout)
	defer cancel()

	start := e.nowFunc()
	payload, err := e.invoker.Invoke(callCtx, a.Tool, a.Arguments)
	dur := e.nowFunc().Sub(start)
	if err == nil {
		return payload, dur, nil
	}

	var nf *tools.NotFoundError
	switch {
	case errors.As(err, &nf):
		return "", dur, &Error{Kind: KindToolNotFound, Tool: a.Tool, Err: err}
	case callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		return "", dur, &Error{Kind: KindToolTimeout, Tool: a.Tool, Err: err}
	default:
		return "", dur, &Error{Kind: KindInvocationFailed, Tool: a.Tool, Err: err}
	}
}

// recover applies the tool's strategy to a failed call.
func (e *Executor) recover(ctx context.Context, a action.Proposed, rec Recovery, execErr *Error, dur time.Duration) action.Observation {
	switch rec.Strategy {
	case StrategyRetry:
		if !execErr.Retriable() {
			return action.Failure(a, execErr, false, dur)
		}
		backoff := rec.Backoff
		for attempt := 1; attempt <= rec.MaxRetries; attempt++ {
			e.sleepFunc(ctx, backoff)
			if ctx.Err() != nil {
				break
			}
			if backoff *= 2; backoff > rec.MaxBackoff {
				backoff = rec.MaxBackoff
			}
			if !e.breakers.Allow(a.Tool) {
				break
			}
			payload, d, retryErr := e.invoke(ctx, a)
			dur += d
			if retryErr == nil {
				e.breakers.RecordSuccess(a.Tool)
				e.cache.Add(cacheKey(a), cachedResult{payload: payload, at: e.nowFunc()})
				return action.Success(a, payload, dur)
			}
			e.breakers.RecordFailure(a.Tool)
			execErr = retryErr
			if !retryErr.Retriable() {
				break
			}
		}
		return action.Failure(a, execErr, false, dur)

	case StrategyFallback:
		if rec.FallbackTool == "" || rec.FallbackTool == a.Tool || !e.breakers.Allow(rec.FallbackTool) {
			return action.Failure(a, execErr, execErr.Retriable(), dur)
		}
		alt := action.ToolCall(a.ID, rec.FallbackTool, a.Arguments)
		payload, d, fbErr := e.invoke(ctx, alt)
		dur += d
		if fbErr == nil {
			e.breakers.RecordSuccess(alt.Tool)
			obs := action.Success(alt, payload, dur)
			return obs
		}
		e.breakers.RecordFailure(alt.Tool)
		return action.Failure(a, fmt.Errorf("%w (fallback %q also failed: %v)", execErr, alt.Tool, fbErr), false, dur)

	case StrategyCachedResult:
		if obs, ok := e.cached(a, rec.CacheTTL); ok {
			return obs
		}
		return action.Failure(a, execErr, execErr.Retriable(), dur)

	case StrategyEscalate:
		e.logger.Error("tool failure escalated for human handling",
			"tool", a.Tool, "action_id", a.ID, "error", execErr)
		obs := action.Failure(a, fmt.Errorf("%w; escalated for human review", execErr), false, dur)
		obs.Synthetic = true
		return obs

	case StrategyDeadLetter:
		e.addDeadLetter(a, execErr)
		return action.Failure(a, fmt.Errorf("%w; recorded to dead letter queue", execErr), false, dur)

	default: // StrategyLlmRecovery
		return action.Failure(a, execErr, execErr.Retriable(), dur)
	}
}

// cached serves a prior result if one exists and is fresh enough.
func (e *Executor) cached(a action.Proposed, ttl time.Duration) (action.Observation, bool) {
	entry, ok := e.cache.Get(cacheKey(a))
	if !ok || e.nowFunc().Sub(entry.at) > ttl {
		return action.Observation{}, false
	}
	obs := action.Success(a, entry.payload, 0)
	obs.Synthetic = true
	return obs, true
}

func (e *Executor) addDeadLetter(a action.Proposed, execErr *Error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deadLetters = append(e.deadLetters, DeadLetter{
		ActionID:  a.ID,
		Tool:      a.Tool,
		Arguments: a.Arguments,
		Err:       execErr.Error(),
		At:        e.nowFunc(),
	})
}

// DeadLetters returns a copy of the permanently failed actions.
func (e *Executor) DeadLetters() []DeadLetter {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]DeadLetter, len(e.deadLetters))
	copy(out, e.deadLetters)
	return out
}

func (e *Executor) recoveryFor(tool string) Recovery {
	if r, ok := e.perTool[tool]; ok {
		return r
	}
	return e.defaultRecovery
}

func cacheKey(a action.Proposed) string {
	return fmt.Sprintf("%s|%v", a.Tool, a.Arguments)
}

func synthetic(obs action.Observation) action.Observation {
	obs.Synthetic = true
	return obs
}
