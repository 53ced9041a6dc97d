package executor

import (
	"fmt"
	"time"
)

// Strategy selects how a failed tool call is recovered.
type Strategy string

const (
	// StrategyRetry re-invokes the same tool with bounded backoff.
	StrategyRetry Strategy = "retry"
	// StrategyFallback invokes an alternate declared tool once.
	StrategyFallback Strategy = "fallback"
	// StrategyCachedResult serves a sufficiently fresh prior result.
	StrategyCachedResult Strategy = "cached_result"
	// StrategyLlmRecovery hands the failure straight back to the model.
	StrategyLlmRecovery Strategy = "llm_recovery"
	// StrategyEscalate flags the failure for human handling.
	StrategyEscalate Strategy = "escalate"
	// StrategyDeadLetter gives up and records the failure permanently.
	StrategyDeadLetter Strategy = "dead_letter"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRetry, StrategyFallback, StrategyCachedResult,
		StrategyLlmRecovery, StrategyEscalate, StrategyDeadLetter:
		return true
	}
	return false
}

// Recovery configures failure handling for a tool. The zero value is
// not usable; use DefaultRecovery or fill in a Strategy.
type Recovery struct {
	Strategy Strategy
	// MaxRetries bounds StrategyRetry attempts beyond the first call.
	MaxRetries int
	// Backoff is the initial retry delay, doubled per attempt and
	// capped at MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// FallbackTool names the alternate for StrategyFallback.
	FallbackTool string
	// CacheTTL is how fresh a prior result must be for
	// StrategyCachedResult to serve it.
	CacheTTL time.Duration
}

// DefaultRecovery hands failures back to the model, which matches how
// an agent loop self-corrects without operator configuration.
func DefaultRecovery() Recovery {
	return Recovery{
		Strategy:   StrategyLlmRecovery,
		MaxRetries: 2,
		Backoff:    500 * time.Millisecond,
		MaxBackoff: 5 * time.Second,
		CacheTTL:   5 * time.Minute,
	}
}

// Validate checks the strategy name and fallback wiring.
func (r Recovery) Validate() error {
	if !r.Strategy.Valid() {
		return fmt.Errorf("unknown recovery strategy %q", r.Strategy)
	}
	if r.Strategy == StrategyFallback && r.FallbackTool == "" {
		return fmt.Errorf("fallback strategy requires fallback_tool")
	}
	return nil
}

// withDefaults fills zero-valued tuning fields from the package
// defaults so partially specified overrides behave sensibly.
func (r Recovery) withDefaults() Recovery {
	d := DefaultRecovery()
	if r.Strategy == "" {
		r.Strategy = d.Strategy
	}
	if r.MaxRetries <= 0 {
		r.MaxRetries = d.MaxRetries
	}
	if r.Backoff <= 0 {
		r.Backoff = d.Backoff
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = d.MaxBackoff
	}
	if r.CacheTTL <= 0 {
		r.CacheTTL = d.CacheTTL
	}
	return r
}
