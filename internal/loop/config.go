package loop

import (
	"fmt"
	"time"

	"github.com/gyre-dev/gyre/internal/breaker"
	"github.com/gyre-dev/gyre/internal/executor"
	"github.com/gyre-dev/gyre/internal/tools"
)

// Budget strategy names accepted in configuration.
const (
	StrategySlidingWindow   = "sliding_window"
	StrategyObservationMask = "observation_mask"
	StrategyAnchoredSummary = "anchored_summary"
)

// Config is the immutable per-run input. It is read once at the start
// of Run and never mutated afterwards.
type Config struct {
	// Model is the provider model identifier.
	Model string

	// MaxIterations caps reasoning cycles before forced termination.
	MaxIterations int
	// MaxTotalTokens caps cumulative prompt+completion tokens.
	MaxTotalTokens int
	// Timeout is the whole-run wall-clock limit.
	Timeout time.Duration

	// PerToolTimeout bounds each individual tool invocation.
	PerToolTimeout time.Duration
	// MaxConcurrentTools bounds parallel calls within one dispatch.
	MaxConcurrentTools int

	// ContextBudget is the token budget enforced on the conversation
	// before each inference call. Zero disables budgeting.
	ContextBudget int
	// BudgetStrategy selects the eviction strategy by name.
	BudgetStrategy string

	// DefaultRecovery applies to failed tools without an override.
	DefaultRecovery executor.Recovery
	// ToolRecovery overrides recovery per tool name.
	ToolRecovery map[string]executor.Recovery

	// Breaker tunes the per-tool circuit breakers for this run.
	Breaker breaker.Config

	// Tools optionally overrides the advertised tool schemas. When
	// empty the registry's definitions are advertised. Passed through
	// to the provider unchanged.
	Tools []tools.Definition
}

// DefaultConfig returns a usable baseline configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:      10,
		MaxTotalTokens:     100_000,
		Timeout:            5 * time.Minute,
		PerToolTimeout:     30 * time.Second,
		MaxConcurrentTools: 4,
		ContextBudget:      0,
		BudgetStrategy:     StrategySlidingWindow,
		DefaultRecovery:    executor.DefaultRecovery(),
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.MaxTotalTokens <= 0 {
		c.MaxTotalTokens = d.MaxTotalTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.PerToolTimeout <= 0 {
		c.PerToolTimeout = d.PerToolTimeout
	}
	if c.MaxConcurrentTools <= 0 {
		c.MaxConcurrentTools = d.MaxConcurrentTools
	}
	if c.BudgetStrategy == "" {
		c.BudgetStrategy = d.BudgetStrategy
	}
	if c.DefaultRecovery.Strategy == "" {
		c.DefaultRecovery = d.DefaultRecovery
	}
	return c
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	switch c.BudgetStrategy {
	case "", StrategySlidingWindow, StrategyObservationMask, StrategyAnchoredSummary:
	default:
		return fmt.Errorf("unknown budget strategy %q", c.BudgetStrategy)
	}
	if c.DefaultRecovery.Strategy != "" {
		if err := c.DefaultRecovery.Validate(); err != nil {
			return fmt.Errorf("default_recovery: %w", err)
		}
	}
	for name, r := range c.ToolRecovery {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("tool_recovery[%s]: %w", name, err)
		}
	}
	return nil
}
