// Package config handles gyre configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gyre-dev/gyre/internal/breaker"
	"github.com/gyre-dev/gyre/internal/executor"
	"github.com/gyre-dev/gyre/internal/loop"
	"github.com/gyre-dev/gyre/internal/policy"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/gyre/config.yaml, /etc/gyre/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "gyre", "config.yaml"))
	}

	paths = append(paths, "/etc/gyre/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all gyre configuration. Durations are YAML strings
// ("30s", "2m"); ParseLoop converts them to time.Duration fields.
type Config struct {
	AgentID   string          `yaml:"agent_id"`
	Models    ModelsConfig    `yaml:"models"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Loop      LoopConfig      `yaml:"loop"`
	Policy    PolicyConfig    `yaml:"policy"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Journal   JournalConfig   `yaml:"journal"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// ModelsConfig defines provider routing settings.
type ModelsConfig struct {
	// Default is the model used when the loop config names none.
	Default string `yaml:"default"`
	// OllamaURL points at a local Ollama server; empty disables the
	// ollama provider.
	OllamaURL string `yaml:"ollama_url"`
	// Providers maps model names to provider names ("anthropic",
	// "ollama") for the multi-provider client.
	Providers map[string]string `yaml:"providers"`
}

// LoopConfig is the YAML shape of the per-run loop configuration.
type LoopConfig struct {
	Model              string                    `yaml:"model"`
	MaxIterations      int                       `yaml:"max_iterations"`
	MaxTotalTokens     int                       `yaml:"max_total_tokens"`
	Timeout            string                    `yaml:"timeout"`
	PerToolTimeout     string                    `yaml:"per_tool_timeout"`
	MaxConcurrentTools int                       `yaml:"max_concurrent_tools"`
	ContextBudget      int                       `yaml:"context_budget"`
	BudgetStrategy     string                    `yaml:"budget_strategy"`
	// Estimator selects the token estimator: "heuristic" (default) or
	// "tiktoken" for exact BPE counts.
	Estimator string `yaml:"estimator"`
	DefaultRecovery    RecoveryConfig            `yaml:"default_recovery"`
	ToolRecovery       map[string]RecoveryConfig `yaml:"tool_recovery"`
	Breaker            BreakerConfig             `yaml:"breaker"`
}

// RecoveryConfig is the YAML shape of a recovery strategy.
type RecoveryConfig struct {
	Strategy     string `yaml:"strategy"`
	MaxRetries   int    `yaml:"max_retries"`
	Backoff      string `yaml:"backoff"`
	MaxBackoff   string `yaml:"max_backoff"`
	FallbackTool string `yaml:"fallback_tool"`
	CacheTTL     string `yaml:"cache_ttl"`
}

// BreakerConfig is the YAML shape of the circuit breaker tuning.
type BreakerConfig struct {
	FailureThreshold int    `yaml:"failure_threshold"`
	Cooldown         string `yaml:"cooldown"`
	HalfOpenProbes   int    `yaml:"half_open_probes"`
}

// PolicyConfig wires the declarative gate rules.
type PolicyConfig struct {
	Rules policy.Rules     `yaml:"rules"`
	CEL   []policy.CELRule `yaml:"cel"`
}

// KnowledgeConfig controls the optional knowledge bridge.
type KnowledgeConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path is the triple store database. Empty defaults to
	// knowledge.db under DataDir.
	Path string `yaml:"path"`
	// MaxResults caps injected items per iteration.
	MaxResults int `yaml:"max_results"`
}

// JournalConfig controls where run traces go.
type JournalConfig struct {
	// Path is the journal database. Empty defaults to journal.db
	// under DataDir; the value "memory" keeps traces in a bounded
	// in-process ring instead.
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	if _, err := cfg.ParseLoop(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		AgentID: "gyre",
		Models: ModelsConfig{
			Default:   "claude-sonnet-4-5",
			OllamaURL: "http://localhost:11434",
		},
		DataDir: ".",
	}
}

// ParseLoop converts the YAML loop section (string durations) into a
// validated loop.Config. Call after Load has succeeded; Load already
// runs this once to surface parse errors early.
func (c *Config) ParseLoop() (loop.Config, error) {
	raw := c.Loop

	timeout, err := parseDuration("loop.timeout", raw.Timeout)
	if err != nil {
		return loop.Config{}, err
	}
	perTool, err := parseDuration("loop.per_tool_timeout", raw.PerToolTimeout)
	if err != nil {
		return loop.Config{}, err
	}
	cooldown, err := parseDuration("loop.breaker.cooldown", raw.Breaker.Cooldown)
	if err != nil {
		return loop.Config{}, err
	}
	defaultRec, err := parseRecovery("loop.default_recovery", raw.DefaultRecovery)
	if err != nil {
		return loop.Config{}, err
	}

	var perToolRec map[string]executor.Recovery
	if len(raw.ToolRecovery) > 0 {
		perToolRec = make(map[string]executor.Recovery, len(raw.ToolRecovery))
		for tool, rc := range raw.ToolRecovery {
			rec, err := parseRecovery(fmt.Sprintf("loop.tool_recovery[%s]", tool), rc)
			if err != nil {
				return loop.Config{}, err
			}
			perToolRec[tool] = rec
		}
	}

	switch raw.Estimator {
	case "", "heuristic", "tiktoken":
	default:
		return loop.Config{}, fmt.Errorf("loop.estimator %q: unknown estimator (valid: heuristic, tiktoken)", raw.Estimator)
	}

	model := raw.Model
	if model == "" {
		model = c.Models.Default
	}

	cfg := loop.Config{
		Model:              model,
		MaxIterations:      raw.MaxIterations,
		MaxTotalTokens:     raw.MaxTotalTokens,
		Timeout:            timeout,
		PerToolTimeout:     perTool,
		MaxConcurrentTools: raw.MaxConcurrentTools,
		ContextBudget:      raw.ContextBudget,
		BudgetStrategy:     raw.BudgetStrategy,
		DefaultRecovery:    defaultRec,
		ToolRecovery:       perToolRec,
		Breaker: breaker.Config{
			FailureThreshold: raw.Breaker.FailureThreshold,
			Cooldown:         cooldown,
			HalfOpenProbes:   raw.Breaker.HalfOpenProbes,
		},
	}
	if err := cfg.Validate(); err != nil {
		return loop.Config{}, fmt.Errorf("loop config: %w", err)
	}
	return cfg, nil
}

func parseRecovery(name string, rc RecoveryConfig) (executor.Recovery, error) {
	backoff, err := parseDuration(name+".backoff", rc.Backoff)
	if err != nil {
		return executor.Recovery{}, err
	}
	maxBackoff, err := parseDuration(name+".max_backoff", rc.MaxBackoff)
	if err != nil {
		return executor.Recovery{}, err
	}
	ttl, err := parseDuration(name+".cache_ttl", rc.CacheTTL)
	if err != nil {
		return executor.Recovery{}, err
	}
	rec := executor.Recovery{
		Strategy:     executor.Strategy(rc.Strategy),
		MaxRetries:   rc.MaxRetries,
		Backoff:      backoff,
		MaxBackoff:   maxBackoff,
		FallbackTool: rc.FallbackTool,
		CacheTTL:     ttl,
	}
	if rec.Strategy != "" {
		if err := rec.Validate(); err != nil {
			return executor.Recovery{}, fmt.Errorf("%s: %w", name, err)
		}
	}
	return rec, nil
}

// parseDuration converts a YAML duration string. Empty means zero,
// which downstream defaulting fills in.
func parseDuration(name, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", name, s, err)
	}
	return d, nil
}

// KnowledgePath resolves the triple store location.
func (c *Config) KnowledgePath() string {
	if c.Knowledge.Path != "" {
		return c.Knowledge.Path
	}
	return filepath.Join(c.DataDir, "knowledge.db")
}

// JournalPath resolves the journal location. Empty means in-memory.
func (c *Config) JournalPath() string {
	if c.Journal.Path == "memory" {
		return ""
	}
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	return filepath.Join(c.DataDir, "journal.db")
}
