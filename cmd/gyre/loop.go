package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gyre-dev/gyre/internal/action"
	"github.com/gyre-dev/gyre/internal/config"
	"github.com/gyre-dev/gyre/internal/conversation"
	"github.com/gyre-dev/gyre/internal/journal"
	"github.com/gyre-dev/gyre/internal/knowledge"
	"github.com/gyre-dev/gyre/internal/llm"
	"github.com/gyre-dev/gyre/internal/loop"
	"github.com/gyre-dev/gyre/internal/policy"
	"github.com/gyre-dev/gyre/internal/tools"
	"github.com/gyre-dev/gyre/internal/usage"
)

// systemPrompt is the default system message for CLI runs.
const systemPrompt = "You are a capable assistant. Use the available tools when they help, " +
	"and give a direct final answer when you have what you need."

// runLoop handles the "gyre run <prompt>" subcommand: it assembles the
// full runtime (providers, tools, policy gate, knowledge bridge,
// journal) from configuration and drives one loop to completion.
func runLoop(ctx context.Context, stdout io.Writer, configPath, agentID, outputFmt, prompt string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, level)
	if cfgPath != "" {
		logger.Info("config loaded", "path", cfgPath)
	}

	loopCfg, err := cfg.ParseLoop()
	if err != nil {
		return err
	}
	if agentID == "" {
		agentID = cfg.AgentID
	}

	client, err := buildClient(cfg, logger)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry(logger)
	registerBuiltins(registry)

	gate := buildGate(cfg)

	var bridge *knowledge.Bridge
	if cfg.Knowledge.Enabled {
		store, err := knowledge.NewSQLiteStore(cfg.KnowledgePath())
		if err != nil {
			return fmt.Errorf("open knowledge store: %w", err)
		}
		defer store.Close()
		bridge = knowledge.NewBridge(store, cfg.Knowledge.MaxResults, logger)
	}

	sink, closeSink, err := buildJournal(cfg)
	if err != nil {
		return err
	}
	defer closeSink()

	conv, err := conversation.New(
		llm.Message{Role: llm.RoleSystem, Content: systemPrompt},
		llm.Message{Role: llm.RoleUser, Content: prompt},
	)
	if err != nil {
		return err
	}

	runnerOpts := []loop.RunnerOption{
		loop.WithGate(gate),
		loop.WithBridge(bridge),
		loop.WithJournal(sink),
		loop.WithLogger(logger),
	}
	if cfg.Loop.Estimator == "tiktoken" {
		est, err := conversation.NewTiktoken("")
		if err != nil {
			return fmt.Errorf("load tiktoken encoding: %w", err)
		}
		runnerOpts = append(runnerOpts, loop.WithEstimator(est))
	}

	runner := loop.NewRunner(client, registry, runnerOpts...)
	result := runner.Run(ctx, agentID, conv, loopCfg)

	recordUsage(ctx, cfg, agentID, loopCfg.Model, result, logger)

	if result.Reason == loop.ReasonError {
		return fmt.Errorf("run failed: %w", result.Err)
	}
	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Fprintln(stdout, result.Output)
	fmt.Fprintf(stdout, "\n[%s after %d iteration(s), %d tokens, run %s]\n",
		result.Reason, result.Iterations, result.Usage.Total(), result.RunID)
	return nil
}

// buildClient wires the configured providers behind one multi-provider
// client. Models route by the config's providers map; unlisted models
// go to the fallback (anthropic when a key is set, otherwise ollama).
func buildClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	var anthropic *llm.AnthropicClient
	if cfg.Anthropic.APIKey != "" {
		anthropic = llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger)
	}
	var ollama *llm.OllamaClient
	if cfg.Models.OllamaURL != "" {
		ollama = llm.NewOllamaClient(cfg.Models.OllamaURL, logger)
	}

	var fallback llm.Client
	switch {
	case anthropic != nil:
		fallback = anthropic
	case ollama != nil:
		fallback = ollama
	default:
		return nil, fmt.Errorf("no provider configured: set anthropic.api_key or models.ollama_url")
	}

	multi := llm.NewMultiClient(fallback)
	if anthropic != nil {
		multi.AddProvider("anthropic", anthropic)
	}
	if ollama != nil {
		multi.AddProvider("ollama", ollama)
	}
	for model, provider := range cfg.Models.Providers {
		multi.AddModel(model, provider)
	}
	return multi, nil
}

// buildGate chains the declarative rules with any CEL rules. A config
// without policy settings yields a nil gate, which allows everything.
func buildGate(cfg *config.Config) policy.Gate {
	var chain policy.Chain

	r := cfg.Policy.Rules
	if len(r.DeniedTools) > 0 || len(r.RedactArguments) > 0 || r.MaxArgumentBytes > 0 {
		chain = append(chain, r)
	}
	if len(cfg.Policy.CEL) > 0 {
		gate, err := policy.NewCELGate(cfg.Policy.CEL)
		if err == nil {
			chain = append(chain, gate)
		} else {
			// A rule that fails to compile must fail closed.
			chain = append(chain, policy.GateFunc(func(string, action.Proposed, policy.Snapshot) policy.Decision {
				return policy.Denied(fmt.Sprintf("policy rules failed to compile: %v", err))
			}))
		}
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}

// buildJournal opens the configured journal sink. An empty path keeps
// traces in a memory ring for the lifetime of the process.
func buildJournal(cfg *config.Config) (journal.Sink, func(), error) {
	path := cfg.JournalPath()
	if path == "" {
		return journal.NewMemorySink(0), func() {}, nil
	}
	sink, err := journal.NewSQLiteSink(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}
	return sink, func() { sink.Close() }, nil
}

// recordUsage appends the run's totals to the usage store. Failures
// are logged, not fatal: accounting never blocks the answer.
func recordUsage(ctx context.Context, cfg *config.Config, agentID, model string, result *loop.Result, logger *slog.Logger) {
	store, err := usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		logger.Warn("usage store unavailable", "error", err)
		return
	}
	defer store.Close()

	err = store.Record(ctx, usage.Record{
		RunID:        result.RunID,
		AgentID:      agentID,
		Model:        model,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
		Iterations:   result.Iterations,
		Reason:       string(result.Reason),
	})
	if err != nil {
		logger.Warn("failed to record usage", "error", err)
	}
}

// registerBuiltins installs the small set of tools every run gets.
func registerBuiltins(reg *tools.Registry) {
	_ = reg.Register(&tools.Tool{
		Definition: tools.Definition{
			Name:        "current_time",
			Description: "Get the current date and time, optionally in a named IANA timezone.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timezone": map[string]any{
						"type":        "string",
						"description": "IANA timezone name like America/Chicago (default UTC)",
					},
				},
			},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			loc := time.UTC
			if tz, ok := args["timezone"].(string); ok && tz != "" {
				l, err := time.LoadLocation(tz)
				if err != nil {
					return "", fmt.Errorf("unknown timezone %q", tz)
				}
				loc = l
			}
			return time.Now().In(loc).Format("Monday, January 2, 2006 at 3:04 PM MST"), nil
		},
	})
}
