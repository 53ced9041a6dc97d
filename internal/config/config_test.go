package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
agent_id: researcher
models:
  default: claude-sonnet-4-5
  ollama_url: http://localhost:11434
loop:
  max_iterations: 5
  max_total_tokens: 50000
  timeout: 2m
  per_tool_timeout: 10s
  max_concurrent_tools: 2
  context_budget: 8000
  budget_strategy: observation_mask
policy:
  rules:
    denied_tools: [shell_exec]
    redact_arguments: [api_key]
knowledge:
  enabled: true
  max_results: 3
journal:
  path: memory
log_level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AgentID != "researcher" {
		t.Errorf("agent_id = %q", cfg.AgentID)
	}
	lc, err := cfg.ParseLoop()
	if err != nil {
		t.Fatal(err)
	}
	if lc.MaxIterations != 5 {
		t.Errorf("max_iterations = %d", lc.MaxIterations)
	}
	if lc.Timeout != 2*time.Minute {
		t.Errorf("timeout = %v", lc.Timeout)
	}
	if lc.PerToolTimeout != 10*time.Second {
		t.Errorf("per_tool_timeout = %v", lc.PerToolTimeout)
	}
	if lc.BudgetStrategy != "observation_mask" {
		t.Errorf("budget_strategy = %q", lc.BudgetStrategy)
	}
	if len(cfg.Policy.Rules.DeniedTools) != 1 || cfg.Policy.Rules.DeniedTools[0] != "shell_exec" {
		t.Errorf("denied_tools = %v", cfg.Policy.Rules.DeniedTools)
	}
	if !cfg.Knowledge.Enabled || cfg.Knowledge.MaxResults != 3 {
		t.Errorf("knowledge = %+v", cfg.Knowledge)
	}
	if cfg.JournalPath() != "" {
		t.Errorf("journal path = %q, want in-memory", cfg.JournalPath())
	}
}

func TestLoad_RejectsBadLoopConfig(t *testing.T) {
	path := writeConfig(t, `
loop:
  budget_strategy: nonsense
`)
	if _, err := Load(path); err == nil {
		t.Error("invalid budget strategy accepted")
	}
}

func TestLoad_EstimatorSelection(t *testing.T) {
	path := writeConfig(t, `
loop:
  estimator: tiktoken
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Loop.Estimator != "tiktoken" {
		t.Errorf("estimator = %q, want tiktoken", cfg.Loop.Estimator)
	}

	path = writeConfig(t, `
loop:
  estimator: wordcount
`)
	if _, err := Load(path); err == nil {
		t.Error("unknown estimator accepted")
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_GYRE_KEY", "sk-test-123")
	path := writeConfig(t, `
anthropic:
  api_key: ${TEST_GYRE_KEY}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Anthropic.APIKey != "sk-test-123" {
		t.Errorf("api_key = %q", cfg.Anthropic.APIKey)
	}
}

func TestFindConfig_ExplicitMustExist(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Error("missing explicit config accepted")
	}
}

func TestDefaultPaths(t *testing.T) {
	cfg := Default()
	if cfg.KnowledgePath() != filepath.Join(".", "knowledge.db") {
		t.Errorf("knowledge path = %q", cfg.KnowledgePath())
	}
	if cfg.JournalPath() != filepath.Join(".", "journal.db") {
		t.Errorf("journal path = %q", cfg.JournalPath())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
