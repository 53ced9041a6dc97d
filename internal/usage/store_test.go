package usage

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	records := []Record{
		{Timestamp: base, RunID: "r1", AgentID: "researcher", Model: "claude-sonnet-4-5",
			InputTokens: 1000, OutputTokens: 200, Iterations: 3, Reason: "completed", CostUSD: 0.006},
		{Timestamp: base.Add(time.Hour), RunID: "r2", AgentID: "researcher", Model: "qwen3:4b",
			InputTokens: 500, OutputTokens: 100, Iterations: 1, Reason: "completed"},
		{Timestamp: base.Add(2 * time.Hour), RunID: "r3", AgentID: "ops", Model: "claude-sonnet-4-5",
			InputTokens: 2000, OutputTokens: 400, Iterations: 5, Reason: "max_iterations", CostUSD: 0.012},
	}
	for _, rec := range records {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := s.Summary(base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalRecords != 3 {
		t.Errorf("records = %d, want 3", sum.TotalRecords)
	}
	if sum.TotalInputTokens != 3500 || sum.TotalOutputTokens != 700 {
		t.Errorf("tokens = %d/%d", sum.TotalInputTokens, sum.TotalOutputTokens)
	}
}

func TestSummary_WindowExcludesOutside(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i, ts := range []time.Time{base, base.Add(24 * time.Hour)} {
		if err := s.Record(ctx, Record{RunID: "r", AgentID: "a", Model: "m",
			Timestamp: ts, InputTokens: 100 * (i + 1), OutputTokens: 10, Reason: "completed"}); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := s.Summary(base, base.Add(12*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalRecords != 1 || sum.TotalInputTokens != 100 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestSummaryByAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for _, rec := range []Record{
		{Timestamp: base, RunID: "r1", AgentID: "researcher", Model: "m", InputTokens: 100, OutputTokens: 10, Reason: "completed"},
		{Timestamp: base, RunID: "r2", AgentID: "ops", Model: "m", InputTokens: 300, OutputTokens: 30, Reason: "timeout"},
	} {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	byAgent, err := s.SummaryByAgent(base, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(byAgent) != 2 {
		t.Fatalf("agents = %d, want 2", len(byAgent))
	}
	if byAgent["ops"].TotalInputTokens != 300 {
		t.Errorf("ops tokens = %d", byAgent["ops"].TotalInputTokens)
	}

	byReason, err := s.SummaryByReason(base, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if byReason["timeout"].TotalRecords != 1 {
		t.Errorf("timeout records = %d", byReason["timeout"].TotalRecords)
	}
}

func TestComputeCost(t *testing.T) {
	pricing := map[string]PricingEntry{
		"claude-sonnet-4-5": {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	}

	cost := ComputeCost("claude-sonnet-4-5", 1_000_000, 1_000_000, pricing)
	if math.Abs(cost-18.0) > 1e-9 {
		t.Errorf("cost = %f, want 18.0", cost)
	}

	if got := ComputeCost("qwen3:4b", 1_000_000, 1_000_000, pricing); got != 0 {
		t.Errorf("unlisted model cost = %f, want 0", got)
	}
}
