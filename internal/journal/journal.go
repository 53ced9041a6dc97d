// Package journal records an append-only, sequenced trail of every
// phase transition and terminal outcome of a loop run, for audit and
// replay. Writes are best-effort relative to forward progress: a
// failing sink is logged, never fatal to the run.
package journal

import (
	"log/slog"
	"sync"
	"time"
)

// Kind constants mirror the loop's phase transitions and outcomes.
const (
	// KindRunStart opens a run. Data: model, max_iterations.
	KindRunStart = "run_start"
	// KindReasoning marks entry into the reasoning phase.
	// Data: estimated_tokens.
	KindReasoning = "phase_reasoning"
	// KindActionProposed records one candidate action from the model.
	// Data: action_id, kind, tool.
	KindActionProposed = "action_proposed"
	// KindPolicyCheck marks entry into the policy phase.
	// Data: actions.
	KindPolicyCheck = "phase_policy_check"
	// KindPolicyDecision records one gate verdict.
	// Data: action_id, tool, verdict, reason.
	KindPolicyDecision = "policy_decision"
	// KindToolDispatch marks entry into the dispatch phase.
	// Data: approved.
	KindToolDispatch = "phase_tool_dispatch"
	// KindObservation records one action result.
	// Data: action_id, tool, ok, synthetic, duration_ms.
	KindObservation = "observation"
	// KindObserving marks entry into the observing phase.
	// Data: observations.
	KindObserving = "phase_observing"
	// KindUsage records reconciled token usage for one iteration.
	// Data: input_tokens, output_tokens, total_tokens.
	KindUsage = "usage"
	// KindRunEnd closes a run. Data: reason, iterations, total_tokens.
	KindRunEnd = "run_end"
)

// Entry is one journal record. Seq is monotonic per run; entries from
// different runs sharing a sink are distinguished by RunID, never by
// arrival order.
type Entry struct {
	Seq       int64          `json:"seq"`
	Timestamp time.Time      `json:"ts"`
	RunID     string         `json:"run_id"`
	AgentID   string         `json:"agent_id"`
	Iteration int            `json:"iteration"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Sink receives journal entries. Append must be safe for concurrent
// use when a sink is shared across runs.
type Sink interface {
	Append(e Entry) error
}

// Writer sequences entries for one run and forwards them to a sink.
// Safe to use on a nil receiver (no-op), so the loop never guards
// journal calls.
type Writer struct {
	mu      sync.Mutex
	seq     int64
	runID   string
	agentID string
	sink    Sink
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewWriter creates a per-run writer. A nil sink yields a no-op writer.
func NewWriter(runID, agentID string, sink Sink, logger *slog.Logger) *Writer {
	if sink == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		runID:   runID,
		agentID: agentID,
		sink:    sink,
		logger:  logger.With("component", "journal", "run_id", runID),
		nowFunc: time.Now,
	}
}

// Record appends one entry with the next sequence number. Sink
// failures are logged and swallowed.
func (w *Writer) Record(iteration int, kind string, data map[string]any) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.seq++
	e := Entry{
		Seq:       w.seq,
		Timestamp: w.nowFunc(),
		RunID:     w.runID,
		AgentID:   w.agentID,
		Iteration: iteration,
		Kind:      kind,
		Data:      data,
	}
	w.mu.Unlock()

	if err := w.sink.Append(e); err != nil {
		w.logger.Warn("journal append failed", "kind", kind, "seq", e.Seq, "error", err)
	}
}

// Fanout tees entries to multiple sinks. The first error is returned
// after all sinks have been attempted.
type Fanout []Sink

// Append implements Sink.
func (f Fanout) Append(e Entry) error {
	var first error
	for _, s := range f {
		if err := s.Append(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
