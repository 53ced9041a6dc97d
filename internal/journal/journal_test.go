package journal

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// failingSink always errors, for exercising best-effort semantics.
type failingSink struct{ calls int }

func (f *failingSink) Append(Entry) error {
	f.calls++
	return errors.New("disk full")
}

func TestWriter_SequencesEntries(t *testing.T) {
	sink := NewMemorySink(0)
	w := NewWriter("run-1", "agent-1", sink, nil)

	w.Record(0, KindRunStart, nil)
	w.Record(1, KindReasoning, nil)
	w.Record(1, KindRunEnd, map[string]any{"reason": "completed"})

	entries := sink.Entries()
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	for i, e := range entries {
		if e.Seq != int64(i+1) {
			t.Errorf("entry %d seq = %d, want %d", i, e.Seq, i+1)
		}
		if e.RunID != "run-1" || e.AgentID != "agent-1" {
			t.Errorf("entry %d identity = %s/%s", i, e.RunID, e.AgentID)
		}
	}
}

func TestWriter_NilIsNoop(t *testing.T) {
	var w *Writer
	w.Record(0, KindRunStart, nil) // must not panic

	if w := NewWriter("r", "a", nil, nil); w != nil {
		t.Error("NewWriter with nil sink should return nil writer")
	}
}

func TestWriter_SinkFailureDoesNotPropagate(t *testing.T) {
	sink := &failingSink{}
	w := NewWriter("run-1", "agent-1", sink, nil)

	w.Record(0, KindRunStart, nil)
	w.Record(1, KindReasoning, nil)

	if sink.calls != 2 {
		t.Errorf("sink calls = %d, want 2", sink.calls)
	}
	// Sequence numbers still advance past failures.
	memory := NewMemorySink(0)
	w2 := NewWriter("run-2", "agent-1", Fanout{sink, memory}, nil)
	w2.Record(0, KindRunStart, nil)
	if got := memory.Entries()[0].Seq; got != 1 {
		t.Errorf("seq = %d, want 1", got)
	}
}

func TestMemorySink_RingEviction(t *testing.T) {
	sink := NewMemorySink(3)
	for i := 1; i <= 5; i++ {
		sink.Append(Entry{Seq: int64(i), RunID: "r"})
	}
	entries := sink.Entries()
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Seq != 3 || entries[2].Seq != 5 {
		t.Errorf("ring kept wrong entries: %+v", entries)
	}
}

func TestBus_DropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(1)
	defer bus.Unsubscribe(ch)

	bus.Append(Entry{Seq: 1})
	bus.Append(Entry{Seq: 2}) // dropped: buffer full

	got := <-ch
	if got.Seq != 1 {
		t.Errorf("received seq %d, want 1", got.Seq)
	}
	select {
	case e := <-ch:
		t.Errorf("unexpected second entry: %+v", e)
	default:
	}
}

func TestBus_NilSafe(t *testing.T) {
	var b *Bus
	if err := b.Append(Entry{}); err != nil {
		t.Errorf("nil bus Append = %v", err)
	}
	if n := b.SubscriberCount(); n != 0 {
		t.Errorf("nil bus SubscriberCount = %d", n)
	}
}

func TestBus_UnsubscribeTwice(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(1)
	bus.Unsubscribe(ch)
	bus.Unsubscribe(ch) // no-op, must not panic
	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}

// trace builds a minimal legal run trace with n iterations.
func trace(runID string, iterations int) []Entry {
	seq := int64(0)
	next := func(iter int, kind string, data map[string]any) Entry {
		seq++
		return Entry{Seq: seq, RunID: runID, AgentID: "a", Iteration: iter, Kind: kind, Data: data, Timestamp: time.Now()}
	}
	entries := []Entry{next(0, KindRunStart, nil)}
	for i := 1; i <= iterations; i++ {
		entries = append(entries,
			next(i, KindReasoning, nil),
			next(i, KindActionProposed, map[string]any{"tool": "lookup"}),
			next(i, KindPolicyCheck, nil),
			next(i, KindPolicyDecision, map[string]any{"verdict": "allow"}),
			next(i, KindToolDispatch, nil),
			next(i, KindObservation, map[string]any{"ok": true}),
			next(i, KindObserving, nil),
		)
	}
	entries = append(entries, next(iterations, KindRunEnd,
		map[string]any{"reason": "completed", "total_tokens": 120}))
	return entries
}

func TestVerifyPhaseOrder_LegalTrace(t *testing.T) {
	if err := VerifyPhaseOrder(trace("r", 3)); err != nil {
		t.Errorf("legal trace rejected: %v", err)
	}
}

func TestVerifyPhaseOrder_RejectsSkippedPhase(t *testing.T) {
	entries := trace("r", 1)
	// Remove the policy check phase marker and renumber.
	var cut []Entry
	for _, e := range entries {
		if e.Kind == KindPolicyCheck {
			continue
		}
		cut = append(cut, e)
	}
	for i := range cut {
		cut[i].Seq = int64(i + 1)
	}
	if err := VerifyPhaseOrder(cut); err == nil {
		t.Error("trace with skipped policy phase accepted")
	}
}

func TestVerifyPhaseOrder_RejectsGappedSequence(t *testing.T) {
	entries := trace("r", 1)
	entries[2].Seq = 99
	if err := VerifyPhaseOrder(entries); err == nil {
		t.Error("gapped sequence accepted")
	}
}

func TestVerifyPhaseOrder_RejectsInterleavedRun(t *testing.T) {
	entries := trace("r", 1)
	entries[3].RunID = "other"
	if err := VerifyPhaseOrder(entries); err == nil {
		t.Error("interleaved run accepted")
	}
}

func TestVerifyPhaseOrder_RejectsUnterminated(t *testing.T) {
	entries := trace("r", 1)
	if err := VerifyPhaseOrder(entries[:len(entries)-1]); err == nil {
		t.Error("unterminated trace accepted")
	}
}

func TestReplay_Summary(t *testing.T) {
	s, err := Replay(trace("r", 2))
	if err != nil {
		t.Fatal(err)
	}
	if s.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", s.Iterations)
	}
	if s.Reason != "completed" {
		t.Errorf("reason = %q", s.Reason)
	}
	if s.TotalTokens != 120 {
		t.Errorf("total tokens = %d, want 120", s.TotalTokens)
	}
	if s.Observations != 2 {
		t.Errorf("observations = %d, want 2", s.Observations)
	}
}

func TestSQLiteSink_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	sink, err := NewSQLiteSink(path)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	for _, e := range trace("run-1", 1) {
		if err := sink.Append(e); err != nil {
			t.Fatal(err)
		}
	}
	// A second run interleaves into the same database.
	for _, e := range trace("run-2", 1) {
		if err := sink.Append(e); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := sink.EntriesForRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyPhaseOrder(entries); err != nil {
		t.Errorf("persisted trace invalid: %v", err)
	}
	for _, e := range entries {
		if e.RunID != "run-1" {
			t.Errorf("foreign run entry returned: %+v", e)
		}
	}

	runs, err := sink.Runs(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("runs = %d, want 2", len(runs))
	}
}
