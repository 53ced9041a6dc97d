package journal

import "fmt"

// phaseSuccessor maps each phase-entry kind to the kinds allowed to
// follow it within a run trace. Detail kinds (action_proposed,
// policy_decision, observation, usage) may appear anywhere between
// phase markers and are skipped during verification.
var phaseSuccessor = map[string][]string{
	KindRunStart:     {KindReasoning, KindRunEnd},
	KindReasoning:    {KindPolicyCheck, KindRunEnd},
	KindPolicyCheck:  {KindToolDispatch},
	KindToolDispatch: {KindObserving},
	KindObserving:    {KindReasoning, KindRunEnd},
}

func isPhaseKind(kind string) bool {
	if kind == KindRunEnd {
		return true
	}
	_, ok := phaseSuccessor[kind]
	return ok
}

// VerifyPhaseOrder checks that a single run's entries follow the
// legal phase cycle with no phase skipped or reordered, that sequence
// numbers are contiguous from 1, and that the trace terminates with a
// run_end entry. Entries must all carry the same RunID.
func VerifyPhaseOrder(entries []Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("empty trace")
	}
	runID := entries[0].RunID
	prev := ""
	for i, e := range entries {
		if e.RunID != runID {
			return fmt.Errorf("entry %d: run %q interleaved into trace for run %q", i, e.RunID, runID)
		}
		if e.Seq != int64(i+1) {
			return fmt.Errorf("entry %d: sequence %d, want %d", i, e.Seq, i+1)
		}
		if !isPhaseKind(e.Kind) {
			continue
		}
		if prev == "" {
			if e.Kind != KindRunStart {
				return fmt.Errorf("trace starts with %q, want %q", e.Kind, KindRunStart)
			}
			prev = e.Kind
			continue
		}
		allowed := phaseSuccessor[prev]
		ok := false
		for _, k := range allowed {
			if e.Kind == k {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("entry %d: phase %q cannot follow %q", i, e.Kind, prev)
		}
		prev = e.Kind
	}
	if prev != KindRunEnd {
		return fmt.Errorf("trace does not terminate: last phase %q", prev)
	}
	return nil
}

// ReplaySummary is the state reconstructed from a run trace.
type ReplaySummary struct {
	RunID        string
	AgentID      string
	Iterations   int
	TotalTokens  int
	Reason       string
	Observations int
	Denials      int
}

// Replay rebuilds a run summary from its journal entries, verifying
// phase order along the way.
func Replay(entries []Entry) (*ReplaySummary, error) {
	if err := VerifyPhaseOrder(entries); err != nil {
		return nil, err
	}
	s := &ReplaySummary{RunID: entries[0].RunID, AgentID: entries[0].AgentID}
	for _, e := range entries {
		switch e.Kind {
		case KindReasoning:
			s.Iterations = e.Iteration
		case KindObservation:
			s.Observations++
		case KindPolicyDecision:
			if v, _ := e.Data["verdict"].(string); v == "deny" {
				s.Denials++
			}
		case KindRunEnd:
			s.Reason, _ = e.Data["reason"].(string)
			// JSON round-trips numbers as float64; accept both.
			switch v := e.Data["total_tokens"].(type) {
			case int:
				s.TotalTokens = v
			case int64:
				s.TotalTokens = int(v)
			case float64:
				s.TotalTokens = int(v)
			}
		}
	}
	return s, nil
}
