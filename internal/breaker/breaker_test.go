package breaker

import (
	"sync"
	"testing"
	"time"
)

// fixedClock returns a nowFunc that returns a fixed time.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRegistry_ClosedByDefault(t *testing.T) {
	r := NewRegistry(Config{}, nil)

	if got := r.StateOf("lookup"); got != Closed {
		t.Errorf("StateOf(untracked) = %v, want Closed", got)
	}
	if !r.Allow("lookup") {
		t.Error("closed breaker should allow calls")
	}
}

func TestRegistry_TripsAtThreshold(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 3, Cooldown: time.Minute}, nil)

	r.RecordFailure("lookup")
	r.RecordFailure("lookup")
	if got := r.StateOf("lookup"); got != Closed {
		t.Fatalf("state after 2 failures = %v, want Closed", got)
	}

	r.RecordFailure("lookup")
	if got := r.StateOf("lookup"); got != Open {
		t.Fatalf("state after 3 failures = %v, want Open", got)
	}
	if r.Allow("lookup") {
		t.Error("open breaker should block calls")
	}
}

func TestRegistry_SuccessResetsFailureCount(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2}, nil)

	r.RecordFailure("lookup")
	r.RecordSuccess("lookup")
	r.RecordFailure("lookup")

	if got := r.StateOf("lookup"); got != Closed {
		t.Errorf("non-consecutive failures tripped breaker: %v", got)
	}
}

func TestRegistry_HalfOpenAfterCooldown(t *testing.T) {
	start := time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)
	r := NewRegistry(Config{FailureThreshold: 1, Cooldown: time.Minute, HalfOpenProbes: 1}, nil)
	r.nowFunc = fixedClock(start)

	r.RecordFailure("lookup")
	if r.Allow("lookup") {
		t.Fatal("breaker should be open")
	}

	// Before cooldown: still blocked.
	r.nowFunc = fixedClock(start.Add(30 * time.Second))
	if r.Allow("lookup") {
		t.Fatal("breaker allowed call before cooldown elapsed")
	}

	// After cooldown: one probe admitted, further calls blocked.
	r.nowFunc = fixedClock(start.Add(2 * time.Minute))
	if !r.Allow("lookup") {
		t.Fatal("breaker should admit a probe after cooldown")
	}
	if got := r.StateOf("lookup"); got != HalfOpen {
		t.Fatalf("state = %v, want HalfOpen", got)
	}
	if r.Allow("lookup") {
		t.Error("probe quota exceeded")
	}
}

func TestRegistry_ProbeSuccessCloses(t *testing.T) {
	start := time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)
	r := NewRegistry(Config{FailureThreshold: 1, Cooldown: time.Minute}, nil)
	r.nowFunc = fixedClock(start)

	r.RecordFailure("lookup")
	r.nowFunc = fixedClock(start.Add(2 * time.Minute))
	if !r.Allow("lookup") {
		t.Fatal("probe not admitted")
	}
	r.RecordSuccess("lookup")

	if got := r.StateOf("lookup"); got != Closed {
		t.Errorf("state after successful probe = %v, want Closed", got)
	}
	if !r.Allow("lookup") {
		t.Error("closed breaker should allow calls")
	}
}

func TestRegistry_ProbeFailureReopens(t *testing.T) {
	start := time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)
	r := NewRegistry(Config{FailureThreshold: 1, Cooldown: time.Minute}, nil)
	r.nowFunc = fixedClock(start)

	r.RecordFailure("lookup")
	r.nowFunc = fixedClock(start.Add(2 * time.Minute))
	if !r.Allow("lookup") {
		t.Fatal("probe not admitted")
	}
	r.RecordFailure("lookup")

	if got := r.StateOf("lookup"); got != Open {
		t.Fatalf("state after failed probe = %v, want Open", got)
	}
	// Re-opened breaker must honor a fresh cooldown from the reopen time.
	r.nowFunc = fixedClock(start.Add(2*time.Minute + 30*time.Second))
	if r.Allow("lookup") {
		t.Error("re-opened breaker allowed call inside new cooldown")
	}
}

func TestRegistry_ToolsAreIndependent(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, Cooldown: time.Minute}, nil)

	r.RecordFailure("lookup")
	if got := r.StateOf("lookup"); got != Open {
		t.Fatalf("lookup state = %v, want Open", got)
	}
	if !r.Allow("search") {
		t.Error("unrelated tool blocked by lookup's breaker")
	}
	if got := r.Failures("search"); got != 0 {
		t.Errorf("search failures = %d, want 0", got)
	}
}

func TestRegistry_ConcurrentRecording(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1000}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				r.RecordFailure("lookup")
			}
		}()
	}
	wg.Wait()

	if got := r.Failures("lookup"); got != 500 {
		t.Errorf("concurrent failure count = %d, want 500", got)
	}
	if got := r.StateOf("lookup"); got != Closed {
		t.Errorf("state = %v, want Closed (threshold not reached)", got)
	}
}
