// Package breaker tracks per-tool failure rates and temporarily blocks
// calls to tools that keep failing. Each tool has its own breaker with
// its own lock, so parallel tool calls within one dispatch never
// contend across tool names.
package breaker

import (
	"log/slog"
	"sync"
	"time"
)

// State is the lifecycle position of one tool's breaker.
type State int

const (
	// Closed allows calls; consecutive failures are counted.
	Closed State = iota
	// Open blocks calls until the cooldown elapses.
	Open
	// HalfOpen admits a limited probe quota to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config controls breaker transitions. The zero value is normalized to
// usable defaults by NewRegistry.
type Config struct {
	// FailureThreshold is the consecutive-failure count that trips a
	// closed breaker open.
	FailureThreshold int
	// Cooldown is how long an open breaker blocks before admitting
	// half-open probes.
	Cooldown time.Duration
	// HalfOpenProbes is the number of trial calls admitted while
	// half-open before the breaker must re-open.
	HalfOpenProbes int
}

// entry is one tool's breaker. All fields are guarded by mu; entries
// for different tools are fully independent.
type entry struct {
	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probesRemaining int
}

// Registry holds one breaker per tool name. The registry map itself is
// guarded separately from the per-tool entry locks.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	cfg     Config
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewRegistry creates a breaker registry. Zero config fields fall back
// to threshold 5, cooldown 30s, and 1 half-open probe.
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		cfg:     cfg,
		logger:  logger.With("component", "breaker"),
		nowFunc: time.Now,
	}
}

func (r *Registry) entryFor(tool string) *entry {
	r.mu.RLock()
	e, ok := r.entries[tool]
	r.mu.RUnlock()
	if ok {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.entries[tool]; ok {
		return e
	}
	e = &entry{state: Closed}
	r.entries[tool] = e
	return e
}

// Allow reports whether a call to the tool may proceed right now.
// An open breaker whose cooldown has elapsed moves to half-open and
// admits the call as a probe; a half-open breaker admits calls until
// its probe quota is spent.
func (r *Registry) Allow(tool string) bool {
	e := r.entryFor(tool)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Closed:
		return true
	case Open:
		if r.nowFunc().Sub(e.openedAt) < r.cfg.Cooldown {
			return false
		}
		e.state = HalfOpen
		e.probesRemaining = r.cfg.HalfOpenProbes
		r.logger.Info("breaker half-open", "tool", tool, "probes", e.probesRemaining)
		fallthrough
	case HalfOpen:
		if e.probesRemaining <= 0 {
			return false
		}
		e.probesRemaining--
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful call. A half-open breaker closes;
// a closed breaker resets its consecutive-failure count.
func (r *Registry) RecordSuccess(tool string) {
	e := r.entryFor(tool)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == HalfOpen {
		r.logger.Info("breaker closed after successful probe", "tool", tool)
	}
	e.state = Closed
	e.consecutiveFail = 0
	e.probesRemaining = 0
}

// RecordFailure reports a failed call. A closed breaker trips open at
// the configured threshold; a half-open breaker re-opens immediately.
func (r *Registry) RecordFailure(tool string) {
	e := r.entryFor(tool)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.consecutiveFail++
	switch e.state {
	case Closed:
		if e.consecutiveFail >= r.cfg.FailureThreshold {
			e.state = Open
			e.openedAt = r.nowFunc()
			r.logger.Warn("breaker tripped open",
				"tool", tool,
				"consecutive_failures", e.consecutiveFail,
			)
		}
	case HalfOpen:
		e.state = Open
		e.openedAt = r.nowFunc()
		e.probesRemaining = 0
		r.logger.Warn("breaker re-opened after failed probe", "tool", tool)
	}
}

// StateOf returns the current state of a tool's breaker. Tools that
// have never been called report Closed.
func (r *Registry) StateOf(tool string) State {
	r.mu.RLock()
	e, ok := r.entries[tool]
	r.mu.RUnlock()
	if !ok {
		return Closed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Failures returns the tool's current consecutive-failure count. This
// is the read-only view the loop state exposes.
func (r *Registry) Failures(tool string) int {
	r.mu.RLock()
	e, ok := r.entries[tool]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consecutiveFail
}

// Snapshot returns the state of every tracked tool, for diagnostics.
func (r *Registry) Snapshot() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.entries))
	for tool, e := range r.entries {
		e.mu.Lock()
		out[tool] = e.state
		e.mu.Unlock()
	}
	return out
}
