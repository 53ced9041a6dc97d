// Package conversation maintains the ordered message log for one loop
// run and keeps it inside a token budget. Messages are append-only
// while the run is live; budgeting may evict, mask, or summarize older
// entries between iterations, but never reorders what remains.
package conversation

import (
	"fmt"
	"sync"

	"github.com/gyre-dev/gyre/internal/llm"
)

// Log is the ordered message sequence for a single run. Safe for
// concurrent reads; writes come only from the loop runner between
// phases.
type Log struct {
	mu   sync.RWMutex
	msgs []llm.Message
}

// New creates a log seeded with the given messages. At most one system
// message is allowed and it must come first.
func New(initial ...llm.Message) (*Log, error) {
	l := &Log{}
	for i, m := range initial {
		if m.Role == llm.RoleSystem && i != 0 {
			return nil, fmt.Errorf("system message must be first (found at position %d)", i)
		}
		l.msgs = append(l.msgs, m)
	}
	return l, nil
}

// Push appends a message. Appending a system message to a non-empty
// log is rejected: the log allows at most one leading system message.
func (l *Log) Push(m llm.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m.Role == llm.RoleSystem && len(l.msgs) > 0 {
		return fmt.Errorf("system message only allowed at the start of a conversation")
	}
	l.msgs = append(l.msgs, m)
	return nil
}

// Messages returns a copy of the current message sequence, the shape
// handed to provider adapters.
func (l *Log) Messages() []llm.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]llm.Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}

// EstimatedTokens returns the advisory token estimate for the whole
// log under the given estimator.
func (l *Log) EstimatedTokens(est Estimator) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0
	for _, m := range l.msgs {
		total += est.Tokens(m)
	}
	return total
}

// EnforceBudget applies the strategy so the log's estimated size is at
// or under budget. Runs once per iteration, after observations are
// merged and before the next reasoning call. A budget of 0 disables
// enforcement.
func (l *Log) EnforceBudget(s Strategy, budget int, est Estimator) {
	if s == nil || budget <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = s.Apply(l.msgs, budget, est)
}

// SetSystemAdjacent inserts or replaces the message directly after the
// leading system message (or at the front when there is none). The
// knowledge bridge uses this slot for injected context so repeated
// injections replace rather than accumulate.
func (l *Log) SetSystemAdjacent(content string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	insert := 0
	if len(l.msgs) > 0 && l.msgs[0].Role == llm.RoleSystem {
		insert = 1
	}
	msg := llm.Message{Role: llm.RoleUser, Content: content}

	if insert < len(l.msgs) && isInjected(l.msgs[insert]) {
		if content == "" {
			l.msgs = append(l.msgs[:insert], l.msgs[insert+1:]...)
			return
		}
		l.msgs[insert] = msg
		return
	}
	if content == "" {
		return
	}
	l.msgs = append(l.msgs[:insert], append([]llm.Message{msg}, l.msgs[insert:]...)...)
}

// injectedPrefix marks the replaceable system-adjacent slot.
const injectedPrefix = "[Retrieved context]\n"

func isInjected(m llm.Message) bool {
	return m.Role == llm.RoleUser && len(m.Content) >= len(injectedPrefix) &&
		m.Content[:len(injectedPrefix)] == injectedPrefix
}

// IsInjected reports whether a message occupies the replaceable
// system-adjacent slot.
func IsInjected(m llm.Message) bool { return isInjected(m) }

// InjectedContent formats bridge-retrieved context for the
// system-adjacent slot.
func InjectedContent(body string) string {
	if body == "" {
		return ""
	}
	return injectedPrefix + body
}
