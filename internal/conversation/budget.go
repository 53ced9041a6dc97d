package conversation

import (
	"fmt"
	"strings"

	"github.com/gyre-dev/gyre/internal/llm"
)

// Strategy reduces a message sequence to fit a token budget. Apply
// must preserve the relative order of whatever messages it keeps and
// must never drop a leading system message.
type Strategy interface {
	Apply(msgs []llm.Message, budget int, est Estimator) []llm.Message
}

func totalTokens(msgs []llm.Message, est Estimator) int {
	n := 0
	for _, m := range msgs {
		n += est.Tokens(m)
	}
	return n
}

// firstDroppable returns the index of the oldest message that eviction
// may remove: everything except a leading system message.
func firstDroppable(msgs []llm.Message) int {
	if len(msgs) > 0 && msgs[0].Role == llm.RoleSystem {
		return 1
	}
	return 0
}

// dropOldest removes the message at index i plus any tool-result
// messages that would be left dangling without their originating
// assistant turn.
func dropOldest(msgs []llm.Message, i int) []llm.Message {
	out := append(msgs[:i:i], msgs[i+1:]...)
	for i < len(out) && out[i].Role == llm.RoleTool {
		out = append(out[:i:i], out[i+1:]...)
	}
	return out
}

// SlidingWindow evicts the oldest non-system messages until the
// sequence fits the budget.
type SlidingWindow struct{}

// Apply implements Strategy.
func (SlidingWindow) Apply(msgs []llm.Message, budget int, est Estimator) []llm.Message {
	for totalTokens(msgs, est) > budget {
		i := firstDroppable(msgs)
		if i >= len(msgs) {
			break
		}
		msgs = dropOldest(msgs, i)
	}
	return msgs
}

// maskPlaceholder replaces a masked tool output.
const maskPlaceholder = "[output elided to fit context budget]"

// ObservationMask blanks verbose tool outputs, oldest first, once the
// sequence exceeds the budget. Ordering and tool-call correlation are
// preserved; only the content shrinks. Falls back to sliding-window
// eviction if masking alone cannot reach the budget.
type ObservationMask struct {
	// MinSize is the smallest tool output worth masking. Zero means
	// mask any output longer than the placeholder itself.
	MinSize int
}

// Apply implements Strategy.
func (o ObservationMask) Apply(msgs []llm.Message, budget int, est Estimator) []llm.Message {
	minSize := o.MinSize
	if minSize <= 0 {
		minSize = len(maskPlaceholder)
	}
	if totalTokens(msgs, est) <= budget {
		return msgs
	}

	out := make([]llm.Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		if out[i].Role != llm.RoleTool || len(out[i].Content) <= minSize {
			continue
		}
		out[i].Content = maskPlaceholder
		if totalTokens(out, est) <= budget {
			return out
		}
	}
	return SlidingWindow{}.Apply(out, budget, est)
}

// SummarizeFunc folds dropped messages into one summary string. The
// default is a cheap extractive digest; callers can substitute an
// LLM-backed summarizer.
type SummarizeFunc func(dropped []llm.Message) string

// AnchoredSummary keeps the system message and the most recent
// KeepRecent messages verbatim, folding everything in between into a
// single synthetic summary message.
type AnchoredSummary struct {
	// KeepRecent is how many trailing messages stay verbatim.
	// Zero defaults to 6.
	KeepRecent int
	// Summarize produces the summary body. Nil uses DigestSummary.
	Summarize SummarizeFunc
}

// Apply implements Strategy.
func (a AnchoredSummary) Apply(msgs []llm.Message, budget int, est Estimator) []llm.Message {
	if totalTokens(msgs, est) <= budget {
		return msgs
	}
	keep := a.KeepRecent
	if keep <= 0 {
		keep = 6
	}
	summarize := a.Summarize
	if summarize == nil {
		summarize = DigestSummary
	}

	head := firstDroppable(msgs)
	tail := len(msgs) - keep
	if tail <= head {
		return msgs
	}
	// Never start the kept tail on a dangling tool result.
	for tail < len(msgs) && msgs[tail].Role == llm.RoleTool {
		tail++
	}
	dropped := msgs[head:tail]
	if len(dropped) == 0 {
		return msgs
	}

	out := make([]llm.Message, 0, head+1+len(msgs)-tail)
	out = append(out, msgs[:head]...)
	out = append(out, llm.Message{
		Role:    llm.RoleAssistant,
		Content: "[Earlier conversation, summarized]\n" + summarize(dropped),
	})
	out = append(out, msgs[tail:]...)
	return out
}

// DigestSummary is the default SummarizeFunc: one truncated line per
// dropped message.
func DigestSummary(dropped []llm.Message) string {
	var b strings.Builder
	for _, m := range dropped {
		line := m.Content
		if line == "" && len(m.ToolCalls) > 0 {
			names := make([]string, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				names = append(names, tc.Name)
			}
			line = "called " + strings.Join(names, ", ")
		}
		if len(line) > 120 {
			line = line[:120] + "…"
		}
		fmt.Fprintf(&b, "- %s: %s\n", m.Role, line)
	}
	return strings.TrimRight(b.String(), "\n")
}
