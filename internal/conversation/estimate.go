package conversation

import (
	"encoding/json"

	"github.com/pkoukk/tiktoken-go"

	"github.com/gyre-dev/gyre/internal/llm"
)

// Estimator estimates the token cost of one message. Estimates are
// advisory: the loop reconciles them against the provider's reported
// usage after each call. The formula is deliberately pluggable.
type Estimator interface {
	Tokens(m llm.Message) int
}

// perMessageOverhead approximates the framing tokens each message
// costs on top of its content (role markers, separators).
const perMessageOverhead = 4

// Heuristic estimates tokens as one per four bytes of content plus a
// fixed per-message overhead. Cheap, provider-independent, and close
// enough for budgeting English prose.
type Heuristic struct{}

// Tokens implements Estimator.
func (Heuristic) Tokens(m llm.Message) int {
	n := len(m.Content)
	for _, tc := range m.ToolCalls {
		n += len(tc.Name)
		if b, err := json.Marshal(tc.Arguments); err == nil {
			n += len(b)
		}
	}
	return n/4 + perMessageOverhead
}

// Tiktoken estimates tokens with a real BPE encoding. More accurate
// than Heuristic but the encoding data must be available (fetched or
// cached by the tiktoken library).
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken creates a BPE-backed estimator. The encoding name is
// e.g. "cl100k_base"; empty selects that default.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &Tiktoken{enc: enc}, nil
}

// Tokens implements Estimator.
func (t *Tiktoken) Tokens(m llm.Message) int {
	n := len(t.enc.Encode(m.Content, nil, nil))
	for _, tc := range m.ToolCalls {
		n += len(t.enc.Encode(tc.Name, nil, nil))
		if b, err := json.Marshal(tc.Arguments); err == nil {
			n += len(t.enc.Encode(string(b), nil, nil))
		}
	}
	return n + perMessageOverhead
}
