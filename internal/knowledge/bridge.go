package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gyre-dev/gyre/internal/conversation"
	"github.com/gyre-dev/gyre/internal/llm"
	"github.com/gyre-dev/gyre/internal/tools"
)

// Reserved tool names the bridge answers itself instead of delegating.
const (
	ToolRecall = "recall_knowledge"
	ToolStore  = "store_knowledge"
)

const defaultMaxResults = 5

// Bridge connects a knowledge store to the reasoning loop. A nil
// *Bridge is a valid no-op: injection does nothing and the invoker
// wrapper delegates every call unchanged, so running without a bridge
// and running with an empty one behave identically.
type Bridge struct {
	store      Store
	maxResults int
	logger     *slog.Logger
}

// NewBridge wires a store to the loop. maxResults caps injected items
// per iteration; <= 0 uses the default.
func NewBridge(store Store, maxResults int, logger *slog.Logger) *Bridge {
	if store == nil {
		return nil
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		store:      store,
		maxResults: maxResults,
		logger:     logger.With("component", "knowledge"),
	}
}

// Inject queries the store with terms drawn from the most recent user
// message and places the ranked results in the conversation's
// system-adjacent slot, replacing any earlier injection. Store errors
// are logged and leave the conversation untouched.
func (b *Bridge) Inject(ctx context.Context, conv *conversation.Log) {
	if b == nil {
		return
	}
	query := latestUserContent(conv.Messages())
	if query == "" {
		return
	}
	items, err := b.store.Query(ctx, query, b.maxResults)
	if err != nil {
		b.logger.Warn("knowledge query failed", "error", err)
		return
	}
	if len(items) == 0 {
		conv.SetSystemAdjacent("")
		return
	}
	var sb strings.Builder
	for i, it := range items {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "- %s (confidence %.2f)", it.Text(), it.Confidence)
	}
	conv.SetSystemAdjacent(conversation.InjectedContent(sb.String()))
	b.logger.Debug("injected knowledge", "items", len(items))
}

func latestUserContent(msgs []llm.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role != llm.RoleUser {
			continue
		}
		// Skip the bridge's own injected slot.
		if conversation.IsInjected(m) {
			continue
		}
		return m.Content
	}
	return ""
}

// Definitions returns the reserved tool schemas so the model can call
// them. Nil for a nil bridge.
func (b *Bridge) Definitions() []tools.Definition {
	if b == nil {
		return nil
	}
	return []tools.Definition{
		{
			Name:        ToolRecall,
			Description: "Search long-term memory for facts relevant to a query.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Free-text search query",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum results to return",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        ToolStore,
			Description: "Save a fact to long-term memory as a subject/predicate/object triple.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"subject":   map[string]any{"type": "string"},
					"predicate": map[string]any{"type": "string"},
					"object":    map[string]any{"type": "string"},
					"confidence": map[string]any{
						"type":        "number",
						"description": "0-1 certainty, defaults to 1",
					},
				},
				"required": []string{"subject", "predicate", "object"},
			},
		},
	}
}

// WrapInvoker intercepts the reserved tool names and answers them from
// the store, delegating every other name to next. A nil bridge returns
// next unchanged.
func (b *Bridge) WrapInvoker(next tools.Invoker) tools.Invoker {
	if b == nil {
		return next
	}
	return &bridgeInvoker{bridge: b, next: next}
}

type bridgeInvoker struct {
	bridge *Bridge
	next   tools.Invoker
}

func (bi *bridgeInvoker) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case ToolRecall:
		return bi.bridge.recall(ctx, args)
	case ToolStore:
		return bi.bridge.save(ctx, args)
	default:
		return bi.next.Invoke(ctx, name, args)
	}
}

func (b *Bridge) recall(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("recall_knowledge: query is required")
	}
	limit := b.maxResults
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		limit = int(v)
	}
	items, err := b.store.Query(ctx, query, limit)
	if err != nil {
		return "", fmt.Errorf("recall_knowledge: %w", err)
	}
	if len(items) == 0 {
		return "No stored knowledge matched the query.", nil
	}
	var sb strings.Builder
	for i, it := range items {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s (confidence %.2f)", it.Text(), it.Confidence)
	}
	return sb.String(), nil
}

func (b *Bridge) save(ctx context.Context, args map[string]any) (string, error) {
	subject, _ := args["subject"].(string)
	predicate, _ := args["predicate"].(string)
	object, _ := args["object"].(string)
	confidence := 1.0
	if v, ok := args["confidence"].(float64); ok {
		confidence = v
	}
	item, err := b.store.Store(ctx, subject, predicate, object, confidence)
	if err != nil {
		return "", fmt.Errorf("store_knowledge: %w", err)
	}
	return fmt.Sprintf("Stored: %s", item.Text()), nil
}
