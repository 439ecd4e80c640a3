// Package replay reconstructs a past conversation as a stream of events
// without re-invoking any tool. It generalizes store.LoadMessages /
// store.ToProviderMessages — already "rebuild a conversation from persisted
// rows" for session resume — into a transcript a UI can walk through as if
// it were live, while skipping anything that performed a side effect the
// first time around.
package replay

import (
	"fmt"
	"time"

	"github.com/xonecas/symbcore/internal/provider"
	"github.com/xonecas/symbcore/internal/store"
	"github.com/xonecas/symbcore/internal/uibridge"
)

// sideEffectingTools names tool calls that must not be replayed: running
// them again would touch the filesystem or a shell a second time.
var sideEffectingTools = map[string]bool{
	"Shell":      true,
	"Edit":       true,
	"ApplyPatch": true,
}

// EventMsg is one replayed turn event. ID is always empty ("None"): a
// replayed event is synthetic and must never be correlated with a live
// decision (approval, undo) made against the original run.
type EventMsg struct {
	ID         string
	Role       string
	Content    string
	Reasoning  string
	ToolCalls  []provider.ToolCall
	ToolCallID string
	CreatedAt  time.Time
}

// Engine replays a session's stored history.
type Engine struct {
	store *store.Cache
}

// New creates an Engine backed by db.
func New(db *store.Cache) *Engine {
	return &Engine{store: db}
}

// Replay loads sessionID's history and returns it as a sequence of
// EventMsgs, dropping any assistant tool call that would have caused a side
// effect (and its matching tool result) so consumers can reconstruct the
// transcript without re-running anything.
func (e *Engine) Replay(sessionID string) ([]EventMsg, error) {
	msgs, err := e.store.LoadMessages(sessionID)
	if err != nil {
		return nil, fmt.Errorf("replay: load messages: %w", err)
	}

	provMsgs := store.ToProviderMessages(msgs)

	skipped := make(map[string]bool)
	out := make([]EventMsg, 0, len(provMsgs))
	for _, pm := range provMsgs {
		if pm.Role == "assistant" && hasSideEffect(pm.ToolCalls) {
			for _, tc := range pm.ToolCalls {
				skipped[tc.ID] = true
			}
			continue
		}
		if pm.Role == "tool" && skipped[pm.ToolCallID] {
			continue
		}
		out = append(out, EventMsg{
			Role:       pm.Role,
			Content:    pm.Content,
			Reasoning:  pm.Reasoning,
			ToolCalls:  pm.ToolCalls,
			ToolCallID: pm.ToolCallID,
			CreatedAt:  pm.CreatedAt,
		})
	}
	return out, nil
}

func hasSideEffect(calls []provider.ToolCall) bool {
	for _, tc := range calls {
		if sideEffectingTools[tc.Name] {
			return true
		}
	}
	return false
}

// Emit pushes a replayed stream onto bridge as content deltas followed by a
// completion event, so existing AppEvent consumers can render a replay the
// same way they render a live turn.
func Emit(bridge *uibridge.Bridge, events []EventMsg) {
	for _, ev := range events {
		if ev.Content == "" {
			continue
		}
		bridge.TrySend(uibridge.AppEvent{Type: uibridge.EventContentDelta, ContentDelta: ev.Content})
	}
	bridge.TrySend(uibridge.AppEvent{Type: uibridge.EventTurnCompleted})
}
