package tui

import (
	tea "charm.land/bubbletea/v2"

	"github.com/xonecas/symbcore/internal/uibridge"
)

// bridgeEventMsg wraps one uibridge.AppEvent drained from m.bridge, or a
// closed-channel signal (ok=false) so the drain loop can stop.
type bridgeEventMsg struct {
	event uibridge.AppEvent
	ok    bool
}

// waitForBridgeEvent blocks on the next event from m.bridge.Events(), the
// same blocking-receive-as-tea.Cmd idiom waitForLLMUpdate uses for updateChan.
func (m Model) waitForBridgeEvent() tea.Cmd {
	return func() tea.Msg {
		event, ok := <-m.bridge.Events()
		return bridgeEventMsg{event: event, ok: ok}
	}
}

// handleBridgeEvent applies one bridge event to the model and re-arms the
// drain loop, unless the bridge has been closed.
func (m Model) handleBridgeEvent(msg bridgeEventMsg) (Model, tea.Cmd) {
	if !msg.ok {
		return m, nil
	}
	switch msg.event.Type {
	case uibridge.EventApprovalPrompt:
		m.pendingApproval = &pendingApprovalPrompt{
			RequestID: msg.event.ApprovalRequestID,
			Kind:      msg.event.ApprovalKind,
			Summary:   msg.event.ApprovalSummary,
		}
	case uibridge.EventRateLimitWarning:
		m.rateLimitWarning = formatRateLimitWarning(msg.event.RateLimitPercent)
		m.rateLimitSuggestSwitch = msg.event.RateLimitSuggestSwitch
	case uibridge.EventDelegateUpdate:
		m.appendConv(convEntry{
			display: msg.event.DelegateLabel + " " + msg.event.DelegateText,
			kind:    entryToolCall,
		})
	}
	return m, m.waitForBridgeEvent()
}

func formatRateLimitWarning(percent int) string {
	switch {
	case percent >= 95:
		return "rate limit 95%+"
	case percent >= 90:
		return "rate limit 90%+"
	default:
		return "rate limit 75%+"
	}
}
