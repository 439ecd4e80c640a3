package tui

import (
	tea "charm.land/bubbletea/v2"

	"github.com/xonecas/symbcore/internal/approval"
)

// pendingApprovalPrompt mirrors the fields of an in-flight approval.Request
// the gate is waiting on a decision for.
type pendingApprovalPrompt struct {
	RequestID string
	Kind      string
	Summary   string
}

// updateApprovalPrompt intercepts keyboard input while a prompt is pending,
// the same way modal dialogs take input priority. Returns handled=false when
// there is nothing pending, so callers fall through to normal handling. The
// prompt itself arrives as a bridgeEventMsg, handled separately in update.go.
func (m *Model) updateApprovalPrompt(msg tea.Msg) (Model, tea.Cmd, bool) {
	if m.pendingApproval == nil {
		return *m, nil, false
	}

	key, ok := msg.(tea.KeyPressMsg)
	if !ok {
		return *m, nil, false
	}

	switch key.Keystroke() {
	case "y":
		m.resolveApproval(approval.Approved)
	case "a":
		m.resolveApproval(approval.ApprovedForSession)
	case "n", "esc":
		m.resolveApproval(approval.Denied)
	}
	// Swallow every key while a decision is pending — same rationale as a
	// modal grabbing focus.
	return *m, nil, true
}

func (m *Model) resolveApproval(decision approval.Decision) {
	if m.approvalGate != nil && m.pendingApproval != nil {
		m.approvalGate.Resolve(m.pendingApproval.RequestID, decision)
	}
	m.pendingApproval = nil
}
