package tui

import (
	"time"

	tea "charm.land/bubbletea/v2"
)

// ---------------------------------------------------------------------------
// Update
// ---------------------------------------------------------------------------

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	m.frameLines = nil // invalidate per-frame wrap cache

	// A pending approval prompt intercepts all input, even before modals.
	if mdl, cmd, handled := m.updateApprovalPrompt(msg); handled {
		return mdl, cmd
	}

	// Modals intercept all input when open, highest priority first.
	if mdl, cmd, handled := m.updateFileModal(msg); handled {
		return mdl, cmd
	}
	if mdl, cmd, handled := m.updateKeybindsModal(msg); handled {
		return mdl, cmd
	}
	if mdl, cmd, handled := m.updateModelsModal(msg); handled {
		return mdl, cmd
	}
	if mdl, cmd, handled := m.updateToolViewModal(msg); handled {
		return mdl, cmd
	}

	switch msg := msg.(type) {

	// -- Window resize -------------------------------------------------------
	case tea.WindowSizeMsg:
		m.handleResize(msg)

	// -- Paste (clipboard read or bracketed paste) ---------------------------
	case tea.ClipboardMsg, tea.PasteMsg:
		return m.handlePaste(msg)

	// -- Mouse ---------------------------------------------------------------
	case tea.MouseMsg:
		return m.handleMouse(msg)

	// -- Keyboard ------------------------------------------------------------
	case tea.KeyPressMsg:
		if mdl, cmd, handled := m.handleKeyPress(msg); handled {
			return mdl, cmd
		}

	// -- Frame tick (60fps) — rebuild streaming entries for live updates ------
	case tickMsg:
		m.tickStreaming()
		m.tickSpinner(time.Time(msg))
		return m, frameTick()

	// -- LLM batch (multiple messages drained from updateChan) ---------------
	case llmBatchMsg:
		return m.handleLLMBatch(msg)

	// -- LLM user message (sent before streaming begins) ---------------------
	case llmUserMsg:
		return m.handleLLMUser(msg)

	// -- Bridge event (approval prompt, rate-limit warning, delegate update) --
	case bridgeEventMsg:
		return m.handleBridgeEvent(msg)

	case userMsgSavedMsg:
		return m.handleUserMsgSaved(msg)

	case undoResultMsg:
		return m.handleUndoResult(msg), nil

	case modelsFetchedMsg:
		return m.handleModelsFetched(msg), nil

	case modelSwitchedMsg:
		return m.handleModelSwitched(msg), nil

	case LSPDiagnosticsMsg:
		return m.handleLSPDiag(msg), nil

	case UpdateToolsMsg:
		m.mcpTools = msg.Tools
		return m, nil

	case undoMsg:
		return m.handleUndo()

	case gitBranchMsg:
		return m.handleGitBranch(msg)
	}

	// Forward remaining messages to sub-models (mouse is already handled above).
	return m.forwardToSubModels(msg)
}

// forwardToSubModels sends a non-handled message to sub-editors.
func (m Model) forwardToSubModels(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)
	cmds = append(cmds, cmd)
	m.agentInput, cmd = m.agentInput.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) handlePaste(msg tea.Msg) (tea.Model, tea.Cmd) {
	var text string
	switch v := msg.(type) {
	case tea.ClipboardMsg:
		text = v.Content
	case tea.PasteMsg:
		text = v.Content
	}
	if text != "" {
		m.insertPaste(text)
	}
	return m, nil
}

// insertPaste inserts pasted text into the focused component.
func (m *Model) insertPaste(text string) {
	if text == "" {
		return
	}
	switch m.focus {
	case focusInput:
		m.agentInput.DeleteSelection()
		m.agentInput.InsertText(text)
	case focusEditor:
		m.editor.DeleteSelection()
		m.editor.InsertText(text)
	}
}
