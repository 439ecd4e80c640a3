// Package session owns a single conversation's authoritative state: its
// message history, delta/undo tracking, and rollout persistence. It
// generalizes the teacher's tui/messages.go turn-loop glue (runLLMTurn,
// llmTurnDeps, loadHistory, ensureSystemMessage, snapshotBeforeTurn/
// recordTurnDeltas) out of the TUI so any UIBridge consumer — not just
// bubbletea — can drive a turn.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xonecas/symbcore/internal/delta"
	"github.com/xonecas/symbcore/internal/interruptqueue"
	"github.com/xonecas/symbcore/internal/llm"
	"github.com/xonecas/symbcore/internal/mcp"
	"github.com/xonecas/symbcore/internal/provider"
	"github.com/xonecas/symbcore/internal/store"
	"github.com/xonecas/symbcore/internal/turn"
	"github.com/xonecas/symbcore/internal/uibridge"
)

// OpKind identifies the kind of operation submitted to a Core.
type OpKind int

const (
	OpUserInput OpKind = iota
	OpInterrupt
	OpCompact
	OpUndo
	OpAddToHistory
)

// Op is a single unit of work submitted to Core.Submit. Only the fields
// relevant to Kind are populated.
type Op struct {
	Kind    OpKind
	Extra   []provider.Message // OpUserInput: extra messages appended before the turn
	Message provider.Message   // OpAddToHistory
}

// Deps bundles everything a Core needs to run turns. Built once per session.
type Deps struct {
	Provider  provider.Provider
	Proxy     *mcp.Proxy
	Tools     []mcp.Tool
	Store     *store.Cache
	SessionID string
	DeltaTracker *delta.Tracker
	Scratchpad   llm.ScratchpadReader
	SystemMsg    *provider.Message
	Bridge       *uibridge.Bridge
	Queue        *interruptqueue.Queue

	// AutoCompactTokenLimit triggers a compaction call once the running
	// context-token estimate crosses it. 0 disables auto-compact.
	AutoCompactTokenLimit int
}

// Core owns one conversation's state and drives turns against it.
type Core struct {
	deps Deps

	contextTokens int
}

// New creates a Core from deps.
func New(deps Deps) *Core {
	return &Core{deps: deps}
}

// Submit runs one Op to completion. Turn-producing ops (UserInput, Compact)
// block until the turn finishes; Interrupt and Undo return immediately.
func (c *Core) Submit(ctx context.Context, op Op) error {
	switch op.Kind {
	case OpUserInput:
		return c.runTurn(ctx, op.Extra)
	case OpAddToHistory:
		return c.appendHistory(op.Message)
	case OpCompact:
		return c.compact(ctx)
	case OpUndo:
		_, err := c.undo()
		return err
	case OpInterrupt:
		c.deps.Queue.FlushAll(func(event any) {
			if ev, ok := event.(uibridge.AppEvent); ok {
				c.deps.Bridge.TrySend(ev)
			}
		})
		return nil
	default:
		return fmt.Errorf("session: unknown op kind %d", op.Kind)
	}
}

func (c *Core) runTurn(ctx context.Context, extra []provider.Message) error {
	history, err := c.loadHistory()
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(extra) > 0 {
		history = append(history, extra...)
		c.saveMessages(extra)
	}

	if limit := c.deps.AutoCompactTokenLimit; limit > 0 && c.contextTokens > limit {
		if err := c.compact(ctx); err != nil {
			log.Warn().Err(err).Msg("auto-compact failed, continuing with full history")
		} else {
			history, err = c.loadHistory()
			if err != nil {
				return fmt.Errorf("reload history after compact: %w", err)
			}
		}
	}

	preSnap, snapRoot := c.snapshotBeforeTurn()

	var pending []provider.Message
	err = turn.Stream(ctx, turn.Options{
		Provider:   c.deps.Provider,
		Proxy:      c.deps.Proxy,
		Tools:      c.deps.Tools,
		History:    history,
		Scratchpad: c.deps.Scratchpad,
		Bridge:     c.deps.Bridge,
		Queue:      c.deps.Queue,
		OnMessage: func(msg provider.Message) {
			pending = append(pending, msg)
			if msg.InputTokens > 0 {
				c.contextTokens = msg.InputTokens
			}
		},
	})

	c.saveMessages(pending)
	c.recordTurnDeltas(snapRoot, preSnap, err)
	return err
}

// compact summarizes the session's history into a short prefix via a unary
// provider call, then replaces the stored history with the summary —
// mirroring ProviderTransport's unary-call shape (a ChatStream call
// collected synchronously, here via llm.CompleteUnary instead of
// turn.Stream since no incremental UI updates are needed).
func (c *Core) compact(ctx context.Context) error {
	history, err := c.loadHistory()
	if err != nil {
		return fmt.Errorf("load history for compact: %w", err)
	}
	if len(history) == 0 {
		return nil
	}

	prompt := provider.Message{
		Role:    "user",
		Content: "Summarize the conversation so far into a concise brief that preserves all decisions, file paths, and outstanding work. Reply with the summary only.",
	}
	resp, err := llm.CompleteUnary(ctx, c.deps.Provider, append(append([]provider.Message{}, history...), prompt), nil)
	if err != nil {
		return fmt.Errorf("compact call: %w", err)
	}

	summary := provider.Message{
		Role:         "assistant",
		Content:      "[conversation compacted]\n\n" + resp.Content,
		CreatedAt:    time.Now(),
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}

	if c.deps.Store != nil {
		if err := c.deps.Store.DeleteMessagesFrom(c.deps.SessionID, 1); err != nil {
			return fmt.Errorf("clear history for compact: %w", err)
		}
	}
	c.contextTokens = resp.OutputTokens
	c.saveMessages([]provider.Message{summary})
	return nil
}

func (c *Core) appendHistory(msg provider.Message) error {
	c.saveMessages([]provider.Message{msg})
	return nil
}

func (c *Core) undo() ([]string, error) {
	if c.deps.DeltaTracker == nil {
		return nil, nil
	}
	return c.deps.DeltaTracker.Undo(c.deps.SessionID, c.deps.DeltaTracker.TurnID())
}

func (c *Core) loadHistory() ([]provider.Message, error) {
	if c.deps.Store == nil {
		return nil, nil
	}
	stored, err := c.deps.Store.LoadMessages(c.deps.SessionID)
	if err != nil {
		return nil, err
	}
	history := store.ToProviderMessages(stored)
	return ensureSystemMessage(history, c.deps.SystemMsg), nil
}

func ensureSystemMessage(history []provider.Message, systemMsg *provider.Message) []provider.Message {
	if systemMsg == nil {
		return history
	}
	for _, msg := range history {
		if msg.Role == "system" {
			return history
		}
	}
	return append([]provider.Message{*systemMsg}, history...)
}

func (c *Core) saveMessages(msgs []provider.Message) {
	if c.deps.Store == nil || len(msgs) == 0 {
		return
	}
	stored := make([]store.SessionMessage, 0, len(msgs))
	for _, msg := range msgs {
		stored = append(stored, messageToStore(msg))
	}
	if err := c.deps.Store.SaveMessages(c.deps.SessionID, stored); err != nil {
		log.Warn().Err(err).Msg("failed to save message batch")
	}
}

func messageToStore(msg provider.Message) store.SessionMessage {
	var tc json.RawMessage
	if len(msg.ToolCalls) > 0 {
		if encoded, err := json.Marshal(msg.ToolCalls); err != nil {
			log.Warn().Err(err).Msg("failed to marshal tool calls")
		} else {
			tc = encoded
		}
	}
	return store.SessionMessage{
		Role:         msg.Role,
		Content:      msg.Content,
		Reasoning:    msg.Reasoning,
		ToolCalls:    tc,
		ToolCallID:   msg.ToolCallID,
		CreatedAt:    msg.CreatedAt,
		InputTokens:  msg.InputTokens,
		OutputTokens: msg.OutputTokens,
	}
}

func (c *Core) snapshotBeforeTurn() (map[string]delta.FileSnapshot, string) {
	dt := c.deps.DeltaTracker
	if dt == nil || dt.TurnID() == 0 {
		return nil, ""
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, ""
	}
	return delta.SnapshotDir(cwd), cwd
}

func (c *Core) recordTurnDeltas(snapRoot string, preSnap map[string]delta.FileSnapshot, err error) {
	if preSnap == nil || err != nil {
		return
	}
	postSnap := delta.SnapshotDir(snapRoot)
	delta.RecordDeltas(c.deps.DeltaTracker, snapRoot, preSnap, postSnap)
}

// ContextTokens returns the most recent input-token estimate used for
// auto-compact threshold checks.
func (c *Core) ContextTokens() int {
	return c.contextTokens
}
