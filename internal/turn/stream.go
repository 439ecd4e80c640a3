// Package turn drives one conversation turn end to end: it wraps
// internal/llm's ProcessTurn loop (streamAndCollect/collectWithDeltas),
// forwarding its events into a uibridge.Bridge (content deltas coalesced to
// CommitTick) instead of a bubbletea-specific channel, and draining
// deferred UI events through an interruptqueue.Queue at each write-cycle
// boundary.
package turn

import (
	"context"
	"time"

	"github.com/xonecas/symbcore/internal/interruptqueue"
	"github.com/xonecas/symbcore/internal/llm"
	"github.com/xonecas/symbcore/internal/mcp"
	"github.com/xonecas/symbcore/internal/provider"
	"github.com/xonecas/symbcore/internal/uibridge"
)

// CommitTick is the pacing interval text deltas are coalesced to before
// being forwarded to the bridge (~20 Hz). It is coarser than the TUI's own
// frameTick in tui/messages.go (~16ms/60fps); the pacing lives here so any
// UIBridge consumer gets it.
const CommitTick = 50 * time.Millisecond

// Options configures a single turn.
type Options struct {
	Provider      provider.Provider
	Proxy         *mcp.Proxy
	Tools         []mcp.Tool
	History       []provider.Message
	Scratchpad    llm.ScratchpadReader
	MaxToolRounds int
	Depth         int

	Bridge   *uibridge.Bridge
	Queue    *interruptqueue.Queue
	OnMessage llm.MessageCallback
}

// Stream runs one turn, forwarding deltas, tool-call markers, usage, and
// completion/error events to opts.Bridge. Returns the error from the
// underlying ProcessTurn call, if any.
func Stream(ctx context.Context, opts Options) error {
	sent := false // suppresses duplicate StreamError events within this turn
	pc := newPacer(CommitTick)
	toolNames := map[string]string{} // tool call ID -> name, for the matching End event

	err := llm.ProcessTurn(ctx, llm.ProcessTurnOptions{
		Provider:      opts.Provider,
		Proxy:         opts.Proxy,
		Tools:         opts.Tools,
		History:       opts.History,
		Scratchpad:    opts.Scratchpad,
		MaxToolRounds: opts.MaxToolRounds,
		Depth:         opts.Depth,
		OnMessage: func(msg provider.Message) {
			if msg.Role == "tool" {
				deferEvent(opts.Queue, opts.Bridge, uibridge.AppEvent{
					Type:     uibridge.EventToolCallEnd,
					ToolName: toolNames[msg.ToolCallID],
					ToolText: msg.Content,
				})
			}
			if opts.OnMessage != nil {
				opts.OnMessage(msg)
			}
			flushWriteCycle(opts.Queue, opts.Bridge)
		},
		OnDelta: func(evt provider.StreamEvent) {
			forwardDelta(ctx, opts.Bridge, opts.Queue, pc, evt, toolNames, &sent)
		},
		OnToolCall: func() {
			flushWriteCycle(opts.Queue, opts.Bridge)
		},
		OnUsage: func(in, out int) {
			opts.Bridge.TrySend(uibridge.AppEvent{
				Type:         uibridge.EventUsage,
				InputTokens:  in,
				OutputTokens: out,
			})
		},
	})

	if leftover := pc.flushRemainder(); leftover != "" {
		opts.Bridge.TrySend(uibridge.AppEvent{Type: uibridge.EventContentDelta, ContentDelta: leftover})
	}

	if err != nil {
		if !sent {
			sent = true
			opts.Bridge.TrySend(uibridge.AppEvent{Type: uibridge.EventTurnError, Err: err})
		}
		return err
	}
	opts.Bridge.TrySend(uibridge.AppEvent{Type: uibridge.EventTurnCompleted})
	return nil
}

func forwardDelta(ctx context.Context, bridge *uibridge.Bridge, q *interruptqueue.Queue, p *pacer, evt provider.StreamEvent, toolNames map[string]string, sent *bool) {
	switch evt.Type {
	case provider.EventContentDelta:
		p.add(evt.Content)
		if p.ready() {
			bridge.Send(ctx, uibridge.AppEvent{Type: uibridge.EventContentDelta, ContentDelta: p.take()})
		}
	case provider.EventReasoningDelta:
		bridge.TrySend(uibridge.AppEvent{Type: uibridge.EventReasoningDelta, ReasoningDelta: evt.Content})
	case provider.EventToolCallBegin:
		toolNames[evt.ToolCallID] = evt.ToolCallName
		deferEvent(q, bridge, uibridge.AppEvent{Type: uibridge.EventToolCallBegin, ToolName: evt.ToolCallName})
	case provider.EventError:
		if !*sent {
			*sent = true
			bridge.TrySend(uibridge.AppEvent{Type: uibridge.EventTurnError, Err: evt.Err})
		}
	}
}

// deferEvent routes a tool-lifecycle/approval-prompt event through q instead
// of sending it to the bridge directly: if a write cycle is already mid
// flush (something else is pending ahead of it), event queues behind it
// rather than jumping the bridge out of order; otherwise it is sent at once.
func deferEvent(q *interruptqueue.Queue, bridge *uibridge.Bridge, event uibridge.AppEvent) {
	if q == nil {
		bridge.TrySend(event)
		return
	}
	q.DeferOrHandle(event, func() { bridge.TrySend(event) })
}

// flushWriteCycle drains any interrupt-queued UI events (pause/cancel/user
// input arriving mid-stream, or a tool-begin/end event queued behind one of
// those) now that the turn has reached a safe boundary — a completed message
// or the point right before tool execution.
func flushWriteCycle(q *interruptqueue.Queue, bridge *uibridge.Bridge) {
	if q == nil {
		return
	}
	q.FlushAll(func(event any) {
		if ev, ok := event.(uibridge.AppEvent); ok {
			bridge.TrySend(ev)
		}
	})
}

// pacer coalesces content deltas to CommitTick cadence.
type pacer struct {
	interval time.Duration
	last     time.Time
	buf      string
}

func newPacer(interval time.Duration) *pacer {
	return &pacer{interval: interval, last: time.Now()}
}

func (p *pacer) add(s string) { p.buf += s }

func (p *pacer) ready() bool {
	if p.buf == "" {
		return false
	}
	if time.Since(p.last) < p.interval {
		return false
	}
	return true
}

func (p *pacer) take() string {
	s := p.buf
	p.buf = ""
	p.last = time.Now()
	return s
}

// flushRemainder returns and clears any buffered content regardless of
// pacing, for use once streaming has ended.
func (p *pacer) flushRemainder() string {
	s := p.buf
	p.buf = ""
	return s
}
