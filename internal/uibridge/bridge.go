// Package uibridge carries turn/session progress out to whatever UI is
// attached, without that UI's event types leaking into the core. It
// generalizes the teacher's bubbletea-specific updateChan/llmBatchMsg
// draining pattern into a framework-agnostic bounded channel.
package uibridge

import "context"

// Capacity matches spec.md's backpressure bound for the bridge channel.
const Capacity = 1600

// EventType discriminates AppEvent payloads.
type EventType int

const (
	EventContentDelta EventType = iota
	EventReasoningDelta
	EventToolCallBegin
	EventToolCallEnd
	EventUsage
	EventTurnCompleted
	EventTurnError
	EventStatusHeader
	EventNotification
	EventApprovalPrompt
	EventRateLimitWarning
	EventDelegateUpdate
	EventViewImageToolCall
)

// AppEvent is the sum type carried across the bridge. Only the field(s)
// relevant to Type are populated.
type AppEvent struct {
	Type EventType

	ContentDelta   string
	ReasoningDelta string

	ToolName string
	ToolArgs string
	ToolText string

	InputTokens  int
	OutputTokens int

	Err error

	StatusHeader string

	NotificationTitle string
	NotificationBody  string

	// EventApprovalPrompt fields.
	ApprovalRequestID string
	ApprovalKind      string // "exec", "apply_patch", "mcp_elicitation"
	ApprovalSummary   string

	// EventRateLimitWarning fields.
	RateLimitPercent      int
	RateLimitSuggestSwitch bool

	// EventDelegateUpdate fields.
	DelegateRunID string
	DelegateDepth int
	DelegateLabel string // e.g. "↳ #a1b2c3"
	DelegateState string // "started", "delta", "completed", "failed"
	DelegateText  string
}

// Bridge is a bounded, framework-agnostic event channel. Producers (turn,
// session, delegate) send AppEvents; a consumer (the TUI, or a test stub)
// drains them.
type Bridge struct {
	events chan AppEvent
}

// New creates a Bridge with the spec-mandated capacity.
func New() *Bridge {
	return &Bridge{events: make(chan AppEvent, Capacity)}
}

// Send delivers event to the bridge, blocking if the channel is full or
// returning early if ctx is cancelled first.
func (b *Bridge) Send(ctx context.Context, event AppEvent) {
	select {
	case b.events <- event:
	case <-ctx.Done():
	}
}

// TrySend delivers event without blocking, reporting whether it was
// accepted. Producers that must never stall (e.g. a hot delta loop) prefer
// this over Send.
func (b *Bridge) TrySend(event AppEvent) bool {
	select {
	case b.events <- event:
		return true
	default:
		return false
	}
}

// Events exposes the receive-only channel for a consumer's drain loop.
func (b *Bridge) Events() <-chan AppEvent {
	return b.events
}

// Close closes the underlying channel. Producers must not call Send after Close.
func (b *Bridge) Close() {
	close(b.events)
}

// Notifier receives notifications independent of the main event stream,
// letting a UI suppress them while focused. A no-op implementation satisfies
// this trivially for tests or headless runs.
type Notifier interface {
	Notify(title, body string)
}

// NoopNotifier discards every notification.
type NoopNotifier struct{}

// Notify implements Notifier.
func (NoopNotifier) Notify(string, string) {}
