// Package delegate tracks sub-agent runs spawned during a session: their
// run tree, attached-vs-detached mode, and status-header ownership. It wraps
// internal/subagent.Run (the low-level single-shot runner) with the
// bookkeeping that the teacher's synchronous-only SubAgent tool handler
// never needed.
package delegate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xonecas/symbcore/internal/mcp"
	"github.com/xonecas/symbcore/internal/provider"
	"github.com/xonecas/symbcore/internal/subagent"
	"github.com/xonecas/symbcore/internal/uibridge"
)

// Mode is attached (caller blocks on the result) or detached (the run
// proceeds in the background; the caller is handed a run ID to poll).
type Mode int

const (
	Attached Mode = iota
	Detached
)

// Status tracks a run's lifecycle.
type Status int

const (
	StatusRunning Status = iota
	StatusCompleted
	StatusFailed
	StatusDismissed
)

// Run is one delegate session in the run tree.
type Run struct {
	ID             string
	ParentRunID    string
	ConversationID string
	Mode           Mode
	Prompt         string

	// Depth is the length of the parent chain — 0 for a top-level run.
	Depth int

	mu         sync.Mutex
	status     Status
	result     subagent.Result
	err        error
	startedAt  time.Time
	finishedAt time.Time
	touchedAt  time.Time
	cancel     context.CancelFunc
	done       chan struct{}
}

// Status returns the run's current lifecycle state.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Result returns the run's outcome once StatusCompleted, or the zero value
// before then.
func (r *Run) Result() subagent.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Err returns the run's failure, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Done returns a channel closed once the run finishes (success or failure).
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Cancel requests the run stop.
func (r *Run) Cancel() {
	r.cancel()
}

func (r *Run) finish(result subagent.Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishedAt = time.Now()
	if err != nil {
		r.status = StatusFailed
		r.err = err
		return
	}
	r.status = StatusCompleted
	r.result = result
}

// Request configures one delegate call.
type Request struct {
	Provider       provider.Provider
	Proxy          *mcp.Proxy
	Tools          []mcp.Tool
	Prompt         string
	MaxIterations  int
	Attached       bool
	ParentRunID    string
	ConversationID string

	// StatusHeader, when set, is shown on the UI status line for the
	// duration of the run (attached or detached); ownership hands back to
	// the parent's own header once the run finishes.
	StatusHeader string
}

// Orchestrator owns the run tree for one session (arena keyed by run ID)
// and hands back attached results or detached run handles.
type Orchestrator struct {
	mu            sync.Mutex
	runs          map[string]*Run
	bridge        *uibridge.Bridge
	maxConcurrent int
}

// New creates an Orchestrator. bridge may be nil (no status-header or
// DelegateEvent events are emitted in that case). maxConcurrent caps
// simultaneous in-flight runs (attached and detached together); 0 or less
// defaults to 3.
func New(bridge *uibridge.Bridge, maxConcurrent int) *Orchestrator {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &Orchestrator{
		runs:          make(map[string]*Run),
		bridge:        bridge,
		maxConcurrent: maxConcurrent,
	}
}

// ErrTooManyDelegates is returned when a new run would exceed maxConcurrent.
var ErrTooManyDelegates = fmt.Errorf("delegate: max_concurrent_delegates exceeded")

// depth returns the number of ancestors a run has, walking ParentRunID up
// to the root. Caller must hold o.mu.
func (o *Orchestrator) depth(parentRunID string) int {
	depth := 0
	for parentRunID != "" {
		parent, ok := o.runs[parentRunID]
		if !ok {
			break
		}
		depth++
		parentRunID = parent.ParentRunID
	}
	return depth
}

// label renders a run's indented display label, e.g. "  ↳ #a1b2c3d4".
func label(run *Run) string {
	id := run.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.Repeat("  ", run.Depth) + "↳ #" + id
}

// Delegate spawns a sub-agent run. In attached mode it blocks until the run
// finishes and returns its error directly; in detached mode it returns
// immediately with a Run the caller can poll via Done()/Result()/Err().
func (o *Orchestrator) Delegate(ctx context.Context, req Request) (*Run, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("delegate: prompt is required")
	}

	o.mu.Lock()
	if o.runningCountLocked() >= o.maxConcurrent {
		o.mu.Unlock()
		return nil, ErrTooManyDelegates
	}
	depth := o.depth(req.ParentRunID)
	o.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		ID:             uuid.NewString(),
		ParentRunID:    req.ParentRunID,
		ConversationID: req.ConversationID,
		Prompt:         req.Prompt,
		Depth:          depth,
		startedAt:      time.Now(),
		touchedAt:      time.Now(),
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	if req.Attached {
		run.Mode = Attached
	} else {
		run.Mode = Detached
	}

	o.mu.Lock()
	o.runs[run.ID] = run
	o.mu.Unlock()

	o.emit(run, "started", "")

	execute := func() {
		defer close(run.done)
		defer o.handBack(req)
		result, err := subagent.Run(runCtx, subagent.Options{
			Provider:      req.Provider,
			Proxy:         req.Proxy,
			Tools:         req.Tools,
			Prompt:        req.Prompt,
			MaxIterations: req.MaxIterations,
			OnDelta: func(text string) {
				o.emit(run, "delta", text)
			},
		})
		run.finish(result, err)
		if err != nil {
			o.emit(run, "failed", err.Error())
		} else {
			o.emit(run, "completed", result.Content)
		}
	}

	if req.Attached {
		o.takeOver(req)
		execute()
		return run, run.Err()
	}

	o.takeOver(req)
	go execute()
	return run, nil
}

// runningCountLocked counts runs not yet finished. Caller must hold o.mu.
func (o *Orchestrator) runningCountLocked() int {
	n := 0
	for _, r := range o.runs {
		if r.Status() == StatusRunning {
			n++
		}
	}
	return n
}

// emit posts a DelegateEvent-shaped update for run over the bridge. state is
// one of "started", "delta", "completed", "failed".
func (o *Orchestrator) emit(run *Run, state, text string) {
	if o.bridge == nil {
		return
	}
	o.bridge.TrySend(uibridge.AppEvent{
		Type:          uibridge.EventDelegateUpdate,
		DelegateRunID: run.ID,
		DelegateDepth: run.Depth,
		DelegateLabel: label(run),
		DelegateState: state,
		DelegateText:  text,
	})
}

// takeOver posts the delegate's status header, if any, handing display
// ownership to the child run for its duration.
func (o *Orchestrator) takeOver(req Request) {
	if o.bridge == nil || req.StatusHeader == "" {
		return
	}
	o.bridge.TrySend(uibridge.AppEvent{Type: uibridge.EventStatusHeader, StatusHeader: req.StatusHeader})
}

// handBack clears the delegate's status header once its run finishes,
// returning header ownership to the parent.
func (o *Orchestrator) handBack(req Request) {
	if o.bridge == nil || req.StatusHeader == "" {
		return
	}
	o.bridge.TrySend(uibridge.AppEvent{Type: uibridge.EventStatusHeader, StatusHeader: ""})
}

// ActiveSessions returns every run still in progress.
func (o *Orchestrator) ActiveSessions() []*Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*Run
	for _, r := range o.runs {
		if r.Status() == StatusRunning {
			out = append(out, r)
		}
	}
	return out
}

// DetachedRuns returns every run started in detached mode, regardless of
// status.
func (o *Orchestrator) DetachedRuns() []*Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*Run
	for _, r := range o.runs {
		if r.Mode == Detached {
			out = append(out, r)
		}
	}
	return out
}

// EnterSession looks up a run by ID.
func (o *Orchestrator) EnterSession(runID string) (*Run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.runs[runID]
	return r, ok
}

// TouchSession refreshes a run's last-touched time, used to decide which
// detached runs are still being watched versus abandoned.
func (o *Orchestrator) TouchSession(runID string) {
	o.mu.Lock()
	r, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return
	}
	r.mu.Lock()
	r.touchedAt = time.Now()
	r.mu.Unlock()
}

// DismissDetachedRun cancels a detached run (if still running) and marks it
// dismissed so it no longer shows up as active.
func (o *Orchestrator) DismissDetachedRun(runID string) error {
	o.mu.Lock()
	r, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("delegate: no such run %q", runID)
	}
	if r.Mode != Detached {
		return fmt.Errorf("delegate: run %q is not detached", runID)
	}
	r.Cancel()
	r.mu.Lock()
	r.status = StatusDismissed
	r.mu.Unlock()
	return nil
}

// ParentRunForConversation returns the parent run ID that owns a given
// conversation ID, or "" if no run claims it (e.g. the root conversation).
func (o *Orchestrator) ParentRunForConversation(conversationID string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range o.runs {
		if r.ConversationID == conversationID {
			return r.ParentRunID
		}
	}
	return ""
}
