// Package approval implements a cooperative, policy-driven gate for command
// execution, patch application, and MCP tool elicitation. The teacher never
// asks the user anything — shell.DefaultBlockFuncs unconditionally blocks a
// fixed command list. This package gives a UI a real interception point,
// wrapping the same mvdan.cc/sh/v3 interp.ExecHandlerFunc the teacher's
// blockHandler already hooks, but suspending on a channel waiting for a
// UI-posted decision instead of returning an immediate error.
package approval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"mvdan.cc/sh/v3/interp"

	"github.com/xonecas/symbcore/internal/interruptqueue"
	"github.com/xonecas/symbcore/internal/uibridge"
)

// Policy selects how aggressively requests require approval.
type Policy int

const (
	// Untrusted requires approval for every request.
	Untrusted Policy = iota
	// OnRequest auto-approves anything within the sandbox, asking only when
	// a request would step outside it.
	OnRequest
	// OnFailure behaves like OnRequest here: this gate is the only sandbox
	// enforcement point available, so there is no separate "try, then catch
	// a sandbox failure" signal to act on — asking only once the sandbox
	// itself would deny the request is the same decision either way.
	OnFailure
	// Never auto-approves everything within the sandbox and silently denies
	// everything outside it; it never asks.
	Never
)

// SandboxPolicy bounds what an approved request may touch.
type SandboxPolicy int

const (
	ReadOnly SandboxPolicy = iota
	WorkspaceWrite
	DangerFullAccess
)

// ErrAborted is returned when a pending approval request is rejected.
var ErrAborted = errors.New("approval: request rejected")

// Decision is the UI's answer to an approval Request.
type Decision int

const (
	Denied Decision = iota
	Approved
	ApprovedForSession
)

// Kind discriminates the ApprovalRequest sum type (spec.md §3/§4.4).
type Kind int

const (
	KindExec Kind = iota
	KindApplyPatch
	KindMcpElicitation
)

func (k Kind) String() string {
	switch k {
	case KindExec:
		return "exec"
	case KindApplyPatch:
		return "apply_patch"
	case KindMcpElicitation:
		return "mcp_elicitation"
	default:
		return "unknown"
	}
}

// Request describes something awaiting approval. Only the field(s) relevant
// to Kind are populated.
type Request struct {
	Kind Kind

	Command []string // KindExec
	Paths   []string // KindApplyPatch
	ToolName string  // KindMcpElicitation

	Cwd       string
	RequestID string

	decision chan Decision
}

// Respond delivers the UI's decision for this request. Safe to call once.
func (r *Request) Respond(d Decision) {
	r.decision <- d
}

// Summary renders a short human-readable description of what's being approved.
func (r *Request) Summary() string {
	switch r.Kind {
	case KindExec:
		return strings.Join(r.Command, " ")
	case KindApplyPatch:
		return "apply patch: " + strings.Join(r.Paths, ", ")
	case KindMcpElicitation:
		return "mcp tool: " + r.ToolName
	default:
		return ""
	}
}

// route is the outcome of crossing policy with sandbox containment, before
// any UI round trip.
type route int

const (
	routeAsk route = iota
	routeAutoApprove
	routeAutoDeny
)

// Gate mediates approval for exec, apply-patch, and MCP elicitation
// requests. RequestFunc is supplied by the caller (a UI adapter posts the
// request and eventually calls Request.Respond); if nil, every request that
// would otherwise ask auto-denies, matching a headless/never-interactive run.
type Gate struct {
	mu       sync.Mutex
	policy   Policy
	sandbox  SandboxPolicy
	roots    []string
	approved map[string]bool // request key -> approved-for-session
	pending  map[string]*Request
	nextID   int

	// RequestFunc is called with each pending Request; it must eventually
	// call Request.Respond (directly or from another goroutine, e.g. a UI
	// event handler that later calls Gate.Resolve).
	RequestFunc func(ctx context.Context, req *Request)

	// Bridge and Queue, if set, post an EventApprovalPrompt for every
	// request that reaches ask() — routed through Queue the same way
	// internal/turn defers tool-lifecycle events, so an approval prompt
	// arriving mid-write-cycle queues in order instead of jumping ahead of
	// pending UI events.
	Bridge *uibridge.Bridge
	Queue  *interruptqueue.Queue
}

// New creates a Gate with the given policy, sandbox bounds, and — for
// WorkspaceWrite — the filesystem roots a request must stay under. roots is
// ignored for ReadOnly and DangerFullAccess.
func New(policy Policy, sandbox SandboxPolicy, roots []string) *Gate {
	return &Gate{
		policy:   policy,
		sandbox:  sandbox,
		roots:    roots,
		approved: make(map[string]bool),
		pending:  make(map[string]*Request),
	}
}

// ExecHandler wraps the next interp.ExecHandlerFunc, gating it on policy.
func (g *Gate) ExecHandler(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if len(args) == 0 {
			return next(ctx, args)
		}
		req := &Request{Kind: KindExec, Command: args}
		decision, err := g.evaluate(ctx, req, g.withinSandboxExec(args))
		if err != nil {
			return err
		}
		if decision == Denied {
			return fmt.Errorf("%w: %q", ErrAborted, strings.Join(args, " "))
		}
		return next(ctx, args)
	}
}

// RequestApplyPatch gates writing the given file paths as a single
// all-or-nothing patch, per spec.md §4.3/§4.4.
func (g *Gate) RequestApplyPatch(ctx context.Context, paths []string) error {
	req := &Request{Kind: KindApplyPatch, Paths: paths}
	decision, err := g.evaluate(ctx, req, g.withinSandboxPaths(paths))
	if err != nil {
		return err
	}
	if decision == Denied {
		return fmt.Errorf("%w: apply patch to %s", ErrAborted, strings.Join(paths, ", "))
	}
	return nil
}

// RequestMcpElicitation gates an upstream MCP tool call that asks the user
// something directly. The sandbox policy has no bearing on this column of
// the table — only the approval policy does.
func (g *Gate) RequestMcpElicitation(ctx context.Context, toolName string) error {
	req := &Request{Kind: KindMcpElicitation, ToolName: toolName}
	decision, err := g.evaluate(ctx, req, true)
	if err != nil {
		return err
	}
	if decision == Denied {
		return fmt.Errorf("%w: mcp tool %q", ErrAborted, toolName)
	}
	return nil
}

// Resolve delivers a decision for a request previously posted via Bridge, by
// RequestID. Returns false if no such request is pending (already resolved
// or never existed).
func (g *Gate) Resolve(requestID string, decision Decision) bool {
	g.mu.Lock()
	req, ok := g.pending[requestID]
	g.mu.Unlock()
	if !ok {
		return false
	}
	req.Respond(decision)
	return true
}

func (g *Gate) evaluate(ctx context.Context, req *Request, withinSandbox bool) (Decision, error) {
	if g.isApprovedForSession(req) {
		return Approved, nil
	}
	switch g.decideRoute(req, withinSandbox) {
	case routeAutoApprove:
		return Approved, nil
	case routeAutoDeny:
		return Denied, nil
	default:
		decision, err := g.ask(ctx, req)
		if err != nil {
			return Denied, err
		}
		if decision == ApprovedForSession {
			g.memoize(req)
		}
		return decision, nil
	}
}

// decideRoute implements spec.md §4.4's policy table.
func (g *Gate) decideRoute(req *Request, withinSandbox bool) route {
	if req.Kind == KindMcpElicitation {
		if g.policy == Never {
			return routeAutoApprove // "auto-approve-ok"
		}
		return routeAsk // Untrusted, OnRequest, OnFailure all ask
	}

	switch g.policy {
	case Untrusted:
		return routeAsk
	case Never:
		if withinSandbox {
			return routeAutoApprove
		}
		return routeAutoDeny
	case OnRequest, OnFailure:
		if withinSandbox {
			return routeAutoApprove
		}
		return routeAsk
	default:
		return routeAsk
	}
}

func (g *Gate) ask(ctx context.Context, req *Request) (Decision, error) {
	if g.RequestFunc == nil {
		return Denied, nil
	}
	req.decision = make(chan Decision, 1)
	req.RequestID = g.trackPending(req)
	defer g.untrackPending(req.RequestID)

	g.postPrompt(req)
	g.RequestFunc(ctx, req)
	select {
	case d := <-req.decision:
		return d, nil
	case <-ctx.Done():
		return Denied, ctx.Err()
	}
}

// postPrompt announces a pending request over Bridge, deferred through Queue
// if one is set, so a UI consumer can render it and eventually call Resolve.
func (g *Gate) postPrompt(req *Request) {
	if g.Bridge == nil {
		return
	}
	event := uibridge.AppEvent{
		Type:              uibridge.EventApprovalPrompt,
		ApprovalRequestID: req.RequestID,
		ApprovalKind:      req.Kind.String(),
		ApprovalSummary:   req.Summary(),
	}
	if g.Queue != nil {
		g.Queue.DeferOrHandle(event, func() { g.Bridge.TrySend(event) })
		return
	}
	g.Bridge.TrySend(event)
}

func (g *Gate) trackPending(req *Request) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := "appr-" + strconv.Itoa(g.nextID)
	g.pending[id] = req
	return id
}

func (g *Gate) untrackPending(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, id)
}

func (g *Gate) isApprovedForSession(req *Request) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.approved[requestKey(req)]
}

func (g *Gate) memoize(req *Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.approved[requestKey(req)] = true
}

// requestKey identifies a request for ApprovedForSession memoization: same
// command, same path root, or same MCP tool name auto-approve for the rest
// of the session.
func requestKey(req *Request) string {
	switch req.Kind {
	case KindExec:
		if len(req.Command) == 0 {
			return ""
		}
		return "exec:" + req.Command[0]
	case KindApplyPatch:
		if len(req.Paths) == 0 {
			return ""
		}
		return "patch:" + firstPathRoot(req.Paths[0])
	case KindMcpElicitation:
		return "mcp:" + req.ToolName
	default:
		return ""
	}
}

func firstPathRoot(p string) string {
	clean := filepath.Clean(p)
	parts := strings.Split(clean, string(filepath.Separator))
	if len(parts) == 0 {
		return clean
	}
	if parts[0] == "" && len(parts) > 1 {
		return string(filepath.Separator) + parts[1]
	}
	return parts[0]
}

// withinSandboxExec reports whether args stays within g's sandbox bounds.
func (g *Gate) withinSandboxExec(args []string) bool {
	switch g.sandbox {
	case DangerFullAccess:
		return true
	case ReadOnly:
		return !isWriteCommand(args)
	case WorkspaceWrite:
		if !isWriteCommand(args) {
			return true
		}
		return pathsWithinRoots(extractPaths(args), g.roots)
	default:
		return false
	}
}

// withinSandboxPaths reports whether every path in paths stays within g's
// sandbox bounds. ApplyPatch always writes, so ReadOnly never allows it.
func (g *Gate) withinSandboxPaths(paths []string) bool {
	switch g.sandbox {
	case DangerFullAccess:
		return true
	case ReadOnly:
		return false
	case WorkspaceWrite:
		return pathsWithinRoots(paths, g.roots)
	default:
		return false
	}
}

// pathsWithinRoots reports whether every path is contained in some root. No
// configured roots means no WorkspaceWrite bound was given — treated as
// unrestricted rather than forbidding everything.
func pathsWithinRoots(paths, roots []string) bool {
	if len(roots) == 0 {
		return true
	}
	for _, p := range paths {
		if !pathWithinAnyRoot(p, roots) {
			return false
		}
	}
	return true
}

func pathWithinAnyRoot(p string, roots []string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	for _, root := range roots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if abs == rootAbs || strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// extractPaths is a coarse heuristic pulling path-like operands out of an
// exec command line: everything after the command name that isn't a flag.
func extractPaths(args []string) []string {
	var out []string
	for _, a := range args[1:] {
		if strings.HasPrefix(a, "-") {
			continue
		}
		out = append(out, a)
	}
	return out
}

// isWriteCommand is a coarse heuristic distinguishing commands that plausibly
// mutate the filesystem from ones that only read it, for ReadOnly sandboxing.
func isWriteCommand(args []string) bool {
	switch args[0] {
	case "rm", "mv", "cp", "mkdir", "rmdir", "touch", "chmod", "chown", "tee",
		"truncate", "dd", "git":
		return true
	default:
		return false
	}
}
