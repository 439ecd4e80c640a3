package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xonecas/symbcore/internal/delegate"
	"github.com/xonecas/symbcore/internal/delta"
	"github.com/xonecas/symbcore/internal/lsp"
	"github.com/xonecas/symbcore/internal/mcp"
	"github.com/xonecas/symbcore/internal/provider"
	"github.com/xonecas/symbcore/internal/shell"
	"github.com/xonecas/symbcore/internal/store"
	"github.com/xonecas/symbcore/internal/subagent"
)

const (
	// MaxSubAgentDepth is the maximum recursion depth for sub-agents.
	// Depth 0 = root agent, depth 1 = sub-agent spawned by root.
	MaxSubAgentDepth = 1

	// MaxSubAgentIterations is the default max tool rounds for sub-agents.
	MaxSubAgentIterations = 5

	// MaxAllowedIterations is the upper bound for user-specified max_iterations.
	MaxAllowedIterations = 20
)

// SubAgentArgs represents arguments for the SubAgent tool.
type SubAgentArgs struct {
	Prompt        string `json:"prompt"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

// NewSubAgentTool creates the SubAgent tool definition.
func NewSubAgentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "SubAgent",
		Description: `Spawn a sub-agent to handle a focused task. The sub-agent runs with the same tools but cannot spawn further sub-agents. Use this to decompose complex tasks into smaller, manageable pieces. The sub-agent's work is returned as a summary.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prompt":         {"type": "string", "description": "Task description for the sub-agent. Be specific about what needs to be accomplished and the expected output format."},
				"max_iterations": {"type": "integer", "description": "Maximum tool rounds for the sub-agent (default: 5)"}
			},
			"required": ["prompt"]
		}`),
	}
}

// SubAgentHandler handles SubAgent tool calls. It is a thin adapter: tool
// schema and argument parsing live here, but the actual run — its run-tree
// placement, attached/detached bookkeeping — is owned by
// delegate.Orchestrator.
type SubAgentHandler struct {
	provider     provider.Provider
	lspManager   *lsp.Manager
	deltaTracker *delta.Tracker
	sh           *shell.Shell
	webCache     *store.Cache
	exaKey       string
	allTools     []mcp.Tool
	orchestrator *delegate.Orchestrator
	conversationID string
}

// NewSubAgentHandler creates a handler for the SubAgent tool.
func NewSubAgentHandler(
	prov provider.Provider,
	lspManager *lsp.Manager,
	deltaTracker *delta.Tracker,
	sh *shell.Shell,
	webCache *store.Cache,
	exaKey string,
	allTools []mcp.Tool,
	orchestrator *delegate.Orchestrator,
	conversationID string,
) *SubAgentHandler {
	// Validate required dependencies
	if prov == nil {
		panic("SubAgentHandler: provider cannot be nil")
	}
	if sh == nil {
		panic("SubAgentHandler: shell cannot be nil")
	}
	if orchestrator == nil {
		panic("SubAgentHandler: orchestrator cannot be nil")
	}
	// lspManager, deltaTracker, webCache can be nil (handlers check internally)

	return &SubAgentHandler{
		provider:       prov,
		lspManager:     lspManager,
		deltaTracker:   deltaTracker,
		sh:             sh,
		webCache:       webCache,
		exaKey:         exaKey,
		allTools:       allTools,
		orchestrator:   orchestrator,
		conversationID: conversationID,
	}
}

// Handle implements the mcp.ToolHandler interface.
func (h *SubAgentHandler) Handle(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return toolError("Sub-agent cancelled: %v", err), nil
	}

	var args SubAgentArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("Invalid arguments: %v", err), nil
	}
	if args.Prompt == "" {
		return toolError("prompt is required"), nil
	}

	maxIter := MaxSubAgentIterations
	if args.MaxIterations > 0 {
		if args.MaxIterations > MaxAllowedIterations {
			return toolError("max_iterations too large (max: %d)", MaxAllowedIterations), nil
		}
		maxIter = args.MaxIterations
	}

	subProxy, filteredTools := h.buildSubProxy()

	run, err := h.orchestrator.Delegate(ctx, delegate.Request{
		Provider:       h.provider,
		Proxy:          subProxy,
		Tools:          filteredTools,
		Prompt:         args.Prompt,
		MaxIterations:  maxIter,
		Attached:       true, // tool calls are synchronous from the model's perspective
		ConversationID: h.conversationID,
		StatusHeader:   "delegating: " + args.Prompt,
	})
	if err != nil {
		return toolError("Sub-agent failed: %v", err), nil
	}
	if runErr := run.Err(); runErr != nil {
		return toolError("Sub-agent failed: %v", runErr), nil
	}

	result := run.Result()
	text := fmt.Sprintf("Sub-agent completed.\n\n%s\n\n---\nToken usage: %d in, %d out",
		result.Content, result.InputTokens, result.OutputTokens)
	return toolText(text), nil
}

// buildSubProxy constructs an isolated tool proxy for one sub-agent run:
// fresh FileReadTracker, fresh scratchpad, no nested SubAgent tool.
func (h *SubAgentHandler) buildSubProxy() (*mcp.Proxy, []mcp.Tool) {
	subTracker := NewFileReadTracker()
	subReadHandler := NewReadHandler(subTracker, h.lspManager)
	subEditHandler := NewEditHandler(subTracker, h.lspManager, h.deltaTracker)
	subShellHandler := NewShellHandler(h.sh, h.deltaTracker)

	subProxy := mcp.NewProxy(nil)
	filteredTools := subagent.FilterTools(h.allTools)

	for _, tool := range filteredTools {
		switch tool.Name {
		case "Read":
			subProxy.RegisterTool(tool, subReadHandler.Handle)
		case "Edit":
			subProxy.RegisterTool(tool, subEditHandler.Handle)
		case "Shell":
			subProxy.RegisterTool(tool, subShellHandler.Handle)
		case "Grep":
			subProxy.RegisterTool(tool, MakeGrepHandler())
		case "TodoWrite":
			subPad := &Scratchpad{}
			subProxy.RegisterTool(tool, MakeTodoWriteHandler(subPad))
		case "WebFetch":
			subProxy.RegisterTool(tool, MakeWebFetchHandler(h.webCache))
		case "WebSearch":
			subProxy.RegisterTool(tool, MakeWebSearchHandler(h.webCache, h.exaKey, ""))
		}
	}
	return subProxy, filteredTools
}
