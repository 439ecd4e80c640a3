package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
	"github.com/xonecas/symbcore/internal/approval"
	"github.com/xonecas/symbcore/internal/delta"
	"github.com/xonecas/symbcore/internal/lsp"
	"github.com/xonecas/symbcore/internal/mcp"
	"github.com/xonecas/symbcore/internal/treesitter"
)

// Change is the desired end-state for one file in an ApplyPatch call.
type Change struct {
	Content string `json:"content"`          // full new content
	Delete  bool   `json:"delete,omitempty"` // true to remove the file instead
}

// ApplyPatchArgs represents arguments for the ApplyPatch tool. Unlike Edit,
// which applies one hash-anchored operation to one file, ApplyPatch takes a
// full-content snapshot per file and commits them together: either every
// file in the set lands, or none do.
type ApplyPatchArgs struct {
	Changes map[string]Change `json:"changes"`
}

// NewApplyPatchTool creates the ApplyPatch tool definition.
func NewApplyPatchTool() mcp.Tool {
	return mcp.Tool{
		Name: "ApplyPatch",
		Description: `Apply changes to multiple files as a single all-or-nothing operation.
Provide the full new content for each file you want to change. Existing files are overwritten;
files that don't exist yet are created. Set "delete": true to remove a file instead of writing it.
If writing any file fails, all files already written in this call are rolled back.
Prefer Edit for single hash-anchored changes; use ApplyPatch when several files must change together.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"changes": {
					"type": "object",
					"description": "Map of file path to the change to apply",
					"additionalProperties": {
						"type": "object",
						"properties": {
							"content": {"type": "string", "description": "Full new file content"},
							"delete":  {"type": "boolean", "description": "Remove the file instead of writing content"}
						}
					}
				}
			},
			"required": ["changes"]
		}`),
	}
}

// ApplyPatchHandler handles ApplyPatch tool calls.
type ApplyPatchHandler struct {
	deltaTracker *delta.Tracker
	lspManager   *lsp.Manager
	tsIndex      *treesitter.Index
	gate         *approval.Gate
}

// NewApplyPatchHandler creates a handler for the ApplyPatch tool. gate may be
// nil, in which case patches apply without approval (matching the teacher's
// unmediated file writes).
func NewApplyPatchHandler(dt *delta.Tracker, lspManager *lsp.Manager, tsIndex *treesitter.Index, gate *approval.Gate) *ApplyPatchHandler {
	return &ApplyPatchHandler{deltaTracker: dt, lspManager: lspManager, tsIndex: tsIndex, gate: gate}
}

// SetTSIndex sets the tree-sitter index for incremental updates on patch apply.
func (h *ApplyPatchHandler) SetTSIndex(idx *treesitter.Index) { h.tsIndex = idx }

// Handle implements the mcp.ToolHandler interface.
func (h *ApplyPatchHandler) Handle(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	var args ApplyPatchArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("Invalid arguments: %v", err), nil
	}
	if len(args.Changes) == 0 {
		return toolError("changes cannot be empty"), nil
	}

	changes := make([]delta.FileChange, 0, len(args.Changes))
	var summary strings.Builder
	for file, change := range args.Changes {
		absPath, err := validatePath(file)
		if err != nil {
			return toolError("%s: %v", file, err), nil
		}
		old, readErr := os.ReadFile(absPath)
		existed := readErr == nil

		if change.Delete {
			if !existed {
				return toolError("%s: cannot delete, file does not exist", file), nil
			}
			changes = append(changes, delta.FileChange{Path: absPath, OldContent: old, NewContent: nil, Create: false})
			fmt.Fprintf(&summary, "Deleted %s\n", file)
			continue
		}

		diff := diffSummary(file, string(old), change.Content, existed)
		changes = append(changes, delta.FileChange{
			Path:       absPath,
			OldContent: old,
			NewContent: []byte(change.Content),
			Create:     !existed,
		})
		summary.WriteString(diff)
	}

	if h.gate != nil {
		paths := make([]string, len(changes))
		for i, c := range changes {
			paths[i] = c.Path
		}
		if err := h.gate.RequestApplyPatch(ctx, paths); err != nil {
			return toolError("Patch not approved: %v", err), nil
		}
	}

	if err := applyPatchChanges(h.deltaTracker, changes); err != nil {
		return toolError("Failed to apply patch: %v", err), nil
	}

	for file, change := range args.Changes {
		if change.Delete {
			continue
		}
		absPath, _ := validatePath(file)
		if h.lspManager != nil {
			h.lspManager.NotifyAndWait(ctx, absPath, 0)
		}
		if h.tsIndex != nil {
			h.tsIndex.UpdateFile(absPath)
		}
	}

	return &mcp.ToolResult{
		Content: []mcp.ContentBlock{{Type: "text", Text: fmt.Sprintf("Applied patch to %d file(s):\n\n%s", len(args.Changes), summary.String())}},
	}, nil
}

// applyPatchChanges applies changes atomically via the delta tracker, or
// writes/removes files directly when no tracker is configured.
func applyPatchChanges(dt *delta.Tracker, changes []delta.FileChange) error {
	if dt != nil {
		return dt.ApplyAtomic(changes)
	}
	for _, c := range changes {
		if c.NewContent == nil {
			if err := os.Remove(c.Path); err != nil {
				return err
			}
			continue
		}
		if err := os.WriteFile(c.Path, c.NewContent, 0600); err != nil {
			return err
		}
	}
	return nil
}

// diffSummary renders a unified diff header plus body for display in the tool result.
func diffSummary(displayPath, oldContent, newContent string, existed bool) string {
	if !existed {
		return fmt.Sprintf("Created %s\n", displayPath)
	}
	uri := span.URIFromPath(displayPath)
	edits := myers.ComputeEdits(uri, oldContent, newContent)
	if len(edits) == 0 {
		return fmt.Sprintf("%s unchanged\n", displayPath)
	}
	diff := fmt.Sprint(gotextdiff.ToUnified(displayPath, displayPath, oldContent, edits))
	return diff + "\n"
}
