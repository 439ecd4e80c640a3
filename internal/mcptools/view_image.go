package mcptools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xonecas/symbcore/internal/mcp"
	"github.com/xonecas/symbcore/internal/uibridge"
)

// ViewImageArgs represents arguments for the ViewImage tool.
type ViewImageArgs struct {
	File string `json:"file"`
}

var imageMimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
}

// NewViewImageTool creates the ViewImage tool definition.
func NewViewImageTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ViewImage",
		Description: `Attaches a local image file (png, jpg, gif, webp, heic, heif) to the conversation so it can be viewed. Use this for screenshots, diagrams, or other visual references the other tools can't render as text.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file": {"type": "string", "description": "Path to the image file"}
			},
			"required": ["file"]
		}`),
	}
}

// ViewImageHandler handles ViewImage tool calls.
type ViewImageHandler struct {
	bridge *uibridge.Bridge
}

// NewViewImageHandler creates a handler for the ViewImage tool. bridge may
// be nil (no UI event is emitted in that case).
func NewViewImageHandler(bridge *uibridge.Bridge) *ViewImageHandler {
	return &ViewImageHandler{bridge: bridge}
}

// Handle implements the mcp.ToolHandler interface. An unrecognized image
// type is not a tool failure: it returns text-only success (no image
// content block) rather than an error result, matching a client that can
// still acknowledge the attachment without being able to render it.
func (h *ViewImageHandler) Handle(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	var args ViewImageArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("Invalid arguments: %v", err), nil
	}
	if args.File == "" {
		return toolError("File path cannot be empty"), nil
	}

	ext := strings.ToLower(filepath.Ext(args.File))
	mimeType, known := imageMimeTypes[ext]
	if !known {
		h.emit(args.File, "")
		return toolText(fmt.Sprintf("%s has an unrecognized image type (%s); attached as text reference only, no preview available.", args.File, ext)), nil
	}

	absPath, err := validatePath(args.File)
	if err != nil {
		return toolError("%v", err), nil
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return toolError("Failed to read image: %v", err), nil
	}

	h.emit(args.File, mimeType)
	return &mcp.ToolResult{
		Content: []mcp.ContentBlock{
			{Type: "text", Text: fmt.Sprintf("Attached image: %s", args.File)},
			{Type: "image", Data: base64.StdEncoding.EncodeToString(data), MimeType: mimeType},
		},
	}, nil
}

// emit posts a ViewImageToolCall UI event, on every path (known or unknown
// MIME alike) — a UI consumer may want to acknowledge the attempt even when
// no image preview is attached.
func (h *ViewImageHandler) emit(file, mimeType string) {
	if h.bridge == nil {
		return
	}
	h.bridge.TrySend(uibridge.AppEvent{
		Type:     uibridge.EventViewImageToolCall,
		ToolName: "ViewImage",
		ToolArgs: file,
		ToolText: mimeType,
	})
}
