package tui

import (
	"context"
	"image"
	"regexp"
	"sync/atomic"
	"time"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"github.com/xonecas/symbcore/internal/approval"
	"github.com/xonecas/symbcore/internal/delta"
	"github.com/xonecas/symbcore/internal/filesearch"
	"github.com/xonecas/symbcore/internal/llm"
	"github.com/xonecas/symbcore/internal/lsp"
	"github.com/xonecas/symbcore/internal/mcp"
	"github.com/xonecas/symbcore/internal/mcptools"
	"github.com/xonecas/symbcore/internal/provider"
	"github.com/xonecas/symbcore/internal/store"
	"github.com/xonecas/symbcore/internal/treesitter"
	"github.com/xonecas/symbcore/internal/tui/editor"
	"github.com/xonecas/symbcore/internal/tui/modal"
	"github.com/xonecas/symbcore/internal/uibridge"
)

// ---------------------------------------------------------------------------
// Layout
// ---------------------------------------------------------------------------

// layout holds computed rectangles for every TUI region.
// Recomputed from terminal dimensions on every resize.
type layout struct {
	editor image.Rectangle // Left pane: code viewer
	conv   image.Rectangle // Right pane: conversation log
	sep    image.Rectangle // Right pane: separator between conv and input
	input  image.Rectangle // Right pane: agent input
	div    image.Rectangle // Vertical divider column (1-wide)
}

const (
	inputRows       = 3 // Agent input height
	statusRows      = 2 // Status separator + status bar
	minPaneWidth    = 20
	maxPreviewLines = 5  // Max lines shown for tool results before truncation
	maxDisplayTurns = 50 // Max turns kept as display entries before trimming

	roleAssistant = "assistant"
)

// entryKind distinguishes conversation entry types for click/render handling.
type entryKind int

const (
	entryText       entryKind = iota // Plain text (user, assistant reasoning/content)
	entryToolResult                  // Tool result — clickable "view" opens full content
	entryToolDiag                    // LSP diagnostic line attached to a tool result
	entryToolCall                    // Tool call arrow line (not clickable)
	entrySeparator                   // Turn timestamp/token separator (centered)
	entryUndo                        // Undo control below the latest separator (centered)
)

// convEntry is a single logical entry in the conversation pane.
type convEntry struct {
	display  string    // Styled text for rendering (may be truncated for tool results)
	kind     entryKind // Entry type
	filePath string    // Source file path (for tool results that reference a file)
	full     string    // Fallback raw content (when no file path, e.g. search results)
	toolName string    // Tool that produced this entry, e.g. "Read", "Edit", "Shell"
	line     int        // Target line for cursor positioning when opened
}

// toolResultFileRe extracts the file path from "Read path ..." / "Edited path ..." / "Created path ..." headers.
var toolResultFileRe = regexp.MustCompile(`^(?:Read|Edited|Created)\s+(\S+)`)

// generateLayout computes all regions from terminal size and divider position.
func generateLayout(width, height, divX int) layout {
	contentH := height - statusRows
	if contentH < 1 {
		contentH = 1
	}

	// Vertical divider splits left/right at column divX.
	rightX := divX + 1
	rightW := width - rightX
	if rightW < 1 {
		rightW = 1
	}

	// Right pane vertical splits: conv | sep(1) | input(3)
	sepY := contentH - inputRows - 1
	if sepY < 0 {
		sepY = 0
	}
	inputY := contentH - inputRows
	if inputY < 0 {
		inputY = 0
	}

	return layout{
		editor: image.Rect(0, 0, divX, contentH),
		div:    image.Rect(divX, 0, divX+1, contentH),
		conv:   image.Rect(rightX, 0, rightX+rightW, sepY),
		sep:    image.Rect(rightX, sepY, rightX+rightW, sepY+1),
		input:  image.Rect(rightX, inputY, rightX+rightW, inputY+inputRows),
	}
}

// inRect returns true if screen point (x,y) is inside r.
func inRect(x, y int, r image.Rectangle) bool {
	return image.Pt(x, y).In(r)
}

// ---------------------------------------------------------------------------
// Focus
// ---------------------------------------------------------------------------

type focus int

const (
	focusInput  focus = iota // Default: agent input has focus
	focusEditor              // Code viewer has focus
)

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

// Model is the top-level TUI model.
type Model struct {
	// Terminal dimensions
	width, height int

	// Sub-models
	editor     editor.Model
	agentInput editor.Model

	// Modals — at most one is open at a time.
	fileModal     *modal.Model
	keybindsModal *modal.Model
	modelsModal   *modal.Model
	toolViewModal *modal.ToolView

	// Layout
	layout layout
	divX   int // Divider X position (resizable)
	focus  focus
	styles Styles

	// LLM / provider
	provider           provider.Provider
	sharedProvider     *atomic.Pointer[provider.Provider]
	registry           *provider.Registry
	providerOpts       provider.Options
	providerConfigName string
	currentModelName   string
	cachedModels       []provider.TaggedModel
	mcpProxy           *mcp.Proxy
	mcpTools           []mcp.Tool
	updateChan         chan tea.Msg
	ctx                context.Context
	cancel             context.CancelFunc
	scratchpad         llm.ScratchpadReader
	initialSystemMsg   *provider.Message

	// Turn lifecycle
	turnCtx          context.Context
	turnCancel       context.CancelFunc
	llmInFlight      bool
	turnPending      bool
	undoInFlight     bool
	pendingToolCalls map[string]provider.ToolCall
	turnBoundaries   []turnBoundary

	totalInputTokens  int
	totalOutputTokens int
	turnInputTokens   int
	turnOutputTokens  int
	turnContextTokens int

	// Persistence
	sessionID      string
	store          *store.Cache
	storeQueue     chan storeBatch
	storeQueueDone <-chan struct{}
	deltaTracker   *delta.Tracker
	fileTracker    *mcptools.FileReadTracker
	tsIndex        *treesitter.Index

	// File search modal / @ mention completion
	searcher *filesearch.Searcher
	atOffset int

	// Conversation
	convEntries    []convEntry // Conversation entries (not wrapped)
	convLineSource []int       // Maps each wrapped line -> index in convEntries
	frameLines     []string    // Wrapped lines cache, invalidated every Update
	scrollOffset   int         // Lines from bottom (0 = pinned)

	convSel      *convSelection // Active drag-selection in the conversation pane, nil if none
	convDragging bool

	// Streaming state: raw text accumulated during streaming, styled on tick
	streamingReasoning string // In-progress reasoning text
	streamingContent   string // In-progress content text
	streaming          bool   // Whether we're currently streaming
	streamEntryStart   int    // Index in convEntries where streaming entries begin (-1 = none)
	streamDirty        bool   // Set by deltas, cleared by the frame tick rebuild

	// Mouse state
	resizingPane bool

	// Status bar
	gitBranch      string
	gitDirty       bool
	lspErrors      int
	lspWarnings    int
	editorFilePath string
	lastNetError   string
	spinFrame      int
	spinFrameAt    time.Time

	// Approval prompts — posted by approval.Gate over the bridge as an
	// EventApprovalPrompt (see handleBridgeEvent), resolved by a keypress
	// calling approvalGate.Resolve.
	approvalGate    *approval.Gate
	pendingApproval *pendingApprovalPrompt

	// bridge carries approval prompts and rate-limit warnings from the
	// composition root; drained by waitForBridgeEvent.
	bridge               *uibridge.Bridge
	rateLimitWarning     string
	rateLimitSuggestSwitch bool
}

// New creates a new TUI model.
func New(
	prov provider.Provider,
	proxy *mcp.Proxy,
	tools []mcp.Tool,
	modelID string,
	registry *provider.Registry,
	sessionID string,
	db *store.Cache,
	fileTracker *mcptools.FileReadTracker,
	deltaTracker *delta.Tracker,
	scratchpad llm.ScratchpadReader,
	providerConfigName string,
	lspManager *lsp.Manager,
	tsIndex *treesitter.Index,
	searcher *filesearch.Searcher,
	providerOpts provider.Options,
	syntaxTheme string,
	approvalGate *approval.Gate,
	bridge *uibridge.Bridge,
) Model {
	initTheme(syntaxTheme)
	sty := DefaultStyles()
	cursorStyle := lipgloss.NewStyle().Foreground(ColorHighlight)

	ed := editor.New()
	ed.ShowLineNumbers = true
	ed.ReadOnly = true
	ed.Language = "markdown"
	ed.SyntaxTheme = syntaxTheme
	ed.CursorStyle = cursorStyle
	ed.LineNumStyle = lipgloss.NewStyle().Foreground(ColorBorder)
	ed.BgColor = ColorBg

	ai := editor.New()
	ai.Placeholder = "Type a message..."
	ai.CursorStyle = cursorStyle
	ai.PlaceholderSty = lipgloss.NewStyle().Foreground(ColorDim).Background(ColorBg)
	ai.BgColor = ColorBg
	ai.Focus()

	ch := make(chan tea.Msg, 500)
	ctx, cancel := context.WithCancel(context.Background())

	systemPrompt := llm.BuildSystemPrompt(modelID, tsIndex)
	systemMsg := provider.Message{Role: "system", Content: systemPrompt, CreatedAt: time.Now()}

	sharedProv := &atomic.Pointer[provider.Provider]{}
	if prov != nil {
		p := prov
		sharedProv.Store(&p)
	}

	var queue chan storeBatch
	var done <-chan struct{}
	if db != nil {
		queue = make(chan storeBatch, 64)
		done = startStoreWorker(db, queue)
	}

	m := Model{
		editor:     ed,
		agentInput: ai,
		styles:     sty,
		focus:      focusInput,

		provider:           prov,
		sharedProvider:     sharedProv,
		registry:           registry,
		providerOpts:       providerOpts,
		providerConfigName: providerConfigName,
		currentModelName:   modelID,
		mcpProxy:           proxy,
		mcpTools:           tools,
		updateChan:         ch,
		ctx:                ctx,
		cancel:             cancel,
		initialSystemMsg:   &systemMsg,

		sessionID:    sessionID,
		store:        db,
		storeQueue:   queue,
		storeQueueDone: done,
		deltaTracker: deltaTracker,
		fileTracker:  fileTracker,
		scratchpad:   scratchpad,
		tsIndex:      tsIndex,
		searcher:     searcher,

		convEntries:      []convEntry{},
		streamEntryStart: -1,

		spinFrameAt: time.Now(),

		approvalGate: approvalGate,
		bridge:       bridge,
	}

	if db != nil {
		if stored, err := db.LoadMessages(sessionID); err == nil && len(stored) > 0 {
			m.convEntries = historyConvEntries(store.ToProviderMessages(stored))
		}
	}

	return m
}

// Init starts the frame loop, git-branch polling, and the bridge drain loop.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{frameTick(), gitBranchCmd(), func() tea.Msg { return editor.Blink() }}
	if m.bridge != nil {
		cmds = append(cmds, m.waitForBridgeEvent())
	}
	return tea.Batch(cmds...)
}
