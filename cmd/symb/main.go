package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xonecas/symbcore/internal/approval"
	"github.com/xonecas/symbcore/internal/config"
	"github.com/xonecas/symbcore/internal/delegate"
	"github.com/xonecas/symbcore/internal/delta"
	"github.com/xonecas/symbcore/internal/filesearch"
	"github.com/xonecas/symbcore/internal/interruptqueue"
	"github.com/xonecas/symbcore/internal/lsp"
	"github.com/xonecas/symbcore/internal/mcp"
	"github.com/xonecas/symbcore/internal/mcptools"
	"github.com/xonecas/symbcore/internal/provider"
	"github.com/xonecas/symbcore/internal/ratelimit"
	"github.com/xonecas/symbcore/internal/shell"
	"github.com/xonecas/symbcore/internal/shutdown"
	"github.com/xonecas/symbcore/internal/store"
	"github.com/xonecas/symbcore/internal/treesitter"
	"github.com/xonecas/symbcore/internal/tui"
	"github.com/xonecas/symbcore/internal/uibridge"
)

func main() {
	if err := setupFileLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to setup logging: %v\n", err)
	}

	// Parse CLI flags.
	flagSession := flag.String("s", "", "resume a session by ID")
	flagList := flag.Bool("l", false, "list sessions")
	flagContinue := flag.Bool("c", false, "continue most recent session")
	flag.StringVar(flagSession, "session", "", "resume a session by ID")
	flag.BoolVar(flagList, "list", false, "list sessions")
	flag.BoolVar(flagContinue, "continue", false, "continue most recent session")
	flag.Parse()

	configPath := filepath.Join(".", "config.toml")
	if dataDir, err := config.DataDir(); err == nil {
		dataDirPath := filepath.Join(dataDir, "config.toml")
		if _, err := os.Stat(dataDirPath); err == nil {
			configPath = dataDirPath
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		fmt.Printf("Error loading credentials: %v\n", err)
		os.Exit(1)
	}

	registry := buildRegistry(cfg, creds)

	providerName, providerCfg := resolveProvider(cfg, registry)

	providerOpts := provider.Options{
		Temperature: providerCfg.Temperature,
	}
	prov, err := registry.Create(providerName, providerCfg.Model, providerOpts)
	if err != nil {
		fmt.Printf("Error creating provider: %v\n", err)
		os.Exit(1)
	}

	shutdownSup := shutdown.New()
	shutdownSup.Register("provider", prov.Close)

	svc := setupServices(cfg, creds)
	shutdownSup.Register("mcp proxy", svc.proxy.Close)
	shutdownSup.Register("lsp manager", func() error {
		svc.lspManager.StopAll(context.Background())
		return nil
	})
	if svc.webCache != nil {
		shutdownSup.Register("web cache", svc.webCache.Close)
	}
	shutdownSup.Register("ui bridge", func() error {
		svc.bridge.Close()
		return nil
	})
	defer shutdownSup.Shutdown()

	// Rate-limit poller — reports usage snapshots and threshold-crossing
	// warnings over the same bridge the TUI drains for approval prompts.
	if cfg.Agent.RateLimitPollSeconds >= 0 {
		pollerCtx, pollerCancel := context.WithCancel(context.Background())
		shutdownSup.Register("rate limit poller", func() error {
			pollerCancel()
			return nil
		})
		poller := ratelimit.New(prov, time.Duration(cfg.Agent.RateLimitPollSecondsOrDefault())*time.Second, nil)
		poller.OnWarning = func(percent int, suggestSwitch bool) {
			svc.bridge.TrySend(uibridge.AppEvent{
				Type:                   uibridge.EventRateLimitWarning,
				RateLimitPercent:       percent,
				RateLimitSuggestSwitch: suggestSwitch,
			})
		}
		go func() {
			if err := poller.Run(pollerCtx); err != nil && !errors.Is(err, ratelimit.ErrNotSupported) && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("rate limit poller stopped")
			}
		}()
	}

	// Handle --list: print sessions and exit.
	if *flagList {
		listSessions(svc.webCache)
		return
	}

	sessionID := resolveSession(*flagSession, *flagContinue, svc.webCache)

	tools, err := svc.proxy.ListTools(context.Background())
	if err != nil {
		fmt.Printf("Warning: Failed to list tools: %v\n", err)
		tools = []mcp.Tool{}
	}

	// Register SubAgent tool after obtaining the tools list.
	// SubAgent needs access to provider and all tools to spawn isolated sub-agents.
	delegates := delegate.New(svc.bridge, cfg.Agent.MaxConcurrentDelegatesOrDefault())
	subAgentHandler := mcptools.NewSubAgentHandler(
		prov,
		svc.lspManager,
		svc.deltaTracker,
		svc.shell,
		svc.webCache,
		svc.exaKey,
		tools,
		delegates,
		sessionID,
	)
	svc.proxy.RegisterTool(mcptools.NewSubAgentTool(), subAgentHandler.Handle)

	// Re-fetch tools list to include SubAgent
	tools, err = svc.proxy.ListTools(context.Background())
	if err != nil {
		fmt.Printf("Warning: Failed to list tools after SubAgent registration: %v\n", err)
		tools = []mcp.Tool{}
	}

	// Build tree-sitter project symbol index.
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Printf("Warning: failed to get working directory: %v\n", err)
		cwd = "."
	}
	tsIndex := treesitter.NewIndex(cwd)
	if err := tsIndex.Build(); err != nil {
		log.Warn().Err(err).Msg("tree-sitter index build failed")
	}

	searcher, err := filesearch.NewSearcher(cwd)
	if err != nil {
		log.Warn().Err(err).Msg("file searcher init failed")
	}

	// Wire index into Read/Edit handlers for incremental updates.
	svc.readHandler.SetTSIndex(tsIndex)
	svc.editHandler.SetTSIndex(tsIndex)
	svc.patchHandler.SetTSIndex(tsIndex)

	// Set session on delta tracker so file deltas are linked.
	if svc.deltaTracker != nil {
		svc.deltaTracker.SetSession(sessionID)
	}

	p := tea.NewProgram(
		tui.New(prov, svc.proxy, tools, providerCfg.Model, registry, sessionID, svc.webCache,
			svc.fileTracker, svc.deltaTracker, svc.scratchpad, providerName, svc.lspManager,
			tsIndex, searcher, providerOpts, cfg.UI.SyntaxThemeOrDefault(), svc.approvals, svc.bridge),
		tea.WithFilter(tui.MouseEventFilter),
	)
	svc.lspManager.SetCallback(func(absPath string, lines map[int]int) {
		p.Send(tui.LSPDiagnosticsMsg{FilePath: absPath, Lines: lines})
	})

	// The gate's Bridge/Queue fields (set in setupServices) already post an
	// EventApprovalPrompt for every ask(); the TUI drains it via
	// waitForBridgeEvent. RequestFunc only needs to exist — a nil one means
	// "no UI attached, auto-deny" — so this is a deliberate no-op rather
	// than a second notification path.
	svc.approvals.RequestFunc = func(ctx context.Context, req *approval.Request) {}

	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running symb: %v\n", err)
		os.Exit(1)
	}
}

func buildRegistry(cfg *config.Config, creds *config.Credentials) *provider.Registry {
	registry := provider.NewRegistry()
	for name, providerCfg := range cfg.Providers {
		apiKey := ""
		if creds != nil {
			apiKey = creds.Providers[name].APIKey
		}
		registry.RegisterFactory(name, buildFactory(name, providerCfg, apiKey))
	}
	return registry
}

// buildFactory selects the wire-dialect factory for a configured provider.
func buildFactory(name string, providerCfg config.ProviderConfig, apiKey string) provider.Factory {
	switch providerCfg.DialectOrDefault() {
	case "anthropic":
		return provider.NewAnthropicFactory(name, apiKey, providerCfg.Endpoint)
	case "responses":
		return provider.NewResponsesFactory(name, apiKey, providerCfg.Endpoint)
	case "gemini":
		return provider.NewGeminiFactory(name, apiKey, providerCfg.Endpoint)
	case "vllm":
		return provider.NewVLLMFactory(name, apiKey, providerCfg.Endpoint)
	case "opencode":
		return provider.NewOpenCodeFactory(name, apiKey, providerCfg.Endpoint)
	case "zen":
		return provider.NewZenFactory(name, apiKey, providerCfg.Endpoint)
	case "mock":
		return provider.NewMockFactory(name, "mock response")
	default:
		return provider.NewOllamaFactory(name, providerCfg.Endpoint)
	}
}

func approvalPolicyFromConfig(a config.AgentConfig) approval.Policy {
	switch a.ApprovalPolicyOrDefault() {
	case "untrusted":
		return approval.Untrusted
	case "on-failure":
		return approval.OnFailure
	case "never":
		return approval.Never
	default:
		return approval.OnRequest
	}
}

func sandboxPolicyFromConfig(a config.AgentConfig) approval.SandboxPolicy {
	switch a.SandboxPolicyOrDefault() {
	case "read-only":
		return approval.ReadOnly
	case "danger-full-access":
		return approval.DangerFullAccess
	default:
		return approval.WorkspaceWrite
	}
}

func resolveProvider(cfg *config.Config, registry *provider.Registry) (string, config.ProviderConfig) {
	name := cfg.DefaultProvider
	if name == "" {
		providers := registry.List()
		if len(providers) == 0 {
			fmt.Println("Error: No providers configured")
			os.Exit(1)
		}
		name = providers[0]
	}
	pcfg, ok := cfg.Providers[name]
	if !ok {
		fmt.Printf("Error: Provider %q not found\n", name)
		os.Exit(1)
	}
	return name, pcfg
}

type services struct {
	proxy        *mcp.Proxy
	lspManager   *lsp.Manager
	webCache     *store.Cache
	readHandler  *mcptools.ReadHandler
	editHandler  *mcptools.EditHandler
	patchHandler *mcptools.ApplyPatchHandler
	approvals    *approval.Gate
	shellHandler *mcptools.ShellHandler
	fileTracker  *mcptools.FileReadTracker
	deltaTracker *delta.Tracker
	scratchpad   *mcptools.Scratchpad
	shell        *shell.Shell
	exaKey       string
	bridge       *uibridge.Bridge
	queue        *interruptqueue.Queue
}

func setupServices(cfg *config.Config, creds *config.Credentials) services {
	var mcpClient mcp.UpstreamClient
	if cfg.MCP.Upstream != "" {
		mcpClient = mcp.NewClient(cfg.MCP.Upstream)
	}
	proxy := mcp.NewProxy(mcpClient)
	if err := proxy.Initialize(context.Background()); err != nil {
		fmt.Printf("Warning: MCP init failed: %v\n", err)
	}

	lspManager := lsp.NewManager()
	fileTracker := mcptools.NewFileReadTracker()

	readHandler := mcptools.NewReadHandler(fileTracker, lspManager)
	proxy.RegisterTool(mcptools.NewReadTool(), readHandler.Handle)

	proxy.RegisterTool(mcptools.NewGrepTool(), mcptools.MakeGrepHandler())

	webCache := openWebCache(cfg)

	// Create delta tracker for undo support, sharing the same DB.
	var dt *delta.Tracker
	if webCache != nil {
		dt = delta.New(webCache.DB())
	}

	editHandler := mcptools.NewEditHandler(fileTracker, lspManager, dt)
	proxy.RegisterTool(mcptools.NewEditTool(), editHandler.Handle)

	bridge := uibridge.New()
	queue := interruptqueue.New()

	// Approval gate — built before anything that needs to request approval
	// through it (the shell tool and ApplyPatch both gate on the same
	// instance, so a session-wide "always" decision covers both).
	gate := approval.New(approvalPolicyFromConfig(cfg.Agent), sandboxPolicyFromConfig(cfg.Agent), cfg.Agent.SandboxRootsOrDefault())
	gate.Bridge = bridge
	gate.Queue = queue

	patchHandler := mcptools.NewApplyPatchHandler(dt, lspManager, nil, gate)
	proxy.RegisterTool(mcptools.NewApplyPatchTool(), patchHandler.Handle)

	proxy.RegisterTool(mcptools.NewViewImageTool(), mcptools.NewViewImageHandler(bridge).Handle)

	proxy.RegisterTool(mcptools.NewWebFetchTool(), mcptools.MakeWebFetchHandler(webCache))

	exaKey := creds.GetAPIKey("exa_ai")
	proxy.RegisterTool(mcptools.NewWebSearchTool(), mcptools.MakeWebSearchHandler(webCache, exaKey, ""))

	// Shell tool — in-process POSIX interpreter with command blocking plus
	// a cooperative approval gate for everything the block list lets through.
	sh := shell.New("", shell.DefaultBlockFuncs())
	sh.SetApprovalMiddleware(gate.ExecHandler)
	shellHandler := mcptools.NewShellHandler(sh, dt)
	proxy.RegisterTool(mcptools.NewShellTool(), shellHandler.Handle)

	// TodoWrite tool — agent scratchpad for plan/notes recitation.
	pad := &mcptools.Scratchpad{}
	proxy.RegisterTool(mcptools.NewTodoWriteTool(), mcptools.MakeTodoWriteHandler(pad))

	return services{
		proxy:        proxy,
		lspManager:   lspManager,
		webCache:     webCache,
		readHandler:  readHandler,
		editHandler:  editHandler,
		patchHandler: patchHandler,
		approvals:    gate,
		shellHandler: shellHandler,
		fileTracker:  fileTracker,
		deltaTracker: dt,
		scratchpad:   pad,
		shell:        sh,
		exaKey:       exaKey,
		bridge:       bridge,
		queue:        queue,
	}
}

func openWebCache(cfg *config.Config) *store.Cache {
	cacheDir, err := config.EnsureDataDir()
	if err != nil {
		fmt.Printf("Warning: cache dir failed: %v\n", err)
		return nil
	}
	cacheTTL := time.Duration(cfg.Cache.CacheTTLOrDefault()) * time.Hour
	cache, err := store.Open(filepath.Join(cacheDir, "cache.db"), cacheTTL)
	if err != nil {
		fmt.Printf("Warning: cache open failed: %v\n", err)
		return nil
	}
	return cache
}

func newSessionID() string {
	return uuid.NewString()
}

func setupFileLogging() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}

	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return err
	}

	logFile := filepath.Join(logDir, "symb.log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	log.Logger = log.Output(file)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	return nil
}

func listSessions(db *store.Cache) {
	if db == nil {
		fmt.Println("No cache available")
		return
	}
	sessions, err := db.ListSessions()
	if err != nil {
		fmt.Printf("Error listing sessions: %v\n", err)
		return
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found")
		return
	}
	for _, s := range sessions {
		ts := s.Timestamp.Format("2006-01-02 15:04")
		preview := s.Preview
		preview = strings.ReplaceAll(preview, "\n", " ")
		if len(preview) > 50 {
			preview = preview[:50]
		}
		fmt.Printf("%s  %s  %s\n", s.ID, ts, preview)
	}
}

// resolveSession determines the session ID to use: an explicit --session,
// the most recent session for --continue, or a freshly created one.
// Message history itself is loaded lazily by tui.New from the store.
func resolveSession(flagSession string, flagContinue bool, db *store.Cache) string {
	switch {
	case flagSession != "":
		if db != nil {
			ok, err := db.SessionExists(flagSession)
			if err != nil || !ok {
				fmt.Printf("Session %q not found\n", flagSession)
				os.Exit(1)
			}
		}
		return flagSession

	case flagContinue:
		if db == nil {
			fmt.Println("No cache available")
			os.Exit(1)
		}
		id, err := db.LatestSessionID()
		if err != nil {
			fmt.Printf("No sessions to continue: %v\n", err)
			os.Exit(1)
		}
		return id

	default:
		sid := newSessionID()
		if db != nil {
			if err := db.CreateSession(sid); err != nil {
				fmt.Printf("Warning: failed to create session: %v\n", err)
			}
		}
		return sid
	}
}
