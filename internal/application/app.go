package application

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertexmcp/vertexmcp/internal/domain/service"
	"github.com/vertexmcp/vertexmcp/internal/domain/session"
	domaintool "github.com/vertexmcp/vertexmcp/internal/domain/tool"
	"github.com/vertexmcp/vertexmcp/internal/infrastructure/config"
	"github.com/vertexmcp/vertexmcp/internal/infrastructure/llm"
	_ "github.com/vertexmcp/vertexmcp/internal/infrastructure/llm/vertex" // register provider factory
	"github.com/vertexmcp/vertexmcp/internal/infrastructure/mcp"
	"github.com/vertexmcp/vertexmcp/internal/infrastructure/monitoring"
	"github.com/vertexmcp/vertexmcp/internal/infrastructure/webfetch"
	apperrors "github.com/vertexmcp/vertexmcp/pkg/errors"
)

// App owns every long-lived component and exposes the operations the
// interface layers dispatch to.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	provider  llm.Provider
	registry  *domaintool.Registry
	executor  *service.Executor
	loop      *service.AgentLoop
	sessions  *session.Store
	docs      *service.DocStore
	mcpClient *mcp.Client
	monitor   *monitoring.Monitor
	watcher   *config.ServerListWatcher

	// external maps a connected server to the tool names it contributed,
	// so removing the server from mcp.json unregisters exactly those.
	extMu    sync.Mutex
	external map[string][]string
}

// New wires the application. External tool servers that fail to connect
// are skipped; a missing model backend is fatal.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	provider, err := llm.CreateProvider(llm.ProviderConfig{
		Name:        "vertex",
		ProjectID:   cfg.ProjectID,
		Location:    cfg.Location,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		TopP:        cfg.TopP,
		TopK:        cfg.TopK,
		AccessToken: cfg.AccessToken,
	}, logger)
	if err != nil {
		return nil, apperrors.NewConfigError(err.Error())
	}

	app := &App{
		cfg:      cfg,
		logger:   logger,
		provider: provider,
		registry: domaintool.NewRegistry(),
		monitor:  monitoring.NewMonitor(logger),
		external: make(map[string][]string),
	}

	if err := app.registry.Register(webfetch.New(logger)); err != nil {
		return nil, err
	}

	app.mcpClient = mcp.NewClient(logger)
	app.mcpClient.Initialize(ctx, cfg.MCPServers)
	app.registerServerTools(ctx, app.mcpClient.ServerNames())

	app.sessions = session.NewStore(cfg.MaxHistory, time.Duration(cfg.SessionTimeout)*time.Second, logger)
	app.executor = service.NewExecutor(app.registry, logger)
	app.executor.SetMetrics(app.monitor)
	app.loop = service.NewAgentLoop(provider, app.registry, app.executor, app.sessions, service.LoopConfig{
		SystemPrompt:        cfg.SystemPrompt,
		MaxIterations:       cfg.MaxReasoningSteps,
		EnableReasoning:     cfg.EnableReasoning,
		EnableConversations: cfg.EnableConversations,
	}, logger)
	app.loop.SetMetrics(app.monitor)
	app.docs = service.NewDocStore(provider, logger)

	// Hot-reload of the external server list: added servers are connected
	// and their tools registered, removed servers are disconnected and
	// their tools unregistered.
	watcher, err := config.NewServerListWatcher(os.Getenv("HOME"), app.syncServers, logger)
	if err != nil {
		logger.Warn("Server list hot-reload unavailable", zap.Error(err))
	} else {
		app.watcher = watcher
	}

	logger.Info("Application ready",
		zap.String("model", cfg.Model),
		zap.Int("tools", app.registry.Len()),
		zap.Bool("conversations", cfg.EnableConversations),
	)
	return app, nil
}

// registerServerTools discovers and registers the named servers' tools,
// recording which names each server contributed.
func (a *App) registerServerTools(ctx context.Context, servers []string) {
	for _, server := range servers {
		var names []string
		for _, tool := range a.mcpClient.DiscoverServer(ctx, server) {
			if err := a.registry.Register(tool); err != nil {
				a.logger.Warn("Skipping duplicate external tool",
					zap.String("tool", tool.Name()),
					zap.Error(err),
				)
				continue
			}
			names = append(names, tool.Name())
		}
		a.extMu.Lock()
		a.external[server] = names
		a.extMu.Unlock()
	}
}

// removeServer disconnects one server and unregisters the tools it
// contributed. In-flight calls against it fail with NOT_FOUND.
func (a *App) removeServer(name string) {
	a.mcpClient.Disconnect(name)

	a.extMu.Lock()
	names := a.external[name]
	delete(a.external, name)
	a.extMu.Unlock()

	for _, toolName := range names {
		if err := a.registry.Unregister(toolName); err != nil {
			a.logger.Warn("Cannot unregister external tool",
				zap.String("tool", toolName),
				zap.Error(err),
			)
		}
	}
	a.logger.Info("Tool server removed",
		zap.String("server", name),
		zap.Int("tools_unregistered", len(names)),
	)
}

// syncServers reconciles the connected servers against the desired list.
func (a *App) syncServers(servers []mcp.ServerConfig) {
	wanted := make(map[string]bool, len(servers))
	for _, s := range servers {
		wanted[s.Name] = true
	}

	connected := map[string]bool{}
	for _, name := range a.mcpClient.ServerNames() {
		connected[name] = true
		if !wanted[name] {
			a.removeServer(name)
		}
	}

	// A server whose transport already died still has tools registered;
	// reconcile those from the tracking map as well.
	a.extMu.Lock()
	tracked := make([]string, 0, len(a.external))
	for name := range a.external {
		tracked = append(tracked, name)
	}
	a.extMu.Unlock()
	for _, name := range tracked {
		if !wanted[name] && !connected[name] {
			a.removeServer(name)
		}
	}

	var fresh []mcp.ServerConfig
	for _, s := range servers {
		if !connected[s.Name] {
			fresh = append(fresh, s)
		}
	}
	if len(fresh) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.mcpClient.Initialize(ctx, fresh)

	names := make([]string, 0, len(fresh))
	for _, s := range fresh {
		names = append(names, s.Name)
	}
	a.registerServerTools(ctx, names)
}

// Query runs one agentic request to completion. Model and tool counters
// are reported by the loop and executor themselves.
func (a *App) Query(ctx context.Context, prompt, sessionID string, parts []service.Part) (string, error) {
	a.monitor.IncRequestTotal()
	start := time.Now()

	answer, err := a.loop.Run(ctx, prompt, sessionID, parts)

	a.monitor.RecordRequestLatency(time.Since(start))
	a.monitor.SetActiveSessions(int64(a.sessions.Count()))
	if err != nil {
		if apperrors.IsSecurity(err) {
			a.monitor.IncSecurityBlock()
		}
		a.monitor.IncRequestFailed()
		a.monitor.IncError()
		return "", err
	}
	a.monitor.IncRequestSuccess()
	return answer, nil
}

// Search answers a search query and returns the result list as JSON.
func (a *App) Search(ctx context.Context, query string) (string, error) {
	a.monitor.IncRequestTotal()
	a.monitor.IncModelCall()

	results, err := a.docs.Search(ctx, query)
	if err != nil {
		a.monitor.IncRequestFailed()
		a.monitor.IncError()
		return "", err
	}
	a.monitor.IncRequestSuccess()
	a.monitor.SetDocsCached(int64(a.docs.Len()))

	if results == nil {
		results = []service.SearchResult{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FetchDoc returns a cached search document as JSON.
func (a *App) FetchDoc(id string) (string, error) {
	a.monitor.IncRequestTotal()
	doc, err := a.docs.Fetch(id)
	if err != nil {
		a.monitor.IncRequestFailed()
		a.monitor.IncError()
		return "", err
	}
	a.monitor.IncRequestSuccess()

	data, err := json.Marshal(map[string]string{"id": id, "content": doc})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ListTools returns the registered tool definitions.
func (a *App) ListTools() []domaintool.Definition {
	return a.registry.List()
}

// CreateSession creates a conversation and returns its id. Fails when
// conversations are disabled.
func (a *App) CreateSession() (string, error) {
	if !a.cfg.EnableConversations {
		return "", apperrors.NewConfigError("conversations are disabled (set enableConversations: true)")
	}
	return a.sessions.Create(), nil
}

// Monitor exposes the metrics collector to the interface layers.
func (a *App) Monitor() *monitoring.Monitor { return a.monitor }

// Shutdown releases every resource in reverse dependency order.
func (a *App) Shutdown() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.mcpClient.Shutdown()
	a.sessions.Stop()
	a.logger.Info("Application stopped")
}
