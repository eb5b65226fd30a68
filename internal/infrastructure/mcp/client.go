package mcp

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	domaintool "github.com/vertexmcp/vertexmcp/internal/domain/tool"
	apperrors "github.com/vertexmcp/vertexmcp/pkg/errors"
)

// Client aggregates every configured external tool server behind one
// facade. Discovery produces registry-ready tools whose names are
// prefixed with the owning server, so two servers exposing "search"
// never collide.
type Client struct {
	logger *zap.Logger

	mu         sync.Mutex
	transports map[string]Transport
}

// NewClient creates an empty client. Call Initialize to connect servers.
func NewClient(logger *zap.Logger) *Client {
	return &Client{
		logger:     logger,
		transports: make(map[string]Transport),
	}
}

// Initialize connects every configured server. A server that fails to
// start is logged and skipped; one bad entry never blocks the rest.
func (c *Client) Initialize(ctx context.Context, configs []ServerConfig) {
	for _, cfg := range configs {
		transport, err := c.connect(ctx, cfg)
		if err != nil {
			c.logger.Error("Failed to connect tool server, skipping",
				zap.String("server", cfg.Name),
				zap.Error(err),
			)
			continue
		}

		c.mu.Lock()
		c.transports[cfg.Name] = transport
		c.mu.Unlock()
		c.logger.Info("Tool server connected",
			zap.String("server", cfg.Name),
			zap.String("transport", string(cfg.Transport)),
		)
	}
}

func (c *Client) connect(ctx context.Context, cfg ServerConfig) (Transport, error) {
	if cfg.Name == "" {
		return nil, apperrors.NewConfigError("tool server entry is missing a name")
	}

	switch cfg.Transport {
	case TransportStdio:
		if cfg.Command == "" {
			return nil, apperrors.NewConfigError("stdio tool server " + cfg.Name + " is missing a command")
		}
		t := NewStdioTransport(cfg, c.logger)
		if err := t.Connect(ctx); err != nil {
			return nil, err
		}
		return t, nil
	case TransportHTTP:
		if cfg.URL == "" {
			return nil, apperrors.NewConfigError("http tool server " + cfg.Name + " is missing a url")
		}
		return NewHTTPTransport(cfg, c.logger), nil
	default:
		return nil, apperrors.NewConfigError(
			fmt.Sprintf("tool server %s has unknown transport %q", cfg.Name, cfg.Transport))
	}
}

// ServerNames lists connected servers in stable order.
func (c *Client) ServerNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.transports))
	for name := range c.transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Discover asks every connected server for its tools and wraps them for
// registration. A server whose listing fails is logged and contributes
// nothing.
func (c *Client) Discover(ctx context.Context) []domaintool.Tool {
	var tools []domaintool.Tool
	for _, server := range c.ServerNames() {
		tools = append(tools, c.DiscoverServer(ctx, server)...)
	}
	return tools
}

// DiscoverServer wraps one server's tools for registration. An unknown
// server or a failed listing contributes nothing.
func (c *Client) DiscoverServer(ctx context.Context, server string) []domaintool.Tool {
	c.mu.Lock()
	transport := c.transports[server]
	c.mu.Unlock()
	if transport == nil {
		return nil
	}

	descriptors, err := transport.ListTools(ctx)
	if err != nil {
		c.logger.Error("Tool discovery failed",
			zap.String("server", server),
			zap.Error(err),
		)
		return nil
	}

	tools := make([]domaintool.Tool, 0, len(descriptors))
	for _, d := range descriptors {
		tools = append(tools, newExternalTool(c, server, d))
	}
	c.logger.Info("Discovered external tools",
		zap.String("server", server),
		zap.Int("count", len(descriptors)),
	)
	return tools
}

// Disconnect closes and forgets one server. Reports whether the server
// was connected.
func (c *Client) Disconnect(name string) bool {
	c.mu.Lock()
	transport, ok := c.transports[name]
	delete(c.transports, name)
	c.mu.Unlock()
	if !ok {
		return false
	}

	if err := transport.Close(); err != nil {
		c.logger.Warn("Error closing tool server",
			zap.String("server", name),
			zap.Error(err),
		)
	}
	c.logger.Info("Tool server disconnected", zap.String("server", name))
	return true
}

// CallTool routes one invocation to the named server.
func (c *Client) CallTool(ctx context.Context, server, tool string, args map[string]interface{}) (*domaintool.Result, error) {
	c.mu.Lock()
	transport := c.transports[server]
	c.mu.Unlock()
	if transport == nil {
		return nil, apperrors.NewNotFoundError("tool server " + server + " is not connected")
	}
	return transport.CallTool(ctx, tool, args)
}

// Shutdown closes every transport and forgets them.
func (c *Client) Shutdown() {
	c.mu.Lock()
	transports := c.transports
	c.transports = make(map[string]Transport)
	c.mu.Unlock()

	for name, transport := range transports {
		if err := transport.Close(); err != nil {
			c.logger.Warn("Error closing tool server",
				zap.String("server", name),
				zap.Error(err),
			)
		}
	}
}

// externalTool adapts one discovered remote tool to the registry's Tool
// interface. Its qualified name carries the owning server.
type externalTool struct {
	client      *Client
	server      string
	remoteName  string
	description string
	schema      map[string]interface{}
}

func newExternalTool(client *Client, server string, d ToolDescriptor) *externalTool {
	description := d.Description
	if description == "" {
		description = fmt.Sprintf("Tool %s from %s", d.Name, server)
	}
	return &externalTool{
		client:      client,
		server:      server,
		remoteName:  d.Name,
		description: description,
		schema:      d.Parameters,
	}
}

func (t *externalTool) Name() string {
	return fmt.Sprintf("mcp_%s_%s", t.server, t.remoteName)
}

func (t *externalTool) Description() string { return t.description }

func (t *externalTool) Schema() map[string]interface{} {
	if t.schema == nil {
		return map[string]interface{}{"type": "object"}
	}
	return t.schema
}

func (t *externalTool) Execute(ctx context.Context, args map[string]interface{}, rc *domaintool.RunContext) (*domaintool.Result, error) {
	return t.client.CallTool(ctx, t.server, t.remoteName, args)
}
