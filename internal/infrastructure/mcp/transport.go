package mcp

import (
	"context"

	domaintool "github.com/vertexmcp/vertexmcp/internal/domain/tool"
)

// TransportKind selects how an external tool server is reached.
type TransportKind string

const (
	TransportStdio TransportKind = "stdio"
	TransportHTTP  TransportKind = "http"
)

// ServerConfig describes one configured external tool server.
// Immutable after load.
type ServerConfig struct {
	Name      string            `json:"name" mapstructure:"name"`
	Transport TransportKind     `json:"transport" mapstructure:"transport"`
	Command   string            `json:"command,omitempty" mapstructure:"command"`
	Args      []string          `json:"args,omitempty" mapstructure:"args"`
	Env       map[string]string `json:"env,omitempty" mapstructure:"env"`
	URL       string            `json:"url,omitempty" mapstructure:"url"`
	Headers   map[string]string `json:"headers,omitempty" mapstructure:"headers"`
}

// Transport is the wire-level mechanism used to talk to one external tool
// server. Implementations exist for subprocess stdio and HTTP.
type Transport interface {
	// Name returns the configured server name.
	Name() string
	// ListTools discovers the tools the server exposes.
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	// CallTool invokes a tool. A returned error is transport-local
	// (I/O, timeout, disconnect); a server-reported tool failure comes
	// back as an unsuccessful result instead.
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error)
	// Close shuts the transport down. Idempotent.
	Close() error
}
