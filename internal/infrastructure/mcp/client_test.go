package mcp

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	domaintool "github.com/vertexmcp/vertexmcp/internal/domain/tool"
	apperrors "github.com/vertexmcp/vertexmcp/pkg/errors"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

type fakeTransport struct {
	name     string
	tools    []ToolDescriptor
	listErr  error
	lastCall string
	closed   bool
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	return f.tools, f.listErr
}

func (f *fakeTransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error) {
	f.lastCall = name
	return domaintool.Success("ok from " + f.name), nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func newTestClient(transports ...*fakeTransport) *Client {
	c := NewClient(zap.NewNop())
	for _, tr := range transports {
		c.transports[tr.name] = tr
	}
	return c
}

func TestDiscoverQualifiesToolNames(t *testing.T) {
	c := newTestClient(&fakeTransport{
		name: "docs",
		tools: []ToolDescriptor{
			{Name: "search", Description: "Search the docs"},
			{Name: "fetch"},
		},
	})

	tools := c.Discover(testContext(t))
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	if tools[0].Name() != "mcp_docs_search" {
		t.Errorf("name = %q, want mcp_docs_search", tools[0].Name())
	}
	if tools[0].Description() != "Search the docs" {
		t.Errorf("description = %q", tools[0].Description())
	}
	// Missing descriptions get a generated one.
	if tools[1].Description() != "Tool fetch from docs" {
		t.Errorf("fallback description = %q", tools[1].Description())
	}
	if tools[1].Schema() == nil {
		t.Error("schema must never be nil")
	}
}

func TestDiscoverSkipsFailingServer(t *testing.T) {
	good := &fakeTransport{name: "alpha", tools: []ToolDescriptor{{Name: "one"}}}
	bad := &fakeTransport{name: "beta", listErr: errors.New("boom")}
	c := newTestClient(good, bad)

	tools := c.Discover(testContext(t))
	if len(tools) != 1 || tools[0].Name() != "mcp_alpha_one" {
		t.Fatalf("only the healthy server's tools should survive, got %d", len(tools))
	}
}

func TestExternalToolRoutesToOwningServer(t *testing.T) {
	tr := &fakeTransport{name: "docs", tools: []ToolDescriptor{{Name: "search"}}}
	c := newTestClient(tr)

	tools := c.Discover(testContext(t))
	result, err := tools[0].Execute(testContext(t), map[string]interface{}{"q": "x"}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if tr.lastCall != "search" {
		t.Errorf("remote tool name = %q, want unprefixed %q", tr.lastCall, "search")
	}
	if result.Content != "ok from docs" {
		t.Errorf("content = %q", result.Content)
	}
}

func TestCallToolUnknownServer(t *testing.T) {
	c := newTestClient()
	_, err := c.CallTool(testContext(t), "ghost", "search", nil)
	if !apperrors.IsNotFound(err) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestShutdownClosesEverything(t *testing.T) {
	a := &fakeTransport{name: "a"}
	b := &fakeTransport{name: "b"}
	c := newTestClient(a, b)

	c.Shutdown()
	if !a.closed || !b.closed {
		t.Error("all transports must be closed")
	}
	if len(c.ServerNames()) != 0 {
		t.Error("shutdown must forget transports")
	}
}

func TestDisconnectClosesAndForgetsOneServer(t *testing.T) {
	a := &fakeTransport{name: "a", tools: []ToolDescriptor{{Name: "one"}}}
	b := &fakeTransport{name: "b"}
	c := newTestClient(a, b)

	if !c.Disconnect("a") {
		t.Fatal("Disconnect should report a connected server")
	}
	if !a.closed {
		t.Error("disconnected transport must be closed")
	}
	if b.closed {
		t.Error("sibling transport must stay open")
	}
	if got := c.ServerNames(); len(got) != 1 || got[0] != "b" {
		t.Errorf("remaining servers = %v, want [b]", got)
	}
	if _, err := c.CallTool(testContext(t), "a", "one", nil); !apperrors.IsNotFound(err) {
		t.Errorf("calls to a disconnected server must fail with NOT_FOUND, got %v", err)
	}
	if c.Disconnect("a") {
		t.Error("second Disconnect should report an unknown server")
	}
}

func TestDiscoverServerUnknown(t *testing.T) {
	c := newTestClient()
	if tools := c.DiscoverServer(testContext(t), "ghost"); len(tools) != 0 {
		t.Errorf("unknown server should contribute no tools, got %d", len(tools))
	}
}

func TestInitializeRejectsBadConfigs(t *testing.T) {
	c := NewClient(zap.NewNop())
	c.Initialize(testContext(t), []ServerConfig{
		{Name: "", Transport: TransportStdio, Command: "x"},
		{Name: "nohttp", Transport: TransportHTTP},
		{Name: "weird", Transport: "carrier-pigeon"},
	})
	if len(c.ServerNames()) != 0 {
		t.Errorf("invalid entries must be skipped, got %v", c.ServerNames())
	}
}
