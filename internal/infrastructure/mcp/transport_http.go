package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	domaintool "github.com/vertexmcp/vertexmcp/internal/domain/tool"
	apperrors "github.com/vertexmcp/vertexmcp/pkg/errors"
)

// maxBodyExcerpt bounds how much of an error body is quoted back.
const maxBodyExcerpt = 512

// HTTPTransport reaches a tool server over plain HTTP. It is stateless;
// every call is an independent POST.
type HTTPTransport struct {
	cfg    ServerConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPTransport creates a transport for cfg.
func NewHTTPTransport(cfg ServerConfig, logger *zap.Logger) *HTTPTransport {
	return &HTTPTransport{
		cfg:    cfg,
		client: &http.Client{Timeout: rpcTimeout},
		logger: logger.With(zap.String("server", cfg.Name), zap.String("transport", "http")),
	}
}

// Name returns the configured server name.
func (t *HTTPTransport) Name() string { return t.cfg.Name }

// post issues one JSON POST to {base_url}{path} with configured headers
// merged over Content-Type. The status code and body are returned as-is;
// only transport-level faults produce an error.
func (t *HTTPTransport) post(ctx context.Context, path string, body interface{}) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request body: %w", err)
	}

	url := strings.TrimRight(t.cfg.URL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, apperrors.NewTransportError("create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, apperrors.NewTransportError("POST "+url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, apperrors.NewTransportError("read response from "+url, err)
	}
	return resp.StatusCode, respBody, nil
}

func excerpt(body []byte) string {
	s := string(body)
	if len(s) > maxBodyExcerpt {
		s = s[:maxBodyExcerpt]
	}
	return s
}

// ListTools queries POST /tools/list.
func (t *HTTPTransport) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	status, body, err := t.post(ctx, "/tools/list", struct{}{})
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, apperrors.NewTransportError(
			fmt.Sprintf("HTTP %d from %s: %s", status, t.cfg.Name, excerpt(body)), nil)
	}

	var result ListToolsResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, apperrors.NewTransportError("parse tools/list response", err)
	}
	if result.Tools == nil {
		return []ToolDescriptor{}, nil
	}
	return result.Tools, nil
}

// CallTool queries POST /tools/call. Non-2xx statuses become unsuccessful
// results carrying the status and a body excerpt, so the model can adapt.
func (t *HTTPTransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error) {
	t.logger.Info("Calling external tool", zap.String("tool", name))

	status, body, err := t.post(ctx, "/tools/call", CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		t.logger.Warn("External tool returned HTTP error",
			zap.String("tool", name),
			zap.Int("status", status),
		)
		return domaintool.Errorf("HTTP %d: %s", status, excerpt(body)), nil
	}

	var result CallToolResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, apperrors.NewTransportError("parse tools/call response", err)
	}
	return domaintool.Success(serializeContent(result.Content)), nil
}

// Close is a no-op; HTTP connections belong to the shared client pool.
func (t *HTTPTransport) Close() error { return nil }
