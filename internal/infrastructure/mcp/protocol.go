package mcp

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 message shapes for external tool servers.
// Spec: https://www.jsonrpc.org/specification

const jsonRPCVersion = "2.0"

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
	}
	return e.Message
}

// Protocol method names.
const (
	MethodListTools = "tools/list"
	MethodCallTool  = "tools/call"
)

// NewRequest creates a JSON-RPC request with marshalled params.
func NewRequest(id int64, method string, params interface{}) (*Request, error) {
	var rawParams json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		rawParams = b
	}
	return &Request{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  method,
		Params:  rawParams,
	}, nil
}

// ParseResult decodes the response result into v.
func (r *Response) ParseResult(v interface{}) error {
	if r.Result == nil {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}

// ToolDescriptor describes one tool exposed by an external server.
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ListToolsResult is the result payload of tools/list.
type ListToolsResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// CallToolParams is the params payload of tools/call.
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// CallToolResult is the result payload of tools/call. Content may be any
// JSON value; serializeContent flattens it for the model.
type CallToolResult struct {
	Content json.RawMessage `json:"content"`
}

// serializeContent renders a tool result payload as prompt text.
// Plain JSON strings lose their quoting; everything else passes through
// as compact JSON.
func serializeContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
