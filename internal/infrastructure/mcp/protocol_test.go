package mcp

import (
	"encoding/json"
	"testing"
)

func TestNewRequestShape(t *testing.T) {
	req, err := NewRequest(7, MethodCallTool, CallToolParams{
		Name:      "lookup",
		Arguments: map[string]interface{}{"q": "go"},
	})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["jsonrpc"] != "2.0" {
		t.Errorf("jsonrpc = %v, want 2.0", decoded["jsonrpc"])
	}
	if decoded["id"] != float64(7) {
		t.Errorf("id = %v, want 7", decoded["id"])
	}
	if decoded["method"] != "tools/call" {
		t.Errorf("method = %v", decoded["method"])
	}
}

func TestParseResult(t *testing.T) {
	resp := &Response{Result: json.RawMessage(`{"tools":[{"name":"a"},{"name":"b"}]}`)}
	var result ListToolsResult
	if err := resp.ParseResult(&result); err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	if len(result.Tools) != 2 || result.Tools[0].Name != "a" {
		t.Errorf("unexpected result: %+v", result)
	}

	empty := &Response{}
	var into ListToolsResult
	if err := empty.ParseResult(&into); err != nil {
		t.Errorf("nil result should parse to zero value, got %v", err)
	}
}

func TestSerializeContent(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`"plain text"`, "plain text"},
		{`{"a":1}`, `{"a":1}`},
		{`[1,2,3]`, `[1,2,3]`},
		{`42`, `42`},
		{``, ``},
	}
	for _, c := range cases {
		got := serializeContent(json.RawMessage(c.raw))
		if got != c.want {
			t.Errorf("serializeContent(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}
