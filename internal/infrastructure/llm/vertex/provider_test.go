package vertex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/vertexmcp/vertexmcp/internal/domain/service"
	"github.com/vertexmcp/vertexmcp/internal/infrastructure/llm"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*Provider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p := New(llm.ProviderConfig{
		Name:        "vertex",
		ProjectID:   "test-project",
		Location:    "global",
		Model:       "gemini-1.5-flash-002",
		Temperature: 1.0,
		MaxTokens:   8192,
		TopP:        0.95,
		TopK:        40,
		AccessToken: "tok",
	}, zap.NewNop())
	p.baseURL = srv.URL
	return p, srv
}

func candidateResponse(text string) string {
	return `{"candidates":[{"content":{"role":"model","parts":[{"text":` +
		string(mustJSON(text)) + `}]}}]}`
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

func TestQuerySendsGenerationConfig(t *testing.T) {
	var got generateRequest
	var gotPath, gotAuth string
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(candidateResponse("hello")))
	})

	text, err := p.Query(context.Background(), "say hello", service.QueryOptions{}, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if text != "hello" {
		t.Errorf("text = %q", text)
	}

	wantPath := "/v1/projects/test-project/locations/global/publishers/google/models/gemini-1.5-flash-002:generateContent"
	if gotPath != wantPath {
		t.Errorf("path = %q, want %q", gotPath, wantPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("auth = %q", gotAuth)
	}

	gc := got.GenerationConfig
	if gc == nil {
		t.Fatal("generationConfig missing")
	}
	if gc.Temperature != 1.0 || gc.MaxOutputTokens != 8192 || gc.TopP != 0.95 || gc.TopK != 40 {
		t.Errorf("generationConfig = %+v", gc)
	}
	if gc.ThinkingConfig != nil {
		t.Error("thinkingConfig must be omitted when thinking is disabled")
	}
	if len(got.Contents) != 1 || got.Contents[0].Parts[0].Text != "say hello" {
		t.Errorf("contents = %+v", got.Contents)
	}
}

func TestQueryThinkingMode(t *testing.T) {
	var got generateRequest
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(candidateResponse("thought about it")))
	})

	_, err := p.Query(context.Background(), "think", service.QueryOptions{EnableThinking: true}, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got.GenerationConfig.ThinkingConfig == nil || got.GenerationConfig.ThinkingConfig.Mode != "THINKING" {
		t.Errorf("thinkingConfig = %+v", got.GenerationConfig.ThinkingConfig)
	}
}

func TestQueryInlineParts(t *testing.T) {
	var got generateRequest
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(candidateResponse("an image")))
	})

	parts := []service.Part{{MimeType: "image/png", Data: "aGVsbG8="}}
	if _, err := p.Query(context.Background(), "describe", service.QueryOptions{}, parts); err != nil {
		t.Fatalf("Query: %v", err)
	}

	sent := got.Contents[0].Parts
	if len(sent) != 2 {
		t.Fatalf("expected text part + inline part, got %d", len(sent))
	}
	if sent[1].InlineData == nil || sent[1].InlineData.MimeType != "image/png" || sent[1].InlineData.Data != "aGVsbG8=" {
		t.Errorf("inline part = %+v", sent[1])
	}
}

func TestQueryJoinsMultipleTextParts(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"first "},{"text":"second"}]}}]}`))
	})

	text, err := p.Query(context.Background(), "x", service.QueryOptions{}, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if text != "first second" {
		t.Errorf("text = %q", text)
	}
}

func TestQueryAPIError(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota exceeded"}}`, http.StatusTooManyRequests)
	})

	_, err := p.Query(context.Background(), "x", service.QueryOptions{}, nil)
	if err == nil || !strings.Contains(err.Error(), "Vertex API error 429") {
		t.Fatalf("err = %v", err)
	}
}

func TestQueryEmptyCandidates(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	})
	if _, err := p.Query(context.Background(), "x", service.QueryOptions{}, nil); err == nil {
		t.Fatal("empty candidate list must error")
	}
}

func TestRegionalEndpoint(t *testing.T) {
	p := New(llm.ProviderConfig{ProjectID: "p", Location: "us-central1", Model: "m"}, zap.NewNop())
	if p.baseURL != "https://us-central1-aiplatform.googleapis.com" {
		t.Errorf("baseURL = %q", p.baseURL)
	}

	global := New(llm.ProviderConfig{ProjectID: "p", Model: "m"}, zap.NewNop())
	if global.baseURL != "https://aiplatform.googleapis.com" {
		t.Errorf("global baseURL = %q", global.baseURL)
	}
}

func TestCreateProviderFactory(t *testing.T) {
	p, err := llm.CreateProvider(llm.ProviderConfig{Name: "v", ProjectID: "p", Model: "m"}, zap.NewNop())
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	if p.Name() != "v" || !p.IsAvailable(context.Background()) {
		t.Errorf("provider = %v", p)
	}

	if _, err := llm.CreateProvider(llm.ProviderConfig{Type: "unknown"}, zap.NewNop()); err == nil {
		t.Error("unknown provider type must error")
	}
}
