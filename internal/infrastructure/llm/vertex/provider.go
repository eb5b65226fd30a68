package vertex

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vertexmcp/vertexmcp/internal/domain/service"
	"github.com/vertexmcp/vertexmcp/internal/infrastructure/llm"
)

func init() {
	llm.RegisterFactory("vertex", func(cfg llm.ProviderConfig, logger *zap.Logger) llm.Provider {
		return New(cfg, logger)
	})
}

// Provider talks to the Vertex AI generateContent endpoint.
type Provider struct {
	name        string
	baseURL     string
	projectID   string
	location    string
	model       string
	temperature float64
	maxTokens   int
	topP        float64
	topK        int
	accessToken string
	client      *http.Client
	logger      *zap.Logger
}

// New creates a Vertex AI provider.
func New(cfg llm.ProviderConfig, logger *zap.Logger) *Provider {
	location := cfg.Location
	if location == "" {
		location = "global"
	}
	baseURL := "https://aiplatform.googleapis.com"
	if location != "global" {
		baseURL = fmt.Sprintf("https://%s-aiplatform.googleapis.com", location)
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Provider{
		name:        cfg.Name,
		baseURL:     baseURL,
		projectID:   cfg.ProjectID,
		location:    location,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		topP:        cfg.TopP,
		topK:        cfg.TopK,
		accessToken: cfg.AccessToken,
		client:      &http.Client{Transport: transport},
		logger:      logger.With(zap.String("provider", cfg.Name), zap.String("type", "vertex")),
	}
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Name() string { return p.name }

func (p *Provider) IsAvailable(ctx context.Context) bool {
	return p.projectID != ""
}

// Query implements service.LLM.
func (p *Provider) Query(ctx context.Context, prompt string, opts service.QueryOptions, parts []service.Part) (string, error) {
	apiReq := p.buildRequest(prompt, opts, parts)
	body, err := json.Marshal(apiReq)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
		p.baseURL, p.projectID, p.location, p.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.accessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.accessToken)
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Vertex API error %d: %s", resp.StatusCode, string(respBody))
	}

	text, err := extractText(respBody)
	if err != nil {
		return "", err
	}

	p.logger.Info("Model call complete",
		zap.String("model", p.model),
		zap.Duration("latency", time.Since(start)),
		zap.Int("response_len", len(text)),
	)
	return text, nil
}

func (p *Provider) buildRequest(prompt string, opts service.QueryOptions, parts []service.Part) *generateRequest {
	userParts := []part{{Text: prompt}}
	for _, mp := range parts {
		userParts = append(userParts, part{
			InlineData: &inlineData{MimeType: mp.MimeType, Data: mp.Data},
		})
	}

	gc := &generationConfig{
		Temperature:     p.temperature,
		MaxOutputTokens: p.maxTokens,
		TopP:            p.topP,
		TopK:            p.topK,
	}
	if opts.EnableThinking {
		gc.ThinkingConfig = &thinkingConfig{Mode: "THINKING"}
	}

	return &generateRequest{
		Contents:         []content{{Role: "user", Parts: userParts}},
		GenerationConfig: gc,
	}
}

// extractText joins every text part of the first candidate.
func extractText(respBody []byte) (string, error) {
	var apiResp generateResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.Candidates) == 0 {
		return "", fmt.Errorf("response contained no candidates")
	}

	var b strings.Builder
	for _, pt := range apiResp.Candidates[0].Content.Parts {
		b.WriteString(pt.Text)
	}
	return b.String(), nil
}
