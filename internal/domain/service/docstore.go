package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	apperrors "github.com/vertexmcp/vertexmcp/pkg/errors"
)

const (
	maxSearchResults = 3
	minResultLineLen = 10
	maxTitleLen      = 100
)

// SearchResult is one synthetic search hit. The document behind its id is
// retrievable through Fetch.
type SearchResult struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// DocStore answers search queries through the model and caches the full
// responses as fetchable documents. It is a shim, not a real search
// backend: its value is giving the fetch operation something to return.
type DocStore struct {
	llm    LLM
	logger *zap.Logger

	mu   sync.Mutex
	docs map[string]string

	now func() time.Time
}

// NewDocStore creates an empty store backed by llm.
func NewDocStore(llm LLM, logger *zap.Logger) *DocStore {
	return &DocStore{
		llm:    llm,
		logger: logger,
		docs:   make(map[string]string),
		now:    time.Now,
	}
}

// Search asks the model about query and derives up to three results from
// the response. The full response text is cached under every result id.
func (d *DocStore) Search(ctx context.Context, query string) ([]SearchResult, error) {
	prompt := "Search and provide information about: " + query
	response, err := d.llm.Query(ctx, prompt, QueryOptions{}, nil)
	if err != nil {
		return nil, err
	}

	millis := d.now().UnixMilli()
	querySlug := slug(query)

	var results []SearchResult
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if len(line) <= minResultLineLen {
			continue
		}

		i := len(results)
		title := line
		if len(title) > maxTitleLen {
			title = title[:maxTitleLen]
		}
		id := fmt.Sprintf("doc-%d-%d", millis, i)
		results = append(results, SearchResult{
			ID:    id,
			Title: title,
			URL:   fmt.Sprintf("https://gemini-search/%s/%d", querySlug, i),
		})

		d.mu.Lock()
		d.docs[id] = response
		d.mu.Unlock()

		if len(results) == maxSearchResults {
			break
		}
	}

	d.logger.Info("Search complete",
		zap.String("query", query),
		zap.Int("results", len(results)),
	)
	return results, nil
}

// Fetch returns the cached document behind a search result id.
func (d *DocStore) Fetch(id string) (string, error) {
	d.mu.Lock()
	doc, ok := d.docs[id]
	d.mu.Unlock()
	if !ok {
		return "", apperrors.NewNotFoundError(fmt.Sprintf("document %q not found", id))
	}
	return doc, nil
}

// Len reports how many documents are cached.
func (d *DocStore) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.docs)
}

// slug reduces a query to a URL-safe lowercase token.
func slug(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastDash = false
		} else if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
