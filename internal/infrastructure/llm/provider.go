package llm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vertexmcp/vertexmcp/internal/domain/service"
)

// Provider is the infrastructure-layer model backend. Each provider
// implements service.LLM so the agent loop can drive it.
type Provider interface {
	service.LLM

	// Name returns the provider identifier.
	Name() string

	// IsAvailable reports whether the provider is usable as configured.
	IsAvailable(ctx context.Context) bool
}

// ProviderConfig holds the backend settings shared by all provider types.
type ProviderConfig struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"` // "vertex" (default)
	ProjectID   string  `json:"projectId"`
	Location    string  `json:"location"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
	TopP        float64 `json:"topP"`
	TopK        int     `json:"topK"`
	AccessToken string  `json:"-"`
}

// ProviderFactory creates a Provider from config. Providers register
// themselves via init() in their own package; adding a backend means
// implementing Provider and calling RegisterFactory.
type ProviderFactory func(cfg ProviderConfig, logger *zap.Logger) Provider

var (
	factoryMu sync.RWMutex
	factories = map[string]ProviderFactory{}
)

// RegisterFactory registers a provider factory for the given type name.
func RegisterFactory(typeName string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// CreateProvider creates a Provider using the registered factory for
// cfg.Type, defaulting to "vertex".
func CreateProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	t := cfg.Type
	if t == "" {
		t = "vertex"
	}

	factoryMu.RLock()
	factory, ok := factories[t]
	factoryMu.RUnlock()

	if !ok {
		factoryMu.RLock()
		available := make([]string, 0, len(factories))
		for k := range factories {
			available = append(available, k)
		}
		factoryMu.RUnlock()
		return nil, fmt.Errorf("unknown provider type %q (available: %v)", t, available)
	}
	return factory(cfg, logger), nil
}
