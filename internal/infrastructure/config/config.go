package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/vertexmcp/vertexmcp/internal/infrastructure/mcp"
	apperrors "github.com/vertexmcp/vertexmcp/pkg/errors"
)

// Config is the full application configuration.
type Config struct {
	// LLM backend
	ProjectID   string  `mapstructure:"projectId"`
	Location    string  `mapstructure:"location"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"maxTokens"`
	TopP        float64 `mapstructure:"topP"`
	TopK        int     `mapstructure:"topK"`
	AccessToken string  `mapstructure:"accessToken"`

	// Sessions
	EnableConversations bool `mapstructure:"enableConversations"`
	SessionTimeout      int  `mapstructure:"sessionTimeout"` // seconds
	MaxHistory          int  `mapstructure:"maxHistory"`

	// Agentic loop
	EnableReasoning   bool   `mapstructure:"enableReasoning"`
	MaxReasoningSteps int    `mapstructure:"maxReasoningSteps"`
	SystemPrompt      string `mapstructure:"systemPrompt"`

	// Logging
	LogDir         string `mapstructure:"logDir"`
	LogLevel       string `mapstructure:"logLevel"`
	LogFormat      string `mapstructure:"logFormat"`
	DisableLogging bool   `mapstructure:"disableLogging"`
	LogToStderr    bool   `mapstructure:"logToStderr"`

	// Secondary HTTP interface
	HTTPHost string `mapstructure:"httpHost"`
	HTTPPort int    `mapstructure:"httpPort"`

	// External tool servers
	MCPServers []mcp.ServerConfig `mapstructure:"mcpServers"`
}

// Load assembles the configuration from, in rising priority: defaults,
// ~/.vertexmcp/config.yaml, ./config.yaml, then VERTEXMCP_* environment
// variables. A missing projectId is a fatal configuration error.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Layer 1: global config ~/.vertexmcp/config.yaml.
	globalDir := filepath.Join(os.Getenv("HOME"), ".vertexmcp")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, apperrors.NewConfigError(fmt.Sprintf("failed to read global config: %v", err))
		}
	}

	// Layer 2: project-local config.yaml overlays the global one.
	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	// Layer 3: environment variables.
	v.SetEnvPrefix("VERTEXMCP")
	v.AutomaticEnv()
	bindEnvAliases(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("failed to unmarshal config: %v", err))
	}

	// External servers from mcp.json merge after the YAML layers.
	if servers, err := LoadMCPServers(os.Getenv("HOME")); err == nil && len(servers) > 0 {
		cfg.MCPServers = append(cfg.MCPServers, servers...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants a running server depends on.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return apperrors.NewConfigError("projectId is required (set VERTEXMCP_PROJECTID or projectId in config.yaml)")
	}
	if c.MaxReasoningSteps < 1 {
		return apperrors.NewConfigError("maxReasoningSteps must be at least 1")
	}
	if c.MaxHistory < 1 {
		return apperrors.NewConfigError("maxHistory must be at least 1")
	}
	if c.SessionTimeout < 1 {
		return apperrors.NewConfigError("sessionTimeout must be at least 1 second")
	}
	seen := map[string]bool{}
	for _, s := range c.MCPServers {
		if s.Name == "" {
			return apperrors.NewConfigError("every mcpServers entry needs a name")
		}
		if seen[s.Name] {
			return apperrors.NewConfigError(fmt.Sprintf("duplicate mcpServers entry %q", s.Name))
		}
		seen[s.Name] = true
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("location", "global")
	v.SetDefault("model", "gemini-1.5-flash-002")
	v.SetDefault("temperature", 1.0)
	v.SetDefault("maxTokens", 8192)
	v.SetDefault("topP", 0.95)
	v.SetDefault("topK", 40)

	v.SetDefault("enableConversations", false)
	v.SetDefault("sessionTimeout", 3600)
	v.SetDefault("maxHistory", 10)

	v.SetDefault("enableReasoning", false)
	v.SetDefault("maxReasoningSteps", 5)

	v.SetDefault("logLevel", "info")
	v.SetDefault("logFormat", "json")
	// stdout carries the wire protocol while serving
	v.SetDefault("logToStderr", true)

	v.SetDefault("httpHost", "127.0.0.1")
	v.SetDefault("httpPort", 0) // disabled unless configured
}

// bindEnvAliases makes camelCase keys reachable through AutomaticEnv,
// which only uppercases the key as-is (projectId -> VERTEXMCP_PROJECTID).
func bindEnvAliases(v *viper.Viper) {
	for _, key := range []string{
		"projectId", "location", "model", "temperature", "maxTokens",
		"topP", "topK", "accessToken",
		"enableConversations", "sessionTimeout", "maxHistory",
		"enableReasoning", "maxReasoningSteps", "systemPrompt",
		"logDir", "logLevel", "logFormat", "disableLogging", "logToStderr",
		"httpHost", "httpPort",
	} {
		_ = v.BindEnv(key)
	}
}
