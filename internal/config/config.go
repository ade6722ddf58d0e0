package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

type Config struct {
	Provider     string             `mapstructure:"provider"`
	MaxTurns     int                `mapstructure:"max_turns"`
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	Ollama       OllamaConfig       `mapstructure:"ollama"`
	LMStudio     LMStudioConfig     `mapstructure:"lmstudio"`
	OpenAICompat OpenAICompatConfig `mapstructure:"openai-compat"`
	Session      SessionConfig      `mapstructure:"session"`
	MCP          MCPConfig          `mapstructure:"mcp"`
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// OllamaConfig configures the Ollama provider (OpenAI-compatible)
type OllamaConfig struct {
	BaseURL        string `mapstructure:"base_url"` // Default: http://localhost:11434/v1
	Model          string `mapstructure:"model"`
	APIKey         string `mapstructure:"api_key"` // Optional, Ollama ignores it
	ReasoningOpen  string `mapstructure:"reasoning_open"`
	ReasoningClose string `mapstructure:"reasoning_close"`
}

// LMStudioConfig configures the LM Studio provider (OpenAI-compatible)
type LMStudioConfig struct {
	BaseURL        string `mapstructure:"base_url"` // Default: http://localhost:1234/v1
	Model          string `mapstructure:"model"`
	APIKey         string `mapstructure:"api_key"` // Optional, LM Studio ignores it
	ReasoningOpen  string `mapstructure:"reasoning_open"`
	ReasoningClose string `mapstructure:"reasoning_close"`
}

// OpenAICompatConfig configures a generic OpenAI-compatible server
type OpenAICompatConfig struct {
	BaseURL        string `mapstructure:"base_url"` // Required - no default
	Model          string `mapstructure:"model"`
	APIKey         string `mapstructure:"api_key"` // Optional
	ReasoningOpen  string `mapstructure:"reasoning_open"`
	ReasoningClose string `mapstructure:"reasoning_close"`
}

// SessionConfig configures conversation persistence
type SessionConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // Override default sessions.db location
}

// MCPConfig points at the MCP server definitions file
type MCPConfig struct {
	ConfigPath string `mapstructure:"config_path"` // Override default mcp.json location
}

func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath(".")

	viper.SetDefault("provider", "anthropic")
	viper.SetDefault("max_turns", 20)
	viper.SetDefault("anthropic.model", "claude-sonnet-4-5")
	viper.SetDefault("ollama.base_url", "http://localhost:11434/v1")
	viper.SetDefault("lmstudio.base_url", "http://localhost:1234/v1")
	// openai-compat has no base_url default - it's required
	viper.SetDefault("session.enabled", true)

	// Read config file (optional - won't error if missing)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// ApplyOverrides applies provider and model overrides to the config.
// If provider is non-empty, it overrides the global provider.
// If model is non-empty, it overrides the model for the active provider.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.Provider = provider
	}
	if model != "" {
		switch c.Provider {
		case "anthropic":
			c.Anthropic.Model = model
		case "ollama":
			c.Ollama.Model = model
		case "lmstudio":
			c.LMStudio.Model = model
		case "openai-compat":
			c.OpenAICompat.Model = model
		}
	}
}

// GetConfigDir returns the parley config directory, creating it if needed.
func GetConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".config", "parley")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// SessionDBPath returns the path to the sessions database, honoring the
// config override.
func (c *Config) SessionDBPath() (string, error) {
	if c.Session.Path != "" {
		return c.Session.Path, nil
	}
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sessions.db"), nil
}

// MCPConfigPath returns the path to the MCP server definitions file,
// honoring the config override.
func (c *Config) MCPConfigPath() (string, error) {
	if c.MCP.ConfigPath != "" {
		return c.MCP.ConfigPath, nil
	}
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mcp.json"), nil
}
