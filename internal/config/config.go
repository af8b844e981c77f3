// ABOUTME: Configuration loading and parsing for parley-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete parley-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Simple    SimpleConfig    `yaml:"simple"`
	Stateful  StatefulConfig  `yaml:"stateful"`
	Chat      ChatConfig      `yaml:"chat"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Relay     RelayConfig     `yaml:"relay"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// UpstreamConfig holds credentials and connection settings for the upstream
// model provider
type UpstreamConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// SimpleConfig holds defaults for the simple completion protocol
type SimpleConfig struct {
	Model            string  `yaml:"model"`
	Temperature      float64 `yaml:"temperature"`
	TopP             float64 `yaml:"top_p"`
	MaxTokens        int     `yaml:"max_tokens"`
	FrequencyPenalty float64 `yaml:"frequency_penalty"`
	PresencePenalty  float64 `yaml:"presence_penalty"`
}

// StatefulConfig holds defaults for the stateful response protocol
type StatefulConfig struct {
	Model              string   `yaml:"model"`
	FallbackModel      string   `yaml:"fallback_model"`
	PromptRef          string   `yaml:"prompt_ref"`
	PromptVersion      string   `yaml:"prompt_version"`
	KnowledgeStoreRefs []string `yaml:"knowledge_store_refs"`
	Tools              []string `yaml:"tools"`
}

// ChatConfig holds conversation-level limits and the default system prompt
type ChatConfig struct {
	SystemPrompt     string `yaml:"system_prompt"`
	MaxMessages      int    `yaml:"max_messages"`
	MaxMessageLength int    `yaml:"max_message_length"`
	MaxToolRounds    int    `yaml:"max_tool_rounds"`
}

// RateLimitConfig holds sliding-window admission settings
type RateLimitConfig struct {
	Ceiling int `yaml:"ceiling"`

	Window    time.Duration `yaml:"-"`
	WindowRaw string        `yaml:"window"`
}

// RelayConfig holds websocket relay configuration
type RelayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults matching the hosted chatbot this gateway replaces.
const (
	DefaultModel            = "gpt-3.5-turbo"
	DefaultTemperature      = 0.7
	DefaultTopP             = 1.0
	DefaultMaxTokens        = 1000
	DefaultMaxMessages      = 50
	DefaultMaxMessageLength = 4000
	DefaultMaxToolRounds    = 8
	DefaultRateCeiling      = 60
	DefaultRateWindow       = time.Minute
	DefaultUpstreamTimeout  = 120 * time.Second
	DefaultBaseURL          = "https://api.openai.com/v1"
	DefaultRelayPath        = "/ws"
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills zero-valued fields with their defaults.
func (c *Config) applyDefaults() {
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultBaseURL
	}
	if c.Simple.Model == "" {
		c.Simple.Model = DefaultModel
	}
	if c.Simple.Temperature == 0 {
		c.Simple.Temperature = DefaultTemperature
	}
	if c.Simple.TopP == 0 {
		c.Simple.TopP = DefaultTopP
	}
	if c.Simple.MaxTokens == 0 {
		c.Simple.MaxTokens = DefaultMaxTokens
	}
	if c.Stateful.Model == "" {
		c.Stateful.Model = c.Simple.Model
	}
	if c.Chat.MaxMessages == 0 {
		c.Chat.MaxMessages = DefaultMaxMessages
	}
	if c.Chat.MaxMessageLength == 0 {
		c.Chat.MaxMessageLength = DefaultMaxMessageLength
	}
	if c.Chat.MaxToolRounds == 0 {
		c.Chat.MaxToolRounds = DefaultMaxToolRounds
	}
	if c.RateLimit.Ceiling == 0 {
		c.RateLimit.Ceiling = DefaultRateCeiling
	}
	if c.Relay.Path == "" {
		c.Relay.Path = DefaultRelayPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Upstream.APIKey == "" {
		return fmt.Errorf("upstream.api_key is required")
	}
	if c.Chat.MaxMessages < 0 {
		return fmt.Errorf("chat.max_messages must not be negative")
	}
	if c.RateLimit.Ceiling < 0 {
		return fmt.Errorf("rate_limit.ceiling must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Upstream.TimeoutRaw != "" {
		cfg.Upstream.Timeout, err = time.ParseDuration(cfg.Upstream.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing upstream timeout %q: %w", cfg.Upstream.TimeoutRaw, err)
		}
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = DefaultUpstreamTimeout
	}

	if cfg.RateLimit.WindowRaw != "" {
		cfg.RateLimit.Window, err = time.ParseDuration(cfg.RateLimit.WindowRaw)
		if err != nil {
			return fmt.Errorf("parsing rate_limit window %q: %w", cfg.RateLimit.WindowRaw, err)
		}
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = DefaultRateWindow
	}

	return nil
}
