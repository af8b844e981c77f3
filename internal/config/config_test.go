// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

upstream:
  api_key: "sk-test"
  base_url: "https://api.example.com/v1"
  timeout: "90s"

simple:
  model: "gpt-4o-mini"
  temperature: 0.5
  max_tokens: 512

stateful:
  model: "gpt-4o"
  fallback_model: "gpt-4o-mini"
  prompt_ref: "pmpt_abc123"
  prompt_version: "3"
  knowledge_store_refs:
    - "vs_1"
    - "vs_2"
  tools:
    - "current_time"

chat:
  system_prompt: "You are a helpful assistant."
  max_messages: 20
  max_message_length: 2000

rate_limit:
  ceiling: 5
  window: "30s"

relay:
  enabled: true

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}

	if cfg.Upstream.APIKey != "sk-test" {
		t.Errorf("Upstream.APIKey = %q, want %q", cfg.Upstream.APIKey, "sk-test")
	}
	if cfg.Upstream.BaseURL != "https://api.example.com/v1" {
		t.Errorf("Upstream.BaseURL = %q, want %q", cfg.Upstream.BaseURL, "https://api.example.com/v1")
	}
	if cfg.Upstream.Timeout != 90*time.Second {
		t.Errorf("Upstream.Timeout = %v, want %v", cfg.Upstream.Timeout, 90*time.Second)
	}

	if cfg.Simple.Model != "gpt-4o-mini" {
		t.Errorf("Simple.Model = %q, want %q", cfg.Simple.Model, "gpt-4o-mini")
	}
	if cfg.Simple.Temperature != 0.5 {
		t.Errorf("Simple.Temperature = %v, want 0.5", cfg.Simple.Temperature)
	}
	if cfg.Simple.MaxTokens != 512 {
		t.Errorf("Simple.MaxTokens = %d, want 512", cfg.Simple.MaxTokens)
	}

	if cfg.Stateful.Model != "gpt-4o" {
		t.Errorf("Stateful.Model = %q, want %q", cfg.Stateful.Model, "gpt-4o")
	}
	if cfg.Stateful.FallbackModel != "gpt-4o-mini" {
		t.Errorf("Stateful.FallbackModel = %q, want %q", cfg.Stateful.FallbackModel, "gpt-4o-mini")
	}
	if cfg.Stateful.PromptRef != "pmpt_abc123" {
		t.Errorf("Stateful.PromptRef = %q, want %q", cfg.Stateful.PromptRef, "pmpt_abc123")
	}
	if len(cfg.Stateful.KnowledgeStoreRefs) != 2 {
		t.Errorf("Stateful.KnowledgeStoreRefs len = %d, want 2", len(cfg.Stateful.KnowledgeStoreRefs))
	}

	if cfg.Chat.MaxMessages != 20 {
		t.Errorf("Chat.MaxMessages = %d, want 20", cfg.Chat.MaxMessages)
	}
	if cfg.Chat.MaxMessageLength != 2000 {
		t.Errorf("Chat.MaxMessageLength = %d, want 2000", cfg.Chat.MaxMessageLength)
	}

	if cfg.RateLimit.Ceiling != 5 {
		t.Errorf("RateLimit.Ceiling = %d, want 5", cfg.RateLimit.Ceiling)
	}
	if cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("RateLimit.Window = %v, want %v", cfg.RateLimit.Window, 30*time.Second)
	}

	if !cfg.Relay.Enabled {
		t.Error("Relay.Enabled = false, want true")
	}
	if cfg.Relay.Path != "/ws" {
		t.Errorf("Relay.Path = %q, want %q", cfg.Relay.Path, "/ws")
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
upstream:
  api_key: "sk-test"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Upstream.BaseURL != DefaultBaseURL {
		t.Errorf("Upstream.BaseURL = %q, want default %q", cfg.Upstream.BaseURL, DefaultBaseURL)
	}
	if cfg.Upstream.Timeout != DefaultUpstreamTimeout {
		t.Errorf("Upstream.Timeout = %v, want default %v", cfg.Upstream.Timeout, DefaultUpstreamTimeout)
	}
	if cfg.Simple.Model != DefaultModel {
		t.Errorf("Simple.Model = %q, want default %q", cfg.Simple.Model, DefaultModel)
	}
	if cfg.Simple.Temperature != DefaultTemperature {
		t.Errorf("Simple.Temperature = %v, want default %v", cfg.Simple.Temperature, DefaultTemperature)
	}
	if cfg.Simple.MaxTokens != DefaultMaxTokens {
		t.Errorf("Simple.MaxTokens = %d, want default %d", cfg.Simple.MaxTokens, DefaultMaxTokens)
	}
	if cfg.Stateful.Model != DefaultModel {
		t.Errorf("Stateful.Model = %q, want simple model %q", cfg.Stateful.Model, DefaultModel)
	}
	if cfg.Chat.MaxMessages != DefaultMaxMessages {
		t.Errorf("Chat.MaxMessages = %d, want default %d", cfg.Chat.MaxMessages, DefaultMaxMessages)
	}
	if cfg.Chat.MaxMessageLength != DefaultMaxMessageLength {
		t.Errorf("Chat.MaxMessageLength = %d, want default %d", cfg.Chat.MaxMessageLength, DefaultMaxMessageLength)
	}
	if cfg.Chat.MaxToolRounds != DefaultMaxToolRounds {
		t.Errorf("Chat.MaxToolRounds = %d, want default %d", cfg.Chat.MaxToolRounds, DefaultMaxToolRounds)
	}
	if cfg.RateLimit.Ceiling != DefaultRateCeiling {
		t.Errorf("RateLimit.Ceiling = %d, want default %d", cfg.RateLimit.Ceiling, DefaultRateCeiling)
	}
	if cfg.RateLimit.Window != DefaultRateWindow {
		t.Errorf("RateLimit.Window = %v, want default %v", cfg.RateLimit.Window, DefaultRateWindow)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_UPSTREAM_KEY", "sk-from-env")

	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
upstream:
  api_key: "${TEST_UPSTREAM_KEY}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Upstream.APIKey != "sk-from-env" {
		t.Errorf("Upstream.APIKey = %q, want %q", cfg.Upstream.APIKey, "sk-from-env")
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing http_addr",
			content: `
database:
  path: "./test.db"
upstream:
  api_key: "sk-test"
`,
			wantErr: "server.http_addr",
		},
		{
			name: "missing database path",
			content: `
server:
  http_addr: "0.0.0.0:8080"
upstream:
  api_key: "sk-test"
`,
			wantErr: "database.path",
		},
		{
			name: "missing api key",
			content: `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
`,
			wantErr: "upstream.api_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, tt.content)

			_, err := Load(configPath)
			if err == nil {
				t.Fatal("Load() error = nil, want validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
upstream:
  api_key: "sk-test"
rate_limit:
  window: "not-a-duration"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() error = nil, want duration parse error")
	}
	if !strings.Contains(err.Error(), "window") {
		t.Errorf("Load() error = %v, want mention of window", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Load() error = nil, want read error")
	}
}
