// Package config handles configuration loading for parley-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	upstream:
//	  api_key: "${OPENAI_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	upstream:
//	  timeout: "120s"
//	rate_limit:
//	  window: "60s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Database:
//
//	database:
//	  path: "/var/lib/parley/gateway.db"
//
// Upstream provider:
//
//	upstream:
//	  api_key: "${OPENAI_API_KEY}"
//	  base_url: "https://api.openai.com/v1"
//	  timeout: "120s"
//
// Protocol defaults:
//
//	simple:
//	  model: "gpt-3.5-turbo"
//	  temperature: 0.7
//	  max_tokens: 1000
//
//	stateful:
//	  model: "gpt-4o"
//	  fallback_model: "gpt-4o-mini"
//	  prompt_ref: "pmpt_..."
//	  knowledge_store_refs: ["vs_..."]
//
// Conversation limits:
//
//	chat:
//	  system_prompt: "You are a helpful assistant."
//	  max_messages: 50
//	  max_message_length: 4000
//
// Rate limiting:
//
//	rate_limit:
//	  ceiling: 60
//	  window: "60s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/parley/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
