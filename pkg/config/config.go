// Package config loads flowforge.yaml, expands {{.VAR}} environment
// templates, merges built-in defaults and validates the result.
package config

import (
	"time"
)

// Config is the complete runtime configuration.
type Config struct {
	HTTP        HTTPConfig                 `yaml:"http"`
	Engine      EngineConfig               `yaml:"engine"`
	Correlation CorrelationConfig          `yaml:"correlation"`
	Observer    ObserverConfig             `yaml:"observer"`
	Agentic     AgenticConfig              `yaml:"agentic"`
	LLM         LLMConfig                  `yaml:"llm"`
	MCPServers  map[string]MCPServerConfig `yaml:"mcp_servers"`
	Send        SendConfig                 `yaml:"send"`

	// PublicBaseURL is used when inlining approval links into outbound
	// messages. Overridable via PUBLIC_BASE_URL or NGROK_URL.
	PublicBaseURL string `yaml:"public_base_url"`

	// DefinitionsDir holds workflow YAML files loadable by name.
	DefinitionsDir string `yaml:"definitions_dir"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Port             int      `yaml:"port"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// EngineConfig configures the scheduler.
type EngineConfig struct {
	DeadlockTimeoutMs int `yaml:"deadlock_timeout_ms"`
	DrainTimeoutMs    int `yaml:"drain_timeout_ms"`
}

func (c EngineConfig) DeadlockTimeout() time.Duration {
	return time.Duration(c.DeadlockTimeoutMs) * time.Millisecond
}

func (c EngineConfig) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutMs) * time.Millisecond
}

// CorrelationConfig configures the message bus.
type CorrelationConfig struct {
	BufferTTLSeconds     int `yaml:"buffer_ttl_s"`
	SweepIntervalSeconds int `yaml:"sweep_interval_s"`
}

func (c CorrelationConfig) BufferTTL() time.Duration {
	return time.Duration(c.BufferTTLSeconds) * time.Second
}

func (c CorrelationConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// ObserverConfig configures the event broadcaster and WebSocket handling.
type ObserverConfig struct {
	QueueSize      int `yaml:"queue_size"`
	WriteTimeoutMs int `yaml:"write_timeout_ms"`
}

func (c ObserverConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

// AgenticConfig carries defaults for agentic task retry loops.
type AgenticConfig struct {
	MaxRetriesDefault int     `yaml:"max_retries_default"`
	ConfidenceDefault float64 `yaml:"confidence_default"`
}

// LLMConfig selects and configures the model provider.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // "anthropic" or "scripted"
	APIKey      string  `yaml:"api_key"`  // typically {{.ANTHROPIC_API_KEY}}
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// LLM provider names.
const (
	LLMProviderAnthropic = "anthropic"
	LLMProviderScripted  = "scripted"
)

// SendConfig configures send-task behavior.
type SendConfig struct {
	DefaultRecipient string `yaml:"default_recipient"`
}

// MCPServerConfig defines one MCP server available to agentic tasks.
type MCPServerConfig struct {
	Transport TransportConfig `yaml:"transport"`
}

// Transport types.
const (
	TransportTypeStdio = "stdio"
	TransportTypeHTTP  = "http"
	TransportTypeSSE   = "sse"
)

// TransportConfig selects and configures an MCP transport.
type TransportConfig struct {
	Type string `yaml:"type"`

	// stdio
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// http / sse
	URL            string `yaml:"url,omitempty"`
	BearerToken    string `yaml:"bearer_token,omitempty"`
	TimeoutSeconds int    `yaml:"timeout,omitempty"`
	VerifySSL      *bool  `yaml:"verify_ssl,omitempty"`
}
