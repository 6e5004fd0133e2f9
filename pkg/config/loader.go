package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Sentinel errors for load failures.
var (
	ErrConfigNotFound = errors.New("configuration file not found")
	ErrInvalidYAML    = errors.New("invalid YAML in configuration file")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Load reads the YAML file at path, expands {{.VAR}} environment templates,
// merges built-in defaults, applies environment overrides and validates.
// An empty path loads defaults plus environment overrides only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
			}
			return nil, err
		}

		var user Config
		if err := yaml.Unmarshal(ExpandEnv(data), &user); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
		}
		if err := mergo.Merge(cfg, &user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if problems := validate(cfg); len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return cfg, nil
}

// applyEnvOverrides layers the documented environment variables on top of
// the file. PUBLIC_BASE_URL wins over NGROK_URL when both are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NGROK_URL"); v != "" {
		cfg.PublicBaseURL = v
	}
	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		cfg.PublicBaseURL = v
	}
	setIntEnv("DEADLOCK_TIMEOUT_MS", &cfg.Engine.DeadlockTimeoutMs)
	setIntEnv("CORRELATION_BUFFER_TTL_S", &cfg.Correlation.BufferTTLSeconds)
	setIntEnv("OBSERVER_QUEUE_SIZE", &cfg.Observer.QueueSize)
	setIntEnv("MAX_RETRIES_DEFAULT", &cfg.Agentic.MaxRetriesDefault)
	if v := os.Getenv("CONFIDENCE_DEFAULT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Agentic.ConfidenceDefault = f
		}
	}
}

func setIntEnv(name string, target *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func validate(cfg *Config) []string {
	var problems []string

	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		problems = append(problems, fmt.Sprintf("http.port %d out of range", cfg.HTTP.Port))
	}
	if cfg.Engine.DeadlockTimeoutMs <= 0 {
		problems = append(problems, "engine.deadlock_timeout_ms must be positive")
	}
	if cfg.Correlation.BufferTTLSeconds <= 0 {
		problems = append(problems, "correlation.buffer_ttl_s must be positive")
	}
	if cfg.Observer.QueueSize <= 0 {
		problems = append(problems, "observer.queue_size must be positive")
	}
	if cfg.Agentic.ConfidenceDefault < 0 || cfg.Agentic.ConfidenceDefault > 1 {
		problems = append(problems, "agentic.confidence_default must be within [0,1]")
	}

	switch cfg.LLM.Provider {
	case LLMProviderScripted:
	case LLMProviderAnthropic:
		if cfg.LLM.APIKey == "" {
			problems = append(problems, "llm.api_key is required for the anthropic provider")
		}
		if cfg.LLM.Model == "" {
			problems = append(problems, "llm.model is required for the anthropic provider")
		}
	default:
		problems = append(problems, fmt.Sprintf("llm.provider %q is not supported", cfg.LLM.Provider))
	}

	for id, server := range cfg.MCPServers {
		switch server.Transport.Type {
		case TransportTypeStdio:
			if server.Transport.Command == "" {
				problems = append(problems, fmt.Sprintf("mcp_servers.%s: stdio transport requires command", id))
			}
		case TransportTypeHTTP, TransportTypeSSE:
			if server.Transport.URL == "" {
				problems = append(problems, fmt.Sprintf("mcp_servers.%s: %s transport requires url", id, server.Transport.Type))
			}
		default:
			problems = append(problems, fmt.Sprintf("mcp_servers.%s: unsupported transport type %q", id, server.Transport.Type))
		}
	}
	return problems
}
