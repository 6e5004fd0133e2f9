package config

// DefaultConfig returns the built-in defaults; values from flowforge.yaml
// are merged on top.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port: 8000,
		},
		Engine: EngineConfig{
			DeadlockTimeoutMs: 30000,
			DrainTimeoutMs:    5000,
		},
		Correlation: CorrelationConfig{
			BufferTTLSeconds:     300,
			SweepIntervalSeconds: 30,
		},
		Observer: ObserverConfig{
			QueueSize:      256,
			WriteTimeoutMs: 5000,
		},
		Agentic: AgenticConfig{
			MaxRetriesDefault: 3,
			ConfidenceDefault: 0.7,
		},
		LLM: LLMConfig{
			Provider:  LLMProviderScripted,
			MaxTokens: 4096,
		},
		DefinitionsDir: "definitions",
	}
}
