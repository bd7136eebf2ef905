package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all labvalidate configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Reasoning backend
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine used by the retrieval store
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Batch execution
	Execution ExecutionConfig `yaml:"execution"`

	// Retrieval store and knowledge enhancer
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Built-in equipment simulator
	Simulator SimulatorConfig `yaml:"simulator"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Metrics
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig toggles OpenTelemetry instrumentation.
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "labvalidate",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider: "ollama",
			Model:    "qwen3:8b",
			BaseURL:  "http://localhost:11434",
			Timeout:  "120s",
		},

		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "nomic-embed-text",
			GenAIModel:     "gemini-embedding-001",
			TaskType:       "RETRIEVAL_QUERY",
			CacheSize:      512,
		},

		Execution: ExecutionConfig{
			MaxConcurrency:    3,
			UnitTimeout:       "60s",
			BatchTimeout:      "30m",
			AutonomousTimeout: "15m",
			Command:           "execute_validation",
		},

		Retrieval: RetrievalConfig{
			Backend:      "memory",
			DatabasePath: "data/knowledge.db",
			TopK:         3,
		},

		Simulator: SimulatorConfig{
			SuccessRate: 0.9,
			MinLatency:  "500ms",
			MaxLatency:  "3s",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},

		Metrics: MetricsConfig{
			Enabled:     false,
			ServiceName: "labvalidate",
		},
	}
}

// Load reads configuration from a YAML file. A missing file yields defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.AnthropicAPIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.GeminiAPIKey = key
		c.Embedding.GenAIAPIKey = key
	}
	if p := os.Getenv("LABVAL_LLM_PROVIDER"); p != "" && p != c.LLM.Provider {
		// model and endpoint belong to the previous provider
		c.LLM.Provider = p
		c.LLM.Model = ""
		c.LLM.BaseURL = ""
	}

	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
		c.Embedding.OllamaEndpoint = url
	}
	if model := os.Getenv("OLLAMA_MODEL"); model != "" && c.LLM.Provider == "ollama" {
		c.LLM.Model = model
	}
	if model := os.Getenv("EMBEDDING_MODEL"); model != "" {
		c.Embedding.OllamaModel = model
	}

	if path := os.Getenv("LABVAL_DB"); path != "" {
		c.Retrieval.DatabasePath = path
		c.Retrieval.Backend = "sqlite"
	}
	if v := os.Getenv("LABVAL_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Execution.MaxConcurrency = n
		}
	}
}

// ValidProviders lists the reasoning backends the factory can build.
var ValidProviders = []string{"ollama", "anthropic", "gemini"}

// ValidEmbeddingProviders lists the embedding engines the factory can build.
var ValidEmbeddingProviders = []string{"ollama", "genai"}

// Validate checks the configuration for missing or contradictory values.
func (c *Config) Validate() error {
	if !contains(ValidProviders, c.LLM.Provider) {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if c.LLM.Provider == "anthropic" && c.LLM.AnthropicAPIKey == "" {
		return fmt.Errorf("anthropic provider requires an API key (set ANTHROPIC_API_KEY)")
	}
	if c.LLM.Provider == "gemini" && c.LLM.GeminiAPIKey == "" {
		return fmt.Errorf("gemini provider requires an API key (set GEMINI_API_KEY)")
	}

	if !contains(ValidEmbeddingProviders, c.Embedding.Provider) {
		return fmt.Errorf("invalid embedding provider: %s (valid: %v)", c.Embedding.Provider, ValidEmbeddingProviders)
	}
	if c.Embedding.Provider == "genai" && c.Embedding.GenAIAPIKey == "" {
		return fmt.Errorf("genai embedding provider requires an API key (set GEMINI_API_KEY)")
	}

	if c.Execution.MaxConcurrency < 0 {
		return fmt.Errorf("execution.max_concurrency must be >= 0, got %d", c.Execution.MaxConcurrency)
	}
	if c.Retrieval.TopK < 0 {
		return fmt.Errorf("retrieval.top_k must be >= 0, got %d", c.Retrieval.TopK)
	}
	switch c.Retrieval.Backend {
	case "memory":
	case "sqlite":
		if c.Retrieval.DatabasePath == "" {
			return fmt.Errorf("retrieval.database_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("invalid retrieval backend: %s (valid: memory, sqlite)", c.Retrieval.Backend)
	}
	if c.Simulator.SuccessRate < 0 || c.Simulator.SuccessRate > 1 {
		return fmt.Errorf("simulator.success_rate must be within [0,1], got %v", c.Simulator.SuccessRate)
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
