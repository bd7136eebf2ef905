package config

import "time"

// LLMConfig configures the reasoning backend.
type LLMConfig struct {
	Provider        string `yaml:"provider"` // ollama, anthropic, gemini
	Model           string `yaml:"model"`
	BaseURL         string `yaml:"base_url"`
	AnthropicAPIKey string `yaml:"anthropic_api_key,omitempty"`
	GeminiAPIKey    string `yaml:"gemini_api_key,omitempty"`
	Timeout         string `yaml:"timeout"`

	// ForceScripted disables autonomous delegation even when the backend
	// declares it.
	ForceScripted bool `yaml:"force_scripted"`

	// Streaming uses JudgeStreaming when the backend supports it.
	Streaming bool `yaml:"streaming"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // ollama, genai
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key,omitempty"`
	GenAIModel     string `yaml:"genai_model"`
	TaskType       string `yaml:"task_type"`
	// CacheSize bounds the in-process embedding cache; 0 disables it.
	CacheSize int `yaml:"cache_size"`
}

// GetLLMTimeout returns the per-request backend timeout.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}
