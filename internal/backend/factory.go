package backend

import (
	"context"
	"fmt"

	"labvalidate/internal/config"
	"labvalidate/internal/logging"
	"labvalidate/internal/types"
)

// New builds the reasoning backend selected by cfg.LLM.Provider.
func New(ctx context.Context, cfg *config.Config) (types.ReasoningBackend, error) {
	llm := cfg.LLM
	timeout := cfg.GetLLMTimeout()

	var (
		b   types.ReasoningBackend
		err error
	)
	switch llm.Provider {
	case ProviderOllama, "":
		b = NewOllamaBackend(OllamaConfig{BaseURL: llm.BaseURL, Model: llm.Model, Timeout: timeout})
	case ProviderAnthropic:
		if llm.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("%w: anthropic provider requires ANTHROPIC_API_KEY", ErrNotConfigured)
		}
		b = NewAnthropicBackend(AnthropicConfig{
			APIKey:        llm.AnthropicAPIKey,
			BaseURL:       llm.BaseURL,
			Model:         llm.Model,
			Timeout:       timeout,
			ForceScripted: llm.ForceScripted,
		})
	case ProviderGemini:
		b, err = NewGeminiBackend(ctx, GeminiConfig{
			APIKey:  llm.GeminiAPIKey,
			Model:   llm.Model,
			BaseURL: llm.BaseURL,
			Timeout: timeout,
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (valid: %v)", llm.Provider, config.ValidProviders)
	}

	logging.Backend("Using reasoning backend %s (autonomous=%v)", b.Name(), b.Capabilities().Autonomous)
	return b, nil
}

// Status is the outcome of one provider health check.
type Status struct {
	Provider  string `json:"provider"`
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// Check runs the health check of b, if it has one.
func Check(ctx context.Context, provider string, b types.ReasoningBackend) Status {
	st := Status{Provider: provider, Name: b.Name(), Available: true}
	hc, ok := b.(types.HealthChecker)
	if !ok {
		return st
	}
	if err := hc.HealthCheck(ctx); err != nil {
		st.Available = false
		st.Error = err.Error()
	}
	return st
}

// CheckAll builds every provider cfg has credentials for and checks it.
// Providers that cannot be built are reported unavailable.
func CheckAll(ctx context.Context, cfg *config.Config) []Status {
	var out []Status
	for _, provider := range config.ValidProviders {
		c := *cfg
		c.LLM.Provider = provider
		if provider != cfg.LLM.Provider {
			c.LLM.Model = ""
			c.LLM.BaseURL = ""
		}
		b, err := New(ctx, &c)
		if err != nil {
			out = append(out, Status{Provider: provider, Error: err.Error()})
			continue
		}
		out = append(out, Check(ctx, provider, b))
	}
	return out
}
