package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"labvalidate/internal/logging"
	"labvalidate/internal/types"
)

// GeminiConfig configures a GeminiBackend.
type GeminiConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint; empty uses the SDK default.
	BaseURL string
	Timeout time.Duration
}

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiBackend judges through the Google GenAI SDK. It does not run tools.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

var (
	_ types.ReasoningBackend = (*GeminiBackend)(nil)
	_ types.StreamingJudge   = (*GeminiBackend)(nil)
	_ types.HealthChecker    = (*GeminiBackend)(nil)
)

// NewGeminiBackend creates a genai client for cfg.
func NewGeminiBackend(ctx context.Context, cfg GeminiConfig) (*GeminiBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key", ErrNotConfigured)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiBackend{client: client, model: cfg.Model}, nil
}

// Name identifies the backend.
func (b *GeminiBackend) Name() string { return "gemini:" + b.model }

// Capabilities reports streaming support only.
func (b *GeminiBackend) Capabilities() types.Capabilities {
	return types.Capabilities{Autonomous: false, Streaming: true}
}

func (b *GeminiBackend) config(systemPrompt string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](defaultTemperature),
		MaxOutputTokens: 4096,
	}
	if strings.TrimSpace(systemPrompt) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	return cfg
}

// Judge generates one reply.
func (b *GeminiBackend) Judge(ctx context.Context, systemPrompt, prompt string) (string, error) {
	start := time.Now()
	logging.BackendDebug("[Gemini] Judge: model=%s system_len=%d user_len=%d", b.model, len(systemPrompt), len(prompt))

	resp, err := b.client.Models.GenerateContent(ctx, b.model, genai.Text(prompt), b.config(systemPrompt))
	if err != nil {
		logging.BackendWarn("[Gemini] Judge failed after %v: %v", time.Since(start), err)
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("no completion returned")
	}
	logging.Backend("[Gemini] Judge: completed in %v response_len=%d", time.Since(start), len(text))
	return text, nil
}

// JudgeStreaming streams the reply, calling onToken for every chunk.
func (b *GeminiBackend) JudgeStreaming(ctx context.Context, systemPrompt, prompt string, onToken func(string)) (string, error) {
	var sb strings.Builder
	for resp, err := range b.client.Models.GenerateContentStream(ctx, b.model, genai.Text(prompt), b.config(systemPrompt)) {
		if err != nil {
			return sb.String(), fmt.Errorf("gemini stream: %w", err)
		}
		chunk := resp.Text()
		if chunk == "" {
			continue
		}
		sb.WriteString(chunk)
		if onToken != nil {
			onToken(chunk)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// Delegate answers the batch prompt without tools.
func (b *GeminiBackend) Delegate(ctx context.Context, prompt string, _ types.Toolbox) (string, error) {
	return b.Judge(ctx, "", prompt)
}

// HealthCheck fetches the configured model's metadata.
func (b *GeminiBackend) HealthCheck(ctx context.Context) error {
	if _, err := b.client.Models.Get(ctx, b.model, nil); err != nil {
		return fmt.Errorf("gemini model %s not available: %w", b.model, err)
	}
	return nil
}
