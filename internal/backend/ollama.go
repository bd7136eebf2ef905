package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"labvalidate/internal/logging"
	"labvalidate/internal/types"
)

// OllamaConfig configures an OllamaBackend.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultOllamaConfig returns local defaults.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		BaseURL: "http://localhost:11434",
		Model:   "qwen3:8b",
		Timeout: 120 * time.Second,
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// OllamaBackend judges through a local Ollama server's /api/chat endpoint.
// It cannot run tools, so it is never autonomous.
type OllamaBackend struct {
	baseURL string
	model   string
	http    *httpClient
}

var (
	_ types.ReasoningBackend = (*OllamaBackend)(nil)
	_ types.StreamingJudge   = (*OllamaBackend)(nil)
	_ types.HealthChecker    = (*OllamaBackend)(nil)
)

// NewOllamaBackend creates a backend for cfg. Empty fields take defaults.
func NewOllamaBackend(cfg OllamaConfig) *OllamaBackend {
	def := DefaultOllamaConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &OllamaBackend{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		http:    newHTTPClient(cfg.Timeout),
	}
}

// Name identifies the backend.
func (b *OllamaBackend) Name() string { return "ollama:" + b.model }

// Capabilities reports streaming support only.
func (b *OllamaBackend) Capabilities() types.Capabilities {
	return types.Capabilities{Autonomous: false, Streaming: true}
}

func (b *OllamaBackend) request(systemPrompt, prompt string, stream bool) ollamaChatRequest {
	var msgs []ollamaMessage
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, ollamaMessage{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, ollamaMessage{Role: "user", Content: prompt})
	return ollamaChatRequest{
		Model:    b.model,
		Messages: msgs,
		Stream:   stream,
		Options:  map[string]any{"temperature": defaultTemperature},
	}
}

// Judge sends one chat turn and returns the reply text.
func (b *OllamaBackend) Judge(ctx context.Context, systemPrompt, prompt string) (string, error) {
	start := time.Now()
	logging.BackendDebug("[Ollama] Judge: model=%s system_len=%d user_len=%d", b.model, len(systemPrompt), len(prompt))

	body, err := b.http.postJSON(ctx, b.baseURL+"/api/chat", nil, b.request(systemPrompt, prompt, false))
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}

	var resp ollamaChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("ollama error: %s", resp.Error)
	}

	text := strings.TrimSpace(resp.Message.Content)
	logging.Backend("[Ollama] Judge: completed in %v response_len=%d", time.Since(start), len(text))
	return text, nil
}

// JudgeStreaming streams the reply as newline-delimited JSON chunks, calling
// onToken for each piece of content.
func (b *OllamaBackend) JudgeStreaming(ctx context.Context, systemPrompt, prompt string, onToken func(string)) (string, error) {
	payload, err := json.Marshal(b.request(systemPrompt, prompt, true))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	if err := b.http.space(ctx); err != nil {
		return "", err
	}
	resp, err := b.http.open(ctx, http.MethodPost, b.baseURL+"/api/chat", nil, payload)
	if err != nil {
		return "", fmt.Errorf("ollama chat stream: %w", err)
	}
	defer resp.Body.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk ollamaChatResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			return sb.String(), fmt.Errorf("ollama error: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			sb.WriteString(chunk.Message.Content)
			if onToken != nil {
				onToken(chunk.Message.Content)
			}
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return sb.String(), ctx.Err()
		}
		return sb.String(), fmt.Errorf("stream error: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// Delegate answers the batch prompt without tools.
func (b *OllamaBackend) Delegate(ctx context.Context, prompt string, _ types.Toolbox) (string, error) {
	return b.Judge(ctx, "", prompt)
}

// HealthCheck verifies the server answers and has the model pulled.
func (b *OllamaBackend) HealthCheck(ctx context.Context) error {
	data, err := b.http.do(ctx, http.MethodGet, b.baseURL+"/api/tags", nil, nil)
	if err != nil {
		return fmt.Errorf("ollama not reachable at %s: %w", b.baseURL, err)
	}
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(data, &tags); err != nil {
		return fmt.Errorf("failed to parse model list: %w", err)
	}
	for _, m := range tags.Models {
		if m.Name == b.model || strings.TrimSuffix(m.Name, ":latest") == b.model {
			return nil
		}
	}
	return fmt.Errorf("ollama model %s not pulled", b.model)
}
