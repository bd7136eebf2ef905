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

const anthropicVersion = "2023-06-01"

// DefaultMaxToolTurns bounds the tool-use loop of a delegated batch.
const DefaultMaxToolTurns = 8

// AnthropicConfig configures an AnthropicBackend.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// MaxToolTurns bounds Delegate's request/tool round trips.
	MaxToolTurns int
	// ForceScripted hides the autonomous capability.
	ForceScripted bool
}

// DefaultAnthropicConfig returns sensible defaults.
func DefaultAnthropicConfig(apiKey string) AnthropicConfig {
	return AnthropicConfig{
		APIKey:       apiKey,
		BaseURL:      "https://api.anthropic.com/v1",
		Model:        "claude-sonnet-4-5",
		Timeout:      10 * time.Minute, // delegated batches run long
		MaxToolTurns: DefaultMaxToolTurns,
	}
}

// anthropicMessage represents a message (supports both text and tool results).
type anthropicMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string or []anthropicContentBlock
}

// anthropicContentBlock represents a content block in a message.
type anthropicContentBlock struct {
	Type      string                 `json:"type"`                  // "text", "tool_use", "tool_result"
	Text      string                 `json:"text,omitempty"`        // For text blocks
	ID        string                 `json:"id,omitempty"`          // For tool_use blocks
	Name      string                 `json:"name,omitempty"`        // For tool_use blocks
	Input     map[string]interface{} `json:"input,omitempty"`       // For tool_use blocks
	ToolUseID string                 `json:"tool_use_id,omitempty"` // For tool_result blocks
	Content   string                 `json:"content,omitempty"`     // For tool_result blocks
	IsError   bool                   `json:"is_error,omitempty"`    // For tool_result blocks
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	ToolChoice  *anthropicChoice   `json:"tool_choice,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicChoice struct {
	Type string `json:"type"` // "auto", "any", "none"
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"` // "end_turn" or "tool_use"
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (r *anthropicResponse) text() string {
	var sb strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// AnthropicBackend talks to the Anthropic Messages API. It is the autonomous
// backend: Delegate runs a tool-use loop against the supplied toolbox.
type AnthropicBackend struct {
	apiKey        string
	baseURL       string
	model         string
	maxToolTurns  int
	forceScripted bool
	http          *httpClient
}

var (
	_ types.ReasoningBackend = (*AnthropicBackend)(nil)
	_ types.StreamingJudge   = (*AnthropicBackend)(nil)
	_ types.HealthChecker    = (*AnthropicBackend)(nil)
)

// NewAnthropicBackend creates a backend for cfg. Empty fields take defaults.
func NewAnthropicBackend(cfg AnthropicConfig) *AnthropicBackend {
	def := DefaultAnthropicConfig(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxToolTurns <= 0 {
		cfg.MaxToolTurns = def.MaxToolTurns
	}
	return &AnthropicBackend{
		apiKey:        cfg.APIKey,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		model:         cfg.Model,
		maxToolTurns:  cfg.MaxToolTurns,
		forceScripted: cfg.ForceScripted,
		http:          newHTTPClient(cfg.Timeout),
	}
}

// Name identifies the backend.
func (b *AnthropicBackend) Name() string { return "anthropic:" + b.model }

// Capabilities reports autonomy unless scripted mode is forced.
func (b *AnthropicBackend) Capabilities() types.Capabilities {
	return types.Capabilities{Autonomous: !b.forceScripted, Streaming: true}
}

func (b *AnthropicBackend) headers() map[string]string {
	return map[string]string{
		"x-api-key":         b.apiKey,
		"anthropic-version": anthropicVersion,
	}
}

func (b *AnthropicBackend) send(ctx context.Context, req anthropicRequest) (*anthropicResponse, error) {
	if b.apiKey == "" {
		return nil, fmt.Errorf("%w: anthropic API key", ErrNotConfigured)
	}
	body, err := b.http.postJSON(ctx, b.baseURL+"/messages", b.headers(), req)
	if err != nil {
		return nil, err
	}
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("API error: %s", resp.Error.Message)
	}
	return &resp, nil
}

// Judge sends a single message and returns the reply text.
func (b *AnthropicBackend) Judge(ctx context.Context, systemPrompt, prompt string) (string, error) {
	start := time.Now()
	logging.BackendDebug("[Anthropic] Judge: model=%s system_len=%d user_len=%d", b.model, len(systemPrompt), len(prompt))

	resp, err := b.send(ctx, anthropicRequest{
		Model:       b.model,
		MaxTokens:   4096,
		System:      systemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		Temperature: defaultTemperature,
	})
	if err != nil {
		logging.BackendWarn("[Anthropic] Judge failed after %v: %v", time.Since(start), err)
		return "", err
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("no completion returned")
	}
	text := resp.text()
	logging.Backend("[Anthropic] Judge: completed in %v response_len=%d", time.Since(start), len(text))
	return text, nil
}

// JudgeStreaming reads server-sent events and calls onToken for every text
// delta.
func (b *AnthropicBackend) JudgeStreaming(ctx context.Context, systemPrompt, prompt string, onToken func(string)) (string, error) {
	if b.apiKey == "" {
		return "", fmt.Errorf("%w: anthropic API key", ErrNotConfigured)
	}
	payload, err := json.Marshal(anthropicRequest{
		Model:       b.model,
		MaxTokens:   4096,
		System:      systemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		Temperature: defaultTemperature,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	if err := b.http.space(ctx); err != nil {
		return "", err
	}
	headers := b.headers()
	headers["Accept"] = "text/event-stream"
	resp, err := b.http.open(ctx, http.MethodPost, b.baseURL+"/messages", headers, payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var evt struct {
			Type  string `json:"type"`
			Delta *struct {
				Type string `json:"type"`
				Text string `json:"text,omitempty"`
			} `json:"delta,omitempty"`
			Error *struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error,omitempty"`
		}
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			continue
		}
		if evt.Error != nil {
			return sb.String(), fmt.Errorf("API error: %s", evt.Error.Message)
		}
		if evt.Type == "content_block_delta" && evt.Delta != nil && evt.Delta.Text != "" {
			sb.WriteString(evt.Delta.Text)
			if onToken != nil {
				onToken(evt.Delta.Text)
			}
		}
		if evt.Type == "message_stop" {
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

const delegateSystemPrompt = "You are an autonomous equipment validation engineer. Use the tools to " +
	"run every requested check against the equipment, then report the results exactly in the " +
	"requested format."

// Delegate runs prompt through a tool-use loop. Each tool_use block is
// executed against toolbox and fed back as a tool_result until the model ends
// its turn. When the turn budget runs out, one more request with tool use
// disabled asks for the final report.
func (b *AnthropicBackend) Delegate(ctx context.Context, prompt string, toolbox types.Toolbox) (string, error) {
	start := time.Now()

	var tools []anthropicTool
	if toolbox != nil {
		for _, def := range toolbox.Tools() {
			tools = append(tools, anthropicTool{
				Name:        def.Name,
				Description: def.Description,
				InputSchema: def.InputSchema,
			})
		}
	}

	messages := []anthropicMessage{{Role: "user", Content: prompt}}
	var transcript strings.Builder

	for turn := 1; turn <= b.maxToolTurns; turn++ {
		resp, err := b.send(ctx, anthropicRequest{
			Model:       b.model,
			MaxTokens:   8192,
			System:      delegateSystemPrompt,
			Messages:    messages,
			Tools:       tools,
			Temperature: defaultTemperature,
		})
		if err != nil {
			return "", fmt.Errorf("delegate turn %d: %w", turn, err)
		}

		text := resp.text()
		if text != "" {
			if transcript.Len() > 0 {
				transcript.WriteString("\n")
			}
			transcript.WriteString(text)
		}

		var calls []anthropicContentBlock
		for _, block := range resp.Content {
			if block.Type == "tool_use" {
				calls = append(calls, block)
			}
		}
		if resp.StopReason != "tool_use" || len(calls) == 0 || toolbox == nil {
			logging.Backend("[Anthropic] Delegate: finished in %v after %d turns", time.Since(start), turn)
			return transcript.String(), nil
		}

		results := make([]anthropicContentBlock, 0, len(calls))
		for _, call := range calls {
			out, err := toolbox.Call(ctx, types.ToolCall{ID: call.ID, Name: call.Name, Input: call.Input})
			block := anthropicContentBlock{Type: "tool_result", ToolUseID: call.ID, Content: out}
			if err != nil {
				block.Content = err.Error()
				block.IsError = true
			}
			results = append(results, block)
		}
		logging.BackendDebug("[Anthropic] Delegate: turn %d ran %d tool calls", turn, len(calls))

		messages = append(messages,
			anthropicMessage{Role: "assistant", Content: resp.Content},
			anthropicMessage{Role: "user", Content: results},
		)
	}

	logging.BackendWarn("[Anthropic] Delegate: tool turn budget (%d) exhausted, asking for the report", b.maxToolTurns)

	// The last message carries the pending tool results; the report request
	// rides along in the same user turn.
	last := &messages[len(messages)-1]
	if blocks, ok := last.Content.([]anthropicContentBlock); ok {
		last.Content = append(blocks, anthropicContentBlock{Type: "text", Text: finalReportPrompt})
	}
	resp, err := b.send(ctx, anthropicRequest{
		Model:       b.model,
		MaxTokens:   8192,
		System:      delegateSystemPrompt,
		Messages:    messages,
		Tools:       tools,
		ToolChoice:  &anthropicChoice{Type: "none"},
		Temperature: defaultTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("delegate final report: %w", err)
	}
	if text := resp.text(); text != "" {
		if transcript.Len() > 0 {
			transcript.WriteString("\n")
		}
		transcript.WriteString(text)
	}
	logging.Backend("[Anthropic] Delegate: finished in %v after %d turns and a final report", time.Since(start), b.maxToolTurns)
	return transcript.String(), nil
}

const finalReportPrompt = "The tool budget is used up. Do not call any more tools. " +
	"Report a result for every unit now in the required <results> block, " +
	"using NEEDS_CHECK for anything you could not verify."

// HealthCheck lists models to confirm the key is accepted.
func (b *AnthropicBackend) HealthCheck(ctx context.Context) error {
	if b.apiKey == "" {
		return fmt.Errorf("%w: anthropic API key", ErrNotConfigured)
	}
	if _, err := b.http.do(ctx, http.MethodGet, b.baseURL+"/models", b.headers(), nil); err != nil {
		return fmt.Errorf("anthropic not reachable: %w", err)
	}
	return nil
}
