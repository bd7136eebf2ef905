package types

import (
	"context"
)

// TargetSimulator runs a command against a piece of equipment. A returned
// error means the simulator itself could not be reached; equipment-level
// failures come back as a response with Status == SimulatorError.
type TargetSimulator interface {
	Run(ctx context.Context, equipmentID, command string, params map[string]any) (SimulatorResponse, error)
}

// Capabilities declares what a reasoning backend can do.
type Capabilities struct {
	// Autonomous backends can take over a whole batch through Delegate.
	Autonomous bool `json:"autonomous"`
	// Streaming backends implement StreamingJudge.
	Streaming bool `json:"streaming"`
}

// ReasoningBackend is the LLM that judges simulator output or, when
// autonomous, executes a whole batch itself.
type ReasoningBackend interface {
	Name() string
	Capabilities() Capabilities
	// Judge returns the raw reply to a judgment prompt.
	Judge(ctx context.Context, systemPrompt, prompt string) (string, error)
	// Delegate hands a batch prompt to the backend, which may call tools
	// from toolbox before replying. Non-autonomous backends answer without
	// tools.
	Delegate(ctx context.Context, prompt string, toolbox Toolbox) (string, error)
}

// StreamingJudge is implemented by backends that can stream a judgment.
// onToken is called for every chunk; the full reply is returned at the end.
type StreamingJudge interface {
	JudgeStreaming(ctx context.Context, systemPrompt, prompt string, onToken func(string)) (string, error)
}

// HealthChecker is implemented by backends and engines that can report
// whether their service is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ToolDefinition describes a tool that an autonomous backend can invoke.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"` // JSON Schema for parameters
}

// ToolCall represents a tool invocation requested by a backend.
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// Toolbox is the set of tool-like operations offered to an autonomous backend.
type Toolbox interface {
	Tools() []ToolDefinition
	Call(ctx context.Context, call ToolCall) (string, error)
}
