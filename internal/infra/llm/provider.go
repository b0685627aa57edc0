// Package llm provides abstractions for Large Language Model providers
// with tool use, which the triage loop depends on.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// Provider is the interface for LLM providers (Claude, OpenAI).
type Provider interface {
	// Chat sends a conversation turn and returns the model's reply, which
	// may request tool invocations instead of (or alongside) text.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Name returns the provider name for logging.
	Name() string

	// Model returns the model being used.
	Model() string
}

// Role values for conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the conversation. Assistant turns may carry tool
// calls; the following user turn carries their results.
type Message struct {
	Role        string
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the outcome of one tool call, fed back to the model.
type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

// ToolDefinition describes a tool the model may call. InputSchema is a
// JSON Schema object.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ChatRequest represents a request to the LLM.
type ChatRequest struct {
	// System is the system/instruction prompt.
	System string

	// Messages is the conversation so far.
	Messages []Message

	// Tools the model may call this turn.
	Tools []ToolDefinition

	// MaxTokens is the maximum tokens in the response.
	MaxTokens int

	// Temperature controls randomness (0.0-1.0).
	Temperature float64

	// JSONMode requests structured JSON output. Incompatible with Tools.
	JSONMode bool
}

// ChatResponse represents a response from the LLM.
type ChatResponse struct {
	// Content is the generated text, possibly empty on pure tool turns.
	Content string

	// ToolCalls are the tool invocations the model requested.
	ToolCalls []ToolCall

	// StopReason is the provider's stop information, normalized so that
	// "tool_use" always means the model wants tool results back.
	StopReason string

	PromptTokens     int
	CompletionTokens int

	// Model is the actual model used.
	Model string
}

// ProviderType represents supported LLM provider types.
type ProviderType string

const (
	ProviderTypeClaude ProviderType = "claude"
	ProviderTypeOpenAI ProviderType = "openai"
)

// IsValid checks if the provider type is valid.
func (p ProviderType) IsValid() bool {
	return p == ProviderTypeClaude || p == ProviderTypeOpenAI
}

// Errors
var (
	ErrProviderNotConfigured = fmt.Errorf("llm provider not configured")
	ErrInvalidProvider       = fmt.Errorf("invalid llm provider")
	ErrRateLimited           = fmt.Errorf("llm rate limited")
	ErrInvalidResponse       = fmt.Errorf("invalid llm response")
)
