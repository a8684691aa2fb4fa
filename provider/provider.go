package provider

import (
	"context"
	"encoding/json"
)

// Kind identifies an inference backend.
type Kind string

const (
	OpenAI    Kind = "openai"
	Anthropic Kind = "anthropic"
	// Ollama and other OpenAI-compatible servers are reached through the OpenAI client.
	Ollama Kind = "ollama"
)

// Role tags a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model's request to run a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one role-tagged turn.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// ToolSpec advertises a callable tool to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Schema constrains the output to a JSON document.
type Schema struct {
	Name       string
	Definition json.RawMessage
}

// Request is a single round trip to the model.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolSpec
	Schema      *Schema
	MaxTokens   int
	Temperature float64
}

// Usage reports token accounting for one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Response is the model's reply.
type Response struct {
	Model     string
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	Chat(ctx context.Context, req Request) (Response, error)
}

func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// ToolResult answers a tool call.
func ToolResult(call ToolCall, content string, isError bool) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: call.ID, ToolName: call.Name, IsError: isError}
}
