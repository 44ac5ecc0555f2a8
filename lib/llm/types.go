// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package llm provides the model-service client for the Warden agent
// loop. It speaks the chat-completions wire format (OpenAI, OpenRouter,
// vLLM, Ollama, llama.cpp — anything compatible) and exposes the small
// [Provider] interface the loop depends on, so tests inject scripted
// providers without HTTP.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// Provider is the interface the agent loop calls for inference. The
// production implementation is [Client]; tests use scripted fakes.
type Provider interface {
	// Complete sends one request and blocks until the full response
	// is available. Transport failures and non-2xx statuses are
	// returned as errors — the loop treats them as fatal for the
	// current turn, never retried here.
	Complete(ctx context.Context, request Request) (*Response, error)
}

// Request is one model call: an ordered message list plus an optional
// tool catalog.
type Request struct {
	// Model is the model identifier (e.g. "gpt-4o").
	Model string

	// System, when non-empty, becomes the first message with role
	// "system".
	System string

	// Messages is the conversation so far, oldest first.
	Messages []Message

	// Tools is the catalog the model may call. Empty means the
	// request carries no tools field at all.
	Tools []ToolDefinition

	// MaxTokens is the output token budget.
	MaxTokens int

	// ReasoningEffort requests model-side reasoning: "low", "medium",
	// or "high". Empty omits the field.
	ReasoningEffort string
}

// Message is one entry in the model-facing conversation.
type Message struct {
	// Role is "system", "user", "assistant", or "tool".
	Role string

	// Content is the message text. For assistant messages carrying
	// tool calls it may be empty.
	Content string

	// ToolCalls is set on assistant messages that requested tool
	// execution. Echoed back verbatim so the model sees its own
	// calls in later iterations.
	ToolCalls []ToolCall

	// ToolCallID links a role "tool" message to the call it answers.
	ToolCallID string
}

// ToolCall is one structured tool invocation produced by the model.
// Arguments is the raw JSON object string from the wire; use
// [ToolCall.ParseArguments] to decode it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ParseArguments decodes the call's JSON arguments object. An empty
// arguments string decodes to an empty map — some backends omit the
// field for zero-argument tools.
func (call ToolCall) ParseArguments() (map[string]any, error) {
	if call.Arguments == "" {
		return map[string]any{}, nil
	}
	var arguments map[string]any
	if err := json.Unmarshal([]byte(call.Arguments), &arguments); err != nil {
		return nil, fmt.Errorf("tool call %s (%s): malformed arguments: %w", call.ID, call.Name, err)
	}
	return arguments, nil
}

// ToolDefinition describes one tool in the catalog sent to the model.
type ToolDefinition struct {
	Name        string
	Description string

	// InputSchema is the JSON-schema object for the tool's arguments.
	InputSchema json.RawMessage
}

// Response is the model's answer to one request.
type Response struct {
	// Content is the assistant text. Empty when the model chose to
	// call tools instead.
	Content string

	// ToolCalls is the list of requested tool invocations, in the
	// order the model emitted them.
	ToolCalls []ToolCall

	// Model is the model identifier the backend reports.
	Model string

	// FinishReason is the backend's stop reason ("stop",
	// "tool_calls", "length", ...).
	FinishReason string

	// Usage is the token accounting for this call.
	Usage Usage
}

// Usage holds token counts reported by the backend.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// UserMessage is a convenience constructor for a role "user" message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// AssistantMessage is a convenience constructor for a role "assistant"
// text message.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// ToolResultMessage is a convenience constructor for a role "tool"
// message answering the given call.
func ToolResultMessage(callID, content string) Message {
	return Message{Role: "tool", Content: content, ToolCallID: callID}
}

// ProviderError is returned when the model service responds with a
// non-2xx status.
type ProviderError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Type is the provider's error type string when it sent one
	// (e.g. "invalid_request_error").
	Type string

	// Message is the human-readable error description.
	Message string
}

func (err *ProviderError) Error() string {
	if err.Type != "" {
		return fmt.Sprintf("llm: HTTP %d: %s: %s", err.StatusCode, err.Type, err.Message)
	}
	return fmt.Sprintf("llm: HTTP %d: %s", err.StatusCode, err.Message)
}

// IsRateLimited reports whether the error is a rate limit response.
func (err *ProviderError) IsRateLimited() bool {
	return err.StatusCode == 429
}
