// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/warden-foundation/warden/lib/netutil"
)

// openAIBaseURL is the default base URL for provider "openai".
const openAIBaseURL = "https://api.openai.com/v1"

// Client implements [Provider] against a chat-completions HTTP
// endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates a chat-completions client. baseURL is the API root
// without the /chat/completions suffix; empty selects the OpenAI
// default. apiKey may be empty for local backends that do not
// authenticate. httpClient may be nil, in which case a client with a
// generous timeout is used — model calls are slow by nature, and the
// turn has its own bounds.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// Complete sends a non-streaming chat-completions request and returns
// the first choice.
func (client *Client) Complete(ctx context.Context, request Request) (*Response, error) {
	body, err := json.Marshal(buildWireRequest(request))
	if err != nil {
		return nil, fmt.Errorf("llm: marshaling request: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost,
		client.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: creating request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	if client.apiKey != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+client.apiKey)
	}

	httpResponse, err := client.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("llm: sending request: %w", err)
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return nil, readProviderError(httpResponse)
	}

	var wire wireResponse
	if err := netutil.DecodeResponse(httpResponse.Body, &wire); err != nil {
		return nil, fmt.Errorf("llm: decoding response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("llm: response carried no choices")
	}

	choice := wire.Choices[0]
	response := &Response{
		Content:      contentText(choice.Message.Content),
		Model:        wire.Model,
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
		},
	}
	for _, call := range choice.Message.ToolCalls {
		response.ToolCalls = append(response.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return response, nil
}

// readProviderError converts a non-2xx response into a *ProviderError,
// preferring the structured {"error": {...}} body shape and falling
// back to a raw body excerpt.
func readProviderError(httpResponse *http.Response) error {
	raw := netutil.ErrorBody(httpResponse.Body)

	var wire struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(raw), &wire); err == nil && wire.Error.Message != "" {
		return &ProviderError{
			StatusCode: httpResponse.StatusCode,
			Type:       wire.Error.Type,
			Message:    wire.Error.Message,
		}
	}

	excerpt := strings.TrimSpace(raw)
	if len(excerpt) > 300 {
		excerpt = excerpt[:300] + "..."
	}
	if excerpt == "" {
		excerpt = "(empty body)"
	}
	return &ProviderError{
		StatusCode: httpResponse.StatusCode,
		Message:    excerpt,
	}
}

// --- chat-completions wire types ---
//
// These map directly to the chat-completions JSON format and are
// separate from the public types because the wire format nests tool
// calls under "function" and uses a polymorphic content field (string
// or content-part array; null for assistant tool-call messages).

type wireRequest struct {
	Model           string         `json:"model"`
	Messages        []wireMessage  `json:"messages"`
	Tools           []wireTool     `json:"tools,omitempty"`
	MaxTokens       int            `json:"max_tokens"`
	ReasoningEffort string         `json:"reasoning_effort,omitempty"`
}

type wireMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  []wireToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string             `json:"type"`
	Function wireToolDefinition `json:"function"`
}

type wireToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   wireUsage    `json:"usage"`
}

type wireChoice struct {
	Index        int         `json:"index"`
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type wireUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// buildWireRequest converts the public request to the wire format. The
// system prompt becomes the first message with role "system".
func buildWireRequest(request Request) wireRequest {
	wire := wireRequest{
		Model:           request.Model,
		MaxTokens:       request.MaxTokens,
		ReasoningEffort: request.ReasoningEffort,
	}

	if request.System != "" {
		wire.Messages = append(wire.Messages, wireMessage{
			Role:    "system",
			Content: textContent(request.System),
		})
	}
	for _, message := range request.Messages {
		wire.Messages = append(wire.Messages, toWireMessage(message))
	}
	for _, tool := range request.Tools {
		wire.Tools = append(wire.Tools, wireTool{
			Type: "function",
			Function: wireToolDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	return wire
}

func toWireMessage(message Message) wireMessage {
	wire := wireMessage{
		Role:       message.Role,
		ToolCallID: message.ToolCallID,
	}
	// Tool-role messages must always carry content, even when empty;
	// assistant tool-call messages may omit it.
	if message.Content != "" || message.Role == "tool" {
		wire.Content = textContent(message.Content)
	}
	for _, call := range message.ToolCalls {
		wire.ToolCalls = append(wire.ToolCalls, wireToolCall{
			ID:   call.ID,
			Type: "function",
			Function: wireToolFunction{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}
	return wire
}

// textContent encodes a plain string as a JSON content value.
func textContent(text string) json.RawMessage {
	encoded, err := json.Marshal(text)
	if err != nil {
		// Strings always marshal.
		panic("llm: marshaling text content: " + err.Error())
	}
	return encoded
}

// contentText extracts plain text from a polymorphic content value:
// a JSON string, null, or an array of {"type":"text","text":...}
// parts.
func contentText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		return text
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(content, &parts); err == nil {
		var builder strings.Builder
		for _, part := range parts {
			if part.Type == "text" {
				builder.WriteString(part.Text)
			}
		}
		return builder.String()
	}
	return ""
}
