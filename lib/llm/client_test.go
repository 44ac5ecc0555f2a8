// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// testClient starts a chat-completions test server and returns a
// client pointed at it.
func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "test-key", server.Client())
}

func TestComplete(t *testing.T) {
	t.Parallel()

	client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", request.URL.Path)
		}
		if got := request.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want Bearer test-key", got)
		}

		var wire struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
			Messages  []struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
			Tools []struct {
				Type     string `json:"type"`
				Function struct {
					Name       string          `json:"name"`
					Parameters json.RawMessage `json:"parameters"`
				} `json:"function"`
			} `json:"tools"`
		}
		if err := json.NewDecoder(request.Body).Decode(&wire); err != nil {
			t.Errorf("decoding request: %v", err)
		}

		if wire.Model != "gpt-4o" {
			t.Errorf("model = %q, want gpt-4o", wire.Model)
		}
		if wire.MaxTokens != 1024 {
			t.Errorf("max_tokens = %d, want 1024", wire.MaxTokens)
		}

		// System prompt first, then the user message.
		if length := len(wire.Messages); length != 2 {
			t.Errorf("messages length = %d, want 2", length)
		} else {
			if wire.Messages[0].Role != "system" {
				t.Errorf("messages[0].role = %q, want system", wire.Messages[0].Role)
			}
			if wire.Messages[1].Role != "user" {
				t.Errorf("messages[1].role = %q, want user", wire.Messages[1].Role)
			}
		}

		if length := len(wire.Tools); length != 1 {
			t.Errorf("tools length = %d, want 1", length)
		} else if wire.Tools[0].Type != "function" || wire.Tools[0].Function.Name != "bash" {
			t.Errorf("tool = %+v, want function bash", wire.Tools[0])
		}

		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(map[string]any{
			"id":    "chatcmpl-1",
			"model": "gpt-4o",
			"choices": []map[string]any{{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": "hello",
				},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 2},
		})
	})

	response, err := client.Complete(context.Background(), Request{
		Model:     "gpt-4o",
		System:    "You are Warden.",
		MaxTokens: 1024,
		Messages:  []Message{UserMessage("hi")},
		Tools: []ToolDefinition{{
			Name:        "bash",
			Description: "Run a shell command",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"}}}`),
		}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if response.Content != "hello" {
		t.Errorf("Content = %q, want hello", response.Content)
	}
	if len(response.ToolCalls) != 0 {
		t.Errorf("ToolCalls = %v, want none", response.ToolCalls)
	}
	if response.Usage.PromptTokens != 10 {
		t.Errorf("PromptTokens = %d, want 10", response.Usage.PromptTokens)
	}
}

func TestCompleteToolCalls(t *testing.T) {
	t.Parallel()

	client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(map[string]any{
			"model": "gpt-4o",
			"choices": []map[string]any{{
				"message": map[string]any{
					"role":    "assistant",
					"content": nil,
					"tool_calls": []map[string]any{{
						"id":   "call_1",
						"type": "function",
						"function": map[string]any{
							"name":      "bash",
							"arguments": `{"command":"echo hi"}`,
						},
					}},
				},
				"finish_reason": "tool_calls",
			}},
		})
	})

	response, err := client.Complete(context.Background(), Request{
		Model:     "gpt-4o",
		MaxTokens: 1024,
		Messages:  []Message{UserMessage("run echo")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if response.Content != "" {
		t.Errorf("Content = %q, want empty for a tool-call response", response.Content)
	}
	if len(response.ToolCalls) != 1 {
		t.Fatalf("ToolCalls length = %d, want 1", len(response.ToolCalls))
	}

	call := response.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "bash" {
		t.Errorf("call = %+v, want id call_1 name bash", call)
	}

	arguments, err := call.ParseArguments()
	if err != nil {
		t.Fatalf("ParseArguments: %v", err)
	}
	if arguments["command"] != "echo hi" {
		t.Errorf("command = %v, want \"echo hi\"", arguments["command"])
	}
}

func TestCompleteToolRoundTripMessages(t *testing.T) {
	t.Parallel()

	client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
		var wire struct {
			Messages []struct {
				Role      string          `json:"role"`
				Content   json.RawMessage `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
				ToolCallID string `json:"tool_call_id"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(request.Body).Decode(&wire); err != nil {
			t.Errorf("decoding request: %v", err)
		}

		// user, assistant-with-calls, tool-result.
		if length := len(wire.Messages); length != 3 {
			t.Fatalf("messages length = %d, want 3", length)
		}
		assistant := wire.Messages[1]
		if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "call_1" {
			t.Errorf("assistant tool_calls = %+v, want echoed call_1", assistant.ToolCalls)
		}
		if assistant.ToolCalls[0].Function.Arguments != `{"command":"echo hi"}` {
			t.Errorf("arguments = %q, want original string preserved", assistant.ToolCalls[0].Function.Arguments)
		}
		toolResult := wire.Messages[2]
		if toolResult.Role != "tool" || toolResult.ToolCallID != "call_1" {
			t.Errorf("tool message = %+v, want role tool for call_1", toolResult)
		}
		if toolResult.Content == nil {
			t.Error("tool message content missing; tool results must always carry content")
		}

		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(map[string]any{
			"model": "gpt-4o",
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": "done"},
				"finish_reason": "stop",
			}},
		})
	})

	_, err := client.Complete(context.Background(), Request{
		Model:     "gpt-4o",
		MaxTokens: 1024,
		Messages: []Message{
			UserMessage("run echo"),
			{Role: "assistant", ToolCalls: []ToolCall{{ID: "call_1", Name: "bash", Arguments: `{"command":"echo hi"}`}}},
			ToolResultMessage("call_1", "hi\n"),
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestCompleteProviderError(t *testing.T) {
	t.Parallel()

	client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(writer).Encode(map[string]any{
			"error": map[string]any{
				"type":    "rate_limit_error",
				"message": "slow down",
			},
		})
	})

	_, err := client.Complete(context.Background(), Request{
		Model:     "gpt-4o",
		MaxTokens: 16,
		Messages:  []Message{UserMessage("hi")},
	})
	if err == nil {
		t.Fatal("Complete succeeded on a 429")
	}

	var providerError *ProviderError
	if !errors.As(err, &providerError) {
		t.Fatalf("error = %v (%T), want *ProviderError", err, err)
	}
	if providerError.StatusCode != 429 || !providerError.IsRateLimited() {
		t.Errorf("StatusCode = %d, want 429", providerError.StatusCode)
	}
	if providerError.Message != "slow down" {
		t.Errorf("Message = %q, want \"slow down\"", providerError.Message)
	}
}

func TestCompleteNonJSONError(t *testing.T) {
	t.Parallel()

	client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusBadGateway)
		writer.Write([]byte("upstream exploded"))
	})

	_, err := client.Complete(context.Background(), Request{
		Model:     "gpt-4o",
		MaxTokens: 16,
		Messages:  []Message{UserMessage("hi")},
	})

	var providerError *ProviderError
	if !errors.As(err, &providerError) {
		t.Fatalf("error = %v (%T), want *ProviderError", err, err)
	}
	if providerError.StatusCode != 502 || providerError.Message != "upstream exploded" {
		t.Errorf("got %d %q, want 502 with body excerpt", providerError.StatusCode, providerError.Message)
	}
}

func TestParseArgumentsMalformed(t *testing.T) {
	t.Parallel()

	call := ToolCall{ID: "call_1", Name: "bash", Arguments: `{"command":`}
	if _, err := call.ParseArguments(); err == nil {
		t.Error("ParseArguments accepted malformed JSON")
	}

	empty := ToolCall{ID: "call_2", Name: "list_files"}
	arguments, err := empty.ParseArguments()
	if err != nil {
		t.Fatalf("ParseArguments on empty: %v", err)
	}
	if len(arguments) != 0 {
		t.Errorf("arguments = %v, want empty map", arguments)
	}
}
