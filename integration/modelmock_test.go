// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package integration_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
)

// completionReply is the slice of the chat-completions response the
// mock assertions read.
type completionReply struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func postCompletion(t *testing.T, mockURL, userText string) (completionReply, int) {
	t.Helper()

	payload := []byte(`{"model": "mock-model", "messages": [{"role": "user", "content": ` +
		string(mustJSON(t, userText)) + `}]}`)
	response, err := http.Post(mockURL+"/v1/chat/completions", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("post completion: %v", err)
	}
	defer response.Body.Close()

	var reply completionReply
	if response.StatusCode == http.StatusOK {
		if err := json.NewDecoder(response.Body).Decode(&reply); err != nil {
			t.Fatalf("decode completion: %v", err)
		}
	}
	return reply, response.StatusCode
}

func mustJSON(t *testing.T, value any) []byte {
	t.Helper()
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

// TestModelMockScriptOrder verifies scripted entries are served in
// order, then the mock falls back to echoing.
func TestModelMockScriptOrder(t *testing.T) {
	requireBinaries(t)

	scriptPath := writeModelScript(t, t.TempDir(),
		`{"content": "first scripted reply"}`,
		`{"tool_calls": [{"name": "bash", "arguments": "{\"command\": \"uptime\"}"}]}`,
		`{"status": 503, "error": "scripted outage"}`,
	)
	mockURL := startModelMock(t, scriptPath)

	reply, status := postCompletion(t, mockURL, "one")
	if status != http.StatusOK || reply.Choices[0].Message.Content != "first scripted reply" {
		t.Errorf("call 1 = (%d, %q)", status, reply.Choices[0].Message.Content)
	}
	if reply.Choices[0].FinishReason != "stop" {
		t.Errorf("call 1 finish = %q, want stop", reply.Choices[0].FinishReason)
	}

	reply, status = postCompletion(t, mockURL, "two")
	if status != http.StatusOK {
		t.Fatalf("call 2 status = %d", status)
	}
	calls := reply.Choices[0].Message.ToolCalls
	if len(calls) != 1 || calls[0].Function.Name != "bash" {
		t.Fatalf("call 2 tool calls = %+v, want the scripted bash call", calls)
	}
	if reply.Choices[0].FinishReason != "tool_calls" {
		t.Errorf("call 2 finish = %q, want tool_calls", reply.Choices[0].FinishReason)
	}

	if _, status = postCompletion(t, mockURL, "three"); status != http.StatusServiceUnavailable {
		t.Errorf("call 3 status = %d, want the scripted 503", status)
	}

	// Script exhausted: echo mode.
	reply, status = postCompletion(t, mockURL, "echo survives exhaustion")
	if status != http.StatusOK || reply.Choices[0].Message.Content != "echo survives exhaustion" {
		t.Errorf("call 4 = (%d, %q), want the echo", status, reply.Choices[0].Message.Content)
	}

	if count := mockCallCount(t, mockURL); count != 4 {
		t.Errorf("calls counter = %d, want 4", count)
	}
}
