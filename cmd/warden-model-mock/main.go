// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Warden-model-mock is a drop-in replacement for the model service in
// integration tests. It implements the chat-completions request shape
// the agent's provider client speaks, so an agent pointed at it via
// provider "compatible" needs no code changes.
//
// Responses come from a JSONL script file (-script), one JSON object
// per line, consumed in order:
//
//	{"content": "hello"}
//	{"tool_calls": [{"name": "bash", "arguments": "{\"command\":\"echo hi\"}"}]}
//	{"status": 500, "error": "upstream exploded"}
//
// With no script, or once the script is exhausted, the mock echoes the
// last user message. GET /calls reports how many completions were
// served, for integration assertions.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/warden-foundation/warden/lib/process"
	"github.com/warden-foundation/warden/lib/version"
)

// maxScriptLine bounds one script line. Scripted tool arguments can
// carry whole file bodies; the default bufio limit is too small.
const maxScriptLine = 1 << 20

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		listenAddress string
		scriptPath    string
		showVersion   bool
	)

	flag.StringVar(&listenAddress, "listen", "127.0.0.1:8721", "address to serve the chat-completions API on")
	flag.StringVar(&scriptPath, "script", "", "JSONL response script (default: echo the last user message)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		version.Print("warden-model-mock")
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	mock := &modelMock{logger: logger}
	if scriptPath != "" {
		script, err := loadScript(scriptPath)
		if err != nil {
			return err
		}
		mock.script = script
		logger.Info("script loaded", "path", scriptPath, "responses", len(script))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              listenAddress,
		Handler:           mock.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	logger.Info("model mock running", "address", listenAddress)

	select {
	case err := <-serveErr:
		return fmt.Errorf("serving on %s: %w", listenAddress, err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	return nil
}

// scriptEntry is one line of the response script. Status non-zero
// turns the entry into an HTTP error response instead of a completion.
type scriptEntry struct {
	Content      string           `json:"content"`
	ToolCalls    []scriptToolCall `json:"tool_calls,omitempty"`
	FinishReason string           `json:"finish_reason,omitempty"`
	Status       int              `json:"status,omitempty"`
	Error        string           `json:"error,omitempty"`
}

type scriptToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// loadScript reads a JSONL script file, skipping blank lines.
func loadScript(path string) ([]scriptEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening script: %w", err)
	}
	defer file.Close()

	var script []scriptEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScriptLine)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry scriptEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("script line %d: %w", lineNumber, err)
		}
		script = append(script, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return script, nil
}

// modelMock serves scripted completions and counts calls.
type modelMock struct {
	logger *slog.Logger

	mu     sync.Mutex
	script []scriptEntry
	next   int

	calls atomic.Uint64
}

func (m *modelMock) handler() http.Handler {
	mux := http.NewServeMux()
	// Both path shapes, so base_url works with or without a /v1 root.
	mux.HandleFunc("POST /chat/completions", m.handleCompletion)
	mux.HandleFunc("POST /v1/chat/completions", m.handleCompletion)
	mux.HandleFunc("GET /calls", m.handleCalls)
	return mux
}

// chatRequest is the slice of the chat-completions request the mock
// reads. Content is polymorphic: a JSON string or a content-part
// array.
type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

func (m *modelMock) handleCompletion(writer http.ResponseWriter, request *http.Request) {
	var chat chatRequest
	if err := json.NewDecoder(request.Body).Decode(&chat); err != nil {
		writeModelError(writer, http.StatusBadRequest, "malformed request body")
		return
	}

	call := m.calls.Add(1)

	var entry *scriptEntry
	m.mu.Lock()
	if m.next < len(m.script) {
		entry = &m.script[m.next]
		m.next++
	}
	m.mu.Unlock()

	if entry != nil && entry.Status != 0 {
		m.logger.Info("served scripted error", "call", call, "status", entry.Status)
		writeModelError(writer, entry.Status, entry.Error)
		return
	}

	content := ""
	var toolCalls []chatToolCall
	if entry != nil {
		content = entry.Content
		for _, scripted := range entry.ToolCalls {
			toolCall := chatToolCall{ID: scripted.ID, Type: "function"}
			if toolCall.ID == "" {
				toolCall.ID = "call_" + uuid.New().String()[:8]
			}
			toolCall.Function.Name = scripted.Name
			toolCall.Function.Arguments = scripted.Arguments
			toolCalls = append(toolCalls, toolCall)
		}
	} else {
		content = lastUserMessage(chat)
	}

	finishReason := "stop"
	if len(toolCalls) > 0 {
		finishReason = "tool_calls"
	}
	if entry != nil && entry.FinishReason != "" {
		finishReason = entry.FinishReason
	}

	var response chatResponse
	response.ID = "chatcmpl_" + uuid.New().String()[:8]
	response.Object = "chat.completion"
	response.Model = chat.Model
	response.Choices = append(response.Choices, struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	}{
		Message:      chatMessage{Role: "assistant", Content: content, ToolCalls: toolCalls},
		FinishReason: finishReason,
	})
	response.Usage.PromptTokens = promptTokens(chat)
	response.Usage.CompletionTokens = approxTokens(content)

	m.logger.Info("served completion",
		"call", call,
		"scripted", entry != nil,
		"tool_calls", len(toolCalls),
	)

	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(response)
}

func (m *modelMock) handleCalls(writer http.ResponseWriter, request *http.Request) {
	writer.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(writer, "{\"calls\": %d}\n", m.calls.Load())
}

// writeModelError writes the structured {"error": {...}} shape
// providers use, so clients exercise their real error path.
func writeModelError(writer http.ResponseWriter, status int, message string) {
	if message == "" {
		message = "scripted error"
	}
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	payload := struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}{}
	payload.Error.Type = "mock_error"
	payload.Error.Message = message
	json.NewEncoder(writer).Encode(payload)
}

// lastUserMessage returns the text of the final user message, the
// echo default's source material.
func lastUserMessage(chat chatRequest) string {
	for i := len(chat.Messages) - 1; i >= 0; i-- {
		if chat.Messages[i].Role == "user" {
			return contentText(chat.Messages[i].Content)
		}
	}
	return "(no user message)"
}

// contentText extracts plain text from a polymorphic content value: a
// JSON string or an array of {"type":"text","text":...} parts.
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
		combined := ""
		for _, part := range parts {
			if part.Type == "text" {
				combined += part.Text
			}
		}
		return combined
	}
	return ""
}

// promptTokens is a crude size estimate over the request messages.
// The numbers only need to be stable and non-zero; nothing bills them.
func promptTokens(chat chatRequest) int64 {
	var total int64
	for _, message := range chat.Messages {
		total += approxTokens(contentText(message.Content))
	}
	return total
}

func approxTokens(text string) int64 {
	return int64(len(text)/4) + 1
}
