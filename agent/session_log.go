// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/warden-foundation/warden/lib/llm"
)

// EventType discriminates session log events.
type EventType string

const (
	EventTypeSystem     EventType = "system"
	EventTypePrompt     EventType = "prompt"
	EventTypeToolCall   EventType = "tool_call"
	EventTypeToolResult EventType = "tool_result"
	EventTypeBlocked    EventType = "blocked"
	EventTypeResponse   EventType = "response"
	EventTypeError      EventType = "error"
	EventTypeMetric     EventType = "metric"
)

// Event is one session log record. Exactly one payload pointer is set,
// matching Type.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	System     *SystemEvent     `json:"system,omitempty"`
	Prompt     *PromptEvent     `json:"prompt,omitempty"`
	ToolCall   *ToolCallEvent   `json:"tool_call,omitempty"`
	ToolResult *ToolResultEvent `json:"tool_result,omitempty"`
	Blocked    *BlockedEvent    `json:"blocked,omitempty"`
	Response   *ResponseEvent   `json:"response,omitempty"`
	Error      *ErrorEvent      `json:"error,omitempty"`
	Metric     *MetricEvent     `json:"metric,omitempty"`
}

// SystemEvent marks agent lifecycle moments (startup, shutdown).
type SystemEvent struct {
	Subtype string `json:"subtype"`
	Message string `json:"message,omitempty"`
}

// PromptEvent records an incoming user message.
type PromptEvent struct {
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
}

// ToolCallEvent records a tool call about to execute.
type ToolCallEvent struct {
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResultEvent records a tool call's outcome.
type ToolResultEvent struct {
	ID      string `json:"id,omitempty"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error,omitempty"`
}

// BlockedEvent records a tool call the safety gate rejected.
type BlockedEvent struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// ResponseEvent records a turn's final assistant text.
type ResponseEvent struct {
	Content string `json:"content"`
}

// ErrorEvent records a turn failure.
type ErrorEvent struct {
	Message string `json:"message"`
}

// MetricEvent records a turn's token usage and model call count.
type MetricEvent struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	Iterations   int   `json:"iterations"`
}

// Summary aggregates a session log's counters.
type Summary struct {
	EventCount    int
	ToolCallCount int
	BlockedCount  int
	ErrorCount    int
	InputTokens   int64
	OutputTokens  int64
	Iterations    int
	Duration      time.Duration
}

// SessionLogWriter appends session events to a JSONL file, one JSON
// object per line. Safe for concurrent use.
type SessionLogWriter struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	summary Summary
	opened  time.Time
	closed  bool
}

// NewSessionLogWriter opens (or creates) the log at path for
// appending.
func NewSessionLogWriter(path string) (*SessionLogWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening session log: %w", err)
	}
	encoder := json.NewEncoder(file)
	encoder.SetEscapeHTML(false)
	return &SessionLogWriter{
		file:    file,
		encoder: encoder,
		opened:  time.Now(),
	}, nil
}

// Write appends one event.
func (w *SessionLogWriter) Write(event Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("session log closed")
	}

	w.summary.EventCount++
	switch event.Type {
	case EventTypeToolCall:
		w.summary.ToolCallCount++
	case EventTypeBlocked:
		w.summary.BlockedCount++
	case EventTypeError:
		w.summary.ErrorCount++
	case EventTypeMetric:
		if event.Metric != nil {
			w.summary.InputTokens += event.Metric.InputTokens
			w.summary.OutputTokens += event.Metric.OutputTokens
			w.summary.Iterations += event.Metric.Iterations
		}
	}

	if err := w.encoder.Encode(event); err != nil {
		return fmt.Errorf("writing session log event: %w", err)
	}
	return nil
}

// Summary returns the counters accumulated so far.
func (w *SessionLogWriter) Summary() Summary {
	w.mu.Lock()
	defer w.mu.Unlock()
	summary := w.summary
	summary.Duration = time.Since(w.opened)
	return summary
}

// Close flushes and closes the log. Safe to call more than once.
func (w *SessionLogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	if syncErr != nil {
		return fmt.Errorf("syncing session log: %w", syncErr)
	}
	return closeErr
}

// Event constructors used by the loop.

func eventPrompt(timestamp time.Time, content string) Event {
	return Event{
		Timestamp: timestamp,
		Type:      EventTypePrompt,
		Prompt:    &PromptEvent{Content: content, Source: "turn"},
	}
}

func eventToolCall(timestamp time.Time, call llm.ToolCall) Event {
	event := Event{
		Timestamp: timestamp,
		Type:      EventTypeToolCall,
		ToolCall:  &ToolCallEvent{ID: call.ID, Name: call.Name},
	}
	if call.Arguments != "" {
		event.ToolCall.Input = json.RawMessage(call.Arguments)
	}
	return event
}

func eventToolResult(timestamp time.Time, callID, output string, isError bool) Event {
	return Event{
		Timestamp:  timestamp,
		Type:       EventTypeToolResult,
		ToolResult: &ToolResultEvent{ID: callID, Output: output, IsError: isError},
	}
}

func eventBlocked(timestamp time.Time, callID, name, reason string) Event {
	return Event{
		Timestamp: timestamp,
		Type:      EventTypeBlocked,
		Blocked:   &BlockedEvent{ID: callID, Name: name, Reason: reason},
	}
}

func eventResponse(timestamp time.Time, content string) Event {
	return Event{
		Timestamp: timestamp,
		Type:      EventTypeResponse,
		Response:  &ResponseEvent{Content: content},
	}
}

func eventError(timestamp time.Time, message string) Event {
	return Event{
		Timestamp: timestamp,
		Type:      EventTypeError,
		Error:     &ErrorEvent{Message: message},
	}
}

func eventMetric(timestamp time.Time, usage llm.Usage, iterations int) Event {
	return Event{
		Timestamp: timestamp,
		Type:      EventTypeMetric,
		Metric: &MetricEvent{
			InputTokens:  usage.PromptTokens,
			OutputTokens: usage.CompletionTokens,
			Iterations:   iterations,
		},
	}
}
