// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/warden-foundation/warden/lib/clock"
	"github.com/warden-foundation/warden/lib/config"
	"github.com/warden-foundation/warden/lib/llm"
	"github.com/warden-foundation/warden/lib/tools"
)

const (
	// maxIterations caps model calls per turn. A model that asks for
	// tools on every call gets this many chances before the turn is
	// forced to a synthetic answer.
	maxIterations = 10

	// maxIterationsMessage is that synthetic answer.
	maxIterationsMessage = "Agent reached maximum iterations"

	// inferenceLogWindow is how many trailing context messages the
	// inference-input trail record carries. The full context grows
	// with every tool exchange; the trail wants a peek, not a copy.
	inferenceLogWindow = 4

	// chunkBuffer is the turn output channel capacity. When the
	// transport falls this far behind, the loop blocks rather than
	// dropping or hoarding chunks.
	chunkBuffer = 16

	// commandPreviewLimit bounds the "Running:" notification body.
	commandPreviewLimit = 80
)

// TurnChunk is one unit of a turn's output stream. A turn emits zero
// or more done=false chunks followed by exactly one done=true chunk,
// which carries an error only when the turn failed.
type TurnChunk struct {
	Body  string `json:"body"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// Loop drives turns for one agent instance: model calls alternating
// with safety-gated tool execution until the model produces plain
// text or the iteration cap forces an answer.
type Loop struct {
	config     *config.Config
	provider   llm.Provider
	registry   *tools.Registry
	gate       *SafetyGate
	history    *History
	clock      clock.Clock
	logger     *slog.Logger
	sessionLog *SessionLogWriter
}

// LoopConfig carries the loop's collaborators. SessionLog may be nil.
type LoopConfig struct {
	Config     *config.Config
	Provider   llm.Provider
	Registry   *tools.Registry
	Gate       *SafetyGate
	History    *History
	Clock      clock.Clock
	Logger     *slog.Logger
	SessionLog *SessionLogWriter
}

// NewLoop builds a Loop from its collaborators.
func NewLoop(cfg LoopConfig) *Loop {
	return &Loop{
		config:     cfg.Config,
		provider:   cfg.Provider,
		registry:   cfg.Registry,
		gate:       cfg.Gate,
		history:    cfg.History,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		sessionLog: cfg.SessionLog,
	}
}

// turn is the mutable state of one turn in flight.
type turn struct {
	ctx     context.Context
	chunks  chan<- TurnChunk
	emitted []string // bodies already streamed, for crash-time history
	usage   llm.Usage
	calls   int // model calls made
}

// Run executes one turn. Chunks stream on the returned channel, which
// closes after the terminal done=true chunk. Sends block when the
// reader falls behind; if ctx dies (caller disconnected) further
// chunks are dropped and the turn runs to completion anyway, so
// history and the trail still reflect what happened.
func (l *Loop) Run(ctx context.Context, incoming []llm.Message) <-chan TurnChunk {
	chunks := make(chan TurnChunk, chunkBuffer)
	go func() {
		defer close(chunks)
		l.run(&turn{ctx: ctx, chunks: chunks}, incoming)
	}()
	return chunks
}

func (l *Loop) run(t *turn, incoming []llm.Message) {
	// A panic anywhere in the turn becomes the terminal error chunk.
	// Whatever the caller already saw goes to history so the two
	// accounts agree.
	defer func() {
		if recovered := recover(); recovered != nil {
			l.logger.Error("turn panicked", "panic", recovered)
			if len(t.emitted) > 0 {
				l.history.Append("assistant", strings.Join(t.emitted, "\n"), l.clock.Now())
			}
			message := fmt.Sprintf("internal error: %v", recovered)
			l.logEvent(eventError(l.clock.Now(), message))
			l.emit(t, TurnChunk{Done: true, Error: message})
		}
	}()

	for _, message := range incoming {
		l.history.Append(message.Role, message.Content, l.clock.Now())
		if message.Role == "user" {
			l.logEvent(eventPrompt(l.clock.Now(), message.Content))
		}
	}
	if !l.history.HasUserMessage() {
		l.emit(t, TurnChunk{Done: true, Error: "no user message"})
		return
	}

	messages := l.history.Project(l.config.EffectiveSystemPrompt())
	var definitions []llm.ToolDefinition
	if l.registry != nil && l.registry.Len() > 0 {
		definitions = l.registry.Definitions()
	}

	var finalText string
	for iteration := 1; iteration <= maxIterations; iteration++ {
		l.gate.LogInferenceInput(renderMessageTail(messages))

		response, err := l.provider.Complete(t.ctx, llm.Request{
			Model:           l.config.ModelID,
			Messages:        messages,
			Tools:           definitions,
			MaxTokens:       l.config.MaxTokens,
			ReasoningEffort: reasoningEffort(l.config.ThinkingLevel),
		})
		if err != nil {
			l.logger.Error("model call failed", "iteration", iteration, "error", err)
			l.logEvent(eventError(l.clock.Now(), err.Error()))
			l.emit(t, TurnChunk{Done: true, Error: err.Error()})
			return
		}
		t.calls = iteration
		t.usage.PromptTokens += response.Usage.PromptTokens
		t.usage.CompletionTokens += response.Usage.CompletionTokens

		l.gate.LogInferenceOutput(renderResponse(response))

		if len(response.ToolCalls) == 0 {
			finalText = response.Content
			break
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})
		for _, call := range response.ToolCalls {
			result := l.executeGated(t, call)
			messages = append(messages, llm.ToolResultMessage(call.ID, result))
		}

		if iteration == maxIterations {
			finalText = maxIterationsMessage
		}
	}

	l.history.Append("assistant", finalText, l.clock.Now())
	l.logEvent(eventResponse(l.clock.Now(), finalText))
	l.logEvent(eventMetric(l.clock.Now(), t.usage, t.calls))

	if finalText != "" {
		l.emit(t, TurnChunk{Body: finalText})
	}
	l.emit(t, TurnChunk{Done: true})
}

// executeGated runs one tool call through the safety gate and returns
// the result text fed back to the model. Blocked calls never reach
// the registry; their synthesized result travels the same paths a
// real one would (trail, model context, output stream).
func (l *Loop) executeGated(t *turn, call llm.ToolCall) string {
	verdict := l.gate.CheckBeforeToolCall(call)
	if !verdict.Allowed {
		blocked := "BLOCKED: " + verdict.Reason
		l.logEvent(eventBlocked(l.clock.Now(), call.ID, call.Name, verdict.Reason))
		l.emit(t, TurnChunk{Body: blocked})
		l.gate.LogAfterToolCall(verdict.IntentionID, blocked, true)
		return blocked
	}

	if preview := commandPreview(call); preview != "" {
		l.emit(t, TurnChunk{Body: preview})
	}
	l.logEvent(eventToolCall(l.clock.Now(), call))

	// The registry applies its own timeout. Detaching from the turn
	// context keeps a caller disconnect from killing the command
	// mid-flight; started work finishes and gets logged.
	output, isError := l.registry.Dispatch(context.WithoutCancel(t.ctx), call)
	trimmed := truncateForTrail(output)

	l.gate.LogAfterToolCall(verdict.IntentionID, output, isError)
	l.logEvent(eventToolResult(l.clock.Now(), call.ID, trimmed, isError))
	return trimmed
}

// emit delivers a chunk to the transport, blocking while the reader
// catches up. A dead turn context turns the send into a drop so an
// abandoned turn can still finish.
func (l *Loop) emit(t *turn, chunk TurnChunk) {
	if chunk.Body != "" {
		t.emitted = append(t.emitted, chunk.Body)
	}
	select {
	case t.chunks <- chunk:
	case <-t.ctx.Done():
	}
}

// logEvent appends to the session log when one is configured.
func (l *Loop) logEvent(event Event) {
	if l.sessionLog == nil {
		return
	}
	if err := l.sessionLog.Write(event); err != nil {
		l.logger.Debug("session log write failed", "error", err)
	}
}

// commandPreview returns the caller-facing notification for a tool
// call with visible side effects. Only bash qualifies; file tools
// run silently.
func commandPreview(call llm.ToolCall) string {
	if call.Name != "bash" {
		return ""
	}
	arguments, err := call.ParseArguments()
	if err != nil {
		return ""
	}
	command, _ := arguments["command"].(string)
	if command == "" {
		return ""
	}
	return "Running: " + truncateLine(command, commandPreviewLimit)
}

// reasoningEffort maps the configured thinking level to the wire
// field. "off" and empty omit the field.
func reasoningEffort(thinkingLevel string) string {
	if thinkingLevel == "" || thinkingLevel == "off" {
		return ""
	}
	return thinkingLevel
}

// renderMessageTail flattens the last few context messages for the
// inference-input trail record.
func renderMessageTail(messages []llm.Message) string {
	tail := messages
	if len(tail) > inferenceLogWindow {
		tail = tail[len(tail)-inferenceLogWindow:]
	}

	var b strings.Builder
	for i, message := range tail {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(message.Role)
		if message.ToolCallID != "" {
			fmt.Fprintf(&b, "[%s]", message.ToolCallID)
		}
		b.WriteString(": ")
		b.WriteString(message.Content)
		for _, call := range message.ToolCalls {
			fmt.Fprintf(&b, "\n  requested %s(%s)", call.Name, call.Arguments)
		}
	}
	return b.String()
}

// renderResponse flattens a model reply for the inference-output
// trail record.
func renderResponse(response *llm.Response) string {
	if len(response.ToolCalls) == 0 {
		return response.Content
	}
	var b strings.Builder
	if response.Content != "" {
		b.WriteString(response.Content)
	}
	for _, call := range response.ToolCalls {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "requested %s(%s)", call.Name, call.Arguments)
	}
	return b.String()
}

// truncateLine shortens a one-line preview to maxLength, appending
// "..." if truncated.
func truncateLine(value string, maxLength int) string {
	if len(value) <= maxLength {
		return value
	}
	if maxLength <= 3 {
		return value[:maxLength]
	}
	return value[:maxLength-3] + "..."
}
