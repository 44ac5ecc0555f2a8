// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/warden-foundation/warden/lib/clock"
	"github.com/warden-foundation/warden/lib/config"
	"github.com/warden-foundation/warden/lib/llm"
	"github.com/warden-foundation/warden/lib/tools"
)

// scriptedProvider returns canned responses in order, then repeat (or
// "done") forever. Every request is recorded.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*llm.Response
	repeat    *llm.Response
	err       error
	requests  []llm.Request
}

func (p *scriptedProvider) Complete(ctx context.Context, request llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, request)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) > 0 {
		response := p.responses[0]
		p.responses = p.responses[1:]
		return response, nil
	}
	if p.repeat != nil {
		return p.repeat, nil
	}
	return &llm.Response{Content: "done"}, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(index int) llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[index]
}

type panickingProvider struct{}

func (panickingProvider) Complete(ctx context.Context, request llm.Request) (*llm.Response, error) {
	panic("provider exploded")
}

func toolCallResponse(id, name, arguments string) *llm.Response {
	return &llm.Response{ToolCalls: []llm.ToolCall{{ID: id, Name: name, Arguments: arguments}}}
}

func bashResponse(id, command string) *llm.Response {
	return toolCallResponse(id, "bash", `{"command":"`+command+`"}`)
}

type loopFixture struct {
	loop      *Loop
	provider  *scriptedProvider
	history   *History
	authority *scriptedAuthority
	workdir   string
}

type loopOption func(*loopFixtureConfig)

type loopFixtureConfig struct {
	authority *scriptedAuthority
	enforce   bool
	tools     []string
}

func withAuthority(authority *scriptedAuthority, enforce bool) loopOption {
	return func(cfg *loopFixtureConfig) {
		cfg.authority = authority
		cfg.enforce = enforce
	}
}

func withTools(names ...string) loopOption {
	return func(cfg *loopFixtureConfig) { cfg.tools = names }
}

// newLoopFixture builds a loop over a scripted provider, a real bash
// registry in a temp workdir, and an optional scripted authority.
func newLoopFixture(t *testing.T, provider *scriptedProvider, options ...loopOption) *loopFixture {
	t.Helper()

	fixture := loopFixtureConfig{tools: []string{"bash"}}
	for _, option := range options {
		option(&fixture)
	}

	workdir := t.TempDir()
	registry, err := tools.NewRegistry(fixture.tools, workdir)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	logger := discardLogger()
	var client DecisionClient
	if fixture.authority != nil {
		client = fixture.authority
	}
	gate := NewSafetyGate(client, fixture.enforce, logger)
	history := NewHistory()

	cfg := config.Default()
	cfg.AgentID = "agent-test"
	cfg.ModelID = "test-model"
	cfg.EnabledTools = fixture.tools
	cfg.MaxTokens = 1024

	loop := NewLoop(LoopConfig{
		Config:   cfg,
		Provider: provider,
		Registry: registry,
		Gate:     gate,
		History:  history,
		Clock:    clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Logger:   logger,
	})
	return &loopFixture{
		loop:      loop,
		provider:  provider,
		history:   history,
		authority: fixture.authority,
		workdir:   workdir,
	}
}

// runTurn executes one turn to completion and returns every chunk.
func runTurn(t *testing.T, fixture *loopFixture, incoming ...llm.Message) []TurnChunk {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var chunks []TurnChunk
	for chunk := range fixture.loop.Run(ctx, incoming) {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func lastChunk(t *testing.T, chunks []TurnChunk) TurnChunk {
	t.Helper()
	if len(chunks) == 0 {
		t.Fatal("turn produced no chunks")
	}
	return chunks[len(chunks)-1]
}

func TestTurnPlainText(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{responses: []*llm.Response{{Content: "hello there"}}}
	fixture := newLoopFixture(t, provider)

	chunks := runTurn(t, fixture, llm.UserMessage("hi"))
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks %v, want body then done", len(chunks), chunks)
	}
	if chunks[0].Body != "hello there" || chunks[0].Done {
		t.Errorf("chunk 0 = %+v", chunks[0])
	}
	if !chunks[1].Done || chunks[1].Error != "" {
		t.Errorf("chunk 1 = %+v, want clean done", chunks[1])
	}

	if provider.callCount() != 1 {
		t.Errorf("model calls = %d, want 1", provider.callCount())
	}
	request := provider.request(0)
	if request.Model != "test-model" {
		t.Errorf("Model = %q", request.Model)
	}
	if len(request.Tools) != 1 || request.Tools[0].Name != "bash" {
		t.Errorf("Tools = %+v, want the enabled catalog", request.Tools)
	}
	if len(request.Messages) != 1 || request.Messages[0].Role != "user" {
		t.Errorf("Messages = %+v", request.Messages)
	}

	entries := fixture.history.Snapshot()
	if len(entries) != 2 {
		t.Fatalf("history has %d entries, want user + assistant", len(entries))
	}
	if entries[1].Role != "assistant" || entries[1].Content != "hello there" {
		t.Errorf("final entry = %+v", entries[1])
	}
}

func TestTurnSystemPromptLeadsProjection(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{responses: []*llm.Response{{Content: "ok"}}}
	fixture := newLoopFixture(t, provider)
	fixture.loop.config.SystemPrompt = "You are a careful assistant."

	runTurn(t, fixture, llm.UserMessage("hi"))

	request := provider.request(0)
	if len(request.Messages) != 2 || request.Messages[0].Role != "system" {
		t.Fatalf("Messages = %+v, want system prompt first", request.Messages)
	}
	if request.Messages[0].Content != "You are a careful assistant." {
		t.Errorf("system content = %q", request.Messages[0].Content)
	}
}

func TestTurnNoUserMessage(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{}
	fixture := newLoopFixture(t, provider)

	chunks := runTurn(t, fixture)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks %v, want a single terminal chunk", len(chunks), chunks)
	}
	if !chunks[0].Done || chunks[0].Error != "no user message" {
		t.Errorf("chunk = %+v", chunks[0])
	}
	if provider.callCount() != 0 {
		t.Errorf("model calls = %d, want 0", provider.callCount())
	}
}

func TestTurnToolRoundTrip(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{responses: []*llm.Response{
		bashResponse("call_1", "echo hi"),
		{Content: "the command printed hi"},
	}}
	fixture := newLoopFixture(t, provider)

	chunks := runTurn(t, fixture, llm.UserMessage("run echo"))

	var bodies []string
	for _, chunk := range chunks {
		if chunk.Body != "" {
			bodies = append(bodies, chunk.Body)
		}
	}
	want := []string{"Running: echo hi", "the command printed hi"}
	if len(bodies) != len(want) || bodies[0] != want[0] || bodies[1] != want[1] {
		t.Errorf("bodies = %v, want %v", bodies, want)
	}
	if final := lastChunk(t, chunks); !final.Done || final.Error != "" {
		t.Errorf("final chunk = %+v", final)
	}

	if provider.callCount() != 2 {
		t.Fatalf("model calls = %d, want 2", provider.callCount())
	}

	// The second call sees the assistant's tool request and the
	// tool's answer, linked by call ID.
	second := provider.request(1)
	count := len(second.Messages)
	if count < 3 {
		t.Fatalf("second request has %d messages: %+v", count, second.Messages)
	}
	assistant := second.Messages[count-2]
	if assistant.Role != "assistant" || len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "call_1" {
		t.Errorf("assistant message = %+v", assistant)
	}
	result := second.Messages[count-1]
	if result.Role != "tool" || result.ToolCallID != "call_1" {
		t.Errorf("tool message = %+v", result)
	}
	if result.Content != "hi\n" {
		t.Errorf("tool result = %q, want the command output", result.Content)
	}

	// Tool traffic stays out of durable history.
	entries := fixture.history.Snapshot()
	if len(entries) != 2 {
		t.Fatalf("history has %d entries %v, want user + assistant only", len(entries), entries)
	}
}

func TestTurnIterationCap(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{repeat: bashResponse("call_loop", "true")}
	fixture := newLoopFixture(t, provider)

	chunks := runTurn(t, fixture, llm.UserMessage("loop forever"))

	if provider.callCount() != maxIterations {
		t.Errorf("model calls = %d, want %d", provider.callCount(), maxIterations)
	}

	doneCount := 0
	for _, chunk := range chunks {
		if chunk.Done {
			doneCount++
		}
	}
	if doneCount != 1 {
		t.Errorf("done chunks = %d, want exactly 1", doneCount)
	}
	final := lastChunk(t, chunks)
	if !final.Done || final.Error != "" {
		t.Errorf("final chunk = %+v, want clean done", final)
	}
	if body := chunks[len(chunks)-2].Body; body != maxIterationsMessage {
		t.Errorf("last body = %q, want the synthetic answer", body)
	}

	entries := fixture.history.Snapshot()
	last := entries[len(entries)-1]
	if last.Role != "assistant" || last.Content != maxIterationsMessage {
		t.Errorf("final history entry = %+v", last)
	}
}

func TestTurnBlocked(t *testing.T) {
	t.Parallel()

	authority := &scriptedAuthority{approved: false, reason: "write outside workspace"}
	provider := &scriptedProvider{responses: []*llm.Response{
		bashResponse("call_1", "touch marker"),
		{Content: "understood"},
	}}
	fixture := newLoopFixture(t, provider, withAuthority(authority, true))

	chunks := runTurn(t, fixture, llm.UserMessage("make a file"))

	var sawBlocked bool
	for _, chunk := range chunks {
		if chunk.Body == "BLOCKED: write outside workspace" {
			sawBlocked = true
		}
		if strings.HasPrefix(chunk.Body, "Running:") {
			t.Errorf("blocked call still announced execution: %+v", chunk)
		}
	}
	if !sawBlocked {
		t.Errorf("no blocked chunk in %v", chunks)
	}

	// The command never ran.
	if _, err := os.Stat(filepath.Join(fixture.workdir, "marker")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("marker stat = %v, want not-exist", err)
	}

	// The model sees the rejection as the tool result.
	second := provider.request(1)
	result := second.Messages[len(second.Messages)-1]
	if result.Role != "tool" || result.Content != "BLOCKED: write outside workspace" {
		t.Errorf("tool message = %+v", result)
	}

	// The rejection is logged against the intention as an error.
	if len(authority.actions) != 1 {
		t.Fatalf("action logs = %+v, want one", authority.actions)
	}
	logged := authority.actions[0]
	if logged.intentionID != 1 || !logged.isError || logged.text != "BLOCKED: write outside workspace" {
		t.Errorf("action log = %+v", logged)
	}
}

func TestTurnFailsOpenWhenAuthorityUnreachable(t *testing.T) {
	t.Parallel()

	authority := &scriptedAuthority{proposeErr: errors.New("connection refused")}
	provider := &scriptedProvider{responses: []*llm.Response{
		bashResponse("call_1", "touch marker"),
		{Content: "created"},
	}}
	fixture := newLoopFixture(t, provider, withAuthority(authority, true))

	chunks := runTurn(t, fixture, llm.UserMessage("make a file"))
	if final := lastChunk(t, chunks); !final.Done || final.Error != "" {
		t.Errorf("final chunk = %+v", final)
	}

	// The tool executed despite the dead authority.
	if _, err := os.Stat(filepath.Join(fixture.workdir, "marker")); err != nil {
		t.Errorf("marker stat = %v, want the file created", err)
	}

	// Nothing was awaited and no action output could be attached.
	for _, op := range authority.ops {
		if op == "await" || op == "log-action" {
			t.Errorf("unexpected authority op %q after fail-open", op)
		}
	}
}

func TestTurnTrailOrdering(t *testing.T) {
	t.Parallel()

	authority := &scriptedAuthority{approved: true}
	provider := &scriptedProvider{responses: []*llm.Response{
		bashResponse("call_1", "echo hi"),
		{Content: "done"},
	}}
	fixture := newLoopFixture(t, provider, withAuthority(authority, true))

	runTurn(t, fixture, llm.UserMessage("run echo"))

	want := []string{
		"log-inference-input",
		"log-inference-output",
		"propose:bash: echo hi",
		"await",
		"log-action",
		"log-inference-input",
		"log-inference-output",
	}
	if len(authority.ops) != len(want) {
		t.Fatalf("ops = %v, want %v", authority.ops, want)
	}
	for i := range want {
		if authority.ops[i] != want[i] {
			t.Errorf("op %d = %q, want %q", i, authority.ops[i], want[i])
		}
	}
}

func TestTurnModelError(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{err: errors.New("model service unavailable")}
	fixture := newLoopFixture(t, provider)

	chunks := runTurn(t, fixture, llm.UserMessage("hi"))
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks %v, want a single terminal chunk", len(chunks), chunks)
	}
	if !chunks[0].Done || chunks[0].Error != "model service unavailable" {
		t.Errorf("chunk = %+v", chunks[0])
	}

	// The failed turn leaves the prompt but no assistant entry.
	entries := fixture.history.Snapshot()
	if len(entries) != 1 || entries[0].Role != "user" {
		t.Errorf("history = %+v", entries)
	}
}

func TestTurnPanicBecomesError(t *testing.T) {
	t.Parallel()

	fixture := newLoopFixture(t, &scriptedProvider{})
	fixture.loop.provider = panickingProvider{}

	chunks := runTurn(t, fixture, llm.UserMessage("hi"))
	final := lastChunk(t, chunks)
	if !final.Done || !strings.Contains(final.Error, "internal error") {
		t.Errorf("final chunk = %+v, want an internal error", final)
	}
}

func TestTurnToolResultTruncated(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{responses: []*llm.Response{
		bashResponse("call_1", "head -c 20000 /dev/zero | tr '\\\\0' x"),
		{Content: "that was long"},
	}}
	fixture := newLoopFixture(t, provider)

	runTurn(t, fixture, llm.UserMessage("flood"))

	second := provider.request(1)
	result := second.Messages[len(second.Messages)-1]
	if result.Role != "tool" {
		t.Fatalf("tool message = %+v", result)
	}
	if !strings.Contains(result.Content, "[truncated 10000 bytes]") {
		t.Error("truncation marker missing from tool result")
	}
	if len(result.Content) > maxTrailChars+40 {
		t.Errorf("tool result length = %d, want at most the cap plus the marker", len(result.Content))
	}
}

func TestTurnUnknownTool(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{responses: []*llm.Response{
		toolCallResponse("call_1", "launch_missiles", `{"target":"moon"}`),
		{Content: "sorry"},
	}}
	fixture := newLoopFixture(t, provider)

	chunks := runTurn(t, fixture, llm.UserMessage("do something"))

	// Unknown names produce no execution notification.
	for _, chunk := range chunks {
		if strings.HasPrefix(chunk.Body, "Running:") {
			t.Errorf("unexpected notification %+v", chunk)
		}
	}

	second := provider.request(1)
	result := second.Messages[len(second.Messages)-1]
	if result.Content != "Unknown tool: launch_missiles" {
		t.Errorf("tool result = %q", result.Content)
	}
}

func TestTurnWithoutToolsOmitsCatalog(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{responses: []*llm.Response{{Content: "ok"}}}
	fixture := newLoopFixture(t, provider, withTools())

	runTurn(t, fixture, llm.UserMessage("hi"))

	if tools := provider.request(0).Tools; len(tools) != 0 {
		t.Errorf("Tools = %+v, want none", tools)
	}
}

func TestTurnAbandonedByCallerStillFinishes(t *testing.T) {
	t.Parallel()

	authority := &scriptedAuthority{approved: true}
	provider := &scriptedProvider{responses: []*llm.Response{
		bashResponse("call_1", "touch marker"),
		{Content: "created"},
	}}
	fixture := newLoopFixture(t, provider, withAuthority(authority, true))

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // caller gone before the first chunk

	chunks := fixture.loop.Run(ctx, []llm.Message{llm.UserMessage("make a file")})

	// The channel still closes, the tool still ran, and history
	// still records the outcome.
	drained := make(chan struct{})
	go func() {
		for range chunks {
		}
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(30 * time.Second):
		t.Fatal("turn did not finish after caller disconnect")
	}

	if _, err := os.Stat(filepath.Join(fixture.workdir, "marker")); err != nil {
		t.Errorf("marker stat = %v, want the file created", err)
	}
	entries := fixture.history.Snapshot()
	if len(entries) != 2 || entries[1].Content != "created" {
		t.Errorf("history = %+v", entries)
	}
}
