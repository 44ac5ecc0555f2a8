// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package tools provides the closed set of actions an agent can take
// on its host and the registry that dispatches model tool calls to
// them. The registry is built once at startup from the agent's
// enabled_tools config list; a name with no built-in implementation
// fails construction so a config typo surfaces at startup rather than
// on first use.
//
// Tools never return Go errors to the loop. Every failure mode —
// unknown tool, malformed arguments, non-zero exit, timeout, oversized
// output — becomes an isError=true result whose text the model can
// read and react to. The loop stays alive; the model self-corrects.
package tools

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/warden-foundation/warden/lib/llm"
)

const (
	// MaxOutputBytes bounds how much tool output is retained. Output
	// past the cap is dropped at capture time, not buffered: a runaway
	// command cannot exhaust agent memory.
	MaxOutputBytes = 1 << 20

	// DefaultTimeout bounds a single tool execution. The deadline is
	// applied by Dispatch, so it also covers argument parsing and any
	// setup a tool does before spawning work.
	DefaultTimeout = 30 * time.Second
)

// Tool is one callable action. Execute returns the output text shown
// to the model and whether the tool reported a failure.
type Tool interface {
	Definition() llm.ToolDefinition
	Execute(ctx context.Context, arguments map[string]any) (output string, isError bool)
}

// Registry holds the enabled tools keyed by name, preserving the
// order they were enabled in.
type Registry struct {
	tools   map[string]Tool
	order   []string
	timeout time.Duration
}

// NewRegistry builds the tool set named by enabled. Relative paths in
// tool arguments resolve against workdir; when workdir is empty the
// process working directory is used.
func NewRegistry(enabled []string, workdir string) (*Registry, error) {
	if workdir == "" {
		directory, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		workdir = directory
	}

	registry := &Registry{
		tools:   make(map[string]Tool, len(enabled)),
		timeout: DefaultTimeout,
	}
	for _, name := range enabled {
		if _, duplicate := registry.tools[name]; duplicate {
			return nil, fmt.Errorf("tool %q enabled twice", name)
		}
		tool, ok := newBuiltin(name, workdir)
		if !ok {
			return nil, fmt.Errorf("unknown tool %q (built-ins: bash, list_files, read_file, write_file)", name)
		}
		registry.tools[name] = tool
		registry.order = append(registry.order, name)
	}
	return registry, nil
}

// newBuiltin constructs the implementation for name. The switch is
// the whole universe of tools an agent can be granted.
func newBuiltin(name, workdir string) (Tool, bool) {
	switch name {
	case "bash":
		return &bashTool{workdir: workdir}, true
	case "read_file":
		return &readFileTool{workdir: workdir}, true
	case "write_file":
		return &writeFileTool{workdir: workdir}, true
	case "list_files":
		return &listFilesTool{workdir: workdir}, true
	}
	return nil, false
}

// Len returns the number of enabled tools.
func (r *Registry) Len() int {
	return len(r.order)
}

// Definitions returns the tool catalog for the model, in enabled
// order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	definitions := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		definitions = append(definitions, r.tools[name].Definition())
	}
	return definitions
}

// Dispatch executes one model tool call and returns its result text
// and error flag. The execution deadline is applied here so every
// tool is bounded the same way.
func (r *Registry) Dispatch(ctx context.Context, call llm.ToolCall) (string, bool) {
	tool, ok := r.tools[call.Name]
	if !ok {
		return "Unknown tool: " + call.Name, true
	}

	arguments, err := call.ParseArguments()
	if err != nil {
		return fmt.Sprintf("%s: malformed arguments: %v", call.Name, err), true
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return tool.Execute(ctx, arguments)
}
