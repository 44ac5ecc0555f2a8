// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/warden-foundation/warden/lib/llm"
)

func TestNewRegistryUnknownTool(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry([]string{"bash", "frobnicate"}, t.TempDir())
	if err == nil {
		t.Fatal("NewRegistry accepted an unknown tool name")
	}
	if !strings.Contains(err.Error(), "frobnicate") {
		t.Errorf("error = %v, want mention of the offending name", err)
	}
}

func TestNewRegistryDuplicate(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry([]string{"bash", "bash"}, t.TempDir())
	if err == nil {
		t.Fatal("NewRegistry accepted a duplicate tool name")
	}
}

func TestDefinitionsOrder(t *testing.T) {
	t.Parallel()

	registry, err := NewRegistry([]string{"read_file", "bash"}, t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if registry.Len() != 2 {
		t.Fatalf("Len = %d, want 2", registry.Len())
	}

	definitions := registry.Definitions()
	if definitions[0].Name != "read_file" || definitions[1].Name != "bash" {
		t.Errorf("definitions = [%s, %s], want enabled order preserved",
			definitions[0].Name, definitions[1].Name)
	}
	for _, definition := range definitions {
		if definition.Description == "" || len(definition.InputSchema) == 0 {
			t.Errorf("%s: definition missing description or schema", definition.Name)
		}
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	t.Parallel()

	registry, err := NewRegistry([]string{"bash"}, t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	output, isError := registry.Dispatch(context.Background(), llm.ToolCall{
		ID:   "call_1",
		Name: "launch_missiles",
	})
	if !isError {
		t.Error("unknown tool did not report isError")
	}
	if output != "Unknown tool: launch_missiles" {
		t.Errorf("output = %q, want \"Unknown tool: launch_missiles\"", output)
	}
}

func TestDispatchMalformedArguments(t *testing.T) {
	t.Parallel()

	registry, err := NewRegistry([]string{"bash"}, t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	output, isError := registry.Dispatch(context.Background(), llm.ToolCall{
		ID:        "call_1",
		Name:      "bash",
		Arguments: `{"command":`,
	})
	if !isError {
		t.Error("malformed arguments did not report isError")
	}
	if !strings.Contains(output, "malformed arguments") {
		t.Errorf("output = %q, want malformed-arguments message", output)
	}
}
