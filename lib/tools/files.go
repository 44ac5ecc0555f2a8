// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/warden-foundation/warden/lib/llm"
)

// resolvePath makes path absolute, anchoring relative paths at the
// agent's working directory.
func resolvePath(workdir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workdir, path)
}

// readFileTool returns a file's contents, capped at MaxOutputBytes.
type readFileTool struct {
	workdir string
}

func (t *readFileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file and return its contents.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {
					"type": "string",
					"description": "File to read, absolute or relative to the working directory."
				}
			},
			"required": ["path"]
		}`),
	}
}

func (t *readFileTool) Execute(ctx context.Context, arguments map[string]any) (string, bool) {
	path, ok := arguments["path"].(string)
	if !ok || path == "" {
		return `read_file: missing required argument "path"`, true
	}

	file, err := os.Open(resolvePath(t.workdir, path))
	if err != nil {
		return "read_file: " + err.Error(), true
	}
	defer file.Close()

	// Read one byte past the cap to distinguish an exactly-cap-sized
	// file from an oversized one.
	data, err := io.ReadAll(io.LimitReader(file, MaxOutputBytes+1))
	if err != nil {
		return "read_file: " + err.Error(), true
	}
	if len(data) > MaxOutputBytes {
		note := fmt.Sprintf("[file truncated at %d bytes]", MaxOutputBytes)
		return appendNote(string(data[:MaxOutputBytes]), note), true
	}
	return string(data), false
}

// writeFileTool writes a file, creating parent directories as needed.
type writeFileTool struct {
	workdir string
}

func (t *writeFileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "write_file",
		Description: "Write content to a file, replacing anything already there. Parent directories are created.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {
					"type": "string",
					"description": "File to write, absolute or relative to the working directory."
				},
				"content": {
					"type": "string",
					"description": "The full new contents of the file."
				}
			},
			"required": ["path", "content"]
		}`),
	}
}

func (t *writeFileTool) Execute(ctx context.Context, arguments map[string]any) (string, bool) {
	path, ok := arguments["path"].(string)
	if !ok || path == "" {
		return `write_file: missing required argument "path"`, true
	}
	content, ok := arguments["content"].(string)
	if !ok {
		return `write_file: missing required argument "content"`, true
	}

	resolved := resolvePath(t.workdir, path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "write_file: " + err.Error(), true
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return "write_file: " + err.Error(), true
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), false
}

// listFilesTool lists a directory, one entry per line, directories
// marked with a trailing slash.
type listFilesTool struct {
	workdir string
}

func (t *listFilesTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "list_files",
		Description: "List the entries of a directory.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {
					"type": "string",
					"description": "Directory to list; defaults to the working directory."
				}
			}
		}`),
	}
}

func (t *listFilesTool) Execute(ctx context.Context, arguments map[string]any) (string, bool) {
	path, _ := arguments["path"].(string)
	if path == "" {
		path = "."
	}

	entries, err := os.ReadDir(resolvePath(t.workdir, path))
	if err != nil {
		return "list_files: " + err.Error(), true
	}
	if len(entries) == 0 {
		return "(empty)", false
	}

	var listing []byte
	for _, entry := range entries {
		listing = append(listing, entry.Name()...)
		if entry.IsDir() {
			listing = append(listing, '/')
		}
		listing = append(listing, '\n')
	}
	return string(listing), false
}
