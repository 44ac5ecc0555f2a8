// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	"github.com/warden-foundation/warden/lib/llm"
)

// bashTool runs a shell command and captures its combined output.
type bashTool struct {
	workdir string
}

func (t *bashTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "bash",
		Description: "Run a shell command with bash -c and return its combined stdout and stderr.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {
					"type": "string",
					"description": "The command to execute."
				}
			},
			"required": ["command"]
		}`),
	}
}

func (t *bashTool) Execute(ctx context.Context, arguments map[string]any) (string, bool) {
	command, ok := arguments["command"].(string)
	if !ok || command == "" {
		return `bash: missing required argument "command"`, true
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = t.workdir

	// Put the command in its own process group so that the timeout
	// kills the shell and all its children (negative PID = all
	// processes in the group). Without Setpgid, only the shell
	// receives the signal — children survive and hold open the
	// inherited output pipe, blocking Wait until they finish.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	// Stdout and Stderr share one capped buffer, interleaved the way
	// a terminal would show them. os/exec guarantees single-writer
	// semantics when both are the same Writer value.
	output := &cappedBuffer{max: MaxOutputBytes}
	cmd.Stdout = output
	cmd.Stderr = output

	err := cmd.Run()
	text := output.String()

	switch {
	case err == nil && output.dropped == 0:
		if text == "" {
			return "(no output)", false
		}
		return text, false

	case ctx.Err() == context.DeadlineExceeded:
		return appendNote(text, "command timed out"), true

	case output.dropped > 0:
		note := fmt.Sprintf("[output truncated: %d bytes dropped]", output.dropped)
		if err != nil {
			note = appendNote(note, describeExit(err))
		}
		return appendNote(text, note), true

	default:
		return appendNote(text, describeExit(err)), true
	}
}

// describeExit renders a command failure for the model. Exit statuses
// get the short form; start failures (bash missing, workdir gone)
// keep the full error.
func describeExit(err error) string {
	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		return fmt.Sprintf("exit status %d", exitError.ExitCode())
	}
	return "bash: " + err.Error()
}

// appendNote appends note to text on its own line.
func appendNote(text, note string) string {
	if text == "" {
		return note
	}
	if text[len(text)-1] != '\n' {
		return text + "\n" + note
	}
	return text + note
}

// cappedBuffer retains at most max bytes and counts the overflow.
// Writes never fail: the command keeps running at full speed while
// the excess is discarded.
type cappedBuffer struct {
	max     int
	buf     bytes.Buffer
	dropped int64
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) <= room {
			b.buf.Write(p)
			return len(p), nil
		}
		b.buf.Write(p[:room])
		b.dropped += int64(len(p) - room)
		return len(p), nil
	}
	b.dropped += int64(len(p))
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
