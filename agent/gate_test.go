// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/warden-foundation/warden/lib/llm"
)

// scriptedAuthority implements DecisionClient with programmable
// outcomes and a record of every call, in order.
type scriptedAuthority struct {
	proposeErr error
	awaitErr   error
	logErr     error
	approved   bool
	reason     string

	nextID  int64
	ops     []string
	actions []actionLog
}

type actionLog struct {
	intentionID int64
	text        string
	isError     bool
}

func (a *scriptedAuthority) ProposeIntention(proposalText string) (int64, error) {
	a.ops = append(a.ops, "propose:"+proposalText)
	if a.proposeErr != nil {
		return 0, a.proposeErr
	}
	a.nextID++
	return a.nextID, nil
}

func (a *scriptedAuthority) AwaitDecision(intentionID int64) (bool, string, error) {
	a.ops = append(a.ops, "await")
	if a.awaitErr != nil {
		return false, "", a.awaitErr
	}
	return a.approved, a.reason, nil
}

func (a *scriptedAuthority) LogActionOutput(intentionID int64, text string, isError bool) error {
	a.ops = append(a.ops, "log-action")
	a.actions = append(a.actions, actionLog{intentionID, text, isError})
	return a.logErr
}

func (a *scriptedAuthority) LogInferenceInput(text string) error {
	a.ops = append(a.ops, "log-inference-input")
	return a.logErr
}

func (a *scriptedAuthority) LogInferenceOutput(text string) error {
	a.ops = append(a.ops, "log-inference-output")
	return a.logErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bashCall(command string) llm.ToolCall {
	return llm.ToolCall{ID: "call_1", Name: "bash", Arguments: `{"command":"` + command + `"}`}
}

func TestGateNilClientAllows(t *testing.T) {
	t.Parallel()

	gate := NewSafetyGate(nil, true, discardLogger())
	verdict := gate.CheckBeforeToolCall(bashCall("echo hi"))
	if !verdict.Allowed {
		t.Error("pass-through gate blocked a call")
	}
	if verdict.IntentionID != 0 {
		t.Errorf("IntentionID = %d, want 0 with no authority", verdict.IntentionID)
	}
}

func TestGateProposesWithoutWaitingWhenEnforcementOff(t *testing.T) {
	t.Parallel()

	authority := &scriptedAuthority{}
	gate := NewSafetyGate(authority, false, discardLogger())

	verdict := gate.CheckBeforeToolCall(bashCall("echo hi"))
	if !verdict.Allowed {
		t.Error("propose-only gate blocked a call")
	}
	if verdict.IntentionID != 1 {
		t.Errorf("IntentionID = %d, want 1", verdict.IntentionID)
	}
	if len(authority.ops) != 1 || !strings.HasPrefix(authority.ops[0], "propose:") {
		t.Errorf("ops = %v, want a single proposal and no await", authority.ops)
	}
}

func TestGateApproval(t *testing.T) {
	t.Parallel()

	authority := &scriptedAuthority{approved: true, reason: "known-safe command"}
	gate := NewSafetyGate(authority, true, discardLogger())

	verdict := gate.CheckBeforeToolCall(bashCall("echo hi"))
	if !verdict.Allowed || verdict.IntentionID != 1 {
		t.Errorf("verdict = %+v, want allowed intention 1", verdict)
	}
	if len(authority.ops) != 2 || authority.ops[1] != "await" {
		t.Errorf("ops = %v, want propose then await", authority.ops)
	}
}

func TestGateRejection(t *testing.T) {
	t.Parallel()

	authority := &scriptedAuthority{approved: false, reason: "destructive command"}
	gate := NewSafetyGate(authority, true, discardLogger())

	verdict := gate.CheckBeforeToolCall(bashCall("rm -rf /"))
	if verdict.Allowed {
		t.Error("rejected call came back allowed")
	}
	if verdict.Reason != "destructive command" {
		t.Errorf("Reason = %q, want the authority's reason", verdict.Reason)
	}
	if verdict.IntentionID != 1 {
		t.Errorf("IntentionID = %d, want the proposed intention retained", verdict.IntentionID)
	}
}

func TestGateFailsOpenOnProposeError(t *testing.T) {
	t.Parallel()

	authority := &scriptedAuthority{proposeErr: errors.New("connection refused")}
	gate := NewSafetyGate(authority, true, discardLogger())

	verdict := gate.CheckBeforeToolCall(bashCall("echo hi"))
	if !verdict.Allowed {
		t.Error("gate blocked on an unreachable authority")
	}
	if verdict.IntentionID != 0 {
		t.Errorf("IntentionID = %d, want 0 after fail-open", verdict.IntentionID)
	}
}

func TestGateFailsOpenOnAwaitError(t *testing.T) {
	t.Parallel()

	authority := &scriptedAuthority{awaitErr: errors.New("session torn down")}
	gate := NewSafetyGate(authority, true, discardLogger())

	verdict := gate.CheckBeforeToolCall(bashCall("echo hi"))
	if !verdict.Allowed {
		t.Error("gate blocked on a failed decision wait")
	}
	if verdict.IntentionID != 0 {
		t.Errorf("IntentionID = %d, want 0 after fail-open", verdict.IntentionID)
	}
}

func TestGateProposalWording(t *testing.T) {
	t.Parallel()

	authority := &scriptedAuthority{}
	gate := NewSafetyGate(authority, false, discardLogger())

	gate.CheckBeforeToolCall(bashCall("echo hi"))
	gate.CheckBeforeToolCall(llm.ToolCall{ID: "call_2", Name: "read_file", Arguments: `{"path":"notes.txt"}`})

	if authority.ops[0] != "propose:bash: echo hi" {
		t.Errorf("bash proposal = %q, want the command surfaced", authority.ops[0])
	}
	if authority.ops[1] != `propose:read_file {"path":"notes.txt"}` {
		t.Errorf("file proposal = %q, want name plus raw arguments", authority.ops[1])
	}
}

func TestLogAfterToolCallTruncates(t *testing.T) {
	t.Parallel()

	authority := &scriptedAuthority{}
	gate := NewSafetyGate(authority, true, discardLogger())

	long := strings.Repeat("x", maxTrailChars+5000)
	gate.LogAfterToolCall(7, long, false)

	if len(authority.actions) != 1 {
		t.Fatalf("logged %d actions, want 1", len(authority.actions))
	}
	logged := authority.actions[0]
	if logged.intentionID != 7 {
		t.Errorf("intentionID = %d, want 7", logged.intentionID)
	}
	if !strings.Contains(logged.text, "[truncated 5000 bytes]") {
		t.Error("truncation marker missing from logged text")
	}
	if len(logged.text) > maxTrailChars+40 {
		t.Errorf("logged length = %d, want at most the cap plus the marker", len(logged.text))
	}
}

func TestLogAfterToolCallSkipsZeroIntention(t *testing.T) {
	t.Parallel()

	authority := &scriptedAuthority{}
	gate := NewSafetyGate(authority, true, discardLogger())

	gate.LogAfterToolCall(0, "output", false)
	if len(authority.actions) != 0 {
		t.Errorf("logged %d actions for intention 0, want none", len(authority.actions))
	}
}

func TestLogAfterToolCallSwallowsErrors(t *testing.T) {
	t.Parallel()

	authority := &scriptedAuthority{logErr: errors.New("authority down")}
	gate := NewSafetyGate(authority, true, discardLogger())

	// Must not panic or propagate; the tool call already happened.
	gate.LogAfterToolCall(3, "output", true)
	gate.LogInferenceInput("prompt")
	gate.LogInferenceOutput("reply")
}

func TestTruncateForTrail(t *testing.T) {
	t.Parallel()

	short := strings.Repeat("a", maxTrailChars)
	if got := truncateForTrail(short); got != short {
		t.Error("text at the cap was modified")
	}

	// A multi-byte rune straddling the cap moves the cut backward,
	// never splitting the rune.
	straddled := strings.Repeat("a", maxTrailChars-1) + "汉汉汉"
	got := truncateForTrail(straddled)
	if !utf8.ValidString(got) {
		t.Error("truncation split a UTF-8 sequence")
	}
	if !strings.HasSuffix(got, "[truncated 9 bytes]") {
		t.Errorf("truncated text ends %q, want the byte-count marker", got[len(got)-30:])
	}
}
