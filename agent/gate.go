// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/warden-foundation/warden/lib/llm"
)

// maxTrailChars bounds how much of a tool result is forwarded to the
// decision authority's trail and fed back to the model.
const maxTrailChars = 10_000

// DecisionClient is the decision-authority surface the gate needs.
// *authority.Client implements it; tests substitute scripted fakes.
type DecisionClient interface {
	ProposeIntention(proposalText string) (int64, error)
	AwaitDecision(intentionID int64) (approved bool, reason string, err error)
	LogActionOutput(intentionID int64, text string, isError bool) error
	LogInferenceInput(text string) error
	LogInferenceOutput(text string) error
}

// Verdict is the gate's answer for one tool call. IntentionID zero
// means no intention was recorded: no authority is configured, or the
// authority failed and the gate fell open.
type Verdict struct {
	Allowed     bool
	IntentionID int64
	Reason      string
}

// SafetyGate stands between the model's tool calls and their
// execution. With no authority configured it allows everything. With
// an authority but enforcement disabled it proposes every intention —
// the trail shows what would have been gated — without waiting for
// decisions. With enforcement enabled it blocks until the authority
// decides.
//
// Any authority failure fails open: the call is allowed with no
// intention recorded. An unreachable authority degrades enforcement,
// never availability.
type SafetyGate struct {
	client  DecisionClient
	enforce bool
	logger  *slog.Logger
}

// NewSafetyGate returns a gate over client. A nil client is the
// pass-through gate.
func NewSafetyGate(client DecisionClient, enforce bool, logger *slog.Logger) *SafetyGate {
	return &SafetyGate{client: client, enforce: enforce, logger: logger}
}

// CheckBeforeToolCall proposes the tool call as an intention and,
// when enforcement is on, waits for the authority's verdict.
func (g *SafetyGate) CheckBeforeToolCall(call llm.ToolCall) Verdict {
	if g.client == nil {
		return Verdict{Allowed: true}
	}

	intentionID, err := g.client.ProposeIntention(formatProposal(call))
	if err != nil {
		g.logger.Warn("intention proposal failed, failing open",
			"tool", call.Name,
			"error", err,
		)
		return Verdict{Allowed: true}
	}

	if !g.enforce {
		return Verdict{Allowed: true, IntentionID: intentionID}
	}

	approved, reason, err := g.client.AwaitDecision(intentionID)
	if err != nil {
		g.logger.Warn("decision wait failed, failing open",
			"tool", call.Name,
			"intention_id", intentionID,
			"error", err,
		)
		return Verdict{Allowed: true}
	}
	if !approved {
		return Verdict{Allowed: false, IntentionID: intentionID, Reason: reason}
	}
	return Verdict{Allowed: true, IntentionID: intentionID}
}

// LogAfterToolCall forwards a tool result to the intention's trail,
// truncated to the trail cap. A zero intention means nothing was
// recorded for this call; there is nowhere to attach the output.
// Failures are logged and swallowed — trail logging never fails the
// tool call it describes.
func (g *SafetyGate) LogAfterToolCall(intentionID int64, resultText string, isError bool) {
	if g.client == nil || intentionID == 0 {
		return
	}
	if err := g.client.LogActionOutput(intentionID, truncateForTrail(resultText), isError); err != nil {
		g.logger.Warn("action output log failed",
			"intention_id", intentionID,
			"error", err,
		)
	}
}

// LogInferenceInput best-effort records the prompt tail on the trail.
func (g *SafetyGate) LogInferenceInput(text string) {
	if g.client == nil {
		return
	}
	if err := g.client.LogInferenceInput(text); err != nil {
		g.logger.Debug("inference input log failed", "error", err)
	}
}

// LogInferenceOutput best-effort records the model reply on the trail.
func (g *SafetyGate) LogInferenceOutput(text string) {
	if g.client == nil {
		return
	}
	if err := g.client.LogInferenceOutput(text); err != nil {
		g.logger.Debug("inference output log failed", "error", err)
	}
}

// formatProposal renders a tool call as the human-readable proposal
// an operator decides on. Shell commands read as commands; everything
// else shows its raw arguments.
func formatProposal(call llm.ToolCall) string {
	if call.Name == "bash" {
		if arguments, err := call.ParseArguments(); err == nil {
			if command, ok := arguments["command"].(string); ok && command != "" {
				return "bash: " + command
			}
		}
	}
	if call.Arguments == "" {
		return call.Name
	}
	return fmt.Sprintf("%s %s", call.Name, call.Arguments)
}

// truncateForTrail shortens text to maxTrailChars, appending a marker
// naming how much was cut. UTF-8 sequences are never split.
func truncateForTrail(text string) string {
	if len(text) <= maxTrailChars {
		return text
	}
	cut := maxTrailChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return fmt.Sprintf("%s\n[truncated %d bytes]", text[:cut], len(text)-cut)
}
