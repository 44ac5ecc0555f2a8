// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package authority

// Request is a CBOR-encoded request to the decision authority.
type Request struct {
	// Action is the request type: "session", "propose-intention",
	// "await-decision", "log-action-output", "log-inference-input",
	// "log-inference-output", "list-pending", "decide", "watch-trail",
	// or "status".
	Action string `cbor:"action"`

	// AgentID identifies the agent opening a session (for "session").
	// All subsequent calls on the connection are attributed to it.
	AgentID string `cbor:"agent_id,omitempty"`

	// ProposalText describes the tool call the agent wants to execute
	// (for "propose-intention"). Human-readable; this is what an
	// operator sees when deciding.
	ProposalText string `cbor:"proposal_text,omitempty"`

	// IntentionID names an intention previously assigned by the
	// authority (for "await-decision", "log-action-output", and
	// "decide").
	IntentionID int64 `cbor:"intention_id,omitempty"`

	// Text is the trail payload for the log actions: the serialized
	// prompt for "log-inference-input", the model reply for
	// "log-inference-output", the tool result for "log-action-output".
	Text string `cbor:"text,omitempty"`

	// IsError marks a failed tool result (for "log-action-output").
	IsError bool `cbor:"is_error,omitempty"`

	// Approve is the operator's verdict (for "decide").
	Approve bool `cbor:"approve,omitempty"`

	// Reason is the operator's justification (for "decide"). Forwarded
	// verbatim to the agent awaiting the decision.
	Reason string `cbor:"reason,omitempty"`

	// SinceSeq is the replay position for "watch-trail": the stream
	// starts with the first record whose sequence number is greater
	// than SinceSeq. Zero replays the whole trail.
	SinceSeq int64 `cbor:"since_seq,omitempty"`
}

// Response is a CBOR-encoded response from the decision authority.
type Response struct {
	// OK indicates whether the request succeeded.
	OK bool `cbor:"ok"`

	// Error contains the failure message if OK is false.
	Error string `cbor:"error,omitempty"`

	// IntentionID is the authority-assigned ID for a new intention
	// (for "propose-intention"). IDs are monotonic within a session
	// and never reused.
	IntentionID int64 `cbor:"intention_id,omitempty"`

	// Approved is the decision verdict (for "await-decision").
	Approved bool `cbor:"approved,omitempty"`

	// Reason explains the verdict (for "await-decision"): the matching
	// policy rule's reason, or the operator's justification for a
	// manual decision.
	Reason string `cbor:"reason,omitempty"`

	// Pending lists undecided intentions (for "list-pending"), oldest
	// first.
	Pending []PendingIntention `cbor:"pending,omitempty"`

	// Status reports authority state (for "status").
	Status *Status `cbor:"status,omitempty"`
}

// PendingIntention is an intention awaiting a decision, as reported by
// "list-pending".
type PendingIntention struct {
	ID           int64  `cbor:"id"`
	AgentID      string `cbor:"agent_id"`
	ProposalText string `cbor:"proposal_text"`

	// ProposedAt is when the proposal arrived, as Unix nanoseconds.
	ProposedAt int64 `cbor:"proposed_at"`
}

// Status is the authority state summary returned by "status".
type Status struct {
	// AgentSessions is the number of currently connected agent
	// sessions.
	AgentSessions int `cbor:"agent_sessions"`

	// PendingIntentions is the number of intentions awaiting a
	// decision.
	PendingIntentions int `cbor:"pending_intentions"`

	// TrailRecords is the total number of trail records persisted.
	TrailRecords int64 `cbor:"trail_records"`

	// PolicyRules is the number of loaded policy rules.
	PolicyRules int `cbor:"policy_rules"`
}

// Trail record kinds.
const (
	// KindIntention records a proposal arriving.
	KindIntention = "intention"

	// KindDecision records an intention being decided, by policy or
	// by an operator.
	KindDecision = "decision"

	// KindInferenceInput records the prompt sent to the model.
	KindInferenceInput = "inference-input"

	// KindInferenceOutput records the model's reply.
	KindInferenceOutput = "inference-output"

	// KindActionOutput records a tool result (or a blocked call's
	// synthesized result).
	KindActionOutput = "action-output"
)

// TrailRecord is one entry in the authority's append-only audit trail.
// Streamed by "watch-trail" (CBOR) and written by the authority's
// export mode (JSONL), so fields carry both tag sets.
type TrailRecord struct {
	// Seq is the record's position in the trail, assigned by the
	// authority, starting at 1, with no gaps.
	Seq int64 `cbor:"seq" json:"seq"`

	// AgentID is the agent the record is attributed to.
	AgentID string `cbor:"agent_id" json:"agent_id"`

	// Kind is one of the Kind constants above.
	Kind string `cbor:"kind" json:"kind"`

	// IntentionID links the record to an intention, for kinds that
	// have one. Zero for inference records.
	IntentionID int64 `cbor:"intention_id,omitempty" json:"intention_id,omitempty"`

	// Text is the record payload: the proposal, the decision reason,
	// the prompt, the reply, or the tool result.
	Text string `cbor:"text" json:"text"`

	// IsError marks a failed tool result (KindActionOutput only).
	IsError bool `cbor:"is_error,omitempty" json:"is_error,omitempty"`

	// Approved is the verdict (KindDecision only).
	Approved bool `cbor:"approved,omitempty" json:"approved,omitempty"`

	// Timestamp is when the authority appended the record, as Unix
	// nanoseconds.
	Timestamp int64 `cbor:"timestamp" json:"timestamp"`

	// Hash chains the trail: BLAKE3 over the previous record's hash
	// followed by this record's canonical encoding with Hash unset.
	// A verifier replaying the trail detects any mutation or deletion
	// at the first record whose hash does not match.
	Hash []byte `cbor:"hash" json:"hash"`
}

// StreamAck is the readiness and error frame for streaming actions.
// After accepting a "watch-trail" request the authority sends one
// StreamAck with OK set, then a TrailRecord frame per trail record.
type StreamAck struct {
	OK    bool   `cbor:"ok"`
	Error string `cbor:"error,omitempty"`
}
