// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Warden-authority is the decision service agents consult before
// executing tool calls. Agents hold session connections over a Unix
// socket, propose intentions, and wait for verdicts; operators
// inspect and decide pending intentions over the same socket (via
// warden-console), or policy rules decide them automatically. Every
// proposal, decision, model exchange, and tool result is appended to
// a BLAKE3 hash-chained trail in SQLite, streamable live and
// exportable as JSONL.
//
// # Socket API
//
// Connections speak CBOR request/response frames. The first request
// routes the connection:
//
//   - session (agent, streaming): request loop for propose-intention,
//     await-decision, and the three log actions, all attributed to
//     the hello's agent ID
//   - status (unauthenticated): session, pending, trail, and policy
//     counts
//   - list-pending, decide (console): inspect and resolve pending
//     intentions
//   - watch-trail (console, streaming): readiness ack, replay from
//     since_seq, then live records
//
// # Policy
//
// A JSONC rules file ({pattern, effect, reason}, first match wins)
// decides matching proposals without an operator: "allow" approves,
// "deny" rejects, no match leaves the intention pending. The
// -approve-all flag auto-approves unmatched proposals for
// development setups.
//
// # One-shot modes
//
// -export PATH dumps the trail as JSONL (compressed per -compress)
// and exits. -verify replays the hash chain and exits non-zero if
// any record was mutated or removed.
package main
