// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the safety-gated turn runtime: the loop
// that drives model calls and tool execution for one agent instance,
// and the HTTP server that streams a turn's output to the caller.
//
// A turn is one request/response exchange. The server authenticates
// the request, hands the incoming messages to the loop, and relays
// the loop's chunks as server-sent events, heartbeating while the
// loop is suspended on a slow safety decision. The loop appends the
// messages to history, then alternates model calls and tool dispatch
// until the model answers in plain text or the iteration cap forces
// an answer. Every tool call passes through the safety gate first;
// every inference and tool result is logged to the decision
// authority's trail.
//
// One turn runs at a time. Callers serialize turn requests per agent;
// concurrent turns against the same agent are undefined. Internal
// locking exists only where the HTTP surface reads state a turn may
// be writing (history snapshots), not to make turns concurrent.
package agent
