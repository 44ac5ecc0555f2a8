// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package authority defines the wire protocol between an agent and its
// decision authority, and the client side of an agent session.
//
// The decision authority is the external judge of agent actions: before
// a tool call executes, the agent proposes its intention and, when
// enforcement is enabled, waits for an approve/reject decision. Around
// every model call the agent also logs inference inputs, inference
// outputs, and action outputs, building a durable trail the authority
// persists for audit.
//
// The protocol is CBOR request/response frames over a single
// connection. An agent opens a long-lived session (the "session"
// action) and sends all of its calls on that one connection, in
// lockstep; the authority assigns intention IDs monotonically within
// the session. Operator tooling (warden-console) uses short-lived
// connections instead, one action per connection, including the
// streaming "watch-trail" action.
//
// Everything here is honest-client machinery. The authority trusts the
// session's declared agent ID because the socket is reachable only
// from the deployment's own network; the enforced boundary is between
// the model's chosen actions and their execution, not between the
// agent process and the authority.
package authority
