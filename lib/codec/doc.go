// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Warden's standard CBOR encoding configuration.
//
// Warden uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: the agent's HTTP surface (turn
//     requests, SSE chunks, history snapshots) and the local session
//     log.
//   - CBOR for internal protocols: the decision-authority socket
//     protocol (agent sessions, console actions, trail streams).
//
// This package provides the shared CBOR modes so that every Warden
// package encodes identically without duplicating configuration. The
// encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items. Same
// logical data always produces identical bytes — which keeps the
// authority trail's content hashes stable.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
package codec
