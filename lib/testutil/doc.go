// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Warden packages.
//
// [SocketDir] creates a short-named temporary directory in /tmp for
// Unix domain sockets. Unix socket paths are capped at 108 bytes
// (sun_path in sockaddr_un); test temp directories are often nested
// too deep for that, so t.TempDir() is unsuitable for socket files.
//
// [RequireReceive] and [RequireClosed] encapsulate the select-with-
// timeout pattern so individual tests do not hang forever when a
// channel never delivers.
//
// [UniqueID] generates monotonically increasing identifiers for when
// a test needs names that stay distinguishable across subtests and
// retries.
//
// All helpers call t.Fatalf on failure rather than returning errors;
// test setup failures are not recoverable.
//
// This package has no other Warden dependencies.
package testutil
