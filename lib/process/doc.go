// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for Warden
// binaries. It centralizes the one legitimate raw-I/O pattern that
// exists before the structured logger is initialized: fatal error
// reporting from main(). All other output in service binaries goes
// through log/slog; CLI binaries write results to stdout directly.
package process
