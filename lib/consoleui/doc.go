// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package consoleui implements the approval console TUI: a two-pane
// terminal interface for reviewing and deciding the intentions agents
// have proposed to the decision authority.
//
// The left pane lists pending intentions, oldest first; the right
// pane renders the selected proposal as markdown with highlighted
// code fences. An operator approves with "a", rejects with "r", and
// narrows the list with a "/" fuzzy filter. Decisions go back over
// the authority socket, and any agent blocked in await-decision
// resumes the moment the verdict lands. The list refreshes on an
// interval and after every decision, so two operators watching the
// same authority converge on the same view.
package consoleui
