// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package consoleui

import "github.com/warden-foundation/warden/lib/authority"

// DecisionSource is the console's connection to the decision
// authority. Satisfied by authority.ConsoleClient; tests substitute a
// scripted fake.
//
// Both calls block on socket I/O, so the model invokes them from
// tea.Cmd functions rather than inside Update.
type DecisionSource interface {
	// ListPending returns the undecided intentions, oldest first.
	ListPending() ([]authority.PendingIntention, error)

	// Decide resolves a pending intention with a verdict and reason.
	Decide(intentionID int64, approve bool, reason string) error
}
