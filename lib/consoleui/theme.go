// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package consoleui

import "github.com/warden-foundation/warden/lib/tui"

// Re-export theme types from the shared TUI library so code within
// this package can refer to them unqualified.

// Theme defines the color palette for the console.
type Theme = tui.Theme

// DefaultTheme is the built-in dark-terminal color scheme.
var DefaultTheme = tui.DefaultTheme
