// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Warden-console is the operator's approval surface: a terminal UI
// listing every intention waiting on a verdict, with the selected
// proposal rendered on the right. Approving or rejecting takes one
// keystroke; the decision goes to the authority over its socket and
// the waiting agent resumes immediately.
//
// The console polls the authority on an interval (and right after
// every decision), so several operators can run consoles against the
// same authority and converge on the same view.
package main

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/warden-foundation/warden/lib/authority"
	"github.com/warden-foundation/warden/lib/consoleui"
	"github.com/warden-foundation/warden/lib/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		socketAddress   string
		refreshInterval time.Duration
	)

	flagSet := pflag.NewFlagSet("warden-console", pflag.ContinueOnError)
	flagSet.StringVar(&socketAddress, "socket", "/run/warden/authority.sock",
		"decision authority address (unix socket path, or host:port)")
	flagSet.DurationVar(&refreshInterval, "refresh", consoleui.DefaultRefreshInterval,
		"how often to re-fetch the pending list")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match other Warden
	// binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("warden-console")
		return 0
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return 0
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return 0
	}
	if args := flagSet.Args(); len(args) > 0 {
		fmt.Fprintf(os.Stderr, "error: unexpected argument: %s\n", args[0])
		return 2
	}

	// The alt-screen TUI is unusable through a pipe; fail fast
	// rather than emitting escape sequences into it.
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "error: warden-console requires a terminal (stdout is not a TTY)")
		return 1
	}

	client := authority.NewConsoleClient(socketAddress)
	model := consoleui.NewModel(client, refreshInterval)

	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Warden approval console — interactive terminal UI for pending intentions.

Connects to the decision authority's socket and shows every intention
waiting on a verdict. The left pane lists pending intentions; the
right pane renders the selected proposal. The list refreshes on an
interval and immediately after each decision, so the console never
needs restarting while agents come and go.

Keys:
  a          approve the selected intention
  r          reject the selected intention
  j/k, ↑/↓   move selection (or scroll the detail pane)
  Tab        switch focus between list and detail
  /          fuzzy-filter by proposal text or agent ID
  C-r        refresh now
  q          quit

Usage:
  warden-console [flags]

Examples:
  # Connect to the default authority socket
  warden-console

  # Development authority on a TCP port, faster refresh
  warden-console --socket 127.0.0.1:8719 --refresh 500ms

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
