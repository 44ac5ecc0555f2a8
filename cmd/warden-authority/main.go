// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/warden-foundation/warden/lib/clock"
	"github.com/warden-foundation/warden/lib/process"
	"github.com/warden-foundation/warden/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		socketPath     string
		databasePath   string
		policyPath     string
		approveAll     bool
		exportPath     string
		compressFormat string
		verifyChain    bool
		showVersion    bool
	)

	flag.StringVar(&socketPath, "socket", "/run/warden/authority.sock", "unix socket path for agent and console connections")
	flag.StringVar(&databasePath, "db", "/var/warden/trail.db", "SQLite database path for intentions and the trail")
	flag.StringVar(&policyPath, "policy", "", "JSONC policy rules file (no file: every intention waits for an operator)")
	flag.BoolVar(&approveAll, "approve-all", false, "auto-approve intentions no policy rule matches (development)")
	flag.StringVar(&exportPath, "export", "", "write the trail as JSONL to this path and exit")
	flag.StringVar(&compressFormat, "compress", "none", "export compression: zstd, lz4, or none")
	flag.BoolVar(&verifyChain, "verify", false, "verify the trail hash chain and exit")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		version.Print("warden-authority")
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(databasePath), 0755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}

	store, err := OpenStore(StoreConfig{
		Path:   databasePath,
		Clock:  clock.Real(),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	// Export and verify are one-shot modes on the same database.
	if exportPath != "" {
		return exportTrail(context.Background(), store, exportPath, compressFormat)
	}
	if verifyChain {
		return verifyTrail(context.Background(), store)
	}

	var policy *Policy
	if policyPath != "" {
		policy, err = LoadPolicy(policyPath)
		if err != nil {
			return err
		}
		logger.Info("policy loaded", "path", policyPath, "rules", policy.Len())
	} else if !approveAll {
		logger.Info("no policy file, every intention waits for an operator")
	}
	if approveAll {
		logger.Warn("approve-all mode: unmatched intentions are auto-approved")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := listenSocket(socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", socketPath, err)
	}

	auth := NewAuthority(store, policy, approveAll, logger)

	serveDone := make(chan struct{})
	go func() {
		auth.serve(ctx, listener)
		close(serveDone)
	}()

	logger.Info("decision authority running",
		"socket", socketPath,
		"db", databasePath,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	// Closing the listener unblocks Accept; serve notices the
	// cancelled context and returns.
	listener.Close()
	<-serveDone
	return nil
}

// listenSocket prepares the authority's unix socket: parent directory,
// stale socket removal, group-accessible permissions for consoles
// running as a different user.
func listenSocket(socketPath string) (net.Listener, error) {
	socketDir := filepath.Dir(socketPath)
	if err := os.MkdirAll(socketDir, 0755); err != nil {
		return nil, fmt.Errorf("creating socket directory %s: %w", socketDir, err)
	}

	// Remove a stale socket file from a previous run.
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", socketPath, err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}

	if err := os.Chmod(socketPath, 0660); err != nil {
		listener.Close()
		return nil, fmt.Errorf("setting socket permissions: %w", err)
	}

	return listener, nil
}
