// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Warden-agent is the safety-gated agent runtime. It serves the turn
// API over loopback HTTP: callers post user messages, the agent drives
// the model/tool loop, and every tool call the model requests passes
// through the decision authority before it executes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/warden-foundation/warden/agent"
	"github.com/warden-foundation/warden/lib/authority"
	"github.com/warden-foundation/warden/lib/clock"
	"github.com/warden-foundation/warden/lib/config"
	"github.com/warden-foundation/warden/lib/llm"
	"github.com/warden-foundation/warden/lib/process"
	"github.com/warden-foundation/warden/lib/sealed"
	"github.com/warden-foundation/warden/lib/tools"
	"github.com/warden-foundation/warden/lib/version"
)

// shutdownGrace bounds graceful shutdown. An in-flight turn stream
// holds Shutdown open; after this long the server closes it mid-turn.
const shutdownGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		workdir     string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "path to the agent config file (default: $WARDEN_CONFIG)")
	flag.StringVar(&workdir, "workdir", "", "working directory for tool execution (default: process working directory)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		version.Print("warden-agent")
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	apiKey, err := resolveAPIKey(cfg)
	if err != nil {
		return err
	}

	registry, err := tools.NewRegistry(cfg.EnabledTools, workdir)
	if err != nil {
		return fmt.Errorf("building tool registry: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A configured authority that is unreachable at startup is a
	// deployment problem, surfaced immediately. Fail-open covers
	// authority failures after a successful start, not a socket path
	// that never worked.
	var decisionClient agent.DecisionClient
	if cfg.DecisionAuthorityAddress != "" {
		client, err := authority.Connect(ctx, cfg.DecisionAuthorityAddress, cfg.AgentID)
		if err != nil {
			return fmt.Errorf("connecting to decision authority: %w", err)
		}
		defer client.Close()
		decisionClient = client
		logger.Info("connected to decision authority",
			"address", cfg.DecisionAuthorityAddress,
			"enforcing", cfg.SafetyEnabled,
		)
	} else {
		logger.Warn("no decision authority configured, tool calls run ungated")
	}
	gate := agent.NewSafetyGate(decisionClient, cfg.SafetyEnabled, logger)

	sessionID := uuid.New().String()

	var sessionLog *agent.SessionLogWriter
	if cfg.SessionLog != "" {
		sessionLog, err = agent.NewSessionLogWriter(cfg.SessionLog)
		if err != nil {
			return err
		}
		writeSystemEvent(sessionLog, logger, "init",
			fmt.Sprintf("agent %s session %s", cfg.AgentID, sessionID))
		defer func() {
			writeSystemEvent(sessionLog, logger, "shutdown", "agent stopping")
			summary := sessionLog.Summary()
			if err := sessionLog.Close(); err != nil {
				logger.Warn("closing session log", "error", err)
			}
			logger.Info("session log closed",
				"path", cfg.SessionLog,
				"events", summary.EventCount,
				"tool_calls", summary.ToolCallCount,
				"blocked", summary.BlockedCount,
				"input_tokens", summary.InputTokens,
				"output_tokens", summary.OutputTokens,
			)
		}()
	}

	history := agent.NewHistory()
	loop := agent.NewLoop(agent.LoopConfig{
		Config:     cfg,
		Provider:   llm.NewClient(cfg.BaseURL, apiKey, nil),
		Registry:   registry,
		Gate:       gate,
		History:    history,
		Clock:      clock.Real(),
		Logger:     logger,
		SessionLog: sessionLog,
	})
	server := agent.NewServer(cfg, loop, history, clock.Real(), logger)

	address := net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.HTTPPort))
	httpServer := &http.Server{
		Addr:              address,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: a turn stream stays open for as long as
		// the model, the tools, and any pending decision take.
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	logger.Info("agent running",
		"agent_id", cfg.AgentID,
		"session_id", sessionID,
		"address", address,
		"model", cfg.ModelID,
		"tools", len(cfg.EnabledTools),
	)

	select {
	case err := <-serveErr:
		return fmt.Errorf("serving on %s: %w", address, err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("closing active turn streams", "error", err)
		httpServer.Close()
	}
	return nil
}

// resolveAPIKey returns the model service API key: the literal api_key
// when set, otherwise the age-sealed api_key_file. Both empty is
// allowed; local backends do not authenticate.
func resolveAPIKey(cfg *config.Config) (string, error) {
	if cfg.APIKey != "" {
		return cfg.APIKey, nil
	}
	if cfg.APIKeyFile != "" {
		key, err := sealed.UnsealFile(cfg.APIKeyFile, cfg.SealIdentity)
		if err != nil {
			return "", fmt.Errorf("resolving api key: %w", err)
		}
		return key, nil
	}
	return "", nil
}

// writeSystemEvent appends a lifecycle marker to the session log.
// Best effort: a failed write never stops the agent.
func writeSystemEvent(sessionLog *agent.SessionLogWriter, logger *slog.Logger, subtype, message string) {
	if sessionLog == nil {
		return
	}
	event := agent.Event{
		Timestamp: time.Now(),
		Type:      agent.EventTypeSystem,
		System:    &agent.SystemEvent{Subtype: subtype, Message: message},
	}
	if err := sessionLog.Write(event); err != nil {
		logger.Debug("session log write failed", "error", err)
	}
}
