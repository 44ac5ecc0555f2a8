// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/warden-foundation/warden/lib/clock"
	"github.com/warden-foundation/warden/lib/config"
	"github.com/warden-foundation/warden/lib/llm"
)

// heartbeatInterval paces SSE comment frames. The turn stream can sit
// idle for minutes while the loop waits on a human safety decision;
// the heartbeat keeps transport-level idle timeouts from cutting the
// connection under it.
const heartbeatInterval = 15 * time.Second

// Server is the agent's HTTP surface: health, turn streaming, history
// snapshots, and the control stub.
type Server struct {
	config  *config.Config
	loop    *Loop
	history *History
	clock   clock.Clock
	logger  *slog.Logger
}

// NewServer builds the HTTP surface over loop and history.
func NewServer(cfg *config.Config, loop *Loop, history *History, clk clock.Clock, logger *slog.Logger) *Server {
	return &Server{
		config:  cfg,
		loop:    loop,
		history: history,
		clock:   clk,
		logger:  logger,
	}
}

// Handler returns the agent's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/turn", s.handleTurn)
	mux.HandleFunc("POST /v1/history", s.handleHistory)
	mux.HandleFunc("POST /v1/control", s.handleControl)
	mux.HandleFunc("/", s.handleNotFound)
	return s.recovering(mux)
}

type errorResponse struct {
	Error string `json:"error"`
}

type turnRequest struct {
	Nonce string `json:"nonce"`
	Body  struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	} `json:"body"`
}

func (s *Server) handleHealth(writer http.ResponseWriter, request *http.Request) {
	s.writeJSON(writer, http.StatusOK, struct {
		Status  string `json:"status"`
		AgentID string `json:"agentId"`
	}{"ok", s.config.AgentID})
}

func (s *Server) handleTurn(writer http.ResponseWriter, request *http.Request) {
	var turn turnRequest
	if err := json.NewDecoder(request.Body).Decode(&turn); err != nil {
		s.writeJSON(writer, http.StatusBadRequest, errorResponse{"malformed request body"})
		return
	}

	// Constant-time compare; a mismatch ends the request before any
	// model or tool activity.
	if subtle.ConstantTimeCompare([]byte(turn.Nonce), []byte(s.config.SharedSecret)) != 1 {
		s.writeJSON(writer, http.StatusForbidden, errorResponse{"Invalid nonce"})
		return
	}

	flusher, ok := writer.(http.Flusher)
	if !ok {
		s.writeJSON(writer, http.StatusInternalServerError, errorResponse{"streaming unsupported"})
		return
	}

	writer.Header().Set("Content-Type", "text/event-stream")
	writer.Header().Set("Cache-Control", "no-cache")
	writer.Header().Set("Connection", "keep-alive")
	writer.Header().Set("X-Accel-Buffering", "no")
	writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	messages := make([]llm.Message, 0, len(turn.Body.Messages))
	for _, incoming := range turn.Body.Messages {
		messages = append(messages, llm.Message{Role: incoming.Role, Content: incoming.Content})
	}

	heartbeat := s.clock.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	chunks := s.loop.Run(request.Context(), messages)

	for {
		select {
		case chunk, open := <-chunks:
			if !open {
				return
			}
			s.writeChunk(writer, flusher, chunk)
		case <-heartbeat.C:
			fmt.Fprint(writer, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// writeChunk writes one SSE data frame. Write errors are not acted
// on: a disconnected caller stops receiving, while the turn runs to
// completion and the channel drains to its close.
func (s *Server) writeChunk(writer io.Writer, flusher http.Flusher, chunk TurnChunk) {
	payload, err := json.Marshal(chunk)
	if err != nil {
		s.logger.Error("encoding turn chunk", "error", err)
		return
	}
	fmt.Fprintf(writer, "data: %s\n\n", payload)
	flusher.Flush()
}

func (s *Server) handleHistory(writer http.ResponseWriter, request *http.Request) {
	entries := s.history.Snapshot()
	if entries == nil {
		entries = []HistoryEntry{}
	}
	s.writeJSON(writer, http.StatusOK, struct {
		Entries []HistoryEntry `json:"entries"`
	}{entries})
}

// handleControl is a stub reserved for pause/resume semantics.
func (s *Server) handleControl(writer http.ResponseWriter, request *http.Request) {
	s.writeJSON(writer, http.StatusOK, struct {
		Status string `json:"status"`
	}{"ok"})
}

func (s *Server) handleNotFound(writer http.ResponseWriter, request *http.Request) {
	s.writeJSON(writer, http.StatusNotFound, errorResponse{"not found"})
}

func (s *Server) writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(payload); err != nil {
		s.logger.Debug("writing response", "error", err)
	}
}

// recovering converts a handler panic into a 500 when the response
// has not started. A panic mid-stream leaves the connection to die;
// the caller sees a truncated stream rather than a forged success.
func (s *Server) recovering(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		tracked := &trackingWriter{ResponseWriter: writer}
		defer func() {
			if recovered := recover(); recovered != nil {
				s.logger.Error("handler panicked",
					"path", request.URL.Path,
					"panic", recovered,
				)
				if !tracked.wrote {
					s.writeJSON(tracked, http.StatusInternalServerError, errorResponse{"internal server error"})
				}
			}
		}()
		next.ServeHTTP(tracked, request)
	})
}

// trackingWriter records whether the response has started, and keeps
// the Flusher the SSE path needs.
type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (t *trackingWriter) WriteHeader(status int) {
	t.wrote = true
	t.ResponseWriter.WriteHeader(status)
}

func (t *trackingWriter) Write(payload []byte) (int, error) {
	t.wrote = true
	return t.ResponseWriter.Write(payload)
}

func (t *trackingWriter) Flush() {
	if flusher, ok := t.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
