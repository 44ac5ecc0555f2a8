// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"sync"
	"time"

	"github.com/warden-foundation/warden/lib/llm"
)

// HistoryEntry is one record of the agent's conversation: an incoming
// user or system message, or an assistant final response. Tool
// traffic stays in the per-turn model context and the authority
// trail; it never lands here.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// History is the append-only conversation log owned by one agent
// instance. Entries are never mutated or removed; order is insertion
// order. The mutex covers the snapshot endpoint reading while a turn
// appends — turns themselves are serialized by the caller.
type History struct {
	mu      sync.Mutex
	entries []HistoryEntry
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{}
}

// Append records one entry.
func (h *History) Append(role, content string, timestamp time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, HistoryEntry{
		Role:      role,
		Content:   content,
		Timestamp: timestamp,
	})
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Snapshot returns a copy of the entries at call time.
func (h *History) Snapshot() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HistoryEntry(nil), h.entries...)
}

// HasUserMessage reports whether any entry has role "user". A turn
// with no user message anywhere in history has nothing to answer.
func (h *History) HasUserMessage() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, entry := range h.entries {
		if entry.Role == "user" {
			return true
		}
	}
	return false
}

// Project builds the model-facing message list: the optional system
// prompt first, then every history entry in order. The returned slice
// is the turn's to own — the loop appends tool exchanges to it
// without touching history.
func (h *History) Project(systemPrompt string) []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	messages := make([]llm.Message, 0, len(h.entries)+1)
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	}
	for _, entry := range h.entries {
		messages = append(messages, llm.Message{Role: entry.Role, Content: entry.Content})
	}
	return messages
}
