// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/warden-foundation/warden/lib/authority"
	"github.com/warden-foundation/warden/lib/codec"
	"github.com/warden-foundation/warden/lib/netutil"
)

// initialRequestTimeout bounds the first read on a fresh connection.
// Sessions and trail watches clear it once established.
const initialRequestTimeout = 30 * time.Second

// watcherBufferSize is the fan-out channel capacity per watch-trail
// connection. At typical trail rates this absorbs several seconds of
// backlog; a watcher that falls further behind misses records and
// sees the gap in the sequence numbers.
const watcherBufferSize = 256

// Authority is the decision service. Agents hold session connections
// on which they propose intentions and wait for verdicts; consoles
// make one-shot calls to inspect and decide, or hold a watch-trail
// stream. Policy rules (or approve-all mode) short-circuit the
// operator for proposals they match.
//
// The serve loop accepts connections concurrently, so mutable state
// is lock-guarded: mu covers the session count and decision waiters,
// watcherMu covers the trail fan-out list. The store serializes its
// own writes.
type Authority struct {
	store      *Store
	policy     *Policy
	approveAll bool
	logger     *slog.Logger

	mu            sync.Mutex
	agentSessions int
	waiters       map[int64][]chan decisionOutcome

	watcherMu sync.RWMutex
	watchers  []*trailWatcher
}

// decisionOutcome is what an await-decision waiter receives when its
// intention is decided.
type decisionOutcome struct {
	approved bool
	reason   string
}

// trailWatcher fans freshly appended trail records out to one
// watch-trail connection.
type trailWatcher struct {
	records chan authority.TrailRecord
}

// NewAuthority creates the service around an open store. A nil policy
// leaves every unmatched intention pending for an operator unless
// approveAll is set.
func NewAuthority(store *Store, policy *Policy, approveAll bool, logger *slog.Logger) *Authority {
	return &Authority{
		store:      store,
		policy:     policy,
		approveAll: approveAll,
		logger:     logger,
		waiters:    make(map[int64][]chan decisionOutcome),
	}
}

// serve accepts connections on the authority socket until the context
// is cancelled and the listener is closed.
func (a *Authority) serve(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			a.logger.Error("accept error", "error", err)
			continue
		}
		go a.handleConnection(ctx, conn)
	}
}

// handleConnection reads the first request on a connection and routes
// it. "session" and "watch-trail" turn the connection into a stream;
// everything else is a single request/response exchange.
func (a *Authority) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(initialRequestTimeout))

	decoder := codec.NewDecoder(conn)
	encoder := codec.NewEncoder(conn)

	var request authority.Request
	if err := decoder.Decode(&request); err != nil {
		a.logger.Error("decoding request", "error", err)
		a.respond(encoder, "initial", authority.Response{Error: "invalid request"})
		return
	}

	switch request.Action {
	case "session":
		a.handleSession(ctx, conn, decoder, encoder, &request)

	case "watch-trail":
		a.handleWatchTrail(ctx, conn, encoder, &request)

	case "status":
		a.respond(encoder, request.Action, a.handleStatus(ctx))

	case "list-pending":
		a.respond(encoder, request.Action, a.handleListPending(ctx))

	case "decide":
		a.respond(encoder, request.Action, a.handleDecide(ctx, &request))

	case "propose-intention", "await-decision", "log-action-output",
		"log-inference-input", "log-inference-output":
		a.respond(encoder, request.Action, authority.Response{Error: "no session: send a session hello first"})

	default:
		a.respond(encoder, request.Action, authority.Response{Error: fmt.Sprintf("unknown action: %q", request.Action)})
	}
}

// respond writes a single response frame.
func (a *Authority) respond(encoder *codec.Encoder, action string, response authority.Response) {
	if err := encoder.Encode(response); err != nil {
		a.logger.Error("encoding response", "action", action, "error", err)
	}
}

// handleSession runs the request loop for one agent connection. The
// hello carries the agent ID; every subsequent request on the
// connection is attributed to that agent. The agent serializes its
// calls, so requests are decoded and answered in lockstep.
func (a *Authority) handleSession(ctx context.Context, conn net.Conn, decoder *codec.Decoder, encoder *codec.Encoder, hello *authority.Request) {
	if hello.AgentID == "" {
		a.respond(encoder, "session", authority.Response{Error: "agent_id is required"})
		return
	}
	agentID := hello.AgentID

	a.mu.Lock()
	a.agentSessions++
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.agentSessions--
		a.mu.Unlock()
		a.logger.Info("agent session ended", "agent_id", agentID)
	}()

	a.respond(encoder, "session", authority.Response{OK: true})
	a.logger.Info("agent session started", "agent_id", agentID)

	// The session outlives any fixed deadline: an idle agent between
	// turns sends nothing for arbitrarily long.
	conn.SetDeadline(time.Time{})

	// Close the connection on shutdown to unblock the decode below.
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-sessionDone:
		}
	}()

	for {
		var request authority.Request
		if err := decoder.Decode(&request); err != nil {
			if !netutil.IsExpectedCloseError(err) && ctx.Err() == nil {
				a.logger.Warn("agent session read", "agent_id", agentID, "error", err)
			}
			return
		}

		var response authority.Response
		switch request.Action {
		case "propose-intention":
			response = a.handlePropose(ctx, agentID, &request)

		case "await-decision":
			response = a.handleAwait(ctx, &request)

		case "log-action-output":
			response = a.handleLog(ctx, agentID, authority.KindActionOutput, &request)

		case "log-inference-input":
			response = a.handleLog(ctx, agentID, authority.KindInferenceInput, &request)

		case "log-inference-output":
			response = a.handleLog(ctx, agentID, authority.KindInferenceOutput, &request)

		case "session":
			response = authority.Response{Error: "session already open"}

		default:
			response = authority.Response{Error: fmt.Sprintf("unknown action: %q", request.Action)}
		}

		a.respond(encoder, request.Action, response)
	}
}

// handlePropose assigns an intention ID, records the proposal, and
// runs policy. A policy match (or approve-all mode) decides the
// intention immediately; otherwise it stays pending for an operator.
func (a *Authority) handlePropose(ctx context.Context, agentID string, request *authority.Request) authority.Response {
	if request.ProposalText == "" {
		return authority.Response{Error: "proposal_text is required"}
	}

	intentionID, record, err := a.store.Propose(ctx, agentID, request.ProposalText)
	if err != nil {
		a.logger.Error("recording proposal", "agent_id", agentID, "error", err)
		return authority.Response{Error: "recording proposal failed"}
	}
	a.fanOut(record)

	approved, reason, matched := a.policy.Evaluate(request.ProposalText)
	if !matched && a.approveAll {
		approved, reason, matched = true, "approve-all mode", true
	}

	if matched {
		if err := a.decide(ctx, intentionID, approved, reason); err != nil {
			// The intention stays pending; an operator can still
			// decide it.
			a.logger.Error("recording policy decision", "intention_id", intentionID, "error", err)
		}
	} else {
		a.logger.Info("intention pending", "intention_id", intentionID, "agent_id", agentID)
	}

	return authority.Response{OK: true, IntentionID: intentionID}
}

// handleAwait blocks until the intention is decided. The decided
// check and the waiter registration hold the mutex together so a
// concurrent decision cannot slip between them.
//
// The wait holds no deadline: a manual decision arrives whenever an
// operator gets to it. If the agent disconnects meanwhile, the waiter
// channel is buffered, so the eventual decision's send does not block
// on the dead session.
func (a *Authority) handleAwait(ctx context.Context, request *authority.Request) authority.Response {
	if request.IntentionID <= 0 {
		return authority.Response{Error: "intention_id is required"}
	}

	a.mu.Lock()
	intention, err := a.store.Intention(ctx, request.IntentionID)
	if err != nil {
		a.mu.Unlock()
		a.logger.Error("looking up intention", "intention_id", request.IntentionID, "error", err)
		return authority.Response{Error: "intention lookup failed"}
	}
	if intention == nil {
		a.mu.Unlock()
		return authority.Response{Error: fmt.Sprintf("unknown intention %d", request.IntentionID)}
	}
	if intention.Decided {
		a.mu.Unlock()
		return authority.Response{OK: true, Approved: intention.Approved, Reason: intention.Reason}
	}

	waiter := make(chan decisionOutcome, 1)
	a.waiters[request.IntentionID] = append(a.waiters[request.IntentionID], waiter)
	a.mu.Unlock()

	select {
	case outcome := <-waiter:
		return authority.Response{OK: true, Approved: outcome.approved, Reason: outcome.reason}
	case <-ctx.Done():
		return authority.Response{Error: "authority shutting down"}
	}
}

// handleLog appends one trail record for the session's agent. Empty
// text is allowed: tools produce empty output routinely.
func (a *Authority) handleLog(ctx context.Context, agentID, kind string, request *authority.Request) authority.Response {
	record, err := a.store.AppendLog(ctx, agentID, kind, request.IntentionID, request.Text, request.IsError)
	if err != nil {
		a.logger.Error("appending trail record", "kind", kind, "error", err)
		return authority.Response{Error: "appending trail record failed"}
	}
	a.fanOut(record)
	return authority.Response{OK: true}
}

// handleStatus reports counts for operators and tests.
func (a *Authority) handleStatus(ctx context.Context) authority.Response {
	pending, err := a.store.PendingCount(ctx)
	if err != nil {
		a.logger.Error("counting pending intentions", "error", err)
		return authority.Response{Error: "status query failed"}
	}

	a.mu.Lock()
	sessions := a.agentSessions
	a.mu.Unlock()

	return authority.Response{OK: true, Status: &authority.Status{
		AgentSessions:     sessions,
		PendingIntentions: pending,
		TrailRecords:      a.store.TrailCount(),
		PolicyRules:       a.policy.Len(),
	}}
}

// handleListPending returns all undecided intentions, oldest first.
func (a *Authority) handleListPending(ctx context.Context) authority.Response {
	pending, err := a.store.PendingIntentions(ctx)
	if err != nil {
		a.logger.Error("listing pending intentions", "error", err)
		return authority.Response{Error: "listing pending intentions failed"}
	}
	return authority.Response{OK: true, Pending: pending}
}

// handleDecide resolves a pending intention on an operator's behalf.
func (a *Authority) handleDecide(ctx context.Context, request *authority.Request) authority.Response {
	if request.IntentionID <= 0 {
		return authority.Response{Error: "intention_id is required"}
	}

	reason := request.Reason
	if reason == "" {
		if request.Approve {
			reason = "approved by operator"
		} else {
			reason = "rejected by operator"
		}
	}

	if err := a.decide(ctx, request.IntentionID, request.Approve, reason); err != nil {
		return authority.Response{Error: err.Error()}
	}
	return authority.Response{OK: true}
}

// decide persists a decision, wakes any await-decision waiters, and
// fans the decision record out to trail watchers. Callers must not
// hold mu.
func (a *Authority) decide(ctx context.Context, intentionID int64, approved bool, reason string) error {
	record, err := a.store.Decide(ctx, intentionID, approved, reason)
	if err != nil {
		return err
	}
	a.fanOut(record)

	a.mu.Lock()
	waiting := a.waiters[intentionID]
	delete(a.waiters, intentionID)
	a.mu.Unlock()

	outcome := decisionOutcome{approved: approved, reason: reason}
	for _, waiter := range waiting {
		waiter <- outcome
	}

	a.logger.Info("intention decided",
		"intention_id", intentionID,
		"approved", approved,
		"reason", reason,
	)
	return nil
}

// handleWatchTrail streams the trail to a console connection: a
// readiness ack, every stored record after SinceSeq, then live
// records as they are appended. The watcher registers before the
// replay so records appended during the replay are buffered rather
// than missed; the sequence check drops the overlap.
func (a *Authority) handleWatchTrail(ctx context.Context, conn net.Conn, encoder *codec.Encoder, request *authority.Request) {
	watcher := &trailWatcher{records: make(chan authority.TrailRecord, watcherBufferSize)}
	a.addWatcher(watcher)
	defer func() {
		a.removeWatcher(watcher)
		a.logger.Info("trail watch ended")
	}()

	if err := encoder.Encode(authority.StreamAck{OK: true}); err != nil {
		a.logger.Debug("watch-trail: writing ready ack", "error", err)
		return
	}

	// The stream outlives the initial deadline.
	conn.SetDeadline(time.Time{})

	a.logger.Info("trail watch started", "since_seq", request.SinceSeq)

	// Close the connection on shutdown to unblock any pending write
	// and the disconnect probe.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	lastSent := request.SinceSeq
	err := a.store.Records(ctx, request.SinceSeq, func(record authority.TrailRecord) error {
		if err := encoder.Encode(record); err != nil {
			return err
		}
		lastSent = record.Seq
		return nil
	})
	if err != nil {
		if !netutil.IsExpectedCloseError(err) && ctx.Err() == nil {
			a.logger.Warn("watch-trail: replay", "error", err)
		}
		return
	}

	disconnected := watchDisconnect(conn)

	for {
		select {
		case record := <-watcher.records:
			if record.Seq <= lastSent {
				continue
			}
			if err := encoder.Encode(record); err != nil {
				if !netutil.IsExpectedCloseError(err) && ctx.Err() == nil {
					a.logger.Warn("watch-trail: writing record", "error", err)
				}
				return
			}
			lastSent = record.Seq

		case <-disconnected:
			return

		case <-ctx.Done():
			return
		}
	}
}

// addWatcher registers a watch-trail subscriber for fan-out.
func (a *Authority) addWatcher(watcher *trailWatcher) {
	a.watcherMu.Lock()
	a.watchers = append(a.watchers, watcher)
	a.watcherMu.Unlock()
}

// removeWatcher deregisters a watch-trail subscriber.
func (a *Authority) removeWatcher(watcher *trailWatcher) {
	a.watcherMu.Lock()
	for i, existing := range a.watchers {
		if existing == watcher {
			a.watchers = append(a.watchers[:i], a.watchers[i+1:]...)
			break
		}
	}
	a.watcherMu.Unlock()
}

// fanOut delivers a freshly appended record to every watcher. Sends
// are non-blocking: a watcher whose buffer is full misses the record
// and sees the gap in the sequence numbers.
func (a *Authority) fanOut(record authority.TrailRecord) {
	a.watcherMu.RLock()
	defer a.watcherMu.RUnlock()

	for _, watcher := range a.watchers {
		select {
		case watcher.records <- record:
		default:
		}
	}
}

// watchDisconnect returns a channel that closes when the peer closes
// the connection. A trail watcher sends nothing after its initial
// request, so any read completing means the connection is gone.
func watchDisconnect(conn net.Conn) <-chan struct{} {
	closed := make(chan struct{})
	go func() {
		buffer := make([]byte, 1)
		conn.Read(buffer)
		close(closed)
	}()
	return closed
}
