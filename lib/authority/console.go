// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/warden-foundation/warden/lib/codec"
)

// ConsoleClient issues operator requests to the decision authority.
// Unlike the agent's session Client it keeps no connection open: each
// call dials, performs one request/response exchange, and closes. A
// console polling every few seconds doesn't need a session, and
// short-lived connections mean a restarted authority needs no
// reconnect handling on the operator side.
type ConsoleClient struct {
	address string
	timeout time.Duration
}

// NewConsoleClient creates a client for the decision authority at
// address, a TCP host:port or a Unix socket path.
func NewConsoleClient(address string) *ConsoleClient {
	return &ConsoleClient{address: address, timeout: callTimeout}
}

// ListPending returns the intentions awaiting a decision, oldest
// first.
func (c *ConsoleClient) ListPending() ([]PendingIntention, error) {
	response, err := c.call(Request{Action: "list-pending"})
	if err != nil {
		return nil, err
	}
	return response.Pending, nil
}

// Decide resolves a pending intention. The reason is forwarded
// verbatim to the agent awaiting the verdict.
func (c *ConsoleClient) Decide(intentionID int64, approve bool, reason string) error {
	_, err := c.call(Request{
		Action:      "decide",
		IntentionID: intentionID,
		Approve:     approve,
		Reason:      reason,
	})
	return err
}

// Status reports the authority's state summary.
func (c *ConsoleClient) Status() (*Status, error) {
	response, err := c.call(Request{Action: "status"})
	if err != nil {
		return nil, err
	}
	if response.Status == nil {
		return nil, errors.New("status response carried no status")
	}
	return response.Status, nil
}

// call performs one exchange on a fresh connection.
func (c *ConsoleClient) call(request Request) (*Response, error) {
	conn, err := net.DialTimeout(dialNetwork(c.address), c.address, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to decision authority at %s: %w", c.address, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(c.timeout))

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("sending %s: %w", request.Action, err)
	}
	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		return nil, fmt.Errorf("awaiting response to %s: %w", request.Action, err)
	}
	if !response.OK {
		return nil, fmt.Errorf("authority rejected %s: %s", request.Action, response.Error)
	}
	return &response, nil
}

// dialNetwork picks the network for an authority address: paths are
// Unix sockets, everything else is TCP.
func dialNetwork(address string) string {
	if strings.ContainsRune(address, '/') {
		return "unix"
	}
	return "tcp"
}
