// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warden-foundation/warden/lib/codec"
	"github.com/warden-foundation/warden/lib/netutil"
)

// callTimeout bounds the I/O for every call except AwaitDecision,
// which may block on a human for as long as the human takes.
const callTimeout = 30 * time.Second

// Client is an agent's session with the decision authority. All calls
// share one connection and are serialized; the authority answers in
// order. Safe for concurrent use, though the agent loop issues calls
// sequentially anyway.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	encoder *codec.Encoder
	decoder *codec.Decoder
	closed  atomic.Bool
}

// Connect dials the decision authority and opens an agent session.
// Address is a TCP host:port or a Unix socket path. The session hello
// round-trips before Connect returns, so a misconfigured authority
// fails at startup rather than mid-turn.
func Connect(ctx context.Context, address, agentID string) (*Client, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, dialNetwork(address), address)
	if err != nil {
		return nil, fmt.Errorf("connecting to decision authority at %s: %w", address, err)
	}

	client := &Client{
		conn:    conn,
		encoder: codec.NewEncoder(conn),
		decoder: codec.NewDecoder(conn),
	}
	if _, err := client.call(Request{Action: "session", AgentID: agentID}, callTimeout); err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening authority session: %w", err)
	}
	return client, nil
}

// ProposeIntention submits the proposal text for a tool call and
// returns the authority-assigned intention ID.
func (c *Client) ProposeIntention(proposalText string) (int64, error) {
	response, err := c.call(Request{
		Action:       "propose-intention",
		ProposalText: proposalText,
	}, callTimeout)
	if err != nil {
		return 0, err
	}
	return response.IntentionID, nil
}

// AwaitDecision blocks until the authority decides the intention and
// returns the verdict. The wait is unbounded: a policy decision
// arrives immediately, a manual decision arrives whenever an operator
// gets to it.
func (c *Client) AwaitDecision(intentionID int64) (approved bool, reason string, err error) {
	response, err := c.call(Request{
		Action:      "await-decision",
		IntentionID: intentionID,
	}, 0)
	if err != nil {
		return false, "", err
	}
	return response.Approved, response.Reason, nil
}

// LogActionOutput records a tool result on the intention's trail.
func (c *Client) LogActionOutput(intentionID int64, text string, isError bool) error {
	_, err := c.call(Request{
		Action:      "log-action-output",
		IntentionID: intentionID,
		Text:        text,
		IsError:     isError,
	}, callTimeout)
	return err
}

// LogInferenceInput records the prompt about to be sent to the model.
func (c *Client) LogInferenceInput(text string) error {
	_, err := c.call(Request{Action: "log-inference-input", Text: text}, callTimeout)
	return err
}

// LogInferenceOutput records the model's reply.
func (c *Client) LogInferenceOutput(text string) error {
	_, err := c.call(Request{Action: "log-inference-output", Text: text}, callTimeout)
	return err
}

// Close ends the session. Safe to call more than once and while a
// call is in flight; an in-flight call returns an error when the
// connection drops out from under it.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

// call sends one request and reads its response. A zero timeout
// clears the I/O deadline for calls that may block indefinitely.
func (c *Client) call(request Request, timeout time.Duration) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil, errors.New("authority session closed")
	}

	if timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(timeout))
	} else {
		c.conn.SetDeadline(time.Time{})
	}

	if err := c.encoder.Encode(request); err != nil {
		return nil, c.callError("sending", request.Action, err)
	}

	var response Response
	if err := c.decoder.Decode(&response); err != nil {
		return nil, c.callError("awaiting response to", request.Action, err)
	}
	if !response.OK {
		return nil, fmt.Errorf("authority rejected %s: %s", request.Action, response.Error)
	}
	return &response, nil
}

// callError distinguishes a session closed under an in-flight call
// from a genuine transport failure.
func (c *Client) callError(phase, action string, err error) error {
	if c.closed.Load() && netutil.IsExpectedCloseError(err) {
		return errors.New("authority session closed")
	}
	return fmt.Errorf("%s %s: %w", phase, action, err)
}
