// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Warden-call sends one turn to a running agent and streams the reply
// to stdout. It is the operator's curl substitute: it speaks the turn
// API's nonce envelope and SSE framing so a human does not have to.
//
// The message comes from the command line (arguments are joined with
// spaces) or from piped stdin. Chunk bodies print as they arrive; the
// exit code is 0 when the turn completes and 1 when it ends in an
// error. --history dumps the agent's conversation history instead.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/warden-foundation/warden/lib/version"
)

// maxFrameSize bounds one SSE line. Chunk bodies are capped well below
// this by the agent; the margin covers JSON escaping.
const maxFrameSize = 1 << 20

// Wire mirrors of the agent's turn API.

type turnMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type turnRequest struct {
	Nonce string `json:"nonce"`
	Body  struct {
		Messages []turnMessage `json:"messages"`
	} `json:"body"`
}

type turnChunk struct {
	Body  string `json:"body"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

type historyResponse struct {
	Entries []struct {
		Role      string    `json:"role"`
		Content   string    `json:"content"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"entries"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		host        string
		port        int
		nonce       string
		showHistory bool
	)

	flagSet := pflag.NewFlagSet("warden-call", pflag.ContinueOnError)
	flagSet.StringVar(&host, "host", "127.0.0.1", "agent host")
	flagSet.IntVar(&port, "port", 8720, "agent turn API port")
	flagSet.StringVar(&nonce, "nonce", os.Getenv("WARDEN_NONCE"), "shared turn secret (default: $WARDEN_NONCE)")
	flagSet.BoolVar(&showHistory, "history", false, "print the conversation history instead of sending a turn")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match other Warden
	// binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("warden-call")
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

	baseURL := fmt.Sprintf("http://%s:%d", host, port)

	if showHistory {
		return printHistory(baseURL, os.Stdout, os.Stderr)
	}

	message := strings.Join(flagSet.Args(), " ")
	if message == "" {
		// Piped stdin is the message; a terminal is not.
		if stat, _ := os.Stdin.Stat(); (stat.Mode() & os.ModeCharDevice) == 0 {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: reading stdin: %v\n", err)
				return 1
			}
			message = strings.TrimSpace(string(data))
		}
	}
	if message == "" {
		printHelp(flagSet)
		return 2
	}
	if nonce == "" {
		fmt.Fprintf(os.Stderr, "error: no nonce: pass --nonce or set WARDEN_NONCE\n")
		return 2
	}

	return sendTurn(baseURL, nonce, message, os.Stdout, os.Stderr)
}

// sendTurn posts one user message and streams the response.
func sendTurn(baseURL, nonce, message string, out, errOut io.Writer) int {
	var request turnRequest
	request.Nonce = nonce
	request.Body.Messages = []turnMessage{{Role: "user", Content: message}}
	payload, err := json.Marshal(request)
	if err != nil {
		fmt.Fprintf(errOut, "error: encoding request: %v\n", err)
		return 1
	}

	// The default client has no timeout, which is what a turn needs:
	// it can sit behind a model call, a tool, or a pending decision
	// for a long time, paced by server heartbeats.
	response, err := http.Post(baseURL+"/v1/turn", "application/json", bytes.NewReader(payload))
	if err != nil {
		fmt.Fprintf(errOut, "error: connecting to agent: %v\n", err)
		return 1
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return printAPIError(response, errOut)
	}
	return streamTurn(response.Body, out, errOut)
}

// streamTurn prints chunk bodies as SSE frames arrive. Heartbeat
// comment frames are skipped. Returns the process exit code.
func streamTurn(body io.Reader, out, errOut io.Writer) int {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		var chunk turnChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			fmt.Fprintf(errOut, "error: malformed chunk: %v\n", err)
			continue
		}
		if chunk.Body != "" {
			fmt.Fprintln(out, chunk.Body)
		}
		if chunk.Done {
			if chunk.Error != "" {
				fmt.Fprintf(errOut, "error: %s\n", chunk.Error)
				return 1
			}
			return 0
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(errOut, "error: reading stream: %v\n", err)
		return 1
	}
	fmt.Fprintf(errOut, "error: stream ended before the turn completed\n")
	return 1
}

// printHistory dumps the agent's conversation history, one entry per
// line.
func printHistory(baseURL string, out, errOut io.Writer) int {
	response, err := http.Post(baseURL+"/v1/history", "application/json", nil)
	if err != nil {
		fmt.Fprintf(errOut, "error: connecting to agent: %v\n", err)
		return 1
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return printAPIError(response, errOut)
	}

	var history historyResponse
	if err := json.NewDecoder(response.Body).Decode(&history); err != nil {
		fmt.Fprintf(errOut, "error: parsing history: %v\n", err)
		return 1
	}
	for _, entry := range history.Entries {
		fmt.Fprintf(out, "%s %-9s %s\n",
			entry.Timestamp.Format(time.RFC3339), entry.Role, entry.Content)
	}
	return 0
}

// printAPIError reports a non-200 response, preferring the JSON error
// body the agent sends.
func printAPIError(response *http.Response, errOut io.Writer) int {
	body, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
	var wire struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error != "" {
		fmt.Fprintf(errOut, "error: %s (HTTP %d)\n", wire.Error, response.StatusCode)
	} else {
		fmt.Fprintf(errOut, "error: HTTP %d\n", response.StatusCode)
	}
	return 1
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Print(`warden-call — send one turn to a running agent

usage:
  warden-call [flags] <message...>
  echo "message" | warden-call [flags]
  warden-call --history

Chunk bodies print to stdout as they stream. Exit code 0 means the
turn completed; 1 means it ended in an error.

flags:
`)
	fmt.Print(flagSet.FlagUsages())
}
