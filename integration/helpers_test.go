// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package integration_test exercises the compiled Warden binaries end
// to end: a real warden-agent process talking to a real
// warden-authority over its unix socket, with warden-model-mock
// standing in for the model service.
//
// The test lifecycle:
//   - TestMain builds the binaries with "go build" into a temp
//     directory (or takes them from WARDEN_TEST_BINDIR)
//   - Individual tests start the processes they need and drive turns
//     over the agent's HTTP API
//   - Process cleanup is SIGTERM with a SIGKILL fallback, LIFO per
//     test
//
// When the binaries cannot be built (no go tool, no module cache) the
// tests skip rather than fail, so unit test runs stay green in
// minimal environments.
package integration_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/warden-foundation/warden/lib/authority"
)

// testNonce is the shared turn secret every test agent config uses.
const testNonce = "integration-turn-secret"

var (
	// binDirectory holds the compiled warden binaries for the test
	// run. Resolved in TestMain.
	binDirectory string

	// buildFailure is why the binaries are unavailable. Non-empty
	// makes every test skip.
	buildFailure string
)

var binaryNames = []string{
	"warden-agent",
	"warden-authority",
	"warden-model-mock",
	"warden-call",
	"warden-console",
}

func TestMain(m *testing.M) {
	// Prebuilt binaries win: CI builds once and points the tests at
	// the output directory.
	if directory := os.Getenv("WARDEN_TEST_BINDIR"); directory != "" {
		binDirectory = directory
		for _, name := range binaryNames {
			if _, err := os.Stat(filepath.Join(directory, name)); err != nil {
				buildFailure = fmt.Sprintf("WARDEN_TEST_BINDIR: %v", err)
				break
			}
		}
		os.Exit(m.Run())
	}

	moduleRoot, err := findModuleRoot()
	if err != nil {
		buildFailure = err.Error()
		os.Exit(m.Run())
	}

	directory, err := os.MkdirTemp("", "warden-it-bin-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "create binary temp dir: %v\n", err)
		os.Exit(1)
	}
	binDirectory = directory

	if err := buildBinaries(moduleRoot); err != nil {
		buildFailure = err.Error()
	}

	code := m.Run()
	os.RemoveAll(directory)
	os.Exit(code)
}

// findModuleRoot walks up from the working directory to the directory
// holding go.mod.
func findModuleRoot() (string, error) {
	directory, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getwd: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(directory, "go.mod")); err == nil {
			return directory, nil
		}
		parent := filepath.Dir(directory)
		if parent == directory {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		directory = parent
	}
}

// buildBinaries compiles every warden binary into binDirectory.
func buildBinaries(moduleRoot string) error {
	goTool, err := exec.LookPath("go")
	if err != nil {
		return fmt.Errorf("go tool not on PATH: %w", err)
	}

	args := []string{"build", "-o", binDirectory + string(os.PathSeparator)}
	for _, name := range binaryNames {
		args = append(args, "./cmd/"+name)
	}

	cmd := exec.Command(goTool, args...)
	cmd.Dir = moduleRoot
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %v\n%s", err, stderr.String())
	}
	return nil
}

// requireBinaries skips the test when the binaries did not build.
func requireBinaries(t *testing.T) {
	t.Helper()
	if buildFailure != "" {
		t.Skipf("warden binaries unavailable: %s", buildFailure)
	}
}

// binaryPath returns the path of a compiled warden binary.
func binaryPath(name string) string {
	return filepath.Join(binDirectory, name)
}

// --- Process Helpers ---

// startProcess starts a binary as a subprocess, wiring its output to
// the test log. Cleanup sends SIGTERM and waits for exit (SIGKILL
// after 5 seconds). Cleanups run LIFO, so processes stop in reverse
// start order.
func startProcess(t *testing.T, name string, args ...string) {
	t.Helper()
	cmd := manualProcess(t, name, args...)
	t.Cleanup(func() { stopProcess(t, name, cmd) })
}

// manualProcess starts a binary and returns the exec.Cmd handle. The
// caller owns the process lifetime; use for tests that stop and
// restart a process mid-test.
func manualProcess(t *testing.T, name string, args ...string) *exec.Cmd {
	t.Helper()

	cmd := exec.Command(binaryPath(name), args...)
	cmd.Stdout = os.Stderr // process output is test infrastructure noise
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("start %s: %v", name, err)
	}
	t.Logf("%s started (pid %d)", name, cmd.Process.Pid)
	return cmd
}

// stopProcess terminates a subprocess: SIGTERM, then SIGKILL after 5
// seconds. Safe to call on an already-exited process.
func stopProcess(t *testing.T, name string, cmd *exec.Cmd) {
	t.Helper()
	if cmd.Process == nil {
		return
	}
	cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
		t.Logf("%s stopped", name)
	case <-time.After(5 * time.Second):
		cmd.Process.Kill()
		<-done
		t.Logf("%s killed after timeout", name)
	}
}

// runBinary runs a warden binary to completion and returns stdout,
// stderr, and the exit code. Used for one-shot modes (--version,
// -export, -verify) and CLI behavior checks.
func runBinary(t *testing.T, name string, stdin string, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	cmd := exec.Command(binaryPath(name), args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var outBuffer, errBuffer bytes.Buffer
	cmd.Stdout = &outBuffer
	cmd.Stderr = &errBuffer

	err := cmd.Run()
	exitCode = 0
	if err != nil {
		exitError, ok := err.(*exec.ExitError)
		if !ok {
			t.Fatalf("run %s: %v", name, err)
		}
		exitCode = exitError.ExitCode()
	}
	return outBuffer.String(), errBuffer.String(), exitCode
}

// --- Wait Helpers ---

// waitForFile polls until path exists.
func waitForFile(t *testing.T, path string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %s waiting for file: %s", timeout, path)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// waitForSocket polls until a unix socket accepts connections.
func waitForSocket(t *testing.T, path string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.Dial("unix", path)
		if err == nil {
			conn.Close()
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %s waiting for socket %s: %v", timeout, path, err)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// waitForHealth polls the agent's health endpoint until it answers.
func waitForHealth(t *testing.T, baseURL string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		response, err := http.Get(baseURL + "/health")
		if err == nil {
			response.Body.Close()
			if response.StatusCode == http.StatusOK {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %s waiting for %s/health: %v", timeout, baseURL, err)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// pickFreePort reserves an ephemeral TCP port and releases it for the
// process under test. The window between release and rebind is small
// enough in practice.
func pickFreePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()
	return port
}

// --- Agent Setup Helpers ---

// agentSettings is what varies between test agent configurations.
type agentSettings struct {
	AgentID         string
	Port            int
	ModelURL        string
	AuthoritySocket string
	SafetyEnabled   bool
	SessionLog      string
	Tools           []string
}

// writeAgentConfig renders an agent config file into directory and
// returns its path.
func writeAgentConfig(t *testing.T, directory string, settings agentSettings) string {
	t.Helper()

	var builder strings.Builder
	fmt.Fprintf(&builder, "agent_id: %q\n", settings.AgentID)
	fmt.Fprintf(&builder, "shared_secret: %q\n", testNonce)
	fmt.Fprintf(&builder, "name: %q\n", settings.AgentID)
	fmt.Fprintf(&builder, "model_id: \"mock-model\"\n")
	fmt.Fprintf(&builder, "provider: \"compatible\"\n")
	fmt.Fprintf(&builder, "base_url: %q\n", settings.ModelURL)
	fmt.Fprintf(&builder, "http_port: %d\n", settings.Port)
	fmt.Fprintf(&builder, "bind_address: \"127.0.0.1\"\n")
	if len(settings.Tools) > 0 {
		fmt.Fprintf(&builder, "enabled_tools:\n")
		for _, tool := range settings.Tools {
			fmt.Fprintf(&builder, "  - %s\n", tool)
		}
	}
	if settings.AuthoritySocket != "" {
		fmt.Fprintf(&builder, "decision_authority_address: %q\n", settings.AuthoritySocket)
	}
	fmt.Fprintf(&builder, "safety_enabled: %v\n", settings.SafetyEnabled)
	if settings.SessionLog != "" {
		fmt.Fprintf(&builder, "session_log: %q\n", settings.SessionLog)
	}

	path := filepath.Join(directory, "warden.yaml")
	if err := os.WriteFile(path, []byte(builder.String()), 0600); err != nil {
		t.Fatalf("write agent config: %v", err)
	}
	return path
}

// writeModelScript writes raw JSONL lines as a model-mock script.
func writeModelScript(t *testing.T, directory string, lines ...string) string {
	t.Helper()
	path := filepath.Join(directory, "script.jsonl")
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write model script: %v", err)
	}
	return path
}

// startModelMock starts warden-model-mock on a fresh port and returns
// its base URL. Empty scriptPath means echo mode.
func startModelMock(t *testing.T, scriptPath string) string {
	t.Helper()
	port := pickFreePort(t)
	address := fmt.Sprintf("127.0.0.1:%d", port)
	args := []string{"-listen", address}
	if scriptPath != "" {
		args = append(args, "-script", scriptPath)
	}
	startProcess(t, "warden-model-mock", args...)
	baseURL := "http://" + address
	waitForMockReady(t, baseURL)
	return baseURL
}

// waitForMockReady polls the mock's calls endpoint until it answers.
func waitForMockReady(t *testing.T, baseURL string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		response, err := http.Get(baseURL + "/calls")
		if err == nil {
			response.Body.Close()
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("model mock did not come up at %s: %v", baseURL, err)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// startAuthority starts warden-authority on the given socket and
// database and waits for the socket to accept.
func startAuthority(t *testing.T, socketPath, databasePath string, extraArgs ...string) {
	t.Helper()
	args := append([]string{"-socket", socketPath, "-db", databasePath}, extraArgs...)
	startProcess(t, "warden-authority", args...)
	waitForSocket(t, socketPath, 10*time.Second)
}

// startAgent starts warden-agent with the given config and returns
// the turn API base URL once /health answers.
func startAgent(t *testing.T, configPath, workdir string, port int) string {
	t.Helper()
	startProcess(t, "warden-agent", "-config", configPath, "-workdir", workdir)
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitForHealth(t, baseURL, 10*time.Second)
	return baseURL
}

// --- Turn Helpers ---

// turnChunk mirrors the agent's SSE chunk payload.
type turnChunk struct {
	Body  string `json:"body"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// turnResult is everything one turn produced.
type turnResult struct {
	chunks []turnChunk
	err    error
}

// startTurn posts a turn and collects its SSE stream in the
// background. The returned channel delivers exactly one result.
func startTurn(baseURL, nonce, message string) <-chan turnResult {
	results := make(chan turnResult, 1)
	go func() {
		chunks, err := collectTurn(baseURL, nonce, message)
		results <- turnResult{chunks: chunks, err: err}
	}()
	return results
}

// collectTurn posts one turn and reads SSE frames until the terminal
// chunk. Heartbeat comment frames are skipped.
func collectTurn(baseURL, nonce, message string) ([]turnChunk, error) {
	payload := struct {
		Nonce string `json:"nonce"`
		Body  struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		} `json:"body"`
	}{Nonce: nonce}
	payload.Body.Messages = append(payload.Body.Messages, struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: "user", Content: message})

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/v1/turn", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return nil, fmt.Errorf("turn status %d: %s", response.StatusCode, data)
	}

	var chunks []turnChunk
	scanner := bufio.NewScanner(response.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, found := strings.CutPrefix(line, "data: ")
		if !found {
			continue
		}
		var chunk turnChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return chunks, fmt.Errorf("malformed chunk %q: %w", data, err)
		}
		chunks = append(chunks, chunk)
		if chunk.Done {
			return chunks, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return chunks, err
	}
	return chunks, fmt.Errorf("stream ended without a terminal chunk")
}

// runTurn posts a turn and fails the test unless the stream completed
// with a terminal chunk.
func runTurn(t *testing.T, baseURL, message string) []turnChunk {
	t.Helper()
	result := <-startTurn(baseURL, testNonce, message)
	if result.err != nil {
		t.Fatalf("turn %q: %v", message, result.err)
	}
	return result.chunks
}

// joinedBodies concatenates every chunk body, newline-separated.
func joinedBodies(chunks []turnChunk) string {
	var bodies []string
	for _, chunk := range chunks {
		if chunk.Body != "" {
			bodies = append(bodies, chunk.Body)
		}
	}
	return strings.Join(bodies, "\n")
}

// finalChunk returns the terminal chunk, asserting there is one.
func finalChunk(t *testing.T, chunks []turnChunk) turnChunk {
	t.Helper()
	if len(chunks) == 0 {
		t.Fatal("turn produced no chunks")
	}
	last := chunks[len(chunks)-1]
	if !last.Done {
		t.Fatalf("last chunk not terminal: %+v", last)
	}
	return last
}

// --- Authority Helpers ---

// decideFirstPending polls the authority until an intention is
// pending, decides it, and returns it. Error return instead of
// t.Fatalf so it can run concurrently with a blocked turn.
func decideFirstPending(socketPath string, approve bool, reason string, timeout time.Duration) (authority.PendingIntention, error) {
	console := authority.NewConsoleClient(socketPath)
	deadline := time.Now().Add(timeout)
	for {
		pending, err := console.ListPending()
		if err == nil && len(pending) > 0 {
			intention := pending[0]
			if err := console.Decide(intention.ID, approve, reason); err != nil {
				return authority.PendingIntention{}, fmt.Errorf("decide #%d: %w", intention.ID, err)
			}
			return intention, nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return authority.PendingIntention{}, fmt.Errorf("list pending: %w", err)
			}
			return authority.PendingIntention{}, fmt.Errorf("no intention became pending within %s", timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// mockCallCount reads the model mock's served-completions counter.
func mockCallCount(t *testing.T, mockURL string) int {
	t.Helper()
	response, err := http.Get(mockURL + "/calls")
	if err != nil {
		t.Fatalf("mock calls: %v", err)
	}
	defer response.Body.Close()
	var payload struct {
		Calls int `json:"calls"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		t.Fatalf("decode mock calls: %v", err)
	}
	return payload.Calls
}
