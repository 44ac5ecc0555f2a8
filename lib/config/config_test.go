// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeConfig writes a config file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warden.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
agent_id: agent-7
shared_secret: hunter2
name: Warden Test Agent
model_id: gpt-4o
enabled_tools: [bash, read_file]
thinking_level: low
http_port: 9100
safety_enabled: false
decision_authority_address: /run/warden/authority.sock
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.AgentID != "agent-7" {
		t.Errorf("AgentID = %q, want agent-7", cfg.AgentID)
	}
	if cfg.SharedSecret != "hunter2" {
		t.Errorf("SharedSecret = %q, want hunter2", cfg.SharedSecret)
	}
	if cfg.HTTPPort != 9100 {
		t.Errorf("HTTPPort = %d, want 9100", cfg.HTTPPort)
	}
	if cfg.SafetyEnabled {
		t.Error("SafetyEnabled = true, want false (explicitly disabled)")
	}
	if len(cfg.EnabledTools) != 2 || cfg.EnabledTools[0] != "bash" {
		t.Errorf("EnabledTools = %v, want [bash read_file]", cfg.EnabledTools)
	}

	// Defaults fill unset fields.
	if cfg.Provider != "openai" {
		t.Errorf("Provider default = %q, want openai", cfg.Provider)
	}
	if cfg.MaxTokens != 8192 {
		t.Errorf("MaxTokens default = %d, want 8192", cfg.MaxTokens)
	}
	if cfg.BindAddress != "127.0.0.1" {
		t.Errorf("BindAddress default = %q, want 127.0.0.1", cfg.BindAddress)
	}
}

func TestVariableExpansion(t *testing.T) {
	t.Setenv("WARDEN_TEST_SECRET", "s3cret-from-env")

	path := writeConfig(t, `
agent_id: agent-1
shared_secret: ${WARDEN_TEST_SECRET}
model_id: gpt-4o
http_port: 9100
base_url: ${WARDEN_TEST_BASE_URL:-http://127.0.0.1:9999/v1}
provider: compatible
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.SharedSecret != "s3cret-from-env" {
		t.Errorf("SharedSecret = %q, want value from environment", cfg.SharedSecret)
	}
	if cfg.BaseURL != "http://127.0.0.1:9999/v1" {
		t.Errorf("BaseURL = %q, want the :-default", cfg.BaseURL)
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Provider = "mystery"
	cfg.HTTPPort = 0
	cfg.EnabledTools = []string{"bash", "bash"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil for an invalid config")
	}

	message := err.Error()
	for _, want := range []string{
		"agent_id is required",
		"shared_secret is required",
		"model_id is required",
		"provider must be",
		"http_port must be",
		"lists \"bash\" twice",
	} {
		if !strings.Contains(message, want) {
			t.Errorf("Validate() missing %q in:\n%s", want, message)
		}
	}
}

func TestValidateCompatibleRequiresBaseURL(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.AgentID = "a"
	cfg.SharedSecret = "s"
	cfg.ModelID = "m"
	cfg.Provider = "compatible"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "requires base_url") {
		t.Errorf("Validate() = %v, want base_url requirement", err)
	}

	cfg.BaseURL = "http://127.0.0.1:1234/v1"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with base_url = %v, want nil", err)
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv("WARDEN_CONFIG", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "WARDEN_CONFIG") {
		t.Errorf("Load() without WARDEN_CONFIG = %v, want env var error", err)
	}
}

func TestLoadFileRejectsSealedKeyWithoutIdentity(t *testing.T) {
	path := writeConfig(t, `
agent_id: agent-1
shared_secret: s
model_id: gpt-4o
http_port: 9100
api_key_file: /etc/warden/key.age
`)

	_, err := LoadFile(path)
	if err == nil || !strings.Contains(err.Error(), "seal_identity") {
		t.Errorf("LoadFile = %v, want seal_identity requirement", err)
	}
}

func TestEffectiveSystemPrompt(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if got := cfg.EffectiveSystemPrompt(); got != "" {
		t.Errorf("EffectiveSystemPrompt() with nothing set = %q, want empty", got)
	}

	cfg.Name = "Scout"
	if got := cfg.EffectiveSystemPrompt(); !strings.Contains(got, "Scout") {
		t.Errorf("EffectiveSystemPrompt() = %q, want the name woven in", got)
	}

	cfg.SystemPrompt = "You answer in haiku."
	if got := cfg.EffectiveSystemPrompt(); got != "You answer in haiku." {
		t.Errorf("EffectiveSystemPrompt() = %q, want the explicit prompt", got)
	}
}
