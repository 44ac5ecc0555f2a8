// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the Warden
// agent.
//
// Configuration is loaded from a single file specified by either the
// WARDEN_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides.
//
// Variable expansion is performed on string fields after loading:
// ${VAR} and ${VAR:-default} patterns are replaced from the process
// environment. This is how secrets like the shared turn secret and the
// model API key are normally injected:
//
//	shared_secret: ${WARDEN_SHARED_SECRET}
//	api_key: ${OPENAI_API_KEY:-}
//
// This package depends on no other Warden packages.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for one Warden agent instance.
// It is immutable after load: nothing in the runtime writes to it, and
// there is no dynamic reconfiguration endpoint.
type Config struct {
	// AgentID identifies this agent instance. Reported by /health and
	// attached to every trail record the agent produces.
	AgentID string `yaml:"agent_id"`

	// SharedSecret authenticates turn requests: the nonce field of
	// every POST /v1/turn must equal it. Inject via ${VAR} expansion
	// rather than committing the literal value.
	SharedSecret string `yaml:"shared_secret"`

	// Name is the agent's human-readable name, used in the default
	// system prompt.
	Name string `yaml:"name"`

	// ModelID is the model identifier sent to the model service
	// (e.g. "gpt-4o").
	ModelID string `yaml:"model_id"`

	// Provider selects the model service backend: "openai" (default
	// base URL) or "compatible" (any chat-completions server;
	// requires BaseURL).
	Provider string `yaml:"provider"`

	// EnabledTools lists the tool names the agent may use. Must be a
	// subset of the built-in tool set; validated at startup. Empty
	// means the model is called without any tool catalog.
	EnabledTools []string `yaml:"enabled_tools"`

	// ThinkingLevel is the reasoning effort requested from the model:
	// off, low, medium, or high.
	ThinkingLevel string `yaml:"thinking_level"`

	// HTTPPort is the TCP port the turn server listens on.
	HTTPPort int `yaml:"http_port"`

	// BindAddress is the listen address. Loopback by default; the
	// turn server is not meant to face a network.
	BindAddress string `yaml:"bind_address"`

	// APIKey is the model service API key. Prefer ${VAR} expansion or
	// APIKeyFile over a literal value.
	APIKey string `yaml:"api_key,omitempty"`

	// APIKeyFile is the path to an age-sealed file holding the API
	// key. Used when APIKey is empty. Requires SealIdentity.
	APIKeyFile string `yaml:"api_key_file,omitempty"`

	// SealIdentity is the path to the age identity file that unseals
	// APIKeyFile.
	SealIdentity string `yaml:"seal_identity,omitempty"`

	// BaseURL overrides the model service base URL. Required for
	// provider "compatible".
	BaseURL string `yaml:"base_url,omitempty"`

	// DecisionAuthorityAddress is the decision authority's unix
	// socket path. Empty means no authority: the safety gate runs in
	// pass-through mode.
	DecisionAuthorityAddress string `yaml:"decision_authority_address,omitempty"`

	// SafetyEnabled controls enforcement. When false, intentions are
	// still proposed (observability) but decisions are not awaited.
	SafetyEnabled bool `yaml:"safety_enabled"`

	// SystemPrompt is prepended to every model call. Empty means the
	// built-in prompt derived from Name is used; "none" semantics are
	// not needed — an explicit prompt always wins.
	SystemPrompt string `yaml:"system_prompt,omitempty"`

	// MaxTokens is the per-call output token budget sent to the model
	// service.
	MaxTokens int `yaml:"max_tokens"`

	// SessionLog is the path of the local JSONL session log. Empty
	// disables it.
	SessionLog string `yaml:"session_log,omitempty"`
}

// Default returns a Config with the defaults applied before the file
// is loaded. The file is still required — these exist so optional
// fields have sensible values, not as a substitute for configuration.
func Default() *Config {
	return &Config{
		Provider:      "openai",
		ThinkingLevel: "off",
		HTTPPort:      8720,
		BindAddress:   "127.0.0.1",
		SafetyEnabled: true,
		MaxTokens:     8192,
	}
}

// Load loads configuration from the path in the WARDEN_CONFIG
// environment variable. There are no fallbacks — if WARDEN_CONFIG is
// not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("WARDEN_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("WARDEN_CONFIG environment variable not set; " +
			"set it to the path of your warden.yaml config file, or use --config")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, expands
// ${VAR} patterns in string fields, and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s:\n%w", path, err)
	}
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in every
// string field that may carry injected values.
func (c *Config) expandVariables() {
	for _, field := range []*string{
		&c.SharedSecret,
		&c.APIKey,
		&c.APIKeyFile,
		&c.SealIdentity,
		&c.BaseURL,
		&c.DecisionAuthorityAddress,
		&c.SessionLog,
		&c.SystemPrompt,
	} {
		*field = expandVars(*field)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns from the
// process environment. Unset variables without a default expand to the
// empty string.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// EffectiveSystemPrompt returns the prompt prepended to every model
// call: SystemPrompt when set, otherwise a minimal prompt derived
// from Name, otherwise nothing.
func (c *Config) EffectiveSystemPrompt() string {
	if c.SystemPrompt != "" {
		return c.SystemPrompt
	}
	if c.Name != "" {
		return fmt.Sprintf("You are %s, an agent that completes tasks using the tools available to you.", c.Name)
	}
	return ""
}

// knownThinkingLevels are the accepted thinking_level values.
var knownThinkingLevels = []string{"off", "low", "medium", "high"}

// Validate checks the configuration for errors. All problems are
// reported together rather than one at a time.
func (c *Config) Validate() error {
	var errs []error

	if c.AgentID == "" {
		errs = append(errs, fmt.Errorf("agent_id is required"))
	}
	if c.SharedSecret == "" {
		errs = append(errs, fmt.Errorf("shared_secret is required (did its ${VAR} expand to empty?)"))
	}
	if c.ModelID == "" {
		errs = append(errs, fmt.Errorf("model_id is required"))
	}

	switch c.Provider {
	case "openai":
	case "compatible":
		if c.BaseURL == "" {
			errs = append(errs, fmt.Errorf("provider \"compatible\" requires base_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("provider must be \"openai\" or \"compatible\", got %q", c.Provider))
	}

	if !slices.Contains(knownThinkingLevels, c.ThinkingLevel) {
		errs = append(errs, fmt.Errorf("thinking_level must be one of %v, got %q", knownThinkingLevels, c.ThinkingLevel))
	}

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http_port must be in 1..65535, got %d", c.HTTPPort))
	}
	if c.BindAddress == "" {
		errs = append(errs, fmt.Errorf("bind_address is required"))
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens))
	}

	seen := make(map[string]bool, len(c.EnabledTools))
	for _, name := range c.EnabledTools {
		if seen[name] {
			errs = append(errs, fmt.Errorf("enabled_tools lists %q twice", name))
		}
		seen[name] = true
	}

	if c.APIKeyFile != "" && c.SealIdentity == "" {
		errs = append(errs, fmt.Errorf("api_key_file requires seal_identity"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
