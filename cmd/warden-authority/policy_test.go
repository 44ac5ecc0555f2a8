// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"strings"
	"testing"
)

func TestParsePolicyJSONC(t *testing.T) {
	t.Parallel()

	policy, err := ParsePolicy([]byte(`[
		// Reads are always fine.
		{"pattern": "^read_file ", "effect": "allow", "reason": "reads are safe"},
		/* Block anything that touches the package manager. */
		{"pattern": "apt|dpkg", "effect": "deny", "reason": "no package changes"},
	]`))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	if policy.Len() != 2 {
		t.Fatalf("Len = %d, want 2", policy.Len())
	}

	approved, reason, matched := policy.Evaluate(`read_file {"path":"notes.txt"}`)
	if !matched || !approved {
		t.Errorf("read_file: matched=%v approved=%v, want both true", matched, approved)
	}
	if reason != "reads are safe" {
		t.Errorf("reason = %q", reason)
	}

	approved, reason, matched = policy.Evaluate("bash: sudo apt install nmap")
	if !matched || approved {
		t.Errorf("apt: matched=%v approved=%v, want matched and denied", matched, approved)
	}
	if reason != "no package changes" {
		t.Errorf("reason = %q", reason)
	}
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	t.Parallel()

	policy, err := ParsePolicy([]byte(`[
		{"pattern": "rm -rf", "effect": "deny", "reason": "recursive delete"},
		{"pattern": "^bash: ", "effect": "allow", "reason": "shell commands allowed"}
	]`))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}

	approved, reason, matched := policy.Evaluate("bash: rm -rf /tmp/scratch")
	if !matched || approved {
		t.Errorf("deny rule did not win: matched=%v approved=%v", matched, approved)
	}
	if reason != "recursive delete" {
		t.Errorf("reason = %q", reason)
	}

	approved, _, matched = policy.Evaluate("bash: ls")
	if !matched || !approved {
		t.Errorf("allow rule did not match: matched=%v approved=%v", matched, approved)
	}
}

func TestEvaluateNoMatch(t *testing.T) {
	t.Parallel()

	policy, err := ParsePolicy([]byte(`[{"pattern": "^bash: ", "effect": "allow"}]`))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}

	if _, _, matched := policy.Evaluate("launch_missiles {}"); matched {
		t.Error("unrelated proposal matched")
	}
}

func TestEvaluateDefaultReason(t *testing.T) {
	t.Parallel()

	policy, err := ParsePolicy([]byte(`[{"pattern": "^bash: ", "effect": "allow"}]`))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}

	_, reason, matched := policy.Evaluate("bash: ls")
	if !matched {
		t.Fatal("proposal did not match")
	}
	if !strings.Contains(reason, "^bash: ") {
		t.Errorf("default reason %q does not name the pattern", reason)
	}
}

func TestNilPolicy(t *testing.T) {
	t.Parallel()

	var policy *Policy
	if _, _, matched := policy.Evaluate("bash: ls"); matched {
		t.Error("nil policy matched")
	}
	if policy.Len() != 0 {
		t.Errorf("nil policy Len = %d", policy.Len())
	}
}

func TestParsePolicyRejectsBadInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		data string
	}{
		{"missing pattern", `[{"effect": "allow"}]`},
		{"bad regexp", `[{"pattern": "([", "effect": "allow"}]`},
		{"bad effect", `[{"pattern": "^bash: ", "effect": "maybe"}]`},
		{"not an array", `{"pattern": "^bash: ", "effect": "allow"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParsePolicy([]byte(tc.data)); err == nil {
				t.Errorf("ParsePolicy accepted %s", tc.name)
			}
		})
	}
}
