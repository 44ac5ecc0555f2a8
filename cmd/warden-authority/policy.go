// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/tidwall/jsonc"
)

// Effect values recognized in policy files.
const (
	effectAllow = "allow"
	effectDeny  = "deny"
)

// Policy decides intentions without operator involvement. Rules are
// evaluated top to bottom against the proposal text; the first match
// wins. A nil Policy matches nothing, so every intention waits for an
// operator.
type Policy struct {
	rules []policyRule
}

type policyRule struct {
	pattern *regexp.Regexp
	effect  string
	reason  string
}

// ruleSpec is the on-disk shape of one rule. Policy files are JSONC
// arrays of these, so they can carry comments and trailing commas.
type ruleSpec struct {
	Pattern string `json:"pattern"`
	Effect  string `json:"effect"`
	Reason  string `json:"reason"`
}

// LoadPolicy reads a JSONC policy file and compiles its rules.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy: %w", err)
	}

	policy, err := ParsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return policy, nil
}

// ParsePolicy strips JSONC comments and trailing commas from data,
// then compiles the rule list. Every pattern is a Go regular
// expression matched against proposal text; every effect must be
// "allow" or "deny".
func ParsePolicy(data []byte) (*Policy, error) {
	stripped := jsonc.ToJSON(data)

	var specs []ruleSpec
	if err := json.Unmarshal(stripped, &specs); err != nil {
		return nil, fmt.Errorf("parsing policy: %w", err)
	}

	rules := make([]policyRule, 0, len(specs))
	for i, spec := range specs {
		if spec.Pattern == "" {
			return nil, fmt.Errorf("rule %d: pattern is required", i)
		}
		pattern, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		switch spec.Effect {
		case effectAllow, effectDeny:
		default:
			return nil, fmt.Errorf("rule %d: effect %q is not %q or %q", i, spec.Effect, effectAllow, effectDeny)
		}
		rules = append(rules, policyRule{
			pattern: pattern,
			effect:  spec.Effect,
			reason:  spec.Reason,
		})
	}

	return &Policy{rules: rules}, nil
}

// Evaluate matches proposalText against the rules in order and
// returns the first match's verdict. The third return is false when
// no rule matches and the intention needs an operator.
func (p *Policy) Evaluate(proposalText string) (approved bool, reason string, matched bool) {
	if p == nil {
		return false, "", false
	}
	for _, rule := range p.rules {
		if !rule.pattern.MatchString(proposalText) {
			continue
		}
		reason := rule.reason
		if reason == "" {
			reason = fmt.Sprintf("policy rule %q", rule.pattern.String())
		}
		return rule.effect == effectAllow, reason, true
	}
	return false, "", false
}

// Len returns the number of loaded rules.
func (p *Policy) Len() int {
	if p == nil {
		return 0
	}
	return len(p.rules)
}
