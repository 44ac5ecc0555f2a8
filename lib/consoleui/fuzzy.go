// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package consoleui

import (
	"cmp"
	"slices"

	"github.com/junegunn/fzf/src/util"

	"github.com/warden-foundation/warden/lib/authority"
	"github.com/warden-foundation/warden/lib/tui"
)

// MatchResult pairs a pending intention with its filter score.
type MatchResult struct {
	Intention authority.PendingIntention

	// Score is the best fuzzy score across the searchable fields.
	// Zero when the filter is empty.
	Score int

	// ProposalPositions are the matched rune indexes in the proposal
	// text, for highlight rendering. Empty when the match came from
	// the agent ID instead.
	ProposalPositions []int
}

// ApplyFuzzy scores the filter against each pending intention's
// proposal text and agent ID, keeping entries where either matches.
// With an empty filter every entry passes through unscored in its
// original order; otherwise results sort best score first, with ties
// broken oldest intention first.
func (filter *FilterModel) ApplyFuzzy(pending []authority.PendingIntention, slab *util.Slab) []MatchResult {
	if filter.Input == "" {
		results := make([]MatchResult, len(pending))
		for index, intention := range pending {
			results[index] = MatchResult{Intention: intention}
		}
		return results
	}

	pattern := []rune(filter.Input)
	var results []MatchResult
	for _, intention := range pending {
		proposal := tui.FuzzyMatch(intention.ProposalText, pattern, slab)
		agent := tui.FuzzyMatch(intention.AgentID, pattern, slab)
		if proposal.Score == 0 && agent.Score == 0 {
			continue
		}
		result := MatchResult{
			Intention:         intention,
			Score:             proposal.Score,
			ProposalPositions: proposal.Positions,
		}
		if agent.Score > result.Score {
			result.Score = agent.Score
		}
		results = append(results, result)
	}

	slices.SortStableFunc(results, func(a, b MatchResult) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.Intention.ID, b.Intention.ID)
	})
	return results
}
