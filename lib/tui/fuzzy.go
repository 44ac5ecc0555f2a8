// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"slices"
	"strings"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"
)

// FuzzyResult is the outcome of matching a pattern against one text.
type FuzzyResult struct {
	// Score ranks match quality; zero means no match.
	Score int

	// Positions are the rune indexes of the matched characters in
	// the text, ascending. Used for highlight rendering.
	Positions []int
}

// FuzzyMatch scores pattern against text using fzf's v2 algorithm.
// Matching is case-insensitive: both sides are lowercased before the
// algorithm runs, so all-caps text still matches a lowercase query.
// An empty pattern matches nothing.
//
// The slab is an optional scratch buffer the algorithm reuses across
// calls; nil allocates per call. A caller matching many texts in a
// loop should allocate one with util.MakeSlab and pass it to every
// call.
func FuzzyMatch(text string, pattern []rune, slab *util.Slab) FuzzyResult {
	if len(pattern) == 0 {
		return FuzzyResult{}
	}

	chars := util.ToChars([]byte(strings.ToLower(text)))
	loweredPattern := []rune(strings.ToLower(string(pattern)))

	result, positions := algo.FuzzyMatchV2(false, true, true, &chars, loweredPattern, true, slab)
	if result.Score <= 0 {
		return FuzzyResult{}
	}

	var matched []int
	if positions != nil {
		// The algorithm reports positions in backtracking order;
		// sort so consumers can scan them alongside the text.
		matched = *positions
		slices.Sort(matched)
	}
	return FuzzyResult{Score: result.Score, Positions: matched}
}
