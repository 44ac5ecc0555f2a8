// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package consoleui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/warden-foundation/warden/lib/authority"
)

// Column widths for the pending list. The proposal column fills the
// remaining space; the others are fixed.
const (
	columnWidthID    = 7  // "#NNNNN "
	columnWidthAgent = 13 // agent ID + space
	columnWidthAge   = 4  // right-aligned age like " 12m"
)

// blockedHighlightAge is how long an intention can wait before its
// age renders in the pending accent. Past this, an agent has been
// blocked on a human long enough to notice.
const blockedHighlightAge = time.Minute

// ListRenderer handles table-style rendering of pending intentions
// within a given width.
type ListRenderer struct {
	theme Theme
	width int
}

// NewListRenderer creates a ListRenderer for the given width.
func NewListRenderer(theme Theme, width int) ListRenderer {
	return ListRenderer{theme: theme, width: width}
}

// RenderRow renders one pending intention as a formatted table row.
// The matchPositions are rune indexes in the proposal text matched by
// the active filter; they render highlighted.
//
// Row layout: indent + ID + agent + proposal summary + age:
//
//	 #42    agent-7      bash: rm -rf /tmp/scratch          3m
func (renderer ListRenderer) RenderRow(intention authority.PendingIntention, selected bool, matchPositions []int, now time.Time) string {
	proposalWidth := renderer.width - 1 - columnWidthID - columnWidthAgent - columnWidthAge - 1
	if proposalWidth < 10 {
		proposalWidth = 10
	}

	summary, keptRunes := summarize(intention.ProposalText, proposalWidth)

	// Positions past the truncation point would land on the ellipsis.
	var visiblePositions []int
	for _, position := range matchPositions {
		if position < keptRunes {
			visiblePositions = append(visiblePositions, position)
		}
	}

	age := now.Sub(time.Unix(0, intention.ProposedAt))
	if age < 0 {
		age = 0
	}
	ageText := fmt.Sprintf("%*s", columnWidthAge, formatAge(age))
	agentText, _ := summarize(intention.AgentID, columnWidthAgent-1)

	if selected {
		return renderer.renderSelectedRow(intention, summary, visiblePositions, agentText, ageText, proposalWidth)
	}
	return renderer.renderNormalRow(intention, summary, visiblePositions, agentText, ageText, proposalWidth, age)
}

// renderNormalRow renders a row with per-component foreground colors
// on the default terminal background.
func (renderer ListRenderer) renderNormalRow(intention authority.PendingIntention, summary string, positions []int, agentText, ageText string, proposalWidth int, age time.Duration) string {
	idStyle := lipgloss.NewStyle().
		Width(columnWidthID).
		Foreground(renderer.theme.FaintText)
	agentStyle := lipgloss.NewStyle().
		Width(columnWidthAgent).
		Foreground(renderer.theme.AgentColor)
	proposalStyle := lipgloss.NewStyle().
		Foreground(renderer.theme.NormalText)

	ageColor := renderer.theme.FaintText
	if age >= blockedHighlightAge {
		ageColor = renderer.theme.PendingColor
	}
	ageStyle := lipgloss.NewStyle().Foreground(ageColor)

	highlightStyle := lipgloss.NewStyle().
		Foreground(renderer.theme.NormalText).
		Background(renderer.theme.MatchBackground)
	proposalRendered := highlightRunes(summary, positions, proposalStyle, highlightStyle)
	proposalPadded := lipgloss.NewStyle().
		Width(proposalWidth).
		MaxWidth(proposalWidth).
		Render(proposalRendered)

	row := " " +
		idStyle.Render(fmt.Sprintf("#%d", intention.ID)) +
		agentStyle.Render(agentText) +
		proposalPadded +
		" " +
		ageStyle.Render(ageText)

	return lipgloss.NewStyle().Width(renderer.width).MaxWidth(renderer.width).Render(row)
}

// renderSelectedRow renders the selected row with a highlight
// background and uniform foreground. Filter matches use bold and
// underline: a background tint against the selection background
// would be too subtle.
func (renderer ListRenderer) renderSelectedRow(intention authority.PendingIntention, summary string, positions []int, agentText, ageText string, proposalWidth int) string {
	baseStyle := lipgloss.NewStyle().
		Background(renderer.theme.SelectedBackground).
		Foreground(renderer.theme.SelectedForeground)

	highlightStyle := baseStyle.Bold(true).Underline(true)
	proposalRendered := highlightRunes(summary, positions, baseStyle, highlightStyle)
	proposalPadded := baseStyle.
		Width(proposalWidth).
		MaxWidth(proposalWidth).
		Render(proposalRendered)

	row := " " +
		baseStyle.Width(columnWidthID).Render(fmt.Sprintf("#%d", intention.ID)) +
		baseStyle.Width(columnWidthAgent).Bold(true).Render(agentText) +
		proposalPadded +
		" " +
		baseStyle.Render(ageText)

	return baseStyle.Width(renderer.width).MaxWidth(renderer.width).Render(row)
}

// highlightRunes styles text rune-by-rune, rendering matched indexes
// with the highlight style and everything else with the base style.
// Adjacent runes in the same style render as one chunk so the output
// doesn't dissolve into per-rune escape sequences.
func highlightRunes(text string, positions []int, baseStyle, highlightStyle lipgloss.Style) string {
	if len(positions) == 0 {
		return baseStyle.Render(text)
	}

	positionSet := make(map[int]bool, len(positions))
	for _, position := range positions {
		positionSet[position] = true
	}

	runes := []rune(text)
	var result strings.Builder
	runStart := 0
	isHighlighted := positionSet[0]

	for index := 1; index <= len(runes); index++ {
		currentHighlighted := index < len(runes) && positionSet[index]
		if currentHighlighted != isHighlighted || index == len(runes) {
			chunk := string(runes[runStart:index])
			if isHighlighted {
				result.WriteString(highlightStyle.Render(chunk))
			} else {
				result.WriteString(baseStyle.Render(chunk))
			}
			runStart = index
			isHighlighted = currentHighlighted
		}
	}

	return result.String()
}

// summarize flattens a proposal to one line and truncates it to
// width. Returns the visible text and how many of its runes map
// one-to-one onto the original text (the ellipsis tail does not).
func summarize(text string, width int) (string, int) {
	flattened := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return ' '
		}
		return r
	}, text)

	if lipgloss.Width(flattened) <= width {
		return flattened, len([]rune(flattened))
	}

	runes := []rune(flattened)
	for length := len(runes) - 1; length >= 0; length-- {
		candidate := string(runes[:length])
		if lipgloss.Width(candidate) <= width-1 {
			return candidate + "…", length
		}
	}
	return "", 0
}

// formatAge renders a duration as a compact single-unit age: "3s",
// "12m", "4h", "5d".
func formatAge(age time.Duration) string {
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	}
}
