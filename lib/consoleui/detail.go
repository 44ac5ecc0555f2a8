// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package consoleui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/warden-foundation/warden/lib/authority"
	"github.com/warden-foundation/warden/lib/tui"
)

// detailHeaderLines is the fixed number of lines consumed by the
// detail pane header. This is constant so the scrollable body never
// shifts vertically when switching intentions.
//
// Layout:
//
//	Line 1: #42  agent-name                               3m
//	Line 2: proposed 2026-08-23 14:02:05
//	Line 3: separator
const detailHeaderLines = 3

// DetailRenderer renders the header and body content for a pending
// intention at a given width.
type DetailRenderer struct {
	theme Theme
	width int
}

// NewDetailRenderer creates a renderer for the given display width.
func NewDetailRenderer(theme Theme, width int) DetailRenderer {
	return DetailRenderer{theme: theme, width: width}
}

// RenderHeader renders the fixed header: intention ID and agent on
// the first line with the age right-aligned, the proposal timestamp
// on the second, and a separator rule on the third.
func (renderer DetailRenderer) RenderHeader(intention authority.PendingIntention, now time.Time) string {
	idStyle := lipgloss.NewStyle().Foreground(renderer.theme.FaintText)
	agentStyle := lipgloss.NewStyle().Foreground(renderer.theme.AgentColor).Bold(true)

	identity := idStyle.Render(fmt.Sprintf("#%d", intention.ID)) +
		"  " + agentStyle.Render(intention.AgentID)

	proposedAt := time.Unix(0, intention.ProposedAt)
	age := now.Sub(proposedAt)
	if age < 0 {
		age = 0
	}
	ageStyle := lipgloss.NewStyle().Foreground(renderer.theme.FaintText)
	if age >= blockedHighlightAge {
		ageStyle = lipgloss.NewStyle().Foreground(renderer.theme.PendingColor)
	}
	ageText := ageStyle.Render(formatAge(age))

	// Right-align the age after the identity, when space allows.
	gap := renderer.width - lipgloss.Width(identity) - lipgloss.Width(ageText)
	line1 := identity
	if gap >= 2 {
		line1 += strings.Repeat(" ", gap) + ageText
	}

	timestampStyle := lipgloss.NewStyle().Foreground(renderer.theme.FaintText)
	line2 := timestampStyle.Render("proposed " + proposedAt.Format("2006-01-02 15:04:05"))

	separatorStyle := lipgloss.NewStyle().Foreground(renderer.theme.BorderColor)
	separatorWidth := renderer.width
	if separatorWidth < 1 {
		separatorWidth = 1
	}
	line3 := separatorStyle.Render(strings.Repeat("─", separatorWidth))

	return line1 + "\n" + line2 + "\n" + line3
}

// RenderBody renders the proposal text as terminal markdown. Tool
// call proposals are rewritten into fenced code blocks first so the
// operator sees the command or arguments with syntax highlighting
// rather than as one long run-in line.
func (renderer DetailRenderer) RenderBody(intention authority.PendingIntention) string {
	document := buildProposalDocument(intention.ProposalText)
	return renderTerminalMarkdown(document, renderer.theme, renderer.width)
}

// buildProposalDocument converts a proposal string into a markdown
// document. Proposals follow the shapes the agent gate produces:
//
//	bash: <command>          shell command
//	<name> <json-arguments>  tool call with arguments
//	<name>                   tool call without arguments
//
// Text matching none of these renders as markdown unchanged.
func buildProposalDocument(proposal string) string {
	if command, ok := strings.CutPrefix(proposal, "bash: "); ok {
		return "```bash\n" + command + "\n```"
	}

	name, arguments, hasArguments := strings.Cut(proposal, " ")
	if !isToolName(name) {
		return proposal
	}
	if !hasArguments {
		return "`" + name + "`"
	}

	trimmed := strings.TrimSpace(arguments)
	if !json.Valid([]byte(trimmed)) {
		return proposal
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, []byte(trimmed), "", "  "); err != nil {
		return proposal
	}
	return "`" + name + "`\n\n```json\n" + indented.String() + "\n```"
}

// isToolName reports whether a string looks like a tool identifier:
// non-empty, with only letters, digits, underscores, dots, and
// hyphens.
func isToolName(name string) bool {
	if name == "" {
		return false
	}
	for _, character := range name {
		switch {
		case character >= 'a' && character <= 'z':
		case character >= 'A' && character <= 'Z':
		case character >= '0' && character <= '9':
		case character == '_' || character == '.' || character == '-':
		default:
			return false
		}
	}
	return true
}

// DetailPane displays a pending intention with a fixed header and a
// scrollable body. It wraps a bubbles viewport for the body region.
type DetailPane struct {
	viewport viewport.Model
	theme    Theme
	width    int
	height   int

	// Retained for re-rendering on resize. Set by SetContent and
	// cleared by Clear. When hasIntention is true, a width change in
	// SetSize re-renders the content so markdown wrap stays correct.
	hasIntention bool
	intention    authority.PendingIntention

	// Pre-rendered header string, set by SetContent and rerender.
	header string

	// renderTime is the time snapshot used for the header age. Set by
	// SetContent, reused by rerender so a resize doesn't change the
	// displayed age.
	renderTime time.Time
}

// NewDetailPane creates an empty detail pane.
func NewDetailPane(theme Theme) DetailPane {
	return DetailPane{theme: theme}
}

// bodyHeight returns the number of lines available for the scrollable
// viewport body.
func (pane DetailPane) bodyHeight() int {
	result := pane.height - detailHeaderLines
	if result < 1 {
		result = 1
	}
	return result
}

// contentWidth returns the usable width for text content (total width
// minus the left padding column and right scrollbar column).
func (pane DetailPane) contentWidth() int {
	return pane.width - 2
}

// SetSize updates the detail pane dimensions. If the width changed
// and there is content displayed, the content is re-rendered at the
// new width so markdown wrapping stays correct.
func (pane *DetailPane) SetSize(width, height int) {
	previousWidth := pane.width
	pane.width = width
	pane.height = height
	pane.viewport.Width = pane.contentWidth()
	pane.viewport.Height = pane.bodyHeight()

	if pane.hasIntention && width != previousWidth {
		pane.rerender()
	}
}

// SetContent updates the detail pane with rendered content for a
// pending intention. Switching to a different intention scrolls to
// the top; re-setting the same intention (a refresh cycle delivering
// an updated snapshot) preserves the scroll position so the view does
// not jump under the operator.
func (pane *DetailPane) SetContent(intention authority.PendingIntention, now time.Time) {
	sameIntention := pane.hasIntention && pane.intention.ID == intention.ID

	pane.hasIntention = true
	pane.intention = intention
	pane.renderTime = now

	previousOffset := pane.viewport.YOffset
	pane.render()

	if sameIntention {
		pane.restoreOffset(previousOffset)
	} else {
		pane.viewport.GotoTop()
	}
}

// Clear removes the detail pane content.
func (pane *DetailPane) Clear() {
	pane.hasIntention = false
	pane.intention = authority.PendingIntention{}
	pane.header = ""
	pane.viewport.SetContent("")
}

// render regenerates the header and body at the current width.
func (pane *DetailPane) render() {
	contentWidth := pane.contentWidth()
	renderer := NewDetailRenderer(pane.theme, contentWidth)
	pane.header = renderer.RenderHeader(pane.intention, pane.renderTime)
	body := renderer.RenderBody(pane.intention)

	// Wrap to contentWidth so no line exceeds the viewport width:
	// code blocks skip markdown word wrap and can carry long lines.
	body = lipgloss.NewStyle().Width(contentWidth).Render(body)
	pane.viewport.SetContent(body)
}

// rerender regenerates the content at the current width, preserving
// the scroll position as closely as possible.
func (pane *DetailPane) rerender() {
	previousOffset := pane.viewport.YOffset
	pane.render()
	pane.restoreOffset(previousOffset)
}

// restoreOffset reapplies a scroll offset, clamped to the current
// content height.
func (pane *DetailPane) restoreOffset(offset int) {
	maxOffset := pane.viewport.TotalLineCount() - pane.viewport.Height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if offset > maxOffset {
		offset = maxOffset
	}
	pane.viewport.SetYOffset(offset)
}

// View renders the detail pane as a docked panel with a fixed header,
// scrollable body, left padding, and a right scrollbar.
func (pane DetailPane) View(focused bool) string {
	contentWidth := pane.contentWidth()

	if !pane.hasIntention {
		emptyStyle := lipgloss.NewStyle().
			Foreground(pane.theme.FaintText)

		contentStyle := lipgloss.NewStyle().
			PaddingLeft(1).
			Width(pane.width - 1).
			Height(pane.height)

		content := contentStyle.Render(
			lipgloss.Place(
				contentWidth, pane.height,
				lipgloss.Center, lipgloss.Center,
				emptyStyle.Render("No pending intentions"),
			),
		)

		scrollbar := tui.RenderScrollbar(
			pane.theme, pane.height,
			0, pane.height, 0,
			focused,
		)
		return lipgloss.JoinHorizontal(lipgloss.Top, content, scrollbar)
	}

	// Build the content column as exactly pane.height lines: fixed
	// header (detailHeaderLines) + scrollable body (remainder).
	paddingStyle := lipgloss.NewStyle().
		PaddingLeft(1).
		Width(pane.width - 1)

	headerView := paddingStyle.Height(detailHeaderLines).Render(pane.header)
	bodyView := paddingStyle.Height(pane.bodyHeight()).Render(pane.viewport.View())
	content := headerView + "\n" + bodyView

	// Scrollbar: blank column for the header rows, actual scrollbar
	// for the body rows, so the scrollbar only covers the region it
	// actually scrolls.
	headerColumn := lipgloss.NewStyle().
		Width(1).
		Height(detailHeaderLines).
		Render("")
	bodyScrollbar := tui.RenderScrollbar(
		pane.theme, pane.bodyHeight(),
		pane.viewport.TotalLineCount(), pane.viewport.Height, pane.viewport.YOffset,
		focused,
	)
	scrollColumn := headerColumn + "\n" + bodyScrollbar

	return lipgloss.JoinHorizontal(lipgloss.Top, content, scrollColumn)
}

// LineUp scrolls the body up one line.
func (pane *DetailPane) LineUp() {
	pane.viewport.LineUp(1)
}

// LineDown scrolls the body down one line.
func (pane *DetailPane) LineDown() {
	pane.viewport.LineDown(1)
}

// HalfPageUp scrolls the body up by half a viewport.
func (pane *DetailPane) HalfPageUp() {
	pane.viewport.HalfViewUp()
}

// HalfPageDown scrolls the body down by half a viewport.
func (pane *DetailPane) HalfPageDown() {
	pane.viewport.HalfViewDown()
}

// GotoTop scrolls the body to the beginning.
func (pane *DetailPane) GotoTop() {
	pane.viewport.GotoTop()
}

// GotoBottom scrolls the body to the end.
func (pane *DetailPane) GotoBottom() {
	pane.viewport.GotoBottom()
}
