// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package consoleui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/junegunn/fzf/src/util"

	"github.com/warden-foundation/warden/lib/authority"
	"github.com/warden-foundation/warden/lib/tui"
)

// FocusRegion identifies which UI element receives keyboard input.
type FocusRegion int

const (
	// FocusList: the pending-intention list has focus (default).
	FocusList FocusRegion = iota
	// FocusDetail: the detail pane has focus for scrolling.
	FocusDetail
	// FocusFilter: the filter input has focus; all typing goes to it.
	FocusFilter
)

// DefaultRefreshInterval is how often the console re-fetches the
// pending list when no interval is configured.
const DefaultRefreshInterval = 2 * time.Second

// noticeFadeDelay is how long decision feedback stays in the help bar.
const noticeFadeDelay = 3 * time.Second

// listSplitRatio is the fraction of the terminal width given to the
// list pane; the rest (minus the divider column) goes to the detail
// pane.
const listSplitRatio = 0.45

// pendingLoadedMsg delivers the result of a ListPending call.
type pendingLoadedMsg struct {
	intentions []authority.PendingIntention
	err        error
}

// decisionResultMsg delivers the result of a Decide call.
type decisionResultMsg struct {
	intentionID int64
	approved    bool
	err         error
}

// refreshTickMsg fires the interval refresh.
type refreshTickMsg struct{}

// noticeFadeMsg clears the transient decision notice.
type noticeFadeMsg struct{}

// Model is the bubbletea model for the approval console: a filterable
// list of pending intentions on the left, the selected intention's
// proposal rendered as markdown on the right.
type Model struct {
	source DecisionSource
	theme  Theme
	keys   KeyMap

	// refreshInterval drives the periodic ListPending re-fetch.
	refreshInterval time.Duration

	// Terminal dimensions (set by WindowSizeMsg).
	width  int
	height int
	ready  bool

	// Filter state. matches is the filtered, sorted view of pending;
	// the list pane renders matches, never pending directly.
	filter  FilterModel
	slab    *util.Slab
	pending []authority.PendingIntention
	matches []MatchResult

	// List state.
	cursor       int
	scrollOffset int
	selectedID   int64 // Stable focus: track selection by intention ID.

	// Two-pane layout.
	focusRegion FocusRegion
	priorFocus  FocusRegion // Saved focus when entering filter mode.
	detailPane  DetailPane

	// loaded flips true on the first successful ListPending; before
	// that the empty state reads as "connecting" rather than "no
	// pending intentions".
	loaded    bool
	loadError string

	// Transient decision feedback shown in the help bar.
	notice        string
	noticeIsError bool

	// decisionInFlight guards against double-submitting while a
	// Decide call is still on the wire.
	decisionInFlight bool
}

// NewModel creates a console model backed by the given decision
// source. The first pending fetch happens asynchronously from Init;
// the model starts empty.
func NewModel(source DecisionSource, refreshInterval time.Duration) Model {
	if refreshInterval <= 0 {
		refreshInterval = DefaultRefreshInterval
	}
	return Model{
		source:          source,
		theme:           DefaultTheme,
		keys:            DefaultKeyMap,
		refreshInterval: refreshInterval,
		slab:            util.MakeSlab(100*1024, 2048),
		detailPane:      NewDetailPane(DefaultTheme),
	}
}

// Init implements tea.Model. Kicks off the first pending fetch and
// the interval refresh timer.
func (model Model) Init() tea.Cmd {
	return tea.Batch(loadPending(model.source), model.scheduleRefresh())
}

// loadPending returns a command that fetches the pending list. The
// source call blocks on socket I/O, so it runs in the command
// goroutine rather than in Update.
func loadPending(source DecisionSource) tea.Cmd {
	return func() tea.Msg {
		intentions, err := source.ListPending()
		return pendingLoadedMsg{intentions: intentions, err: err}
	}
}

// submitDecision returns a command that sends a verdict. The reason
// is left empty; the authority substitutes its operator default.
func submitDecision(source DecisionSource, intentionID int64, approve bool) tea.Cmd {
	return func() tea.Msg {
		err := source.Decide(intentionID, approve, "")
		return decisionResultMsg{intentionID: intentionID, approved: approve, err: err}
	}
}

func (model Model) scheduleRefresh() tea.Cmd {
	return tea.Tick(model.refreshInterval, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

func scheduleNoticeFade() tea.Cmd {
	return tea.Tick(noticeFadeDelay, func(time.Time) tea.Msg {
		return noticeFadeMsg{}
	})
}

// Update implements tea.Model. Routes keyboard events based on the
// current focus region and handles refresh and decision results.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		// When filter is active, route all input to the filter first,
		// except for Esc (clear) and Enter (confirm and return).
		if model.focusRegion == FocusFilter {
			return model.handleFilterKeys(message)
		}

		switch {
		case key.Matches(message, model.keys.Quit):
			return model, tea.Quit

		case key.Matches(message, model.keys.FocusToggle):
			if model.focusRegion == FocusList {
				model.focusRegion = FocusDetail
			} else {
				model.focusRegion = FocusList
			}

		case key.Matches(message, model.keys.FilterActivate):
			model.priorFocus = model.focusRegion
			model.focusRegion = FocusFilter
			model.filter.Active = true
			// Reset list position to the top so the operator sees
			// results from the beginning as they type.
			model.cursor = 0
			model.scrollOffset = 0

		case key.Matches(message, model.keys.FilterClear):
			if model.filter.Input != "" {
				model.filter.Clear()
				model.applyFilter()
			}

		case key.Matches(message, model.keys.Refresh):
			return model, loadPending(model.source)

		case key.Matches(message, model.keys.Approve):
			return model.submitSelected(true)

		case key.Matches(message, model.keys.Reject):
			return model.submitSelected(false)

		default:
			if model.focusRegion == FocusList {
				model.handleListKeys(message)
			} else {
				model.handleDetailKeys(message)
			}
		}

	case pendingLoadedMsg:
		if message.err != nil {
			// Keep the stale list on screen; the next tick retries.
			model.loadError = message.err.Error()
			return model, nil
		}
		model.loaded = true
		model.loadError = ""
		model.pending = message.intentions
		model.refreshMatches()

	case decisionResultMsg:
		model.decisionInFlight = false
		if message.err != nil {
			model.notice = fmt.Sprintf("#%d failed: %s", message.intentionID, message.err)
			model.noticeIsError = true
			return model, scheduleNoticeFade()
		}
		verb := "rejected"
		if message.approved {
			verb = "approved"
		}
		model.notice = fmt.Sprintf("#%d %s", message.intentionID, verb)
		model.noticeIsError = false
		// Refresh immediately so the decided intention leaves the
		// list without waiting for the next tick.
		return model, tea.Batch(loadPending(model.source), scheduleNoticeFade())

	case noticeFadeMsg:
		model.notice = ""

	case refreshTickMsg:
		return model, tea.Batch(loadPending(model.source), model.scheduleRefresh())

	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.ready = true
		model.updatePaneSizes()
		model.syncDetailPane()
	}
	return model, nil
}

// handleFilterKeys processes keystrokes while the filter input has
// focus. Regular characters go to the input, Esc clears then exits,
// Enter confirms and returns focus to the list.
func (model Model) handleFilterKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Quit):
		// ctrl+c always quits, even in filter mode.
		if message.Type == tea.KeyCtrlC {
			return model, tea.Quit
		}
		// 'q' is a regular character in filter mode.
		model.filter.HandleRune('q')
		model.applyFilter()
		return model, nil

	case key.Matches(message, model.keys.FilterClear):
		// Esc: if there's filter text, clear it; if already empty,
		// exit filter mode.
		if model.filter.Input != "" {
			model.filter.Clear()
			model.filter.Active = true // Stay in filter mode after clearing text.
			model.applyFilter()
		} else {
			model.filter.Active = false
			model.focusRegion = model.priorFocus
		}
		return model, nil

	case message.Type == tea.KeyEnter:
		// Confirm filter and return focus to the list.
		model.filter.Active = false
		model.focusRegion = FocusList
		return model, nil

	case message.Type == tea.KeyBackspace:
		if model.filter.HandleBackspace() {
			model.applyFilter()
		}
		return model, nil

	case message.Type == tea.KeyRunes || message.Type == tea.KeySpace:
		for _, character := range message.Runes {
			model.filter.HandleRune(character)
		}
		model.applyFilter()
		return model, nil
	}

	return model, nil
}

// handleListKeys processes navigation keys when the list has focus.
func (model *Model) handleListKeys(message tea.KeyMsg) {
	previousCursor := model.cursor

	switch {
	case key.Matches(message, model.keys.Up):
		if model.cursor > 0 {
			model.cursor--
		}

	case key.Matches(message, model.keys.Down):
		if model.cursor < len(model.matches)-1 {
			model.cursor++
		}

	case key.Matches(message, model.keys.PageUp):
		model.cursor = model.clampedIndex(model.cursor - model.visibleHeight())

	case key.Matches(message, model.keys.PageDown):
		model.cursor = model.clampedIndex(model.cursor + model.visibleHeight())

	case key.Matches(message, model.keys.Home):
		model.cursor = 0

	case key.Matches(message, model.keys.End):
		if len(model.matches) > 0 {
			model.cursor = len(model.matches) - 1
		}
	}

	model.ensureCursorVisible()

	if model.cursor != previousCursor {
		model.updateSelectedID()
		model.syncDetailPane()
	}
}

// handleDetailKeys processes scroll keys when the detail pane has
// focus.
func (model *Model) handleDetailKeys(message tea.KeyMsg) {
	switch {
	case key.Matches(message, model.keys.Up):
		model.detailPane.LineUp()

	case key.Matches(message, model.keys.Down):
		model.detailPane.LineDown()

	case key.Matches(message, model.keys.PageUp):
		model.detailPane.HalfPageUp()

	case key.Matches(message, model.keys.PageDown):
		model.detailPane.HalfPageDown()

	case key.Matches(message, model.keys.Home):
		model.detailPane.GotoTop()

	case key.Matches(message, model.keys.End):
		model.detailPane.GotoBottom()
	}
}

// submitSelected sends a verdict for the intention under the cursor.
// No-op when a decision is already in flight or nothing is selected.
func (model Model) submitSelected(approve bool) (tea.Model, tea.Cmd) {
	if model.decisionInFlight || model.cursor >= len(model.matches) {
		return model, nil
	}
	intention := model.matches[model.cursor].Intention
	model.decisionInFlight = true
	return model, submitDecision(model.source, intention.ID, approve)
}

// refreshMatches rebuilds the match list after the pending snapshot
// changed (interval refresh, post-decision refresh), restoring the
// previous selection so the cursor doesn't move under the operator.
func (model *Model) refreshMatches() {
	model.matches = model.filter.ApplyFuzzy(model.pending, model.slab)
	model.restoreSelection()
	model.ensureCursorVisible()
	model.syncDetailPane()
}

// applyFilter rebuilds the match list after the filter input changed.
// When actively filtering, snap to the top of the list so the
// highest-scored matches are visible as the operator types. Without
// this, the scroll offset from the pre-filter list persists and the
// operator sees an arbitrary slice of filtered results.
func (model *Model) applyFilter() {
	model.matches = model.filter.ApplyFuzzy(model.pending, model.slab)

	if model.filter.Input != "" {
		model.cursor = 0
		model.scrollOffset = 0
		model.updateSelectedID()
	} else {
		model.restoreSelection()
	}
	model.ensureCursorVisible()
	model.syncDetailPane()
}

// restoreSelection re-points the cursor at the previously selected
// intention after the match list changed. When the intention is gone
// (decided, or filtered out) the cursor stays at its position and
// selection follows whatever row now occupies it.
func (model *Model) restoreSelection() {
	if model.selectedID != 0 {
		for index, match := range model.matches {
			if match.Intention.ID == model.selectedID {
				model.cursor = index
				return
			}
		}
	}
	model.cursor = model.clampedIndex(model.cursor)
	model.updateSelectedID()
}

// updateSelectedID records the intention ID under the cursor, or zero
// when the list is empty.
func (model *Model) updateSelectedID() {
	if model.cursor < len(model.matches) {
		model.selectedID = model.matches[model.cursor].Intention.ID
	} else {
		model.selectedID = 0
	}
}

// clampedIndex returns position clamped to valid match bounds.
func (model *Model) clampedIndex(position int) int {
	if len(model.matches) == 0 {
		return 0
	}
	if position < 0 {
		return 0
	}
	if position >= len(model.matches) {
		return len(model.matches) - 1
	}
	return position
}

// syncDetailPane pushes the intention under the cursor into the
// detail pane, or clears it when nothing is selected.
func (model *Model) syncDetailPane() {
	if model.cursor < len(model.matches) {
		model.detailPane.SetContent(model.matches[model.cursor].Intention, time.Now())
	} else {
		model.detailPane.Clear()
	}
}

// updatePaneSizes recomputes the detail pane dimensions from the
// terminal size and split ratio.
func (model *Model) updatePaneSizes() {
	contentHeight := model.visibleHeight()
	// 1 column for the vertical divider between panes.
	detailWidth := model.width - model.listWidth() - 1
	if detailWidth < 10 {
		detailWidth = 10
	}
	model.detailPane.SetSize(detailWidth, contentHeight)
}

// listWidth returns the width of the list pane in columns.
func (model Model) listWidth() int {
	return int(float64(model.width) * listSplitRatio)
}

// visibleHeight returns the number of list rows that fit between the
// chrome: 1 top line (header or filter bar), 1 bottom separator, and
// 1 help bar.
func (model Model) visibleHeight() int {
	return model.height - 3
}

// ensureCursorVisible adjusts scrollOffset so the cursor is within
// the visible window.
func (model *Model) ensureCursorVisible() {
	visible := model.visibleHeight()
	if visible <= 0 {
		return
	}

	// Clamp scrollOffset so we never scroll past the end of the
	// list. This handles refreshes that shrink the list below the
	// old offset.
	maxOffset := len(model.matches) - visible
	if maxOffset < 0 {
		maxOffset = 0
	}
	if model.scrollOffset > maxOffset {
		model.scrollOffset = maxOffset
	}

	if model.cursor < model.scrollOffset {
		model.scrollOffset = model.cursor
	}
	if model.cursor >= model.scrollOffset+visible {
		model.scrollOffset = model.cursor - visible + 1
	}
}

// View implements tea.Model. Renders the full frame with two panes.
func (model Model) View() string {
	if !model.ready {
		return "Loading..."
	}

	if len(model.matches) == 0 && model.filter.Input == "" {
		return model.renderEmpty()
	}

	var sections []string

	// Top chrome line: either the header or the filter bar. The
	// filter bar replaces the header so the layout doesn't shift.
	filterView := model.filter.View(model.theme, model.width)
	if filterView != "" {
		sections = append(sections, filterView)
	} else {
		sections = append(sections, model.renderHeader())
	}

	// Two-pane content area with vertical divider.
	listView := model.renderListPane()
	divider := model.renderDivider()
	detailFocused := model.focusRegion == FocusDetail
	detailView := model.detailPane.View(detailFocused)
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, listView, divider, detailView))

	// Bottom separator.
	separator := lipgloss.NewStyle().
		Foreground(model.theme.BorderColor).
		Render(strings.Repeat("─", model.width))
	sections = append(sections, separator)

	sections = append(sections, model.renderHelp())

	return strings.Join(sections, "\n")
}

// renderEmpty renders the centered empty state.
func (model Model) renderEmpty() string {
	text := "No pending intentions"
	if !model.loaded {
		text = "Connecting to decision authority..."
		if model.loadError != "" {
			text = "Decision authority unreachable, retrying..."
		}
	}

	messageStyle := lipgloss.NewStyle().
		Foreground(model.theme.FaintText)

	return lipgloss.Place(
		model.width, model.height,
		lipgloss.Center, lipgloss.Center,
		messageStyle.Render(text),
	)
}

// renderHeader renders the top chrome line: program name and pending
// count.
func (model Model) renderHeader() string {
	titleStyle := lipgloss.NewStyle().
		Foreground(model.theme.HeaderForeground).
		Bold(true)
	countStyle := lipgloss.NewStyle().
		Foreground(model.theme.FaintText)

	count := fmt.Sprintf("%d pending", len(model.pending))
	if model.filter.Input != "" {
		count = fmt.Sprintf("%d/%d match", len(model.matches), len(model.pending))
	}

	line := titleStyle.Render(" warden") + "  " + countStyle.Render(count)
	return lipgloss.NewStyle().Width(model.width).MaxWidth(model.width).Render(line)
}

// renderListPane renders the pending-intention rows with a right
// scrollbar.
func (model Model) renderListPane() string {
	listWidth := model.listWidth()
	focused := model.focusRegion == FocusList

	// Reserve the rightmost column for the scrollbar.
	rowWidth := listWidth - 1
	renderer := NewListRenderer(model.theme, rowWidth)

	visible := model.visibleHeight()
	if visible < 0 {
		visible = 0
	}

	now := time.Now()
	var rows []string
	for index := model.scrollOffset; index < model.scrollOffset+visible && index < len(model.matches); index++ {
		match := model.matches[index]
		selected := index == model.cursor
		rows = append(rows, renderer.RenderRow(match.Intention, selected, match.ProposalPositions, now))
	}

	// Pad empty rows.
	rendered := len(rows)
	if rendered < visible {
		emptyStyle := lipgloss.NewStyle().Width(rowWidth)
		for padding := rendered; padding < visible; padding++ {
			rows = append(rows, emptyStyle.Render(""))
		}
	}

	scrollbar := tui.RenderScrollbar(
		model.theme, visible,
		len(model.matches), visible, model.scrollOffset,
		focused,
	)

	contentStyle := lipgloss.NewStyle().
		Width(rowWidth).
		Height(visible)

	return lipgloss.JoinHorizontal(lipgloss.Top,
		contentStyle.Render(strings.Join(rows, "\n")),
		scrollbar,
	)
}

// renderDivider renders the single-column vertical divider between
// the list and detail panes.
func (model Model) renderDivider() string {
	visible := model.visibleHeight()
	if visible < 0 {
		visible = 0
	}

	dividerStyle := lipgloss.NewStyle().
		Foreground(model.theme.BorderColor)

	lines := make([]string, visible)
	for index := range lines {
		lines[index] = "│"
	}

	return dividerStyle.Width(1).Height(visible).Render(strings.Join(lines, "\n"))
}

// renderHelp renders the bottom help bar with the focus indicator,
// key hints, list position, and transient notices.
func (model Model) renderHelp() string {
	style := lipgloss.NewStyle().Foreground(model.theme.HelpText)

	focusIndicator := "LIST"
	switch model.focusRegion {
	case FocusDetail:
		focusIndicator = "DETAIL"
	case FocusFilter:
		focusIndicator = "FILTER"
	}

	help := fmt.Sprintf(" [%s] a approve  r reject  ↑↓ navigate  Tab focus  / filter  C-r refresh  q quit",
		focusIndicator)

	if len(model.matches) > 0 {
		help += fmt.Sprintf("  %d/%d", model.cursor+1, len(model.matches))
	}

	rendered := style.Render(help)

	// Authority connectivity warning: the displayed list is stale
	// until a refresh succeeds again.
	if model.loadError != "" {
		warnStyle := lipgloss.NewStyle().
			Foreground(model.theme.PendingColor).
			Bold(true)
		rendered += "  " + warnStyle.Render("authority unreachable")
	}

	// Decision feedback.
	if model.notice != "" {
		noticeColor := model.theme.ApproveColor
		if model.noticeIsError {
			noticeColor = model.theme.RejectColor
		}
		noticeStyle := lipgloss.NewStyle().
			Foreground(noticeColor).
			Bold(true)
		rendered += "  " + noticeStyle.Render(model.notice)
	}

	return lipgloss.NewStyle().MaxWidth(model.width).Render(rendered)
}
