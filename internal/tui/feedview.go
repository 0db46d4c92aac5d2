package tui

import (
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/manifoldchat/manifold/internal/feed"
	"github.com/manifoldchat/manifold/internal/msg"
)

// defaultScrollThreshold applies when no threshold is configured.
const defaultScrollThreshold = 5

type feedState struct {
	rows       []feedRow
	totalLines int

	cursor     int
	topLine    int
	followTail bool

	expanded    map[string]bool
	visibleKeys map[string]struct{}
}

// feedRow is one rendered message: a header line plus wrapped body lines.
type feedRow struct {
	key        string
	message    msg.Message
	lines      []string
	start      int
	isReply    bool
	replyCount int
}

func (m *Model) handleFeedKey(key tea.KeyMsg) tea.Cmd {
	f := &m.feed
	switch key.String() {
	case "j", "down":
		m.moveFeedCursor(1)
	case "k", "up":
		m.moveFeedCursor(-1)
	case "pgdown", "ctrl+d":
		m.moveFeedCursor(5)
	case "pgup", "ctrl+u":
		m.moveFeedCursor(-5)
	case "g":
		f.cursor = 0
		f.topLine = 0
		f.followTail = false
		m.controller.SetScrollState(false, true)
		m.controller.NotifyScrollProximity()
	case "G":
		f.cursor = maxInt(0, len(f.rows)-1)
		f.followTail = true
		m.controller.SetScrollState(true, false)
	case "enter":
		if row, ok := f.selected(); ok {
			parent := row.key
			if row.isReply {
				parent = row.message.ParentID
			}
			m.compose.openReply(parent)
		}
	case "o":
		if row, ok := f.selected(); ok && row.replyCount > 0 {
			if f.expanded == nil {
				f.expanded = make(map[string]bool)
			}
			f.expanded[row.key] = !f.expanded[row.key]
		}
	case "n":
		m.compose.openSend()
	case "e":
		if row, ok := f.selected(); ok {
			m.compose.openEdit(row.key, row.message.Body)
		}
	case "d":
		if row, ok := f.selected(); ok {
			if err := m.controller.RequestDelete(row.key); err != nil {
				m.setToast(err.Error())
			}
		}
	case "x":
		if row, ok := f.selected(); ok && row.message.Deleted {
			m.controller.ToggleRevealDeleted(row.key)
		}
	}
	m.syncFeedViewport()
	return nil
}

func (f *feedState) selected() (feedRow, bool) {
	if f.cursor < 0 || f.cursor >= len(f.rows) {
		return feedRow{}, false
	}
	return f.rows[f.cursor], true
}

func (m *Model) moveFeedCursor(delta int) {
	f := &m.feed
	f.cursor = minInt(maxInt(f.cursor+delta, 0), maxInt(0, len(f.rows)-1))
	f.followTail = f.cursor >= len(f.rows)-1

	nearBottom := f.followTail
	m.controller.SetScrollState(nearBottom, delta < 0)
	if delta < 0 && f.cursor <= m.cfg.ScrollThresholdRows {
		m.controller.NotifyScrollProximity()
	}
}

// syncFeedViewport rebuilds row layout from the current snapshot, applies
// pending scroll hints, and reports viewport visibility to the controller.
func (m *Model) syncFeedViewport() {
	if m.width == 0 || m.height == 0 {
		return
	}
	f := &m.feed
	snap := m.controller.Snapshot()

	width := maxInt(10, m.width-m.sidebarWidth()-2)
	f.rows, f.totalLines = m.buildFeedRows(snap, width)

	if key, ok := m.controller.ConsumeFirstUnread(); ok {
		if idx := rowIndex(f.rows, key); idx >= 0 {
			f.cursor = idx
			f.followTail = false
		}
	}
	if m.controller.ConsumeAutoScroll() && f.followTail {
		f.cursor = maxInt(0, len(f.rows)-1)
	}
	f.cursor = minInt(f.cursor, maxInt(0, len(f.rows)-1))

	viewHeight := m.feedViewHeight()
	f.topLine = clampTopLine(f.rows, f.cursor, f.topLine, viewHeight, f.totalLines)
	m.reportVisibility(viewHeight)
}

func (m *Model) feedViewHeight() int {
	// Header, footer, and the compose line when open.
	h := m.height - 2
	if m.compose.active() {
		h--
	}
	return maxInt(1, h)
}

// clampTopLine keeps the cursor's row fully on screen where possible.
func clampTopLine(rows []feedRow, cursor, topLine, viewHeight, totalLines int) int {
	if len(rows) == 0 {
		return 0
	}
	row := rows[minInt(cursor, len(rows)-1)]
	if row.start < topLine {
		topLine = row.start
	}
	rowEnd := row.start + len(row.lines)
	if rowEnd > topLine+viewHeight {
		topLine = rowEnd - viewHeight
	}
	return minInt(maxInt(0, topLine), maxInt(0, totalLines-viewHeight))
}

// reportVisibility tells the controller which rows are on screen and by how
// much, and retracts rows that scrolled away.
func (m *Model) reportVisibility(viewHeight int) {
	f := &m.feed
	current := make(map[string]struct{}, len(f.rows))
	for _, row := range f.rows {
		coverage := rowCoverage(row.start, len(row.lines), f.topLine, viewHeight)
		if coverage > 0 {
			current[row.key] = struct{}{}
			m.controller.NotifyVisible(row.key, coverage)
		}
	}
	for key := range f.visibleKeys {
		if _, ok := current[key]; !ok {
			m.controller.NotifyHidden(key)
		}
	}
	f.visibleKeys = current
}

// rowCoverage is the fraction of a row's lines inside the viewport.
func rowCoverage(start, height, top, viewHeight int) float64 {
	if height <= 0 {
		return 0
	}
	lo := maxInt(start, top)
	hi := minInt(start+height, top+viewHeight)
	if hi <= lo {
		return 0
	}
	return float64(hi-lo) / float64(height)
}

func rowIndex(rows []feedRow, key string) int {
	for i, row := range rows {
		if row.key == key {
			return i
		}
	}
	return -1
}

func (m *Model) buildFeedRows(snap feed.Snapshot, width int) ([]feedRow, int) {
	p := themePalette(m.theme)
	rows := make([]feedRow, 0, len(snap.Main))
	line := 0

	if snap.IsLoadingMore {
		// Rendered as a banner, not a row; it still occupies a line.
		line++
	}

	for _, message := range snap.Main {
		thread := snap.ThreadsByParent[message.LocalKey]
		row := m.renderRow(p, message, width, false, thread.Count())
		row.start = line
		line += len(row.lines)
		rows = append(rows, row)

		if m.feed.expanded[message.LocalKey] {
			for _, reply := range thread.Replies {
				replyRow := m.renderRow(p, reply, width-2, true, 0)
				replyRow.start = line
				line += len(replyRow.lines)
				rows = append(rows, replyRow)
			}
		}
	}
	return rows, line
}

func (m *Model) renderRow(p Palette, message msg.Message, width int, isReply bool, replyCount int) feedRow {
	identity := msg.Resolve(message.SenderID, message.SenderName, m.cfg.Aliases[message.SenderID])
	label := identity.Label
	labelColor := identity.Color
	if message.FromMe {
		label = m.cfg.SelfName
		labelColor = lipgloss.Color(p.Message.Own)
	}

	header := lipgloss.NewStyle().Foreground(labelColor).Bold(true).Render(label)
	if m.cfg.ShowTimestamps {
		header += "  " + p.mutedStyle().Render(message.Timestamp.Local().Format("15:04"))
	}
	switch message.State {
	case msg.StatePending:
		header += "  " + lipgloss.NewStyle().Foreground(lipgloss.Color(p.Message.Pending)).Render("…sending")
	case msg.StateFailed:
		header += "  " + lipgloss.NewStyle().Foreground(lipgloss.Color(p.Message.Failed)).Render("✗ failed")
	}
	if message.Edited {
		header += "  " + lipgloss.NewStyle().Foreground(lipgloss.Color(p.Message.Edited)).Render("(edited)")
	}
	if replyCount > 0 {
		header += "  " + p.accentStyle().Render("↳ "+strconv.Itoa(replyCount)+" replies")
	}

	body := message.Body
	bodyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(p.Base.Foreground))
	if message.Deleted {
		if m.controller.RevealedDeleted(message.LocalKey) {
			bodyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(p.Message.Deleted)).Strikethrough(true)
		} else {
			body = "[message deleted]"
			bodyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(p.Message.Deleted))
		}
	}

	indent := ""
	if isReply {
		indent = "  "
	}

	lines := []string{indent + header}
	if m.cfg.CompactMode {
		lines = []string{indent + header + "  " + bodyStyle.Render(truncateVis(body, maxInt(8, width-lipgloss.Width(header)-4)))}
	} else {
		for _, wrapped := range wrapLines(body, maxInt(8, width-len(indent)-2)) {
			lines = append(lines, indent+"  "+bodyStyle.Render(wrapped))
		}
		if message.Attachments != "" && !message.Deleted {
			lines = append(lines, indent+"  "+p.mutedStyle().Render("[attachment]"))
		}
	}

	return feedRow{
		key:        message.LocalKey,
		message:    message,
		lines:      lines,
		isReply:    isReply,
		replyCount: replyCount,
	}
}

func (m *Model) renderFeed(p Palette, width, height int) string {
	f := &m.feed
	snap := m.controller.Snapshot()

	if snap.ConversationID == "" {
		return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center,
			p.mutedStyle().Render("select a conversation"))
	}
	if snap.IsLoadingInitial {
		return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center,
			p.mutedStyle().Render("loading…"))
	}

	var all []string
	if snap.IsLoadingMore {
		all = append(all, p.mutedStyle().Render("fetching older messages…"))
	}

	for i, row := range f.rows {
		for j, text := range row.lines {
			if i == f.cursor && j == 0 && m.focus == paneFeed {
				text = lipgloss.NewStyle().Background(lipgloss.Color(p.Chrome.SelectedItem)).Render(text)
			}
			all = append(all, text)
		}
	}

	top := minInt(f.topLine, maxInt(0, len(all)-1))
	end := minInt(len(all), top+height)
	view := strings.Join(all[top:end], "\n")
	return lipgloss.NewStyle().Width(width).Height(height).Padding(0, 1).Render(view)
}
