package tui

import (
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/manifoldchat/manifold/internal/msg"
)

type sidebarState struct {
	items  []msg.Conversation
	cursor int
	offset int
	err    string
}

func (s *sidebarState) setItems(items []msg.Conversation) {
	s.items = items
	s.err = ""
	if s.cursor >= len(items) {
		s.cursor = maxInt(0, len(items)-1)
	}
}

func (s *sidebarState) titleFor(conversationID string) string {
	for _, item := range s.items {
		if item.ID == conversationID {
			return item.Title
		}
	}
	return conversationID
}

func (m *Model) handleSidebarKey(key tea.KeyMsg) tea.Cmd {
	s := &m.sidebar
	switch key.String() {
	case "j", "down":
		if s.cursor < len(s.items)-1 {
			s.cursor++
		}
	case "k", "up":
		if s.cursor > 0 {
			s.cursor--
		}
	case "g":
		s.cursor = 0
	case "G":
		s.cursor = maxInt(0, len(s.items)-1)
	case "enter":
		if s.cursor < len(s.items) {
			m.openConversation(s.items[s.cursor].ID)
		}
	}
	return nil
}

func (m *Model) openConversation(conversationID string) {
	m.controller.Switch(conversationID)
	m.feed = feedState{followTail: true}
	m.focus = paneFeed
}

func (m *Model) renderSidebar(p Palette, width, height int) string {
	s := &m.sidebar

	var lines []string
	if s.err != "" {
		lines = append(lines, p.mutedStyle().Render(truncateVis(s.err, width-2)))
	}
	if len(s.items) == 0 && s.err == "" {
		lines = append(lines, p.mutedStyle().Render("no conversations"))
	}

	visible := maxInt(1, height)
	if s.cursor < s.offset {
		s.offset = s.cursor
	}
	if s.cursor >= s.offset+visible {
		s.offset = s.cursor - visible + 1
	}

	active := m.controller.Snapshot().ConversationID
	end := minInt(len(s.items), s.offset+visible)
	for i := s.offset; i < end; i++ {
		item := s.items[i]
		label := truncateVis(item.Title, maxInt(4, width-10))
		when := relativeTime(item.LastActivity, time.Now())

		line := label
		pad := width - 2 - lipgloss.Width(label) - lipgloss.Width(when)
		if pad > 0 {
			line += strings.Repeat(" ", pad) + p.mutedStyle().Render(when)
		}

		style := lipgloss.NewStyle().Padding(0, 1).Width(width)
		if i == s.cursor && m.focus == paneSidebar {
			style = style.Background(lipgloss.Color(p.Chrome.SelectedItem))
		} else if item.ID == active {
			style = style.Foreground(lipgloss.Color(p.Base.Accent))
		}
		lines = append(lines, style.Render(line))
	}

	body := strings.Join(lines, "\n")
	return lipgloss.NewStyle().
		Width(width).
		Height(height).
		BorderStyle(lipgloss.NormalBorder()).
		BorderRight(true).
		BorderForeground(lipgloss.Color(p.Base.Border)).
		Render(body)
}

// relativeTime renders an activity timestamp the way the sidebar shows it.
func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return strconv.Itoa(int(d/time.Minute)) + "m"
	case d < 24*time.Hour:
		return strconv.Itoa(int(d/time.Hour)) + "h"
	default:
		return strconv.Itoa(int(d/(24*time.Hour))) + "d"
	}
}
