// Package tui renders the conversation feed and routes every user action
// through the feed controller; it owns no message state of its own.
package tui

import (
	"context"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/manifoldchat/manifold/internal/backend"
	"github.com/manifoldchat/manifold/internal/feed"
	"github.com/manifoldchat/manifold/internal/logging"
	"github.com/manifoldchat/manifold/internal/msg"
)

const refreshInterval = 250 * time.Millisecond

type pane int

const (
	paneSidebar pane = iota
	paneFeed
)

// Config carries presentation preferences into the model.
type Config struct {
	Theme          string
	ShowTimestamps bool
	CompactMode    bool
	SelfName       string
	Aliases        map[string]string

	// ScrollThresholdRows is how close the cursor must get to the oldest
	// loaded row before older history is requested.
	ScrollThresholdRows int
}

// Model is the bubbletea root model.
type Model struct {
	cfg        Config
	theme      Theme
	controller *feed.Controller
	client     backend.Client
	log        zerolog.Logger

	width  int
	height int
	focus  pane

	sidebar sidebarState
	feed    feedState
	compose composeState

	events       <-chan backend.Event
	cancelEvents func()

	toast      string
	toastUntil time.Time
	showHelp   bool
}

type tickMsg time.Time

type backendEventMsg struct {
	ev backend.Event
	ok bool
}

type conversationsMsg struct {
	items []msg.Conversation
	err   error
}

// NewModel wires the model to an already-connected backend client.
func NewModel(cfg Config, controller *feed.Controller, client backend.Client) *Model {
	theme := Theme(strings.TrimSpace(cfg.Theme))
	if _, ok := palettes[theme]; !ok {
		theme = ThemeDefault
	}
	if cfg.ScrollThresholdRows <= 0 {
		cfg.ScrollThresholdRows = defaultScrollThreshold
	}
	events, cancel := client.Subscribe(backend.SubscribeFilter{})
	return &Model{
		cfg:          cfg,
		theme:        theme,
		controller:   controller,
		client:       client,
		log:          logging.Component("tui"),
		focus:        paneSidebar,
		events:       events,
		cancelEvents: cancel,
	}
}

// Run starts the fullscreen program and blocks until it exits.
func Run(cfg Config, controller *feed.Controller, client backend.Client) error {
	model := NewModel(cfg, controller, client)
	defer model.Close()

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithReportFocus())
	_, err := program.Run()
	return err
}

func (m *Model) Close() {
	if m.cancelEvents != nil {
		m.cancelEvents()
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.loadConversationsCmd(), m.waitEventCmd(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) loadConversationsCmd() tea.Cmd {
	return func() tea.Msg {
		items, err := m.client.ListConversations(context.Background())
		return conversationsMsg{items: items, err: err}
	}
}

func (m *Model) waitEventCmd() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		return backendEventMsg{ev: ev, ok: ok}
	}
}

func (m *Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := message.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.syncFeedViewport()
		return m, nil

	case tea.FocusMsg:
		m.controller.SetFocused(true)
		return m, nil

	case tea.BlurMsg:
		m.controller.SetFocused(false)
		return m, nil

	case tickMsg:
		m.pullNotices()
		m.syncFeedViewport()
		return m, tickCmd()

	case backendEventMsg:
		if !typed.ok {
			m.setToast("connection to backend lost")
			return m, nil
		}
		m.controller.HandleEvent(typed.ev)
		m.syncFeedViewport()
		return m, m.waitEventCmd()

	case conversationsMsg:
		if typed.err != nil {
			m.log.Warn().Err(typed.err).Msg("conversation listing failed")
			m.sidebar.err = "could not load conversations"
			return m, nil
		}
		m.sidebar.setItems(typed.items)
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(typed)
	}
	return m, nil
}

func (m *Model) handleKey(key tea.KeyMsg) tea.Cmd {
	if m.compose.active() {
		return m.handleComposeKey(key)
	}

	switch key.String() {
	case "q", "ctrl+c":
		return tea.Quit
	case "?":
		m.showHelp = !m.showHelp
		return nil
	case "tab":
		if m.focus == paneSidebar {
			m.focus = paneFeed
		} else {
			m.focus = paneSidebar
		}
		return nil
	case "R":
		return m.loadConversationsCmd()
	}

	if m.focus == paneSidebar {
		return m.handleSidebarKey(key)
	}
	return m.handleFeedKey(key)
}

func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "loading…"
	}
	palette := themePalette(m.theme)

	header := m.renderHeader(palette)
	footer := m.renderFooter(palette)
	composeLine := m.renderComposeLine(palette)

	bodyHeight := m.height - lipgloss.Height(header) - lipgloss.Height(footer)
	if composeLine != "" {
		bodyHeight -= lipgloss.Height(composeLine)
	}
	bodyHeight = maxInt(bodyHeight, 0)

	sidebarWidth := m.sidebarWidth()
	sidebar := m.renderSidebar(palette, sidebarWidth, bodyHeight)
	feedView := m.renderFeed(palette, m.width-sidebarWidth, bodyHeight)
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, feedView)

	sections := []string{header, body}
	if composeLine != "" {
		sections = append(sections, composeLine)
	}
	sections = append(sections, footer)

	if m.showHelp {
		return m.renderHelpOverlay(palette)
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) sidebarWidth() int {
	if m.cfg.CompactMode {
		return minInt(22, m.width/4)
	}
	return minInt(30, m.width/3)
}

func (m *Model) renderHeader(p Palette) string {
	snap := m.controller.Snapshot()
	title := "manifold"
	if snap.ConversationID != "" {
		title += "  " + m.sidebar.titleFor(snap.ConversationID)
	}
	right := ""
	if snap.UnreadCount > 0 {
		right = lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Chrome.UnreadBadge)).
			Render("● " + strconv.Itoa(snap.UnreadCount) + " unread")
	}
	if len(snap.SyncStatus) > 0 {
		right += "  " + p.mutedStyle().Render("syncing")
	}

	line := title
	pad := m.width - lipgloss.Width(title) - lipgloss.Width(right) - 2
	if pad > 0 {
		line += strings.Repeat(" ", pad) + right
	}
	return lipgloss.NewStyle().
		Background(lipgloss.Color(p.Chrome.Header)).
		Foreground(lipgloss.Color(p.Base.Foreground)).
		Padding(0, 1).
		Width(m.width).
		Render(truncateVis(line, maxInt(0, m.width-2)))
}

func (m *Model) renderFooter(p Palette) string {
	hints := "[tab] pane  [enter] open/reply  [n] new  [e] edit  [d] delete  [x] reveal  [?] help  [q] quit"
	if m.toast != "" && time.Now().Before(m.toastUntil) {
		hints = m.toast
	}
	return lipgloss.NewStyle().
		Background(lipgloss.Color(p.Chrome.Footer)).
		Foreground(lipgloss.Color(p.Base.Muted)).
		Padding(0, 1).
		Width(m.width).
		Render(truncateVis(hints, maxInt(0, m.width-2)))
}

func (m *Model) renderHelpOverlay(p Palette) string {
	lines := []string{
		"manifold keys",
		"",
		"tab         switch between conversations and feed",
		"j/k, ↓/↑    move selection",
		"g/G         jump to oldest loaded / newest",
		"enter       open conversation; in feed: reply to selection",
		"n           compose a new message",
		"e           edit the selected (own, confirmed) message",
		"d           delete the selected message",
		"x           toggle a deleted message's text",
		"R           reload the conversation list",
		"q           quit",
	}
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(p.Base.Accent)).
		Padding(1, 2).
		Render(strings.Join(lines, "\n"))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, panel)
}

func (m *Model) pullNotices() {
	if notice := m.controller.ConsumeNotice(); notice != "" {
		m.setToast(notice)
	}
}

func (m *Model) setToast(text string) {
	m.toast = strings.TrimSpace(text)
	m.toastUntil = time.Now().Add(3 * time.Second)
}
