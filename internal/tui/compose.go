package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type composeMode int

const (
	composeNone composeMode = iota
	composeSend
	composeReply
	composeEdit
)

type composeState struct {
	mode      composeMode
	input     string
	targetKey string // reply parent or edit target
	err       string
}

func (c *composeState) active() bool {
	return c.mode != composeNone
}

func (c *composeState) openSend() {
	*c = composeState{mode: composeSend}
}

func (c *composeState) openReply(parentKey string) {
	*c = composeState{mode: composeReply, targetKey: parentKey}
}

func (c *composeState) openEdit(targetKey, currentBody string) {
	*c = composeState{mode: composeEdit, targetKey: targetKey, input: currentBody}
}

func (c *composeState) close() {
	*c = composeState{}
}

func (m *Model) handleComposeKey(key tea.KeyMsg) tea.Cmd {
	c := &m.compose
	switch key.String() {
	case "esc":
		c.close()
		return nil
	case "enter":
		m.submitCompose()
		return nil
	case "backspace", "ctrl+h":
		if len(c.input) > 0 {
			runes := []rune(c.input)
			c.input = string(runes[:len(runes)-1])
		}
		c.err = ""
		return nil
	}

	if key.Type == tea.KeyRunes && len(key.Runes) > 0 {
		c.input += string(key.Runes)
		c.err = ""
	}
	if key.Type == tea.KeySpace {
		c.input += " "
	}
	return nil
}

func (m *Model) submitCompose() {
	c := &m.compose
	text := strings.TrimSpace(c.input)
	if text == "" {
		c.err = "message is empty"
		return
	}

	var err error
	switch c.mode {
	case composeSend:
		_, err = m.controller.SubmitMessage(text)
	case composeReply:
		_, err = m.controller.SubmitReply(text, c.targetKey)
	case composeEdit:
		err = m.controller.RequestEdit(c.targetKey, text)
	}
	if err != nil {
		c.err = err.Error()
		return
	}

	c.close()
	m.feed.followTail = true
	m.syncFeedViewport()
}

func (m *Model) renderComposeLine(p Palette) string {
	c := &m.compose
	if !c.active() {
		return ""
	}

	prompt := "send"
	switch c.mode {
	case composeReply:
		prompt = "reply"
	case composeEdit:
		prompt = "edit"
	}

	line := prompt + "> " + c.input + "_"
	if c.err != "" {
		line += "  " + lipgloss.NewStyle().Foreground(lipgloss.Color(p.Message.Failed)).Render(c.err)
	}
	return lipgloss.NewStyle().
		Background(lipgloss.Color(p.Chrome.Header)).
		Foreground(lipgloss.Color(p.Base.Foreground)).
		Padding(0, 1).
		Width(m.width).
		Render(truncateVis(line, maxInt(0, m.width-2)))
}
