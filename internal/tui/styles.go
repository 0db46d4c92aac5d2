package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type Theme string

const (
	ThemeDefault      Theme = "default"
	ThemeHighContrast Theme = "high-contrast"
)

// BaseColors defines global UI colors.
type BaseColors struct {
	Background string
	Foreground string
	Muted      string
	Accent     string
	Border     string
}

// MessageColors defines colors for message rendering state.
type MessageColors struct {
	Own     string
	Pending string
	Failed  string
	Deleted string
	Edited  string
}

// ChromeColors defines non-content UI colors.
type ChromeColors struct {
	Header       string
	Footer       string
	SelectedItem string
	UnreadBadge  string
}

// Palette holds the style tokens for one theme.
type Palette struct {
	Base    BaseColors
	Message MessageColors
	Chrome  ChromeColors
}

var palettes = map[Theme]Palette{
	ThemeDefault: {
		Base: BaseColors{
			Background: "235",
			Foreground: "252",
			Muted:      "243",
			Accent:     "75",
			Border:     "240",
		},
		Message: MessageColors{
			Own:     "157",
			Pending: "243",
			Failed:  "203",
			Deleted: "240",
			Edited:  "222",
		},
		Chrome: ChromeColors{
			Header:       "238",
			Footer:       "238",
			SelectedItem: "63",
			UnreadBadge:  "208",
		},
	},
	ThemeHighContrast: {
		Base: BaseColors{
			Background: "0",
			Foreground: "15",
			Muted:      "250",
			Accent:     "51",
			Border:     "15",
		},
		Message: MessageColors{
			Own:     "46",
			Pending: "250",
			Failed:  "196",
			Deleted: "244",
			Edited:  "226",
		},
		Chrome: ChromeColors{
			Header:       "8",
			Footer:       "8",
			SelectedItem: "21",
			UnreadBadge:  "202",
		},
	},
}

func themePalette(theme Theme) Palette {
	if p, ok := palettes[theme]; ok {
		return p
	}
	return palettes[ThemeDefault]
}

func (p Palette) mutedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(p.Base.Muted))
}

func (p Palette) accentStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(p.Base.Accent))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func truncateVis(s string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 1 {
		return string(runes[:width])
	}
	return string(runes[:width-1]) + "…"
}

// wrapLines splits line into chunks of at most width runes, breaking on
// spaces where possible.
func wrapLines(line string, width int) []string {
	if width <= 0 {
		return []string{""}
	}
	runes := []rune(line)
	if len(runes) <= width {
		return []string{line}
	}

	var out []string
	for len(runes) > width {
		cut := width
		for i := width; i > width/2; i-- {
			if runes[i-1] == ' ' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimRight(string(runes[:cut]), " "))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
