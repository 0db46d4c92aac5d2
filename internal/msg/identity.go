package msg

import (
	"hash/fnv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Identity is the resolved display label and color for a participant.
type Identity struct {
	Label string
	Color lipgloss.Color
}

var senderPalette = []lipgloss.Color{
	lipgloss.Color("111"),
	lipgloss.Color("157"),
	lipgloss.Color("216"),
	lipgloss.Color("36"),
	lipgloss.Color("183"),
	lipgloss.Color("230"),
	lipgloss.Color("75"),
	lipgloss.Color("210"),
}

// Resolve maps a raw participant identifier plus optional display name and
// user alias to a stable label and deterministic color. Alias wins over
// display name, display name over the raw identifier. The color depends
// only on the raw identifier so it stays stable when naming improves.
func Resolve(senderID, displayName, alias string) Identity {
	label := strings.TrimSpace(alias)
	if label == "" {
		label = strings.TrimSpace(displayName)
	}
	if label == "" {
		label = strings.TrimSpace(senderID)
	}
	return Identity{
		Label: label,
		Color: colorFor(strings.TrimSpace(senderID)),
	}
}

func colorFor(senderID string) lipgloss.Color {
	h := fnv.New32a()
	_, _ = h.Write([]byte(senderID))
	return senderPalette[h.Sum32()%uint32(len(senderPalette))]
}
