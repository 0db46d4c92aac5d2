package logging

import (
	"strings"
	"unicode/utf8"
)

// maxPreviewLen caps message-body previews emitted into log fields.
const maxPreviewLen = 80

// Preview returns a single-line, length-capped rendition of a message body
// suitable for log fields. Full bodies never go to the log output.
func Preview(body string) string {
	flat := strings.Join(strings.Fields(body), " ")
	if len(flat) <= maxPreviewLen {
		return flat
	}
	cut := maxPreviewLen
	for cut > 0 && !utf8.RuneStart(flat[cut]) {
		cut--
	}
	return flat[:cut] + "…"
}
