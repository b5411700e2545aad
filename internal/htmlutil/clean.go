package htmlutil

import (
	"strings"

	"github.com/k3a/html2text"
)

// ToText converts HTML to plain text using a proper HTML parser.
// Handles entities, strips tags, and preserves readable text.
func ToText(s string) string {
	return html2text.HTML2Text(s)
}

// CleanField returns a free-text cell as a single trimmed line. Cells that
// look like markup (or carry entities) are run through ToText first.
func CleanField(s string) string {
	if strings.ContainsAny(s, "<&") {
		s = ToText(s)
	}
	return strings.Join(strings.Fields(s), " ")
}
