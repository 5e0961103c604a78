package highlight

import (
	"fmt"
	"strings"
)

const maxExcerptLen = 500

// MessageLink builds the canonical jump link for a guild message.
func MessageLink(guildID, channelID, messageID int64) string {
	return fmt.Sprintf("https://discord.com/channels/%d/%d/%d", guildID, channelID, messageID)
}

// FormatExcerpt prepares the source content for the notification embed:
// occurrences of the keyword are bolded and the result is capped at a
// readable length, cutting around the first occurrence when needed.
func FormatExcerpt(content, keyword string) string {
	content = strings.TrimSpace(content)
	if len(content) > maxExcerptLen {
		content = clipAroundKeyword(content, keyword)
	}
	return boldKeyword(content, keyword)
}

func clipAroundKeyword(content, keyword string) string {
	idx := strings.Index(strings.ToLower(content), strings.ToLower(keyword))
	if idx < 0 {
		idx = 0
	}

	start := idx - maxExcerptLen/2
	if start < 0 {
		start = 0
	}
	end := start + maxExcerptLen
	if end > len(content) {
		end = len(content)
		start = end - maxExcerptLen
	}

	// Snap to rune boundaries.
	for start > 0 && !isRuneStart(content[start]) {
		start--
	}
	for end < len(content) && !isRuneStart(content[end]) {
		end++
	}

	out := content[start:end]
	if start > 0 {
		out = "…" + out
	}
	if end < len(content) {
		out += "…"
	}
	return out
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func boldKeyword(content, keyword string) string {
	if keyword == "" {
		return content
	}
	lc := strings.ToLower(content)
	lk := strings.ToLower(keyword)

	var b strings.Builder
	for i := 0; ; {
		j := strings.Index(lc[i:], lk)
		if j < 0 {
			b.WriteString(content[i:])
			return b.String()
		}
		start := i + j
		end := start + len(lk)
		if boundaryBefore(lc, start) && boundaryAfter(lc, end) {
			b.WriteString(content[i:start])
			b.WriteString("**")
			b.WriteString(content[start:end])
			b.WriteString("**")
			i = end
		} else {
			b.WriteString(content[i : start+1])
			i = start + 1
		}
	}
}
