package channel

import (
	"strings"
	"unicode/utf8"
)

// splitMessage splits msg into chunks of at most maxLen runes, cutting
// after a newline when one falls in the second half of the window.
func splitMessage(msg string, maxLen int) []string {
	if utf8.RuneCountInString(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for msg != "" {
		if utf8.RuneCountInString(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		// byte offset of the first rune past the window
		limit := 0
		for i := 0; i < maxLen; i++ {
			_, size := utf8.DecodeRuneInString(msg[limit:])
			limit += size
		}

		cut := limit
		if idx := strings.LastIndex(msg[:limit], "\n"); idx >= 0 && utf8.RuneCountInString(msg[:idx]) > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
