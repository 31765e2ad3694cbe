// Package filename normalizes user-supplied names into safe display slugs.
package filename

import (
	"regexp"
	"strings"
)

// unsafeChars matches characters that are invalid in filenames on at least
// one major OS.
var unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// dashRuns collapses consecutive dashes and underscores.
var dashRuns = regexp.MustCompile(`[-_]{2,}`)

// Sanitize slugs a display filename: unsafe and whitespace characters become
// dashes, runs of dashes collapse, and leading/trailing dashes and dots are
// stripped. The result is bounded to maxLen bytes; 0 picks a 120-byte
// default.
func Sanitize(name string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 120
	}

	s := strings.TrimSpace(name)
	if s == "" {
		return ""
	}

	s = unsafeChars.ReplaceAllString(s, "-")
	s = strings.Join(strings.Fields(s), "-")
	s = dashRuns.ReplaceAllString(s, "-")

	// No hidden files, no trailing dots (Windows rejects them).
	s = strings.Trim(s, "-.")

	if len(s) > maxLen {
		s = strings.TrimRight(s[:maxLen], "-.")
	}
	return s
}
