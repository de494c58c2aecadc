package util

import (
	"strings"
	"unicode/utf8"
)

// TruncatedMarker is appended to content cut by TruncateContent.
const TruncatedMarker = "... [truncated]"

// TruncateContent keeps the first maxRunes runes of s and appends TruncatedMarker.
// Content at or under the limit is returned unchanged. maxRunes <= 0 disables the limit.
func TruncateContent(s string, maxRunes int) (string, bool) {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:maxRunes]) + TruncatedMarker, true
}

// TruncateString truncates s to maxLen runes and appends "..." if truncated.
// If preserveWords is true, truncates at the last space before maxLen when possible.
func TruncateString(s string, maxLen int, preserveWords bool) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."[:maxLen]
	}
	cut := maxLen - 3
	if preserveWords {
		if idx := lastSpaceBefore(runes, cut); idx > 0 {
			cut = idx
		}
	}
	return string(runes[:cut]) + "..."
}

func lastSpaceBefore(runes []rune, pos int) int {
	if pos > len(runes) {
		pos = len(runes)
	}
	for i := pos - 1; i >= 0; i-- {
		if runes[i] == ' ' || runes[i] == '\t' || runes[i] == '\n' {
			return i
		}
	}
	return -1
}

// LeadingSentences returns whole sentences from the start of s totalling at most
// maxLen runes. When the first sentence alone is longer, it is cut on a word boundary.
func LeadingSentences(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	var b strings.Builder
	n := 0
	start := 0
	for i, r := range s {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		sentence := s[start : i+1]
		l := utf8.RuneCountInString(sentence)
		if n+l > maxLen {
			break
		}
		b.WriteString(sentence)
		n += l
		start = i + 1
	}
	if b.Len() == 0 {
		return TruncateString(s, maxLen, true)
	}
	return strings.TrimSpace(b.String())
}

// FirstNonEmpty returns the first argument that is not blank.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Dedupe returns items with duplicates and blanks removed, order preserved.
func Dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}
