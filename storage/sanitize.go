package storage

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxNameLength caps every sanitized path component.
	DefaultMaxNameLength = 50
	// DefaultShortUIDLength is how many trailing UID characters name a level.
	DefaultShortUIDLength = 12

	// UnnamedToken replaces names that are absent or sanitize to nothing.
	UnnamedToken = "unnamed"
	// NoIDToken replaces an absent patient ID.
	NoIDToken = "no_id"
)

var illegalChars = regexp.MustCompile(`[\\/*?:"<>|^]`)

// replaceIllegal substitutes "_" for filesystem-reserved characters, the
// DICOM component separator "^" and spaces.
func replaceIllegal(raw string) string {
	return strings.ReplaceAll(illegalChars.ReplaceAllString(raw, "_"), " ", "_")
}

// truncateRunes keeps at most n runes of s.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// SanitizeName turns an arbitrary metadata value into a single safe path
// component of at most maxLen runes (DefaultMaxNameLength when maxLen <= 0).
// Empty input, or input that is empty once trimmed, yields UnnamedToken.
func SanitizeName(raw string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxNameLength
	}
	if raw == "" {
		return UnnamedToken
	}

	cleaned := truncateRunes(strings.TrimSpace(replaceIllegal(raw)), maxLen)
	if cleaned == "" {
		return UnnamedToken
	}
	return cleaned
}

// ShortenUID returns the last n characters of uid, or uid unchanged when it
// is not longer than n (DefaultShortUIDLength when n <= 0).
func ShortenUID(uid string, n int) string {
	if n <= 0 {
		n = DefaultShortUIDLength
	}
	if len(uid) <= n {
		return uid
	}
	return uid[len(uid)-n:]
}
