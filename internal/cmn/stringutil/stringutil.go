package stringutil

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// CSI sequences (colors, cursor movement) and OSC sequences (titles,
	// hyperlinks), plus stray single-character escapes.
	ansiCSIRe    = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	ansiOSCRe    = regexp.MustCompile(`\x1b\][^\x07\x1b]*(\x07|\x1b\\)`)
	ansiSingleRe = regexp.MustCompile(`\x1b[@-_]`)
)

// StripANSI removes ANSI CSI, OSC and single-character escape sequences
// from s. Carriage returns are dropped as well so that progress-bar style
// output collapses to its final content.
func StripANSI(s string) string {
	s = ansiOSCRe.ReplaceAllString(s, "")
	s = ansiCSIRe.ReplaceAllString(s, "")
	s = ansiSingleRe.ReplaceAllString(s, "")
	return strings.ReplaceAll(s, "\r", "")
}

// Truncate shortens s to max runes, appending an ellipsis marker when
// truncation occurred.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// TruncateBytes shortens s to at most max bytes without splitting runes.
func TruncateBytes(s string, max int) string {
	if max < 0 {
		max = 0
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// FirstLine returns the first line of s without the trailing newline.
func FirstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
