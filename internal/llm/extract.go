package llm

import (
	"regexp"
	"strings"
)

var fencedRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSON pulls the first JSON document out of a model response,
// preferring a fenced block over a raw scan.
func ExtractJSON(content string) string {
	for _, m := range fencedRe.FindAllStringSubmatch(content, -1) {
		candidate := strings.TrimSpace(m[1])
		if strings.HasPrefix(candidate, "{") || strings.HasPrefix(candidate, "[") {
			return candidate
		}
	}
	return firstBalanced(strings.TrimSpace(content))
}

// firstBalanced returns the first brace-balanced object or bracket-
// balanced array found in s. When the text runs out before the closer,
// the unbalanced tail is returned for a repair pass to finish.
func firstBalanced(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}
