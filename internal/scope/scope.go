// Package scope validates file operations against per-task allow/deny
// glob lists. Deny always takes precedence over allow.
package scope

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Result is the outcome of checking one path.
type Result struct {
	Allowed        bool   `json:"allowed"`
	Reason         string `json:"reason"`
	MatchedPattern string `json:"matchedPattern,omitempty"`
}

// BulkResult is the outcome of checking several paths at once.
type BulkResult struct {
	Results map[string]Result `json:"results"`
	Denied  []string          `json:"denied"`
}

// Check matches path against the deny list first, then the allow list.
// Globs follow shell conventions: `**` spans any number of path segments
// (including zero) and `*` matches within a single segment. Comparisons
// are case-sensitive and use forward slashes regardless of host OS.
func Check(path string, allow, deny []string) Result {
	normalized := normalize(path)
	for _, pattern := range deny {
		if match(pattern, normalized) {
			return Result{
				Allowed:        false,
				Reason:         "matched deny pattern",
				MatchedPattern: pattern,
			}
		}
	}
	for _, pattern := range allow {
		if match(pattern, normalized) {
			return Result{
				Allowed:        true,
				Reason:         "matched allow pattern",
				MatchedPattern: pattern,
			}
		}
	}
	return Result{Allowed: false, Reason: "not in allow list"}
}

// CheckAll checks every path and collects the denied ones for convenience.
func CheckAll(paths []string, allow, deny []string) BulkResult {
	out := BulkResult{Results: make(map[string]Result, len(paths))}
	for _, p := range paths {
		r := Check(p, allow, deny)
		out.Results[p] = r
		if !r.Allowed {
			out.Denied = append(out.Denied, p)
		}
	}
	return out
}

func match(pattern, path string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	ok, err := doublestar.Match(pattern, path)
	if err != nil {
		return false
	}
	return ok
}

func normalize(path string) string {
	return strings.TrimPrefix(filepath.ToSlash(path), "./")
}
