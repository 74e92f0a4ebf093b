// Package pathmatch matches repo-relative paths against glob patterns.
//
// Relative patterns are anchored at the right, like a path suffix: "Dockerfile"
// matches "Dockerfile" and "tools/Dockerfile", and "gradle/**" matches
// "gradle/wrapper/gradle-wrapper.jar" as well as "sub/gradle/x". Patterns use
// doublestar syntax, so "**" spans any number of segments.
package pathmatch

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Match reports whether rel matches pattern.
func Match(rel, pattern string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	rel = normalize(rel)
	if rel == "" {
		return false
	}
	if strings.HasPrefix(pattern, "/") {
		ok, _ := doublestar.Match(strings.TrimPrefix(pattern, "/"), rel)
		return ok
	}

	candidate := rel
	for {
		if ok, _ := doublestar.Match(pattern, candidate); ok {
			return true
		}
		idx := strings.IndexByte(candidate, '/')
		if idx < 0 {
			return false
		}
		candidate = candidate[idx+1:]
	}
}

// MatchAny reports whether rel matches any of patterns.
func MatchAny(rel string, patterns []string) bool {
	for _, p := range patterns {
		if Match(rel, p) {
			return true
		}
	}
	return false
}

// Filter returns the subset of paths matching any pattern, in order.
func Filter(paths, patterns []string) []string {
	var out []string
	for _, p := range paths {
		if MatchAny(p, patterns) {
			out = append(out, p)
		}
	}
	return out
}

// Valid reports the first malformed pattern, or "" if all are valid.
func Valid(patterns []string) string {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(strings.TrimPrefix(strings.TrimSpace(p), "/")) {
			return p
		}
	}
	return ""
}

func normalize(rel string) string {
	rel = strings.ReplaceAll(strings.TrimSpace(rel), "\\", "/")
	rel = path.Clean(rel)
	rel = strings.TrimPrefix(rel, "./")
	if rel == "." {
		return ""
	}
	return strings.TrimPrefix(rel, "/")
}
