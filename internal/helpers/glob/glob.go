// Package glob implements the wildcard matching used for cache key patterns:
// * matches any run of characters and may appear at the start, end, or
// interior of a pattern. There is no escaping and no character classes.
package glob

import (
	"strings"
)

func Match(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}

	segments := strings.Split(pattern, "*")

	first, last := segments[0], segments[len(segments)-1]
	if len(s) < len(first)+len(last) {
		return false
	}
	if !strings.HasPrefix(s, first) {
		return false
	}
	if !strings.HasSuffix(s, last) {
		return false
	}

	rest := s[len(first) : len(s)-len(last)]
	for _, seg := range segments[1 : len(segments)-1] {
		if seg == "" {
			continue
		}
		idx := strings.Index(rest, seg)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(seg):]
	}
	return true
}

// LiteralPrefix returns the fixed leading part of a pattern, usable to bound
// a key scan.
func LiteralPrefix(pattern string) string {
	idx := strings.Index(pattern, "*")
	if idx < 0 {
		return pattern
	}
	return pattern[:idx]
}
