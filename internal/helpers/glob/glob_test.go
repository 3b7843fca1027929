package glob

import (
	"testing"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"inventory:items", "inventory:items", true},
		{"inventory:items", "inventory:other", false},
		{"inventory:*", "inventory:items", true},
		{"inventory:*", "products:items", false},
		{"*:items", "inventory:items", true},
		{"*:items", "inventory:counts", false},
		{"inventory:*:eu", "inventory:items:eu", true},
		{"inventory:*:eu", "inventory:items:us", false},
		{"*", "anything", true},
		{"a*b", "ab", true},
		{"a*b", "axxb", true},
		{"a*b", "b", false},
		{"ab*ba", "aba", false},
		{"trends:*:2026:*", "trends:color:2026:q3", true},
	}

	for _, tc := range cases {
		if got := Match(tc.pattern, tc.s); got != tc.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tc.pattern, tc.s, got, tc.want)
		}
	}
}

func TestLiteralPrefix(t *testing.T) {
	if got := LiteralPrefix("inventory:*"); got != "inventory:" {
		t.Errorf("expected inventory:, got %q", got)
	}
	if got := LiteralPrefix("exact"); got != "exact" {
		t.Errorf("expected exact, got %q", got)
	}
	if got := LiteralPrefix("*:items"); got != "" {
		t.Errorf("expected empty prefix, got %q", got)
	}
}
