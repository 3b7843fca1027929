package domain

import (
	"fmt"
	"strings"
)

// ResolveValue substitutes ${name} placeholders in v against ctx. A string
// that is exactly one placeholder resolves to the raw context value, so
// non-string results (maps, numbers) survive intact; mixed strings are
// interpolated. Placeholders with no matching context entry pass through
// literally. Maps and slices are resolved recursively. ctx is never mutated
// and the input value is copied, not modified.
func ResolveValue(v any, ctx map[string]any) any {
	switch val := v.(type) {
	case string:
		return resolveString(val, ctx)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = ResolveValue(inner, ctx)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = ResolveValue(inner, ctx)
		}
		return out
	default:
		return v
	}
}

// ResolveConfig resolves every value of a step config. A nil config resolves
// to an empty map so action handlers never see nil.
func ResolveConfig(config map[string]any, ctx map[string]any) map[string]any {
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = ResolveValue(v, ctx)
	}
	return out
}

func resolveString(s string, ctx map[string]any) any {
	if name, ok := wholePlaceholder(s); ok {
		if value, exists := ctx[name]; exists {
			return value
		}
		return s
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start

		b.WriteString(rest[:start])
		name := rest[start+2 : end]
		if value, exists := ctx[name]; exists {
			b.WriteString(stringify(value))
		} else {
			b.WriteString(rest[start : end+1])
		}
		rest = rest[end+1:]
	}
	return b.String()
}

func wholePlaceholder(s string) (string, bool) {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return "", false
	}
	name := s[2 : len(s)-1]
	if strings.Contains(name, "${") || strings.Contains(name, "}") {
		return "", false
	}
	return name, true
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
