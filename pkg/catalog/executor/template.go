package executor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var templateTokenPattern = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

// renderString substitutes every `{{ <path> }}` token in s with the
// dotted-path value resolved from ctx, stringified. A missing path
// resolves to empty string. When the entire string is
// a single template token, the resolved value's native type is
// preserved instead of being stringified (so numeric/bool/object
// parameters round-trip without becoming strings).
func renderString(s string, ctx map[string]interface{}) interface{} {
	if trimmed := strings.TrimSpace(s); strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") && strings.Count(trimmed, "{{") == 1 {
		path := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(trimmed, "{{"), "}}"))
		value, ok := resolveTemplatePath(path, ctx)
		if !ok {
			return ""
		}
		return value
	}

	return templateTokenPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-2])
		value, ok := resolveTemplatePath(path, ctx)
		if !ok {
			return ""
		}
		return stringify(value)
	})
}

// renderValue recursively applies renderString to every string leaf of
// v, walking maps and slices so job/step parameters templated as nested
// structures resolve throughout.
func renderValue(v interface{}, ctx map[string]interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return renderString(val, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, vv := range val {
			out[k] = renderValue(vv, ctx)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, vv := range val {
			out[i] = renderValue(vv, ctx)
		}
		return out
	default:
		return v
	}
}

// resolveTemplatePath navigates a dot-separated path through ctx.
func resolveTemplatePath(path string, ctx map[string]interface{}) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var current interface{} = ctx
	for _, part := range parts {
		part = strings.TrimSpace(part)
		switch v := current.(type) {
		case map[string]interface{}:
			val, ok := v[part]
			if !ok {
				return nil, false
			}
			current = val
		default:
			return nil, false
		}
	}
	return current, true
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
