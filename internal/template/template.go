// Package template renders {{dotted.path}} placeholders in reaction
// parameters from an event payload.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/colebrumley/areamgr/internal/security"
)

var placeholder = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

var validPath = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)*$`)

// Namespaces are the payload entities a placeholder may start with.
var Namespaces = map[string]bool{
	"timer":        true,
	"event":        true,
	"issue":        true,
	"pull_request": true,
	"repository":   true,
	"comment":      true,
	"sender":       true,
	"push":         true,
	"message":      true,
	"email":        true,
	"track":        true,
	"playlist":     true,
	"artist":       true,
	"library":      true,
	"page":         true,
	"item":         true,
}

// Render replaces every {{path}} in tmpl with the value found in payload.
// Placeholders outside the known namespaces, paths that do not resolve, and
// malformed placeholders render as the empty string. Nothing in the template
// is evaluated.
func Render(tmpl string, payload map[string]any) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		path := placeholder.FindStringSubmatch(match)[1]
		if !validPath.MatchString(path) {
			return ""
		}
		if !Namespaces[strings.SplitN(path, ".", 2)[0]] {
			return ""
		}
		v, ok := Lookup(payload, path)
		if !ok {
			return ""
		}
		return security.SanitizeValue(Format(v))
	})
}

// RenderParameters renders every string inside params, descending into nested
// maps and lists. Non-string values are copied unchanged.
func RenderParameters(params, payload map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = renderValue(v, payload)
	}
	return out
}

func renderValue(v any, payload map[string]any) any {
	switch t := v.(type) {
	case string:
		return Render(t, payload)
	case map[string]any:
		return RenderParameters(t, payload)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = renderValue(e, payload)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, e := range t {
			out[i] = Render(e, payload)
		}
		return out
	default:
		return v
	}
}

// Lookup walks a dotted path through nested maps.
func Lookup(payload map[string]any, path string) (any, bool) {
	var cur any = payload
	for _, part := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// Format converts a payload value to its substituted text.
func Format(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []string:
		return strings.Join(t, ", ")
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = Format(e)
		}
		return strings.Join(parts, ", ")
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
