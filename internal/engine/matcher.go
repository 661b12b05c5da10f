package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/colebrumley/areamgr/internal/registry"
	"github.com/colebrumley/areamgr/internal/rule"
	"github.com/colebrumley/areamgr/internal/template"
)

// Matcher selects the enabled rules whose action an event satisfies.
type Matcher struct {
	repo     rule.Repository
	registry *registry.Registry
}

// NewMatcher creates a matcher over repo. reg supplies per-field comparison
// modes; it may be nil, in which case every filter key is an equality test.
func NewMatcher(repo rule.Repository, reg *registry.Registry) *Matcher {
	return &Matcher{repo: repo, registry: reg}
}

// Match returns the enabled rules with action (ev.Provider, ev.Kind) whose
// filter accepts ev.Payload. No match is an empty slice.
func (m *Matcher) Match(ctx context.Context, ev Event) ([]*rule.Rule, error) {
	if ev.Provider == "" || ev.Kind == "" {
		return nil, fmt.Errorf("event provider and kind are required")
	}

	rules, err := m.repo.List(ctx, ev.OwnerScope)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}

	desc, _ := m.describe(ev.Provider, ev.Kind)

	matched := []*rule.Rule{}
	for _, r := range rules {
		if !r.Enabled || r.Action.Provider != ev.Provider || r.Action.Kind != ev.Kind {
			continue
		}
		if ev.OwnerScope != "" && r.OwnerID != ev.OwnerScope {
			continue
		}
		if !Accepts(desc, r.Action.Filter, ev.Payload) {
			continue
		}
		matched = append(matched, r)
	}
	return matched, nil
}

func (m *Matcher) describe(provider, kind string) (registry.ActionDescriptor, bool) {
	if m.registry == nil {
		return registry.ActionDescriptor{}, false
	}
	return m.registry.Action(provider, kind)
}

// Accepts evaluates filter against payload. Every non-config key must name a
// field present in payload (closed world) that satisfies the key's declared
// comparison mode. Undeclared keys compare for equality at the path named by
// the key itself.
func Accepts(desc registry.ActionDescriptor, filter, payload map[string]any) bool {
	for key, want := range filter {
		if desc.IsConfig(key) {
			continue
		}
		field, ok := desc.Field(key)
		if !ok {
			field = registry.FilterField{Name: key, Mode: registry.MatchEquals}
		}
		got, ok := template.Lookup(payload, field.PayloadPath())
		if !ok {
			return false
		}
		if !compare(field, want, got) {
			return false
		}
	}
	return true
}

func compare(field registry.FilterField, want, got any) bool {
	values := flatten(got)
	switch field.Mode {
	case registry.MatchAnyOf:
		for _, token := range tokens(want) {
			for _, v := range values {
				if strings.EqualFold(token, v) {
					return true
				}
			}
		}
		return false
	case registry.MatchContains:
		needle := strings.ToLower(template.Format(want))
		for _, v := range values {
			if strings.Contains(strings.ToLower(v), needle) {
				return true
			}
		}
		return false
	default:
		target := template.Format(want)
		for _, v := range values {
			if target == v || (field.FoldCase && strings.EqualFold(target, v)) {
				return true
			}
		}
		return false
	}
}

// tokens splits a filter value into its list members. Strings are comma
// separated; lists contribute one token per element.
func tokens(v any) []string {
	var raw []string
	switch t := v.(type) {
	case string:
		raw = strings.Split(t, ",")
	case []string:
		raw = t
	case []any:
		for _, e := range t {
			raw = append(raw, template.Format(e))
		}
	default:
		raw = []string{template.Format(v)}
	}
	out := raw[:0:0]
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// flatten turns a payload field into the strings it is compared as. A scalar
// is a one-element list.
func flatten(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, template.Format(e))
		}
		return out
	default:
		return []string{template.Format(v)}
	}
}
