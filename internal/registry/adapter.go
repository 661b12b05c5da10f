// Package registry holds the provider capability contract and the lookup
// table that maps a provider name to its adapter.
package registry

import (
	"context"
	"fmt"
)

// Credentials is an owner's stored secret material for one provider. The
// shape is entirely the adapter's concern.
type Credentials map[string]string

// ServiceAdapter is implemented once per external provider.
type ServiceAdapter interface {
	// Name is the provider name rules refer to.
	Name() string
	DescribeActions() []ActionDescriptor
	DescribeReactions() []ReactionDescriptor
	// Authenticate prepares an authenticated client for ownerID.
	Authenticate(ctx context.Context, ownerID string, creds Credentials) error
	IsAuthenticated(ownerID string) bool
	// ValidateReaction checks reaction parameters before execution.
	ValidateReaction(kind string, params map[string]any) error
	// ExecuteReaction performs the reaction for ownerID. params are already
	// rendered; payload is the raw event payload.
	ExecuteReaction(ctx context.Context, kind, ownerID string, params, payload map[string]any) error
}

// MatchMode is how a filter value is compared with a payload field.
type MatchMode string

const (
	// MatchEquals compares normalized scalar values exactly.
	MatchEquals MatchMode = "equals"
	// MatchAnyOf succeeds when any delimited filter token is in the payload list.
	MatchAnyOf MatchMode = "any_of"
	// MatchContains is a case-insensitive substring test.
	MatchContains MatchMode = "contains"
)

// FilterField declares one filterable key of an action.
type FilterField struct {
	// Name is the key used in a rule's action filter.
	Name string
	// Path is the dotted payload path compared against. Defaults to Name.
	Path string
	Mode MatchMode
	// FoldCase makes MatchEquals ignore case, for values the upstream
	// service itself treats case-insensitively.
	FoldCase bool
}

// PayloadPath returns the payload path for the field.
func (f FilterField) PayloadPath() string {
	if f.Path != "" {
		return f.Path
	}
	return f.Name
}

// ActionDescriptor describes a trigger kind a provider can raise.
type ActionDescriptor struct {
	Kind        string
	Description string
	Fields      []FilterField
	// Config lists filter keys that configure the trigger (schedule, poll
	// target) rather than filter payloads.
	Config []string
}

// Field returns the declared filter field with the given name.
func (a ActionDescriptor) Field(name string) (FilterField, bool) {
	for _, f := range a.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FilterField{}, false
}

// IsConfig reports whether key configures the trigger.
func (a ActionDescriptor) IsConfig(key string) bool {
	for _, c := range a.Config {
		if c == key {
			return true
		}
	}
	return false
}

// ReactionDescriptor describes a reaction kind a provider can execute.
type ReactionDescriptor struct {
	Kind        string
	Description string
	Required    []string
}

// RequireParams is a helper for ValidateReaction implementations: it checks
// the kind is declared and every required parameter is present and non-empty.
func RequireParams(reactions []ReactionDescriptor, kind string, params map[string]any) error {
	for _, r := range reactions {
		if r.Kind != kind {
			continue
		}
		for _, name := range r.Required {
			v, ok := params[name]
			if !ok || v == nil {
				return fmt.Errorf("missing required parameter %q", name)
			}
			if s, isString := v.(string); isString && s == "" {
				return fmt.Errorf("parameter %q is empty", name)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown reaction kind %q", kind)
}
