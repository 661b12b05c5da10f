// Package rule defines automation rules and the repository they live in.
package rule

import (
	"errors"
	"maps"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a rule does not exist
var ErrNotFound = errors.New("rule not found")

// TimerProvider is the provider name of time-based triggers.
const TimerProvider = "timer"

// Rule is a user's "when X on A, do Y on B" definition.
type Rule struct {
	ID            string         `json:"id" yaml:"id"`
	Name          string         `json:"name" yaml:"name"`
	OwnerID       string         `json:"owner_id" yaml:"owner"`
	Enabled       bool           `json:"enabled" yaml:"enabled"`
	Action        Action         `json:"action" yaml:"action"`
	Reaction      Reaction       `json:"reaction" yaml:"reaction"`
	Metadata      map[string]any `json:"metadata,omitempty" yaml:"-"`
	LastTriggered time.Time      `json:"last_triggered,omitzero" yaml:"-"`
	LastChecked   time.Time      `json:"last_checked,omitzero" yaml:"-"`
	CreatedAt     time.Time      `json:"created_at,omitzero" yaml:"-"`
	UpdatedAt     time.Time      `json:"updated_at,omitzero" yaml:"-"`
}

// Action is the trigger condition of a rule.
type Action struct {
	Provider string         `json:"provider" yaml:"provider"`
	Kind     string         `json:"kind" yaml:"kind"`
	Filter   map[string]any `json:"filter,omitempty" yaml:"filter"`
}

// Reaction is what runs when the action matches. String parameters may
// contain {{placeholders}}.
type Reaction struct {
	Provider   string         `json:"provider" yaml:"provider"`
	Kind       string         `json:"kind" yaml:"kind"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters"`
}

// IsTimer reports whether the rule is driven by the scheduler.
func (r *Rule) IsTimer() bool {
	return r.Action.Provider == TimerProvider
}

// Scheduled reports whether the rule should currently own a scheduler entry.
func (r *Rule) Scheduled() bool {
	return r.Enabled && r.IsTimer()
}

// DisplayName returns the rule name, falling back to the id.
func (r *Rule) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// Clone returns a copy that shares no maps with r.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	c := *r
	c.Action.Filter = cloneMap(r.Action.Filter)
	c.Reaction.Parameters = cloneMap(r.Reaction.Parameters)
	c.Metadata = cloneMap(r.Metadata)
	return &c
}

// Inherit copies the engine-maintained fields of prev into r where r leaves
// them empty. Used when a definition is replaced by an edited copy.
func (r *Rule) Inherit(prev *Rule) {
	r.CreatedAt = prev.CreatedAt
	if r.LastTriggered.IsZero() {
		r.LastTriggered = prev.LastTriggered
	}
	if r.LastChecked.IsZero() {
		r.LastChecked = prev.LastChecked
	}
	if r.Metadata == nil {
		r.Metadata = cloneMap(prev.Metadata)
	}
}

// NewID returns a fresh time-ordered rule identifier.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Patch is a partial update. Nil fields are left untouched. Metadata keys are
// merged into the existing metadata one by one so concurrent writers of
// different keys do not clobber each other; a nil value deletes the key.
type Patch struct {
	Enabled       *bool
	LastTriggered *time.Time
	LastChecked   *time.Time
	Metadata      map[string]any
}

// Apply mutates r according to p.
func (p Patch) Apply(r *Rule) {
	if p.Enabled != nil {
		r.Enabled = *p.Enabled
	}
	if p.LastTriggered != nil {
		r.LastTriggered = *p.LastTriggered
	}
	if p.LastChecked != nil {
		r.LastChecked = *p.LastChecked
	}
	if len(p.Metadata) > 0 {
		if r.Metadata == nil {
			r.Metadata = make(map[string]any, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			if v == nil {
				delete(r.Metadata, k)
				continue
			}
			r.Metadata[k] = v
		}
	}
}

// Bool is a convenience for building patches.
func Bool(v bool) *bool { return &v }

// Time is a convenience for building patches.
func Time(v time.Time) *time.Time { return &v }

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case map[string]string:
		return maps.Clone(t)
	default:
		return v
	}
}
