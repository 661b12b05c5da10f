// Package poller turns periodic snapshots of external state into events.
// A Source fetches one owner's state; the Poller diffs it against in-memory
// cursors and routes only what changed.
package poller

import (
	"context"

	"github.com/colebrumley/areamgr/internal/rule"
)

// Source fetches external state for one provider.
type Source interface {
	// Provider is the action provider whose rules this source serves.
	Provider() string
	// Poll fetches ownerID's current state. rules are the owner's enabled
	// rules for this provider, so the source can limit what it fetches.
	Poll(ctx context.Context, ownerID string, rules []*rule.Rule) ([]Observation, error)
}

// Observation is one poll target's current state.
type Observation struct {
	// Kind is the action kind events from this target carry.
	Kind string
	// Target identifies what was polled, e.g. "recently_played" or a URL.
	Target string

	// Set selects a set cursor (Items) instead of a scalar one (Value).
	Set bool

	// Value is the scalar state, such as a snapshot id or a count. Empty
	// means the target reported nothing.
	Value string
	// Payload is the event payload when Value changes.
	Payload map[string]any

	// Items are the set members, newest first.
	Items []Item
}

// Item is one member of a set observation.
type Item struct {
	ID      string
	Payload map[string]any
	// Load builds the payload lazily, only for items that are new. It is
	// used when Payload is nil.
	Load func(ctx context.Context) (map[string]any, error)
}

func (it Item) payload(ctx context.Context) (map[string]any, error) {
	if it.Payload != nil || it.Load == nil {
		return it.Payload, nil
	}
	return it.Load(ctx)
}

// Scalar builds a scalar observation.
func Scalar(kind, target, value string, payload map[string]any) Observation {
	return Observation{Kind: kind, Target: target, Value: value, Payload: payload}
}

// Set builds a set observation.
func Set(kind, target string, items []Item) Observation {
	return Observation{Kind: kind, Target: target, Set: true, Items: items}
}
