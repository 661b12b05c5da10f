// Package engine is the rule-matching and execution core: it selects the
// rules an event satisfies and runs their reactions through provider
// adapters, keeping every rule's failure contained to that rule.
package engine

import (
	"context"
	"time"
)

// Event is a transient trigger occurrence. Scheduler firings, poller diffs
// and normalized push notifications all take this shape.
type Event struct {
	Provider string
	Kind     string
	// OwnerScope restricts matching to one owner's rules. Pollers set it
	// because what they observe belongs to a single account.
	OwnerScope string
	Payload    map[string]any
	ObservedAt time.Time
}

// Handler consumes events. *Engine is the production implementation.
type Handler interface {
	Handle(ctx context.Context, ev Event) []Outcome
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) []Outcome

func (f HandlerFunc) Handle(ctx context.Context, ev Event) []Outcome {
	return f(ctx, ev)
}

// Status is the result class of one dispatch.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusConfigError    Status = Status(KindConfig)
	StatusAuthError      Status = Status(KindAuth)
	StatusExecutionError Status = Status(KindExecution)
)

// Outcome reports one rule's dispatch.
type Outcome struct {
	RuleID    string
	RuleName  string
	OwnerID   string
	Trigger   string
	Reaction  string
	Status    Status
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// OK reports whether the reaction ran successfully.
func (o Outcome) OK() bool {
	return o.Status == StatusSuccess
}

func statusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	switch KindOf(err) {
	case KindConfig, KindValidation:
		return StatusConfigError
	case KindAuth:
		return StatusAuthError
	default:
		return StatusExecutionError
	}
}
