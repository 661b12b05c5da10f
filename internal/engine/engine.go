package engine

import (
	"context"
	"log/slog"
)

// DefaultMaxConcurrent bounds parallel dispatches per event.
const DefaultMaxConcurrent = 10

// Engine wires a Matcher to a Dispatcher. It is the Handler every event
// source feeds.
type Engine struct {
	matcher       *Matcher
	dispatcher    *Dispatcher
	logger        *slog.Logger
	maxConcurrent int
}

// New creates an engine. maxConcurrent <= 0 uses DefaultMaxConcurrent.
func New(matcher *Matcher, dispatcher *Dispatcher, logger *slog.Logger, maxConcurrent int) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Engine{
		matcher:       matcher,
		dispatcher:    dispatcher,
		logger:        logger,
		maxConcurrent: maxConcurrent,
	}
}

// Handle matches ev and dispatches every matching rule.
func (e *Engine) Handle(ctx context.Context, ev Event) []Outcome {
	rules, err := e.matcher.Match(ctx, ev)
	if err != nil {
		e.logger.Error("matching event", "provider", ev.Provider, "kind", ev.Kind, "error", err)
		return nil
	}
	if len(rules) == 0 {
		e.logger.Debug("no rules matched", "provider", ev.Provider, "kind", ev.Kind, "owner", ev.OwnerScope)
		return nil
	}
	e.logger.Debug("rules matched", "provider", ev.Provider, "kind", ev.Kind, "count", len(rules))
	return e.dispatcher.DispatchAll(ctx, rules, ev.Payload, e.maxConcurrent)
}

// Dispatcher exposes the engine's dispatcher for manual runs.
func (e *Engine) Dispatcher() *Dispatcher {
	return e.dispatcher
}
