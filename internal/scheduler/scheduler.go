// Package scheduler fires timer rules on their recurrence using robfig/cron.
// Each enabled timer rule owns exactly one cron entry.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/colebrumley/areamgr/internal/engine"
	"github.com/colebrumley/areamgr/internal/rule"
	"github.com/robfig/cron/v3"
)

type entry struct {
	id   cron.EntryID
	rule *rule.Rule
	rec  Recurrence
}

// Scheduler owns the cron entries of timer rules.
type Scheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	entries  map[string]entry
	handler  engine.Handler
	logger   *slog.Logger
	location *time.Location
	now      func() time.Time
	ctx      context.Context
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocation sets the zone for rules that do not name one.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithClock overrides time.Now for firing timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a stopped scheduler that feeds firings to handler.
func New(handler engine.Handler, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		entries:  make(map[string]entry),
		handler:  handler,
		logger:   logger,
		location: time.UTC,
		now:      time.Now,
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{logger: logger}
	s.cron = cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.DelayIfStillRunning(cl)),
	)
	return s
}

// Start begins firing entries. Firings run under ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Check validates r's recurrence without scheduling anything.
func (s *Scheduler) Check(r *rule.Rule) error {
	_, err := Parse(r, s.location)
	return err
}

// Schedule adds r's entry, replacing any existing one. r must be an enabled
// timer rule with a valid recurrence.
func (s *Scheduler) Schedule(r *rule.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !r.Scheduled() {
		return engine.ValidationErrorf("rule %q is not an enabled timer rule", r.DisplayName())
	}
	s.cancelLocked(r.ID)
	return s.scheduleLocked(r)
}

// Cancel removes ruleID's entry. Cancelling an unscheduled id is a no-op. A
// firing already in flight is allowed to finish.
func (s *Scheduler) Cancel(ruleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(ruleID)
}

// Update cancels ruleID's entry and reschedules it if r is still an enabled
// timer rule, as one atomic step.
func (s *Scheduler) Update(r *rule.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(r.ID)
	if !r.Scheduled() {
		return nil
	}
	return s.scheduleLocked(r)
}

// StopAll cancels every entry and stops the cron runner. The returned
// context is done once running firings complete.
func (s *Scheduler) StopAll() context.Context {
	s.mu.Lock()
	for id := range s.entries {
		s.cancelLocked(id)
	}
	s.mu.Unlock()
	return s.cron.Stop()
}

// Has reports whether ruleID has a live entry.
func (s *Scheduler) Has(ruleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[ruleID]
	return ok
}

// Len returns the number of live entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Next returns ruleID's next firing time.
func (s *Scheduler) Next(ruleID string) (time.Time, bool) {
	s.mu.Lock()
	e, ok := s.entries[ruleID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	next := s.cron.Entry(e.id).Next
	return next, !next.IsZero()
}

// Fire runs ruleID's firing immediately, as if its entry had triggered.
func (s *Scheduler) Fire(ctx context.Context, ruleID string) ([]engine.Outcome, error) {
	s.mu.Lock()
	e, ok := s.entries[ruleID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("rule %s is not scheduled", ruleID)
	}
	return s.fire(ctx, e.rule, e.rec), nil
}

func (s *Scheduler) scheduleLocked(r *rule.Rule) error {
	rec, err := Parse(r, s.location)
	if err != nil {
		s.logger.Error("rule not scheduled", "rule", r.DisplayName(), "error", err)
		return err
	}

	snapshot := r.Clone()
	id, err := s.cron.AddFunc(rec.Spec(), func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		s.fire(ctx, snapshot, rec)
	})
	if err != nil {
		s.logger.Error("rule not scheduled", "rule", r.DisplayName(), "spec", rec.Spec(), "error", err)
		return engine.ValidationErrorf("rule %q: %w", r.DisplayName(), err)
	}

	s.entries[r.ID] = entry{id: id, rule: snapshot, rec: rec}
	s.logger.Debug("rule scheduled", "rule", r.DisplayName(), "recurrence", rec.String())
	return nil
}

func (s *Scheduler) cancelLocked(ruleID string) {
	e, ok := s.entries[ruleID]
	if !ok {
		return
	}
	s.cron.Remove(e.id)
	delete(s.entries, ruleID)
}

func (s *Scheduler) fire(ctx context.Context, r *rule.Rule, rec Recurrence) []engine.Outcome {
	now := s.now()
	payload := map[string]any{
		"timer": map[string]any{
			"triggeredAt": now.In(rec.location()).Format(time.RFC3339),
			"recurrence":  rec.String(),
			"ruleId":      r.ID,
			"ruleName":    r.DisplayName(),
		},
	}
	s.logger.Debug("timer fired", "rule", r.DisplayName(), "kind", r.Action.Kind)
	return s.handler.Handle(ctx, engine.Event{
		Provider:   rule.TimerProvider,
		Kind:       r.Action.Kind,
		Payload:    payload,
		ObservedAt: now,
	})
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
