package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/colebrumley/areamgr/internal/registry"
	"github.com/colebrumley/areamgr/internal/rule"
)

// Scheduler is the part of the timer scheduler the Manager drives.
type Scheduler interface {
	// Check validates a timer rule's recurrence without scheduling it.
	Check(r *rule.Rule) error
	// Update makes the scheduler agree with r: one entry when r is an
	// enabled timer rule, none otherwise.
	Update(r *rule.Rule) error
	Cancel(ruleID string)
}

// Manager is the only writer of rule definitions. Each operation pairs the
// repository write with the matching scheduler change under one lock, so an
// enabled timer rule always has exactly one scheduler entry.
type Manager struct {
	mu         sync.Mutex
	repo       rule.Repository
	registry   *registry.Registry
	scheduler  Scheduler
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewManager creates a manager.
func NewManager(repo rule.Repository, reg *registry.Registry, sched Scheduler, dispatcher *Dispatcher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:       repo,
		registry:   reg,
		scheduler:  sched,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Validate checks r against the registry and, for timer rules, the
// scheduler's recurrence rules.
func (m *Manager) Validate(r *rule.Rule) error {
	switch {
	case r.OwnerID == "":
		return ValidationErrorf("rule %q has no owner", r.DisplayName())
	case r.Action.Provider == "" || r.Action.Kind == "":
		return ValidationErrorf("rule %q: action provider and kind are required", r.DisplayName())
	case r.Reaction.Provider == "" || r.Reaction.Kind == "":
		return ValidationErrorf("rule %q: reaction provider and kind are required", r.DisplayName())
	}

	if _, ok := m.registry.Action(r.Action.Provider, r.Action.Kind); !ok {
		return ValidationErrorf("rule %q: unknown action %s/%s", r.DisplayName(), r.Action.Provider, r.Action.Kind)
	}
	adapter, ok := m.registry.Lookup(r.Reaction.Provider)
	if !ok {
		return ValidationErrorf("rule %q: unknown reaction provider %q", r.DisplayName(), r.Reaction.Provider)
	}
	if err := adapter.ValidateReaction(r.Reaction.Kind, r.Reaction.Parameters); err != nil {
		return ValidationErrorf("rule %q: reaction %s/%s: %w", r.DisplayName(), r.Reaction.Provider, r.Reaction.Kind, err)
	}
	if r.IsTimer() && m.scheduler != nil {
		if err := m.scheduler.Check(r); err != nil {
			return withKind(err, KindValidation)
		}
	}
	return nil
}

// Create validates and stores a new rule, scheduling it if needed.
func (m *Manager) Create(ctx context.Context, r *rule.Rule) (*rule.Rule, error) {
	if r.ID == "" {
		r = r.Clone()
		r.ID = rule.NewID()
	}
	return m.put(ctx, r)
}

// Replace overwrites a rule's definition. Engine-maintained fields
// (timestamps, metadata) survive when r leaves them empty.
func (m *Manager) Replace(ctx context.Context, r *rule.Rule) (*rule.Rule, error) {
	if r.ID == "" {
		return nil, ValidationErrorf("rule %q has no id", r.DisplayName())
	}
	return m.put(ctx, r)
}

func (m *Manager) put(ctx context.Context, r *rule.Rule) (*rule.Rule, error) {
	if err := m.Validate(r); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.repo.Save(ctx, r); err != nil {
		return nil, fmt.Errorf("saving rule: %w", err)
	}
	saved, err := m.repo.Get(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("reloading rule: %w", err)
	}
	if err := m.sync(saved); err != nil {
		return saved, err
	}
	return saved, nil
}

// SetEnabled toggles a rule.
func (m *Manager) SetEnabled(ctx context.Context, id string, enabled bool) (*rule.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	updated, err := m.repo.Update(ctx, id, rule.Patch{Enabled: rule.Bool(enabled)})
	if err != nil {
		return nil, err
	}
	if err := m.sync(updated); err != nil {
		return updated, err
	}
	return updated, nil
}

// Delete removes a rule and its scheduler entry. Deleting a missing rule
// reports false.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted, err := m.repo.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if m.scheduler != nil {
		m.scheduler.Cancel(id)
	}
	return deleted, nil
}

// Sync reconciles the scheduler with every stored rule, e.g. at startup.
// Rules with invalid recurrences are logged and left unscheduled. It returns
// the number of rules now scheduled.
func (m *Manager) Sync(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rules, err := m.repo.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("listing rules: %w", err)
	}
	scheduled := 0
	for _, r := range rules {
		if err := m.sync(r); err != nil {
			continue
		}
		if r.Scheduled() {
			scheduled++
		}
	}
	return scheduled, nil
}

// sync must be called with m.mu held.
func (m *Manager) sync(r *rule.Rule) error {
	if m.scheduler == nil {
		return nil
	}
	if err := m.scheduler.Update(r); err != nil {
		m.logger.Error("rule not scheduled", "rule", r.DisplayName(), "error", err)
		return withKind(err, KindValidation)
	}
	return nil
}

// Run dispatches rule id immediately with payload, bypassing matching. The
// rule runs even when disabled.
func (m *Manager) Run(ctx context.Context, id string, payload map[string]any) (Outcome, error) {
	if m.dispatcher == nil {
		return Outcome{}, errors.New("manager has no dispatcher")
	}
	r, err := m.repo.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	return m.dispatcher.Dispatch(ctx, r, payload), nil
}

// Get returns one rule.
func (m *Manager) Get(ctx context.Context, id string) (*rule.Rule, error) {
	return m.repo.Get(ctx, id)
}

// List returns ownerID's rules, or every rule when ownerID is empty.
func (m *Manager) List(ctx context.Context, ownerID string) ([]*rule.Rule, error) {
	return m.repo.List(ctx, ownerID)
}
