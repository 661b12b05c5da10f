package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/colebrumley/areamgr/internal/logging"
	"github.com/colebrumley/areamgr/internal/registry"
	"github.com/colebrumley/areamgr/internal/rule"
	"github.com/colebrumley/areamgr/internal/template"
)

// DefaultTimeout bounds a single adapter call when none is configured.
const DefaultTimeout = 30 * time.Second

// CredentialSource loads an owner's stored credentials for a provider. A
// missing entry is (nil, nil); adapters that need no credentials accept that.
type CredentialSource interface {
	Credentials(ctx context.Context, ownerID, provider string) (registry.Credentials, error)
}

// Recorder receives every dispatch outcome, e.g. to persist history.
type Recorder interface {
	Record(ctx context.Context, o Outcome)
}

// Dispatcher executes a matched rule's reaction.
type Dispatcher struct {
	registry *registry.Registry
	repo     rule.Repository
	creds    CredentialSource
	recorder Recorder
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
	locks    ruleLocks
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithCredentials sets where owner credentials come from.
func WithCredentials(c CredentialSource) DispatcherOption {
	return func(d *Dispatcher) { d.creds = c }
}

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) DispatcherOption {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithTimeout sets the per-call adapter timeout.
func WithTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(reg *registry.Registry, repo rule.Repository, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		registry: reg,
		repo:     repo,
		logger:   logger,
		timeout:  DefaultTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs r's reaction with payload. Failures are reported in the
// returned Outcome, never raised: one rule's failure must not affect others.
// Calls for the same rule are serialized in arrival order.
func (d *Dispatcher) Dispatch(ctx context.Context, r *rule.Rule, payload map[string]any) Outcome {
	unlock := d.locks.lock(r.ID)
	defer unlock()

	logger := logging.WithOwner(logging.WithRule(d.logger, r.DisplayName()), r.OwnerID)
	out := Outcome{
		RuleID:    r.ID,
		RuleName:  r.Name,
		OwnerID:   r.OwnerID,
		Trigger:   r.Action.Provider + "/" + r.Action.Kind,
		Reaction:  r.Reaction.Provider + "/" + r.Reaction.Kind,
		StartedAt: d.now(),
	}

	err := d.run(ctx, r, payload)
	out.Duration = d.now().Sub(out.StartedAt)
	out.Err = attribute(err, r.ID)
	out.Status = statusOf(err)

	if err != nil {
		logger.Warn("reaction failed", "reaction", out.Reaction, "status", out.Status, "error", err)
	} else {
		logger.Info("reaction executed", "reaction", out.Reaction, "duration", out.Duration)
		if _, uerr := d.repo.Update(ctx, r.ID, rule.Patch{LastTriggered: rule.Time(out.StartedAt)}); uerr != nil {
			logger.Warn("failed to record last triggered time", "error", uerr)
		}
	}

	if d.recorder != nil {
		d.recorder.Record(ctx, out)
	}
	return out
}

func (d *Dispatcher) run(ctx context.Context, r *rule.Rule, payload map[string]any) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = ExecutionErrorf("reaction panicked: %v", p)
		}
	}()

	adapter, ok := d.registry.Lookup(r.Reaction.Provider)
	if !ok {
		return ConfigErrorf("no adapter registered for provider %q", r.Reaction.Provider)
	}
	if err := adapter.ValidateReaction(r.Reaction.Kind, r.Reaction.Parameters); err != nil {
		return &Error{Kind: KindConfig, Err: fmt.Errorf("%s/%s: %w", r.Reaction.Provider, r.Reaction.Kind, err)}
	}

	if !adapter.IsAuthenticated(r.OwnerID) {
		if err := d.authenticate(ctx, adapter, r.OwnerID); err != nil {
			return err
		}
	}

	params := template.RenderParameters(r.Reaction.Parameters, payload)

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := adapter.ExecuteReaction(callCtx, r.Reaction.Kind, r.OwnerID, params, payload); err != nil {
		return withKind(err, KindExecution)
	}
	return nil
}

func (d *Dispatcher) authenticate(ctx context.Context, adapter registry.ServiceAdapter, ownerID string) error {
	var creds registry.Credentials
	if d.creds != nil {
		c, err := d.creds.Credentials(ctx, ownerID, adapter.Name())
		if err != nil {
			return AuthErrorf("loading %s credentials for %s: %w", adapter.Name(), ownerID, err)
		}
		creds = c
	}

	authCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := adapter.Authenticate(authCtx, ownerID, creds); err != nil {
		return &Error{Kind: KindAuth, Err: fmt.Errorf("authenticating %s for %s: %w", adapter.Name(), ownerID, err)}
	}
	return nil
}

// DispatchAll dispatches every rule concurrently, at most limit at a time,
// and returns outcomes in rule order.
func (d *Dispatcher) DispatchAll(ctx context.Context, rules []*rule.Rule, payload map[string]any, limit int) []Outcome {
	if limit <= 0 {
		limit = 1
	}
	outcomes := make([]Outcome, len(rules))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, r := range rules {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			outcomes[i] = d.Dispatch(ctx, r, payload)
		}()
	}
	wg.Wait()
	return outcomes
}

// ruleLocks is a set of per-rule mutexes that are released once unused.
type ruleLocks struct {
	mu sync.Mutex
	m  map[string]*ruleLock
}

type ruleLock struct {
	mu   sync.Mutex
	refs int
}

func (l *ruleLocks) lock(id string) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*ruleLock)
	}
	rl, ok := l.m[id]
	if !ok {
		rl = &ruleLock{}
		l.m[id] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
