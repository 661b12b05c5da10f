package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/colebrumley/areamgr/internal/registry"
	"github.com/colebrumley/areamgr/internal/rule"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type call struct {
	kind    string
	ownerID string
	params  map[string]any
}

// fakeAdapter records executions. fail maps a reaction parameter "target" to
// the error ExecuteReaction returns for it.
type fakeAdapter struct {
	name     string
	actions  []registry.ActionDescriptor
	authErr  error
	fail     map[string]error
	panicOn  string
	needAuth bool

	mu     sync.Mutex
	authed map[string]bool
	calls  []call
	creds  []registry.Credentials
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) DescribeActions() []registry.ActionDescriptor { return f.actions }

func (f *fakeAdapter) DescribeReactions() []registry.ReactionDescriptor {
	return []registry.ReactionDescriptor{{Kind: "notify", Required: []string{"target"}}}
}

func (f *fakeAdapter) Authenticate(_ context.Context, ownerID string, creds registry.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds = append(f.creds, creds)
	if f.authErr != nil {
		return f.authErr
	}
	if f.authed == nil {
		f.authed = make(map[string]bool)
	}
	f.authed[ownerID] = true
	return nil
}

func (f *fakeAdapter) IsAuthenticated(ownerID string) bool {
	if !f.needAuth {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authed[ownerID]
}

func (f *fakeAdapter) ValidateReaction(kind string, params map[string]any) error {
	return registry.RequireParams(f.DescribeReactions(), kind, params)
}

func (f *fakeAdapter) ExecuteReaction(_ context.Context, kind, ownerID string, params, _ map[string]any) error {
	target, _ := params["target"].(string)
	if f.panicOn != "" && target == f.panicOn {
		panic("adapter blew up")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[target]; err != nil {
		return err
	}
	f.calls = append(f.calls, call{kind: kind, ownerID: ownerID, params: params})
	return nil
}

func (f *fakeAdapter) executed() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type fakeCreds struct {
	creds registry.Credentials
	err   error
}

func (f fakeCreds) Credentials(context.Context, string, string) (registry.Credentials, error) {
	return f.creds, f.err
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (f *fakeRecorder) Record(_ context.Context, o Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, o)
}

// fakeScheduler mirrors scheduler semantics with a set of live entries.
type fakeScheduler struct {
	mu       sync.Mutex
	entries  map[string]bool
	checkErr error
}

func (f *fakeScheduler) Check(*rule.Rule) error { return f.checkErr }

func (f *fakeScheduler) Update(r *rule.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries == nil {
		f.entries = make(map[string]bool)
	}
	delete(f.entries, r.ID)
	if !r.Scheduled() {
		return nil
	}
	if f.checkErr != nil {
		return f.checkErr
	}
	f.entries[r.ID] = true
	return nil
}

func (f *fakeScheduler) Cancel(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
}

func (f *fakeScheduler) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[id]
}

var errBoom = errors.New("boom")

func repoAction() registry.ActionDescriptor {
	return registry.ActionDescriptor{
		Kind: "issue_opened",
		Fields: []registry.FilterField{
			{Name: "repository", Path: "repository.full_name", Mode: registry.MatchEquals},
			{Name: "labels", Path: "issue.labels", Mode: registry.MatchAnyOf},
			{Name: "title", Path: "issue.title", Mode: registry.MatchContains},
		},
	}
}

func timerAction() registry.ActionDescriptor {
	return registry.ActionDescriptor{Kind: "every_day", Config: []string{"time", "timezone"}}
}

func newRule(id, owner, provider, kind string, filter map[string]any, target string) *rule.Rule {
	return &rule.Rule{
		ID:       id,
		Name:     "rule " + id,
		OwnerID:  owner,
		Enabled:  true,
		Action:   rule.Action{Provider: provider, Kind: kind, Filter: filter},
		Reaction: rule.Reaction{Provider: "chat", Kind: "notify", Parameters: map[string]any{"target": target}},
	}
}

func mustRegistry(adapters ...registry.ServiceAdapter) *registry.Registry {
	reg, err := registry.New(adapters...)
	if err != nil {
		panic(err)
	}
	return reg
}
