package rule

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Repository is the durable store of rules. Implementations must be safe for
// concurrent use and must apply Update patches atomically per rule.
type Repository interface {
	// List returns all rules, or only ownerID's rules when ownerID is non-empty.
	List(ctx context.Context, ownerID string) ([]*Rule, error)
	// Get returns the rule with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*Rule, error)
	// Save creates or fully replaces a rule.
	Save(ctx context.Context, r *Rule) error
	// Update applies a partial update and returns the resulting rule.
	Update(ctx context.Context, id string, p Patch) (*Rule, error)
	// Delete removes a rule, reporting whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
}

// MemoryRepository is an in-process Repository. Callers always receive
// copies, so mutating a returned rule never changes stored state.
type MemoryRepository struct {
	mu    sync.RWMutex
	rules map[string]*Rule
	now   func() time.Time
}

// NewMemoryRepository creates an empty repository seeded with rules.
func NewMemoryRepository(rules ...*Rule) *MemoryRepository {
	m := &MemoryRepository{
		rules: make(map[string]*Rule),
		now:   time.Now,
	}
	for _, r := range rules {
		m.rules[r.ID] = r.Clone()
	}
	return m
}

func (m *MemoryRepository) List(_ context.Context, ownerID string) ([]*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Rule, 0, len(m.rules))
	for _, r := range m.rules {
		if ownerID != "" && r.OwnerID != ownerID {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryRepository) Save(_ context.Context, r *Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := r.Clone()
	now := m.now()
	if old, ok := m.rules[c.ID]; ok {
		c.Inherit(old)
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.rules[c.ID] = c
	return nil
}

func (m *MemoryRepository) Update(_ context.Context, id string, p Patch) (*Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Apply(r)
	if p.Enabled != nil {
		r.UpdatedAt = m.now()
	}
	return r.Clone(), nil
}

func (m *MemoryRepository) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[id]; !ok {
		return false, nil
	}
	delete(m.rules, id)
	return true, nil
}
