package poller

import "sync"

type cursorKey struct {
	owner  string
	target string
}

// cursor is the last state seen for one (owner, target).
type cursor struct {
	scalar string
	set    *boundedSet
}

// boundedSet remembers at most max ids, evicting the oldest first.
type boundedSet struct {
	max     int
	order   []string
	members map[string]struct{}
}

func newBoundedSet(limit int) *boundedSet {
	return &boundedSet{max: limit, members: make(map[string]struct{})}
}

func (s *boundedSet) has(id string) bool {
	_, ok := s.members[id]
	return ok
}

func (s *boundedSet) add(id string) {
	if s.has(id) {
		return
	}
	s.members[id] = struct{}{}
	s.order = append(s.order, id)
	for len(s.order) > s.max {
		delete(s.members, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *boundedSet) len() int {
	return len(s.order)
}

// cursors is the poller's in-memory state. It is never read from durable
// storage, so a restart is a cold start.
type cursors struct {
	mu         sync.Mutex
	maxTracked int
	m          map[cursorKey]*cursor
}

func newCursors(maxTracked int) *cursors {
	return &cursors{maxTracked: maxTracked, m: make(map[cursorKey]*cursor)}
}

// diffScalar records value and reports whether it is a change. The first
// value seen seeds the cursor and is not a change.
func (c *cursors) diffScalar(key cursorKey, value string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if value == "" {
		return false
	}
	cur, ok := c.m[key]
	if !ok || cur.scalar == "" {
		c.m[key] = &cursor{scalar: value}
		return false
	}
	changed := cur.scalar != value
	cur.scalar = value
	return changed
}

// diffSet returns the items not seen before, oldest first, without
// recording them; call commit once an item has been routed. The first
// observation seeds the cursor and returns nothing.
func (c *cursors) diffSet(key cursorKey, items []Item) []Item {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.m[key]
	seeding := !ok || cur.set == nil
	if seeding {
		cur = &cursor{set: newBoundedSet(c.maxTracked)}
		c.m[key] = cur
	}

	var fresh []Item
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		if it.ID == "" || cur.set.has(it.ID) {
			continue
		}
		if seeding {
			cur.set.add(it.ID)
			continue
		}
		fresh = append(fresh, it)
	}
	return fresh
}

// commit records id as seen for key.
func (c *cursors) commit(key cursorKey, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.m[key]; ok && cur.set != nil {
		cur.set.add(id)
	}
}

// retain drops cursors of owners not in active so a returning owner cold
// starts.
func (c *cursors) retain(active map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.m {
		if !active[key.owner] {
			delete(c.m, key)
		}
	}
}

func (c *cursors) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
