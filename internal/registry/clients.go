package registry

import "sync"

// ClientCache holds one authenticated client per owner. Adapters embed one
// so concurrent dispatches for different owners never share client state.
type ClientCache[T any] struct {
	mu      sync.RWMutex
	clients map[string]T
}

// Get returns ownerID's client.
func (c *ClientCache[T]) Get(ownerID string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	client, ok := c.clients[ownerID]
	return client, ok
}

// Put stores ownerID's client, replacing any previous one.
func (c *ClientCache[T]) Put(ownerID string, client T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clients == nil {
		c.clients = make(map[string]T)
	}
	c.clients[ownerID] = client
}

// Has reports whether ownerID has a cached client.
func (c *ClientCache[T]) Has(ownerID string) bool {
	_, ok := c.Get(ownerID)
	return ok
}

// Forget drops ownerID's client, e.g. after the provider rejects its token.
func (c *ClientCache[T]) Forget(ownerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, ownerID)
}
