package conn

import "sync"

// Registry tracks live connections and fires open/close callbacks in
// registration order, under an RWMutex-guarded map.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection

	onOpen  []func(*Connection)
	onClose []func(*Connection)
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{connections: make(map[string]*Connection)}
}

// OnOpen registers a callback fired when a connection is added.
func (r *Registry) OnOpen(cb func(*Connection)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onOpen = append(r.onOpen, cb)
}

// OnClose registers a callback fired when a connection is removed.
func (r *Registry) OnClose(cb func(*Connection)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onClose = append(r.onClose, cb)
}

// Add registers c and fires onOpen callbacks in registration order. A
// panicking callback is recovered so later callbacks still run (spec
// §4.3 tie-break, applied uniformly to every lifecycle callback set).
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	r.connections[c.ID] = c
	callbacks := append([]func(*Connection){}, r.onOpen...)
	r.mu.Unlock()

	for _, cb := range callbacks {
		invokeSafely(cb, c)
	}
}

// Remove unregisters c and fires onClose callbacks. It does not close
// the connection itself — the caller owns that decision.
func (r *Registry) Remove(c *Connection) {
	r.mu.Lock()
	if _, ok := r.connections[c.ID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.connections, c.ID)
	callbacks := append([]func(*Connection){}, r.onClose...)
	r.mu.Unlock()

	for _, cb := range callbacks {
		invokeSafely(cb, c)
	}
}

// Get returns the connection by id, if live.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connections[id]
	return c, ok
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// CloseAll closes every live connection with the given code/reason,
// used on server shutdown.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.RLock()
	all := make([]*Connection, 0, len(r.connections))
	for _, c := range r.connections {
		all = append(all, c)
	}
	r.mu.RUnlock()

	for _, c := range all {
		c.Close(code, reason)
	}
}

func invokeSafely(cb func(*Connection), c *Connection) {
	defer func() { _ = recover() }()
	cb(c)
}
