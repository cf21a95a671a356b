package room

import (
	"sync"
	"time"
)

// Binding associates a live connection with its room and member identity.
// Every authorization decision resolves through the table; client-supplied
// room or member ids are never trusted.
type Binding struct {
	RoomCode    string
	MemberID    string
	DisplayName string
	JoinedAt    time.Time
	LastPingAt  time.Time
}

// BindingTable maps connection ids to at most one binding each.
type BindingTable struct {
	mu     sync.RWMutex
	byConn map[string]Binding
}

// NewBindingTable creates an empty binding table.
func NewBindingTable() *BindingTable {
	return &BindingTable{byConn: make(map[string]Binding)}
}

// Bind establishes the mapping for a connection, replacing any prior binding.
// A connection holds at most one binding at a time.
func (t *BindingTable) Bind(connID string, b Binding) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byConn[connID] = b
}

// Lookup resolves a connection's binding.
func (t *BindingTable) Lookup(connID string) (Binding, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.byConn[connID]
	return b, ok
}

// Unbind removes a connection's binding, returning what was bound.
func (t *BindingTable) Unbind(connID string) (Binding, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.byConn[connID]
	if ok {
		delete(t.byConn, connID)
	}
	return b, ok
}

// Touch updates the heartbeat timestamp for a connection. The heartbeat is
// an observability signal only; a silent connection is never evicted on it,
// removal stays transport-disconnect driven.
func (t *BindingTable) Touch(connID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.byConn[connID]; ok {
		b.LastPingAt = now
		t.byConn[connID] = b
	}
}

// Count returns the number of bound connections.
func (t *BindingTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byConn)
}
