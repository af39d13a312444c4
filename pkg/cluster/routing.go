package cluster

import (
	"sort"
	"sync"
	"time"

	"github.com/marmos91/clustergate/internal/logger"
)

// Binding is a snapshot of one routing table entry.
type Binding struct {
	Address Address   `json:"address"`
	ConnID  uint64    `json:"conn_id"`
	BoundAt time.Time `json:"bound_at"`
}

type routingEntry struct {
	conn    Connection
	boundAt time.Time
}

// RoutingTable maps cluster addresses to live connections.
//
// Thread safety: all methods are safe for concurrent use.
type RoutingTable struct {
	mu      sync.RWMutex
	entries map[Address]routingEntry
}

// NewRoutingTable creates an empty table.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{entries: make(map[Address]routingEntry)}
}

// Bind maps addr to conn. A binding held by another connection is replaced.
func (t *RoutingTable) Bind(addr Address, conn Connection) error {
	if !conn.Alive() {
		return ErrConnectionClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Teardown marks the connection closed before it unbinds, so a close
	// racing with the check above is seen here or undone by Unbind.
	if !conn.Alive() {
		return ErrConnectionClosed
	}

	if prev, ok := t.entries[addr]; ok && prev.conn.ID() != conn.ID() {
		logger.Debug("Replacing routing entry",
			logger.KeyAddress, addr.String(),
			"previous_conn_id", prev.conn.ID(),
			"previous_alive", prev.conn.Alive(),
			logger.KeyConnID, conn.ID())
	}
	t.entries[addr] = routingEntry{conn: conn, boundAt: time.Now()}
	return nil
}

// Unbind removes every entry held by conn and returns how many were removed.
func (t *RoutingTable) Unbind(conn Connection) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for addr, e := range t.entries {
		if e.conn.ID() == conn.ID() {
			delete(t.entries, addr)
			removed++
		}
	}
	return removed
}

// Lookup returns the connection bound to addr.
func (t *RoutingTable) Lookup(addr Address) (Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[addr]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// List returns all bindings sorted by address.
func (t *RoutingTable) List() []Binding {
	t.mu.RLock()
	out := make([]Binding, 0, len(t.entries))
	for addr, e := range t.entries {
		out = append(out, Binding{Address: addr, ConnID: e.conn.ID(), BoundAt: e.boundAt})
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.String() < out[j].Address.String()
	})
	return out
}

// Len returns the number of bindings.
func (t *RoutingTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
