// Package endpoint tracks the per-connection admission state of clients.
//
// An Endpoint is created lazily for a connection, marked authenticated once
// admission succeeds and removed when the connection closes or admission
// fails. Removal logs out the backend session held by the endpoint.
package endpoint

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/clustergate/internal/logger"
	"github.com/marmos91/clustergate/internal/telemetry"
	"github.com/marmos91/clustergate/pkg/cluster"
	"github.com/marmos91/clustergate/pkg/security"
)

// DefaultStripes is the default number of lock stripes.
const DefaultStripes = 64

// logoutTimeout bounds a session logout performed during removal.
const logoutTimeout = 5 * time.Second

// Endpoint is a snapshot of a client's admission state.
type Endpoint struct {
	ConnID          uint64           `json:"conn_id"`
	RemoteAddr      cluster.Address  `json:"remote_addr"`
	Authenticated   bool             `json:"authenticated"`
	Principal       string           `json:"principal,omitempty"`
	Session         security.Session `json:"-"`
	CreatedAt       time.Time        `json:"created_at"`
	AuthenticatedAt time.Time        `json:"authenticated_at,omitzero"`
}

type stripe struct {
	mu      sync.Mutex
	entries map[uint64]*Endpoint
}

// Registry holds one Endpoint per connection id.
//
// Entries are spread over independently locked stripes: operations on the
// same id are mutually exclusive, operations on different ids mostly are not.
// Backend session logout always happens outside the stripe lock.
//
// Thread safety: all methods are safe for concurrent use.
type Registry struct {
	stripes []stripe
}

// NewRegistry creates a registry with n lock stripes (DefaultStripes if n <= 0).
func NewRegistry(n int) *Registry {
	if n <= 0 {
		n = DefaultStripes
	}
	r := &Registry{stripes: make([]stripe, n)}
	for i := range r.stripes {
		r.stripes[i].entries = make(map[uint64]*Endpoint)
	}
	return r
}

func (r *Registry) stripeFor(id uint64) *stripe {
	return &r.stripes[id%uint64(len(r.stripes))]
}

// GetOrCreate returns the endpoint for conn, creating an unauthenticated one
// when none exists. created reports whether a new entry was made.
func (r *Registry) GetOrCreate(conn cluster.Connection) (ep Endpoint, created bool) {
	s := r.stripeFor(conn.ID())
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[conn.ID()]
	if !ok {
		e = &Endpoint{
			ConnID:     conn.ID(),
			RemoteAddr: conn.RemoteAddr(),
			CreatedAt:  time.Now(),
		}
		s.entries[conn.ID()] = e
		created = true
	}
	return *e, created
}

// MarkAuthenticated records a successful admission for conn, storing sess
// (which may be nil on the group path). A previous, different session is
// logged out.
func (r *Registry) MarkAuthenticated(conn cluster.Connection, sess security.Session, principal string) Endpoint {
	now := time.Now()

	s := r.stripeFor(conn.ID())
	s.mu.Lock()
	e, ok := s.entries[conn.ID()]
	if !ok {
		e = &Endpoint{
			ConnID:     conn.ID(),
			RemoteAddr: conn.RemoteAddr(),
			CreatedAt:  now,
		}
		s.entries[conn.ID()] = e
	}
	previous := e.Session
	e.Authenticated = true
	e.Session = sess
	e.Principal = principal
	e.AuthenticatedAt = now
	snapshot := *e
	s.mu.Unlock()

	if previous != nil && previous != sess {
		logoutSession(conn.ID(), previous)
	}
	return snapshot
}

// Remove deletes the endpoint for id and logs out its session. Removing a
// missing id is a no-op that returns false.
func (r *Registry) Remove(id uint64) bool {
	s := r.stripeFor(id)
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	if e.Session != nil {
		logoutSession(id, e.Session)
	}
	return true
}

// Revoke removes the endpoint of conn and closes the connection. It is the
// reconciliation path for binds that failed after admission.
func (r *Registry) Revoke(ctx context.Context, conn cluster.Connection, reason error) {
	removed := r.Remove(conn.ID())
	telemetry.AddEvent(ctx, "client.revoked", telemetry.ConnID(conn.ID()))
	if err := conn.Close(); err != nil {
		logger.DebugCtx(ctx, "Error closing revoked connection", logger.KeyConnID, conn.ID(), logger.KeyError, err)
	}
	logger.WarnCtx(ctx, "Client revoked",
		logger.KeyConnID, conn.ID(),
		logger.KeyClientAddr, conn.RemoteAddr().String(),
		"endpoint_removed", removed,
		logger.KeyError, reason)
}

// Get returns a copy of the endpoint for id.
func (r *Registry) Get(id uint64) (Endpoint, bool) {
	s := r.stripeFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Endpoint{}, false
	}
	return *e, true
}

// IsAuthenticated reports whether id has an authenticated endpoint.
func (r *Registry) IsAuthenticated(id uint64) bool {
	e, ok := r.Get(id)
	return ok && e.Authenticated
}

// List returns copies of all endpoints ordered by connection id.
func (r *Registry) List() []Endpoint {
	var out []Endpoint
	for i := range r.stripes {
		s := &r.stripes[i]
		s.mu.Lock()
		for _, e := range s.entries {
			out = append(out, *e)
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnID < out[j].ConnID })
	return out
}

// Count returns the number of endpoints.
func (r *Registry) Count() int {
	n := 0
	for i := range r.stripes {
		s := &r.stripes[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// AuthenticatedCount returns the number of authenticated endpoints.
func (r *Registry) AuthenticatedCount() int {
	n := 0
	for i := range r.stripes {
		s := &r.stripes[i]
		s.mu.Lock()
		for _, e := range s.entries {
			if e.Authenticated {
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

// Clear removes every endpoint, logging out their sessions. Used at shutdown.
func (r *Registry) Clear() int {
	var ids []uint64
	for i := range r.stripes {
		s := &r.stripes[i]
		s.mu.Lock()
		for id := range s.entries {
			ids = append(ids, id)
		}
		s.mu.Unlock()
	}

	n := 0
	for _, id := range ids {
		if r.Remove(id) {
			n++
		}
	}
	return n
}

func logoutSession(id uint64, sess security.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()

	if err := sess.Logout(ctx); err != nil {
		logger.Warn("Session logout failed", logger.KeyConnID, id, logger.KeyError, err)
	}
}
