// Package clustertest provides test doubles for cluster collaborators.
package clustertest

import (
	"sync"
	"sync/atomic"

	"github.com/marmos91/clustergate/pkg/cluster"
	"github.com/marmos91/clustergate/pkg/engine"
)

// Conn is an in-memory cluster.Connection.
type Conn struct {
	id     uint64
	addr   cluster.Address
	closed atomic.Bool
	closes atomic.Int32
}

var _ cluster.Connection = (*Conn)(nil)

// NewConn returns an open connection with the given id and remote address.
func NewConn(id uint64, host string, port int) *Conn {
	return &Conn{id: id, addr: cluster.Address{Host: host, Port: port}}
}

func (c *Conn) ID() uint64                  { return c.id }
func (c *Conn) RemoteAddr() cluster.Address { return c.addr }
func (c *Conn) Alive() bool                 { return !c.closed.Load() }

func (c *Conn) Close() error {
	c.closes.Add(1)
	c.closed.Store(true)
	return nil
}

// Closes returns how many times Close was called.
func (c *Conn) Closes() int {
	return int(c.closes.Load())
}

// Submitter records submitted operations and optionally fails.
type Submitter struct {
	mu  sync.Mutex
	ops []engine.Operation
	Err error
}

// Submit records op unless Err is set.
func (s *Submitter) Submit(op engine.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.ops = append(s.ops, op)
	return nil
}

// Ops returns the recorded operations.
func (s *Submitter) Ops() []engine.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.Operation(nil), s.ops...)
}
