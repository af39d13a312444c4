// Package cluster binds admitted client connections to their cluster
// address so that cluster operations can be routed back to them.
//
// Binding is asynchronous: the BindDispatcher only submits a BindOperation
// to the operation engine. When the operation later fails, the configured
// Reconciler revokes the client so no half-bound connection survives.
package cluster

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

var (
	// ErrEngineUnavailable is returned by Bind when the engine refused the
	// bind operation.
	ErrEngineUnavailable = errors.New("cluster: operation engine unavailable")

	// ErrConnectionClosed is returned when binding a connection that is no
	// longer alive.
	ErrConnectionClosed = errors.New("cluster: connection closed")

	// ErrInvalidAddress is returned for unparseable addresses.
	ErrInvalidAddress = errors.New("cluster: invalid address")
)

// Address is the logical cluster address of a client: the remote host and
// port of its connection.
type Address struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// String returns "host:port", bracketing IPv6 hosts.
func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool {
	return a.Host == "" && a.Port == 0
}

// ParseAddress converts "host:port".
func ParseAddress(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Address{}, fmt.Errorf("%w: bad port %q", ErrInvalidAddress, portStr)
	}
	return Address{Host: host, Port: port}, nil
}

// AddressFromNet converts a net.Addr. TCP addresses are converted directly.
func AddressFromNet(addr net.Addr) (Address, error) {
	if addr == nil {
		return Address{}, fmt.Errorf("%w: nil address", ErrInvalidAddress)
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return Address{Host: tcp.IP.String(), Port: tcp.Port}, nil
	}
	return ParseAddress(addr.String())
}

// Connection is a live client transport owned by the transport layer.
// The cluster core only references it.
type Connection interface {
	// ID is unique for the lifetime of the process.
	ID() uint64

	// RemoteAddr is the peer address.
	RemoteAddr() Address

	// Alive reports whether the connection is still open.
	Alive() bool

	// Close closes the connection. Safe to call more than once.
	Close() error
}
