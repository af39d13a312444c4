// Package adapter provides the TCP lifecycle shared by member-facing servers.
//
// BaseAdapter owns the listener, connection accounting, connection limits and
// graceful shutdown. A concrete adapter (see member/) supplies a
// ConnectionFactory that turns each accepted net.Conn into a handler serving
// the wire protocol.
package adapter

import "context"

// Adapter is a network server managed by the member process.
//
// Thread safety: Stop may be called concurrently with Serve and more than
// once.
type Adapter interface {
	// Serve starts the server and blocks until ctx is cancelled or an
	// unrecoverable error occurs. It returns nil on graceful shutdown.
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown, waiting for active connections until
	// ctx is done.
	Stop(ctx context.Context) error

	// Protocol returns the name used in logs and metrics.
	Protocol() string

	// Port returns the configured TCP port.
	Port() int
}
