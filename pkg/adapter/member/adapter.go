// Package member serves the client-facing member protocol over TCP.
//
// Each accepted connection gets a Connection that reads protocol frames,
// routes AUTH to the admission handler, answers PING for authenticated
// clients and tears the client down on LOGOUT or disconnect.
package member

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/marmos91/clustergate/internal/logger"
	"github.com/marmos91/clustergate/pkg/adapter"
	"github.com/marmos91/clustergate/pkg/admission"
	"github.com/marmos91/clustergate/pkg/cluster"
	"github.com/marmos91/clustergate/pkg/protocol"
)

// Protocol is the adapter name used in logs.
const Protocol = "member"

// TimeoutsConfig bounds connection I/O. Zero disables a timeout.
type TimeoutsConfig struct {
	// Write bounds writing one response.
	Write time.Duration

	// Idle bounds the wait for, and reading of, the next request.
	Idle time.Duration
}

// Config configures the member adapter.
type Config struct {
	adapter.BaseConfig

	// MaxFrameSize bounds inbound frame bodies (protocol.DefaultMaxFrameSize if 0).
	MaxFrameSize int

	Timeouts TimeoutsConfig
}

// Admitter runs admission for AUTH requests.
type Admitter interface {
	Authenticate(ctx context.Context, conn cluster.Connection, req admission.Request) (admission.Response, error)
}

// Endpoints is the endpoint registry view used by connections.
type Endpoints interface {
	IsAuthenticated(id uint64) bool
	Remove(id uint64) bool
}

// Unbinder drops routing entries of a connection.
type Unbinder interface {
	Unbind(conn cluster.Connection) int
}

// Metrics records connection lifecycle and per-request counts.
type Metrics interface {
	adapter.MetricsRecorder
	RecordRequest(command, status string)
}

// Adapter is the member protocol server.
type Adapter struct {
	*adapter.BaseAdapter

	config    Config
	codec     *protocol.Codec
	admitter  Admitter
	endpoints Endpoints
	unbinder  Unbinder
	metrics   Metrics

	conns sync.Map // uint64 -> *Connection
}

var (
	_ adapter.Adapter           = (*Adapter)(nil)
	_ adapter.ConnectionFactory = (*Adapter)(nil)
)

// New creates a member adapter. metrics may be nil.
func New(config Config, admitter Admitter, endpoints Endpoints, unbinder Unbinder, metrics Metrics) *Adapter {
	base := adapter.NewBaseAdapter(config.BaseConfig, Protocol)
	if metrics != nil {
		base.Metrics = metrics
	}
	return &Adapter{
		BaseAdapter: base,
		config:      config,
		codec:       protocol.NewCodec(config.MaxFrameSize),
		admitter:    admitter,
		endpoints:   endpoints,
		unbinder:    unbinder,
		metrics:     metrics,
	}
}

// Serve accepts connections until ctx is cancelled.
func (a *Adapter) Serve(ctx context.Context) error {
	return a.ServeWithFactory(ctx, a, a.onClose)
}

// NewConnection implements adapter.ConnectionFactory.
func (a *Adapter) NewConnection(conn net.Conn, id uint64) adapter.ConnectionHandler {
	c := newConnection(a, conn, id)
	a.conns.Store(id, c)
	return c
}

// Lookup returns the live connection with the given id.
func (a *Adapter) Lookup(id uint64) (*Connection, bool) {
	v, ok := a.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Connection), true
}

// Disconnect closes the connection with the given id. Teardown then runs
// through the usual close path.
func (a *Adapter) Disconnect(id uint64) bool {
	c, ok := a.Lookup(id)
	if !ok {
		return false
	}
	if err := c.Close(); err != nil {
		logger.Debug("Error closing connection", logger.KeyConnID, id, logger.KeyError, err)
	}
	logger.Info("Connection disconnected by operator", logger.KeyConnID, id)
	return true
}

// onClose is the registry teardown hook. It runs for every connection,
// authenticated or not.
func (a *Adapter) onClose(id uint64, addr string) {
	v, ok := a.conns.LoadAndDelete(id)
	if !ok {
		return
	}
	c := v.(*Connection)
	c.markClosed()

	removed := a.endpoints.Remove(id)
	unbound := a.unbinder.Unbind(c)
	if removed || unbound > 0 {
		logger.Debug("Client torn down",
			logger.KeyConnID, id,
			logger.KeyClientAddr, addr,
			"unbound", unbound)
	}
}

func (a *Adapter) recordRequest(command, status string) {
	if a.metrics != nil {
		a.metrics.RecordRequest(command, status)
	}
}
