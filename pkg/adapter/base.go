package adapter

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/clustergate/internal/logger"
)

// ConnectionHandler serves one accepted connection. Serve blocks until the
// connection is closed or ctx is cancelled.
type ConnectionHandler interface {
	Serve(ctx context.Context)
}

// ConnectionFactory creates a handler for an accepted connection. id is unique
// for the lifetime of the process and never zero.
type ConnectionFactory interface {
	NewConnection(conn net.Conn, id uint64) ConnectionHandler
}

// DefaultShutdownTimeout applies when BaseConfig.ShutdownTimeout is zero.
const DefaultShutdownTimeout = 30 * time.Second

// shutdownReadDeadline unblocks reads parked on idle clients at shutdown.
const shutdownReadDeadline = 100 * time.Millisecond

// BaseConfig holds the listener settings shared by adapters.
type BaseConfig struct {
	// BindAddress is the listen IP. Empty binds all interfaces.
	BindAddress string

	// Port is the TCP port. 0 picks a free port.
	Port int

	// MaxConnections caps concurrent clients. 0 means unlimited.
	MaxConnections int

	// ShutdownTimeout bounds the wait for clients to drain on shutdown.
	ShutdownTimeout time.Duration

	// MetricsLogInterval logs the client count periodically. 0 disables it.
	MetricsLogInterval time.Duration
}

// MetricsRecorder records connection lifecycle metrics.
type MetricsRecorder interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
	SetActiveConnections(count int32)
}

// OnConnectionClose runs when a connection's serve goroutine exits, before the
// connection slot is released.
type OnConnectionClose func(id uint64, addr string)

// BaseAdapter owns the listener, connection accounting and shutdown of a
// member-facing server. All methods are safe for concurrent use.
type BaseAdapter struct {
	Config BaseConfig

	// Metrics may be nil.
	Metrics MetricsRecorder

	// Shutdown is closed once shutdown starts.
	Shutdown chan struct{}

	name string

	listenerMu    sync.RWMutex
	listener      net.Listener
	listenerReady chan struct{}

	slots   chan struct{} // nil when unlimited
	wg      sync.WaitGroup
	active  atomic.Int32
	conns   sync.Map // uint64 -> net.Conn
	nextID  atomic.Uint64
	stopped sync.Once

	// requestCtx is handed to every connection and cancelled at shutdown.
	requestCtx    context.Context
	cancelRequest context.CancelFunc
}

// NewBaseAdapter creates a stopped adapter named name.
func NewBaseAdapter(config BaseConfig, name string) *BaseAdapter {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}

	b := &BaseAdapter{
		Config:        config,
		Shutdown:      make(chan struct{}),
		name:          name,
		listenerReady: make(chan struct{}),
	}
	if config.MaxConnections > 0 {
		b.slots = make(chan struct{}, config.MaxConnections)
	}
	b.requestCtx, b.cancelRequest = context.WithCancel(context.Background())

	logger.Debug("Adapter created", logger.KeyProtocol, name, "max_connections", config.MaxConnections)
	return b
}

// ServeWithFactory accepts connections until ctx is cancelled or Stop is
// called, serving each one with a handler from factory. onClose may be nil.
//
// It returns nil after a graceful drain and an error when the listener cannot
// be opened or clients had to be force-closed.
func (b *BaseAdapter) ServeWithFactory(ctx context.Context, factory ConnectionFactory, onClose OnConnectionClose) error {
	addr := net.JoinHostPort(b.Config.BindAddress, strconv.Itoa(b.Config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s: listen on %s: %w", b.name, addr, err)
	}

	b.listenerMu.Lock()
	b.listener = ln
	b.listenerMu.Unlock()
	close(b.listenerReady)

	logger.Info("Member server listening", logger.KeyProtocol, b.name, logger.KeyAddress, ln.Addr().String())

	go func() {
		<-ctx.Done()
		b.initiateShutdown()
	}()

	if b.Config.MetricsLogInterval > 0 {
		go b.logMetrics(ctx)
	}

	for {
		if !b.acquireSlot() {
			return b.drain()
		}

		nc, err := ln.Accept()
		if err != nil {
			b.releaseSlot()
			select {
			case <-b.Shutdown:
				return b.drain()
			default:
				logger.Debug("Accept failed", logger.KeyProtocol, b.name, logger.KeyError, err)
				continue
			}
		}

		if tcp, ok := nc.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}

		b.track(nc, factory, onClose)
	}
}

func (b *BaseAdapter) acquireSlot() bool {
	if b.slots == nil {
		return true
	}
	select {
	case b.slots <- struct{}{}:
		return true
	case <-b.Shutdown:
		return false
	}
}

func (b *BaseAdapter) releaseSlot() {
	if b.slots != nil {
		<-b.slots
	}
}

// track registers nc and serves it on its own goroutine.
func (b *BaseAdapter) track(nc net.Conn, factory ConnectionFactory, onClose OnConnectionClose) {
	id := b.nextID.Add(1)
	addr := nc.RemoteAddr().String()

	b.wg.Add(1)
	n := b.active.Add(1)
	b.conns.Store(id, nc)
	if b.Metrics != nil {
		b.Metrics.RecordConnectionAccepted()
		b.Metrics.SetActiveConnections(n)
	}
	logger.Debug("Connection accepted", logger.KeyConnID, id, logger.KeyClientAddr, addr, logger.KeyActive, n)

	handler := factory.NewConnection(nc, id)

	go func() {
		defer func() {
			if onClose != nil {
				onClose(id, addr)
			}
			b.conns.Delete(id)
			n := b.active.Add(-1)
			b.releaseSlot()
			b.wg.Done()

			if b.Metrics != nil {
				b.Metrics.RecordConnectionClosed()
				b.Metrics.SetActiveConnections(n)
			}
			logger.Debug("Connection released", logger.KeyConnID, id, logger.KeyClientAddr, addr, logger.KeyActive, n)
		}()

		handler.Serve(b.requestCtx)
	}()
}

// initiateShutdown stops accepting, wakes idle readers and cancels in-flight
// requests. Only the first call has an effect.
func (b *BaseAdapter) initiateShutdown() {
	b.stopped.Do(func() {
		logger.Info("Member server shutting down", logger.KeyProtocol, b.name, logger.KeyActive, b.active.Load())
		close(b.Shutdown)

		b.listenerMu.Lock()
		if b.listener != nil {
			_ = b.listener.Close()
		}
		b.listenerMu.Unlock()

		deadline := time.Now().Add(shutdownReadDeadline)
		b.conns.Range(func(_, v any) bool {
			_ = v.(net.Conn).SetReadDeadline(deadline)
			return true
		})

		b.cancelRequest()
	})
}

// drained is closed once every tracked connection has been released.
func (b *BaseAdapter) drained() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	return done
}

// drain waits up to ShutdownTimeout for clients, then force-closes the rest.
func (b *BaseAdapter) drain() error {
	select {
	case <-b.drained():
		logger.Info("Member server stopped", logger.KeyProtocol, b.name)
		return nil
	case <-time.After(b.Config.ShutdownTimeout):
		remaining := b.active.Load()
		logger.Warn("Shutdown timeout exceeded, force-closing clients",
			logger.KeyProtocol, b.name,
			logger.KeyActive, remaining,
			"timeout", b.Config.ShutdownTimeout)
		b.forceClose()
		return fmt.Errorf("%s shutdown timeout: %d connections force-closed", b.name, remaining)
	}
}

func (b *BaseAdapter) forceClose() {
	closed := 0
	b.conns.Range(func(k, v any) bool {
		if err := v.(net.Conn).Close(); err != nil {
			logger.Debug("Force close failed", logger.KeyConnID, k, logger.KeyError, err)
			return true
		}
		closed++
		if b.Metrics != nil {
			b.Metrics.RecordConnectionForceClosed()
		}
		return true
	})
	logger.Info("Force-closed connections", logger.KeyProtocol, b.name, logger.KeyCount, closed)
}

// Stop starts shutdown and waits for clients to drain until ctx is done.
// It may be called more than once and concurrently with ServeWithFactory.
func (b *BaseAdapter) Stop(ctx context.Context) error {
	b.initiateShutdown()

	select {
	case <-b.drained():
		return nil
	case <-ctx.Done():
		logger.Warn("Stop deadline reached with clients still connected",
			logger.KeyProtocol, b.name,
			logger.KeyActive, b.active.Load(),
			logger.KeyError, ctx.Err())
		return ctx.Err()
	}
}

func (b *BaseAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(b.Config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("Member connections", logger.KeyProtocol, b.name, logger.KeyActive, b.active.Load())
		}
	}
}

// GetActiveConnections returns the number of connected clients.
func (b *BaseAdapter) GetActiveConnections() int32 {
	return b.active.Load()
}

// GetListenerAddr blocks until the listener is open and returns its address.
func (b *BaseAdapter) GetListenerAddr() string {
	<-b.listenerReady

	b.listenerMu.RLock()
	defer b.listenerMu.RUnlock()
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Port returns the configured TCP port.
func (b *BaseAdapter) Port() int {
	return b.Config.Port
}

// Protocol returns the adapter name.
func (b *BaseAdapter) Protocol() string {
	return b.name
}
