package member

import (
	"context"
	"errors"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/clustergate/internal/logger"
	"github.com/marmos91/clustergate/internal/telemetry"
	"github.com/marmos91/clustergate/pkg/admission"
	"github.com/marmos91/clustergate/pkg/cluster"
	"github.com/marmos91/clustergate/pkg/protocol"
)

// Connection serves one client. It is also the cluster.Connection handed to
// admission and stored in the routing table.
type Connection struct {
	server *Adapter
	conn   net.Conn
	id     uint64
	addr   cluster.Address

	closed  atomic.Bool
	writeMu sync.Mutex
}

var _ cluster.Connection = (*Connection)(nil)

func newConnection(server *Adapter, conn net.Conn, id uint64) *Connection {
	addr, err := cluster.AddressFromNet(conn.RemoteAddr())
	if err != nil {
		addr = cluster.Address{Host: conn.RemoteAddr().String()}
	}
	return &Connection{server: server, conn: conn, id: id, addr: addr}
}

func (c *Connection) ID() uint64                  { return c.id }
func (c *Connection) RemoteAddr() cluster.Address { return c.addr }
func (c *Connection) Alive() bool                 { return !c.closed.Load() }

// Close closes the underlying connection, which ends Serve.
func (c *Connection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

func (c *Connection) markClosed() {
	c.closed.Store(true)
}

// Serve reads requests until the client disconnects, the connection is closed
// or ctx is cancelled. Requests are handled in order, one at a time.
func (c *Connection) Serve(ctx context.Context) {
	defer c.handleConnectionClose()

	clientAddr := c.addr.String()
	timeouts := c.server.config.Timeouts

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Connection closed due to context cancellation", logger.KeyConnID, c.id)
			return
		case <-c.server.Shutdown:
			logger.Debug("Connection closed due to server shutdown", logger.KeyConnID, c.id)
			return
		default:
		}

		if timeouts.Idle > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(timeouts.Idle)); err != nil {
				logger.Warn("Failed to set deadline", logger.KeyConnID, c.id, logger.KeyError, err)
			}
		}

		req, err := c.server.codec.ReadRequest(c.conn)
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedFrame) {
				// Frame boundaries are intact, keep serving.
				logger.Debug("Malformed request", logger.KeyConnID, c.id, logger.KeyError, err)
				c.server.recordRequest("unknown", protocol.StatusError.String())
				if werr := c.writeResponse(protocol.StatusError); werr != nil {
					return
				}
				continue
			}
			c.logReadError(clientAddr, err)
			return
		}

		status := c.process(ctx, req)
		if err := c.writeResponse(status); err != nil {
			logger.Debug("Error writing response", logger.KeyConnID, c.id, logger.KeyError, err)
			return
		}
	}
}

func (c *Connection) logReadError(clientAddr string, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug("Connection closed by client", logger.KeyConnID, c.id, logger.KeyClientAddr, clientAddr)
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug("Connection timed out", logger.KeyConnID, c.id, logger.KeyClientAddr, clientAddr)
	case errors.Is(err, net.ErrClosed):
		logger.Debug("Connection closed locally", logger.KeyConnID, c.id)
	default:
		logger.Debug("Error reading request", logger.KeyConnID, c.id, logger.KeyClientAddr, clientAddr, logger.KeyError, err)
	}
}

// process handles one request and returns the response status. A panic is
// recovered and answered with an error.
func (c *Connection) process(ctx context.Context, req *protocol.Request) (status protocol.Status) {
	lc := logger.NewLogContext(c.id, c.addr.String()).WithCommand(req.Command)
	ctx, span := telemetry.StartRequestSpan(ctx, req.Command, c.id, c.addr.String())
	lc = lc.WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	ctx = logger.WithContext(ctx, lc)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(ctx, "Panic in request handler",
				logger.KeyError, r,
				"stack", string(debug.Stack()))
			status = protocol.StatusError
		}
		telemetry.SetAttributes(ctx, telemetry.Status(status.String()))
		span.End()
		c.server.recordRequest(req.Command, status.String())
		logger.DebugCtx(ctx, "Request handled",
			logger.KeyStatus, status.String(),
			logger.KeyDurationMs, lc.DurationMs())
	}()

	switch req.Command {
	case protocol.CommandAuth:
		return c.handleAuth(ctx, req)
	case protocol.CommandPing:
		if !c.server.endpoints.IsAuthenticated(c.id) {
			return protocol.StatusError
		}
		return protocol.StatusSuccess
	case protocol.CommandLogout:
		c.server.endpoints.Remove(c.id)
		c.server.unbinder.Unbind(c)
		return protocol.StatusSuccess
	default:
		logger.DebugCtx(ctx, "Unknown command")
		return protocol.StatusError
	}
}

func (c *Connection) handleAuth(ctx context.Context, req *protocol.Request) protocol.Status {
	resp, err := c.server.admitter.Authenticate(ctx, c, admission.Request{
		Args:    req.Args,
		Payload: req.Payload,
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		if errors.Is(err, admission.ErrEngineUnavailable) {
			logger.ErrorCtx(ctx, "Admission revoked, engine unavailable", logger.KeyError, err)
		}
	}
	if resp.Status == admission.StatusSuccess {
		return protocol.StatusSuccess
	}
	return protocol.StatusError
}

func (c *Connection) writeResponse(status protocol.Status) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if d := c.server.config.Timeouts.Write; d > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(d)); err != nil {
			return err
		}
	}
	return c.server.codec.WriteResponse(c.conn, &protocol.Response{Status: status})
}

// handleConnectionClose recovers a panic in the serve loop and closes the
// connection.
func (c *Connection) handleConnectionClose() {
	if r := recover(); r != nil {
		logger.Error("Panic in connection handler",
			logger.KeyConnID, c.id,
			logger.KeyClientAddr, c.addr.String(),
			logger.KeyError, r,
			"stack", string(debug.Stack()))
	}
	_ = c.Close()
}
