// Package client is a Go client for the member protocol.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/clustergate/pkg/credential"
	"github.com/marmos91/clustergate/pkg/protocol"
)

// DefaultTimeout bounds a request when ctx has no deadline.
const DefaultTimeout = 10 * time.Second

// ErrRejected is returned when the member answers with an error status. The
// member never says why.
var ErrRejected = errors.New("client: request rejected")

// Options configures Dial.
type Options struct {
	// Timeout bounds dialing and each request when ctx has no deadline.
	Timeout time.Duration

	// MaxFrameSize bounds response frames.
	MaxFrameSize int
}

// Client is a connection to one member. Requests are serialized.
type Client struct {
	conn    net.Conn
	codec   *protocol.Codec
	timeout time.Duration

	mu sync.Mutex
}

// Dial connects to addr ("host:port").
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	d := net.Dialer{Timeout: opts.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{
		conn:    conn,
		codec:   protocol.NewCodec(opts.MaxFrameSize),
		timeout: opts.Timeout,
	}, nil
}

// LocalAddr returns the client side address of the connection, which is the
// address the member binds on success.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// AuthenticateGroup authenticates with the cluster group name and password.
func (c *Client) AuthenticateGroup(ctx context.Context, name, password string) error {
	return c.do(ctx, &protocol.Request{
		Command: protocol.CommandAuth,
		Args:    []string{name, password},
	})
}

// AuthenticateCredential authenticates with an encoded credential, for members
// running a security backend.
func (c *Client) AuthenticateCredential(ctx context.Context, cred *credential.Credential) error {
	payload, err := credential.Encode(cred)
	if err != nil {
		return err
	}
	return c.do(ctx, &protocol.Request{
		Command: protocol.CommandAuth,
		Payload: payload,
	})
}

// Ping succeeds only while the connection is authenticated.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, &protocol.Request{Command: protocol.CommandPing})
}

// Logout drops the authentication but keeps the connection open.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, &protocol.Request{Command: protocol.CommandLogout})
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) do(ctx context.Context, req *protocol.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	if err := c.codec.WriteRequest(c.conn, req); err != nil {
		return fmt.Errorf("send %s: %w", req.Command, err)
	}
	resp, err := c.codec.ReadResponse(c.conn)
	if err != nil {
		return fmt.Errorf("read %s response: %w", req.Command, err)
	}
	if resp.Status != protocol.StatusSuccess {
		return fmt.Errorf("%w: %s", ErrRejected, req.Command)
	}
	return nil
}
