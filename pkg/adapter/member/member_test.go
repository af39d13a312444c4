package member

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/clustergate/pkg/adapter"
	"github.com/marmos91/clustergate/pkg/admission"
	"github.com/marmos91/clustergate/pkg/client"
	"github.com/marmos91/clustergate/pkg/cluster"
	"github.com/marmos91/clustergate/pkg/credential"
	"github.com/marmos91/clustergate/pkg/endpoint"
	"github.com/marmos91/clustergate/pkg/engine"
	"github.com/marmos91/clustergate/pkg/protocol"
	"github.com/marmos91/clustergate/pkg/security"
	"github.com/marmos91/clustergate/pkg/security/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type stack struct {
	adapter  *Adapter
	registry *endpoint.Registry
	table    *cluster.RoutingTable
	addr     string
}

func startStack(t *testing.T, backend security.Backend) *stack {
	t.Helper()

	registry := endpoint.NewRegistry(0)
	eng := engine.New(engine.Config{Partitions: 2, QueueSize: 16}, nil)
	require.NoError(t, eng.Start(context.Background()))

	table := cluster.NewRoutingTable()
	dispatcher := cluster.NewBindDispatcher(eng, table, registry)

	handler, err := admission.New(admission.Config{
		Backend:  backend,
		Group:    admission.Group{Name: "prod", Password: "s3cr3t"},
		Registry: registry,
		Binder:   dispatcher,
	})
	require.NoError(t, err)

	a := New(Config{
		BaseConfig: adapter.BaseConfig{BindAddress: "127.0.0.1", ShutdownTimeout: 2 * time.Second},
		Timeouts:   TimeoutsConfig{Write: 2 * time.Second},
	}, handler, registry, dispatcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(5 * time.Second):
			t.Error("adapter did not stop")
		}
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = eng.Stop(stopCtx)
	})

	return &stack{adapter: a, registry: registry, table: table, addr: a.GetListenerAddr()}
}

func dial(t *testing.T, s *stack) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(), s.addr, client.Options{Timeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func boundAddress(t *testing.T, c *client.Client) cluster.Address {
	t.Helper()
	addr, err := cluster.AddressFromNet(c.LocalAddr())
	require.NoError(t, err)
	return addr
}

func TestGroupAdmission_BindsAddress(t *testing.T) {
	s := startStack(t, nil)
	c := dial(t, s)
	ctx := context.Background()

	require.ErrorIs(t, c.Ping(ctx), client.ErrRejected, "ping before auth")
	require.NoError(t, c.AuthenticateGroup(ctx, "prod", "s3cr3t"))
	require.NoError(t, c.Ping(ctx))

	addr := boundAddress(t, c)
	require.Eventually(t, func() bool {
		_, ok := s.table.Lookup(addr)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, s.registry.AuthenticatedCount())
}

func TestGroupAdmission_Rejected(t *testing.T) {
	s := startStack(t, nil)
	c := dial(t, s)
	ctx := context.Background()

	assert.ErrorIs(t, c.AuthenticateGroup(ctx, "prod", "wrong"), client.ErrRejected)
	assert.ErrorIs(t, c.Ping(ctx), client.ErrRejected)
	assert.Zero(t, s.registry.Count())
	assert.Zero(t, s.table.Len())

	// The connection stays usable for a new attempt.
	require.NoError(t, c.AuthenticateGroup(ctx, "prod", "s3cr3t"))
}

func TestGroupAdmission_MalformedKeepsConnection(t *testing.T) {
	s := startStack(t, nil)

	conn, err := net.Dial("tcp", s.addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	codec := protocol.NewCodec(0)
	require.NoError(t, codec.WriteRequest(conn, &protocol.Request{Command: protocol.CommandAuth, Args: []string{"prod"}}))
	resp, err := codec.ReadResponse(conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Zero(t, s.registry.Count())

	// Undecodable body inside a well formed frame.
	require.NoError(t, codec.WriteFrame(conn, []byte{0xff, 0xff, 0xff, 0xff}))
	resp, err = codec.ReadResponse(conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, resp.Status)

	require.NoError(t, codec.WriteRequest(conn, &protocol.Request{Command: protocol.CommandAuth, Args: []string{"prod", "s3cr3t"}}))
	resp, err = codec.ReadResponse(conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusSuccess, resp.Status)
}

func TestUnknownCommand(t *testing.T) {
	s := startStack(t, nil)

	conn, err := net.Dial("tcp", s.addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	codec := protocol.NewCodec(0)
	require.NoError(t, codec.WriteRequest(conn, &protocol.Request{Command: "JOIN"}))
	resp, err := codec.ReadResponse(conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, resp.Status)
}

func TestLogout_RemovesEndpointAndBinding(t *testing.T) {
	s := startStack(t, nil)
	c := dial(t, s)
	ctx := context.Background()

	require.NoError(t, c.AuthenticateGroup(ctx, "prod", "s3cr3t"))
	require.Eventually(t, func() bool { return s.table.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Logout(ctx))
	assert.ErrorIs(t, c.Ping(ctx), client.ErrRejected)
	assert.Zero(t, s.registry.Count())
	assert.Zero(t, s.table.Len())
}

func TestDisconnect_TearsDownClient(t *testing.T) {
	s := startStack(t, nil)
	c := dial(t, s)

	require.NoError(t, c.AuthenticateGroup(context.Background(), "prod", "s3cr3t"))
	require.Eventually(t, func() bool { return s.table.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool {
		return s.registry.Count() == 0 && s.table.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDisconnect_BeforeAuthentication(t *testing.T) {
	s := startStack(t, nil)
	c := dial(t, s)

	require.Eventually(t, func() bool { return s.adapter.GetActiveConnections() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return s.adapter.GetActiveConnections() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, s.registry.Count())
}

func TestBackendAdmission_Token(t *testing.T) {
	backend, err := token.New(token.Config{Secret: testSecret})
	require.NoError(t, err)

	s := startStack(t, backend)
	c := dial(t, s)
	ctx := context.Background()

	// Group arguments are not accepted when a backend is configured.
	assert.ErrorIs(t, c.AuthenticateGroup(ctx, "prod", "s3cr3t"), client.ErrRejected)

	signed, _, err := backend.Issue("worker-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.AuthenticateCredential(ctx, credential.NewOpaque(credential.MechanismJWT, []byte(signed))))

	eps := s.registry.List()
	require.Len(t, eps, 1)
	assert.True(t, eps[0].Authenticated)
	assert.Equal(t, "worker-1", eps[0].Principal)

	assert.ErrorIs(t, c.AuthenticateCredential(ctx, credential.NewOpaque(credential.MechanismJWT, []byte(signed+"x"))), client.ErrRejected)
	assert.Zero(t, s.registry.Count(), "failed re-authentication revokes the endpoint")
}

func TestRevoke_ClosesConnection(t *testing.T) {
	s := startStack(t, nil)
	c := dial(t, s)
	ctx := context.Background()

	require.NoError(t, c.AuthenticateGroup(ctx, "prod", "s3cr3t"))
	eps := s.registry.List()
	require.Len(t, eps, 1)

	conn, ok := s.adapter.Lookup(eps[0].ConnID)
	require.True(t, ok)
	s.registry.Revoke(ctx, conn, assert.AnError)
	assert.False(t, conn.Alive())

	err := c.Ping(ctx)
	require.Error(t, err)
	assert.False(t, strings.Contains(err.Error(), "rejected"), "connection should be closed, got %v", err)
}

func TestStop_IsIdempotent(t *testing.T) {
	s := startStack(t, nil)
	_ = dial(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.NoError(t, s.adapter.Stop(ctx))
	assert.NoError(t, s.adapter.Stop(ctx))
}

func TestOperatorDisconnect(t *testing.T) {
	s := startStack(t, nil)
	c := dial(t, s)
	ctx := context.Background()

	require.NoError(t, c.AuthenticateGroup(ctx, "prod", "s3cr3t"))
	require.Eventually(t, func() bool { return s.table.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	eps := s.registry.List()
	require.Len(t, eps, 1)
	assert.True(t, s.adapter.Disconnect(eps[0].ConnID))
	assert.False(t, s.adapter.Disconnect(9999))

	require.Eventually(t, func() bool {
		return s.registry.Count() == 0 && s.table.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Error(t, c.Ping(ctx))
}
