package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/clustergate/pkg/cluster"
	"github.com/marmos91/clustergate/pkg/cluster/clustertest"
	"github.com/marmos91/clustergate/pkg/controlplane/models"
	"github.com/marmos91/clustergate/pkg/credential"
	"github.com/marmos91/clustergate/pkg/endpoint"
	"github.com/marmos91/clustergate/pkg/security"
)

// ============================================================================
// Test doubles
// ============================================================================

type fakeSession struct {
	principal string
	loginErr  error

	mu      sync.Mutex
	logouts int
}

func (s *fakeSession) Login(context.Context) error { return s.loginErr }
func (s *fakeSession) Principal() string {
	if s.loginErr != nil {
		return ""
	}
	return s.principal
}

func (s *fakeSession) Logout(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logouts++
	return nil
}

func (s *fakeSession) Logouts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logouts
}

// fakeBackend accepts opaque credentials whose token equals accept.
type fakeBackend struct {
	accept string

	mu       sync.Mutex
	origins  []string
	sessions []*fakeSession
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) CreateSession(_ context.Context, cred *credential.Credential) (security.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.origins = append(b.origins, cred.Origin)

	sess := &fakeSession{principal: "svc@" + cred.Origin}
	if string(cred.Token) != b.accept {
		sess.loginErr = security.ErrAuthenticationRejected
	}
	b.sessions = append(b.sessions, sess)
	return sess, nil
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []*models.AdmissionEvent
}

func (a *recordingAuditor) Record(e *models.AdmissionEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *recordingAuditor) Outcomes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, e := range a.events {
		out[i] = e.Outcome
	}
	return out
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *recordingMetrics) RecordAttempt(_, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) SetEndpoints(int, int) {}

type fixture struct {
	handler   *Handler
	registry  *endpoint.Registry
	submitter *clustertest.Submitter
	auditor   *recordingAuditor
	metrics   *recordingMetrics
}

func newFixture(t *testing.T, backend security.Backend) *fixture {
	t.Helper()

	f := &fixture{
		registry:  endpoint.NewRegistry(4),
		submitter: &clustertest.Submitter{},
		auditor:   &recordingAuditor{},
		metrics:   &recordingMetrics{},
	}
	dispatcher := cluster.NewBindDispatcher(f.submitter, cluster.NewRoutingTable(), f.registry)

	h, err := New(Config{
		Backend:  backend,
		Group:    Group{Name: "prod", Password: "s3cr3t"},
		Registry: f.registry,
		Binder:   dispatcher,
		Metrics:  f.metrics,
		Auditor:  f.auditor,
	})
	require.NoError(t, err)
	f.handler = h
	return f
}

func opaquePayload(t *testing.T, token string) []byte {
	t.Helper()
	data, err := credential.Encode(credential.NewOpaque(credential.MechanismJWT, []byte(token)))
	require.NoError(t, err)
	return data
}

// ============================================================================
// Backend path
// ============================================================================

func TestAuthenticate_BackendAccepts(t *testing.T) {
	backend := &fakeBackend{accept: "good"}
	f := newFixture(t, backend)
	conn := clustertest.NewConn(1, "10.0.0.5", 40001)

	resp, err := f.handler.Authenticate(context.Background(), conn, Request{Payload: opaquePayload(t, "good")})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, resp.Status)

	ep, ok := f.registry.Get(conn.ID())
	require.True(t, ok)
	assert.True(t, ep.Authenticated)
	assert.Equal(t, "svc@10.0.0.5", ep.Principal)
	assert.NotNil(t, ep.Session)

	ops := f.submitter.Ops()
	require.Len(t, ops, 1)
	bind, ok := ops[0].(*cluster.BindOperation)
	require.True(t, ok)
	assert.Equal(t, conn.RemoteAddr(), bind.Address)
	assert.Same(t, conn, bind.Conn)

	assert.Equal(t, []string{"10.0.0.5"}, backend.origins)
	assert.Equal(t, []string{OutcomeAuthenticated}, f.auditor.Outcomes())
}

func TestAuthenticate_BackendRejects(t *testing.T) {
	backend := &fakeBackend{accept: "good"}
	f := newFixture(t, backend)
	conn := clustertest.NewConn(2, "10.0.0.6", 40002)

	resp, err := f.handler.Authenticate(context.Background(), conn, Request{Payload: opaquePayload(t, "bad")})
	require.NoError(t, err)
	assert.Equal(t, StatusError, resp.Status)

	_, ok := f.registry.Get(conn.ID())
	assert.False(t, ok)
	assert.Empty(t, f.submitter.Ops())

	require.Len(t, backend.sessions, 1)
	assert.Equal(t, 1, backend.sessions[0].Logouts(), "rejected session should be discarded")
	assert.Equal(t, []string{OutcomeRejected}, f.auditor.Outcomes())
}

func TestAuthenticate_DecodeFailureIsMalformed(t *testing.T) {
	backend := &fakeBackend{accept: "good"}
	f := newFixture(t, backend)
	conn := clustertest.NewConn(3, "10.0.0.7", 40003)

	resp, err := f.handler.Authenticate(context.Background(), conn, Request{Payload: []byte{0xde, 0xad}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecode)
	assert.ErrorIs(t, err, credential.ErrDecode)
	assert.Equal(t, StatusError, resp.Status)

	assert.Empty(t, backend.origins, "backend must not be consulted")
	assert.Zero(t, f.registry.Count())
	assert.Empty(t, f.auditor.Outcomes())
	assert.Equal(t, []string{OutcomeMalformed}, f.metrics.outcomes)
}

func TestAuthenticate_EngineUnavailable(t *testing.T) {
	backend := &fakeBackend{accept: "good"}
	f := newFixture(t, backend)
	f.submitter.Err = errors.New("queue full")
	conn := clustertest.NewConn(4, "10.0.0.8", 40004)

	resp, err := f.handler.Authenticate(context.Background(), conn, Request{Payload: opaquePayload(t, "good")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEngineUnavailable)
	assert.ErrorIs(t, err, cluster.ErrEngineUnavailable)
	assert.Equal(t, StatusError, resp.Status)

	_, ok := f.registry.Get(conn.ID())
	assert.False(t, ok, "admission must be revoked")
	require.Len(t, backend.sessions, 1)
	assert.Equal(t, 1, backend.sessions[0].Logouts())
	assert.Equal(t, []string{OutcomeBindFailed}, f.auditor.Outcomes())
}

// ============================================================================
// Group fallback path
// ============================================================================

func TestAuthenticate_GroupFallback(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		status Status
	}{
		{"Match", []string{"prod", "s3cr3t"}, StatusSuccess},
		{"ExtraArgsIgnored", []string{"prod", "s3cr3t", "x"}, StatusSuccess},
		{"WrongPassword", []string{"prod", "wrong"}, StatusError},
		{"WrongName", []string{"dev", "s3cr3t"}, StatusError},
		{"BothWrong", []string{"dev", "wrong"}, StatusError},
		{"CaseSensitive", []string{"PROD", "s3cr3t"}, StatusError},
		{"PasswordPrefix", []string{"prod", "s3cr3"}, StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			conn := clustertest.NewConn(10, "10.0.1.1", 5701)

			resp, err := f.handler.Authenticate(context.Background(), conn, Request{Args: tt.args})
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.Status)

			if tt.status == StatusSuccess {
				assert.True(t, f.registry.IsAuthenticated(conn.ID()))
				require.Len(t, f.submitter.Ops(), 1)
				return
			}
			_, ok := f.registry.Get(conn.ID())
			assert.False(t, ok)
			assert.Empty(t, f.submitter.Ops())
		})
	}
}

func TestAuthenticate_GroupMalformed(t *testing.T) {
	for _, args := range [][]string{nil, {}, {"prod"}, {"s3cr3t"}} {
		f := newFixture(t, nil)
		conn := clustertest.NewConn(11, "10.0.1.2", 5701)

		resp, err := f.handler.Authenticate(context.Background(), conn, Request{Args: args})
		require.ErrorIs(t, err, ErrMalformedRequest)
		assert.Equal(t, StatusError, resp.Status)

		assert.Zero(t, f.registry.Count(), "no entry may be created for %v", args)
		assert.Empty(t, f.auditor.Outcomes(), "malformed requests are not security events")
	}
}

func TestAuthenticate_GroupIgnoresPayload(t *testing.T) {
	f := newFixture(t, nil)
	conn := clustertest.NewConn(12, "10.0.1.3", 5701)

	resp, err := f.handler.Authenticate(context.Background(), conn, Request{
		Args:    []string{"prod", "s3cr3t"},
		Payload: []byte("garbage"),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, resp.Status)
}

// ============================================================================
// Decision step
// ============================================================================

func TestDoAuthenticate_NilCredentialIsInconsistent(t *testing.T) {
	f := newFixture(t, nil)
	conn := clustertest.NewConn(20, "10.0.2.1", 5701)

	ok, err := f.handler.doAuthenticate(context.Background(), nil, conn)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{OutcomeInconsistent}, f.auditor.Outcomes())
}

func TestDoAuthenticate_OpaqueWithoutBackendIsInconsistent(t *testing.T) {
	f := newFixture(t, nil)
	conn := clustertest.NewConn(21, "10.0.2.2", 5701)

	ok, err := f.handler.doAuthenticate(context.Background(), credential.NewOpaque(credential.MechanismJWT, []byte("t")), conn)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.submitter.Ops())
	assert.Equal(t, []string{OutcomeInconsistent}, f.auditor.Outcomes())
}

func TestDoAuthenticate_FailureRemovesExistingEntry(t *testing.T) {
	f := newFixture(t, nil)
	conn := clustertest.NewConn(22, "10.0.2.3", 5701)

	f.registry.GetOrCreate(conn)
	require.Equal(t, 1, f.registry.Count())

	ok, err := f.handler.doAuthenticate(context.Background(), credential.NewPlaintext("prod", "nope"), conn)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, f.registry.Count())

	// Previously authenticated endpoint is revoked by a later failure too.
	ok, err = f.handler.doAuthenticate(context.Background(), credential.NewPlaintext("prod", "s3cr3t"), conn)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.handler.doAuthenticate(context.Background(), nil, conn)
	require.NoError(t, err)
	assert.False(t, ok)
	_, present := f.registry.Get(conn.ID())
	assert.False(t, present)
}

func TestTeardownOfMissingEntryIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	assert.NotPanics(t, func() {
		assert.False(t, f.registry.Remove(999))
		assert.False(t, f.registry.Remove(999))
	})
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{Binder: cluster.NewBindDispatcher(&clustertest.Submitter{}, cluster.NewRoutingTable(), nil)})
	assert.Error(t, err)

	_, err = New(Config{Registry: endpoint.NewRegistry(1)})
	assert.Error(t, err)

	h, err := New(Config{Registry: endpoint.NewRegistry(1), Binder: cluster.NewBindDispatcher(&clustertest.Submitter{}, cluster.NewRoutingTable(), nil)})
	require.NoError(t, err)
	assert.Equal(t, "group", h.Strategy())

	h, err = New(Config{Backend: &fakeBackend{}, Registry: endpoint.NewRegistry(1), Binder: cluster.NewBindDispatcher(&clustertest.Submitter{}, cluster.NewRoutingTable(), nil)})
	require.NoError(t, err)
	assert.Equal(t, "backend:fake", h.Strategy())
}

func TestAuthenticate_ConcurrentConnections(t *testing.T) {
	f := newFixture(t, nil)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			conn := clustertest.NewConn(id, "10.0.3.1", 6000+int(id))
			password := "s3cr3t"
			if id%2 == 0 {
				password = "wrong"
			}
			_, _ = f.handler.Authenticate(context.Background(), conn, Request{Args: []string{"prod", password}})
		}(uint64(i))
	}
	wg.Wait()

	assert.Equal(t, 25, f.registry.Count())
	assert.Equal(t, 25, f.registry.AuthenticatedCount())
	assert.Len(t, f.submitter.Ops(), 25)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "error", StatusError.String())
}
