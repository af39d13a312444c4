package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/clustergate/pkg/client"
	"github.com/marmos91/clustergate/pkg/config"
	"github.com/marmos91/clustergate/pkg/controlplane/models"
	"github.com/marmos91/clustergate/pkg/credential"
	"github.com/marmos91/clustergate/pkg/metrics"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := config.GetDefaultConfig()
	cfg.Server.BindAddress = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.ShutdownTimeout = 2 * time.Second
	disabled := false
	cfg.API.Enabled = &disabled
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "controlplane.db")
	return cfg
}

// start runs rt until the test ends and returns the member address.
func start(t *testing.T, rt *Runtime) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("runtime did not stop")
		}
	})
	return rt.Member().GetListenerAddr()
}

func dial(t *testing.T, addr string) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(), addr, client.Options{Timeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNew_GroupStrategy(t *testing.T) {
	rt, err := New(testConfig(t))
	require.NoError(t, err)

	assert.Equal(t, "group", rt.Admission().Strategy())
	assert.Nil(t, rt.Store())
	assert.Nil(t, rt.Tokens())
}

func TestServe_GroupAdmission(t *testing.T) {
	rt, err := New(testConfig(t))
	require.NoError(t, err)
	addr := start(t, rt)

	ctx := context.Background()

	rejected := dial(t, addr)
	assert.ErrorIs(t, rejected.AuthenticateGroup(ctx, config.DefaultGroupName, "wrong"), client.ErrRejected)

	c := dial(t, addr)
	require.NoError(t, c.AuthenticateGroup(ctx, config.DefaultGroupName, config.DefaultGroupPassword))
	require.NoError(t, c.Ping(ctx))

	require.Eventually(t, func() bool { return rt.Table().Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, rt.Registry().AuthenticatedCount())

	require.NoError(t, c.Logout(ctx))
	require.Eventually(t, func() bool { return rt.Table().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServe_PasswordBackendWithAudit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.Backend = config.BackendPassword
	cfg.Audit.Enabled = true
	cfg.Audit.Retention = time.Hour

	rt, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, rt.Store())
	assert.Equal(t, "backend:password", rt.Admission().Strategy())

	hash, err := models.HashPassword("s3cret-pass")
	require.NoError(t, err)
	_, err = rt.Store().CreateUser(context.Background(), &models.User{Username: "worker-1", PasswordHash: hash, Enabled: true})
	require.NoError(t, err)

	addr := start(t, rt)
	ctx := context.Background()

	c := dial(t, addr)
	require.NoError(t, c.AuthenticateCredential(ctx, credential.NewPlaintext("worker-1", "s3cret-pass")))
	require.Eventually(t, func() bool { return rt.Table().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	bad := dial(t, addr)
	assert.ErrorIs(t, bad.AuthenticateCredential(ctx, credential.NewPlaintext("worker-1", "nope")), client.ErrRejected)

	require.Eventually(t, func() bool {
		events, err := rt.Store().ListAdmissions(ctx, 10)
		return err == nil && len(events) == 2
	}, 2*time.Second, 20*time.Millisecond)
}

func TestServe_TokenChain(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.Backend = config.BackendChain
	cfg.Security.Chain = []string{config.BackendToken, config.BackendPassword}
	cfg.Security.Token.Secret = testSecret

	rt, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, rt.Tokens())

	tok, _, err := rt.Tokens().Issue("worker-2", time.Minute)
	require.NoError(t, err)

	addr := start(t, rt)
	c := dial(t, addr)
	require.NoError(t, c.AuthenticateCredential(context.Background(), credential.NewOpaque(credential.MechanismJWT, []byte(tok))))

	require.Eventually(t, func() bool { return rt.Registry().AuthenticatedCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	eps := rt.Registry().List()
	require.Len(t, eps, 1)
	assert.Equal(t, "worker-2", eps[0].Principal)
}

func TestNew_PasswordBackendWithoutStoreFails(t *testing.T) {
	_, err := initSecurity(&config.Config{Security: config.SecurityConfig{Backend: config.BackendPassword}}, nil)
	assert.Error(t, err)

	_, err = initSecurity(&config.Config{Security: config.SecurityConfig{Backend: config.BackendToken}}, nil)
	assert.Error(t, err)
}

func TestNeedsStore(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want bool
	}{
		{"none", config.Config{Security: config.SecurityConfig{Backend: config.BackendNone}}, false},
		{"token", config.Config{Security: config.SecurityConfig{Backend: config.BackendToken}}, false},
		{"password", config.Config{Security: config.SecurityConfig{Backend: config.BackendPassword}}, true},
		{"chain with password", config.Config{Security: config.SecurityConfig{
			Backend: config.BackendChain, Chain: []string{config.BackendToken, config.BackendPassword},
		}}, true},
		{"audit", config.Config{Audit: config.AuditConfig{Enabled: true}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsStore(&tt.cfg))
		})
	}
}

func TestHandler_ReadinessAndMetrics(t *testing.T) {
	metrics.Reset()
	t.Cleanup(metrics.Reset)

	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	rt, err := New(cfg)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	rt.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "engine not started yet")

	start(t, rt)
	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		rt.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		return w.Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	w = httptest.NewRecorder()
	rt.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
