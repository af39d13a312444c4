package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/clustergate/pkg/api/handlers"
	"github.com/marmos91/clustergate/pkg/cluster"
	"github.com/marmos91/clustergate/pkg/cluster/clustertest"
	"github.com/marmos91/clustergate/pkg/controlplane/models"
	"github.com/marmos91/clustergate/pkg/endpoint"
	"github.com/marmos91/clustergate/pkg/security/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeDisconnector struct {
	ids []uint64
}

func (d *fakeDisconnector) Disconnect(id uint64) bool {
	if id != 1 {
		return false
	}
	d.ids = append(d.ids, id)
	return true
}

type fakeAdmissions struct {
	events []*models.AdmissionEvent
	err    error
	limit  int
}

func (f *fakeAdmissions) ListAdmissions(_ context.Context, limit int) ([]*models.AdmissionEvent, error) {
	f.limit = limit
	return f.events, f.err
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

type fixture struct {
	registry     *endpoint.Registry
	table        *cluster.RoutingTable
	disconnector *fakeDisconnector
	admissions   *fakeAdmissions
	deps         Dependencies
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		registry:     endpoint.NewRegistry(4),
		table:        cluster.NewRoutingTable(),
		disconnector: &fakeDisconnector{},
		admissions: &fakeAdmissions{events: []*models.AdmissionEvent{
			{ID: "e1", ConnID: 1, Outcome: "authenticated", CreatedAt: time.Now()},
		}},
	}

	authed := clustertest.NewConn(1, "10.0.0.1", 5701)
	pending := clustertest.NewConn(2, "10.0.0.2", 5702)
	f.registry.GetOrCreate(authed)
	f.registry.MarkAuthenticated(authed, nil, "worker-1")
	f.registry.GetOrCreate(pending)
	require.NoError(t, f.table.Bind(authed.RemoteAddr(), authed))

	f.deps = Dependencies{
		Endpoints:    f.registry,
		Bindings:     f.table,
		Disconnector: f.disconnector,
		Admissions:   f.admissions,
		Checks: []handlers.Check{
			{Name: "engine", Fn: func(context.Context) error { return nil }},
		},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("clustergate_up 1\n"))
		}),
	}
	return f
}

func do(t *testing.T, h http.Handler, method, path, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	return env
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	router := NewRouter(f.deps)

	w := do(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w).Status)

	w = do(t, router, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadiness_FailingCheck(t *testing.T) {
	f := newFixture(t)
	f.deps.Checks = append(f.deps.Checks, handlers.Check{
		Name: "database",
		Fn:   func(context.Context) error { return errors.New("connection refused") },
	})

	w := do(t, NewRouter(f.deps), http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	env := decode(t, w)
	assert.Equal(t, "unhealthy", env.Status)
	var results []handlers.ComponentHealth
	require.NoError(t, json.Unmarshal(env.Data, &results))
	require.Len(t, results, 2)
	assert.Equal(t, "healthy", results[0].Status)
	assert.Equal(t, "connection refused", results[1].Error)
}

func TestReadiness_NoChecks(t *testing.T) {
	w := do(t, NewRouter(Dependencies{}), http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	w := do(t, NewRouter(f.deps), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "clustergate_up 1")

	f.deps.Metrics = nil
	w = do(t, NewRouter(f.deps), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEndpoints_List(t *testing.T) {
	f := newFixture(t)
	router := NewRouter(f.deps)

	tests := []struct {
		query string
		want  []uint64
	}{
		{"", []uint64{1, 2}},
		{"?authenticated=true", []uint64{1}},
		{"?authenticated=false", []uint64{2}},
	}
	for _, tt := range tests {
		t.Run("filter"+tt.query, func(t *testing.T) {
			w := do(t, router, http.MethodGet, "/api/v1/endpoints"+tt.query, "")
			require.Equal(t, http.StatusOK, w.Code)

			var eps []endpoint.Endpoint
			require.NoError(t, json.Unmarshal(decode(t, w).Data, &eps))
			ids := make([]uint64, 0, len(eps))
			for _, ep := range eps {
				ids = append(ids, ep.ConnID)
			}
			assert.ElementsMatch(t, tt.want, ids)
		})
	}

	w := do(t, router, http.MethodGet, "/api/v1/endpoints?authenticated=maybe", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEndpoints_Get(t *testing.T) {
	f := newFixture(t)
	router := NewRouter(f.deps)

	w := do(t, router, http.MethodGet, "/api/v1/endpoints/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var ep endpoint.Endpoint
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &ep))
	assert.True(t, ep.Authenticated)
	assert.Equal(t, "worker-1", ep.Principal)

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/v1/endpoints/99", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/api/v1/endpoints/abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/api/v1/endpoints/0", "").Code)
}

func TestEndpoints_Disconnect(t *testing.T) {
	f := newFixture(t)
	router := NewRouter(f.deps)

	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodDelete, "/api/v1/endpoints/1", "").Code)
	assert.Equal(t, []uint64{1}, f.disconnector.ids)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodDelete, "/api/v1/endpoints/2", "").Code)
}

func TestBindings(t *testing.T) {
	f := newFixture(t)

	w := do(t, NewRouter(f.deps), http.MethodGet, "/api/v1/bindings", "")
	require.Equal(t, http.StatusOK, w.Code)

	var bindings []cluster.Binding
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &bindings))
	require.Len(t, bindings, 1)
	assert.Equal(t, cluster.Address{Host: "10.0.0.1", Port: 5701}, bindings[0].Address)
	assert.Equal(t, uint64(1), bindings[0].ConnID)
}

func TestAdmissions(t *testing.T) {
	f := newFixture(t)
	router := NewRouter(f.deps)

	w := do(t, router, http.MethodGet, "/api/v1/admissions?limit=5000", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1000, f.admissions.limit)

	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/api/v1/admissions?limit=-1", "").Code)

	f.admissions.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, do(t, router, http.MethodGet, "/api/v1/admissions", "").Code)

	f.deps.Admissions = nil
	assert.Equal(t, http.StatusNotFound, do(t, NewRouter(f.deps), http.MethodGet, "/api/v1/admissions", "").Code)
}

func TestBearerAuth(t *testing.T) {
	backend, err := token.New(token.Config{Secret: testSecret})
	require.NoError(t, err)

	f := newFixture(t)
	f.deps.Auth = backend
	router := NewRouter(f.deps)

	admin, _, err := backend.Issue("admin", time.Minute)
	require.NoError(t, err)
	member, _, err := backend.Issue("worker-1", time.Minute)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, do(t, router, http.MethodGet, "/api/v1/bindings", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, router, http.MethodGet, "/api/v1/bindings", "garbage").Code)
	assert.Equal(t, http.StatusForbidden, do(t, router, http.MethodGet, "/api/v1/bindings", member).Code)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/api/v1/bindings", admin).Code)

	// Health stays open.
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/health", "").Code)
}

func TestAPIConfigDefaults(t *testing.T) {
	var cfg APIConfig
	assert.True(t, cfg.IsEnabled())

	cfg.ApplyDefaults()
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.IdleTimeout)

	disabled := false
	cfg.Enabled = &disabled
	assert.False(t, cfg.IsEnabled())
}

func TestServer_StartStop(t *testing.T) {
	srv := NewServer(APIConfig{BindAddress: "127.0.0.1", Port: 18089}, Dependencies{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:18089/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.NoError(t, srv.Stop(context.Background()))
	assert.Equal(t, 18089, srv.Port())
}
