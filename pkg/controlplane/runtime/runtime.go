// Package runtime assembles a cluster member from its configuration: the
// control plane store, the security backend, the operation engine, the
// endpoint registry, the bind dispatcher, the admission handler, the member
// protocol adapter and the admin API.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/marmos91/clustergate/internal/logger"
	"github.com/marmos91/clustergate/pkg/adapter"
	"github.com/marmos91/clustergate/pkg/adapter/member"
	"github.com/marmos91/clustergate/pkg/admission"
	"github.com/marmos91/clustergate/pkg/api"
	"github.com/marmos91/clustergate/pkg/api/handlers"
	"github.com/marmos91/clustergate/pkg/cluster"
	"github.com/marmos91/clustergate/pkg/config"
	"github.com/marmos91/clustergate/pkg/controlplane/runtime/lifecycle"
	"github.com/marmos91/clustergate/pkg/controlplane/store"
	"github.com/marmos91/clustergate/pkg/endpoint"
	"github.com/marmos91/clustergate/pkg/engine"
	"github.com/marmos91/clustergate/pkg/metrics"
	"github.com/marmos91/clustergate/pkg/metrics/prometheus"
	"github.com/marmos91/clustergate/pkg/security/token"
)

// PruneInterval is how often expired admission events are deleted.
const PruneInterval = time.Hour

// Runtime holds every component of a running member.
type Runtime struct {
	config *config.Config

	store    *store.GORMStore // nil unless audit or the password backend is used
	audit    *store.AuditRecorder
	security *securityComponents

	engine     *engine.Engine
	registry   *endpoint.Registry
	table      *cluster.RoutingTable
	dispatcher *cluster.BindDispatcher
	admission  *admission.Handler
	member     *member.Adapter
	apiServer  *api.Server

	lifecycleSvc *lifecycle.Service
}

// New builds a stopped runtime from a validated configuration.
func New(cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{
		config:       cfg,
		lifecycleSvc: lifecycle.New(cfg.ShutdownTimeout),
	}
	if err := rt.build(); err != nil {
		rt.closeEarly()
		return nil, err
	}

	logger.Info("Member runtime initialized",
		"group", cfg.Group.Name,
		"strategy", rt.admission.Strategy(),
		"partitions", cfg.Engine.Partitions)
	return rt, nil
}

func (rt *Runtime) build() (err error) {
	cfg := rt.config

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	if NeedsStore(cfg) {
		rt.store, err = store.New(&cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to open control plane store: %w", err)
		}
	}

	rt.security, err = initSecurity(cfg, rt.store)
	if err != nil {
		return err
	}

	if cfg.Audit.Enabled {
		rt.audit = store.NewAuditRecorder(rt.store, cfg.Audit.Buffer)
	}

	var engineMetrics engine.Metrics
	if m := prometheus.NewEngineMetrics(); m != nil {
		engineMetrics = m
	}
	rt.engine = engine.New(engine.Config{
		Partitions: cfg.Engine.Partitions,
		QueueSize:  cfg.Engine.QueueSize,
	}, engineMetrics)

	rt.registry = endpoint.NewRegistry(0)
	rt.table = cluster.NewRoutingTable()
	rt.dispatcher = cluster.NewBindDispatcher(rt.engine, rt.table, rt.registry)

	admissionCfg := admission.Config{
		Backend:  rt.security.backend,
		Group:    admission.Group{Name: cfg.Group.Name, Password: cfg.Group.Password},
		Registry: rt.registry,
		Binder:   rt.dispatcher,
		Metrics:  prometheus.NewAdmissionMetrics(),
	}
	if rt.audit != nil {
		admissionCfg.Auditor = rt.audit
	}
	rt.admission, err = admission.New(admissionCfg)
	if err != nil {
		return err
	}

	var connMetrics member.Metrics
	if m := prometheus.NewConnectionMetrics(); m != nil {
		connMetrics = m
	}
	rt.member = member.New(member.Config{
		BaseConfig: adapter.BaseConfig{
			BindAddress:        cfg.Server.BindAddress,
			Port:               cfg.Server.Port,
			MaxConnections:     cfg.Server.MaxConnections,
			ShutdownTimeout:    cfg.ShutdownTimeout,
			MetricsLogInterval: cfg.Server.MetricsLogInterval,
		},
		MaxFrameSize: int(cfg.Server.MaxFrameSize),
		Timeouts: member.TimeoutsConfig{
			Write: cfg.Server.Timeouts.Write,
			Idle:  cfg.Server.Timeouts.Idle,
		},
	}, rt.admission, rt.registry, rt.dispatcher, connMetrics)

	if cfg.API.IsEnabled() {
		rt.apiServer = api.NewServer(cfg.API, rt.apiDependencies())
		rt.lifecycleSvc.SetAPIServer(rt.apiServer)
	}

	rt.registerLifecycle()
	return nil
}

func (rt *Runtime) apiDependencies() api.Dependencies {
	deps := api.Dependencies{
		Endpoints:    rt.registry,
		Bindings:     rt.table,
		Disconnector: rt.member,
		Checks: []handlers.Check{
			{Name: "engine", Fn: func(context.Context) error {
				if !rt.engine.Running() {
					return engine.ErrUnavailable
				}
				return nil
			}},
		},
	}
	if rt.store != nil {
		deps.Checks = append(deps.Checks, handlers.Check{Name: "database", Fn: rt.store.Healthcheck})
		if rt.config.Audit.Enabled {
			deps.Admissions = rt.store
		}
	}
	if metrics.IsEnabled() {
		deps.Metrics = metrics.Handler()
	}
	if rt.config.API.RequireAuth && rt.security.tokens != nil {
		deps.Auth = rt.security.tokens
	}
	return deps
}

// registerLifecycle registers background tasks and closers. Closers run in
// reverse order: engine, endpoints, audit, store, kerberos.
func (rt *Runtime) registerLifecycle() {
	if rt.security.kerberos != nil {
		rt.lifecycleSvc.AddCloser("kerberos", func(context.Context) error {
			return rt.security.kerberos.Close()
		})
	}
	if rt.store != nil {
		rt.lifecycleSvc.AddCloser("store", func(context.Context) error {
			return rt.store.Close()
		})
	}
	if rt.audit != nil {
		rt.lifecycleSvc.AddCloser("audit", func(context.Context) error {
			rt.audit.Close()
			return nil
		})
		if rt.config.Audit.Retention > 0 {
			rt.lifecycleSvc.AddTask("audit-prune", rt.pruneAdmissions)
		}
	}
	rt.lifecycleSvc.AddCloser("endpoints", func(context.Context) error {
		if n := rt.registry.Clear(); n > 0 {
			logger.Info("Cleared client endpoints", "count", n)
		}
		return nil
	})
	rt.lifecycleSvc.AddCloser("engine", rt.engine.Stop)
}

// Serve starts the engine and all servers and blocks until ctx is cancelled
// or a server fails.
func (rt *Runtime) Serve(ctx context.Context) error {
	if err := rt.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	return rt.lifecycleSvc.Serve(ctx, rt.member)
}

// pruneAdmissions deletes audit events older than the retention period.
func (rt *Runtime) pruneAdmissions(ctx context.Context) error {
	ticker := time.NewTicker(PruneInterval)
	defer ticker.Stop()

	for {
		cutoff := time.Now().Add(-rt.config.Audit.Retention)
		if n, err := rt.store.PruneAdmissions(ctx, cutoff); err != nil {
			logger.Warn("Failed to prune admission events", logger.KeyError, err)
		} else if n > 0 {
			logger.Info("Pruned admission events", "count", n)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// closeEarly releases what New opened before failing.
func (rt *Runtime) closeEarly() {
	if rt.audit != nil {
		rt.audit.Close()
	}
	if rt.security != nil {
		rt.security.close()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
}

// Store returns the control plane store, or nil when none is configured.
func (rt *Runtime) Store() *store.GORMStore { return rt.store }

// Registry returns the client endpoint registry.
func (rt *Runtime) Registry() *endpoint.Registry { return rt.registry }

// Table returns the routing table.
func (rt *Runtime) Table() *cluster.RoutingTable { return rt.table }

// Admission returns the admission handler.
func (rt *Runtime) Admission() *admission.Handler { return rt.admission }

// Member returns the member protocol adapter.
func (rt *Runtime) Member() *member.Adapter { return rt.member }

// Tokens returns the token backend, or nil when no secret is configured.
func (rt *Runtime) Tokens() *token.Backend { return rt.security.tokens }

// Handler returns the admin API handler, for tests.
func (rt *Runtime) Handler() http.Handler { return api.NewRouter(rt.apiDependencies()) }
