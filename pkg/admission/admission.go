// Package admission turns an anonymous member connection into an
// authenticated, cluster-addressable client.
//
// A Handler extracts a credential from an AUTH request, decides it with either
// the configured security backend or the cluster group fallback, records the
// result in the endpoint registry and, on success, submits a bind of the
// connection's address to the operation engine. The response is produced as
// soon as the bind is submitted; bind completion is not awaited.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/clustergate/internal/logger"
	"github.com/marmos91/clustergate/internal/telemetry"
	"github.com/marmos91/clustergate/pkg/cluster"
	"github.com/marmos91/clustergate/pkg/controlplane/models"
	"github.com/marmos91/clustergate/pkg/credential"
	"github.com/marmos91/clustergate/pkg/endpoint"
	"github.com/marmos91/clustergate/pkg/security"
)

// Status is the outcome reported to the client. Error responses carry no
// detail.
type Status uint32

const (
	StatusSuccess Status = iota
	StatusError
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}
	return "error"
}

// Request is an inbound authentication request. Args is used by the group
// fallback, Payload by a security backend.
type Request struct {
	Args    []string
	Payload []byte
}

// Response is the admission result sent back to the client.
type Response struct {
	Status Status
}

// Admission outcomes, as logged, counted and audited.
const (
	OutcomeAuthenticated = "authenticated"
	OutcomeRejected      = "rejected"
	OutcomeInconsistent  = "inconsistent"
	OutcomeMalformed     = "malformed"
	OutcomeBindFailed    = "bind_failed"
)

var (
	// ErrMalformedRequest is returned when the group fallback receives fewer
	// than two arguments. No authentication logic runs.
	ErrMalformedRequest = errors.New("admission: malformed request")

	// ErrDecode is returned when a backend payload cannot be decoded into a
	// credential. It is a malformed request, not an authentication failure.
	ErrDecode = fmt.Errorf("admission: %w", credential.ErrDecode)

	// ErrEngineUnavailable is returned when the bind could not be submitted
	// after the credential was accepted. The admission is revoked.
	ErrEngineUnavailable = fmt.Errorf("admission: %w", cluster.ErrEngineUnavailable)

	errNilCredential = errors.New("admission: nil credential reached decision")
)

// Registry is the subset of the endpoint registry used during admission.
type Registry interface {
	GetOrCreate(conn cluster.Connection) (endpoint.Endpoint, bool)
	MarkAuthenticated(conn cluster.Connection, sess security.Session, principal string) endpoint.Endpoint
	Remove(id uint64) bool
	Count() int
	AuthenticatedCount() int
}

// Binder submits the binding of a connection's address.
type Binder interface {
	Bind(addr cluster.Address, conn cluster.Connection) error
}

// Metrics records admission attempts. Implementations must tolerate a nil
// receiver.
type Metrics interface {
	RecordAttempt(mechanism, outcome string, d time.Duration)
	SetEndpoints(total, authenticated int)
}

// Auditor persists admission outcomes. Record must not block.
type Auditor interface {
	Record(event *models.AdmissionEvent)
}

// Group is the cluster group identity checked when no backend is configured.
type Group struct {
	Name     string
	Password string
}

// Config wires a Handler. Backend selects the decision strategy once: when nil
// the Group comparison is used for every request.
type Config struct {
	Backend  security.Backend
	Group    Group
	Registry Registry
	Binder   Binder

	// Optional.
	Metrics Metrics
	Auditor Auditor
}

// Handler processes AUTH requests.
//
// Thread safety: safe for concurrent use. Requests for different connections
// proceed in parallel. The backend is called without any registry lock held.
type Handler struct {
	strategy strategy
	registry Registry
	binder   Binder
	metrics  Metrics
	auditor  Auditor
}

// New creates a Handler from cfg.
func New(cfg Config) (*Handler, error) {
	if cfg.Registry == nil {
		return nil, errors.New("admission: registry is required")
	}
	if cfg.Binder == nil {
		return nil, errors.New("admission: binder is required")
	}

	var s strategy
	if cfg.Backend != nil {
		s = &backendStrategy{backend: cfg.Backend}
	} else {
		s = &groupStrategy{groupName: []byte(cfg.Group.Name), groupPassword: []byte(cfg.Group.Password)}
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &Handler{
		strategy: s,
		registry: cfg.Registry,
		binder:   cfg.Binder,
		metrics:  metrics,
		auditor:  cfg.Auditor,
	}, nil
}

// Strategy returns "backend:<name>" or "group".
func (h *Handler) Strategy() string {
	return h.strategy.name()
}

// Authenticate runs one admission attempt for conn.
//
// The returned error is non-nil for malformed requests (ErrMalformedRequest,
// ErrDecode) and for bind submission failures (ErrEngineUnavailable). A
// rejected credential yields StatusError with a nil error.
func (h *Handler) Authenticate(ctx context.Context, conn cluster.Connection, req Request) (Response, error) {
	start := time.Now()

	ctx, span := telemetry.StartAdmissionSpan(ctx, conn.ID(),
		telemetry.ClientAddr(conn.RemoteAddr().String()),
		telemetry.Backend(h.strategy.name()))
	defer span.End()

	cred, err := h.strategy.extract(req)
	if err != nil {
		telemetry.SetAttributes(ctx, telemetry.Outcome(OutcomeMalformed))
		telemetry.RecordError(ctx, err)
		h.metrics.RecordAttempt(credentialMechanism(cred), OutcomeMalformed, time.Since(start))
		logger.DebugCtx(ctx, "Malformed admission request",
			logger.KeyConnID, conn.ID(),
			logger.KeyError, err)
		return Response{Status: StatusError}, err
	}

	ok, err := h.doAuthenticate(ctx, cred, conn)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return Response{Status: StatusError}, err
	}
	if !ok {
		return Response{Status: StatusError}, nil
	}
	return Response{Status: StatusSuccess}, nil
}

// doAuthenticate decides cred and applies the result to the registry. On
// success the bind is submitted but not awaited.
func (h *Handler) doAuthenticate(ctx context.Context, cred *credential.Credential, conn cluster.Connection) (bool, error) {
	start := time.Now()
	mechanism := credentialMechanism(cred)

	lc := logger.FromContext(ctx)
	if lc == nil {
		lc = logger.NewLogContext(conn.ID(), conn.RemoteAddr().String())
	}
	ctx = logger.WithContext(ctx, lc.WithMechanism(mechanism).WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx)))
	telemetry.SetAttributes(ctx, telemetry.Mechanism(mechanism))

	var v verdict
	if cred == nil {
		v = verdict{outcome: OutcomeInconsistent, err: errNilCredential}
	} else {
		h.registry.GetOrCreate(conn)
		v = h.strategy.decide(ctx, cred, conn)
	}

	if v.outcome != OutcomeAuthenticated {
		h.registry.Remove(conn.ID())
		h.finish(ctx, conn, mechanism, v, start)
		return false, nil
	}

	h.registry.MarkAuthenticated(conn, v.session, v.principal)

	if err := h.binder.Bind(conn.RemoteAddr(), conn); err != nil {
		// Removal logs out the session stored above.
		h.registry.Remove(conn.ID())
		v = verdict{outcome: OutcomeBindFailed, principal: v.principal, err: err}
		h.finish(ctx, conn, mechanism, v, start)
		return false, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	h.finish(ctx, conn, mechanism, v, start)
	return true, nil
}

// finish emits the single outcome record of an attempt that reached the
// decision step.
func (h *Handler) finish(ctx context.Context, conn cluster.Connection, mechanism string, v verdict, start time.Time) {
	elapsed := time.Since(start)

	telemetry.SetAttributes(ctx, telemetry.Outcome(v.outcome))
	if v.principal != "" {
		telemetry.SetAttributes(ctx, telemetry.Principal(v.principal))
	}

	level := logger.LevelWarn
	msg := "Client authentication failed"
	switch v.outcome {
	case OutcomeAuthenticated:
		level, msg = logger.LevelInfo, "Client authenticated"
	case OutcomeInconsistent:
		level, msg = logger.LevelError, "Client admission inconsistent"
	case OutcomeBindFailed:
		level, msg = logger.LevelError, "Client bind submission failed"
	}

	args := []any{logger.KeyOutcome, v.outcome, logger.KeyDurationMs, float64(elapsed.Microseconds()) / 1000.0}
	if v.principal != "" {
		args = append(args, logger.KeyPrincipal, v.principal)
	}
	if v.err != nil {
		args = append(args, logger.KeyError, v.err)
	}
	logger.LogCtx(ctx, level, msg, args...)

	h.metrics.RecordAttempt(mechanism, v.outcome, elapsed)
	h.metrics.SetEndpoints(h.registry.Count(), h.registry.AuthenticatedCount())

	if h.auditor != nil {
		h.auditor.Record(&models.AdmissionEvent{
			ID:         uuid.New().String(),
			ConnID:     conn.ID(),
			RemoteAddr: conn.RemoteAddr().String(),
			Mechanism:  mechanism,
			Principal:  v.principal,
			Outcome:    v.outcome,
			CreatedAt:  time.Now(),
		})
	}
}

func credentialMechanism(cred *credential.Credential) string {
	if cred == nil {
		return "none"
	}
	return cred.MechanismName()
}

type noopMetrics struct{}

func (noopMetrics) RecordAttempt(string, string, time.Duration) {}
func (noopMetrics) SetEndpoints(int, int)                       {}
