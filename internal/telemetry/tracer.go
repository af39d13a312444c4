package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys. Client keys follow OpenTelemetry semantic conventions.
const (
	AttrClientAddr = "client.address"
	AttrConnID     = "member.conn_id"
	AttrCommand    = "member.command"
	AttrStatus     = "member.status"

	AttrMechanism = "auth.mechanism"
	AttrBackend   = "auth.backend"
	AttrPrincipal = "auth.principal"
	AttrOutcome   = "admission.outcome"

	AttrBindAddress = "cluster.bind_address"
	AttrOperation   = "engine.operation"
	AttrPartition   = "engine.partition"
)

// Span names, formatted as <component>.<operation>.
const (
	SpanRequest   = "member.request"
	SpanAdmission = "admission.authenticate"
	SpanLogin     = "security.login"
	SpanBind      = "cluster.bind"
	SpanEngineRun = "engine.run"
	SpanReconcile = "cluster.reconcile"
)

func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

func ConnID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrConnID, int64(id))
}

func Command(name string) attribute.KeyValue {
	return attribute.String(AttrCommand, name)
}

func Status(status string) attribute.KeyValue {
	return attribute.String(AttrStatus, status)
}

func Mechanism(name string) attribute.KeyValue {
	return attribute.String(AttrMechanism, name)
}

func Backend(name string) attribute.KeyValue {
	return attribute.String(AttrBackend, name)
}

// Principal returns an attribute for the authenticated identity. Never pass
// secrets here.
func Principal(name string) attribute.KeyValue {
	return attribute.String(AttrPrincipal, name)
}

func Outcome(outcome string) attribute.KeyValue {
	return attribute.String(AttrOutcome, outcome)
}

func BindAddress(addr string) attribute.KeyValue {
	return attribute.String(AttrBindAddress, addr)
}

func Operation(name string) attribute.KeyValue {
	return attribute.String(AttrOperation, name)
}

func Partition(n int) attribute.KeyValue {
	return attribute.Int(AttrPartition, n)
}

// StartRequestSpan starts the root span for one framed member request.
func StartRequestSpan(ctx context.Context, command string, connID uint64, clientAddr string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, 3+len(attrs))
	all = append(all, Command(command), ConnID(connID))
	if clientAddr != "" {
		all = append(all, ClientAddr(clientAddr))
	}
	all = append(all, attrs...)

	return StartSpan(ctx, SpanRequest, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(all...))
}

// StartAdmissionSpan starts a span covering credential extraction,
// authentication and bind dispatch.
func StartAdmissionSpan(ctx context.Context, connID uint64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{ConnID(connID)}, attrs...)
	return StartSpan(ctx, SpanAdmission, trace.WithAttributes(all...))
}

// StartBindSpan starts a span for an asynchronous bind operation.
func StartBindSpan(ctx context.Context, address string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{BindAddress(address)}, attrs...)
	return StartSpan(ctx, SpanBind, trace.WithAttributes(all...))
}

// StartLoginSpan starts a span around a security backend session login.
func StartLoginSpan(ctx context.Context, backend string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanLogin, trace.WithAttributes(Backend(backend)))
}

// StartOperationSpan starts a span for one engine operation run on partition.
func StartOperationSpan(ctx context.Context, operation string, partition int) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanEngineRun, trace.WithAttributes(Operation(operation), Partition(partition)))
}

// StartReconcileSpan starts a span for revoking a client whose bind failed.
func StartReconcileSpan(ctx context.Context, connID uint64, address string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanReconcile, trace.WithAttributes(ConnID(connID), BindAddress(address)))
}
