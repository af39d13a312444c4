package cluster

import (
	"context"
	"fmt"

	"github.com/marmos91/clustergate/internal/logger"
	"github.com/marmos91/clustergate/internal/telemetry"
	"github.com/marmos91/clustergate/pkg/engine"
)

// Submitter queues operations on the operation engine.
type Submitter interface {
	Submit(op engine.Operation) error
}

// Reconciler revokes a client whose bind failed after admission succeeded.
type Reconciler interface {
	Revoke(ctx context.Context, conn Connection, reason error)
}

// ReconcilerFunc adapts a function to Reconciler.
type ReconcilerFunc func(ctx context.Context, conn Connection, reason error)

// Revoke calls f.
func (f ReconcilerFunc) Revoke(ctx context.Context, conn Connection, reason error) {
	f(ctx, conn, reason)
}

// BindOperation binds Address to Conn in the routing table when run by the
// engine.
type BindOperation struct {
	Address Address
	Conn    Connection

	table      *RoutingTable
	reconciler Reconciler
}

var (
	_ engine.Operation      = (*BindOperation)(nil)
	_ engine.FailureHandler = (*BindOperation)(nil)
)

// Name returns "bind".
func (op *BindOperation) Name() string {
	return "bind"
}

// PartitionKey serializes binds for the same address.
func (op *BindOperation) PartitionKey() string {
	return op.Address.String()
}

// Run performs the binding.
func (op *BindOperation) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := telemetry.StartBindSpan(ctx, op.Address.String(), telemetry.ConnID(op.Conn.ID()))
	defer span.End()

	if err := op.table.Bind(op.Address, op.Conn); err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("bind %s: %w", op.Address, err)
	}
	logger.Debug("Client bound",
		logger.KeyConnID, op.Conn.ID(),
		logger.KeyAddress, op.Address.String())
	return nil
}

// OnFailure hands the connection to the reconciler.
func (op *BindOperation) OnFailure(ctx context.Context, err error) {
	if op.reconciler == nil {
		return
	}
	ctx, span := telemetry.StartReconcileSpan(ctx, op.Conn.ID(), op.Address.String())
	defer span.End()
	op.reconciler.Revoke(ctx, op.Conn, err)
}

// BindDispatcher submits bind operations.
type BindDispatcher struct {
	submitter  Submitter
	table      *RoutingTable
	reconciler Reconciler
}

// NewBindDispatcher creates a dispatcher. reconciler may be nil.
func NewBindDispatcher(submitter Submitter, table *RoutingTable, reconciler Reconciler) *BindDispatcher {
	return &BindDispatcher{submitter: submitter, table: table, reconciler: reconciler}
}

// Bind submits a BindOperation for addr and conn. It does not wait for the
// operation to run.
func (d *BindDispatcher) Bind(addr Address, conn Connection) error {
	op := &BindOperation{
		Address:    addr,
		Conn:       conn,
		table:      d.table,
		reconciler: d.reconciler,
	}
	if err := d.submitter.Submit(op); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return nil
}

// Unbind drops the routing entries held by conn.
func (d *BindDispatcher) Unbind(conn Connection) int {
	return d.table.Unbind(conn)
}

// Table returns the routing table.
func (d *BindDispatcher) Table() *RoutingTable {
	return d.table
}
