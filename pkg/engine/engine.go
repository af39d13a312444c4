// Package engine runs cluster operations asynchronously on a fixed set of
// partition workers.
//
// Operations that share a partition key execute one at a time in submission
// order on the same worker; operations on different partitions run in
// parallel. Submit never blocks: when the engine is not running or the target
// partition queue is full it returns ErrUnavailable.
package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/clustergate/internal/logger"
	"github.com/marmos91/clustergate/internal/telemetry"
)

var (
	// ErrUnavailable is returned by Submit when the operation cannot be queued.
	ErrUnavailable = errors.New("engine: unavailable")

	// ErrAlreadyStarted is returned by Start on a running or stopped engine.
	ErrAlreadyStarted = errors.New("engine: already started")

	// ErrOperationPanicked wraps a panic recovered from Operation.Run.
	ErrOperationPanicked = errors.New("engine: operation panicked")
)

// Operation is a unit of asynchronous cluster work.
type Operation interface {
	// Name identifies the operation kind in logs and metrics.
	Name() string

	// PartitionKey selects the worker. Equal keys are serialized.
	PartitionKey() string

	// Run executes the operation. ctx is cancelled when a Stop deadline
	// expires.
	Run(ctx context.Context) error
}

// FailureHandler is implemented by operations that want to react to their
// own failure after Run returned an error (or panicked).
type FailureHandler interface {
	OnFailure(ctx context.Context, err error)
}

// Metrics receives engine activity. A nil Metrics disables collection.
type Metrics interface {
	RecordSubmitted(op string)
	RecordRejected(op string)
	RecordCompleted(op string, err error)
	SetQueueDepth(depth int)
}

// Config controls engine sizing.
type Config struct {
	// Partitions is the number of workers. Default: 8.
	Partitions int

	// QueueSize is the per-partition queue capacity. Default: 1024.
	QueueSize int
}

func (c *Config) applyDefaults() {
	if c.Partitions <= 0 {
		c.Partitions = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
}

type state int32

const (
	stateNew state = iota
	stateRunning
	stateStopped
)

// Stats is a snapshot of engine counters.
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Rejected  uint64 `json:"rejected"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Queued    int    `json:"queued"`
}

// Engine is a partitioned worker pool.
//
// Thread safety: all methods are safe for concurrent use.
type Engine struct {
	config  Config
	metrics Metrics

	// mu guards state and the queue channels against close during send.
	mu     sync.RWMutex
	state  state
	queues []chan Operation

	group  *errgroup.Group
	cancel context.CancelFunc
	done   chan struct{}

	submitted atomic.Uint64
	rejected  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// New creates an engine in the stopped-before-start state.
func New(config Config, metrics Metrics) *Engine {
	config.applyDefaults()

	queues := make([]chan Operation, config.Partitions)
	for i := range queues {
		queues[i] = make(chan Operation, config.QueueSize)
	}

	return &Engine{
		config:  config,
		metrics: metrics,
		queues:  queues,
		done:    make(chan struct{}),
	}
}

// Start launches the partition workers. Operations run with a context derived
// from ctx.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateNew {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.group = new(errgroup.Group)

	for i, q := range e.queues {
		e.group.Go(func() error {
			e.worker(runCtx, i, q)
			return nil
		})
	}
	go func() {
		_ = e.group.Wait()
		cancel()
		close(e.done)
	}()

	e.state = stateRunning
	logger.Info("Operation engine started",
		"partitions", e.config.Partitions, "queue_size", e.config.QueueSize)
	return nil
}

// Submit queues op on its partition without blocking.
func (e *Engine) Submit(op Operation) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.state != stateRunning {
		e.reject(op)
		return fmt.Errorf("%w: not running", ErrUnavailable)
	}

	q := e.queues[e.partition(op.PartitionKey())]
	select {
	case q <- op:
		e.submitted.Add(1)
		if e.metrics != nil {
			e.metrics.RecordSubmitted(op.Name())
			e.metrics.SetQueueDepth(e.queuedLocked())
		}
		return nil
	default:
		e.reject(op)
		return fmt.Errorf("%w: partition queue full", ErrUnavailable)
	}
}

func (e *Engine) reject(op Operation) {
	e.rejected.Add(1)
	if e.metrics != nil {
		e.metrics.RecordRejected(op.Name())
	}
}

// Stop refuses new operations and waits for queued ones to finish. When ctx
// expires first, running operations see their context cancelled, the
// remaining queue is failed and ctx.Err() is returned.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case stateNew:
		e.state = stateStopped
		close(e.done)
		e.mu.Unlock()
		return nil
	case stateStopped:
		e.mu.Unlock()
		<-e.done
		return nil
	}
	e.state = stateStopped
	for _, q := range e.queues {
		close(q)
	}
	e.mu.Unlock()

	logger.Debug("Operation engine draining", "queued", e.Queued())

	select {
	case <-e.done:
		logger.Info("Operation engine stopped")
		return nil
	case <-ctx.Done():
		e.cancel()
		<-e.done
		logger.Warn("Operation engine stop deadline exceeded", logger.KeyError, ctx.Err())
		return ctx.Err()
	}
}

// Running reports whether Submit currently accepts operations.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == stateRunning
}

// Queued returns the number of queued, not yet started operations.
func (e *Engine) Queued() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.queuedLocked()
}

func (e *Engine) queuedLocked() int {
	n := 0
	for _, q := range e.queues {
		n += len(q)
	}
	return n
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Submitted: e.submitted.Load(),
		Rejected:  e.rejected.Load(),
		Completed: e.completed.Load(),
		Failed:    e.failed.Load(),
		Queued:    e.Queued(),
	}
}

func (e *Engine) partition(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(e.queues)))
}

func (e *Engine) worker(ctx context.Context, id int, q <-chan Operation) {
	for op := range q {
		opCtx, span := telemetry.StartOperationSpan(ctx, op.Name(), id)

		var err error
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		} else {
			err = e.execute(opCtx, op)
		}
		telemetry.RecordError(opCtx, err)
		e.finish(opCtx, id, op, err)
		span.End()
	}
}

func (e *Engine) execute(ctx context.Context, op Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Operation panicked",
				logger.KeyOperation, op.Name(),
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrOperationPanicked, r)
		}
	}()
	return op.Run(ctx)
}

func (e *Engine) finish(ctx context.Context, id int, op Operation, err error) {
	if e.metrics != nil {
		e.metrics.RecordCompleted(op.Name(), err)
		e.metrics.SetQueueDepth(e.Queued())
	}

	if err == nil {
		e.completed.Add(1)
		return
	}

	e.failed.Add(1)
	logger.Warn("Operation failed",
		logger.KeyOperation, op.Name(),
		logger.KeyPartition, id,
		logger.KeyError, err)

	if h, ok := op.(FailureHandler); ok {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Operation failure handler panicked", logger.KeyOperation, op.Name(), "panic", r)
				}
			}()
			h.OnFailure(context.WithoutCancel(ctx), err)
		}()
	}
}
