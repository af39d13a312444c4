package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcOp struct {
	name string
	key  string
	run  func(ctx context.Context) error

	mu        sync.Mutex
	failedErr error
}

func (o *funcOp) Name() string         { return o.name }
func (o *funcOp) PartitionKey() string { return o.key }
func (o *funcOp) Run(ctx context.Context) error {
	return o.run(ctx)
}

func (o *funcOp) OnFailure(_ context.Context, err error) {
	o.mu.Lock()
	o.failedErr = err
	o.mu.Unlock()
}

func (o *funcOp) failure() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failedErr
}

func startEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e := New(cfg, nil)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e
}

func TestSubmit_NotStarted(t *testing.T) {
	e := New(Config{}, nil)
	err := e.Submit(&funcOp{name: "noop", key: "k", run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, uint64(1), e.Stats().Rejected)
}

func TestStart_Twice(t *testing.T) {
	e := startEngine(t, Config{Partitions: 1})
	assert.ErrorIs(t, e.Start(context.Background()), ErrAlreadyStarted)
}

func TestSubmit_PartitionOrder(t *testing.T) {
	e := startEngine(t, Config{Partitions: 4, QueueSize: 128})

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		i := i
		require.NoError(t, e.Submit(&funcOp{name: "seq", key: "same", run: func(context.Context) error {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}}))
	}
	wg.Wait()

	require.Len(t, order, 100)
	for i := range order {
		assert.Equal(t, i, order[i])
	}
}

func TestSubmit_QueueFull(t *testing.T) {
	e := startEngine(t, Config{Partitions: 1, QueueSize: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	block := &funcOp{name: "block", key: "k", run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	require.NoError(t, e.Submit(block))
	<-started

	noop := func(context.Context) error { return nil }
	require.NoError(t, e.Submit(&funcOp{name: "queued", key: "k", run: noop}))
	err := e.Submit(&funcOp{name: "overflow", key: "k", run: noop})
	assert.ErrorIs(t, err, ErrUnavailable)

	close(release)
}

func TestFailureHandler(t *testing.T) {
	e := startEngine(t, Config{Partitions: 2})

	boom := errors.New("boom")
	done := make(chan struct{})

	op := &funcOp{name: "fail", key: "k", run: func(context.Context) error { return boom }}
	require.NoError(t, e.Submit(op))

	panicker := &funcOp{name: "panic", key: "k", run: func(context.Context) error {
		defer close(done)
		panic("kaboom")
	}}
	require.NoError(t, e.Submit(panicker))

	<-done
	require.Eventually(t, func() bool { return panicker.failure() != nil }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, op.failure(), boom)
	assert.ErrorIs(t, panicker.failure(), ErrOperationPanicked)
	assert.Equal(t, uint64(2), e.Stats().Failed)
}

func TestStop_DrainsQueue(t *testing.T) {
	e := New(Config{Partitions: 2, QueueSize: 64}, nil)
	require.NoError(t, e.Start(context.Background()))

	var ran atomic.Int32
	for i := 0; i < 50; i++ {
		require.NoError(t, e.Submit(&funcOp{name: "n", key: string(rune('a' + i%5)), run: func(context.Context) error {
			ran.Add(1)
			return nil
		}}))
	}

	require.NoError(t, e.Stop(context.Background()))
	assert.Equal(t, int32(50), ran.Load())
	assert.False(t, e.Running())

	err := e.Submit(&funcOp{name: "late", key: "a", run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NoError(t, e.Stop(context.Background()), "second stop")
}

func TestStop_Deadline(t *testing.T) {
	e := New(Config{Partitions: 1, QueueSize: 8}, nil)
	require.NoError(t, e.Start(context.Background()))

	started := make(chan struct{})
	slow := &funcOp{name: "slow", key: "k", run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}
	pending := &funcOp{name: "pending", key: "k", run: func(context.Context) error { return nil }}
	require.NoError(t, e.Submit(slow))
	require.NoError(t, e.Submit(pending))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Stop(ctx), context.DeadlineExceeded)

	assert.ErrorIs(t, slow.failure(), context.Canceled)
	assert.ErrorIs(t, pending.failure(), ErrUnavailable)
}

func TestPartition_Stable(t *testing.T) {
	e := New(Config{Partitions: 16}, nil)
	assert.Equal(t, e.partition("10.0.0.1:5701"), e.partition("10.0.0.1:5701"))
	p := e.partition("x")
	assert.GreaterOrEqual(t, p, 0)
	assert.Less(t, p, 16)
}
