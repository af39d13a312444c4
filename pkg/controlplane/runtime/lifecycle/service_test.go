package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMember struct {
	err error
}

func (m *fakeMember) Serve(ctx context.Context) error {
	if m.err != nil {
		return m.err
	}
	<-ctx.Done()
	return nil
}

type fakeAPI struct {
	started chan struct{}
	stopped bool
}

func (a *fakeAPI) Start(ctx context.Context) error {
	close(a.started)
	<-ctx.Done()
	return a.Stop(context.Background())
}

func (a *fakeAPI) Stop(context.Context) error {
	a.stopped = true
	return nil
}

func (a *fakeAPI) Port() int { return 8080 }

func TestServe_CleanShutdown(t *testing.T) {
	svc := New(time.Second)
	api := &fakeAPI{started: make(chan struct{})}
	svc.SetAPIServer(api)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	svc.AddCloser("store", record("store"))
	svc.AddCloser("engine", record("engine"))

	ticks := make(chan struct{}, 1)
	svc.AddTask("ticker", func(ctx context.Context) error {
		ticks <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx, &fakeMember{}) }()

	<-api.started
	<-ticks
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.True(t, api.stopped)
	assert.Equal(t, []string{"engine", "store"}, order)
}

func TestServe_MemberFailure(t *testing.T) {
	svc := New(time.Second)
	closed := false
	svc.AddCloser("engine", func(context.Context) error {
		closed = true
		return nil
	})

	err := svc.Serve(context.Background(), &fakeMember{err: errors.New("address in use")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
	assert.True(t, closed)
}

func TestServe_OnlyOnce(t *testing.T) {
	svc := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, svc.Serve(ctx, &fakeMember{}))
	assert.Error(t, svc.Serve(ctx, &fakeMember{}))
	assert.Panics(t, func() { svc.SetAPIServer(&fakeAPI{}) })
}
