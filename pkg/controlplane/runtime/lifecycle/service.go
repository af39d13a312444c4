package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/clustergate/internal/logger"
)

// DefaultShutdownTimeout is the default timeout for graceful shutdown.
const DefaultShutdownTimeout = 30 * time.Second

// MemberServer is the client-facing protocol server. Serve returns once ctx
// is cancelled and connections have drained.
type MemberServer interface {
	Serve(ctx context.Context) error
}

// AuxiliaryServer is an interface for auxiliary HTTP servers (API).
type AuxiliaryServer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Port() int
}

// Task is a background loop that runs until ctx is cancelled.
type Task func(ctx context.Context) error

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

type task struct {
	name string
	fn   Task
}

// Service orchestrates member startup and graceful shutdown.
type Service struct {
	shutdownTimeout time.Duration
	apiServer       AuxiliaryServer
	tasks           []task
	closers         []closer

	// serveOnce ensures Serve() is only called once
	serveOnce sync.Once
	served    bool
}

// New creates a new lifecycle service.
func New(shutdownTimeout time.Duration) *Service {
	if shutdownTimeout == 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Service{
		shutdownTimeout: shutdownTimeout,
	}
}

// SetAPIServer sets the admin HTTP server.
// Must be called before Serve().
func (s *Service) SetAPIServer(server AuxiliaryServer) {
	if s.served {
		panic("cannot set API server after Serve() has been called")
	}
	s.apiServer = server
	if server != nil {
		logger.Info("API server registered", "port", server.Port())
	}
}

// AddTask registers a background loop started by Serve.
// Must be called before Serve().
func (s *Service) AddTask(name string, fn Task) {
	if s.served {
		panic("cannot add task after Serve() has been called")
	}
	s.tasks = append(s.tasks, task{name: name, fn: fn})
}

// AddCloser registers a component released after the servers stop. Closers
// run in reverse registration order.
func (s *Service) AddCloser(name string, fn func(ctx context.Context) error) {
	s.closers = append(s.closers, closer{name: name, fn: fn})
}

// Serve starts all components and blocks until shutdown. A cancelled ctx is a
// clean shutdown and yields nil.
func (s *Service) Serve(ctx context.Context, member MemberServer) error {
	err := errors.New("lifecycle: Serve already called")

	s.serveOnce.Do(func() {
		s.served = true
		err = s.serve(ctx, member)
	})

	return err
}

func (s *Service) serve(ctx context.Context, member MemberServer) error {
	logger.Info("Starting clustergate member")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := member.Serve(gctx); err != nil {
			return fmt.Errorf("member server: %w", err)
		}
		return nil
	})

	if s.apiServer != nil {
		g.Go(func() error {
			if err := s.apiServer.Start(gctx); err != nil {
				return fmt.Errorf("API server: %w", err)
			}
			return nil
		})
	}

	for _, t := range s.tasks {
		g.Go(func() error {
			logger.Debug("Background task started", "task", t.name)
			if err := t.fn(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("task %s: %w", t.name, err)
			}
			return nil
		})
	}

	serveErr := g.Wait()
	if serveErr != nil {
		logger.Error("Member failed - shutting down", logger.KeyError, serveErr)
	} else {
		logger.Info("Shutdown signal received", "reason", context.Cause(ctx))
	}

	s.shutdown()

	logger.Info("clustergate member stopped")
	return serveErr
}

// shutdown releases registered components within the shutdown timeout.
func (s *Service) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	for i := len(s.closers) - 1; i >= 0; i-- {
		c := s.closers[i]
		logger.Debug("Closing component", "component", c.name)
		if err := c.fn(ctx); err != nil {
			logger.Warn("Error closing component", "component", c.name, logger.KeyError, err)
		}
	}
}
