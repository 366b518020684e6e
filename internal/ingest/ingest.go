// Package ingest runs the economic data ingest daemon: a pool of dataset
// workers feeding PostgreSQL and the Prometheus metrics endpoint, tied
// together with a two-stage shutdown.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DatasetWorkers processes allow-listed datasets until the context is
// canceled.
type DatasetWorkers interface {
	Run(ctx context.Context) error
}

// MetricsServer serves the Prometheus registry over HTTP.
type MetricsServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
	Close() error
}

// Service supervises the dataset workers and the metrics server.
//
// Shutdown happens in two stages: draining stops the workers and lets
// in-flight uploads finish, a hard cancel interrupts everything. Drain is
// bounded by the teardown grace so one stuck subsystem cannot hold the
// service open forever.
type Service struct {
	workers DatasetWorkers
	metrics MetricsServer

	// Hard stop. Parent of drainCtx.
	ctx    context.Context
	cancel context.CancelFunc

	// Graceful stop.
	drainCtx    context.Context
	drainCancel context.CancelCauseFunc

	teardownGrace time.Duration

	running chan struct{}
}

var (
	// errStopped is the drain cause when the service is told to quit.
	errStopped = errors.New("ingest service stopped")

	// ErrTeardownTimeout is returned when a subsystem does not stop within
	// the teardown grace. A force Quit may be required to clean up.
	ErrTeardownTimeout = errors.New("ingest service teardown timed out")
)

type options struct {
	teardownGrace time.Duration
}

// Option tweaks the creation of the Service.
type Option func(*options)

// New creates the ingest service around the given workers and metrics server.
func New(ctx context.Context, workers DatasetWorkers, metrics MetricsServer, args ...Option) *Service {
	opts := options{
		teardownGrace: 2 * time.Minute,
	}
	for _, arg := range args {
		arg(&opts)
	}

	ctx, cancel := context.WithCancel(ctx)
	drainCtx, drainCancel := context.WithCancelCause(ctx)

	running := make(chan struct{})
	close(running) // Not running yet, Quit must not block.

	return &Service{
		workers: workers,
		metrics: metrics,

		ctx:         ctx,
		cancel:      cancel,
		drainCtx:    drainCtx,
		drainCancel: drainCancel,

		teardownGrace: opts.teardownGrace,

		running: running,
	}
}

// Run starts both subsystems and blocks until they have stopped, or until
// one of them has been stuck for the teardown grace after the other ended.
func (s *Service) Run() error {
	select {
	case <-s.drainCtx.Done():
		return fmt.Errorf("ingest service not started: %w", context.Cause(s.drainCtx))
	default:
	}

	slog.Info("Economic ingest service started")
	s.running = make(chan struct{})
	defer close(s.running)
	defer s.cancel()

	results := make(chan error, 2)
	go func() { results <- s.superviseWorkers() }()
	go func() { results <- s.superviseMetrics() }()

	first := <-results
	slog.Info("Waiting for the remaining ingest subsystem to stop")

	select {
	case second := <-results:
		return errors.Join(first, second)
	case <-time.After(s.teardownGrace):
		slog.Warn("Ingest service teardown timed out")
		return errors.Join(first, ErrTeardownTimeout)
	}
}

// superviseWorkers runs the dataset workers and initiates a drain once they
// stop for any reason.
func (s *Service) superviseWorkers() error {
	slog.Info("Starting dataset workers")
	defer s.drainCancel(nil)

	err := s.workers.Run(s.drainCtx)
	if err != nil && !errors.Is(err, s.drainCtx.Err()) {
		slog.Error("Dataset workers failed", "err", err)
		return fmt.Errorf("dataset workers error: %v", err)
	}
	slog.Info("Dataset workers stopped")
	return nil
}

// superviseMetrics serves the metrics endpoint until a stop is requested or
// serving fails, then initiates a drain.
func (s *Service) superviseMetrics() error {
	slog.Info("Starting metrics server")
	defer s.drainCancel(nil)

	serveErr := make(chan error, 1)
	go func() {
		defer close(serveErr)
		if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-s.drainCtx.Done():
		// A hard stop skips the drain entirely.
		if s.ctx.Err() != nil {
			slog.Info("Closing metrics server")
			s.metrics.Close()
			return nil
		}
		slog.Info("Draining metrics server")
		if err := s.metrics.Shutdown(s.ctx); err != nil && s.ctx.Err() == nil {
			slog.Error("Metrics server drain failed", "err", err)
			return fmt.Errorf("metrics server shutdown error: %v", err)
		}
	case err := <-serveErr:
		if err != nil {
			slog.Error("Metrics server failed", "err", err)
			return fmt.Errorf("metrics server error: %v", err)
		}
	}
	slog.Info("Metrics server stopped")
	return nil
}

// Quit stops the service and blocks until Run has returned. A forced quit
// interrupts in-flight work instead of draining it.
func (s *Service) Quit(force bool) {
	slog.Info("Stopping ingest service", "force", force)

	if force {
		s.cancel()
		s.metrics.Close()
	} else {
		s.drainCancel(errStopped)
	}

	<-s.running
}
