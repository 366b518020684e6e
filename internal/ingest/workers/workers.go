// Package workers runs one ingest worker per allow-listed dataset.
//
// Each worker polls its dataset directory for pending files and hands them to
// the processor. The set of workers follows the configuration allow-list,
// resynced with a debounce whenever the configuration changes on disk.
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// resyncDebounce absorbs bursts of configuration change events.
	resyncDebounce = 5 * time.Second

	// pollInterval is the idle wait between successful processing passes.
	pollInterval = 5 * time.Second

	// Failed passes retry with jittered exponential backoff.
	baseBackoff = 5 * time.Second
	maxBackoff  = 30 * time.Second
)

type dConfigManager interface {
	Watch(context.Context) (<-chan struct{}, <-chan error, error)
	AllowList() []string
	IsAllowed(string) bool
}

type dProcessor interface {
	Process(ctx context.Context, dataset string) error
}

// Pool supervises the per-dataset workers.
type Pool struct {
	cm   dConfigManager
	proc dProcessor

	mu       sync.Mutex
	workers  map[string]context.CancelFunc
	workerWG sync.WaitGroup

	activeWorkers prometheus.Gauge
}

// New creates a worker pool reading its allow-list from cm and delegating
// file processing to proc.
func New(cm dConfigManager, proc dProcessor, reg prometheus.Registerer) (*Pool, error) {
	activeWorkers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_active_workers",
		Help: "Number of active dataset workers in the ingest service.",
	})
	if err := reg.Register(activeWorkers); err != nil {
		return nil, fmt.Errorf("failed to register active workers gauge: %v", err)
	}

	return &Pool{
		cm:            cm,
		proc:          proc,
		workers:       make(map[string]context.CancelFunc),
		activeWorkers: activeWorkers,
	}, nil
}

// Run starts a worker per allow-listed dataset and keeps the set in step
// with configuration reloads. It blocks until the context is canceled and
// all workers have drained, or until the configuration watch breaks.
//
// The returned error is never nil: a context error on shutdown, a watch
// error otherwise.
func (p *Pool) Run(ctx context.Context) error {
	slog.Info("Dataset worker pool started")

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reloads, watchErrs, err := p.cm.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watch configuration: %v", err)
	}

	p.syncWorkers(ctx)

	debounce := time.NewTimer(resyncDebounce)
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping dataset workers")
			p.workerWG.Wait()
			return ctx.Err()

		case _, ok := <-reloads:
			if !ok {
				return fmt.Errorf("configuration reload channel closed unexpectedly")
			}
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(resyncDebounce)

		case <-debounce.C:
			slog.Info("Resyncing dataset workers after configuration change")
			p.syncWorkers(ctx)
			slog.Debug("Dataset workers resynced")

		case err, ok := <-watchErrs:
			if !ok {
				return fmt.Errorf("configuration watch error channel closed unexpectedly")
			}
			if err != nil {
				slog.Error("Configuration watcher error", "err", err)
			}
		}
	}
}

// syncWorkers stops workers for datasets that left the allow-list and starts
// workers for datasets that joined it.
func (p *Pool) syncWorkers(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for dataset, cancel := range p.workers {
		if !p.cm.IsAllowed(dataset) {
			slog.Info("Stopping dataset worker", "dataset", dataset)
			cancel()
			delete(p.workers, dataset)
		}
	}

	for _, dataset := range p.cm.AllowList() {
		if _, ok := p.workers[dataset]; ok {
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("Shutting down, not starting further dataset workers")
			return
		default:
		}

		dsCtx, cancel := context.WithCancel(ctx)
		p.workers[dataset] = cancel
		slog.Info("Starting dataset worker", "dataset", dataset)
		p.workerWG.Add(1)
		go p.datasetWorker(dsCtx, dataset)
	}
}

// datasetWorker processes pending files for one dataset until ctx is
// canceled, backing off after failed passes.
func (p *Pool) datasetWorker(ctx context.Context, dataset string) {
	defer p.workerWG.Done()

	p.activeWorkers.Inc()
	defer p.activeWorkers.Dec()

	backoff := baseBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := p.proc.Process(ctx, dataset); err != nil {
			slog.Warn("Dataset processing pass failed", "dataset", dataset, "err", err)
			// #nosec:G404 jitter does not need cryptographic randomness.
			wait := time.Duration(rand.Int63n(int64(backoff)))
			backoff = min(backoff*2, maxBackoff)
			if !p.sleep(ctx, wait) {
				slog.Debug("Dataset worker stopped", "dataset", dataset)
				return
			}
			continue
		}

		backoff = baseBackoff
		if !p.sleep(ctx, pollInterval) {
			slog.Debug("Dataset worker stopped", "dataset", dataset)
			return
		}
	}
}

// sleep waits for d or until ctx is canceled. It reports whether the full
// wait elapsed.
func (p *Pool) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
