package workers_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/abcore/econ-insights/internal/ingest/workers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cm   *stubConfig
		proc *recordingProcessor

		skipGaugeCheck bool
		wantErr        bool
	}{
		"Empty allow list": {},
		"Single dataset no errors": {
			cm: newStubConfig("current_account"),
		},
		"Multiple datasets no errors": {
			cm: newStubConfig("current_account", "trade_balance", "remittances"),
		},

		// Processor errors keep workers alive and retrying.
		"Single dataset with context canceled": {
			cm: newStubConfig("current_account"),
			proc: newRecordingProcessor(map[string]error{
				"current_account": context.Canceled,
			}),
			skipGaugeCheck: true,
		},
		"Single dataset with processing error": {
			cm: newStubConfig("current_account"),
			proc: newRecordingProcessor(map[string]error{
				"current_account": errors.New("requested processing error"),
			}),
		},
		"Multiple datasets with context canceled": {
			cm: newStubConfig("current_account", "trade_balance", "remittances"),
			proc: newRecordingProcessor(map[string]error{
				"current_account": context.Canceled,
				"trade_balance":   context.Canceled,
			}),
			skipGaugeCheck: true,
		},
		"Multiple datasets with processing errors": {
			cm: newStubConfig("current_account", "trade_balance", "remittances"),
			proc: newRecordingProcessor(map[string]error{
				"current_account": errors.New("error for current_account"),
				"trade_balance":   errors.New("error for trade_balance"),
			}),
		},

		// Configuration watch failures stop the pool.
		"Exits when the reload channel closes early": {
			cm: &stubConfig{
				allow:       []string{"current_account"},
				closeReload: true,
			},
			wantErr: true,
		},
		"Exits when the watch error channel closes early": {
			cm: &stubConfig{
				allow:          []string{"current_account"},
				closeWatchErrs: true,
			},
			wantErr: true,
		},
		"Exits when starting the watch fails": {
			cm: &stubConfig{
				allow:    []string{"current_account"},
				watchErr: errors.New("requested watch error"),
			},
			wantErr: true,
		},
		"Survives a late watcher error": {
			cm: &stubConfig{
				allow:        []string{"current_account"},
				lateWatchErr: errors.New("requested late watch error"),
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if tc.cm == nil {
				tc.cm = newStubConfig()
			}
			tc.cm.finalize()
			if tc.proc == nil {
				tc.proc = newRecordingProcessor(nil)
			}

			registry := prometheus.NewRegistry()
			pool, err := workers.New(tc.cm, tc.proc, registry)
			require.NoError(t, err, "Setup: failed to create worker pool")
			runErr := runPool(t.Context(), t, pool)

			if tc.wantErr {
				requirePoolError(t, runErr, true, 3*time.Second)
				return
			}

			var gauge prometheus.Collector
			if !tc.skipGaugeCheck {
				gauge = registry
			}
			waitWorkersEqual(t, pool, gauge, tc.cm.AllowList()...)

			// Every allow-listed dataset must see at least one processing pass.
			for _, dataset := range tc.cm.AllowList() {
				require.Eventually(t, func() bool {
					return tc.proc.callCount(dataset) > 0
				}, 3*time.Second, 50*time.Millisecond,
					"Dataset %s was never processed", dataset)
			}

			requirePoolError(t, runErr, false, 0)
		})
	}
}

// The pool must start and stop workers as datasets enter and leave the
// allow-list.
func TestRunFollowsAllowListChanges(t *testing.T) {
	t.Parallel()

	cm := newStubConfig("current_account")
	registry := prometheus.NewRegistry()
	pool, err := workers.New(cm, newRecordingProcessor(nil), registry)
	require.NoError(t, err, "Setup: failed to create worker pool")
	runPool(t.Context(), t, pool)

	waitWorkersEqual(t, pool, registry, cm.AllowList()...)

	cm.setAllowList(t, append(cm.AllowList(), "capital_account"), 3)
	waitWorkersEqual(t, pool, registry, cm.AllowList()...)

	cm.setAllowList(t, []string{}, 3)
	waitWorkersEqual(t, pool, registry)
}

func TestRunEarlyContextCancel(t *testing.T) {
	t.Parallel()

	cm := newStubConfig("current_account", "trade_balance", "remittances")
	proc := newRecordingProcessor(nil)

	ctx, cancel := context.WithCancel(t.Context())
	pool, err := workers.New(cm, proc, prometheus.NewRegistry())
	require.NoError(t, err, "Setup: failed to create worker pool")
	runErr := runPool(ctx, t, pool)

	requirePoolError(t, runErr, false, 50*time.Millisecond)

	cancel()

	select {
	case err := <-runErr:
		require.ErrorIs(t, err, ctx.Err(), "Expected context error after context cancellation")
	case <-time.After(3 * time.Second):
		require.Fail(t, "Pool did not exit after context cancellation")
	}
}

// requirePoolError waits for the given duration, failing if the pool's exit
// state does not match expectations.
func requirePoolError(t *testing.T, runErr chan error, expectErr bool, duration time.Duration) {
	t.Helper()

	select {
	case err := <-runErr:
		if expectErr {
			require.Error(t, err, "Expected error but got nil")
			return
		}
		require.Fail(t, "Pool stopped unexpectedly", err)
	case <-time.After(duration):
		require.False(t, expectErr, "Pool did not exit with an error within the expected duration")
	}
}

// waitWorkersEqual waits until the pool's active workers match the expected
// datasets, and until the active workers gauge agrees if one is provided.
func waitWorkersEqual(t *testing.T, pool *workers.Pool, gauge prometheus.Collector, datasets ...string) {
	t.Helper()
	const (
		delay   = 500 * time.Millisecond
		timeout = 8 * time.Second
	)

	start := time.Now()
	for {
		got := pool.WorkerNames()

		slices.Sort(got)
		slices.Sort(datasets)

		if slices.Equal(datasets, got) {
			if gauge == nil || len(datasets) == int(testutil.ToFloat64(gauge)) {
				return
			}
		}
		require.LessOrEqual(t, time.Since(start), timeout,
			"Workers did not match within the timeout. Wanted: %v, Got: %v", datasets, got)
		time.Sleep(delay)
	}
}

type stubConfig struct {
	allow    []string
	allowSet map[string]struct{}

	closeReload    bool
	closeWatchErrs bool
	watchErr       error
	lateWatchErr   error

	reload    chan struct{}
	watchErrs chan error

	mu sync.RWMutex
}

func newStubConfig(allow ...string) *stubConfig {
	cm := &stubConfig{allow: allow}
	cm.finalize()
	return cm
}

// finalize fills in the derived fields of a literal-constructed stub.
func (m *stubConfig) finalize() {
	if m.allowSet == nil {
		m.allowSet = make(map[string]struct{}, len(m.allow))
		for _, dataset := range m.allow {
			m.allowSet[dataset] = struct{}{}
		}
	}
	if m.reload == nil {
		m.reload = make(chan struct{})
	}
	if m.watchErrs == nil {
		m.watchErrs = make(chan error)
	}
}

func (m *stubConfig) Watch(ctx context.Context) (<-chan struct{}, <-chan error, error) {
	if m.watchErr != nil {
		return nil, nil, m.watchErr
	}

	if m.closeReload {
		close(m.reload)
	}
	if m.closeWatchErrs {
		close(m.watchErrs)
	} else if m.lateWatchErr != nil {
		go func() {
			time.Sleep(2 * time.Second)
			m.watchErrs <- m.lateWatchErr
		}()
	}
	return m.reload, m.watchErrs, nil
}

func (m *stubConfig) AllowList() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.allow)
}

func (m *stubConfig) IsAllowed(dataset string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.allowSet[dataset]
	return ok
}

func (m *stubConfig) setAllowList(t *testing.T, allow []string, reloadSignals uint) {
	t.Helper()

	m.mu.Lock()
	m.allow = allow
	m.allowSet = make(map[string]struct{}, len(allow))
	for _, dataset := range allow {
		m.allowSet[dataset] = struct{}{}
	}
	m.mu.Unlock()

	for range reloadSignals {
		require.NotNil(t, m.reload, "Setup: reload channel should not be nil")
		m.reload <- struct{}{}
	}
}

// runPool runs the worker pool in the background and returns the channel
// carrying its exit error. The channel is closed when Run returns.
func runPool(ctx context.Context, t *testing.T, pool *workers.Pool) chan error {
	t.Helper()

	runErr := make(chan error, 1)
	go func() {
		defer close(runErr)
		if err := pool.Run(ctx); err != nil {
			runErr <- err
		}
	}()

	// Allow some time for the pool to start.
	time.Sleep(50 * time.Millisecond)
	return runErr
}

// recordingProcessor counts processing passes per dataset and fails the
// datasets it has errors configured for.
type recordingProcessor struct {
	mu    sync.Mutex
	calls map[string]int
	errs  map[string]error
}

func newRecordingProcessor(errs map[string]error) *recordingProcessor {
	return &recordingProcessor{
		calls: make(map[string]int),
		errs:  errs,
	}
}

func (p *recordingProcessor) Process(ctx context.Context, dataset string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	p.mu.Lock()
	p.calls[dataset]++
	p.mu.Unlock()

	if err, ok := p.errs[dataset]; ok {
		return err
	}
	return nil
}

func (p *recordingProcessor) callCount(dataset string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[dataset]
}
