// Package service owns the run lifecycle behind the API: it starts one run
// at a time, tracks its live metrics and persists the result.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gateway-fm/txdriver/internal/account"
	"github.com/gateway-fm/txdriver/internal/chain"
	"github.com/gateway-fm/txdriver/internal/config"
	"github.com/gateway-fm/txdriver/internal/driver"
	"github.com/gateway-fm/txdriver/internal/harness"
	"github.com/gateway-fm/txdriver/internal/metrics"
	"github.com/gateway-fm/txdriver/internal/storage"
	"github.com/gateway-fm/txdriver/pkg/types"
)

// Errors returned by StartRun.
var (
	ErrRunActive      = errors.New("a run is already active")
	ErrInvalidRequest = errors.New("invalid run request")
)

const (
	sampleInterval = time.Second
	stopTimeout    = 10 * time.Second
	persistTimeout = 30 * time.Second
	probeTimeout   = 5 * time.Second
)

// Options are the optional collaborators of a Manager.
type Options struct {
	Store      storage.Storage            // nil disables persistence
	Prometheus *metrics.PrometheusMetrics // nil disables Prometheus export
	Logger     *slog.Logger
	// NewRunID overrides run id generation.
	NewRunID func() string
}

// Manager runs one load run at a time.
type Manager struct {
	cfg    *config.Config
	dir    *account.Directory
	dialer chain.Dialer
	store  storage.Storage
	prom   *metrics.PrometheusMetrics
	logger *slog.Logger
	newID  func() string

	mu      sync.RWMutex
	status  types.RunStatus
	current *activeRun
	last    *types.RunResult
}

// activeRun is the state of the run in flight, or of the last finished one.
type activeRun struct {
	id        string
	req       types.StartRunRequest
	cfg       *config.Config
	workers   int
	started   time.Time
	runner    *harness.Runner
	collector *metrics.Collector
	journal   *storage.Journal
	cancel    context.CancelFunc
	done      chan struct{}

	mu     sync.Mutex
	series []storage.TimeSeriesPoint
	errMsg string
	ended  time.Time
}

// NewManager creates a manager over a loaded directory and a dialer.
func NewManager(cfg *config.Config, dir *account.Directory, dialer chain.Dialer, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newID := opts.NewRunID
	if newID == nil {
		newID = uuid.NewString
	}
	m := &Manager{
		cfg:    cfg,
		dir:    dir,
		dialer: dialer,
		store:  opts.Store,
		prom:   opts.Prometheus,
		logger: logger,
		newID:  newID,
		status: types.StatusIdle,
	}
	if m.prom != nil {
		m.prom.SetRunStatus(types.StatusIdle)
	}
	return m
}

// StartRun validates req against the configuration and starts the run in
// the background. It returns the new run id.
func (m *Manager) StartRun(req types.StartRunRequest) (string, error) {
	cfg, err := m.cfg.WithRequest(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	builder, err := cfg.Builder()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	workers := cfg.Workers
	if workers == 0 {
		workers = m.dir.Len()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == types.StatusRunning || m.status == types.StatusStopping {
		return "", ErrRunActive
	}

	run := &activeRun{
		id:        m.newID(),
		req:       req,
		cfg:       cfg,
		workers:   workers,
		collector: metrics.NewCollector(),
		done:      make(chan struct{}),
	}
	run.journal = storage.NewJournal(run.id, 0)

	observers := driver.Observers{run.collector, run.journal}
	if m.prom != nil {
		m.prom.Reset()
		observers = append(observers, m.prom)
	}

	runner, err := harness.New(harness.Config{
		Workers:       workers,
		Duration:      cfg.Duration,
		MaxIterations: cfg.MaxIterations,
		Pacing:        cfg.Pacing,
		PerWorkerRate: cfg.PerWorkerRate,
		FailurePause:  cfg.FailurePause,
		Directory:     m.dir,
		Dialer:        m.dialer,
		Builder:       builder,
		Policy:        cfg.RetryPolicy(),
		Reconcile:     cfg.Reconcile,
		StartTokenID:  cfg.StartToken(),
		DialTimeout:   cfg.DialTimeout,
		Observer:      observers,
		Logger:        m.logger.With("run_id", run.id),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	run.runner = runner
	run.started = time.Now()

	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := m.store.CreateRun(ctx, m.resultOf(run, types.StatusRunning))
		cancel()
		if err != nil {
			return "", fmt.Errorf("record run: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	run.cancel = cancel
	m.current = run
	m.setStatusLocked(types.StatusRunning)
	if m.prom != nil {
		m.prom.SetActiveWorkers(workers)
	}

	go m.execute(ctx, run)

	m.logger.Info("run started",
		slog.String("run_id", run.id),
		slog.String("type", string(cfg.Scenario)),
		slog.Int("workers", workers),
		slog.Duration("duration", cfg.Duration),
	)
	return run.id, nil
}

func (m *Manager) setStatusLocked(s types.RunStatus) {
	m.status = s
	if m.prom != nil {
		m.prom.SetRunStatus(s)
	}
}

// execute drives the run to completion and persists it.
func (m *Manager) execute(ctx context.Context, run *activeRun) {
	defer close(run.done)
	defer run.cancel()

	sampleDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.sample(run, sampleDone)
	}()

	sum, err := run.runner.Run(ctx)
	close(sampleDone)
	wg.Wait()

	status := types.StatusCompleted
	run.mu.Lock()
	run.ended = time.Now()
	if err != nil && !errors.Is(err, context.Canceled) {
		status = types.StatusError
		run.errMsg = err.Error()
	}
	run.mu.Unlock()

	m.logger.Info("run finished",
		slog.String("run_id", run.id),
		slog.String("status", string(status)),
		slog.Int64("submitted", sum.Submitted),
		slog.Int64("failed", sum.Failed),
		slog.Float64("tps", sum.TPS()),
	)

	result := m.resultOf(run, status)
	m.persist(run, result)

	m.mu.Lock()
	m.last = result
	m.setStatusLocked(status)
	m.mu.Unlock()
	if m.prom != nil {
		m.prom.SetActiveWorkers(0)
		m.prom.SetCurrentTPS(0)
	}
}

// sample records one time-series point per interval until done is closed.
func (m *Manager) sample(run *activeRun, done <-chan struct{}) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			var snap types.RunMetrics
			run.collector.Fill(&snap)
			target := run.runner.CurrentRate()
			if m.prom != nil {
				m.prom.SetCurrentTPS(snap.CurrentTPS)
				m.prom.SetTargetTPS(target)
			}
			run.mu.Lock()
			run.series = append(run.series, storage.TimeSeriesPoint{
				TimestampMs: now.Sub(run.started).Milliseconds(),
				Iterations:  snap.Iterations,
				Submitted:   snap.TxSubmitted,
				Failed:      snap.TxFailed,
				CurrentTPS:  snap.CurrentTPS,
				TargetTPS:   target,
			})
			run.mu.Unlock()
		}
	}
}

func (m *Manager) persist(run *activeRun, result *types.RunResult) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := m.store.CompleteRun(ctx, result); err != nil {
		m.logger.Error("failed to save run result", slog.String("run_id", run.id), slog.String("error", err.Error()))
	}
	run.mu.Lock()
	series := append([]storage.TimeSeriesPoint(nil), run.series...)
	run.mu.Unlock()
	if err := m.store.BulkInsertTimeSeries(ctx, run.id, series); err != nil {
		m.logger.Error("failed to save time series", slog.String("run_id", run.id), slog.String("error", err.Error()))
	}
	if err := run.journal.Flush(ctx, m.store); err != nil {
		m.logger.Error("failed to save submission journal", slog.String("run_id", run.id), slog.String("error", err.Error()))
	}
	if n := run.journal.Dropped(); n > 0 {
		m.logger.Warn("submission journal was truncated", slog.String("run_id", run.id), slog.Int64("dropped", n))
	}
}

// resultOf builds the stored form of run.
func (m *Manager) resultOf(run *activeRun, status types.RunStatus) *types.RunResult {
	var snap types.RunMetrics
	run.collector.Fill(&snap)

	run.mu.Lock()
	ended, errMsg := run.ended, run.errMsg
	run.mu.Unlock()

	res := &types.RunResult{
		ID:              run.id,
		StartedAt:       run.started,
		CompletedAt:     ended,
		Status:          status,
		TransactionType: run.cfg.Scenario,
		Workers:         run.workers,
		DurationMs:      run.cfg.Duration.Milliseconds(),
		Iterations:      snap.Iterations,
		TxSubmitted:     snap.TxSubmitted,
		TxFailed:        snap.TxFailed,
		Failures:        snap.Failures,
		PeakTPS:         snap.PeakTPS,
		Latency:         snap.Latency,
		Error:           errMsg,
		Config:          run.req,
	}
	if !ended.IsZero() {
		if elapsed := ended.Sub(run.started).Seconds(); elapsed > 0 {
			res.AverageTPS = float64(snap.TxSubmitted) / elapsed
		}
	}
	return res
}

// StopRun cancels the active run and waits for it to finish, up to a timeout.
// It is a no-op when no run is active.
func (m *Manager) StopRun() {
	m.mu.Lock()
	run := m.current
	if run == nil || m.status != types.StatusRunning {
		m.mu.Unlock()
		return
	}
	m.setStatusLocked(types.StatusStopping)
	m.mu.Unlock()

	run.cancel()
	select {
	case <-run.done:
		m.logger.Info("run stopped", slog.String("run_id", run.id))
	case <-time.After(stopTimeout):
		m.logger.Warn("stop timeout, some workers may still be running", slog.Duration("timeout", stopTimeout))
	}
}

// Wait blocks until the active run finishes or ctx is done, and returns its result.
func (m *Manager) Wait(ctx context.Context) (*types.RunResult, error) {
	m.mu.RLock()
	run := m.current
	m.mu.RUnlock()
	if run == nil {
		return nil, errors.New("no run started")
	}
	select {
	case <-run.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, nil
}

// Metrics returns live metrics of the active run, or the final metrics of the last one.
func (m *Manager) Metrics() types.RunMetrics {
	m.mu.RLock()
	status, run := m.status, m.current
	m.mu.RUnlock()

	out := types.RunMetrics{Status: status}
	if run == nil {
		return out
	}
	run.collector.Fill(&out)

	run.mu.Lock()
	ended, errMsg := run.ended, run.errMsg
	run.mu.Unlock()

	end := time.Now()
	if !ended.IsZero() {
		end = ended
		out.CurrentTPS = 0
	}
	elapsed := end.Sub(run.started)

	out.RunID = run.id
	out.TransactionType = run.cfg.Scenario
	out.Workers = run.workers
	out.DurationMs = run.cfg.Duration.Milliseconds()
	out.ElapsedMs = elapsed.Milliseconds()
	out.TargetTPS = run.runner.CurrentRate()
	out.Error = errMsg
	if elapsed > 0 {
		out.AverageTPS = float64(out.TxSubmitted) / elapsed.Seconds()
	}
	return out
}

// Status returns the manager's run status.
func (m *Manager) Status() types.RunStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

var errNoStore = errors.New("run history is not enabled")

// History returns stored runs, newest first.
func (m *Manager) History(ctx context.Context, limit, offset int) (*storage.PaginatedRuns, error) {
	if m.store == nil {
		return nil, errNoStore
	}
	return m.store.ListRuns(ctx, limit, offset)
}

// Run returns one stored run.
func (m *Manager) Run(ctx context.Context, id string) (*types.RunResult, error) {
	if m.store == nil {
		return nil, errNoStore
	}
	return m.store.GetRun(ctx, id)
}

// Submissions returns the journaled submissions of a run.
func (m *Manager) Submissions(ctx context.Context, id string, limit, offset int) (*storage.PaginatedSubmissions, error) {
	if m.store == nil {
		return nil, errNoStore
	}
	return m.store.GetSubmissions(ctx, id, limit, offset)
}

// TimeSeries returns the per-second samples of a run.
func (m *Manager) TimeSeries(ctx context.Context, id string) ([]storage.TimeSeriesPoint, error) {
	if m.store == nil {
		return nil, errNoStore
	}
	return m.store.GetTimeSeries(ctx, id)
}

// DeleteRun removes a stored run. The active run cannot be deleted.
func (m *Manager) DeleteRun(ctx context.Context, id string) error {
	if m.store == nil {
		return errNoStore
	}
	m.mu.RLock()
	active := m.current != nil && m.current.id == id &&
		(m.status == types.StatusRunning || m.status == types.StatusStopping)
	m.mu.RUnlock()
	if active {
		return ErrRunActive
	}
	return m.store.DeleteRun(ctx, id)
}

// CheckRPC dials the endpoint with the first account and reads its nonce.
func (m *Manager) CheckRPC(ctx context.Context) error {
	acc, err := m.dir.AccountAt(0)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	client, err := m.dialer(ctx, acc.PrivateKey)
	if err != nil {
		return err
	}
	defer client.Close()
	_, err = client.PendingNonce(ctx)
	return err
}
