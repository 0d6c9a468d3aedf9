// Package harness runs a fixed pool of workers for a bounded duration.
// Each worker owns one driver.Worker and calls Iterate back to back until
// the run ends.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/txdriver/internal/account"
	"github.com/gateway-fm/txdriver/internal/chain"
	"github.com/gateway-fm/txdriver/internal/driver"
	"github.com/gateway-fm/txdriver/internal/nonce"
	"github.com/gateway-fm/txdriver/internal/pacing"
	"github.com/gateway-fm/txdriver/internal/retry"
	"github.com/gateway-fm/txdriver/internal/txbuilder"
)

// Config configures a run.
type Config struct {
	Workers  int
	Duration time.Duration
	// MaxIterations caps iterations per worker. Zero means no cap.
	MaxIterations int64
	Pacing        pacing.ProfileConfig
	// PerWorkerRate caps each worker's iterations per second. Zero means no cap.
	PerWorkerRate float64
	// FailurePause is slept after a failed iteration.
	FailurePause time.Duration

	Directory    *account.Directory
	Dialer       chain.Dialer
	Builder      txbuilder.Builder
	Policy       retry.Policy
	Reconcile    nonce.ReconcilePolicy
	StartTokenID *big.Int
	DialTimeout  time.Duration
	Rand         account.IntSource
	Observer     driver.Observer
	Logger       *slog.Logger
}

// Validate checks the run configuration.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.Duration <= 0 && c.MaxIterations <= 0 {
		return errors.New("a run needs a duration or an iteration cap")
	}
	if c.Directory == nil || c.Directory.Len() == 0 {
		return errors.New("no accounts loaded")
	}
	if c.Dialer == nil {
		return errors.New("dialer is required")
	}
	if c.Builder == nil {
		return errors.New("builder is required")
	}
	if c.PerWorkerRate < 0 {
		return fmt.Errorf("per-worker rate must be >= 0, got %v", c.PerWorkerRate)
	}
	return c.Policy.Validate()
}

// Summary is the result of a finished run.
type Summary struct {
	Workers     int
	Iterations  int64
	Submitted   int64
	Failed      int64
	Interrupted int64
	Failures    map[driver.ErrorKind]int64
	Elapsed     time.Duration
}

// TPS returns submitted transactions per second over the run.
func (s Summary) TPS() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Submitted) / s.Elapsed.Seconds()
}

// Runner executes one run. A Runner is single-use.
type Runner struct {
	cfg    Config
	logger *slog.Logger
	pacer  *pacing.Pacer

	iterations  atomic.Int64
	submitted   atomic.Int64
	failed      atomic.Int64
	interrupted atomic.Int64

	mu       sync.Mutex
	failures map[driver.ErrorKind]int64
	started  atomic.Bool
}

// New validates cfg and prepares a runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = retry.DefaultPolicy()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}
	profile, err := pacing.NewProfile(cfg.Pacing, cfg.Duration)
	if err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:      cfg,
		logger:   logger,
		pacer:    pacing.NewPacer(profile),
		failures: make(map[driver.ErrorKind]int64),
	}, nil
}

// Run starts the workers and blocks until the duration elapses, every
// worker reaches its iteration cap, or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if !r.started.CompareAndSwap(false, true) {
		return Summary{}, errors.New("runner already started")
	}

	runCtx := ctx
	if r.cfg.Duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Duration)
		defer cancel()
	}

	if r.cfg.Workers > r.cfg.Directory.Len() {
		r.logger.Warn("More workers than accounts, extra workers will idle",
			slog.Int("workers", r.cfg.Workers),
			slog.Int("accounts", r.cfg.Directory.Len()),
		)
	}

	seq := nonce.NewSequencer(r.cfg.Policy, r.cfg.Reconcile, r.logger)
	observer := driver.Observers{driver.ObserverFunc(r.record), r.cfg.Observer}

	workers := make([]*driver.Worker, 0, r.cfg.Workers)
	for i := 0; i < r.cfg.Workers; i++ {
		w, err := driver.NewWorker(driver.Config{
			WorkerIndex:  i,
			Directory:    r.cfg.Directory,
			Dialer:       r.cfg.Dialer,
			Builder:      r.cfg.Builder,
			Sequencer:    seq,
			Policy:       r.cfg.Policy,
			Rand:         r.cfg.Rand,
			StartTokenID: r.cfg.StartTokenID,
			DialTimeout:  r.cfg.DialTimeout,
			Observer:     observer,
			Logger:       r.logger,
		})
		if err != nil {
			return Summary{}, fmt.Errorf("create worker %d: %w", i, err)
		}
		workers = append(workers, w)
	}

	r.logger.Info("Run started",
		slog.Int("workers", r.cfg.Workers),
		slog.Duration("duration", r.cfg.Duration),
		slog.String("type", string(r.cfg.Builder.Type())),
		slog.String("pacing", r.pacer.Profile().Name()),
	)

	start := time.Now()
	g, gctx := errgroup.WithContext(runCtx)
	for _, w := range workers {
		g.Go(func() error {
			defer w.Close()
			return r.work(gctx, w)
		})
	}
	err := g.Wait()
	elapsed := time.Since(start)

	sum := r.Snapshot()
	sum.Elapsed = elapsed
	r.logger.Info("Run finished",
		slog.Int64("iterations", sum.Iterations),
		slog.Int64("submitted", sum.Submitted),
		slog.Int64("failed", sum.Failed),
		slog.Duration("elapsed", elapsed),
	)

	// Reaching the duration is the normal end of a run.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return sum, ctxErr
	}
	return sum, err
}

// work is one worker's loop. It returns an error only for failures no later
// iteration can recover from; that error stops the other workers.
func (r *Runner) work(ctx context.Context, w *driver.Worker) error {
	var local pacing.Waiter
	if l := pacing.NewWorkerLimiter(r.cfg.PerWorkerRate); l != nil {
		local = l
	}

	for n := int64(0); r.cfg.MaxIterations <= 0 || n < r.cfg.MaxIterations; n++ {
		if err := r.pacer.Wait(ctx); err != nil {
			return nil
		}
		if local != nil {
			if err := local.Wait(ctx); err != nil {
				return nil
			}
		}

		out := w.Iterate(ctx)
		if out.Kind == driver.KindAccountNotFound {
			r.logger.Warn("Worker has no account, stopping", slog.Int("worker", w.Index()))
			return nil
		}
		if errors.Is(out.Err, chain.ErrUnsupportedEndpoint) {
			return fmt.Errorf("worker %d: %w", w.Index(), out.Err)
		}
		if !out.Succeeded() && r.cfg.FailurePause > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.cfg.FailurePause):
			}
		}
	}
	return nil
}

// record counts an outcome. Interrupted iterations are the run stopping
// and are not counted as failures.
func (r *Runner) record(o driver.Outcome) {
	if o.Interrupted() {
		r.interrupted.Add(1)
		return
	}
	r.iterations.Add(1)
	if o.Succeeded() {
		r.submitted.Add(1)
		return
	}
	r.failed.Add(1)
	r.mu.Lock()
	r.failures[o.Kind]++
	r.mu.Unlock()
}

// Snapshot returns the counts so far. Elapsed is left zero.
func (r *Runner) Snapshot() Summary {
	r.mu.Lock()
	failures := make(map[driver.ErrorKind]int64, len(r.failures))
	for k, v := range r.failures {
		failures[k] = v
	}
	r.mu.Unlock()
	return Summary{
		Workers:     r.cfg.Workers,
		Iterations:  r.iterations.Load(),
		Submitted:   r.submitted.Load(),
		Failed:      r.failed.Load(),
		Interrupted: r.interrupted.Load(),
		Failures:    failures,
	}
}

// CurrentRate returns the pacing rate in effect, zero when unpaced.
func (r *Runner) CurrentRate() float64 {
	return r.pacer.CurrentRate()
}
