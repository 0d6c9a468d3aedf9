// Package driver runs the per-worker iteration: resolve the worker's account,
// reuse its session, resolve the nonce, pick a target, build an intent and
// submit it. Every failure is contained in the iteration that hit it.
package driver

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/txdriver/internal/account"
	"github.com/gateway-fm/txdriver/internal/chain"
	"github.com/gateway-fm/txdriver/internal/nonce"
	"github.com/gateway-fm/txdriver/internal/retry"
	"github.com/gateway-fm/txdriver/internal/session"
	"github.com/gateway-fm/txdriver/internal/txbuilder"
)

// Config configures a Worker.
type Config struct {
	WorkerIndex int
	Directory   *account.Directory
	Dialer      chain.Dialer
	Builder     txbuilder.Builder
	// Sequencer resolves nonces. Nil uses a sequencer without reconciliation.
	Sequencer *nonce.Sequencer
	// Policy bounds every network operation. A zero policy means DefaultPolicy.
	Policy       retry.Policy
	Rand         account.IntSource
	StartTokenID *big.Int
	DialTimeout  time.Duration
	Observer     Observer
	Logger       *slog.Logger
}

// Worker drives iterations for one account. A Worker is not safe for
// concurrent use: the harness gives each goroutine its own.
type Worker struct {
	index       int
	dir         *account.Directory
	dial        chain.Dialer
	builder     txbuilder.Builder
	seq         *nonce.Sequencer
	policy      retry.Policy
	rnd         account.IntSource
	startToken  *big.Int
	dialTimeout time.Duration
	observer    Observer
	logger      *slog.Logger

	session *session.Session
}

// NewWorker creates a worker. It does not touch the network.
func NewWorker(cfg Config) (*Worker, error) {
	if cfg.Directory == nil {
		return nil, errors.New("driver: directory is required")
	}
	if cfg.Dialer == nil {
		return nil, errors.New("driver: dialer is required")
	}
	if cfg.Builder == nil {
		return nil, errors.New("driver: builder is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := cfg.Policy
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	seq := cfg.Sequencer
	if seq == nil {
		seq = nonce.NewSequencer(policy, nonce.ReconcilePolicy{}, logger)
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = account.NewRand()
	}

	return &Worker{
		index:       cfg.WorkerIndex,
		dir:         cfg.Directory,
		dial:        cfg.Dialer,
		builder:     cfg.Builder,
		seq:         seq,
		policy:      policy,
		rnd:         rnd,
		startToken:  cfg.StartTokenID,
		dialTimeout: cfg.DialTimeout,
		observer:    cfg.Observer,
		logger:      logger.With(slog.Int("worker", cfg.WorkerIndex)),
	}, nil
}

// Index returns the worker index.
func (w *Worker) Index() int {
	return w.index
}

// Session returns the worker's session, or nil before the first iteration
// that resolved an account.
func (w *Worker) Session() *session.Session {
	return w.session
}

// sessionFor returns the session bound to acc, creating it on first use.
func (w *Worker) sessionFor(acc *account.Account) *session.Session {
	if w.session == nil || w.session.Account != acc {
		w.session = session.New(w.index, acc, w.dial, session.Options{
			DialTimeout:  w.dialTimeout,
			StartTokenID: w.startToken,
		})
	}
	return w.session
}

// Iterate runs one iteration and reports what happened. It never panics on
// network or validation failures; those end the iteration with the session
// nonce unchanged.
func (w *Worker) Iterate(ctx context.Context) (out Outcome) {
	out = Outcome{
		WorkerIndex: w.index,
		Type:        w.builder.Type(),
		Trace:       []State{StateStart},
		StartedAt:   time.Now(),
	}
	state := StateStart
	enter := func(s State) {
		state = s
		out.Trace = append(out.Trace, s)
	}
	fail := func(kind ErrorKind, op string, err error) Outcome {
		out.Kind = kind
		out.Err = &IterationError{Kind: kind, State: state, Err: err}
		attrs := []any{
			slog.String("kind", string(kind)),
			slog.String("op", op),
			slog.String("state", state.String()),
			slog.String("error", err.Error()),
		}
		if out.Address != (common.Address{}) {
			attrs = append(attrs, slog.String("address", out.Address.Hex()))
		}
		if out.Interrupted() {
			w.logger.Debug("Iteration interrupted", attrs...)
		} else {
			w.logger.Warn("Iteration aborted", attrs...)
		}
		return out
	}
	defer func() {
		out.Trace = append(out.Trace, StateDone)
		out.Duration = time.Since(out.StartedAt)
		if w.observer != nil {
			w.observer.ObserveIteration(out)
		}
	}()

	acc, err := w.dir.AccountAt(w.index)
	if err != nil {
		return fail(KindAccountNotFound, "resolve_account", err)
	}
	out.Address = acc.Address
	enter(StateAccountResolved)

	s := w.sessionFor(acc)
	client, err := s.Client(ctx)
	if err != nil {
		return fail(KindClientConstructionFailed, "dial", err)
	}
	enter(StateSessionReady)

	n, err := w.seq.Ensure(ctx, s, client)
	if err != nil {
		return fail(KindNonceFetchFailed, "fetch_nonce", err)
	}
	out.Nonce = n
	enter(StateNonceReady)

	to := account.PickTarget(w.dir, w.rnd)
	enter(StateTargetChosen)

	params := txbuilder.Params{
		From:      acc.Address,
		Recipient: to,
		Nonce:     n,
		TokenID:   s.TokenID(),
	}
	out.TokenID = params.TokenID
	if w.builder.NeedsGasPrice() {
		res := retry.Do(ctx, w.policy, w.logger, "fetch_gas_price", client.GasPrice)
		if !res.OK() {
			return fail(KindFeeFetchFailed, "fetch_gas_price", res.Err)
		}
		params.GasPrice = res.Value
	}

	intent, err := w.builder.Build(params)
	if err != nil {
		return fail(KindBuildValidationFailed, "build", err)
	}
	enter(StateIntentBuilt)

	submitStart := time.Now()
	res := retry.Do(ctx, w.policy, w.logger, "send_transaction", func(ctx context.Context) (common.Hash, error) {
		return client.Send(ctx, intent)
	})
	out.SubmitLatency = time.Since(submitStart)
	out.Attempts = res.Attempts
	if !res.OK() {
		if w.seq.HandleSubmitError(s, res.Err) {
			w.logger.Info("Nonce resync scheduled", slog.Uint64("nonce", n))
		}
		return fail(KindSubmissionFailed, "send_transaction", res.Err)
	}

	out.TxHash = res.Value
	enter(StateSubmitted)
	w.seq.Advance(s)
	s.AdvanceTokenID()

	w.logger.Info("Transaction submitted",
		slog.String("address", acc.Address.Hex()),
		slog.String("tx_hash", out.TxHash.Hex()),
		slog.String("type", string(out.Type)),
		slog.Uint64("nonce", n),
		slog.Int("attempts", res.Attempts),
	)
	return out
}

// Close releases the session's client.
func (w *Worker) Close() {
	if w.session != nil {
		w.session.Close()
	}
}
