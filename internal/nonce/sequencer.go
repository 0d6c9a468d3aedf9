// Package nonce keeps each session's locally authoritative nonce sequence.
//
// The nonce is read from the network once per session and then advanced
// locally after every accepted submission. A failed submission leaves it
// unchanged. Optional reconciliation re-reads the network value and adopts it
// only when it is ahead of the cached one.
package nonce

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gateway-fm/txdriver/internal/chain"
	"github.com/gateway-fm/txdriver/internal/retry"
	"github.com/gateway-fm/txdriver/internal/rpc"
	"github.com/gateway-fm/txdriver/internal/session"
)

// ReconcilePolicy controls when a cached nonce is checked against the network.
// The zero value never reconciles.
type ReconcilePolicy struct {
	// Every re-reads the network nonce after this many successful advances. Zero disables.
	Every uint64 `yaml:"every" json:"every,omitempty"`
	// OnNonceError re-reads after a submission the node rejected for its nonce.
	OnNonceError bool `yaml:"on_nonce_error" json:"onNonceError,omitempty"`
}

// Enabled reports whether any reconciliation trigger is set.
func (p ReconcilePolicy) Enabled() bool {
	return p.Every > 0 || p.OnNonceError
}

// Sequencer resolves and advances session nonces.
type Sequencer struct {
	policy    retry.Policy
	reconcile ReconcilePolicy
	logger    *slog.Logger
}

// NewSequencer creates a sequencer that fetches under policy.
func NewSequencer(policy retry.Policy, reconcile ReconcilePolicy, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		policy:    policy,
		reconcile: reconcile,
		logger:    logger,
	}
}

// Ensure returns the session's nonce, fetching it from client when it is not
// yet known. Repeated calls without an Advance return the same value and make
// no network call. When a fetch fails after all attempts the session nonce
// stays unset and the error is returned.
//
// A pending resync re-reads the network nonce. The fetched value replaces the
// cache only when it is higher. If the resync fetch fails the cached value is
// kept and the resync stays pending.
func (q *Sequencer) Ensure(ctx context.Context, s *session.Session, client chain.Client) (uint64, error) {
	cached, ok := s.Nonce()
	if ok && !s.ResyncDue() {
		return cached, nil
	}

	res := retry.Do(ctx, q.policy, q.logger, "fetch_nonce", client.PendingNonce)
	if !res.OK() {
		if ok {
			q.logger.Warn("Nonce resync failed, keeping cached nonce",
				slog.Int("worker", s.WorkerIndex),
				slog.String("address", s.Account.Address.Hex()),
				slog.Uint64("nonce", cached),
				slog.String("error", res.Err.Error()),
			)
			return cached, nil
		}
		return 0, fmt.Errorf("fetch nonce for %s: %w", s.Account.Address.Hex(), res.Err)
	}

	fetched := res.Value
	if ok && fetched < cached {
		q.logger.Debug("Network nonce behind cached nonce",
			slog.Int("worker", s.WorkerIndex),
			slog.Uint64("cached", cached),
			slog.Uint64("network", fetched),
		)
		s.SetNonce(cached)
		return cached, nil
	}
	if ok && fetched != cached {
		q.logger.Info("Nonce resynced",
			slog.Int("worker", s.WorkerIndex),
			slog.String("address", s.Account.Address.Hex()),
			slog.Uint64("old", cached),
			slog.Uint64("new", fetched),
		)
	}
	s.SetNonce(fetched)
	return fetched, nil
}

// Advance moves the session nonce forward by one. It must only be called
// after the node accepted a submission.
func (q *Sequencer) Advance(s *session.Session) uint64 {
	n, ok := s.IncrementNonce()
	if !ok {
		return 0
	}
	if q.reconcile.Every > 0 && s.SinceSync() >= q.reconcile.Every {
		s.MarkResync()
	}
	return n
}

// HandleSubmitError inspects a failed submission and schedules a resync when
// the node rejected the transaction for its nonce. It reports whether a
// resync was scheduled.
func (q *Sequencer) HandleSubmitError(s *session.Session, err error) bool {
	if !q.reconcile.OnNonceError || !rpc.IsNonceError(err) {
		return false
	}
	s.MarkResync()
	return true
}
