// Package session holds the per-worker state reused across iterations: the
// lazily dialed network client, the locally cached nonce and the token id.
//
// A Session is owned by exactly one worker and is never shared, so it carries
// no locks. Callers must not use it from more than one goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/gateway-fm/txdriver/internal/account"
	"github.com/gateway-fm/txdriver/internal/chain"
)

// DefaultStartTokenID is the first multi-token id a worker transfers.
var DefaultStartTokenID = big.NewInt(1)

// Options configures a new Session.
type Options struct {
	// DialTimeout bounds client construction. Zero means no extra bound.
	DialTimeout time.Duration
	// StartTokenID is the first token id. Nil uses DefaultStartTokenID.
	StartTokenID *big.Int
}

// Session is a worker's cached state.
type Session struct {
	WorkerIndex int
	Account     *account.Account

	dial        chain.Dialer
	dialTimeout time.Duration
	client      chain.Client

	nonce     uint64
	nonceSet  bool
	resyncDue bool
	sinceSync uint64
	tokenID   *big.Int
	dials     int
}

// New creates a session for the worker. The client is not dialed until
// Client is first called, and the nonce starts unset.
func New(workerIndex int, acc *account.Account, dial chain.Dialer, opts Options) *Session {
	start := opts.StartTokenID
	if start == nil {
		start = DefaultStartTokenID
	}
	return &Session{
		WorkerIndex: workerIndex,
		Account:     acc,
		dial:        dial,
		dialTimeout: opts.DialTimeout,
		tokenID:     new(big.Int).Set(start),
	}
}

// Client returns the cached client, dialing it on first use. Dialing is not
// retried: on failure the session keeps no client and the next call dials again.
func (s *Session) Client(ctx context.Context) (chain.Client, error) {
	if s.client != nil {
		return s.client, nil
	}
	if s.dial == nil {
		return nil, errors.New("session has no dialer")
	}

	dialCtx := ctx
	if s.dialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.dialTimeout)
		defer cancel()
	}

	s.dials++
	c, err := s.dial(dialCtx, s.Account.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("dial client for %s: %w", s.Account.Address.Hex(), err)
	}
	s.client = c
	return c, nil
}

// HasClient reports whether a client has been constructed.
func (s *Session) HasClient() bool {
	return s.client != nil
}

// Dials returns how many times client construction was attempted.
func (s *Session) Dials() int {
	return s.dials
}

// Nonce returns the cached nonce and whether it has been resolved.
func (s *Session) Nonce() (uint64, bool) {
	return s.nonce, s.nonceSet
}

// SetNonce stores a resolved nonce and clears any pending resync.
func (s *Session) SetNonce(n uint64) {
	s.nonce = n
	s.nonceSet = true
	s.resyncDue = false
	s.sinceSync = 0
}

// IncrementNonce adds one to the cached nonce and returns the new value.
// It returns false if the nonce was never resolved.
func (s *Session) IncrementNonce() (uint64, bool) {
	if !s.nonceSet {
		return 0, false
	}
	s.nonce++
	s.sinceSync++
	return s.nonce, true
}

// SinceSync returns the number of increments since the nonce was last fetched.
func (s *Session) SinceSync() uint64 {
	return s.sinceSync
}

// MarkResync requests that the next nonce read consults the network again.
func (s *Session) MarkResync() {
	s.resyncDue = true
}

// ResyncDue reports whether a resync was requested.
func (s *Session) ResyncDue() bool {
	return s.resyncDue
}

// TokenID returns a copy of the current multi-token id.
func (s *Session) TokenID() *big.Int {
	return new(big.Int).Set(s.tokenID)
}

// AdvanceTokenID moves to the next token id.
func (s *Session) AdvanceTokenID() {
	s.tokenID.Add(s.tokenID, big.NewInt(1))
}

// Close releases the client, if any.
func (s *Session) Close() {
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
}
