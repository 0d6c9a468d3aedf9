package driver

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	ptypes "github.com/gateway-fm/txdriver/pkg/types"
)

// State is a step of a single iteration.
type State int

const (
	StateStart State = iota
	StateAccountResolved
	StateSessionReady
	StateNonceReady
	StateTargetChosen
	StateIntentBuilt
	StateSubmitted
	StateDone
)

var stateNames = [...]string{
	StateStart:           "start",
	StateAccountResolved: "account_resolved",
	StateSessionReady:    "session_ready",
	StateNonceReady:      "nonce_ready",
	StateTargetChosen:    "target_chosen",
	StateIntentBuilt:     "intent_built",
	StateSubmitted:       "submitted",
	StateDone:            "done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// ErrorKind classifies why an iteration ended without a submission.
type ErrorKind string

const (
	KindNone                     ErrorKind = ""
	KindAccountNotFound          ErrorKind = "account_not_found"
	KindClientConstructionFailed ErrorKind = "client_construction_failed"
	KindNonceFetchFailed         ErrorKind = "nonce_fetch_failed"
	KindFeeFetchFailed           ErrorKind = "fee_fetch_failed"
	KindBuildValidationFailed    ErrorKind = "build_validation_failed"
	KindSubmissionFailed         ErrorKind = "submission_failed"
)

// AllKinds lists every failure kind, in pipeline order.
var AllKinds = []ErrorKind{
	KindAccountNotFound,
	KindClientConstructionFailed,
	KindNonceFetchFailed,
	KindFeeFetchFailed,
	KindBuildValidationFailed,
	KindSubmissionFailed,
}

// IterationError is the error carried by a failed Outcome.
type IterationError struct {
	Kind  ErrorKind
	State State // last state reached before the failure
	Err   error
}

func (e *IterationError) Error() string {
	return fmt.Sprintf("%s after %s: %v", e.Kind, e.State, e.Err)
}

func (e *IterationError) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind of err, or KindNone if err is not an IterationError.
func KindOf(err error) ErrorKind {
	var ie *IterationError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindNone
}

// Outcome describes one finished iteration. A failed iteration has Kind set
// and no TxHash.
type Outcome struct {
	WorkerIndex int
	Address     common.Address
	Type        ptypes.TransactionType
	Trace       []State // states entered, always ending with StateDone
	Kind        ErrorKind
	Err         error
	TxHash      common.Hash
	Nonce       uint64
	TokenID     *big.Int
	Attempts    int // submission attempts
	StartedAt   time.Time
	// SubmitLatency covers all submission attempts.
	SubmitLatency time.Duration
	Duration      time.Duration
}

// Succeeded reports whether the iteration submitted a transaction.
func (o Outcome) Succeeded() bool {
	return o.Kind == KindNone && o.Err == nil
}

// Interrupted reports whether the iteration failed because its context ended.
// The harness stops workers this way, so such failures are not load errors.
func (o Outcome) Interrupted() bool {
	return o.Err != nil && (errors.Is(o.Err, context.Canceled) || errors.Is(o.Err, context.DeadlineExceeded))
}

// Reached returns the last state entered before StateDone.
func (o Outcome) Reached() State {
	for i := len(o.Trace) - 1; i >= 0; i-- {
		if o.Trace[i] != StateDone {
			return o.Trace[i]
		}
	}
	return StateStart
}

// Observer receives every finished iteration. Implementations must be safe
// for concurrent use; each worker calls it from its own goroutine.
type Observer interface {
	ObserveIteration(Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Outcome)

func (f ObserverFunc) ObserveIteration(o Outcome) { f(o) }

// Observers fans an outcome out to several observers in order.
type Observers []Observer

func (os Observers) ObserveIteration(o Outcome) {
	for _, obs := range os {
		if obs != nil {
			obs.ObserveIteration(o)
		}
	}
}
