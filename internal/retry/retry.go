// Package retry runs network operations under a bounded, delay-free retry policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	opretry "github.com/ethereum-optimism/optimism/op-service/retry"
)

// DefaultMaxAttempts is the number of attempts made when no policy is configured.
const DefaultMaxAttempts = 3

// noDelay re-runs a failed operation immediately.
var noDelay = opretry.Fixed(0)

// ErrInvalidPolicy is returned by Policy.Validate for unusable policies.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// Policy bounds how many times an operation is attempted.
// Attempts run back to back with no delay between them.
type Policy struct {
	MaxAttempts int `yaml:"max_attempts" json:"maxAttempts"`
}

// DefaultPolicy returns a policy of DefaultMaxAttempts attempts.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts}
}

// Validate checks that the policy allows at least one attempt.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be >= 1, got %d", ErrInvalidPolicy, p.MaxAttempts)
	}
	return nil
}

// Result is the outcome of a retried operation.
type Result[T any] struct {
	Value    T
	Attempts int
	Err      error
}

// OK reports whether the operation eventually succeeded.
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Unwrap returns the value and error, for call sites that prefer the two-value form.
func (r Result[T]) Unwrap() (T, error) {
	return r.Value, r.Err
}

// ExhaustedError is returned when every attempt failed. It wraps the last error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Do invokes fn up to policy.MaxAttempts times, stopping at the first success.
// Each failed attempt is logged at warn level with its attempt number. The
// operation is re-run in full every time, so it must be safe to repeat.
// If ctx is done before an attempt starts, no further attempts are made and
// the context error is joined with the last operation error.
func Do[T any](ctx context.Context, policy Policy, logger *slog.Logger, op string, fn func(context.Context) (T, error)) Result[T] {
	if logger == nil {
		logger = slog.Default()
	}
	maxAttempts := max(policy.MaxAttempts, 1)

	var (
		attempts int
		lastErr  error
	)
	v, err := opretry.Do(ctx, maxAttempts, noDelay, func() (T, error) {
		attempts++
		v, err := fn(ctx)
		if err != nil {
			lastErr = err
			logger.Warn("Attempt failed",
				slog.String("op", op),
				slog.Int("attempt", attempts),
				slog.Int("max_attempts", maxAttempts),
				slog.String("error", err.Error()),
			)
		}
		return v, err
	})
	if err == nil {
		return Result[T]{Value: v, Attempts: attempts}
	}

	var zero T
	var failed *opretry.ErrFailedPermanently
	switch {
	case errors.As(err, &failed):
		return Result[T]{Value: zero, Attempts: attempts, Err: &ExhaustedError{Op: op, Attempts: attempts, Last: failed.LastErr}}
	case lastErr != nil:
		// Cancelled between attempts.
		return Result[T]{
			Value:    zero,
			Attempts: attempts,
			Err:      errors.Join(err, &ExhaustedError{Op: op, Attempts: attempts, Last: lastErr}),
		}
	default:
		return Result[T]{Value: zero, Attempts: attempts, Err: err}
	}
}
