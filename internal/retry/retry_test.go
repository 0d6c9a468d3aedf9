package retry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// attemptLines returns the decoded "Attempt failed" log records.
func attemptLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		if rec["msg"] == "Attempt failed" {
			out = append(out, rec)
		}
	}
	return out
}

func TestDoFailsThenSucceeds(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
		failures    int
	}{
		{name: "first try", maxAttempts: 3, failures: 0},
		{name: "one failure", maxAttempts: 3, failures: 1},
		{name: "two failures", maxAttempts: 3, failures: 2},
		{name: "four of five", maxAttempts: 5, failures: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			calls := 0
			res := Do(context.Background(), Policy{MaxAttempts: tt.maxAttempts}, newTestLogger(&buf), "op",
				func(context.Context) (int, error) {
					calls++
					if calls <= tt.failures {
						return 0, fmt.Errorf("boom %d", calls)
					}
					return 42, nil
				})

			if res.Err != nil {
				t.Fatalf("unexpected error: %v", res.Err)
			}
			if !res.OK() {
				t.Error("OK() = false, want true")
			}
			if res.Value != 42 {
				t.Errorf("Value = %d, want 42", res.Value)
			}
			if calls != tt.failures+1 {
				t.Errorf("calls = %d, want %d", calls, tt.failures+1)
			}
			if res.Attempts != tt.failures+1 {
				t.Errorf("Attempts = %d, want %d", res.Attempts, tt.failures+1)
			}
			if got := len(attemptLines(t, &buf)); got != tt.failures {
				t.Errorf("logged %d attempt failures, want %d", got, tt.failures)
			}
		})
	}
}

func TestDoAlwaysFails(t *testing.T) {
	errFinal := errors.New("final")
	var buf bytes.Buffer
	calls := 0

	res := Do(context.Background(), DefaultPolicy(), newTestLogger(&buf), "send",
		func(context.Context) (string, error) {
			calls++
			if calls == DefaultMaxAttempts {
				return "", errFinal
			}
			return "", fmt.Errorf("attempt %d", calls)
		})

	if calls != DefaultMaxAttempts {
		t.Errorf("calls = %d, want %d", calls, DefaultMaxAttempts)
	}
	if res.Attempts != DefaultMaxAttempts {
		t.Errorf("Attempts = %d, want %d", res.Attempts, DefaultMaxAttempts)
	}
	if !errors.Is(res.Err, errFinal) {
		t.Errorf("error = %v, want wrapping last error", res.Err)
	}
	var exhausted *ExhaustedError
	if !errors.As(res.Err, &exhausted) {
		t.Fatalf("error type = %T, want *ExhaustedError", res.Err)
	}
	if exhausted.Op != "send" {
		t.Errorf("Op = %q, want send", exhausted.Op)
	}
	if res.Value != "" {
		t.Errorf("Value = %q, want zero value", res.Value)
	}

	lines := attemptLines(t, &buf)
	if len(lines) != DefaultMaxAttempts {
		t.Fatalf("logged %d attempt failures, want %d", len(lines), DefaultMaxAttempts)
	}
	for i, rec := range lines {
		if got := rec["attempt"]; got != float64(i+1) {
			t.Errorf("line %d attempt = %v, want %d", i, got, i+1)
		}
		if rec["op"] != "send" {
			t.Errorf("line %d op = %v, want send", i, rec["op"])
		}
		if rec["level"] != "WARN" {
			t.Errorf("line %d level = %v, want WARN", i, rec["level"])
		}
	}
}

func TestDoRetriesBackToBack(t *testing.T) {
	start := time.Now()
	calls := 0
	res := Do(context.Background(), Policy{MaxAttempts: 10}, nil, "op", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	if calls != 10 || res.Attempts != 10 {
		t.Errorf("calls = %d, Attempts = %d, want 10", calls, res.Attempts)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("10 failing attempts took %v, want no delay between attempts", elapsed)
	}
}

func TestDoZeroPolicyRunsOnce(t *testing.T) {
	calls := 0
	res := Do(context.Background(), Policy{}, nil, "op", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if res.Err == nil {
		t.Error("expected error")
	}
}

func TestDoStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	errOp := errors.New("op failed")

	res := Do(ctx, Policy{MaxAttempts: 5}, nil, "op", func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errOp
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", res.Err)
	}
	if !errors.Is(res.Err, errOp) {
		t.Errorf("error = %v, want wrapping op error", res.Err)
	}
}

func TestDoAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	res := Do(ctx, DefaultPolicy(), nil, "op", func(context.Context) (int, error) {
		calls++
		return 1, nil
	})
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", res.Err)
	}
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{name: "default", policy: DefaultPolicy()},
		{name: "single attempt", policy: Policy{MaxAttempts: 1}},
		{name: "zero", policy: Policy{MaxAttempts: 0}, wantErr: true},
		{name: "negative", policy: Policy{MaxAttempts: -2}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("error = %v, want ErrInvalidPolicy", err)
			}
		})
	}
}

func TestResultUnwrap(t *testing.T) {
	res := Do(context.Background(), DefaultPolicy(), nil, "op", func(context.Context) (uint64, error) {
		return 7, nil
	})
	v, err := res.Unwrap()
	if err != nil || v != 7 {
		t.Errorf("Unwrap() = (%d, %v), want (7, nil)", v, err)
	}
}
