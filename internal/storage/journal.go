package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gateway-fm/txdriver/internal/driver"
	"github.com/gateway-fm/txdriver/pkg/types"
)

// DefaultJournalLimit caps the entries buffered for one run.
const DefaultJournalLimit = 200_000

// Journal buffers one entry per finished iteration and writes them in bulk
// when the run ends, so workers never wait on the database. It implements
// driver.Observer.
type Journal struct {
	runID string
	limit int

	mu      sync.Mutex
	entries []types.Submission
	dropped atomic.Int64
}

var _ driver.Observer = (*Journal)(nil)

// NewJournal creates a journal for runID. A non-positive limit uses DefaultJournalLimit.
func NewJournal(runID string, limit int) *Journal {
	if limit <= 0 {
		limit = DefaultJournalLimit
	}
	return &Journal{runID: runID, limit: limit}
}

// ObserveIteration buffers the outcome. Interrupted iterations and
// iterations that never resolved an account are not journaled.
func (j *Journal) ObserveIteration(o driver.Outcome) {
	if o.Interrupted() || o.Kind == driver.KindAccountNotFound {
		return
	}

	sub := types.Submission{
		RunID:       j.runID,
		WorkerIndex: o.WorkerIndex,
		Address:     o.Address.Hex(),
		Nonce:       o.Nonce,
		Type:        o.Type,
		Attempts:    o.Attempts,
		LatencyMs:   float64(o.SubmitLatency.Microseconds()) / 1000,
		CreatedAt:   o.StartedAt,
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	if o.Succeeded() {
		sub.Status = "submitted"
		sub.TxHash = o.TxHash.Hex()
	} else {
		sub.Status = string(o.Kind)
		sub.Error = o.Err.Error()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.entries) >= j.limit {
		j.dropped.Add(1)
		return
	}
	j.entries = append(j.entries, sub)
}

// Len returns the number of buffered entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Dropped returns how many entries were discarded after the limit was reached.
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

// Flush writes the buffered entries and clears the buffer. On error the
// entries are kept so the caller may retry.
func (j *Journal) Flush(ctx context.Context, store Storage) error {
	j.mu.Lock()
	pending := j.entries
	j.entries = nil
	j.mu.Unlock()

	if err := store.BulkInsertSubmissions(ctx, pending); err != nil {
		j.mu.Lock()
		j.entries = append(pending, j.entries...)
		j.mu.Unlock()
		return err
	}
	return nil
}
