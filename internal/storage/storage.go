// Package storage persists run history and the submission journal.
package storage

import (
	"context"
	"errors"

	"github.com/gateway-fm/txdriver/pkg/types"
)

// ErrNotFound is returned when a run or submission does not exist.
var ErrNotFound = errors.New("not found")

// Storage defines the persistence interface for runs.
type Storage interface {
	// Run lifecycle
	CreateRun(ctx context.Context, run *types.RunResult) error
	CompleteRun(ctx context.Context, run *types.RunResult) error
	GetRun(ctx context.Context, id string) (*types.RunResult, error)

	// History
	ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error)
	DeleteRun(ctx context.Context, id string) error

	// Per-second samples, written after a run completes
	BulkInsertTimeSeries(ctx context.Context, runID string, points []TimeSeriesPoint) error
	GetTimeSeries(ctx context.Context, runID string) ([]TimeSeriesPoint, error)

	// Submission journal
	BulkInsertSubmissions(ctx context.Context, subs []types.Submission) error
	GetSubmissions(ctx context.Context, runID string, limit, offset int) (*PaginatedSubmissions, error)
	GetSubmissionByHash(ctx context.Context, txHash string) (*types.Submission, error)

	Close() error
}
