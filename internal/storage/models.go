package storage

import "github.com/gateway-fm/txdriver/pkg/types"

// TimeSeriesPoint is one per-second sample of a run.
type TimeSeriesPoint struct {
	TimestampMs int64   `json:"timestampMs"`
	Iterations  uint64  `json:"iterations"`
	Submitted   uint64  `json:"submitted"`
	Failed      uint64  `json:"failed"`
	CurrentTPS  float64 `json:"currentTps"`
	TargetTPS   float64 `json:"targetTps"`
}

// PaginatedRuns is a page of run history, newest first.
type PaginatedRuns struct {
	Runs   []types.RunResult `json:"runs"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// PaginatedSubmissions is a page of a run's submission journal.
type PaginatedSubmissions struct {
	Submissions []types.Submission `json:"submissions"`
	Total       int                `json:"total"`
	Limit       int                `json:"limit"`
	Offset      int                `json:"offset"`
}
